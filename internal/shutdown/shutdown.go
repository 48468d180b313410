package shutdown

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Latch is the process-wide shutdown. The first InvokeShutdown wins: it
// records the message, runs the registered hooks in reverse order and
// cancels the root context. It cannot be reset.
type Latch struct {
	cancel context.CancelFunc
	log    zerolog.Logger

	mu     sync.Mutex
	fired  bool
	reason string
	hooks  []func()
	done   chan struct{}
}

func New(cancel context.CancelFunc, log zerolog.Logger) *Latch {
	return &Latch{cancel: cancel, log: log, done: make(chan struct{})}
}

// OnShutdown registers fn to run when the latch fires. Hooks registered after
// that run immediately.
func (l *Latch) OnShutdown(fn func()) {
	l.mu.Lock()
	if !l.fired {
		l.hooks = append(l.hooks, fn)
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	fn()
}

// InvokeShutdown implements tec.Shutdowner.
func (l *Latch) InvokeShutdown(msg string) {
	l.mu.Lock()
	if l.fired {
		l.mu.Unlock()
		l.log.Debug().Str("reason", msg).Msg("shutdown already latched")
		return
	}
	l.fired = true
	l.reason = msg
	hooks := l.hooks
	l.hooks = nil
	l.mu.Unlock()

	l.log.Error().Str("reason", msg).Msg("shutdown")
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
	if l.cancel != nil {
		l.cancel()
	}
	close(l.done)
}

// Reason returns the first shutdown message and whether the latch fired.
func (l *Latch) Reason() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reason, l.fired
}

// Done is closed once the shutdown hooks have run.
func (l *Latch) Done() <-chan struct{} { return l.done }
