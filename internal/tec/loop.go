package tec

import (
	"context"
	"time"
)

// Clock reports host eventtime in seconds on a monotonic base.
type Clock interface {
	Monotonic() float64
}

// MonotonicClock measures eventtime from the moment it was created.
type MonotonicClock struct {
	start time.Time
}

func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

func (c *MonotonicClock) Monotonic() float64 {
	return time.Since(c.start).Seconds()
}

// afterFn is swapped in tests.
var afterFn = time.After

// Loop drives a Controller on the deadlines it returns. Cycles never overlap
// because the next one is only armed after the previous returned.
type Loop struct {
	ctrl  *Controller
	clock Clock
}

func NewLoop(ctrl *Controller, clock Clock) *Loop {
	if clock == nil {
		clock = NewMonotonicClock()
	}
	return &Loop{ctrl: ctrl, clock: clock}
}

// Run blocks until ctx is done or the controller shuts down. A shutdown is
// reported as the fault error; context cancellation returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	next := l.ctrl.OnReady(l.clock.Monotonic())
	for {
		wait := time.Duration((next - l.clock.Monotonic()) * float64(time.Second))
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-afterFn(wait):
		}
		// Shutdown elsewhere in the process may race with the timer.
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var err error
		next, err = l.ctrl.Cycle(l.clock.Monotonic())
		if err != nil {
			return err
		}
	}
}
