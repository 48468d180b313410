package actuator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var nowFn = time.Now

// Snapshot is the actuator state exposed on the status API.
type Snapshot struct {
	Duty        float64   `json:"duty"`
	Expired     bool      `json:"expired"`
	Expirations uint64    `json:"expirations"`
	LastSetAt   time.Time `json:"last_set_utc,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// PWM wraps a Driver with the command-expiry rule: a duty that is not
// refreshed within maxDuration is forced to zero.
//
// PWM drives local hardware, so its clock is the host clock and
// EstimatedPrintTime is the identity.
type PWM struct {
	drv         Driver
	maxDuration time.Duration
	log         zerolog.Logger

	mu   sync.Mutex
	snap Snapshot

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewPWM(drv Driver, maxDuration time.Duration, log zerolog.Logger) (*PWM, error) {
	if drv == nil {
		return nil, fmt.Errorf("actuator: driver is nil")
	}
	if maxDuration <= 0 {
		maxDuration = MaxDuration
	}
	return &PWM{drv: drv, maxDuration: maxDuration, log: log, stopCh: make(chan struct{})}, nil
}

func (p *PWM) EstimatedPrintTime(eventtime float64) float64 {
	return eventtime
}

// SetDuty applies fraction immediately and refreshes the expiry deadline.
func (p *PWM) SetDuty(printTime, fraction float64) error {
	if fraction < 0 || fraction > 1 {
		return fmt.Errorf("actuator: duty %v out of range [0,1]", fraction)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.stopCh:
		return fmt.Errorf("actuator: closed")
	default:
	}
	if err := p.drv.SetDuty(fraction); err != nil {
		p.snap.LastError = err.Error()
		return err
	}
	p.snap.Duty = fraction
	p.snap.Expired = false
	p.snap.LastSetAt = nowFn().UTC()
	p.snap.LastError = ""
	return nil
}

func (p *PWM) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// Start runs the expiry watchdog until ctx is done or Close is called.
func (p *PWM) Start(ctx context.Context) {
	// Check several times per window so one skipped poll never trips it.
	interval := p.maxDuration / 10
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-t.C:
				p.checkExpiry()
			}
		}
	}()
}

func (p *PWM) checkExpiry() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.snap.Duty == 0 || p.snap.Expired || p.snap.LastSetAt.IsZero() {
		return
	}
	if nowFn().Sub(p.snap.LastSetAt) < p.maxDuration {
		return
	}
	p.snap.Expired = true
	p.snap.Expirations++
	if err := p.drv.SetDuty(0); err != nil {
		p.snap.LastError = err.Error()
		p.log.Error().Err(err).Msg("actuator expiry: failed to force duty off")
		return
	}
	p.snap.Duty = 0
	p.log.Warn().Dur("max_duration", p.maxDuration).Msg("actuator command expired, duty forced to 0")
}

// Close stops the watchdog and turns the output off. Later calls are no-ops.
func (p *PWM) Close() error {
	var err error
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.wg.Wait()

		p.mu.Lock()
		defer p.mu.Unlock()
		p.snap.Duty = 0
		err = p.drv.Close()
	})
	return err
}
