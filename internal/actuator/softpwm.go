package actuator

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// lineSetter is the part of a GPIO line the software PWM needs.
type lineSetter interface {
	SetValue(v int) error
	Close() error
}

// softPWM toggles a digital line to approximate a duty cycle. Duty 0 and 1
// hold the line steady, which is all the watermark strategy ever asks for.
type softPWM struct {
	line lineSetter

	mu     sync.Mutex
	period time.Duration
	duty   float64
	err    error

	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newSoftPWM(line lineSetter) *softPWM {
	p := &softPWM{
		line:   line,
		period: DefaultCycleTime,
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run()
	}()
	return p
}

func (p *softPWM) SetPeriod(period time.Duration) error {
	if period <= 0 {
		return fmt.Errorf("actuator: invalid period %s", period)
	}
	p.mu.Lock()
	p.period = period
	p.mu.Unlock()
	p.poke()
	return nil
}

func (p *softPWM) SetDuty(fraction float64) error {
	fraction = math.Max(0, math.Min(1, fraction))
	p.mu.Lock()
	p.duty = fraction
	err := p.err
	p.err = nil
	p.mu.Unlock()
	p.poke()
	return err
}

func (p *softPWM) Close() error {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	err := p.line.SetValue(0)
	if cerr := p.line.Close(); err == nil {
		err = cerr
	}
	return err
}

func (p *softPWM) poke() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *softPWM) set(v int) {
	if err := p.line.SetValue(v); err != nil {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
	}
}

func (p *softPWM) run() {
	for {
		p.mu.Lock()
		duty, period := p.duty, p.period
		p.mu.Unlock()

		if duty <= 0 || duty >= 1 {
			v := 0
			if duty >= 1 {
				v = 1
			}
			p.set(v)
			select {
			case <-p.stopCh:
				return
			case <-p.wake:
			}
			continue
		}

		on := time.Duration(float64(period) * duty)
		p.set(1)
		if !p.sleep(on) {
			return
		}
		p.set(0)
		if !p.sleep(period - on) {
			return
		}
	}
}

// sleep returns false once the PWM is stopped. A wake-up cuts the current
// phase short so new duty takes effect within one period.
func (p *softPWM) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.stopCh:
		return false
	case <-p.wake:
		return true
	case <-t.C:
		return true
	}
}
