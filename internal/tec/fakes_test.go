package tec

import (
	"errors"
	"sync"
)

type fakeSensor struct {
	mu  sync.Mutex
	v   float64
	err error
}

func (f *fakeSensor) Temperature(float64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.v, f.err
}

func (f *fakeSensor) set(v float64) {
	f.mu.Lock()
	f.v = v
	f.mu.Unlock()
}

type dutyWrite struct {
	at   float64
	duty float64
}

type fakeActuator struct {
	mu     sync.Mutex
	offset float64
	writes []dutyWrite
	err    error
}

func (f *fakeActuator) EstimatedPrintTime(eventtime float64) float64 {
	return eventtime + f.offset
}

func (f *fakeActuator) SetDuty(at, duty float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, dutyWrite{at: at, duty: duty})
	return nil
}

func (f *fakeActuator) last() (dutyWrite, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return dutyWrite{}, false
	}
	return f.writes[len(f.writes)-1], true
}

func (f *fakeActuator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

type fakeShutdown struct {
	mu   sync.Mutex
	msgs []string
}

func (f *fakeShutdown) InvokeShutdown(msg string) {
	f.mu.Lock()
	f.msgs = append(f.msgs, msg)
	f.mu.Unlock()
}

type recordingObserver struct {
	mu  sync.Mutex
	got []Status
}

func (r *recordingObserver) Observe(st Status) {
	r.mu.Lock()
	r.got = append(r.got, st)
	r.mu.Unlock()
}

var errSensor = errors.New("sensor offline")

type harness struct {
	ctrl *Controller
	cold *fakeSensor
	hot  *fakeSensor
	act  *fakeActuator
	sd   *fakeShutdown
}

func newHarness(cfg Config, cold, hot float64) (*harness, error) {
	h := &harness{
		cold: &fakeSensor{v: cold},
		hot:  &fakeSensor{v: hot},
		act:  &fakeActuator{},
		sd:   &fakeShutdown{},
	}
	c, err := NewController(cfg, Deps{Actuator: h.act, Shutdown: h.sd, Jitter: FixedJitter(0)})
	if err != nil {
		return nil, err
	}
	if err := c.OnConnect(h.cold, h.hot); err != nil {
		return nil, err
	}
	h.ctrl = c
	return h, nil
}
