package tec

import (
	"errors"
	"fmt"
	"math"
)

// ErrShutdown is returned by Cycle once the controller has latched a fatal fault.
var ErrShutdown = errors.New("tec: controller is shut down")

// Side identifies which face of the device a fault concerns.
type Side string

const (
	SideCold Side = "cold"
	SideHot  Side = "hot"
	SideBoth Side = "cold/hot"
)

// Bound identifies which limit was crossed.
type Bound string

const (
	BoundMin       Bound = "min"
	BoundMax       Bound = "max"
	BoundDeviation Bound = "deviation"
	BoundSensor    Bound = "sensor"
)

// FaultError is a fatal safety violation. It is never retried.
type FaultError struct {
	Instance string
	Side     Side
	Bound    Bound
	Reason   string
	Cold     float64
	Hot      float64
	Err      error
}

func (e *FaultError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Instance, e.Reason, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Instance, e.Reason)
}

func (e *FaultError) Unwrap() error { return e.Err }

// Monitor evaluates readings against static bounds.
type Monitor struct {
	cfg Config
}

func NewMonitor(cfg Config) Monitor {
	return Monitor{cfg: cfg}
}

// Check returns the first violated bound as a *FaultError, or nil.
//
// The deviation check only fires when the cold side is also under its
// minimum, which the first check already covers. It is kept as written.
func (m Monitor) Check(tc, th float64) error {
	fault := func(side Side, bound Bound, reason string) error {
		return &FaultError{Instance: m.cfg.Name, Side: side, Bound: bound, Reason: reason, Cold: tc, Hot: th}
	}
	switch {
	case tc < m.cfg.MinTempCold:
		return fault(SideCold, BoundMin, "cold side temp too low")
	case tc > m.cfg.MaxTempCold:
		return fault(SideCold, BoundMax, "cold side temp too high")
	case th < m.cfg.MinTempHot:
		return fault(SideHot, BoundMin, "hot side temp too low")
	case th > m.cfg.MaxTempHot:
		return fault(SideHot, BoundMax, "hot side temp too high")
	case math.Abs(tc-th) > m.cfg.MaxDeviation && tc < m.cfg.MinTempCold:
		return fault(SideBoth, BoundDeviation, "deviation too high")
	}
	return nil
}

func sensorFault(instance string, side Side, err error) error {
	return &FaultError{
		Instance: instance,
		Side:     side,
		Bound:    BoundSensor,
		Reason:   fmt.Sprintf("%s side sensor unavailable", side),
		Err:      err,
	}
}
