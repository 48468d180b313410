package tec

import "math"

// pidController is a PID loop on the cold-side temperature with
// trapezoidal integration, smoothed derivative-on-measurement and
// conditional integration.
//
// Its output is inverted before reaching the actuator: a large positive
// output (cold side below target) means less cooling.
//
// Not safe for concurrent use.
type pidController struct {
	cfg Config

	prevError      float64
	prevDerivative float64
	integral       float64
	prevTemp       float64
	prevTime       float64
}

func newPIDController(cfg Config) *pidController {
	return &pidController{cfg: cfg, prevTemp: initialMeasuredTemp}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func (p *pidController) update(s step) float64 {
	err := s.target - s.cold
	dt := s.printTime - p.prevTime

	// A stalled or backwards clock contributes nothing to the integral and
	// leaves the derivative where it was.
	var ic float64
	dc := p.prevDerivative
	if dt > 0 {
		ic = (p.prevError + err) / 2.0 * dt
		n := math.Max(1.0, p.cfg.SmoothTime/dt)
		raw := -(s.cold - p.prevTemp) / dt
		dc = ((n-1.0)*p.prevDerivative + raw) / n
	}
	i := p.integral + ic

	o := p.cfg.Kp*err + p.cfg.Ki*i + p.cfg.Kd*dc
	so := clamp(o, 0, p.cfg.MaxPWM)

	duty := p.cfg.MaxPWM - so
	safe := s.hot < p.cfg.hotLimit() && s.enabled
	if !safe {
		duty = 0
	}

	p.prevTemp = s.cold
	p.prevTime = s.printTime
	p.prevDerivative = dc

	if !safe {
		p.prevError = 0
		p.integral = 0
		return duty
	}
	p.prevError = err
	if o == so || sign(o) != sign(ic) {
		p.integral = i
	}
	return duty
}
