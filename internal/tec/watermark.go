package tec

import "math"

// Jitter supplies the random dew-point offset. *rand.Rand satisfies it.
type Jitter interface {
	// Intn returns a value in [0, n).
	Intn(n int) int
}

// FixedJitter always returns the same offset, clamped into range.
type FixedJitter int

func (f FixedJitter) Intn(n int) int {
	v := int(f)
	if v >= n {
		v = n - 1
	}
	if v < 0 {
		v = 0
	}
	return v
}

// step is what a strategy sees on one cycle.
type step struct {
	cold    float64
	hot     float64
	target  float64
	enabled bool
	// printTime is the actuator clock at which the duty takes effect.
	printTime float64
}

// watermarkController switches between off and full duty.
//
// lastDisableTime starts at zero on a clock that starts at zero, so a fresh
// controller stays off for the first EnableDelay seconds after startup.
type watermarkController struct {
	cfg    Config
	jitter Jitter

	lastDuty        float64
	lastDisableTime float64
}

func newWatermark(cfg Config, jitter Jitter) *watermarkController {
	return &watermarkController{cfg: cfg, jitter: jitter}
}

func (w *watermarkController) dewPoint() float64 {
	j := 0
	if w.jitter != nil {
		j = w.jitter.Intn(w.cfg.DewPointRange + 1)
	}
	return w.cfg.DewPointBase + float64(j) + w.cfg.DewPointSafety
}

func effectiveTarget(target, dewPoint float64) float64 {
	return math.Max(target, dewPoint)
}

// update returns the duty to write. write is false while re-enable is held off.
// It does not change state; written records what reached the actuator.
func (w *watermarkController) update(s step) (duty float64, write bool) {
	target := effectiveTarget(s.target, w.dewPoint())

	if w.lastDuty == 0 && s.printTime < w.lastDisableTime+w.cfg.EnableDelay {
		return 0, false
	}
	if s.cold < target || s.hot >= w.cfg.hotLimit() || !s.enabled {
		return 0, true
	}
	return w.cfg.MaxPWM, true
}

// written commits a duty the actuator accepted. Turning off an output that
// was on starts the re-enable delay.
func (w *watermarkController) written(printTime, duty float64) {
	if duty == 0 && w.lastDuty > 0 {
		w.lastDisableTime = printTime
	}
	w.lastDuty = duty
}
