package tec

import (
	"fmt"
	"strings"
)

// PollInterval is the fixed sampling cadence in seconds.
const PollInterval = 0.25

// ReadyDelay is how long after OnReady the first cycle fires.
const ReadyDelay = 1.0

// initialMeasuredTemp seeds the derivative-on-measurement history.
const initialMeasuredTemp = 25.0

// Strategy selects the control algorithm of a controller.
type Strategy int

const (
	Watermark Strategy = iota
	PID
)

func (s Strategy) String() string {
	switch s {
	case Watermark:
		return "watermark"
	case PID:
		return "pid"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy maps a config key to a Strategy. Empty selects Watermark.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "watermark":
		return Watermark, nil
	case "pid":
		return PID, nil
	default:
		return 0, fmt.Errorf("unknown control strategy %q (want watermark or pid)", s)
	}
}

// Config is the immutable parameter set of one controller instance.
// Temperatures are degrees C, times are seconds.
type Config struct {
	Name string

	MinTempCold   float64
	MaxTempCold   float64
	MinTempHot    float64
	MaxTempHot    float64
	HotSideSafety float64
	MaxDeviation  float64

	DewPointSafety float64
	DewPointRange  int
	DewPointBase   float64

	TargetTemp  float64
	EnableDelay float64
	MaxPWM      float64
	SmoothTime  float64

	Kp float64
	Ki float64
	Kd float64

	Strategy Strategy
}

// DefaultConfig returns the stock parameters for a named instance.
func DefaultConfig(name string) Config {
	return Config{
		Name:           name,
		MinTempCold:    20,
		MaxTempCold:    80,
		MinTempHot:     20,
		MaxTempHot:     80,
		HotSideSafety:  10,
		MaxDeviation:   60,
		DewPointSafety: 5,
		DewPointRange:  10,
		DewPointBase:   30,
		TargetTemp:     50,
		EnableDelay:    120,
		MaxPWM:         1,
		SmoothTime:     1,
		Kp:             1,
		Ki:             1,
		Kd:             1,
		Strategy:       Watermark,
	}
}

// Validate reports the first parameter that cannot be used to build a controller.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if c.MinTempCold > c.MaxTempCold {
		return fmt.Errorf("min_temp_cold_side must be <= max_temp_cold_side")
	}
	if c.MinTempHot > c.MaxTempHot {
		return fmt.Errorf("min_temp_hot_side must be <= max_temp_hot_side")
	}
	if c.HotSideSafety < 0 {
		return fmt.Errorf("hot_side_safety must be >= 0")
	}
	if c.MaxDeviation < 0 {
		return fmt.Errorf("max_deviation must be >= 0")
	}
	if c.DewPointRange < 0 {
		return fmt.Errorf("dew_point_range must be >= 0")
	}
	if c.EnableDelay < 0 {
		return fmt.Errorf("enable_delay must be >= 0")
	}
	if c.MaxPWM < 0 || c.MaxPWM > 1 {
		return fmt.Errorf("max_pwm must be in [0,1]")
	}
	if c.SmoothTime <= 0 {
		return fmt.Errorf("smooth_time must be > 0")
	}
	if c.Kp < 0 || c.Ki < 0 || c.Kd < 0 {
		return fmt.Errorf("pid gains must be >= 0")
	}
	if c.Strategy != Watermark && c.Strategy != PID {
		return fmt.Errorf("unknown control strategy %s", c.Strategy)
	}
	return nil
}

// hotLimit is the hot-side temperature at which actuation is suppressed.
// It is derived from the cold-side maximum.
func (c Config) hotLimit() float64 {
	return c.MaxTempCold - c.HotSideSafety
}
