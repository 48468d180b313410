package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"tecctl/internal/sim"
	"tecctl/internal/tec"
)

type Config struct {
	Web       WebConfig       `yaml:"web" toml:"web"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
	Log       LogConfig       `yaml:"log" toml:"log"`
	Sim       SimConfig       `yaml:"sim" toml:"sim"`
	TECs      []TECConfig     `yaml:"tecs" toml:"tecs"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable" toml:"enable"`
	Listen string `yaml:"listen" toml:"listen"`
}

type TelemetryConfig struct {
	Enable bool   `yaml:"enable" toml:"enable"`
	Dest   string `yaml:"dest" toml:"dest"`
}

type LogConfig struct {
	// Level is overridden by TECCTL_LOG_LEVEL.
	Level string `yaml:"level" toml:"level"`
}

// SimConfig shapes the plant behind every backend: sim instance.
type SimConfig struct {
	sim.PlantParams `yaml:",inline"`

	// Scenario is an optional room profile script (yaml).
	Scenario string `yaml:"scenario" toml:"scenario"`
}

const (
	BackendHardware = "hardware"
	BackendSim      = "sim"
)

type SensorConfig struct {
	Type string `yaml:"type" toml:"type"`
	// Path is the sysfs file for thermal sensors.
	Path string `yaml:"path" toml:"path"`
	// Bus and Addr locate a bmp280.
	Bus  string `yaml:"bus" toml:"bus"`
	Addr int    `yaml:"addr" toml:"addr"`

	Interval time.Duration `yaml:"interval" toml:"interval"`
	MaxAge   time.Duration `yaml:"max_age" toml:"max_age"`
}

// TECConfig is one controller instance. Unset numeric fields take the
// controller defaults, so zero stays expressible.
type TECConfig struct {
	Name    string `yaml:"name" toml:"name"`
	Control string `yaml:"control" toml:"control"`

	ColdSensor SensorConfig `yaml:"cold_sensor" toml:"cold_sensor"`
	HotSensor  SensorConfig `yaml:"hot_sensor" toml:"hot_sensor"`

	Backend      string  `yaml:"backend" toml:"backend"`
	PeltierPin   string  `yaml:"peltier_pin" toml:"peltier_pin"`
	PWMCycleTime float64 `yaml:"pwm_cycle_time" toml:"pwm_cycle_time"`
	HardwarePWM  bool    `yaml:"hardware_pwm" toml:"hardware_pwm"`

	MinTempCold    *float64 `yaml:"min_temp_cold_side" toml:"min_temp_cold_side"`
	MaxTempCold    *float64 `yaml:"max_temp_cold_side" toml:"max_temp_cold_side"`
	MinTempHot     *float64 `yaml:"min_temp_hot_side" toml:"min_temp_hot_side"`
	MaxTempHot     *float64 `yaml:"max_temp_hot_side" toml:"max_temp_hot_side"`
	HotSideSafety  *float64 `yaml:"hot_side_safety" toml:"hot_side_safety"`
	MaxDeviation   *float64 `yaml:"max_deviation" toml:"max_deviation"`
	DewPointSafety *float64 `yaml:"dew_point_safety" toml:"dew_point_safety"`
	DewPointRange  *int     `yaml:"dew_point_range" toml:"dew_point_range"`
	DewPointBase   *float64 `yaml:"dew_point_base" toml:"dew_point_base"`
	TargetTemp     *float64 `yaml:"target_temp" toml:"target_temp"`
	EnableDelay    *float64 `yaml:"enable_delay" toml:"enable_delay"`
	MaxPWM         *float64 `yaml:"max_pwm" toml:"max_pwm"`
	SmoothTime     *float64 `yaml:"smooth_time" toml:"smooth_time"`
	PIDKp          *float64 `yaml:"pid_kp" toml:"pid_kp"`
	PIDKi          *float64 `yaml:"pid_ki" toml:"pid_ki"`
	PIDKd          *float64 `yaml:"pid_kd" toml:"pid_kd"`
}

const (
	defaultListen       = ":8080"
	defaultPWMCycleTime = 0.0004
	maxPWMCycleTime     = 0.25
	defaultI2CBus       = "/dev/i2c-1"
	defaultBMP280Addr   = 0x76
	defaultSensorPoll   = 100 * time.Millisecond
	defaultSensorMaxAge = time.Second
)

// Load reads a YAML or TOML file (picked by extension) and applies defaults.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{Sim: SimConfig{PlantParams: sim.DefaultPlantParams()}}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(b), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills defaults in place and reports the first problem.
func DefaultAndValidate(cfg *Config) error {
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = defaultListen
	}
	if cfg.Telemetry.Enable && strings.TrimSpace(cfg.Telemetry.Dest) == "" {
		return fmt.Errorf("telemetry.dest is required when telemetry.enable is true")
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if err := cfg.Sim.Validate(); err != nil {
		return err
	}
	if cfg.Sim.Scenario != "" {
		if _, err := sim.LoadScenario(cfg.Sim.Scenario); err != nil {
			return fmt.Errorf("sim.scenario: %w", err)
		}
	}

	if len(cfg.TECs) == 0 {
		return fmt.Errorf("tecs: at least one instance is required")
	}
	seen := map[string]bool{}
	for i := range cfg.TECs {
		t := &cfg.TECs[i]
		key := fmt.Sprintf("tecs[%d]", i)

		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" {
			return fmt.Errorf("%s.name is required", key)
		}
		if seen[t.Name] {
			return fmt.Errorf("%s.name %q is duplicated", key, t.Name)
		}
		seen[t.Name] = true

		if err := t.defaultAndValidate(key); err != nil {
			return err
		}
	}
	return nil
}

func (t *TECConfig) defaultAndValidate(key string) error {
	t.Backend = strings.ToLower(strings.TrimSpace(t.Backend))
	if t.Backend == "" {
		t.Backend = BackendHardware
	}
	switch t.Backend {
	case BackendHardware:
		if strings.TrimSpace(t.PeltierPin) == "" {
			return fmt.Errorf("%s.peltier_pin is required", key)
		}
	case BackendSim:
	default:
		return fmt.Errorf("%s.backend must be hardware or sim", key)
	}

	if t.PWMCycleTime == 0 {
		t.PWMCycleTime = defaultPWMCycleTime
	}
	if t.PWMCycleTime <= 0 || t.PWMCycleTime > maxPWMCycleTime {
		return fmt.Errorf("%s.pwm_cycle_time must be in (0,%v]", key, maxPWMCycleTime)
	}

	if err := t.ColdSensor.defaultAndValidate(key+".cold_sensor", t.Backend); err != nil {
		return err
	}
	if err := t.HotSensor.defaultAndValidate(key+".hot_sensor", t.Backend); err != nil {
		return err
	}

	if _, err := t.ControllerConfig(); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

func (s *SensorConfig) defaultAndValidate(key, backend string) error {
	s.Type = strings.ToLower(strings.TrimSpace(s.Type))
	if s.Type == "" && backend == BackendSim {
		s.Type = "sim"
	}
	switch s.Type {
	case "":
		return fmt.Errorf("%s.type is required", key)
	case "thermal", "hwmon":
		if strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("%s.path is required for %s sensors", key, s.Type)
		}
	case "bmp280":
		if s.Bus == "" {
			s.Bus = defaultI2CBus
		}
		if s.Addr == 0 {
			s.Addr = defaultBMP280Addr
		}
		if s.Addr < 0x03 || s.Addr > 0x77 {
			return fmt.Errorf("%s.addr 0x%X is not a 7-bit i2c address", key, s.Addr)
		}
	case "sim":
		if backend != BackendSim {
			return fmt.Errorf("%s: sim sensors need backend: sim", key)
		}
	default:
		return fmt.Errorf("%s.type %q is unknown (want thermal, hwmon, bmp280 or sim)", key, s.Type)
	}
	if s.Interval <= 0 {
		s.Interval = defaultSensorPoll
	}
	if s.MaxAge <= 0 {
		s.MaxAge = defaultSensorMaxAge
	}
	if s.MaxAge < s.Interval {
		return fmt.Errorf("%s.max_age must be >= interval", key)
	}
	return nil
}

// ControllerConfig merges the overrides onto the controller defaults and
// validates the result.
func (t TECConfig) ControllerConfig() (tec.Config, error) {
	c := tec.DefaultConfig(t.Name)
	strategy, err := tec.ParseStrategy(t.Control)
	if err != nil {
		return tec.Config{}, err
	}
	c.Strategy = strategy

	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&c.MinTempCold, t.MinTempCold)
	set(&c.MaxTempCold, t.MaxTempCold)
	set(&c.MinTempHot, t.MinTempHot)
	set(&c.MaxTempHot, t.MaxTempHot)
	set(&c.HotSideSafety, t.HotSideSafety)
	set(&c.MaxDeviation, t.MaxDeviation)
	set(&c.DewPointSafety, t.DewPointSafety)
	set(&c.DewPointBase, t.DewPointBase)
	set(&c.TargetTemp, t.TargetTemp)
	set(&c.EnableDelay, t.EnableDelay)
	set(&c.MaxPWM, t.MaxPWM)
	set(&c.SmoothTime, t.SmoothTime)
	set(&c.Kp, t.PIDKp)
	set(&c.Ki, t.PIDKi)
	set(&c.Kd, t.PIDKd)
	if t.DewPointRange != nil {
		c.DewPointRange = *t.DewPointRange
	}

	if err := c.Validate(); err != nil {
		return tec.Config{}, err
	}
	return c, nil
}

// CycleTime is pwm_cycle_time as a duration.
func (t TECConfig) CycleTime() time.Duration {
	return time.Duration(t.PWMCycleTime * float64(time.Second))
}
