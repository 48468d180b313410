package tec

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TemperatureSource supplies the most recent temperature in degrees C.
// It must not block.
type TemperatureSource interface {
	Temperature(eventtime float64) (float64, error)
}

// Actuator accepts duty commands on its own clock.
type Actuator interface {
	// EstimatedPrintTime maps host eventtime onto the actuator clock.
	EstimatedPrintTime(eventtime float64) float64
	// SetDuty schedules a duty fraction in [0,1] at printTime.
	SetDuty(printTime, duty float64) error
}

// Shutdowner halts the whole process. It is irreversible.
type Shutdowner interface {
	InvokeShutdown(msg string)
}

// Observer receives a status snapshot after every cycle.
// It is called without the controller lock held.
type Observer interface {
	Observe(st Status)
}

// Deps are the collaborators handed to a controller by its host.
type Deps struct {
	Actuator  Actuator
	Shutdown  Shutdowner
	Jitter    Jitter
	Observers []Observer
	Logger    zerolog.Logger
}

// Status is the externally visible state of a controller.
type Status struct {
	Name     string `json:"name"`
	Strategy string `json:"control"`
	Enabled  bool   `json:"enabled"`

	TargetTemp float64 `json:"target_temp"`
	ColdTemp   float64 `json:"temp_cold"`
	HotTemp    float64 `json:"temp_hot"`

	DutyFraction float64  `json:"duty_fraction"`
	Speed        float64  `json:"speed"`
	PWMValue     float64  `json:"pwm_value"`
	RPM          *float64 `json:"rpm"`

	Cycles         uint64  `json:"cycles"`
	ActuatorErrors uint64  `json:"actuator_errors"`
	LastEventTime  float64 `json:"last_eventtime"`

	Shutdown       bool   `json:"shutdown"`
	ShutdownReason string `json:"shutdown_reason,omitempty"`
}

// Command updates the operator-controlled parameters. Nil fields are left alone.
type Command struct {
	Target *float64
	Enable *int
}

// Controller owns one TEC. All state is guarded by mu so that commands and
// status queries never observe a half-applied cycle.
type Controller struct {
	cfg     Config
	monitor Monitor
	act     Actuator
	sd      Shutdowner
	obs     []Observer
	log     zerolog.Logger

	mu        sync.Mutex
	cold      TemperatureSource
	hot       TemperatureSource
	target    float64
	enabled   bool
	watermark *watermarkController
	pid       *pidController

	lastDuty    float64
	lastCold    float64
	lastHot     float64
	lastEvent   float64
	cycles      uint64
	actErrors   uint64
	shutdown    bool
	shutdownWhy string
}

// NewController validates cfg and builds a controller in the disabled state.
func NewController(cfg Config, deps Deps) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("tec %q: %w", cfg.Name, err)
	}
	if deps.Actuator == nil {
		return nil, fmt.Errorf("tec %q: actuator is nil", cfg.Name)
	}
	if deps.Shutdown == nil {
		return nil, fmt.Errorf("tec %q: shutdown handler is nil", cfg.Name)
	}
	jitter := deps.Jitter
	if jitter == nil {
		jitter = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	c := &Controller{
		cfg:     cfg,
		monitor: NewMonitor(cfg),
		act:     deps.Actuator,
		sd:      deps.Shutdown,
		obs:     deps.Observers,
		log:     deps.Logger.With().Str("tec", cfg.Name).Logger(),
		target:  cfg.TargetTemp,
	}
	// Only the selected strategy is allocated.
	switch cfg.Strategy {
	case Watermark:
		c.watermark = newWatermark(cfg, jitter)
	case PID:
		c.pid = newPIDController(cfg)
	}
	return c, nil
}

func (c *Controller) Name() string { return c.cfg.Name }

// Config returns the immutable parameters.
func (c *Controller) Config() Config { return c.cfg }

// OnConnect attaches the sensors once the host has resolved them.
func (c *Controller) OnConnect(cold, hot TemperatureSource) error {
	if cold == nil || hot == nil {
		return fmt.Errorf("tec %q: cold and hot sensors are required", c.cfg.Name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cold = cold
	c.hot = hot
	return nil
}

// OnReady returns the eventtime of the first cycle.
func (c *Controller) OnReady(eventtime float64) float64 {
	return eventtime + ReadyDelay
}

// Cycle runs one sampling cycle and returns when the next one is due.
// A non-nil error means the controller latched a fatal fault and must not be
// scheduled again.
func (c *Controller) Cycle(eventtime float64) (float64, error) {
	c.mu.Lock()
	next, err := c.cycleLocked(eventtime)
	st := c.statusLocked()
	c.mu.Unlock()

	for _, o := range c.obs {
		o.Observe(st)
	}
	return next, err
}

func (c *Controller) cycleLocked(eventtime float64) (float64, error) {
	if c.shutdown {
		return 0, ErrShutdown
	}
	if c.cold == nil || c.hot == nil {
		return 0, c.fatalLocked(fmt.Errorf("tec %q: cycle before sensors connected", c.cfg.Name))
	}
	c.lastEvent = eventtime
	c.cycles++

	tc, err := readTemp(c.cold, eventtime)
	if err != nil {
		return 0, c.fatalLocked(sensorFault(c.cfg.Name, SideCold, err))
	}
	th, err := readTemp(c.hot, eventtime)
	if err != nil {
		return 0, c.fatalLocked(sensorFault(c.cfg.Name, SideHot, err))
	}
	c.lastCold, c.lastHot = tc, th

	if err := c.monitor.Check(tc, th); err != nil {
		return 0, c.fatalLocked(err)
	}

	printTime := c.act.EstimatedPrintTime(eventtime)
	s := step{cold: tc, hot: th, target: c.target, enabled: c.enabled, printTime: printTime}

	if !c.enabled {
		// Let the strategy see the disable so it resets its own state.
		c.runStrategyLocked(s)
		c.writeLocked(printTime, 0)
		return eventtime + PollInterval, nil
	}

	if duty, write := c.runStrategyLocked(s); write {
		c.writeLocked(printTime, duty)
	}
	return eventtime + PollInterval, nil
}

func (c *Controller) runStrategyLocked(s step) (float64, bool) {
	switch c.cfg.Strategy {
	case PID:
		return c.pid.update(s), true
	default:
		return c.watermark.update(s)
	}
}

func (c *Controller) writeLocked(printTime, duty float64) {
	duty = clamp(duty, 0, c.cfg.MaxPWM)
	if err := c.act.SetDuty(printTime, duty); err != nil {
		c.actErrors++
		c.log.Warn().Err(err).Float64("duty", duty).Msg("actuator write failed")
		return
	}
	c.lastDuty = duty
	if c.watermark != nil {
		c.watermark.written(printTime, duty)
	}
}

func (c *Controller) fatalLocked(err error) error {
	c.shutdown = true
	c.shutdownWhy = err.Error()
	c.log.Error().Err(err).Msg("fatal fault, invoking shutdown")
	c.sd.InvokeShutdown(err.Error())
	return err
}

func readTemp(src TemperatureSource, eventtime float64) (float64, error) {
	v, err := src.Temperature(eventtime)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid reading %v", v)
	}
	return v, nil
}

// SetTarget updates the target temperature.
func (c *Controller) SetTarget(v float64) {
	c.mu.Lock()
	c.target = v
	c.mu.Unlock()
}

// SetEnable updates the enable flag.
func (c *Controller) SetEnable(on bool) {
	c.mu.Lock()
	c.enabled = on
	c.mu.Unlock()
}

// ErrInvalidEnable is returned for ENABLE values other than 0 or 1.
var ErrInvalidEnable = errors.New("ENABLE must be 0 or 1")

// Apply applies a command and returns the response line echoing the target.
func (c *Controller) Apply(cmd Command) (string, error) {
	if cmd.Enable != nil && *cmd.Enable != 0 && *cmd.Enable != 1 {
		return "", ErrInvalidEnable
	}
	if cmd.Target != nil && (math.IsNaN(*cmd.Target) || math.IsInf(*cmd.Target, 0)) {
		return "", fmt.Errorf("TARGET must be a finite number")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cmd.Target != nil {
		c.target = *cmd.Target
	}
	if cmd.Enable != nil {
		c.enabled = *cmd.Enable == 1
	}
	c.log.Info().Float64("target", c.target).Bool("enabled", c.enabled).Msg("command applied")
	return "TARGET_TEMP=" + strconv.FormatFloat(c.target, 'f', -1, 64), nil
}

// Status returns a snapshot reflecting the most recently written duty.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	return Status{
		Name:           c.cfg.Name,
		Strategy:       c.cfg.Strategy.String(),
		Enabled:        c.enabled,
		TargetTemp:     c.target,
		ColdTemp:       c.lastCold,
		HotTemp:        c.lastHot,
		DutyFraction:   c.lastDuty,
		Speed:          c.lastDuty,
		PWMValue:       c.lastDuty,
		Cycles:         c.cycles,
		ActuatorErrors: c.actErrors,
		LastEventTime:  c.lastEvent,
		Shutdown:       c.shutdown,
		ShutdownReason: c.shutdownWhy,
	}
}
