package sim

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var nowFn = time.Now

var ErrNegativeCoefficient = errors.New("sim: coefficients must be >= 0")

// PlantParams describes a two-node TEC model: a cold plate and a hot-side
// heatsink, each leaking toward ambient, coupled through the module, with
// pumping driven by the PWM duty.
//
// Rates are in degrees C per second; loss coefficients are per second.
type PlantParams struct {
	AmbientC float64 `yaml:"ambient_c" toml:"ambient_c"`

	ColdLoss   float64 `yaml:"cold_loss" toml:"cold_loss"`
	HotLoss    float64 `yaml:"hot_loss" toml:"hot_loss"`
	Conduction float64 `yaml:"conduction" toml:"conduction"`

	// CoolingRate is how fast full duty pulls heat off the cold plate.
	CoolingRate float64 `yaml:"cooling_rate" toml:"cooling_rate"`
	// HeatingRate is how fast full duty dumps heat (pumped plus Joule) into
	// the hot side.
	HeatingRate float64 `yaml:"heating_rate" toml:"heating_rate"`

	// TimeScale runs the model faster than wall time. 0 means 1.
	TimeScale float64 `yaml:"time_scale" toml:"time_scale"`
}

// DefaultPlantParams is a small TEC on a passive heatsink in a 25C room.
func DefaultPlantParams() PlantParams {
	return PlantParams{
		AmbientC:    25,
		ColdLoss:    0.01,
		HotLoss:     0.04,
		Conduction:  0.02,
		CoolingRate: 0.6,
		HeatingRate: 0.9,
		TimeScale:   1,
	}
}

func (p PlantParams) Validate() error {
	for _, v := range []float64{p.ColdLoss, p.HotLoss, p.Conduction, p.CoolingRate, p.HeatingRate, p.TimeScale} {
		if v < 0 {
			return ErrNegativeCoefficient
		}
	}
	return nil
}

// Plant is a simulated TEC. It advances lazily on every access using the
// wall clock, so no goroutine is needed.
type Plant struct {
	params PlantParams

	mu       sync.Mutex
	cold     float64
	hot      float64
	duty     float64
	last     time.Time
	elapsed  float64
	steps    uint64
	scenario *Scenario
}

func NewPlant(params PlantParams) (*Plant, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if params.TimeScale == 0 {
		params.TimeScale = 1
	}
	return &Plant{
		params: params,
		cold:   params.AmbientC,
		hot:    params.AmbientC,
		last:   nowFn(),
	}, nil
}

// SetScenario makes the room follow s instead of the fixed AmbientC. The
// script starts at the plant's current simulated time offset zero.
func (p *Plant) SetScenario(s *Scenario) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	p.scenario = s
	p.elapsed = 0
}

// Elapsed is the simulated time since the plant (or its scenario) started.
func (p *Plant) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(p.elapsed * float64(time.Second))
}

// Step advances the model by dt of simulated time.
func (p *Plant) Step(dt time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stepLocked(dt.Seconds())
}

// Integrate in slices of at most 50ms so large gaps stay stable.
const maxSlice = 0.05

func (p *Plant) stepLocked(dt float64) {
	for dt > 0 {
		h := dt
		if h > maxSlice {
			h = maxSlice
		}
		dt -= h

		pp := p.params
		ambient, load := pp.AmbientC, 0.0
		if p.scenario != nil {
			st := p.scenario.StateAt(time.Duration(p.elapsed * float64(time.Second)))
			ambient, load = st.AmbientC, st.ColdLoad
		}
		coupling := pp.Conduction * (p.hot - p.cold)
		dCold := pp.ColdLoss*(ambient-p.cold) + coupling - pp.CoolingRate*p.duty + load
		dHot := pp.HotLoss*(ambient-p.hot) - coupling + pp.HeatingRate*p.duty
		p.cold += dCold * h
		p.hot += dHot * h
		p.elapsed += h
		p.steps++
	}
}

func (p *Plant) advanceLocked() {
	now := nowFn()
	dt := now.Sub(p.last).Seconds() * p.params.TimeScale
	p.last = now
	if dt > 0 {
		p.stepLocked(dt)
	}
}

func (p *Plant) setDuty(fraction float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	p.duty = fraction
}

// Temps advances to now and returns both plate temperatures.
func (p *Plant) Temps() (cold, hot float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	return p.cold, p.hot
}

func (p *Plant) Duty() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duty
}

// Driver returns an actuator backend that sets the plant duty.
func (p *Plant) Driver() *Driver { return &Driver{p: p} }

// ColdSensor and HotSensor read the plant through the sensors.Reader shape.
func (p *Plant) ColdSensor() *Sensor { return &Sensor{p: p, hot: false} }
func (p *Plant) HotSensor() *Sensor  { return &Sensor{p: p, hot: true} }

type Driver struct {
	p      *Plant
	period time.Duration
}

func (d *Driver) SetPeriod(period time.Duration) error {
	if period <= 0 {
		return fmt.Errorf("sim: invalid period %s", period)
	}
	d.period = period
	return nil
}

func (d *Driver) SetDuty(fraction float64) error {
	if fraction < 0 || fraction > 1 {
		return fmt.Errorf("sim: duty %v out of range", fraction)
	}
	d.p.setDuty(fraction)
	return nil
}

func (d *Driver) Close() error {
	d.p.setDuty(0)
	return nil
}

type Sensor struct {
	p   *Plant
	hot bool
}

func (s *Sensor) ReadC() (float64, error) {
	cold, hot := s.p.Temps()
	if s.hot {
		return hot, nil
	}
	return cold, nil
}

func (s *Sensor) Close() error { return nil }
