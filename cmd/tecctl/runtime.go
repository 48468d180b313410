package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"tecctl/internal/actuator"
	"tecctl/internal/config"
	"tecctl/internal/metrics"
	"tecctl/internal/sensors"
	"tecctl/internal/shutdown"
	"tecctl/internal/sim"
	"tecctl/internal/tec"
	"tecctl/internal/udp"
	"tecctl/internal/web"
)

var (
	openActuatorFn = actuator.Open
	openSensorFn   = sensors.Open
)

type instance struct {
	cfg   config.TECConfig
	ctrl  *tec.Controller
	act   *actuator.PWM
	cold  *sensors.Sampler
	hot   *sensors.Sampler
	plant *sim.Plant
}

// instanceDetails is rendered next to the controller status on the API.
type instanceDetails struct {
	Backend  string                    `json:"backend"`
	Pin      string                    `json:"peltier_pin,omitempty"`
	Actuator actuator.Snapshot         `json:"actuator"`
	Sensors  []sensors.SamplerSnapshot `json:"sensors"`
}

func (in *instance) details() any {
	return instanceDetails{
		Backend:  in.cfg.Backend,
		Pin:      in.cfg.PeltierPin,
		Actuator: in.act.Snapshot(),
		Sensors:  []sensors.SamplerSnapshot{in.cold.Snapshot(), in.hot.Snapshot()},
	}
}

type runtime struct {
	cfg   config.Config
	log   zerolog.Logger
	latch *shutdown.Latch
	clock tec.Clock

	status    *web.Status
	stream    *web.Broadcaster
	metrics   *metrics.Collector
	telemetry *udp.Telemetry

	scenario  *sim.Scenario
	instances []*instance
	closeOnce sync.Once
}

func newRuntime(cfg config.Config, log zerolog.Logger, latch *shutdown.Latch) (*runtime, error) {
	rt := &runtime{
		cfg:     cfg,
		log:     log,
		latch:   latch,
		clock:   tec.NewMonotonicClock(),
		status:  web.NewStatus(),
		stream:  web.NewBroadcaster(),
		metrics: metrics.New(),
	}
	if cfg.Telemetry.Enable {
		tel, err := udp.NewTelemetry(cfg.Telemetry.Dest, log.With().Str("component", "telemetry").Logger())
		if err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
		rt.telemetry = tel
	}
	if cfg.Sim.Scenario != "" {
		scn, err := sim.LoadScenario(cfg.Sim.Scenario)
		if err != nil {
			return nil, fmt.Errorf("sim.scenario: %w", err)
		}
		rt.scenario = scn
	}
	for _, tc := range cfg.TECs {
		in, err := rt.buildInstance(tc)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("tec %q: %w", tc.Name, err)
		}
		rt.instances = append(rt.instances, in)
		rt.status.Add(in.ctrl, in.details)
	}
	return rt, nil
}

func (rt *runtime) observers() []tec.Observer {
	obs := []tec.Observer{rt.metrics, rt.stream}
	if rt.telemetry != nil {
		obs = append(obs, rt.telemetry)
	}
	return obs
}

func (rt *runtime) buildInstance(tc config.TECConfig) (*instance, error) {
	ccfg, err := tc.ControllerConfig()
	if err != nil {
		return nil, err
	}
	log := rt.log.With().Str("component", "tec").Logger()
	in := &instance{cfg: tc}

	var drv actuator.Driver
	if tc.Backend == config.BackendSim {
		plant, err := sim.NewPlant(rt.cfg.Sim.PlantParams)
		if err != nil {
			return nil, err
		}
		if rt.scenario != nil {
			plant.SetScenario(rt.scenario)
		}
		in.plant = plant
		d := plant.Driver()
		if err := d.SetPeriod(tc.CycleTime()); err != nil {
			return nil, err
		}
		drv = d
	} else {
		drv, err = openActuatorFn(actuator.Config{
			Pin:         tc.PeltierPin,
			CycleTime:   tc.CycleTime(),
			HardwarePWM: tc.HardwarePWM,
			Consumer:    "tecctl-" + tc.Name,
		})
		if err != nil {
			return nil, err
		}
	}
	act, err := actuator.NewPWM(drv, actuator.MaxDuration, log.With().Str("tec", tc.Name).Logger())
	if err != nil {
		_ = drv.Close()
		return nil, err
	}
	in.act = act

	if in.cold, err = rt.openSampler(in, "cold", tc.ColdSensor); err != nil {
		_ = act.Close()
		return nil, err
	}
	if in.hot, err = rt.openSampler(in, "hot", tc.HotSensor); err != nil {
		_ = in.cold.Close()
		_ = act.Close()
		return nil, err
	}

	ctrl, err := tec.NewController(ccfg, tec.Deps{
		Actuator:  act,
		Shutdown:  rt.latch,
		Observers: rt.observers(),
		Logger:    log,
	})
	if err != nil {
		_ = in.cold.Close()
		_ = in.hot.Close()
		_ = act.Close()
		return nil, err
	}
	if err := ctrl.OnConnect(in.cold, in.hot); err != nil {
		_ = in.cold.Close()
		_ = in.hot.Close()
		_ = act.Close()
		return nil, err
	}
	in.ctrl = ctrl
	return in, nil
}

func (rt *runtime) openSampler(in *instance, side string, sc config.SensorConfig) (*sensors.Sampler, error) {
	name := in.cfg.Name + "/" + side
	var r sensors.Reader
	switch {
	case sc.Type == sensors.TypeSim && in.plant != nil:
		if side == "hot" {
			r = in.plant.HotSensor()
		} else {
			r = in.plant.ColdSensor()
		}
	default:
		rc, err := openSensorFn(sensors.Spec{Type: sc.Type, Path: sc.Path, Bus: sc.Bus, Addr: uint16(sc.Addr)})
		if err != nil {
			return nil, err
		}
		r = rc
	}
	s := sensors.NewSampler(name, r, sc.Interval, sc.MaxAge, rt.log.With().Str("component", "sensors").Logger())
	s.OnError(func(error) { rt.metrics.SensorError(name) })
	return s, nil
}

// start launches the background samplers and actuator watchdogs.
func (rt *runtime) start(ctx context.Context) {
	for _, in := range rt.instances {
		in.cold.Start(ctx)
		in.hot.Start(ctx)
		in.act.Start(ctx)
		rt.log.Info().
			Str("tec", in.cfg.Name).
			Str("control", in.ctrl.Config().Strategy.String()).
			Str("backend", in.cfg.Backend).
			Msg("tec ready")
	}
}

// run drives every controller until ctx is done. A fault in one controller
// fires the shutdown latch, which cancels ctx for the others; the first fault
// is returned.
func (rt *runtime) run(ctx context.Context) error {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fault error
	)
	for _, in := range rt.instances {
		loop := tec.NewLoop(in.ctrl, rt.clock)
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := loop.Run(ctx)
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			mu.Lock()
			if fault == nil {
				fault = err
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return fault
}

// stopActuators turns every output off. It is safe to call more than once.
func (rt *runtime) stopActuators() {
	for _, in := range rt.instances {
		if err := in.act.Close(); err != nil {
			rt.log.Error().Err(err).Str("tec", in.cfg.Name).Msg("actuator close failed")
		}
	}
}

func (rt *runtime) close() {
	rt.closeOnce.Do(func() {
		rt.stopActuators()
		for _, in := range rt.instances {
			_ = in.cold.Close()
			_ = in.hot.Close()
		}
		if rt.telemetry != nil {
			_ = rt.telemetry.Close()
		}
	})
}
