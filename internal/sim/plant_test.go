package sim

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tecctl/internal/actuator"
	"tecctl/internal/tec"
)

func freezeClock(t *testing.T) {
	t.Helper()
	old := nowFn
	fixed := time.Unix(1700000000, 0)
	nowFn = func() time.Time { return fixed }
	t.Cleanup(func() { nowFn = old })
}

func TestNewPlant_RejectsNegativeCoefficients(t *testing.T) {
	p := DefaultPlantParams()
	p.HotLoss = -1
	if _, err := NewPlant(p); err != ErrNegativeCoefficient {
		t.Fatalf("err=%v want ErrNegativeCoefficient", err)
	}
}

func TestPlant_StartsAtAmbientAndStaysThereWhenOff(t *testing.T) {
	freezeClock(t)
	p, err := NewPlant(DefaultPlantParams())
	if err != nil {
		t.Fatalf("NewPlant: %v", err)
	}
	p.Step(10 * time.Minute)
	cold, hot := p.Temps()
	if cold != 25 || hot != 25 {
		t.Fatalf("cold=%v hot=%v want ambient", cold, hot)
	}
}

func TestPlant_FullDutyCoolsColdAndHeatsHot(t *testing.T) {
	freezeClock(t)
	p, err := NewPlant(DefaultPlantParams())
	if err != nil {
		t.Fatalf("NewPlant: %v", err)
	}
	drv := p.Driver()
	if err := drv.SetPeriod(400 * time.Microsecond); err != nil {
		t.Fatalf("SetPeriod: %v", err)
	}
	if err := drv.SetDuty(1); err != nil {
		t.Fatalf("SetDuty: %v", err)
	}
	p.Step(30 * time.Minute)

	cold, err := p.ColdSensor().ReadC()
	if err != nil {
		t.Fatalf("ReadC: %v", err)
	}
	hot, _ := p.HotSensor().ReadC()
	// Steady state of the default parameters at full duty.
	if math.Abs(cold-12.14) > 0.1 {
		t.Fatalf("cold=%v want ~12.14", cold)
	}
	if math.Abs(hot-35.71) > 0.1 {
		t.Fatalf("hot=%v want ~35.71", hot)
	}

	if err := drv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if p.Duty() != 0 {
		t.Fatalf("duty=%v want 0 after Close", p.Duty())
	}
	if err := drv.SetDuty(1.5); err == nil {
		t.Fatalf("expected out of range error")
	}
}

func TestPlant_AdvancesWithWallClockAndTimeScale(t *testing.T) {
	now := time.Unix(1700000000, 0)
	old := nowFn
	nowFn = func() time.Time { return now }
	t.Cleanup(func() { nowFn = old })

	params := DefaultPlantParams()
	params.TimeScale = 60
	p, err := NewPlant(params)
	if err != nil {
		t.Fatalf("NewPlant: %v", err)
	}
	_ = p.Driver().SetDuty(1)
	now = now.Add(time.Second)
	cold, _ := p.Temps()
	if cold >= 25 {
		t.Fatalf("cold=%v want below ambient after a scaled minute", cold)
	}
	if p.steps < 60*20 {
		t.Fatalf("steps=%d want sliced integration", p.steps)
	}
}

type plantSource struct{ s *Sensor }

func (p plantSource) Temperature(float64) (float64, error) { return p.s.ReadC() }

type noShutdown struct{ t *testing.T }

func (n noShutdown) InvokeShutdown(msg string) { n.t.Fatalf("unexpected shutdown: %s", msg) }

func TestPlant_PIDHoldsColdSideNearTarget(t *testing.T) {
	freezeClock(t)
	plant, err := NewPlant(DefaultPlantParams())
	if err != nil {
		t.Fatalf("NewPlant: %v", err)
	}
	act, err := actuator.NewPWM(plant.Driver(), 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewPWM: %v", err)
	}

	cfg := tec.DefaultConfig("sim")
	cfg.Strategy = tec.PID
	cfg.MinTempCold, cfg.MinTempHot = 5, 5
	cfg.Kp, cfg.Ki, cfg.Kd = 1, 0, 0
	cfg.TargetTemp = 18

	ctrl, err := tec.NewController(cfg, tec.Deps{Actuator: act, Shutdown: noShutdown{t}, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	if err := ctrl.OnConnect(plantSource{plant.ColdSensor()}, plantSource{plant.HotSensor()}); err != nil {
		t.Fatalf("OnConnect: %v", err)
	}
	ctrl.SetEnable(true)

	eventtime := ctrl.OnReady(0)
	for eventtime < 1800 {
		next, err := ctrl.Cycle(eventtime)
		if err != nil {
			t.Fatalf("Cycle: %v", err)
		}
		plant.Step(time.Duration((next - eventtime) * float64(time.Second)))
		eventtime = next
	}

	st := ctrl.Status()
	if math.Abs(st.ColdTemp-18) > 1 {
		t.Fatalf("cold=%v want within 1C of 18", st.ColdTemp)
	}
	if st.DutyFraction <= 0 || st.DutyFraction >= 1 {
		t.Fatalf("duty=%v want partial duty at equilibrium", st.DutyFraction)
	}
}

func TestPlant_FollowsScenarioAmbient(t *testing.T) {
	freezeClock(t)
	p, err := NewPlant(DefaultPlantParams())
	if err != nil {
		t.Fatalf("NewPlant: %v", err)
	}
	scn, err := NewScenario(ScenarioScript{Keyframes: []ScenarioKeyframe{{AmbientC: 35}}})
	if err != nil {
		t.Fatalf("NewScenario: %v", err)
	}
	p.SetScenario(scn)
	p.Step(2 * time.Hour)

	cold, hot := p.Temps()
	if math.Abs(cold-35) > 0.05 || math.Abs(hot-35) > 0.05 {
		t.Fatalf("cold=%v hot=%v want ~35", cold, hot)
	}
	if got := p.Elapsed(); got < 2*time.Hour-time.Second || got > 2*time.Hour+time.Second {
		t.Fatalf("elapsed=%s want ~2h", got)
	}
}

func TestPlant_ColdLoadWarmsColdPlate(t *testing.T) {
	freezeClock(t)
	p, err := NewPlant(DefaultPlantParams())
	if err != nil {
		t.Fatalf("NewPlant: %v", err)
	}
	scn, err := NewScenario(ScenarioScript{Keyframes: []ScenarioKeyframe{{AmbientC: 25, ColdLoad: 0.1}}})
	if err != nil {
		t.Fatalf("NewScenario: %v", err)
	}
	p.SetScenario(scn)
	p.Step(10 * time.Minute)

	cold, hot := p.Temps()
	if cold <= 25 || cold <= hot {
		t.Fatalf("cold=%v hot=%v want cold plate above ambient and hot side", cold, hot)
	}
}
