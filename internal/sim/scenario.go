package sim

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ScenarioScript drives the room around a simulated TEC over time.
//
// Times are Go duration strings ("0s", "90s", "5m"). If Duration is zero it is
// derived from the latest keyframe.
//
// YAML schema (v1):
//
//	version: 1
//	duration: 10m
//	loop: true
//	keyframes:
//	  - t: 0s
//	    ambient_c: 22
//	  - t: 5m
//	    ambient_c: 30
//	    cold_load: 0.05
//
// Keyframes must use non-decreasing t values.
type ScenarioScript struct {
	Version   int                `yaml:"version"`
	Duration  time.Duration      `yaml:"duration"`
	Loop      bool               `yaml:"loop"`
	Keyframes []ScenarioKeyframe `yaml:"keyframes"`
}

// ScenarioKeyframe is the room state at a point in time. ColdLoad is extra
// heat leaking onto the cold plate (an open door, a warm sample) in degrees C
// per second.
type ScenarioKeyframe struct {
	T        time.Duration `yaml:"t"`
	AmbientC float64       `yaml:"ambient_c"`
	ColdLoad float64       `yaml:"cold_load"`
}

// ScenarioState is the interpolated room state.
type ScenarioState struct {
	AmbientC float64
	ColdLoad float64
}

// Scenario is a validated script. StateAt is deterministic.
type Scenario struct {
	script   ScenarioScript
	duration time.Duration
}

// LoadScenario reads, parses and validates the script at path.
func LoadScenario(path string) (*Scenario, error) {
	script, err := LoadScenarioScript(path)
	if err != nil {
		return nil, err
	}
	s, err := NewScenario(script)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func LoadScenarioScript(path string) (ScenarioScript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ScenarioScript{}, err
	}
	return ParseScenarioScriptYAML(b)
}

func ParseScenarioScriptYAML(b []byte) (ScenarioScript, error) {
	var s ScenarioScript
	if err := yaml.Unmarshal(b, &s); err != nil {
		return ScenarioScript{}, err
	}
	return s, nil
}

func NewScenario(script ScenarioScript) (*Scenario, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, fmt.Errorf("unsupported scenario version %d", script.Version)
	}
	kfs := script.Keyframes
	if len(kfs) == 0 {
		return nil, fmt.Errorf("keyframes is required")
	}
	for i := range kfs {
		if kfs[i].T < 0 {
			return nil, fmt.Errorf("keyframes[%d].t must be >= 0", i)
		}
		if kfs[i].ColdLoad < 0 {
			return nil, fmt.Errorf("keyframes[%d].cold_load must be >= 0", i)
		}
		if i > 0 && kfs[i].T < kfs[i-1].T {
			return nil, fmt.Errorf("keyframes[%d].t must be >= keyframes[%d].t", i, i-1)
		}
	}

	dur := script.Duration
	if dur <= 0 {
		dur = kfs[len(kfs)-1].T
	}
	if dur <= 0 && script.Loop {
		return nil, fmt.Errorf("duration is required to loop")
	}
	return &Scenario{script: script, duration: dur}, nil
}

func (s *Scenario) Duration() time.Duration {
	if s == nil {
		return 0
	}
	return s.duration
}

// StateAt returns the room state elapsed into the script. Past the end the
// script either wraps (loop: true) or holds its last keyframe.
func (s *Scenario) StateAt(elapsed time.Duration) ScenarioState {
	if elapsed < 0 {
		elapsed = 0
	}
	if s.script.Loop && s.duration > 0 {
		elapsed %= s.duration
	}
	k0, k1, alpha := selectSegment(s.script.Keyframes, elapsed)
	return ScenarioState{
		AmbientC: lerp(k0.AmbientC, k1.AmbientC, alpha),
		ColdLoad: lerp(k0.ColdLoad, k1.ColdLoad, alpha),
	}
}

func selectSegment(kfs []ScenarioKeyframe, t time.Duration) (ScenarioKeyframe, ScenarioKeyframe, float64) {
	if len(kfs) == 1 {
		return kfs[0], kfs[0], 0
	}
	idx := sort.Search(len(kfs), func(i int) bool { return kfs[i].T > t })
	if idx <= 0 {
		return kfs[0], kfs[0], 0
	}
	if idx >= len(kfs) {
		last := kfs[len(kfs)-1]
		return last, last, 0
	}
	k0 := kfs[idx-1]
	k1 := kfs[idx]
	dt := k1.T - k0.T
	if dt <= 0 {
		return k1, k1, 0
	}
	alpha := float64(t-k0.T) / float64(dt)
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return k0, k1, alpha
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
