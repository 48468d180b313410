package tec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireFault(t *testing.T, err error, side Side, bound Bound, reason string) {
	t.Helper()
	var fe *FaultError
	require.True(t, errors.As(err, &fe), "err=%v want *FaultError", err)
	assert.Equal(t, side, fe.Side)
	assert.Equal(t, bound, fe.Bound)
	assert.Equal(t, reason, fe.Reason)
}

func TestMonitor_ColdTooLowIndependentOfHot(t *testing.T) {
	m := NewMonitor(DefaultConfig("tec0"))
	for _, th := range []float64{-40, 0, 20, 50, 80, 200} {
		err := m.Check(19.9, th)
		requireFault(t, err, SideCold, BoundMin, "cold side temp too low")
	}
}

func TestMonitor_BoundsInOrder(t *testing.T) {
	m := NewMonitor(DefaultConfig("tec0"))
	cases := []struct {
		name   string
		tc, th float64
		side   Side
		bound  Bound
		reason string
	}{
		{"ColdLow", 10, 50, SideCold, BoundMin, "cold side temp too low"},
		{"ColdHigh", 81, 50, SideCold, BoundMax, "cold side temp too high"},
		{"HotLow", 50, 19, SideHot, BoundMin, "hot side temp too low"},
		{"HotHigh", 50, 81, SideHot, BoundMax, "hot side temp too high"},
		// Cold side is checked before the hot side.
		{"ColdBeatsHot", 81, 90, SideCold, BoundMax, "cold side temp too high"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			requireFault(t, m.Check(tc.tc, tc.th), tc.side, tc.bound, tc.reason)
		})
	}
}

func TestMonitor_WithinBoundsNoFault(t *testing.T) {
	m := NewMonitor(DefaultConfig("tec0"))
	for _, p := range [][2]float64{{20, 20}, {80, 80}, {20, 80}, {55.5, 30}} {
		assert.NoError(t, m.Check(p[0], p[1]), "tc=%v th=%v", p[0], p[1])
	}
}

// The deviation check requires the cold side to be under its minimum as
// well, so it can never fire ahead of the cold-side check. This pins that
// suspect behavior.
func TestMonitor_DeviationCheckIsShadowed(t *testing.T) {
	cfg := DefaultConfig("tec0")
	cfg.MaxDeviation = 10
	m := NewMonitor(cfg)

	assert.NoError(t, m.Check(25, 70), "large deviation with in-range sides does not fault")
	requireFault(t, m.Check(5, 70), SideCold, BoundMin, "cold side temp too low")
}

func TestMonitor_ScenarioColdBelowMinimum(t *testing.T) {
	cfg := DefaultConfig("bench")
	cfg.MinTempCold = 20
	err := NewMonitor(cfg).Check(19.9, 40)
	requireFault(t, err, SideCold, BoundMin, "cold side temp too low")
	assert.Equal(t, "[bench] cold side temp too low", err.Error())
}
