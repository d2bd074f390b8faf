package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shortConfig() TwiddleConfig {
	return TwiddleConfig{
		EquilibrationPeriod: 2,
		ErrorPeriod:         3,
		StepFraction:        0.01,
		ShrinkFactor:        0.9,
		GrowFactor:          1.1,
	}
}

func newTestTwiddle(t *testing.T, cfg TwiddleConfig, kp, ki, kd float64) *Twiddle {
	t.Helper()
	tw, err := NewTwiddle(cfg)
	require.NoError(t, err)
	require.NoError(t, tw.Init(kp, ki, kd))
	return tw
}

// runWindow feeds one full window of a constant error and reports whether the last sample reset.
func runWindow(tw *Twiddle, cte float64) bool {
	reset := false
	for i := 0; i < tw.WindowLength(); i++ {
		reset = tw.Step(cte)
	}
	return reset
}

func coefs(tw *Twiddle) []float64 {
	kp, ki, kd := tw.GetUpdatedCoefs()
	return []float64{kp, ki, kd}
}

func TestTwiddle_ConfigValidation(t *testing.T) {
	cases := map[string]func(*TwiddleConfig){
		"zero equilibration": func(c *TwiddleConfig) { c.EquilibrationPeriod = 0 },
		"negative error":     func(c *TwiddleConfig) { c.ErrorPeriod = -1 },
		"zero fraction":      func(c *TwiddleConfig) { c.StepFraction = 0 },
		"shrink too large":   func(c *TwiddleConfig) { c.ShrinkFactor = 1 },
		"shrink zero":        func(c *TwiddleConfig) { c.ShrinkFactor = 0 },
		"grow too small":     func(c *TwiddleConfig) { c.GrowFactor = 1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := shortConfig()
			mutate(&cfg)
			tw, err := NewTwiddle(cfg)
			assert.Nil(t, tw)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := NewTwiddle(DefaultTwiddleConfig())
	assert.NoError(t, err)
}

func TestTwiddle_ZeroValueRejected(t *testing.T) {
	tw := &Twiddle{}
	err := tw.Init(1, 1, 1)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	assert.False(t, tw.Step(1))
	assert.False(t, tw.Step(1))
	_, ok := tw.BestMSE()
	assert.False(t, ok)
}

func TestTwiddle_NegativeGainStepsPositive(t *testing.T) {
	tw := newTestTwiddle(t, shortConfig(), -1, 0.5, -3)
	steps := tw.Steps()
	assert.InDeltaSlice(t, []float64{0.01, 0.005, 0.03}, steps[:], 1e-12)

	// the first trial still moves the gain upward
	runWindow(tw, 1)
	assert.InDelta(t, -0.99, coefs(tw)[0], 1e-12)
}

func TestTwiddle_InitRoundTrip(t *testing.T) {
	tw := newTestTwiddle(t, shortConfig(), 0.191304, 0.000277616, 4.61365)
	assert.Equal(t, []float64{0.191304, 0.000277616, 4.61365}, coefs(tw))

	_, ok := tw.BestMSE()
	assert.False(t, ok)
	assert.Equal(t, 0, tw.ActiveIndex())

	require.NoError(t, tw.Init(1, 2, 3))
	assert.Equal(t, []float64{1, 2, 3}, coefs(tw))
}

func TestTwiddle_WindowBoundary(t *testing.T) {
	tw := newTestTwiddle(t, shortConfig(), 1, 1, 1)

	var resets []int
	for i := 1; i <= 20; i++ {
		if tw.Step(0.5) {
			resets = append(resets, i)
		}
	}
	assert.Equal(t, []int{5, 10, 15, 20}, resets)
}

func TestTwiddle_FirstCycle(t *testing.T) {
	tw := newTestTwiddle(t, shortConfig(), 1.0, 0, 0)

	require.True(t, runWindow(tw, 0))

	best, ok := tw.BestMSE()
	require.True(t, ok)
	assert.Equal(t, 0.0, best)
	assert.InDelta(t, 1.01, coefs(tw)[0], 1e-12)
	assert.True(t, tw.TryingIncrease())
	assert.Equal(t, 0, tw.ActiveIndex())
}

func TestTwiddle_MeasuresOnlyErrorPeriod(t *testing.T) {
	tw := newTestTwiddle(t, shortConfig(), 1, 1, 1)

	// equilibration samples are large, measured samples are 2
	for _, cte := range []float64{100, 100, 2, 2, 2} {
		tw.Step(cte)
	}
	best, ok := tw.BestMSE()
	require.True(t, ok)
	assert.InDelta(t, 4.0, best, 1e-12)
}

func TestTwiddle_AcceptIncrease(t *testing.T) {
	tw := newTestTwiddle(t, shortConfig(), 1, 2, 3)

	runWindow(tw, 1)   // best = 1, kp -> 1.01
	runWindow(tw, 0.5) // improvement

	assert.InDeltaSlice(t, []float64{1.01, 2.02, 3}, coefs(tw), 1e-12)
	steps := tw.Steps()
	assert.InDelta(t, 0.011, steps[0], 1e-12)
	assert.Equal(t, 1, tw.ActiveIndex())
	assert.True(t, tw.TryingIncrease())
	best, _ := tw.BestMSE()
	assert.InDelta(t, 0.25, best, 1e-12)
}

func TestTwiddle_RejectIncreaseThenAcceptDecrease(t *testing.T) {
	tw := newTestTwiddle(t, shortConfig(), 1, 2, 3)

	runWindow(tw, 1) // best = 1, kp -> 1.01
	runWindow(tw, 1) // equal is no improvement, kp -> 0.99
	assert.InDeltaSlice(t, []float64{0.99, 2, 3}, coefs(tw), 1e-12)
	assert.False(t, tw.TryingIncrease())
	assert.Equal(t, 0, tw.ActiveIndex())

	runWindow(tw, 0.5) // decrease helped
	assert.InDeltaSlice(t, []float64{0.99, 2.02, 3}, coefs(tw), 1e-12)
	assert.InDelta(t, 0.011, tw.Steps()[0], 1e-12)
	assert.Equal(t, 1, tw.ActiveIndex())
	assert.True(t, tw.TryingIncrease())
}

func TestTwiddle_RejectBothShrinksStep(t *testing.T) {
	tw := newTestTwiddle(t, shortConfig(), 1, 2, 3)

	runWindow(tw, 1) // init, kp -> 1.01
	runWindow(tw, 2) // reject increase, kp -> 0.99
	runWindow(tw, 2) // reject decrease, kp -> 1, ki -> 2.02

	assert.InDeltaSlice(t, []float64{1, 2.02, 3}, coefs(tw), 1e-12)
	assert.InDelta(t, 0.009, tw.Steps()[0], 1e-12)
	assert.Equal(t, 1, tw.ActiveIndex())
	assert.True(t, tw.TryingIncrease())
	best, _ := tw.BestMSE()
	assert.Equal(t, 1.0, best)
}

func TestTwiddle_StepShrinksMonotonically(t *testing.T) {
	tw := newTestTwiddle(t, shortConfig(), 1, 2, 3)
	runWindow(tw, 1)

	// every later window is worse, so every coefficient fails both ways
	prev := tw.Steps()
	for cycle := 0; cycle < 12; cycle++ {
		idx := tw.ActiveIndex()
		runWindow(tw, 5)
		runWindow(tw, 5)
		steps := tw.Steps()
		assert.Less(t, steps[idx], prev[idx])
		assert.Greater(t, steps[idx], 0.0)
		prev = steps
	}
	// a full failed sweep leaves every coefficient at its start value plus the pending trial
	kp, ki, kd := tw.GetUpdatedCoefs()
	assert.InDelta(t, 1+tw.Steps()[0], kp, 1e-9)
	assert.InDelta(t, 2, ki, 1e-9)
	assert.InDelta(t, 3, kd, 1e-9)
}

func TestTwiddle_ZeroGainNeverMoves(t *testing.T) {
	tw := newTestTwiddle(t, shortConfig(), 1, 0, 3)
	runWindow(tw, 1)
	for i := 0; i < 30; i++ {
		runWindow(tw, float64(i%4))
	}
	_, ki, _ := tw.GetUpdatedCoefs()
	assert.Equal(t, 0.0, ki)
	assert.Equal(t, 0.0, tw.Steps()[1])
}

func TestTwiddle_Deterministic(t *testing.T) {
	run := func() ([]int, []float64) {
		tw := newTestTwiddle(t, shortConfig(), 0.2, 0.001, 3)
		var resets []int
		for i := 0; i < 200; i++ {
			cte := float64((i*7)%11) / 10
			if tw.Step(cte) {
				resets = append(resets, i)
			}
		}
		return resets, coefs(tw)
	}
	r1, c1 := run()
	r2, c2 := run()
	assert.Equal(t, r1, r2)
	assert.Equal(t, c1, c2)
}

func TestTwiddle_Events(t *testing.T) {
	var kinds []TwiddleEventKind
	cfg := shortConfig()
	cfg.OnEvent = func(e TwiddleEvent) {
		kinds = append(kinds, e.Kind)
	}
	tw := newTestTwiddle(t, cfg, 1, 2, 3)

	runWindow(tw, 1)
	runWindow(tw, 2)
	runWindow(tw, 2)
	runWindow(tw, 0.1)

	assert.Equal(t, []TwiddleEventKind{
		EventWindow, EventInitialized,
		EventWindow, EventRejectIncrease,
		EventWindow, EventRejectDecrease, EventNextCoef,
		EventWindow, EventAcceptIncrease, EventNextCoef,
	}, kinds)
}
