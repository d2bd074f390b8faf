package main

import (
	"math"

	"github.com/pkg/errors"
)

// ErrInvalidConfig is wrapped by every TwiddleConfig validation failure.
var ErrInvalidConfig = errors.New("invalid twiddle config")

const coefCount = 3

type TwiddleConfig struct {
	// samples observed but not measured after every coefficient change
	EquilibrationPeriod int
	// samples whose squared error is measured
	ErrorPeriod int
	// initial step size as a fraction of each initial gain's magnitude
	StepFraction float64
	ShrinkFactor float64
	GrowFactor   float64

	OnEvent func(TwiddleEvent)
}

func DefaultTwiddleConfig() TwiddleConfig {
	return TwiddleConfig{
		EquilibrationPeriod: 500,
		ErrorPeriod:         2000,
		StepFraction:        0.01,
		ShrinkFactor:        0.9,
		GrowFactor:          1.1,
	}
}

func (c TwiddleConfig) validate() error {
	if c.EquilibrationPeriod <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "equilibration period must be positive, got %d", c.EquilibrationPeriod)
	}
	if c.ErrorPeriod <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "error period must be positive, got %d", c.ErrorPeriod)
	}
	if c.StepFraction <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "step fraction must be positive, got %v", c.StepFraction)
	}
	if c.ShrinkFactor <= 0 || c.ShrinkFactor >= 1 {
		return errors.Wrapf(ErrInvalidConfig, "shrink factor must be in (0, 1), got %v", c.ShrinkFactor)
	}
	if c.GrowFactor <= 1 {
		return errors.Wrapf(ErrInvalidConfig, "grow factor must be above 1, got %v", c.GrowFactor)
	}
	return nil
}

// Twiddle tunes Kp, Ki and Kd one coefficient at a time. Each window of
// EquilibrationPeriod+ErrorPeriod samples scores the current coefficients by
// the mean squared error of the measured part of the window.
//
// A coefficient whose initial gain is zero gets a zero step and is never
// moved. Steps are sized from the gain's magnitude, so a negative gain still
// starts with an upward trial.
//
// Use NewTwiddle; a Twiddle that was never successfully initialized ignores
// samples.
type Twiddle struct {
	cfg   TwiddleConfig
	ready bool

	coefs [coefCount]float64
	steps [coefCount]float64

	bestMSE    float64
	hasBestMSE bool

	coefIdx     int
	tryIncrease bool

	n            int
	squaredError float64
}

func NewTwiddle(cfg TwiddleConfig) (*Twiddle, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Twiddle{cfg: cfg}, nil
}

// Init seeds the search with the controller's starting gains. It fails
// without touching the state when the config is invalid.
func (tw *Twiddle) Init(kp, ki, kd float64) error {
	if err := tw.cfg.validate(); err != nil {
		return err
	}
	tw.ready = true
	tw.coefs = [coefCount]float64{kp, ki, kd}
	for i, c := range tw.coefs {
		tw.steps[i] = math.Abs(c) * tw.cfg.StepFraction
	}
	tw.bestMSE = 0
	tw.hasBestMSE = false
	tw.coefIdx = 0
	tw.tryIncrease = false
	tw.n = 0
	tw.squaredError = 0
	return nil
}

// Step feeds one error sample. It returns true when a window completed and
// the controller must be reinitialized with GetUpdatedCoefs.
func (tw *Twiddle) Step(cte float64) bool {
	if !tw.ready {
		return false
	}
	tw.n++
	if tw.n > tw.cfg.EquilibrationPeriod {
		tw.squaredError += cte * cte
	}
	if tw.n < tw.cfg.EquilibrationPeriod+tw.cfg.ErrorPeriod {
		return false
	}

	mse := tw.squaredError / float64(tw.cfg.ErrorPeriod)
	tw.emit(EventWindow, mse)
	tw.advance(mse)

	tw.n = 0
	tw.squaredError = 0
	return true
}

func (tw *Twiddle) advance(mse float64) {
	nextCoef := false
	switch {
	case !tw.hasBestMSE:
		tw.bestMSE = mse
		tw.hasBestMSE = true
		tw.emit(EventInitialized, mse)
		tw.coefs[tw.coefIdx] += tw.steps[tw.coefIdx]
		tw.tryIncrease = true
	case tw.tryIncrease:
		if mse < tw.bestMSE {
			tw.emit(EventAcceptIncrease, mse)
			nextCoef = true
		} else {
			tw.emit(EventRejectIncrease, mse)
			tw.coefs[tw.coefIdx] -= 2 * tw.steps[tw.coefIdx]
			tw.tryIncrease = false
		}
	default:
		if mse < tw.bestMSE {
			tw.emit(EventAcceptDecrease, mse)
			nextCoef = true
		} else {
			tw.emit(EventRejectDecrease, mse)
			tw.coefs[tw.coefIdx] += tw.steps[tw.coefIdx]
			tw.steps[tw.coefIdx] *= tw.cfg.ShrinkFactor
			tw.rotate(mse)
		}
	}

	if nextCoef {
		tw.bestMSE = mse
		tw.steps[tw.coefIdx] *= tw.cfg.GrowFactor
		tw.rotate(mse)
	}
}

// rotate moves to the next coefficient and starts its increase trial.
func (tw *Twiddle) rotate(mse float64) {
	tw.coefIdx = (tw.coefIdx + 1) % coefCount
	tw.coefs[tw.coefIdx] += tw.steps[tw.coefIdx]
	tw.tryIncrease = true
	tw.emit(EventNextCoef, mse)
}

func (tw *Twiddle) emit(kind TwiddleEventKind, mse float64) {
	if tw.cfg.OnEvent == nil {
		return
	}
	tw.cfg.OnEvent(TwiddleEvent{
		Kind:    kind,
		Index:   tw.coefIdx,
		Coefs:   tw.coefs,
		Steps:   tw.steps,
		MSE:     mse,
		BestMSE: tw.bestMSE,
		HasBest: tw.hasBestMSE,
	})
}

func (tw *Twiddle) GetUpdatedCoefs() (float64, float64, float64) {
	return tw.coefs[0], tw.coefs[1], tw.coefs[2]
}

func (tw *Twiddle) Steps() [coefCount]float64 {
	return tw.steps
}

// BestMSE reports false until the first window completed.
func (tw *Twiddle) BestMSE() (float64, bool) {
	return tw.bestMSE, tw.hasBestMSE
}

func (tw *Twiddle) ActiveIndex() int {
	return tw.coefIdx
}

func (tw *Twiddle) TryingIncrease() bool {
	return tw.tryIncrease
}

// WindowLength is the number of Step calls between two resets.
func (tw *Twiddle) WindowLength() int {
	return tw.cfg.EquilibrationPeriod + tw.cfg.ErrorPeriod
}
