package main

import (
	"github.com/pkg/errors"
)

// ErrNoSamples is returned by MeanSquaredError before any error sample was seen.
var ErrNoSamples = errors.New("no error samples since init")

// PIDController turns the latest cross-track error into an opposing correction
type PIDController struct {
	Kp, Ki, Kd float64

	PError    float64
	IError    float64
	DError    float64
	LastError float64

	n            int
	squaredError float64
}

// Init sets the gains and clears the running terms. Safe to call again on every reset.
func (p *PIDController) Init(kp, ki, kd float64) {
	p.Kp = kp
	p.Ki = ki
	p.Kd = kd
	p.PError = 0
	p.IError = 0
	p.DError = 0
	p.LastError = 0
	p.n = 0
	p.squaredError = 0
}

func (p *PIDController) UpdateError(cte float64) {
	p.PError = cte
	p.DError = cte - p.LastError
	// integral never decays, only Init clears it
	p.IError += cte
	p.LastError = cte
	p.n++
	p.squaredError += cte * cte
}

// TotalError returns the correction. The sign is negative because the output opposes the error.
func (p *PIDController) TotalError() float64 {
	return -(p.Kp * p.PError) - (p.Kd * p.DError) - (p.Ki * p.IError)
}

func (p *PIDController) MeanSquaredError() (float64, error) {
	if p.n == 0 {
		return 0, ErrNoSamples
	}
	return p.squaredError / float64(p.n), nil
}

func (p *PIDController) Gains() (float64, float64, float64) {
	return p.Kp, p.Ki, p.Kd
}

func (p *PIDController) Samples() int {
	return p.n
}
