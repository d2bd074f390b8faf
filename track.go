package main

import (
	"context"
	"log"
	"math"

	"gonum.org/v1/gonum/stat"
)

type trackConfig struct {
	Amplitude     float64
	Wavelength    float64
	StartOffset   float64
	WheelBase     float64
	MaxSteerAngle float64
	Acceleration  float64
	Drag          float64
	Period        float64
}

func defaultTrackConfig() trackConfig {
	return trackConfig{
		Amplitude:     2,
		Wavelength:    200,
		StartOffset:   0.5,
		WheelBase:     2.67,
		MaxSteerAngle: 25 * math.Pi / 180,
		Acceleration:  3,
		Drag:          0.2,
		Period:        0.05,
	}
}

// track is a kinematic bicycle model driving along a sinusoidal centre line
type track struct {
	trackConfig

	// State
	x, y    float64
	heading float64
	speed   float64
}

func newTrack(cfg trackConfig) *track {
	tr := &track{trackConfig: cfg}
	tr.reset()
	return tr
}

func (tr *track) reset() {
	tr.x = 0
	tr.y = tr.StartOffset
	tr.heading = 0
	tr.speed = 0
}

func (tr *track) centre(x float64) float64 {
	return tr.Amplitude * math.Sin(2*math.Pi*x/tr.Wavelength)
}

// cte is positive when the car is right of the centre line.
func (tr *track) cte() float64 {
	return tr.centre(tr.x) - tr.y
}

func (tr *track) telemetry() telemetry {
	return telemetry{cte: tr.cte(), speed: tr.speed}
}

// apply advances the model one period. Positive steering turns right.
func (tr *track) apply(cmd command) {
	delta := -cmd.steering * tr.MaxSteerAngle
	tr.speed += (tr.Acceleration*cmd.throttle - tr.Drag*tr.speed) * tr.Period
	if tr.speed < 0 {
		tr.speed = 0
	}
	tr.heading += tr.speed / tr.WheelBase * math.Tan(delta) * tr.Period
	tr.x += tr.speed * math.Cos(tr.heading) * tr.Period
	tr.y += tr.speed * math.Sin(tr.heading) * tr.Period
}

type offlineReport struct {
	steps    int
	resets   int
	meanCTE  float64
	stdCTE   float64
	rmsCTE   float64
	steering gains
}

// runOffline drives the model for the given number of steps, or until ctx is done.
func runOffline(ctx context.Context, ds *driveService, tr *track, steps int) offlineReport {
	ctes := make([]float64, 0, steps)
	squares := make([]float64, 0, steps)
	report := offlineReport{}

Loop:
	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			break Loop
		default:
		}

		t := tr.telemetry()
		ctes = append(ctes, t.cte)
		squares = append(squares, t.cte*t.cte)

		cmd := ds.handle(t)
		if cmd.reset {
			report.resets++
			tr.reset()
			continue
		}
		tr.apply(cmd)
	}

	report.steps = len(ctes)
	if report.steps > 0 {
		report.meanCTE, report.stdCTE = stat.MeanStdDev(ctes, nil)
		report.rmsCTE = math.Sqrt(stat.Mean(squares, nil))
	}
	st := ds.status()
	report.steering = st.steering
	log.Printf("OFFLINE: %d steps, %d resets, cte mean %.4f std %.4f rms %.4f, gains [%v, %v, %v]",
		report.steps, report.resets, report.meanCTE, report.stdCTE, report.rmsCTE,
		report.steering.Kp, report.steering.Ki, report.steering.Kd)
	return report
}
