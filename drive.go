package main

import (
	"log"
	"math"
	"sync"
)

type gains struct {
	Kp, Ki, Kd float64
}

type driveConfig struct {
	steering     gains
	throttle     gains
	throttleBase float64
	steeringMin  float64
	steeringMax  float64
	throttleMin  float64
	throttleMax  float64
}

func defaultDriveConfig() driveConfig {
	return driveConfig{
		steering:     gains{Kp: 0.191304, Ki: 0.000277616, Kd: 4.61365},
		throttle:     gains{Kp: 0.4, Ki: 0, Kd: 2.0},
		throttleBase: 0.65,
		steeringMin:  -1,
		steeringMax:  1,
		throttleMin:  -0.3,
		throttleMax:  0.9,
	}
}

type driveStatus struct {
	steering gains
	samples  int
	mse      float64
	hasMSE   bool
	bestMSE  float64
	hasBest  bool
	resets   int
	tuning   bool
	speed    float64
	angle    float64
}

// driveService runs the steering and throttle loops for one car
type driveService struct {
	mu       sync.Mutex
	cfg      driveConfig
	steering *PIDController
	throttle *PIDController
	twiddle  *Twiddle
	notifier notifier
	resets   int
	speed    float64
	angle    float64
}

type notifier interface {
	notify(message string)
}

// newDriveService wires the controllers. A nil tuning config drives with fixed gains.
func newDriveService(cfg driveConfig, tuning *TwiddleConfig, n notifier) (*driveService, error) {
	ds := &driveService{
		cfg:      cfg,
		steering: &PIDController{},
		throttle: &PIDController{},
		notifier: n,
	}
	ds.steering.Init(cfg.steering.Kp, cfg.steering.Ki, cfg.steering.Kd)
	ds.throttle.Init(cfg.throttle.Kp, cfg.throttle.Ki, cfg.throttle.Kd)

	if tuning != nil {
		twCfg := *tuning
		observer := twCfg.OnEvent
		twCfg.OnEvent = func(e TwiddleEvent) {
			ds.onTwiddleEvent(e)
			if observer != nil {
				observer(e)
			}
		}
		tw, err := NewTwiddle(twCfg)
		if err != nil {
			return nil, err
		}
		if err := tw.Init(cfg.steering.Kp, cfg.steering.Ki, cfg.steering.Kd); err != nil {
			return nil, err
		}
		ds.twiddle = tw
	}
	return ds, nil
}

func (ds *driveService) handle(t telemetry) command {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	ds.speed = t.speed
	ds.angle = t.steeringAngle
	ds.steering.UpdateError(t.cte)
	ds.throttle.UpdateError(math.Abs(t.cte))

	cmd := command{
		steering: clamp(ds.steering.TotalError(), ds.cfg.steeringMin, ds.cfg.steeringMax),
		throttle: clamp(ds.cfg.throttleBase+ds.throttle.TotalError(), ds.cfg.throttleMin, ds.cfg.throttleMax),
	}

	if ds.twiddle != nil && ds.twiddle.Step(t.cte) {
		kp, ki, kd := ds.twiddle.GetUpdatedCoefs()
		ds.steering.Init(kp, ki, kd)
		ds.resets++
		cmd.reset = true
		log.Printf("DRIVE: reset %d, new steering gains [%v, %v, %v]", ds.resets, kp, ki, kd)
	}
	return cmd
}

func (ds *driveService) status() driveStatus {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	st := driveStatus{
		samples: ds.steering.Samples(),
		resets:  ds.resets,
		tuning:  ds.twiddle != nil,
		speed:   ds.speed,
		angle:   ds.angle,
	}
	st.steering.Kp, st.steering.Ki, st.steering.Kd = ds.steering.Gains()
	mse, err := ds.steering.MeanSquaredError()
	if err == nil {
		st.mse = mse
		st.hasMSE = true
	}
	if ds.twiddle != nil {
		st.bestMSE, st.hasBest = ds.twiddle.BestMSE()
	}
	return st
}

// onTwiddleEvent narrates the search. It runs inside handle, so it must not take the lock.
func (ds *driveService) onTwiddleEvent(e TwiddleEvent) {
	switch e.Kind {
	case EventWindow:
		log.Printf("TWIDDLE: run with coefs = %v and steps = %v", e.Coefs, e.Steps)
		if e.HasBest {
			log.Printf("TWIDDLE: new MSE = %v best MSE = %v", e.MSE, e.BestMSE)
		} else {
			log.Printf("TWIDDLE: new MSE = %v best MSE = unset", e.MSE)
		}
	case EventInitialized:
		log.Printf("TWIDDLE: initializing best MSE, increasing coef %d", e.Index)
	case EventAcceptIncrease, EventAcceptDecrease:
		log.Printf("TWIDDLE: %s for coef %d", e.Kind, e.Index)
		if ds.notifier != nil {
			ds.notifier.notify(formatImprovement(e))
		}
	case EventRejectIncrease:
		log.Printf("TWIDDLE: rejecting increase for coef %d; trying decrease", e.Index)
	case EventRejectDecrease:
		log.Printf("TWIDDLE: rejecting decrease for coef %d; reducing step size", e.Index)
	case EventNextCoef:
		log.Printf("TWIDDLE: moving to next coef = %d, increasing it", e.Index)
	}
}

func clamp(v, min, max float64) float64 {
	return math.Max(min, math.Min(max, v))
}
