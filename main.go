package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
)

func signalHandler(cancel context.CancelFunc, sigs chan os.Signal) {
	<-sigs
	log.Printf("Exiting...")
	cancel()
}

type config struct {
	port          int
	twiddle       bool
	drive         driveConfig
	tuning        TwiddleConfig
	offlineSteps  int
	statusSeconds int
	haURI         string
	haToken       string
	notifyDevice  string
}

func main() {
	baseCtx := context.Background()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go signalHandler(cancel, sigs)

	cfg := readEnv()

	var n notifier
	if cfg.haURI != "" && cfg.haToken != "" && cfg.notifyDevice != "" {
		n = newHaNotifier(ctx, cfg.haURI, cfg.haToken, cfg.notifyDevice)
	}

	var tuning *TwiddleConfig
	if cfg.twiddle {
		tuning = &cfg.tuning
	}
	driveService, err := newDriveService(cfg.drive, tuning, n)
	if err != nil {
		log.Fatalf("error setting up drive loop: %v", err)
	}

	s := gocron.NewScheduler(time.UTC)
	job, err := s.Every(cfg.statusSeconds).Seconds().Do(func() {
		logStatus(driveService.status())
	})
	if err != nil {
		log.Fatalf("error setting up cron: %v", err)
	}
	s.StartAsync()

	if cfg.offlineSteps > 0 {
		log.Printf("MAIN: offline run, %d steps", cfg.offlineSteps)
		runOffline(ctx, driveService, newTrack(defaultTrackConfig()), cfg.offlineSteps)
	} else {
		simulatorService := newSimulatorService(ctx, driveService, ":"+strconv.Itoa(cfg.port))
		if err := simulatorService.run(); err != nil {
			log.Printf("MAIN: simulator bridge stopped: %v", err)
		}
	}

	log.Printf("End main loop")
	s.Remove(job)
	s.Stop()
}

func logStatus(st driveStatus) {
	if st.hasMSE {
		log.Printf("STATUS: gains [%v, %v, %v], %d samples, MSE %.6f, speed %.2f, steering angle %.2f",
			st.steering.Kp, st.steering.Ki, st.steering.Kd, st.samples, st.mse, st.speed, st.angle)
	} else {
		log.Printf("STATUS: gains [%v, %v, %v], waiting for telemetry",
			st.steering.Kp, st.steering.Ki, st.steering.Kd)
	}
	if st.tuning && st.hasBest {
		log.Printf("STATUS: twiddle resets %d, best MSE %.6f", st.resets, st.bestMSE)
	}
}

func readEnv() config {
	cfg := config{
		port:          4567,
		drive:         defaultDriveConfig(),
		tuning:        DefaultTwiddleConfig(),
		statusSeconds: 30,
	}

	cfg.port = envInt("PORT", cfg.port)
	cfg.twiddle = envBool("TWIDDLE", false)

	cfg.drive.steering.Kp = envFloat("STEER_KP", cfg.drive.steering.Kp)
	cfg.drive.steering.Ki = envFloat("STEER_KI", cfg.drive.steering.Ki)
	cfg.drive.steering.Kd = envFloat("STEER_KD", cfg.drive.steering.Kd)
	cfg.drive.throttle.Kp = envFloat("THROTTLE_KP", cfg.drive.throttle.Kp)
	cfg.drive.throttle.Ki = envFloat("THROTTLE_KI", cfg.drive.throttle.Ki)
	cfg.drive.throttle.Kd = envFloat("THROTTLE_KD", cfg.drive.throttle.Kd)

	cfg.tuning.EquilibrationPeriod = envInt("EQUILIBRATION_PERIOD", cfg.tuning.EquilibrationPeriod)
	cfg.tuning.ErrorPeriod = envInt("ERROR_PERIOD", cfg.tuning.ErrorPeriod)
	cfg.tuning.StepFraction = envFloat("STEP_FRACTION", cfg.tuning.StepFraction)
	cfg.tuning.ShrinkFactor = envFloat("SHRINK_FACTOR", cfg.tuning.ShrinkFactor)
	cfg.tuning.GrowFactor = envFloat("GROW_FACTOR", cfg.tuning.GrowFactor)

	cfg.offlineSteps = envInt("OFFLINE_STEPS", 0)
	cfg.statusSeconds = envInt("STATUS_SECONDS", cfg.statusSeconds)
	if cfg.statusSeconds <= 0 {
		log.Fatalf("STATUS_SECONDS must be positive")
	}

	cfg.haURI = os.Getenv("HAURI")
	cfg.haToken = os.Getenv("HATOKEN")
	cfg.notifyDevice = os.Getenv("NOTIFY_DEVICE")

	return cfg
}

func envInt(key string, def int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("invalid %s %q: %v", key, value, err)
	}
	return i
}

func envFloat(key string, def float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Fatalf("invalid %s %q: %v", key, value, err)
	}
	return f
}

func envBool(key string, def bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Fatalf("invalid %s %q: %v", key, value, err)
	}
	return b
}
