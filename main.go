package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kcz17/velocityctl/internal/config"
	"github.com/kcz17/velocityctl/internal/controller"
	"github.com/kcz17/velocityctl/internal/filters"
	"github.com/kcz17/velocityctl/internal/logging"
	"github.com/kcz17/velocityctl/internal/monitoring/looptime"
	"github.com/kcz17/velocityctl/internal/motorcontrol"
	"github.com/kcz17/velocityctl/internal/serving"
	"github.com/kcz17/velocityctl/internal/simulation"
)

func main() {
	conf := config.ReadConfig()

	var logger logging.Logger
	switch *conf.Logging.Driver {
	case logging.DriverNoop:
		logger = logging.NewNoopLogger()
	case logging.DriverStdout:
		logger = logging.NewStdoutLogger()
	case logging.DriverInfluxDB:
		influxLogger := logging.NewInfluxDBLogger(
			*conf.Logging.InfluxDB.Host,
			*conf.Logging.InfluxDB.Token,
			*conf.Logging.InfluxDB.Org,
			*conf.Logging.InfluxDB.Bucket,
		)
		defer influxLogger.Close()
		logger = influxLogger
	default:
		log.Fatalf("expected logging driver one of {noop, stdout, influxdb}; got %s", *conf.Logging.Driver)
	}
	logger = logging.NewSampledLogger(logger, *conf.Logging.Every)

	var collector looptime.Collector
	switch *conf.Monitoring.Collector {
	case looptime.DriverTachymeter:
		tachymeterCollector, err := looptime.NewTachymeterCollector(*conf.Monitoring.Window)
		if err != nil {
			log.Fatalf("expected looptime.NewTachymeterCollector() returns nil err; got err = %v", err)
		}
		collector = tachymeterCollector
	case looptime.DriverArray:
		collector = looptime.NewArrayCollector()
	default:
		log.Fatalf("expected monitoring collector one of {tachymeter, array}; got %s", *conf.Monitoring.Collector)
	}

	clock := controller.NewRealtimeClock()
	motor, err := simulation.NewMotor(&simulation.MotorOptions{
		Clock:        clock,
		Resolution:   *conf.Controller.PWMResolution,
		MaxVelocity:  *conf.Simulation.MaxVelocity,
		TimeConstant: *conf.Simulation.TimeConstant,
		Stiction:     *conf.Simulation.Stiction,
	})
	if err != nil {
		log.Fatalf("expected simulation.NewMotor() returns nil err; got err = %v", err)
	}
	encoder, err := simulation.NewEncoder(&simulation.EncoderOptions{
		Clock:              clock,
		Source:             motor,
		TicksPerRevolution: *conf.Simulation.TicksPerRevolution,
		NoiseStdDev:        *conf.Simulation.NoiseStdDev,
		Seed:               *conf.Simulation.Seed,
	})
	if err != nil {
		log.Fatalf("expected simulation.NewEncoder() returns nil err; got err = %v", err)
	}

	pidConf := conf.Controller.PID
	pid, err := controller.NewPIDController(
		clock,
		*pidConf.Kp,
		*pidConf.Ki,
		*pidConf.Kd,
		*pidConf.IsReversed,
		*pidConf.MinOutput,
		*pidConf.MaxOutput,
		*pidConf.MinSampleTime,
	)
	if err != nil {
		log.Fatalf("expected controller.NewPIDController() returns nil err; got err = %v", err)
	}

	inputFilter, err := newFilter(conf.Controller.InputFilter)
	if err != nil {
		log.Fatalf("could not create input filter: err = %v", err)
	}
	outputFilter, err := newFilter(conf.Controller.OutputFilter)
	if err != nil {
		log.Fatalf("could not create output filter: err = %v", err)
	}

	var rateLimiter motorcontrol.RateLimitingFilter = filters.NewPassThroughRateLimiter()
	if *conf.Controller.RateLimit.Enabled {
		rateLimiter, err = filters.NewRateLimitingFilter(*conf.Controller.RateLimit.MaxStep)
		if err != nil {
			log.Fatalf("could not create rate limiting filter: err = %v", err)
		}
	}

	velocityController, err := motorcontrol.NewVelocityController(&motorcontrol.VelocityControllerOptions{
		MotorDriver:        motor,
		Encoder:            encoder,
		PID:                pid,
		InputFilter:        inputFilter,
		OutputFilter:       outputFilter,
		RateLimitingFilter: rateLimiter,
		DeadbandThreshold:  *conf.Controller.DeadbandThreshold,
		MinimumOutput:      *conf.Controller.MinimumOutput,
		PWMResolution:      *conf.Controller.PWMResolution,
		SaturateOutput:     *conf.Controller.SaturateOutput,
	})
	if err != nil {
		log.Fatalf("expected motorcontrol.NewVelocityController() returns nil err; got err = %v", err)
	}

	var resetters []serving.Resetter
	for _, collaborator := range []interface{}{inputFilter, outputFilter, rateLimiter} {
		if r, ok := collaborator.(serving.Resetter); ok {
			resetters = append(resetters, r)
		}
	}

	loop, err := serving.NewControlLoop(&serving.ControlLoopOptions{
		Controller:        velocityController,
		PID:               pid,
		MotorDriver:       motor,
		Resetters:         resetters,
		LoopTimeCollector: collector,
		Logger:            logger,
		SamplePeriod:      time.Duration(*conf.Controller.SamplePeriod * float64(time.Second)),
		ReportInterval:    *conf.Monitoring.ReportInterval,
	})
	if err != nil {
		log.Fatalf("expected serving.NewControlLoop() returns nil err; got err = %v", err)
	}

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	if err := loop.Start(); err != nil {
		log.Fatalf("could not start control loop: err = %v", err)
	}
	playProfile(loop, conf.Profile, stopCh)
	if err := loop.Stop(); err != nil {
		log.Printf("could not stop control loop cleanly: err = %v\n", err)
	}
	fmt.Println("exiting")
}

func newFilter(conf config.Filter) (filters.Filter, error) {
	var alpha float64
	if conf.Alpha != nil {
		alpha = *conf.Alpha
	}
	var window int
	if conf.Window != nil {
		window = *conf.Window
	}
	return filters.New(*conf.Kind, alpha, window)
}

// playProfile holds each desired speed for its duration, returning early if a
// signal is received.
func playProfile(loop *serving.ControlLoop, profile []config.Step, stopCh <-chan os.Signal) {
	for _, step := range profile {
		log.Printf("desired speed: %.3f rad/s for %.1fs\n", *step.Speed, *step.Duration)
		loop.SetDesiredSpeed(*step.Speed)

		select {
		case <-time.After(time.Duration(*step.Duration * float64(time.Second))):
			snapshot := loop.Snapshot()
			log.Printf("end of step: setpoint %.3f, measurement %.3f, command %d\n", snapshot.Setpoint, snapshot.Measurement, snapshot.Command)
		case sig := <-stopCh:
			fmt.Printf("\n%v\n", sig)
			return
		}
	}
}
