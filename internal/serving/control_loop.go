package serving

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/kcz17/velocityctl/internal/controller"
	"github.com/kcz17/velocityctl/internal/logging"
	"github.com/kcz17/velocityctl/internal/monitoring/looptime"
	"github.com/montanaflynn/stats"
)

// VelocityController is the part of motorcontrol.VelocityController driven by
// the control loop.
type VelocityController interface {
	SetTarget(desiredRotationSpeed float64) error
	Setpoint() float64
	Measurement() float64
	Command() int32
}

// MotorDriver is commanded to stop when the control loop is stopped.
type MotorDriver interface {
	SetMotorControl(command int32) error
}

// Resetter is implemented by stateful collaborators such as filters that must
// be cleared when the control loop is reset.
type Resetter interface {
	Reset()
}

// Snapshot is the state published after each control loop iteration.
type Snapshot struct {
	Desired     float64
	Setpoint    float64
	Measurement float64
	Command     int32
}

type ControlLoopOptions struct {
	Controller VelocityController
	// PID is optional. When set, its terms are logged every iteration and it
	// is reset along with the control loop.
	PID *controller.PIDController
	// MotorDriver is optional. When set, it is commanded to zero on Stop.
	MotorDriver       MotorDriver
	Resetters         []Resetter
	LoopTimeCollector looptime.Collector
	Logger            logging.Logger
	SamplePeriod      time.Duration
	// ReportInterval is the number of iterations between loop time and
	// tracking error reports.
	ReportInterval int
}

// ControlLoop provides the periodic execution context for a velocity
// controller. All calls into the controller are confined to the loop
// goroutine, and results are published to other goroutines through
// Snapshot.
type ControlLoop struct {
	controller        VelocityController
	pid               *controller.PIDController
	motorDriver       MotorDriver
	resetters         []Resetter
	loopTimeCollector looptime.Collector
	logger            logging.Logger
	samplePeriod      time.Duration
	reportInterval    int

	// desiredSpeed is written by callers and read once per iteration.
	desiredSpeed    float64
	desiredSpeedMux *sync.RWMutex

	// snapshot is protected from race conditions by snapshotMux.
	snapshot    Snapshot
	snapshotMux *sync.RWMutex

	// trackingErrors holds |setpoint - measurement| since the last report. It
	// is only touched from the loop goroutine.
	trackingErrors []float64
	iterations     int

	// As controlLoop runs in a goroutine, loopWaiter and loopStop allow the
	// spawned goroutine to be gracefully stopped.
	loopStarted bool
	loopWaiter  *sync.WaitGroup
	loopStop    chan bool
}

func NewControlLoop(options *ControlLoopOptions) (*ControlLoop, error) {
	if options.Controller == nil || options.LoopTimeCollector == nil || options.Logger == nil {
		return nil, errors.New("NewControlLoop() expected controller, loop time collector and logger; got nil")
	}
	if options.SamplePeriod <= 0 {
		return nil, fmt.Errorf("NewControlLoop() expected positive sample period; got %v", options.SamplePeriod)
	}
	if options.ReportInterval <= 0 {
		return nil, fmt.Errorf("NewControlLoop() expected positive report interval; got %d", options.ReportInterval)
	}

	return &ControlLoop{
		controller:        options.Controller,
		pid:               options.PID,
		motorDriver:       options.MotorDriver,
		resetters:         options.Resetters,
		loopTimeCollector: options.LoopTimeCollector,
		logger:            options.Logger,
		samplePeriod:      options.SamplePeriod,
		reportInterval:    options.ReportInterval,
		desiredSpeedMux:   &sync.RWMutex{},
		snapshotMux:       &sync.RWMutex{},
	}, nil
}

func (c *ControlLoop) Start() error {
	if c.loopStarted {
		return errors.New("ControlLoop.Start() failed: control loop already started")
	}

	c.startLoop()
	c.loopStarted = true
	return nil
}

// Reset stops the control loop, clears the PID controller, filters and
// collectors, then starts a new control loop.
func (c *ControlLoop) Reset() error {
	if !c.loopStarted {
		return errors.New("ControlLoop.Reset() failed: control loop not running")
	}

	// Stop the loop before resetting so stale state is not written between
	// each reset.
	c.stopLoop()
	if c.pid != nil {
		c.pid.Reset()
	}
	for _, r := range c.resetters {
		r.Reset()
	}
	c.loopTimeCollector.Reset()
	c.trackingErrors = nil
	c.iterations = 0

	c.snapshotMux.Lock()
	c.snapshot = Snapshot{}
	c.snapshotMux.Unlock()

	c.startLoop()
	return nil
}

// Stop stops the control loop and, if a motor driver was given, commands the
// motor to zero.
func (c *ControlLoop) Stop() error {
	if !c.loopStarted {
		return errors.New("ControlLoop.Stop() failed: control loop not running")
	}

	c.stopLoop()
	c.loopStarted = false

	if c.motorDriver != nil {
		if err := c.motorDriver.SetMotorControl(0); err != nil {
			return fmt.Errorf("ControlLoop.Stop() could not stop motor: err = %w", err)
		}
	}
	return nil
}

// SetDesiredSpeed changes the target passed to the controller from the next
// iteration onwards.
func (c *ControlLoop) SetDesiredSpeed(speed float64) {
	c.desiredSpeedMux.Lock()
	c.desiredSpeed = speed
	c.desiredSpeedMux.Unlock()
}

func (c *ControlLoop) readDesiredSpeed() float64 {
	c.desiredSpeedMux.RLock()
	defer c.desiredSpeedMux.RUnlock()
	return c.desiredSpeed
}

// Snapshot returns the state published by the last iteration.
func (c *ControlLoop) Snapshot() Snapshot {
	c.snapshotMux.RLock()
	defer c.snapshotMux.RUnlock()
	return c.snapshot
}

func (c *ControlLoop) startLoop() {
	c.loopStop = make(chan bool, 1)
	c.loopWaiter = &sync.WaitGroup{}
	c.loopWaiter.Add(1)
	go c.controlLoop()
}

func (c *ControlLoop) stopLoop() {
	close(c.loopStop)
	c.loopWaiter.Wait()
}

func (c *ControlLoop) controlLoop() {
	ticker := time.NewTicker(c.samplePeriod)
	defer ticker.Stop()
	defer c.loopWaiter.Done()

	for {
		select {
		case <-ticker.C:
			c.iterate()
		case <-c.loopStop:
			return
		}
	}
}

func (c *ControlLoop) iterate() {
	desired := c.readDesiredSpeed()

	start := time.Now()
	err := c.controller.SetTarget(desired)
	c.loopTimeCollector.Add(time.Since(start))
	if err != nil {
		log.Printf("ControlLoop.iterate() encountered err: %v\n", err)
	}

	snapshot := Snapshot{
		Desired:     desired,
		Setpoint:    c.controller.Setpoint(),
		Measurement: c.controller.Measurement(),
		Command:     c.controller.Command(),
	}
	c.snapshotMux.Lock()
	c.snapshot = snapshot
	c.snapshotMux.Unlock()

	c.logger.LogControlLoop(snapshot.Setpoint, snapshot.Measurement, snapshot.Command)
	if c.pid != nil {
		c.logger.LogPIDControllerState(c.pid.DebugP, c.pid.DebugI, c.pid.DebugD, c.pid.DebugErr)
	}

	c.trackingErrors = append(c.trackingErrors, math.Abs(snapshot.Setpoint-snapshot.Measurement))
	c.iterations++
	if c.iterations%c.reportInterval == 0 {
		c.report()
	}
}

func (c *ControlLoop) report() {
	aggregation := c.loopTimeCollector.Aggregate()
	c.logger.LogLoopTimes(aggregation.P50.Seconds(), aggregation.P75.Seconds(), aggregation.P95.Seconds())
	if aggregation.Max > c.samplePeriod {
		log.Printf("control loop overran its %v sample period: slowest of the last %d iterations took %v\n", c.samplePeriod, aggregation.Samples, aggregation.Max)
	}

	mean, p95, err := trackingErrorStats(c.trackingErrors)
	if err != nil {
		panic(fmt.Errorf("unexpected err in ControlLoop.report() while calculating tracking error: %w", err))
	}
	c.logger.LogTrackingError(mean, p95)
	c.trackingErrors = c.trackingErrors[:0]
}

func trackingErrorStats(errs []float64) (mean float64, p95 float64, err error) {
	mean, err = stats.Mean(errs)
	if err != nil {
		return 0, 0, err
	}
	p95, err = stats.Percentile(errs, 95)
	if err != nil {
		return 0, 0, err
	}
	return mean, p95, nil
}
