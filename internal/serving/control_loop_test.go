package serving

import (
	"bytes"
	"errors"
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kcz17/velocityctl/internal/controller"
	"github.com/kcz17/velocityctl/internal/logging"
	"github.com/kcz17/velocityctl/internal/monitoring/looptime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// halvingController reports half of the desired speed as its setpoint and a
// measurement lagging one below it.
type halvingController struct {
	mux      sync.Mutex
	calls    int
	setpoint float64
	err      error
}

func (c *halvingController) SetTarget(desired float64) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.calls++
	c.setpoint = desired / 2
	return c.err
}

func (c *halvingController) Setpoint() float64 {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.setpoint
}

func (c *halvingController) Measurement() float64 {
	return c.Setpoint() - 1
}

func (c *halvingController) Command() int32 {
	return int32(c.Setpoint() * 10)
}

func (c *halvingController) callCount() int {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.calls
}

type countingLogger struct {
	mux            sync.Mutex
	controlLoops   int
	pidStates      int
	loopTimes      int
	trackingErrors []float64
}

func (l *countingLogger) LogControlLoop(float64, float64, int32) {
	l.mux.Lock()
	l.controlLoops++
	l.mux.Unlock()
}

func (l *countingLogger) LogPIDControllerState(float64, float64, float64, float64) {
	l.mux.Lock()
	l.pidStates++
	l.mux.Unlock()
}

func (l *countingLogger) LogLoopTimes(float64, float64, float64) {
	l.mux.Lock()
	l.loopTimes++
	l.mux.Unlock()
}

func (l *countingLogger) LogTrackingError(mean float64, _ float64) {
	l.mux.Lock()
	l.trackingErrors = append(l.trackingErrors, mean)
	l.mux.Unlock()
}

// slowController takes longer than the sample period on every call.
type slowController struct {
	halvingController
	delay time.Duration
}

func (c *slowController) SetTarget(desired float64) error {
	time.Sleep(c.delay)
	return c.halvingController.SetTarget(desired)
}

// syncBuffer guards a bytes.Buffer written by the loop goroutine through the
// standard logger.
type syncBuffer struct {
	mux sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mux.Lock()
	defer b.mux.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mux.Lock()
	defer b.mux.Unlock()
	return b.buf.String()
}

type countingResetter struct {
	resets int
}

func (r *countingResetter) Reset() { r.resets++ }

type recordingMotorDriver struct {
	commands []int32
}

func (d *recordingMotorDriver) SetMotorControl(command int32) error {
	d.commands = append(d.commands, command)
	return nil
}

func newTestControlLoop(t *testing.T, options *ControlLoopOptions) *ControlLoop {
	if options.LoopTimeCollector == nil {
		options.LoopTimeCollector = looptime.NewArrayCollector()
	}
	if options.Logger == nil {
		options.Logger = logging.NewNoopLogger()
	}
	options.SamplePeriod = time.Millisecond
	if options.ReportInterval == 0 {
		options.ReportInterval = 5
	}
	c, err := NewControlLoop(options)
	require.Nilf(t, err, "expected NewControlLoop(...) has no err; got %v", err)
	return c
}

func TestNewControlLoop_RejectsInvalidOptions(t *testing.T) {
	valid := func() *ControlLoopOptions {
		return &ControlLoopOptions{
			Controller:        &halvingController{},
			LoopTimeCollector: looptime.NewArrayCollector(),
			Logger:            logging.NewNoopLogger(),
			SamplePeriod:      time.Millisecond,
			ReportInterval:    1,
		}
	}

	tests := []struct {
		name   string
		modify func(*ControlLoopOptions)
	}{
		{name: "nil controller", modify: func(o *ControlLoopOptions) { o.Controller = nil }},
		{name: "nil collector", modify: func(o *ControlLoopOptions) { o.LoopTimeCollector = nil }},
		{name: "nil logger", modify: func(o *ControlLoopOptions) { o.Logger = nil }},
		{name: "zero sample period", modify: func(o *ControlLoopOptions) { o.SamplePeriod = 0 }},
		{name: "zero report interval", modify: func(o *ControlLoopOptions) { o.ReportInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			options := valid()
			tt.modify(options)
			_, err := NewControlLoop(options)
			assert.NotNil(t, err)
		})
	}
}

func TestControlLoop_LifecycleErrors(t *testing.T) {
	c := newTestControlLoop(t, &ControlLoopOptions{Controller: &halvingController{}})

	assert.NotNil(t, c.Reset(), "expected Reset before Start to fail")
	assert.NotNil(t, c.Stop(), "expected Stop before Start to fail")

	require.Nil(t, c.Start())
	assert.NotNil(t, c.Start(), "expected a second Start to fail")
	require.Nil(t, c.Stop())

	// A stopped control loop can be started again.
	require.Nil(t, c.Start())
	require.Nil(t, c.Stop())
}

func TestControlLoop_PublishesSnapshot(t *testing.T) {
	ctrl := &halvingController{}
	c := newTestControlLoop(t, &ControlLoopOptions{Controller: ctrl})

	c.SetDesiredSpeed(10)
	require.Nil(t, c.Start())
	defer c.Stop()

	assert.Eventually(t, func() bool {
		return c.Snapshot() == Snapshot{Desired: 10, Setpoint: 5, Measurement: 4, Command: 50}
	}, time.Second, time.Millisecond)

	c.SetDesiredSpeed(-4)
	assert.Eventually(t, func() bool {
		return c.Snapshot().Setpoint == -2
	}, time.Second, time.Millisecond)
}

func TestControlLoop_Logs(t *testing.T) {
	logger := &countingLogger{}
	pid, err := controller.NewPIDController(controller.NewRealtimeClock(), 1, 0, 0, false, -1, 1, 0)
	require.Nil(t, err)
	c := newTestControlLoop(t, &ControlLoopOptions{
		Controller:     &halvingController{},
		PID:            pid,
		Logger:         logger,
		ReportInterval: 5,
	})

	c.SetDesiredSpeed(8)
	require.Nil(t, c.Start())
	assert.Eventually(t, func() bool {
		logger.mux.Lock()
		defer logger.mux.Unlock()
		return logger.loopTimes >= 2
	}, time.Second, time.Millisecond)
	require.Nil(t, c.Stop())

	logger.mux.Lock()
	defer logger.mux.Unlock()
	assert.GreaterOrEqual(t, logger.controlLoops, 10)
	assert.Equal(t, logger.controlLoops, logger.pidStates)
	assert.Equal(t, logger.loopTimes, len(logger.trackingErrors))
	for _, mean := range logger.trackingErrors {
		assert.InDelta(t, 1.0, mean, 1e-9)
	}
}

func TestControlLoop_Reset(t *testing.T) {
	ctrl := &halvingController{}
	resetter := &countingResetter{}
	pid, err := controller.NewPIDController(controller.NewRealtimeClock(), 1, 1, 0, false, -100, 100, 0)
	require.Nil(t, err)
	pid.Update(10, 0)
	pid.Update(10, 0)

	c := newTestControlLoop(t, &ControlLoopOptions{
		Controller: ctrl,
		PID:        pid,
		Resetters:  []Resetter{resetter},
	})

	c.SetDesiredSpeed(6)
	require.Nil(t, c.Start())
	assert.Eventually(t, func() bool { return ctrl.callCount() > 0 }, time.Second, time.Millisecond)

	require.Nil(t, c.Reset())
	// The loop has been restarted, so it keeps calling the controller.
	calls := ctrl.callCount()
	assert.Eventually(t, func() bool { return ctrl.callCount() > calls }, time.Second, time.Millisecond)
	require.Nil(t, c.Stop())

	assert.Equal(t, 1, resetter.resets)
}

func TestControlLoop_Stop_StopsMotor(t *testing.T) {
	driver := &recordingMotorDriver{}
	c := newTestControlLoop(t, &ControlLoopOptions{
		Controller:  &halvingController{},
		MotorDriver: driver,
	})

	require.Nil(t, c.Start())
	require.Nil(t, c.Stop())
	assert.Equal(t, []int32{0}, driver.commands)
}

func TestControlLoop_KeepsRunningOnControllerError(t *testing.T) {
	ctrl := &halvingController{err: errors.New("bus fault")}
	c := newTestControlLoop(t, &ControlLoopOptions{Controller: ctrl})

	require.Nil(t, c.Start())
	defer c.Stop()
	assert.Eventually(t, func() bool { return ctrl.callCount() >= 3 }, time.Second, time.Millisecond)
}

func TestControlLoop_ReportsOverruns(t *testing.T) {
	out := &syncBuffer{}
	log.SetOutput(out)
	defer log.SetOutput(os.Stderr)

	c := newTestControlLoop(t, &ControlLoopOptions{
		Controller:     &slowController{delay: 3 * time.Millisecond},
		ReportInterval: 2,
	})

	require.Nil(t, c.Start())
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "control loop overran its 1ms sample period")
	}, time.Second, time.Millisecond)
	require.Nil(t, c.Stop())
}

func TestTrackingErrorStats(t *testing.T) {
	mean, p95, err := trackingErrorStats([]float64{1, 2, 3, 4})
	require.Nil(t, err)
	assert.InDelta(t, 2.5, mean, 1e-9)
	assert.InDelta(t, 3.5, p95, 1e-9)

	_, _, err = trackingErrorStats(nil)
	assert.NotNil(t, err)
}
