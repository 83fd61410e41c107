package simulation

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/kcz17/velocityctl/internal/controller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMotor(t *testing.T, clock *controller.ManualClock) *Motor {
	motor, err := NewMotor(&MotorOptions{
		Clock:        clock,
		Resolution:   1000,
		MaxVelocity:  100,
		TimeConstant: 0.1,
		Stiction:     20,
	})
	require.Nilf(t, err, "expected NewMotor(...) has no err; got %v", err)
	return motor
}

func TestMotor_ReachesSteadyStateVelocity(t *testing.T) {
	clock := controller.NewManualClock()
	motor := newTestMotor(t, clock)

	require.Nil(t, motor.SetMotorControl(500))
	clock.Advance(2 * time.Second)
	assert.InDelta(t, 50.0, motor.Velocity(), 1e-3)

	// After the lag has settled the rotor covers 50 rad every second.
	start := motor.Position()
	clock.Advance(time.Second)
	assert.InDelta(t, 50.0, motor.Position()-start, 1e-3)
}

func TestMotor_ReversesDirection(t *testing.T) {
	clock := controller.NewManualClock()
	motor := newTestMotor(t, clock)

	require.Nil(t, motor.SetMotorControl(-1000))
	clock.Advance(2 * time.Second)
	assert.InDelta(t, -100.0, motor.Velocity(), 1e-3)
}

func TestMotor_StictionHoldsRotor(t *testing.T) {
	clock := controller.NewManualClock()
	motor := newTestMotor(t, clock)

	require.Nil(t, motor.SetMotorControl(19))
	clock.Advance(time.Second)
	assert.Equal(t, 0.0, motor.Velocity())

	require.Nil(t, motor.SetMotorControl(20))
	clock.Advance(time.Second)
	assert.InDelta(t, 2.0, motor.Velocity(), 1e-3)
}

func TestMotor_SetMotorControl_ClampsOutOfRangeCommands(t *testing.T) {
	motor := newTestMotor(t, controller.NewManualClock())

	err := motor.SetMotorControl(1500)
	assert.Truef(t, errors.Is(err, ErrCommandOutOfRange), "expected ErrCommandOutOfRange; got %v", err)
	assert.Equal(t, int32(1000), motor.Command())

	err = motor.SetMotorControl(-2000)
	assert.Truef(t, errors.Is(err, ErrCommandOutOfRange), "expected ErrCommandOutOfRange; got %v", err)
	assert.Equal(t, int32(-1000), motor.Command())
}

func TestNewMotor_RejectsInvalidOptions(t *testing.T) {
	clock := controller.NewManualClock()
	tests := []struct {
		name    string
		options *MotorOptions
	}{
		{name: "nil clock", options: &MotorOptions{Resolution: 1000, TimeConstant: 1}},
		{name: "zero resolution", options: &MotorOptions{Clock: clock, TimeConstant: 1}},
		{name: "zero time constant", options: &MotorOptions{Clock: clock, Resolution: 1000}},
		{name: "negative stiction", options: &MotorOptions{Clock: clock, Resolution: 1000, TimeConstant: 1, Stiction: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMotor(tt.options)
			assert.NotNil(t, err)
		})
	}
}

type fixedPosition struct {
	position float64
}

func (p *fixedPosition) Position() float64 { return p.position }

func TestEncoder_Update(t *testing.T) {
	clock := controller.NewManualClock()
	source := &fixedPosition{}
	encoder, err := NewEncoder(&EncoderOptions{
		Clock:              clock,
		Source:             source,
		TicksPerRevolution: 1000,
	})
	require.Nil(t, err)

	// Readings are only refreshed by Update.
	source.position = math.Pi
	clock.Advance(100 * time.Millisecond)
	assert.Equal(t, 0.0, encoder.Velocity())

	encoder.Update()
	assert.InDelta(t, 10*math.Pi, encoder.Velocity(), 1e-6)

	// A second update at the same instant keeps the reading.
	encoder.Update()
	assert.InDelta(t, 10*math.Pi, encoder.Velocity(), 1e-6)

	clock.Advance(100 * time.Millisecond)
	encoder.Update()
	assert.Equal(t, 0.0, encoder.Velocity())
}

func TestEncoder_Noise(t *testing.T) {
	newNoisyEncoder := func(clock *controller.ManualClock, seed uint64) *Encoder {
		encoder, err := NewEncoder(&EncoderOptions{
			Clock:              clock,
			Source:             &fixedPosition{},
			TicksPerRevolution: 1000,
			NoiseStdDev:        0.5,
			Seed:               seed,
		})
		require.Nil(t, err)
		return encoder
	}

	clock := controller.NewManualClock()
	a := newNoisyEncoder(clock, 42)
	b := newNoisyEncoder(clock, 42)

	var sum float64
	samples := 2000
	for i := 0; i < samples; i++ {
		clock.Advance(10 * time.Millisecond)
		a.Update()
		b.Update()
		require.Equal(t, a.Velocity(), b.Velocity(), "expected encoders with the same seed to agree")
		sum += a.Velocity()
	}
	assert.NotEqual(t, 0.0, a.Velocity())
	assert.InDelta(t, 0.0, sum/float64(samples), 0.1)
}

func TestEncoder_TracksMotor(t *testing.T) {
	clock := controller.NewManualClock()
	motor := newTestMotor(t, clock)
	encoder, err := NewEncoder(&EncoderOptions{
		Clock:              clock,
		Source:             motor,
		TicksPerRevolution: 4096,
	})
	require.Nil(t, err)

	require.Nil(t, motor.SetMotorControl(800))
	clock.Advance(2 * time.Second)
	encoder.Update()
	clock.Advance(100 * time.Millisecond)
	encoder.Update()

	// Quantisation error is at most one tick over the sampling period.
	tickResolution := 2 * math.Pi / 4096 / 0.1
	assert.InDelta(t, 80.0, encoder.Velocity(), tickResolution)
}
