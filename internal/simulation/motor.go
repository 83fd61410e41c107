package simulation

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kcz17/velocityctl/internal/controller"
)

var ErrCommandOutOfRange = errors.New("motor command out of range")

type MotorOptions struct {
	Clock controller.Clock
	// Resolution is the full-scale command in either direction.
	Resolution int32
	// MaxVelocity is the steady state speed in rad/s at full-scale command.
	MaxVelocity float64
	// TimeConstant is the first order lag of the rotor in seconds.
	TimeConstant float64
	// Stiction is the command magnitude below which static friction stops
	// the rotor from producing any torque.
	Stiction int32
}

// Motor simulates a DC motor as a first order lag from command to velocity.
// The plant is advanced lazily to the clock's current time whenever it is
// read or commanded.
type Motor struct {
	clock        controller.Clock
	resolution   int32
	maxVelocity  float64
	timeConstant float64
	stiction     int32

	command  int32
	velocity float64 // rad/s
	position float64 // rad
	lastTick time.Time
}

func NewMotor(options *MotorOptions) (*Motor, error) {
	if options.Clock == nil {
		return nil, errors.New("NewMotor() expected clock; got nil")
	}
	if options.Resolution <= 0 {
		return nil, fmt.Errorf("NewMotor() expected positive resolution; got %d", options.Resolution)
	}
	if options.TimeConstant <= 0 {
		return nil, fmt.Errorf("NewMotor() expected positive time constant; got %.3f", options.TimeConstant)
	}
	if options.Stiction < 0 {
		return nil, fmt.Errorf("NewMotor() expected non-negative stiction; got %d", options.Stiction)
	}

	return &Motor{
		clock:        options.Clock,
		resolution:   options.Resolution,
		maxVelocity:  options.MaxVelocity,
		timeConstant: options.TimeConstant,
		stiction:     options.Stiction,
		lastTick:     options.Clock.Now(),
	}, nil
}

// SetMotorControl applies command from now on. Out of range commands are
// clamped to the motor's resolution and reported as ErrCommandOutOfRange.
func (m *Motor) SetMotorControl(command int32) error {
	m.advance()

	if command > m.resolution || command < -m.resolution {
		clamped := m.resolution
		if command < 0 {
			clamped = -m.resolution
		}
		m.command = clamped
		return fmt.Errorf("got command %d, clamped to %d: %w", command, clamped, ErrCommandOutOfRange)
	}

	m.command = command
	return nil
}

func (m *Motor) Command() int32 {
	return m.command
}

func (m *Motor) Velocity() float64 {
	m.advance()
	return m.velocity
}

func (m *Motor) Position() float64 {
	m.advance()
	return m.position
}

func (m *Motor) advance() {
	now := m.clock.Now()
	dt := now.Sub(m.lastTick).Seconds()
	m.lastTick = now
	if dt <= 0 {
		return
	}

	var drive float64
	if m.command >= m.stiction || m.command <= -m.stiction {
		drive = float64(m.command) / float64(m.resolution)
	}
	target := m.maxVelocity * drive

	// Exact solution of the first order lag over dt, so the plant stays
	// stable however coarsely it is sampled.
	decay := math.Exp(-dt / m.timeConstant)
	m.position += target*dt + (m.velocity-target)*m.timeConstant*(1-decay)
	m.velocity = target + (m.velocity-target)*decay
}
