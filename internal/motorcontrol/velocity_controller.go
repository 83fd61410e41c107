package motorcontrol

import (
	"errors"
	"fmt"
	"math"
)

// DefaultPWMResolution is used when VelocityControllerOptions.PWMResolution
// is left unset.
const DefaultPWMResolution int32 = 1000

type VelocityControllerOptions struct {
	MotorDriver        MotorDriver
	Encoder            Encoder
	PID                PIDController
	InputFilter        Filter
	OutputFilter       Filter
	RateLimitingFilter RateLimitingFilter
	// DeadbandThreshold and MinimumOutput are in PWM counts. Commands whose
	// magnitude falls below DeadbandThreshold are zeroed, and commands below
	// MinimumOutput are raised to it.
	DeadbandThreshold int32
	MinimumOutput     int32
	// PWMResolution is the full-scale command in either direction.
	PWMResolution int32
	// SaturateOutput clamps the shaped output to [-1, 1] before scaling. When
	// false, out-of-range PID or filter outputs are scaled uncapped and the
	// motor driver is left to enforce its own bounds.
	SaturateOutput bool
}

// VelocityController runs one iteration of a closed velocity loop per call to
// SetTarget. It does not own its collaborators, which must stay valid for as
// long as the controller is in use. A VelocityController is not safe for
// concurrent use.
type VelocityController struct {
	motorDriver        MotorDriver
	encoder            Encoder
	pid                PIDController
	inputFilter        Filter
	outputFilter       Filter
	rateLimitingFilter RateLimitingFilter

	deadbandThreshold int32
	minimumOutput     int32
	pwmResolution     int32
	saturateOutput    bool

	// currentSetpoint is the rate-limited target of the last SetTarget call.
	currentSetpoint float64
	lastCommand     int32
}

func NewVelocityController(options *VelocityControllerOptions) (*VelocityController, error) {
	if options == nil {
		return nil, errors.New("NewVelocityController() expected options; got nil")
	}
	if options.MotorDriver == nil ||
		options.Encoder == nil ||
		options.PID == nil ||
		options.InputFilter == nil ||
		options.OutputFilter == nil ||
		options.RateLimitingFilter == nil {
		return nil, errors.New("NewVelocityController() expected all collaborators to be set; got nil collaborator")
	}
	if options.DeadbandThreshold < 0 || options.MinimumOutput < 0 {
		return nil, fmt.Errorf("NewVelocityController() expected non-negative deadband threshold and minimum output; got %d and %d", options.DeadbandThreshold, options.MinimumOutput)
	}

	pwmResolution := options.PWMResolution
	if pwmResolution == 0 {
		pwmResolution = DefaultPWMResolution
	} else if pwmResolution < 0 {
		return nil, fmt.Errorf("NewVelocityController() expected positive PWM resolution; got %d", pwmResolution)
	}

	return &VelocityController{
		motorDriver:        options.MotorDriver,
		encoder:            options.Encoder,
		pid:                options.PID,
		inputFilter:        options.InputFilter,
		outputFilter:       options.OutputFilter,
		rateLimitingFilter: options.RateLimitingFilter,
		deadbandThreshold:  options.DeadbandThreshold,
		minimumOutput:      options.MinimumOutput,
		pwmResolution:      pwmResolution,
		saturateOutput:     options.SaturateOutput,
	}, nil
}

// SetTarget drives the motor towards desiredRotationSpeed for one control
// period. The setpoint is updated even if the motor driver rejects the
// resulting command.
func (c *VelocityController) SetTarget(desiredRotationSpeed float64) error {
	// Refresh explicitly so the reading is not a stale cached value.
	c.encoder.Update()
	input := c.inputFilter.Update(c.encoder.Velocity())

	c.currentSetpoint = c.rateLimitingFilter.Update(desiredRotationSpeed, input)

	output := c.pid.Update(c.currentSetpoint, input)
	output = c.outputFilter.Update(output)

	command := c.toCommand(output)
	c.lastCommand = command
	if err := c.motorDriver.SetMotorControl(command); err != nil {
		return fmt.Errorf("VelocityController.SetTarget() could not set motor control to %d: err = %w", command, err)
	}
	return nil
}

// Measurement re-reads the encoder velocity without refreshing or filtering.
func (c *VelocityController) Measurement() float64 {
	return c.encoder.Velocity()
}

// Setpoint returns the rate-limited setpoint, not the raw requested target.
func (c *VelocityController) Setpoint() float64 {
	return c.currentSetpoint
}

// Command returns the last command sent to the motor driver.
func (c *VelocityController) Command() int32 {
	return c.lastCommand
}

// toCommand applies deadband and minimum-drive shaping to an output nominally
// in [-1, 1] and scales it to a PWM command, truncating towards zero.
func (c *VelocityController) toCommand(output float64) int32 {
	// NaN has no direction, so the motor is not driven.
	if math.IsNaN(output) {
		return 0
	}
	if c.saturateOutput {
		output = math.Max(-1, math.Min(1, output))
	}

	scaled := output * float64(c.pwmResolution)
	magnitude := math.Abs(scaled)
	switch {
	case magnitude < float64(c.deadbandThreshold):
		return 0
	case magnitude < float64(c.minimumOutput):
		// An exact zero has no direction to preserve.
		if output == 0 {
			return 0
		}
		if output < 0 {
			return -c.minimumOutput
		}
		return c.minimumOutput
	default:
		// Unsaturated outputs pass through uncapped, but float to int
		// conversion of an out-of-range value is implementation defined, so
		// hold the sign by clamping to the int32 range.
		if scaled >= math.MaxInt32 {
			return math.MaxInt32
		}
		if scaled <= math.MinInt32 {
			return math.MinInt32
		}
		return int32(scaled)
	}
}
