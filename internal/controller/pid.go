package controller

import (
	"errors"
	"fmt"
	"time"
)

// PIDController corrects the error between a setpoint and a measurement. The
// setpoint is passed on every update so that it can be rate limited upstream.
type PIDController struct {
	clock         Clock     // Used to read the current time in a testable manner.
	kp            float64   // Proportional gain constant.
	ki            float64   // Integral gain constant.
	kd            float64   // Differential gain constant.
	minOutput     float64   // Output will never go below lower bound.
	maxOutput     float64   // Output will never go above upper bound.
	minSampleTime float64   // Output will not change before minSampleTime is elapsed.
	lastOutput    float64   // If minSampleTime has not yet elapsed, this will be the output.
	lastTick      time.Time // Used to scale differential and integral terms and to enforce minSampleTime.
	lastInput     float64   // Used to calculate the differential term.
	integral      float64   // Running integral term for PID calculation.

	// Debug variables expose the terms of the last calculation for logging.
	DebugP   float64
	DebugI   float64
	DebugD   float64
	DebugErr float64
}

func NewPIDController(clock Clock, kp float64, ki float64, kd float64, isReversed bool, minOutput float64, maxOutput float64, minSampleTime float64) (*PIDController, error) {
	if kp < 0 || ki < 0 || kd < 0 {
		return nil, errors.New("expected positive controller parameters; got negative (toggle isReversed instead)")
	}
	if minOutput > maxOutput {
		return nil, fmt.Errorf("expected minOutput <= maxOutput; got minOutput = %.3f, maxOutput = %.3f", minOutput, maxOutput)
	}

	// If reversed, then a positive error (setpoint - input) will decrease
	// the control output.
	if isReversed {
		kp = -kp
		ki = -ki
		kd = -kd
	}

	return &PIDController{
		clock:         clock,
		kp:            kp,
		ki:            ki,
		kd:            kd,
		minOutput:     minOutput,
		maxOutput:     maxOutput,
		minSampleTime: minSampleTime,
	}, nil
}

func (c *PIDController) Update(setpoint float64, input float64) float64 {
	now := c.clock.Now()

	// The elapsed time > 0 only once a control loop has been made.
	var elapsed float64
	if !c.lastTick.IsZero() {
		elapsed = now.Sub(c.lastTick).Seconds()
		if elapsed < c.minSampleTime {
			// Ensure the control loop is called after the minimum sample time has passed.
			return c.lastOutput
		}
	}

	// Calculate PID terms.
	err := setpoint - input
	p := c.kp * err

	c.integral += c.ki * err * elapsed
	// Clamp the integral to the output bounds to prevent windup while the
	// motor is saturated or stalled.
	if c.integral > c.maxOutput {
		c.integral = c.maxOutput
	} else if c.integral < c.minOutput {
		c.integral = c.minOutput
	}

	// Differentiate on the measurement so that setpoint steps do not kick.
	var d float64
	if elapsed != 0 {
		d = c.kd * -((input - c.lastInput) / elapsed)
	}

	output := p + c.integral + d
	if output > c.maxOutput {
		output = c.maxOutput
	} else if output < c.minOutput {
		output = c.minOutput
	}

	c.DebugP = p
	c.DebugI = c.integral
	c.DebugD = d
	c.DebugErr = err

	// Save calculations for the next loop.
	c.lastTick = now
	c.lastInput = input
	c.lastOutput = output

	return output
}

// Reset clears accumulated state so the controller behaves as if newly
// constructed.
func (c *PIDController) Reset() {
	c.lastOutput = 0
	c.lastTick = time.Time{}
	c.lastInput = 0
	c.integral = 0

	c.DebugP = 0
	c.DebugI = 0
	c.DebugD = 0
	c.DebugErr = 0
}
