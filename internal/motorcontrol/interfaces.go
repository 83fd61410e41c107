package motorcontrol

// MotorDriver accepts a signed command in the range
// [-PWMResolution, PWMResolution].
type MotorDriver interface {
	SetMotorControl(command int32) error
}

// Encoder produces a velocity measurement on demand. Update must be called
// before Velocity for the reading to reflect the current time.
type Encoder interface {
	Update()
	Velocity() float64
}

// PIDController is a stateful error-correction transform. Gains and
// integral/derivative state are owned by the implementation.
type PIDController interface {
	Update(setpoint float64, measurement float64) float64
}

// Filter is a stateful signal transform used for input and output smoothing.
type Filter interface {
	Update(value float64) float64
}

// RateLimitingFilter moves towards target no faster than its internal rate
// limit, given the current measurement.
type RateLimitingFilter interface {
	Update(target float64, current float64) float64
}
