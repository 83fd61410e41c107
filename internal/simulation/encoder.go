package simulation

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kcz17/velocityctl/internal/controller"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// PositionSource reports an absolute shaft angle in radians.
type PositionSource interface {
	Position() float64
}

type EncoderOptions struct {
	Clock              controller.Clock
	Source             PositionSource
	TicksPerRevolution int
	// NoiseStdDev adds Gaussian noise in rad/s to each velocity reading. A
	// zero value disables noise.
	NoiseStdDev float64
	// Seed is the random seed used for noise.
	Seed uint64
}

// Encoder quantises the shaft angle into ticks and derives the velocity from
// the tick difference between two updates.
type Encoder struct {
	clock              controller.Clock
	source             PositionSource
	ticksPerRevolution int
	noise              *distuv.Normal

	lastTicks int64
	lastTick  time.Time
	velocity  float64
}

func NewEncoder(options *EncoderOptions) (*Encoder, error) {
	if options.Clock == nil || options.Source == nil {
		return nil, errors.New("NewEncoder() expected clock and source; got nil")
	}
	if options.TicksPerRevolution <= 0 {
		return nil, fmt.Errorf("NewEncoder() expected positive ticks per revolution; got %d", options.TicksPerRevolution)
	}
	if options.NoiseStdDev < 0 {
		return nil, fmt.Errorf("NewEncoder() expected non-negative noise standard deviation; got %.3f", options.NoiseStdDev)
	}

	e := &Encoder{
		clock:              options.Clock,
		source:             options.Source,
		ticksPerRevolution: options.TicksPerRevolution,
	}
	if options.NoiseStdDev > 0 {
		e.noise = &distuv.Normal{
			Mu:    0,
			Sigma: options.NoiseStdDev,
			Src:   rand.NewSource(options.Seed),
		}
	}
	e.lastTicks = e.ticks()
	e.lastTick = options.Clock.Now()

	return e, nil
}

// Update samples the tick count and recalculates the velocity. Calling
// Update twice at the same instant keeps the previous velocity.
func (e *Encoder) Update() {
	now := e.clock.Now()
	ticks := e.ticks()

	dt := now.Sub(e.lastTick).Seconds()
	if dt <= 0 {
		return
	}

	revolutions := float64(ticks-e.lastTicks) / float64(e.ticksPerRevolution)
	e.velocity = revolutions * 2 * math.Pi / dt
	if e.noise != nil {
		e.velocity += e.noise.Rand()
	}

	e.lastTicks = ticks
	e.lastTick = now
}

// Velocity returns the reading of the last Update in rad/s.
func (e *Encoder) Velocity() float64 {
	return e.velocity
}

func (e *Encoder) ticks() int64 {
	return int64(math.Floor(e.source.Position() / (2 * math.Pi) * float64(e.ticksPerRevolution)))
}
