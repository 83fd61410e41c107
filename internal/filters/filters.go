package filters

import (
	"errors"
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
)

// Filter kinds selectable from configuration.
const (
	KindNone          = "none"
	KindLowPass       = "lowpass"
	KindMovingAverage = "movingaverage"
	KindMedian        = "median"
)

type Filter interface {
	Update(value float64) float64
}

// New builds the filter named by kind. alpha is only used by the low pass
// filter and window only by the moving average and median filters.
func New(kind string, alpha float64, window int) (Filter, error) {
	switch kind {
	case KindNone:
		return NewIdentityFilter(), nil
	case KindLowPass:
		return NewLowPassFilter(alpha)
	case KindMovingAverage:
		return NewMovingAverageFilter(window)
	case KindMedian:
		return NewMedianFilter(window)
	default:
		return nil, fmt.Errorf("filters.New() expected kind to be one of {none|lowpass|movingaverage|median}; got %s", kind)
	}
}

// IdentityFilter passes values through unchanged.
type IdentityFilter struct{}

func NewIdentityFilter() *IdentityFilter {
	return &IdentityFilter{}
}

func (*IdentityFilter) Update(value float64) float64 { return value }

// LowPassFilter is a first order exponential smoother. An alpha of 1 passes
// values through, smaller values smooth more heavily.
type LowPassFilter struct {
	alpha       float64
	output      float64
	initialised bool
}

func NewLowPassFilter(alpha float64) (*LowPassFilter, error) {
	if alpha <= 0 || alpha > 1 || math.IsNaN(alpha) {
		return nil, fmt.Errorf("NewLowPassFilter() expected alpha in (0, 1]; got %.3f", alpha)
	}
	return &LowPassFilter{alpha: alpha}, nil
}

func (f *LowPassFilter) Update(value float64) float64 {
	// Seed with the first sample so the output does not ramp up from zero.
	if !f.initialised {
		f.output = value
		f.initialised = true
		return f.output
	}
	f.output += f.alpha * (value - f.output)
	return f.output
}

func (f *LowPassFilter) Reset() {
	f.output = 0
	f.initialised = false
}

// window is a fixed-size ring of the most recent samples.
type window struct {
	values []float64
	next   int
	full   bool
}

func newWindow(size int) (*window, error) {
	if size < 1 {
		return nil, fmt.Errorf("expected window size >= 1; got %d", size)
	}
	return &window{values: make([]float64, size)}, nil
}

func (w *window) add(value float64) {
	w.values[w.next] = value
	w.next = (w.next + 1) % len(w.values)
	if w.next == 0 {
		w.full = true
	}
}

// samples returns the filled part of the window. The returned slice aliases
// the window and must not be modified.
func (w *window) samples() []float64 {
	if w.full {
		return w.values
	}
	return w.values[:w.next]
}

func (w *window) reset() {
	w.next = 0
	w.full = false
}

// MovingAverageFilter outputs the mean of the last window samples.
type MovingAverageFilter struct {
	window *window
}

func NewMovingAverageFilter(size int) (*MovingAverageFilter, error) {
	w, err := newWindow(size)
	if err != nil {
		return nil, fmt.Errorf("NewMovingAverageFilter() failed: %w", err)
	}
	return &MovingAverageFilter{window: w}, nil
}

func (f *MovingAverageFilter) Update(value float64) float64 {
	f.window.add(value)
	// Pass in nil weights as all samples in the window count equally.
	return stat.Mean(f.window.samples(), nil)
}

func (f *MovingAverageFilter) Reset() { f.window.reset() }

// MedianFilter outputs the median of the last window samples, rejecting
// isolated spikes such as missed encoder ticks.
type MedianFilter struct {
	window *window
}

func NewMedianFilter(size int) (*MedianFilter, error) {
	w, err := newWindow(size)
	if err != nil {
		return nil, fmt.Errorf("NewMedianFilter() failed: %w", err)
	}
	return &MedianFilter{window: w}, nil
}

func (f *MedianFilter) Update(value float64) float64 {
	f.window.add(value)
	// The stats package copies its input before sorting.
	median, err := stats.Median(f.window.samples())
	if err != nil {
		panic(fmt.Errorf("unexpected err in MedianFilter.Update() while calculating median: %w", err))
	}
	return median
}

func (f *MedianFilter) Reset() { f.window.reset() }

// RateLimitingFilter moves its output towards the target by at most maxStep
// per update. The first update starts from the current measurement so that
// a running motor is not commanded back to zero.
type RateLimitingFilter struct {
	maxStep     float64
	output      float64
	initialised bool
}

func NewRateLimitingFilter(maxStep float64) (*RateLimitingFilter, error) {
	if maxStep <= 0 || math.IsNaN(maxStep) {
		return nil, errors.New("NewRateLimitingFilter() expected positive maxStep; got non-positive")
	}
	return &RateLimitingFilter{maxStep: maxStep}, nil
}

func (f *RateLimitingFilter) Update(target float64, current float64) float64 {
	if !f.initialised {
		f.output = current
		f.initialised = true
	}

	delta := target - f.output
	if delta > f.maxStep {
		delta = f.maxStep
	} else if delta < -f.maxStep {
		delta = -f.maxStep
	}
	f.output += delta
	return f.output
}

// Reset forgets the last output so the next update restarts from the
// measurement.
func (f *RateLimitingFilter) Reset() {
	f.output = 0
	f.initialised = false
}

// PassThroughRateLimiter returns the target unchanged.
type PassThroughRateLimiter struct{}

func NewPassThroughRateLimiter() *PassThroughRateLimiter {
	return &PassThroughRateLimiter{}
}

func (*PassThroughRateLimiter) Update(target float64, _ float64) float64 { return target }
