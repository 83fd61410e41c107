package controller

import (
	"sync"
	"time"
)

// Clock is the time source shared by the PID controller and the simulated
// plant, so that a simulation can run on a ManualClock faster than real time.
type Clock interface {
	Now() time.Time
}

// RealtimeClock reads the wall clock and is used when driving real hardware
// or a real-time simulation.
type RealtimeClock struct{}

func NewRealtimeClock() RealtimeClock {
	return RealtimeClock{}
}

func (RealtimeClock) Now() time.Time { return time.Now() }

// ManualClock only moves when advanced. It may be advanced from a different
// goroutine to the one reading it.
type ManualClock struct {
	mux *sync.RWMutex
	t   time.Time
}

func NewManualClock() *ManualClock {
	return &ManualClock{
		mux: &sync.RWMutex{},
		t:   time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (c *ManualClock) Now() time.Time {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.t
}

// Advance moves the clock forward by d. Negative durations are ignored as
// the PID controller and plant both assume time is monotonic.
func (c *ManualClock) Advance(d time.Duration) {
	if d < 0 {
		return
	}
	c.mux.Lock()
	c.t = c.t.Add(d)
	c.mux.Unlock()
}
