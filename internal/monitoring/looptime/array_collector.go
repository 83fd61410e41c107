package looptime

import (
	"fmt"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
)

// arrayCollector captures every loop time since the last reset. As storage
// and computation are both O(n), it is intended for short runs such as
// tuning sessions and simulations.
type arrayCollector struct {
	loopTimesSeconds    []float64
	loopTimesSecondsMux *sync.Mutex
}

func NewArrayCollector() *arrayCollector {
	return &arrayCollector{
		loopTimesSeconds:    []float64{},
		loopTimesSecondsMux: &sync.Mutex{},
	}
}

func (c *arrayCollector) Add(t time.Duration) {
	c.loopTimesSecondsMux.Lock()
	c.loopTimesSeconds = append(c.loopTimesSeconds, t.Seconds())
	c.loopTimesSecondsMux.Unlock()
}

func (c *arrayCollector) Aggregate() *Aggregation {
	// The stats package creates a copy of the array, so we must hold onto the
	// mutex while calculations are being made.
	c.loopTimesSecondsMux.Lock()
	defer c.loopTimesSecondsMux.Unlock()

	// The stats package requires input arrays to be non-empty.
	if len(c.loopTimesSeconds) == 0 {
		return &Aggregation{}
	}

	p50, err := stats.Median(c.loopTimesSeconds)
	if err != nil {
		panic(fmt.Errorf("unexpected err in arrayCollector.Aggregate() while calculating p50: %w", err))
	}
	p75, err := stats.Percentile(c.loopTimesSeconds, 75)
	if err != nil {
		panic(fmt.Errorf("unexpected err in arrayCollector.Aggregate() while calculating p75: %w", err))
	}
	p95, err := stats.Percentile(c.loopTimesSeconds, 95)
	if err != nil {
		panic(fmt.Errorf("unexpected err in arrayCollector.Aggregate() while calculating p95: %w", err))
	}
	max, err := stats.Max(c.loopTimesSeconds)
	if err != nil {
		panic(fmt.Errorf("unexpected err in arrayCollector.Aggregate() while calculating max: %w", err))
	}

	return &Aggregation{
		P50:     time.Duration(p50 * float64(time.Second)),
		P75:     time.Duration(p75 * float64(time.Second)),
		P95:     time.Duration(p95 * float64(time.Second)),
		Max:     time.Duration(max * float64(time.Second)),
		Samples: len(c.loopTimesSeconds),
	}
}

func (c *arrayCollector) Reset() {
	c.loopTimesSecondsMux.Lock()
	c.loopTimesSeconds = []float64{}
	c.loopTimesSecondsMux.Unlock()
}
