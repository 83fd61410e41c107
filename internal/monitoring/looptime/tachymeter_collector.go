package looptime

import (
	"fmt"
	"time"

	"github.com/jamiealquiza/tachymeter"
)

// tachymeterCollector aggregates over the last window loop times only, so
// that reports follow recent jitter on long runs without unbounded memory.
type tachymeterCollector struct {
	meter *tachymeter.Tachymeter
}

func NewTachymeterCollector(window int) (*tachymeterCollector, error) {
	if window < 1 {
		return nil, fmt.Errorf("NewTachymeterCollector() expected window >= 1; got %d", window)
	}
	return &tachymeterCollector{meter: tachymeter.New(&tachymeter.Config{Size: window})}, nil
}

func (c *tachymeterCollector) Add(loopTime time.Duration) {
	c.meter.AddTime(loopTime)
}

func (c *tachymeterCollector) Aggregate() *Aggregation {
	// Calc returns zeroed metrics before the first loop time is added.
	metrics := c.meter.Calc()
	return &Aggregation{
		P50:     metrics.Time.P50,
		P75:     metrics.Time.P75,
		P95:     metrics.Time.P95,
		Max:     metrics.Time.Max,
		Samples: metrics.Samples,
	}
}

func (c *tachymeterCollector) Reset() {
	c.meter.Reset()
}
