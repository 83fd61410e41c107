package looptime

import "time"

// Drivers selectable from configuration.
const (
	DriverTachymeter = "tachymeter"
	DriverArray      = "array"
)

type Aggregation struct {
	P50 time.Duration // P50 is the 50th percentile loop time.
	P75 time.Duration // P75 is the 75th percentile loop time.
	P95 time.Duration // P95 is the 95th percentile loop time.
	Max time.Duration // Max is the slowest loop time, used to detect overruns.
	// Samples is the number of loop times aggregated over.
	Samples int
}

type Collector interface {
	Add(t time.Duration)     // Add records how long one control loop iteration took.
	Aggregate() *Aggregation // Aggregate calculates percentiles over the collected loop times.
	Reset()                  // Reset resets the state of the collector for reuse.
}
