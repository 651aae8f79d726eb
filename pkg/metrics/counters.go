package metrics

import (
	"sync/atomic"
	"time"
)

// Counters holds cumulative processing totals. All fields increase
// monotonically between explicit Resets.
type Counters struct {
	batchesSubmitted atomic.Int64
	batchesCompleted atomic.Int64
	batchesFailed    atomic.Int64
	itemsProcessed   atomic.Int64
	processingTime   atomic.Int64 // nanoseconds
}

// CountersSnapshot is a plain-value view of Counters.
type CountersSnapshot struct {
	BatchesSubmitted    int64
	BatchesCompleted    int64
	BatchesFailed       int64
	ItemsProcessed      int64
	TotalProcessingTime time.Duration
}

func (c *Counters) AddSubmitted(n int64) { c.batchesSubmitted.Add(n) }

// AddCompleted records a successful batch of n items that took d.
func (c *Counters) AddCompleted(n int64, d time.Duration) {
	c.batchesCompleted.Add(1)
	c.itemsProcessed.Add(n)
	c.processingTime.Add(int64(d))
}

// AddFailed records a failed batch that took d before failing.
func (c *Counters) AddFailed(d time.Duration) {
	c.batchesFailed.Add(1)
	c.processingTime.Add(int64(d))
}

// Snapshot returns the current totals.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		BatchesSubmitted:    c.batchesSubmitted.Load(),
		BatchesCompleted:    c.batchesCompleted.Load(),
		BatchesFailed:       c.batchesFailed.Load(),
		ItemsProcessed:      c.itemsProcessed.Load(),
		TotalProcessingTime: time.Duration(c.processingTime.Load()),
	}
}

// Reset zeroes all totals. Called at the start of a run.
func (c *Counters) Reset() {
	c.batchesSubmitted.Store(0)
	c.batchesCompleted.Store(0)
	c.batchesFailed.Store(0)
	c.itemsProcessed.Store(0)
	c.processingTime.Store(0)
}
