package controller

import "time"

// Reason explains why the controller changed the batch size.
type Reason string

const (
	// ReasonResourcePressure means CPU or memory exceeded its threshold.
	ReasonResourcePressure Reason = "resource_pressure"
	// ReasonBelowTarget means batches finished well below the target
	// latency, so the size grew.
	ReasonBelowTarget Reason = "below_target"
	// ReasonAboveTarget means batches ran well above the target latency,
	// so the size shrank.
	ReasonAboveTarget Reason = "above_target"
)

// Adjustment is one entry of the append-only optimization history.
type Adjustment struct {
	Timestamp         time.Time
	OldSize           int
	NewSize           int
	Reason            Reason
	AvgProcessingTime time.Duration
	AvgThroughput     float64
}

// History returns up to limit adjustments starting at offset from, oldest
// first. A limit <= 0 means no limit. Entries are copied; the internal log
// is append-only and never mutated.
func (c *Controller) History(from, limit int) []Adjustment {
	c.mu.Lock()
	defer c.mu.Unlock()

	if from < 0 {
		from = 0
	}
	if from >= len(c.history) {
		return nil
	}
	end := len(c.history)
	if limit > 0 && from+limit < end {
		end = from + limit
	}

	out := make([]Adjustment, end-from)
	copy(out, c.history[from:end])
	return out
}

// HistoryLen returns the number of recorded adjustments.
func (c *Controller) HistoryLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history)
}
