package metrics

import (
	"sort"
	"sync"
)

// Stats summarizes one field over the successful records of a window.
type Stats struct {
	Mean   float64
	Median float64
	Count  int
}

// Window is a bounded history of recent batch outcomes. The writer (the
// pipeline control loop) and readers (reporting collaborators) may run
// concurrently.
//
// The history is allowed to grow to twice the configured length before being
// trimmed back, which bounds memory while keeping enough signal for trend
// statistics.
type Window struct {
	mu      sync.RWMutex
	size    int
	records []BatchRecord
}

// NewWindow creates a window that retains roughly size records.
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{
		size:    size,
		records: make([]BatchRecord, 0, 2*size),
	}
}

// Record appends a batch outcome, trimming the history to the window length
// once it exceeds twice the window length.
func (w *Window) Record(r BatchRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.records = append(w.records, r)
	if len(w.records) > 2*w.size {
		trimmed := make([]BatchRecord, w.size, 2*w.size)
		copy(trimmed, w.records[len(w.records)-w.size:])
		w.records = trimmed
	}
}

// Len returns the current number of retained records.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.records)
}

// Size returns the configured window length.
func (w *Window) Size() int {
	return w.size
}

// Snapshot returns a defensive copy of the retained records, oldest first.
func (w *Window) Snapshot() []BatchRecord {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]BatchRecord, len(w.records))
	copy(out, w.records)
	return out
}

// Reset discards all retained records.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = w.records[:0]
}

// Statistics computes mean and median of the given field over records with
// SuccessRate > 0. The second return is false when no such record exists.
func (w *Window) Statistics(f Field) (Stats, bool) {
	w.mu.RLock()
	values := make([]float64, 0, len(w.records))
	for _, r := range w.records {
		if r.SuccessRate > 0 {
			values = append(values, f.value(r))
		}
	}
	w.mu.RUnlock()

	if len(values) == 0 {
		return Stats{}, false
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	sort.Float64s(values)

	median := values[len(values)/2]
	if len(values)%2 == 0 {
		median = (values[len(values)/2-1] + values[len(values)/2]) / 2
	}

	return Stats{
		Mean:   sum / float64(len(values)),
		Median: median,
		Count:  len(values),
	}, true
}
