// Package metrics tracks batch outcomes: a bounded sliding window of recent
// batches for trend statistics, and cumulative counters for reporting.
package metrics

import (
	"time"

	"github.com/flowbatch/flowbatch/pkg/sysmon"
)

// BatchRecord is the immutable outcome of one batch. One record is created
// per completed or failed batch and never mutated afterwards.
type BatchRecord struct {
	BatchSize      int
	ProcessingTime time.Duration
	// Throughput is items per second for this batch.
	Throughput  float64
	Resources   sysmon.Snapshot
	SuccessRate float64
	// Sequence is the submission order of the batch within a run.
	Sequence  uint64
	Timestamp time.Time
}

// Field selects a numeric dimension of BatchRecord for window statistics.
type Field int

const (
	FieldProcessingTime Field = iota
	FieldThroughput
	FieldBatchSize
)

func (f Field) value(r BatchRecord) float64 {
	switch f {
	case FieldProcessingTime:
		return float64(r.ProcessingTime.Milliseconds())
	case FieldThroughput:
		return r.Throughput
	case FieldBatchSize:
		return float64(r.BatchSize)
	default:
		return 0
	}
}
