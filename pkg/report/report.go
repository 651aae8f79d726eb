// Package report builds read-only performance summaries from the metrics a
// pipeline run leaves behind. It holds no state of its own.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/flowbatch/flowbatch/pkg/controller"
	"github.com/flowbatch/flowbatch/pkg/metrics"
)

// Processing aggregates per-batch measurements.
type Processing struct {
	TotalBatches                 int
	TotalItems                   int64
	TotalProcessingTime          time.Duration
	AvgThroughput                float64 // items per second
	AvgBatchTime                 time.Duration
	AvgBatchSize                 float64
	SuccessRatePercent           float64
	ThroughputImprovementPercent float64 // first 3 batches vs last 3
}

// Optimization describes the controller's end state.
type Optimization struct {
	CurrentBatchSize int
	WarmupCompleted  bool
	AdjustmentsMade  int
}

// Trend captures where throughput ended up and where it peaked.
type Trend struct {
	RecentThroughput    float64 // mean of the last 5 batches
	PeakThroughput      float64
	OptimalSizeEstimate int
}

// Summary is a complete performance report for one run.
type Summary struct {
	Processing    Processing
	Optimization  Optimization
	Trend         Trend
	SizeEvolution []int // NewSize of each adjustment, oldest first
}

// Input bundles everything a Summary is derived from.
type Input struct {
	Records          []metrics.BatchRecord
	Counters         metrics.CountersSnapshot
	History          []controller.Adjustment
	CurrentBatchSize int
	Phase            controller.Phase
}

// Build computes a Summary. ok is false when no batches were recorded, in
// which case the Summary is zero.
func Build(in Input) (s Summary, ok bool) {
	if len(in.Records) == 0 {
		return Summary{}, false
	}

	recs := in.Records
	s.Processing = Processing{
		TotalBatches:        len(recs),
		TotalItems:          in.Counters.ItemsProcessed,
		TotalProcessingTime: in.Counters.TotalProcessingTime,
		AvgThroughput:       mean(recs, throughput),
		AvgBatchTime:        time.Duration(mean(recs, procTime)),
		AvgBatchSize:        mean(recs, size),
		SuccessRatePercent:  mean(recs, successRate) * 100,
	}
	if len(recs) > 1 {
		early := mean(head(recs, 3), throughput)
		recent := mean(tail(recs, 3), throughput)
		if early > 0 {
			s.Processing.ThroughputImprovementPercent = (recent - early) / early * 100
		}
	}

	s.Optimization = Optimization{
		CurrentBatchSize: in.CurrentBatchSize,
		WarmupCompleted:  in.Phase == controller.PhaseAdaptive,
		AdjustmentsMade:  len(in.History),
	}

	s.SizeEvolution = make([]int, len(in.History))
	for i, adj := range in.History {
		s.SizeEvolution[i] = adj.NewSize
	}

	s.Trend = Trend{
		RecentThroughput:    s.Processing.AvgThroughput,
		PeakThroughput:      maxOf(recs, throughput),
		OptimalSizeEstimate: optimalSize(recs, in.CurrentBatchSize),
	}
	if len(recs) >= 5 {
		s.Trend.RecentThroughput = mean(tail(recs, 5), throughput)
	}

	return s, true
}

// optimalSize picks the batch size of the best-throughput record among
// batches that mostly succeeded. Too little data falls back to the current
// size.
func optimalSize(recs []metrics.BatchRecord, current int) int {
	if len(recs) < 5 {
		return current
	}
	best, bestSize := 0.0, current
	for _, r := range recs {
		if r.Throughput > best && r.SuccessRate > 0.9 {
			best = r.Throughput
			bestSize = r.BatchSize
		}
	}
	return bestSize
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "batches=%d items=%d total_time=%s\n",
		s.Processing.TotalBatches, s.Processing.TotalItems, s.Processing.TotalProcessingTime.Round(time.Millisecond))
	fmt.Fprintf(&b, "avg: throughput=%.2f items/s batch_time=%s batch_size=%.1f success=%.1f%%\n",
		s.Processing.AvgThroughput, s.Processing.AvgBatchTime.Round(time.Millisecond),
		s.Processing.AvgBatchSize, s.Processing.SuccessRatePercent)
	fmt.Fprintf(&b, "throughput: improvement=%.1f%% recent=%.2f peak=%.2f\n",
		s.Processing.ThroughputImprovementPercent, s.Trend.RecentThroughput, s.Trend.PeakThroughput)
	fmt.Fprintf(&b, "sizing: current=%d optimal_estimate=%d adjustments=%d warmup_done=%v evolution=%v",
		s.Optimization.CurrentBatchSize, s.Trend.OptimalSizeEstimate,
		s.Optimization.AdjustmentsMade, s.Optimization.WarmupCompleted, s.SizeEvolution)
	return b.String()
}

func throughput(r metrics.BatchRecord) float64 { return r.Throughput }
func procTime(r metrics.BatchRecord) float64   { return float64(r.ProcessingTime) }
func size(r metrics.BatchRecord) float64       { return float64(r.BatchSize) }
func successRate(r metrics.BatchRecord) float64 {
	return r.SuccessRate
}

func mean(recs []metrics.BatchRecord, f func(metrics.BatchRecord) float64) float64 {
	if len(recs) == 0 {
		return 0
	}
	var sum float64
	for _, r := range recs {
		sum += f(r)
	}
	return sum / float64(len(recs))
}

func maxOf(recs []metrics.BatchRecord, f func(metrics.BatchRecord) float64) float64 {
	var m float64
	for _, r := range recs {
		if v := f(r); v > m {
			m = v
		}
	}
	return m
}

func head(recs []metrics.BatchRecord, n int) []metrics.BatchRecord {
	if len(recs) < n {
		return recs
	}
	return recs[:n]
}

func tail(recs []metrics.BatchRecord, n int) []metrics.BatchRecord {
	if len(recs) < n {
		return recs
	}
	return recs[len(recs)-n:]
}
