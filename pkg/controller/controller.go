// Package controller implements adaptive batch sizing. The controller warms
// up at a fixed size, then steers batch size toward a target per-batch
// latency, shrinking immediately under CPU or memory pressure.
package controller

import (
	"math"
	"sync"
	"time"

	"github.com/flowbatch/flowbatch/pkg/config"
	"github.com/flowbatch/flowbatch/pkg/metrics"
	"github.com/flowbatch/flowbatch/pkg/sysmon"
)

// Phase is the controller lifecycle phase. The transition from Warming to
// Adaptive is one-way.
type Phase string

const (
	PhaseWarming  Phase = "Warming"
	PhaseAdaptive Phase = "Adaptive"
)

// pressureShrinkFactor is applied when CPU or memory exceeds its threshold.
const pressureShrinkFactor = 0.8

// Dead zone around the target latency ratio. Inside it the size is left
// alone so the controller does not oscillate.
const (
	ratioGrowBelow   = 0.7
	ratioShrinkAbove = 1.3
)

// Controller chooses the next batch size. It assumes a single control
// goroutine calls NextSize/Observe/Reset; the internal lock exists so that
// reporting collaborators can read state concurrently.
type Controller struct {
	cfg      config.Config
	onAdjust func(Adjustment)

	mu         sync.Mutex
	size       int
	phase      Phase
	observed   int
	lastAdjust time.Time
	history    []Adjustment
}

// Option configures a Controller.
type Option func(*Controller)

// WithOnAdjust registers a hook invoked after every recorded adjustment,
// outside the controller lock.
func WithOnAdjust(fn func(Adjustment)) Option {
	return func(c *Controller) { c.onAdjust = fn }
}

// New creates a controller starting at cfg.InitialBatchSize in the Warming
// phase.
func New(cfg config.Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:   cfg,
		size:  cfg.InitialBatchSize,
		phase: PhaseWarming,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CurrentSize returns the current batch size.
func (c *Controller) CurrentSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Phase returns the current lifecycle phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Observe counts a completed batch. Once cfg.WarmupBatches batches have been
// observed the controller leaves the Warming phase for good.
func (c *Controller) Observe(metrics.BatchRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observed++
	if c.phase == PhaseWarming && c.observed >= c.cfg.WarmupBatches {
		c.phase = PhaseAdaptive
	}
}

// Reset restores the initial size and the Warming phase for a new run.
// The adjustment history is retained; it is append-only across runs.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.size = c.cfg.InitialBatchSize
	c.phase = PhaseWarming
	c.observed = 0
}

// NextSize returns the batch size to use for the next submission, never
// outside [MinBatchSize, MaxBatchSize] and never above remaining so the
// final batch is not padded.
func (c *Controller) NextSize(remaining int, window []metrics.BatchRecord, res sysmon.Snapshot) int {
	c.mu.Lock()
	size, adj := c.nextLocked(window, res)
	c.mu.Unlock()

	if adj != nil && c.onAdjust != nil {
		c.onAdjust(*adj)
	}

	if remaining < size {
		return remaining
	}
	return size
}

func (c *Controller) nextLocked(window []metrics.BatchRecord, res sysmon.Snapshot) (int, *Adjustment) {
	if c.phase == PhaseWarming {
		return c.size, nil
	}

	// Resource pressure overrides throughput optimization. CPU and memory
	// are each checked against their own threshold.
	if res.CPUPercent > c.cfg.CPUThresholdPercent || res.MemoryUsedMB > c.cfg.MemoryThresholdMB {
		next := int(math.Floor(float64(c.size) * pressureShrinkFactor))
		if next < c.cfg.MinBatchSize {
			next = c.cfg.MinBatchSize
		}
		adj := c.adjust(next, ReasonResourcePressure, 0, 0)
		return c.size, adj
	}

	if len(window) < c.cfg.PerformanceWindow {
		return c.size, nil
	}

	avgTime, avgThroughput, ok := successAverages(window)
	if !ok {
		return c.size, nil
	}

	ratio := float64(avgTime) / float64(c.cfg.TargetProcessingTime)
	switch {
	case ratio < ratioGrowBelow:
		next := int(math.Ceil(float64(c.size) * (1 + c.cfg.AdaptationSensitivity)))
		if next > c.cfg.MaxBatchSize {
			next = c.cfg.MaxBatchSize
		}
		adj := c.adjust(next, ReasonBelowTarget, avgTime, avgThroughput)
		return c.size, adj
	case ratio > ratioShrinkAbove:
		next := int(math.Floor(float64(c.size) * (1 - c.cfg.AdaptationSensitivity)))
		if next < c.cfg.MinBatchSize {
			next = c.cfg.MinBatchSize
		}
		adj := c.adjust(next, ReasonAboveTarget, avgTime, avgThroughput)
		return c.size, adj
	default:
		return c.size, nil
	}
}

// adjust applies a size change and records it. A no-op change (already at a
// bound) is not recorded.
func (c *Controller) adjust(next int, reason Reason, avgTime time.Duration, avgThroughput float64) *Adjustment {
	if next == c.size {
		return nil
	}
	adj := Adjustment{
		Timestamp:         time.Now(),
		OldSize:           c.size,
		NewSize:           next,
		Reason:            reason,
		AvgProcessingTime: avgTime,
		AvgThroughput:     avgThroughput,
	}
	c.size = next
	c.lastAdjust = adj.Timestamp
	c.history = append(c.history, adj)
	return &adj
}

func successAverages(window []metrics.BatchRecord) (time.Duration, float64, bool) {
	var (
		totalTime       time.Duration
		totalThroughput float64
		n               int
	)
	for _, r := range window {
		if r.SuccessRate > 0 {
			totalTime += r.ProcessingTime
			totalThroughput += r.Throughput
			n++
		}
	}
	if n == 0 {
		return 0, 0, false
	}
	return totalTime / time.Duration(n), totalThroughput / float64(n), true
}
