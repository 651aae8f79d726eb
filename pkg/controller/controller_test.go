package controller

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/flowbatch/flowbatch/pkg/config"
	"github.com/flowbatch/flowbatch/pkg/metrics"
	"github.com/flowbatch/flowbatch/pkg/sysmon"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.InitialBatchSize = 50
	cfg.MinBatchSize = 10
	cfg.MaxBatchSize = 500
	cfg.TargetProcessingTime = time.Second
	cfg.WarmupBatches = 3
	cfg.PerformanceWindow = 5
	return cfg
}

func makeWindow(n int, dur time.Duration, success float64) []metrics.BatchRecord {
	recs := make([]metrics.BatchRecord, n)
	for i := range recs {
		recs[i] = metrics.BatchRecord{
			BatchSize:      50,
			ProcessingTime: dur,
			Throughput:     50 / dur.Seconds(),
			SuccessRate:    success,
			Timestamp:      time.Now(),
		}
	}
	return recs
}

func warmUp(c *Controller, cfg config.Config) {
	for i := 0; i < cfg.WarmupBatches; i++ {
		c.Observe(metrics.BatchRecord{})
	}
}

func calm() sysmon.Snapshot {
	return sysmon.Snapshot{CPUPercent: 10, MemoryUsedMB: 50}
}

func TestNextSize_WarmupIgnoresTimings(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)

	// Even absurd timings must not move the size before warmup completes.
	fast := makeWindow(10, time.Millisecond, 1.0)
	slow := makeWindow(10, 10*time.Second, 1.0)
	hot := sysmon.Snapshot{CPUPercent: 99, MemoryUsedMB: 9999}

	for i := 0; i < cfg.WarmupBatches-1; i++ {
		for _, w := range [][]metrics.BatchRecord{fast, slow} {
			if got := c.NextSize(10000, w, hot); got != cfg.InitialBatchSize {
				t.Fatalf("NextSize() during warmup = %d, want %d", got, cfg.InitialBatchSize)
			}
		}
		c.Observe(metrics.BatchRecord{})
	}
	if c.Phase() != PhaseWarming {
		t.Errorf("Phase() = %v, want Warming", c.Phase())
	}

	c.Observe(metrics.BatchRecord{})
	if c.Phase() != PhaseAdaptive {
		t.Errorf("Phase() after %d batches = %v, want Adaptive", cfg.WarmupBatches, c.Phase())
	}
}

func TestNextSize_ResourcePressureShrinks(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)
	warmUp(c, cfg)

	before := c.CurrentSize()
	got := c.NextSize(10000, nil, sysmon.Snapshot{CPUPercent: 95, MemoryUsedMB: 50})

	want := int(math.Floor(float64(before) * 0.8))
	if want < cfg.MinBatchSize {
		want = cfg.MinBatchSize
	}
	if got != want {
		t.Errorf("NextSize() under CPU pressure = %d, want %d", got, want)
	}

	adjustments := c.History(0, 0)
	if len(adjustments) != 1 || adjustments[0].Reason != ReasonResourcePressure {
		t.Errorf("expected one resource_pressure adjustment, got %+v", adjustments)
	}
}

func TestNextSize_MemoryThresholdIndependent(t *testing.T) {
	cfg := testConfig()
	cfg.MemoryThresholdMB = 100
	c := New(cfg)
	warmUp(c, cfg)

	// CPU fine, memory over its own threshold.
	got := c.NextSize(10000, nil, sysmon.Snapshot{CPUPercent: 5, MemoryUsedMB: 150})
	if got >= cfg.InitialBatchSize {
		t.Errorf("NextSize() under memory pressure = %d, want < %d", got, cfg.InitialBatchSize)
	}

	// Memory below threshold even though it would exceed the CPU number:
	// the thresholds must not be cross-compared.
	c2 := New(cfg)
	warmUp(c2, cfg)
	got = c2.NextSize(10000, nil, sysmon.Snapshot{CPUPercent: 5, MemoryUsedMB: 90})
	if got != cfg.InitialBatchSize {
		t.Errorf("NextSize() without pressure = %d, want unchanged %d", got, cfg.InitialBatchSize)
	}
}

func TestNextSize_PressureClampsAtMin(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)
	warmUp(c, cfg)

	hot := sysmon.Snapshot{CPUPercent: 95}
	for i := 0; i < 50; i++ {
		got := c.NextSize(10000, nil, hot)
		if got < cfg.MinBatchSize {
			t.Fatalf("NextSize() = %d fell below MinBatchSize %d", got, cfg.MinBatchSize)
		}
	}
	if c.CurrentSize() != cfg.MinBatchSize {
		t.Errorf("CurrentSize() = %d, want pinned at min %d", c.CurrentSize(), cfg.MinBatchSize)
	}
}

func TestNextSize_GrowsWhenFast(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)
	warmUp(c, cfg)

	// 100ms against a 1s target: ratio 0.1, well below the grow bound.
	got := c.NextSize(10000, makeWindow(cfg.PerformanceWindow, 100*time.Millisecond, 1.0), calm())

	want := int(math.Ceil(float64(cfg.InitialBatchSize) * (1 + cfg.AdaptationSensitivity)))
	if got != want {
		t.Errorf("NextSize() = %d, want %d", got, want)
	}

	adjustments := c.History(0, 0)
	if len(adjustments) != 1 || adjustments[0].Reason != ReasonBelowTarget {
		t.Fatalf("expected one below_target adjustment, got %+v", adjustments)
	}
	if adjustments[0].OldSize != cfg.InitialBatchSize || adjustments[0].NewSize != want {
		t.Errorf("adjustment sizes = %d -> %d, want %d -> %d",
			adjustments[0].OldSize, adjustments[0].NewSize, cfg.InitialBatchSize, want)
	}
}

func TestNextSize_ShrinksWhenSlow(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)
	warmUp(c, cfg)

	got := c.NextSize(10000, makeWindow(cfg.PerformanceWindow, 3*time.Second, 1.0), calm())

	want := int(math.Floor(float64(cfg.InitialBatchSize) * (1 - cfg.AdaptationSensitivity)))
	if got != want {
		t.Errorf("NextSize() = %d, want %d", got, want)
	}
}

func TestNextSize_DeadZoneHoldsSteady(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)
	warmUp(c, cfg)

	// Ratios 0.7..1.3 are inside the dead zone.
	for _, dur := range []time.Duration{700 * time.Millisecond, time.Second, 1300 * time.Millisecond} {
		got := c.NextSize(10000, makeWindow(cfg.PerformanceWindow, dur, 1.0), calm())
		if got != cfg.InitialBatchSize {
			t.Errorf("NextSize() with %v batches = %d, want unchanged %d", dur, got, cfg.InitialBatchSize)
		}
	}
	if c.HistoryLen() != 0 {
		t.Errorf("dead zone produced %d adjustments, want 0", c.HistoryLen())
	}
}

func TestNextSize_ShortWindowHoldsSteady(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)
	warmUp(c, cfg)

	got := c.NextSize(10000, makeWindow(cfg.PerformanceWindow-1, time.Millisecond, 1.0), calm())
	if got != cfg.InitialBatchSize {
		t.Errorf("NextSize() with short window = %d, want unchanged %d", got, cfg.InitialBatchSize)
	}
}

func TestNextSize_AllFailedWindowHoldsSteady(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)
	warmUp(c, cfg)

	got := c.NextSize(10000, makeWindow(cfg.PerformanceWindow, time.Millisecond, 0.0), calm())
	if got != cfg.InitialBatchSize {
		t.Errorf("NextSize() with all-failed window = %d, want unchanged %d", got, cfg.InitialBatchSize)
	}
}

func TestNextSize_ClampsToRemaining(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)

	if got := c.NextSize(7, nil, calm()); got != 7 {
		t.Errorf("NextSize(remaining=7) = %d, want 7", got)
	}
	// Clamping to remaining must not disturb the stored size.
	if c.CurrentSize() != cfg.InitialBatchSize {
		t.Errorf("CurrentSize() = %d, want %d", c.CurrentSize(), cfg.InitialBatchSize)
	}
}

func TestNextSize_BoundsInvariantUnderRandomSequences(t *testing.T) {
	cfg := testConfig()
	cfg.MinBatchSize = 5
	cfg.MaxBatchSize = 80
	cfg.InitialBatchSize = 40
	c := New(cfg)
	warmUp(c, cfg)

	rng := rand.New(rand.NewSource(1))
	durations := []time.Duration{
		time.Millisecond, 100 * time.Millisecond, time.Second, 5 * time.Second,
	}
	for i := 0; i < 500; i++ {
		res := calm()
		if rng.Intn(4) == 0 {
			res = sysmon.Snapshot{CPUPercent: 95, MemoryUsedMB: 9999}
		}
		window := makeWindow(cfg.PerformanceWindow, durations[rng.Intn(len(durations))], 1.0)
		c.NextSize(1<<30, window, res)

		size := c.CurrentSize()
		if size < cfg.MinBatchSize || size > cfg.MaxBatchSize {
			t.Fatalf("iteration %d: size %d outside [%d, %d]", i, size, cfg.MinBatchSize, cfg.MaxBatchSize)
		}
	}
}

func TestReset(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)
	warmUp(c, cfg)
	c.NextSize(10000, makeWindow(cfg.PerformanceWindow, time.Millisecond, 1.0), calm())
	if c.CurrentSize() == cfg.InitialBatchSize {
		t.Fatal("test setup: size should have moved")
	}

	c.Reset()
	if c.CurrentSize() != cfg.InitialBatchSize {
		t.Errorf("CurrentSize() after Reset = %d, want %d", c.CurrentSize(), cfg.InitialBatchSize)
	}
	if c.Phase() != PhaseWarming {
		t.Errorf("Phase() after Reset = %v, want Warming", c.Phase())
	}
	// History survives resets.
	if c.HistoryLen() != 1 {
		t.Errorf("HistoryLen() after Reset = %d, want 1", c.HistoryLen())
	}
}

func TestHistory_Pagination(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)
	warmUp(c, cfg)

	hot := sysmon.Snapshot{CPUPercent: 95}
	for i := 0; i < 5; i++ {
		c.NextSize(10000, nil, hot)
	}
	total := c.HistoryLen()
	if total < 2 {
		t.Fatalf("test setup: want at least 2 adjustments, got %d", total)
	}

	page := c.History(1, 2)
	if len(page) != 2 {
		t.Errorf("History(1, 2) returned %d entries, want 2", len(page))
	}
	if got := c.History(total, 10); got != nil {
		t.Errorf("History(past end) = %v, want nil", got)
	}
	if got := c.History(-5, 1); len(got) != 1 {
		t.Errorf("History(-5, 1) returned %d entries, want 1", len(got))
	}
}

func TestWithOnAdjust(t *testing.T) {
	cfg := testConfig()
	var seen []Adjustment
	c := New(cfg, WithOnAdjust(func(a Adjustment) { seen = append(seen, a) }))
	warmUp(c, cfg)

	c.NextSize(10000, makeWindow(cfg.PerformanceWindow, time.Millisecond, 1.0), calm())
	if len(seen) != 1 {
		t.Fatalf("OnAdjust fired %d times, want 1", len(seen))
	}
	if seen[0].Reason != ReasonBelowTarget {
		t.Errorf("Reason = %v, want below_target", seen[0].Reason)
	}
}
