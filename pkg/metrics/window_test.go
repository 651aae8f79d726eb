package metrics

import (
	"sync"
	"testing"
	"time"
)

func record(size int, dur time.Duration, success float64) BatchRecord {
	return BatchRecord{
		BatchSize:      size,
		ProcessingTime: dur,
		Throughput:     float64(size) / dur.Seconds(),
		SuccessRate:    success,
		Timestamp:      time.Now(),
	}
}

func TestWindow_TrimsAtTwiceLength(t *testing.T) {
	w := NewWindow(5)

	for i := 0; i < 10; i++ {
		w.Record(record(i+1, time.Millisecond, 1.0))
		if w.Len() > 10 {
			t.Fatalf("window grew to %d, cap is 10", w.Len())
		}
	}

	// The 11th record crosses 2x and triggers a trim back to the window length.
	w.Record(record(100, time.Millisecond, 1.0))
	if w.Len() != 5 {
		t.Errorf("Len() after trim = %d, want 5", w.Len())
	}

	// Most recent records survive the trim.
	snap := w.Snapshot()
	if snap[len(snap)-1].BatchSize != 100 {
		t.Errorf("latest record lost in trim, got size %d", snap[len(snap)-1].BatchSize)
	}
}

func TestWindow_SnapshotIsDefensiveCopy(t *testing.T) {
	w := NewWindow(5)
	w.Record(record(10, time.Millisecond, 1.0))

	snap := w.Snapshot()
	snap[0].BatchSize = 999

	if w.Snapshot()[0].BatchSize != 10 {
		t.Error("mutating a snapshot must not affect the window")
	}
}

func TestWindow_StatisticsSkipsFailedRecords(t *testing.T) {
	w := NewWindow(10)
	w.Record(record(10, 100*time.Millisecond, 1.0))
	w.Record(record(10, 200*time.Millisecond, 1.0))
	w.Record(record(10, 5*time.Second, 0.0)) // failed batch, excluded
	w.Record(record(10, 300*time.Millisecond, 1.0))

	stats, ok := w.Statistics(FieldProcessingTime)
	if !ok {
		t.Fatal("Statistics() reported no data")
	}
	if stats.Count != 3 {
		t.Errorf("Count = %d, want 3", stats.Count)
	}
	if stats.Mean != 200 {
		t.Errorf("Mean = %v ms, want 200", stats.Mean)
	}
	if stats.Median != 200 {
		t.Errorf("Median = %v ms, want 200", stats.Median)
	}
}

func TestWindow_StatisticsEvenCount(t *testing.T) {
	w := NewWindow(10)
	w.Record(record(10, 100*time.Millisecond, 1.0))
	w.Record(record(10, 300*time.Millisecond, 1.0))

	stats, ok := w.Statistics(FieldProcessingTime)
	if !ok {
		t.Fatal("Statistics() reported no data")
	}
	if stats.Median != 200 {
		t.Errorf("Median = %v ms, want 200 (average of middle pair)", stats.Median)
	}
}

func TestWindow_StatisticsNoData(t *testing.T) {
	w := NewWindow(10)
	if _, ok := w.Statistics(FieldThroughput); ok {
		t.Error("empty window should report no statistics")
	}

	w.Record(record(10, time.Second, 0.0))
	if _, ok := w.Statistics(FieldThroughput); ok {
		t.Error("window with only failed records should report no statistics")
	}
}

func TestWindow_ConcurrentReadersAndWriter(t *testing.T) {
	w := NewWindow(10)
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			w.Record(record(i, time.Millisecond, 1.0))
		}
		close(done)
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				_ = w.Snapshot()
				_, _ = w.Statistics(FieldBatchSize)
			}
		}
	}()
	wg.Wait()

	if w.Len() > 20 {
		t.Errorf("window exceeded 2x bound: %d", w.Len())
	}
}

func TestCounters(t *testing.T) {
	var c Counters
	c.AddSubmitted(1)
	c.AddSubmitted(1)
	c.AddCompleted(50, 100*time.Millisecond)
	c.AddFailed(30 * time.Millisecond)

	snap := c.Snapshot()
	if snap.BatchesSubmitted != 2 {
		t.Errorf("BatchesSubmitted = %d, want 2", snap.BatchesSubmitted)
	}
	if snap.BatchesCompleted != 1 || snap.BatchesFailed != 1 {
		t.Errorf("completed/failed = %d/%d, want 1/1", snap.BatchesCompleted, snap.BatchesFailed)
	}
	if snap.ItemsProcessed != 50 {
		t.Errorf("ItemsProcessed = %d, want 50", snap.ItemsProcessed)
	}
	if snap.TotalProcessingTime != 130*time.Millisecond {
		t.Errorf("TotalProcessingTime = %v, want 130ms", snap.TotalProcessingTime)
	}

	c.Reset()
	if c.Snapshot() != (CountersSnapshot{}) {
		t.Error("Reset() should zero all counters")
	}
}
