package pipeline

import (
	"context"
	"testing"
	"time"
)

func feed(n int) <-chan int {
	ch := make(chan int)
	go func() {
		defer close(ch)
		for i := 0; i < n; i++ {
			ch <- i
		}
	}()
	return ch
}

func TestStream_EndToEndSum(t *testing.T) {
	p := startPipeline[int, int](t, fixedCfg(10, 3))

	out, err := p.Stream(context.Background(), feed(100), func(ctx context.Context, batch []int) (int, error) {
		sum := 0
		for _, v := range batch {
			sum += v
		}
		return sum, nil
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	total, batches := 0, 0
	for r := range out {
		if r.Err != nil {
			t.Fatalf("batch %d failed: %v", r.Seq, r.Err)
		}
		total += r.Value
		batches++
	}
	if total != 4950 {
		t.Errorf("sum across batches = %d, want 4950", total)
	}
	if batches != 10 {
		t.Errorf("batches = %d, want 10", batches)
	}
	if p.State() != StateIdle {
		t.Errorf("State() after drain = %v, want Idle", p.State())
	}
}

func TestStream_PartialTailFlushed(t *testing.T) {
	p := startPipeline[int, int](t, fixedCfg(10, 2))

	out, err := p.Stream(context.Background(), feed(95), func(ctx context.Context, batch []int) (int, error) {
		return len(batch), nil
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	items, sawTail := 0, false
	for r := range out {
		items += r.Value
		if r.Size == 5 {
			sawTail = true
		}
	}
	if items != 95 {
		t.Errorf("items processed = %d, want 95", items)
	}
	if !sawTail {
		t.Error("partial tail batch of 5 was not flushed")
	}
}

func TestStream_CompletionOrder(t *testing.T) {
	p := startPipeline[int, int](t, fixedCfg(10, 4))

	// The first batch sleeps, so later batches must be yielded before it.
	out, err := p.Stream(context.Background(), feed(40), func(ctx context.Context, batch []int) (int, error) {
		if batch[0] == 0 {
			time.Sleep(100 * time.Millisecond)
		}
		return batch[0], nil
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var seqs []uint64
	for r := range out {
		seqs = append(seqs, r.Seq)
	}
	if len(seqs) != 4 {
		t.Fatalf("batches = %d, want 4", len(seqs))
	}
	if seqs[0] == 0 {
		t.Error("slow first batch was yielded first; expected completion order")
	}
	if last := seqs[len(seqs)-1]; last != 0 {
		t.Errorf("last yielded batch Seq = %d, want 0 (the slow one)", last)
	}
}

func TestStream_MaxItems(t *testing.T) {
	p := startPipeline[int, int](t, fixedCfg(10, 2))

	src := make(chan int)
	go func() {
		for i := 0; ; i++ {
			src <- i // never closes; the limit must stop the read
		}
	}()

	out, err := p.Stream(context.Background(), src, func(ctx context.Context, batch []int) (int, error) {
		return len(batch), nil
	}, WithMaxItems(35))
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	items := 0
	for r := range out {
		if r.Err != nil {
			t.Fatalf("batch %d failed: %v", r.Seq, r.Err)
		}
		items += r.Value
	}
	if items != 35 {
		t.Errorf("items processed = %d, want 35", items)
	}
}

func TestStream_ContextCancelClosesOutput(t *testing.T) {
	p := startPipeline[int, int](t, fixedCfg(10, 2))

	ctx, cancel := context.WithCancel(context.Background())
	src := make(chan int) // never fed, never closed

	out, err := p.Stream(ctx, src, func(ctx context.Context, batch []int) (int, error) {
		return 0, nil
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	cancel()
	select {
	case _, ok := <-out:
		if ok {
			t.Error("expected output channel to close without results")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("output channel did not close after cancellation")
	}
}

func TestStream_RejectsSecondConcurrentCall(t *testing.T) {
	p := startPipeline[int, int](t, fixedCfg(10, 2))

	src := make(chan int)
	out, err := p.Stream(context.Background(), src, func(ctx context.Context, batch []int) (int, error) {
		return 0, nil
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	if _, err := p.Stream(context.Background(), feed(10), func(ctx context.Context, batch []int) (int, error) {
		return 0, nil
	}); err == nil {
		t.Error("second concurrent Stream() should be rejected")
	}

	close(src)
	for range out {
	}
}
