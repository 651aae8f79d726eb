package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/flowbatch/flowbatch/pkg/executor"
)

// StreamOption configures a single Stream call.
type StreamOption func(*streamOptions)

type streamOptions struct {
	maxItems int
}

// WithMaxItems stops reading the source after n items. Zero means unlimited.
func WithMaxItems(n int) StreamOption {
	return func(o *streamOptions) { o.maxItems = n }
}

// Stream processes an unbounded source: items are buffered up to the
// controller's current target size, flushed through the executor, and each
// batch's result is yielded in completion order. The returned channel closes
// after the source closes (or the item limit is reached) and every buffered
// batch has resolved. A partial tail batch is flushed rather than dropped.
//
// Backpressure is the same as Run's: at most cfg.MaxConcurrentBatches
// batches in flight, and the source is not read while all slots are full.
func (p *Pipeline[T, R]) Stream(ctx context.Context, src <-chan T, fn WorkerFunc[T, R], opts ...StreamOption) (<-chan BatchResult[R], error) {
	if fn == nil {
		return nil, fmt.Errorf("pipeline: worker function must not be nil")
	}
	if src == nil {
		return nil, fmt.Errorf("pipeline: source channel must not be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	exec, err := p.begin()
	if err != nil {
		return nil, err
	}

	var so streamOptions
	for _, opt := range opts {
		opt(&so)
	}

	p.window.Reset()
	p.ctrl.Reset()
	p.counters.Reset()

	out := make(chan BatchResult[R])
	go p.streamLoop(ctx, exec, src, fn, so, out)
	return out, nil
}

func (p *Pipeline[T, R]) streamLoop(ctx context.Context, exec executor.Executor, src <-chan T, fn WorkerFunc[T, R], so streamOptions, out chan<- BatchResult[R]) {
	defer p.end()
	defer close(out)

	var (
		buf         []T
		outstanding []inflight
		seq         uint64
		taken       int
	)
	target := p.ctrl.CurrentSize()

	emit := func(r BatchResult[R]) bool {
		select {
		case out <- r:
			return true
		case <-ctx.Done():
			return false
		}
	}

	flush := func() bool {
		if len(buf) == 0 {
			return true
		}
		for len(outstanding) >= p.cfg.MaxConcurrentBatches {
			collected, err := p.collectOne(ctx, exec, &outstanding)
			if err != nil {
				p.logger.Error("stream aborted while collecting", "error", err)
				return false
			}
			if !emit(collected) {
				return false
			}
		}

		var h *executor.Handle
		for {
			var err error
			h, err = p.submit(ctx, exec, seq, buf, fn)
			if err == nil {
				break
			}
			if !errors.Is(err, executor.ErrCapacityExceeded) {
				p.logger.Error("stream aborted while submitting", "seq", seq, "error", err)
				return false
			}
			// A timed-out batch still occupies a worker.
			if len(outstanding) > 0 {
				collected, cerr := p.collectOne(ctx, exec, &outstanding)
				if cerr != nil {
					p.logger.Error("stream aborted while collecting", "error", cerr)
					return false
				}
				if !emit(collected) {
					return false
				}
				continue
			}
			select {
			case <-ctx.Done():
				return false
			case <-time.After(10 * time.Millisecond):
			}
		}
		outstanding = append(outstanding, inflight{handle: h, seq: seq, size: len(buf)})
		seq++
		buf = nil

		// Unbounded source: no remaining-items clamp on the next target.
		target = p.ctrl.NextSize(math.MaxInt, p.window.Snapshot(), p.sampler.Sample())
		if target < 1 {
			target = 1
		}
		return true
	}

reading:
	for so.maxItems <= 0 || taken < so.maxItems {
		select {
		case item, ok := <-src:
			if !ok {
				break reading
			}
			buf = append(buf, item)
			taken++
			if len(buf) >= target {
				if !flush() {
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}

	// Tail flush, then drain everything still in flight.
	if !flush() {
		return
	}
	p.drainPhase()
	for len(outstanding) > 0 {
		collected, err := p.collectOne(ctx, exec, &outstanding)
		if err != nil {
			p.logger.Error("stream aborted while draining", "error", err)
			return
		}
		if !emit(collected) {
			return
		}
	}
}
