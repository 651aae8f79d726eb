package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowbatch/flowbatch/pkg/executor"
	"github.com/flowbatch/flowbatch/pkg/metrics"
)

// RunOption configures a single Run call.
type RunOption func(*runOptions)

type runOptions struct {
	progress func(processed, total int)
}

// WithProgress registers a callback invoked on the control goroutine after
// each collected batch with the number of items processed so far.
func WithProgress(fn func(processed, total int)) RunOption {
	return func(o *runOptions) { o.progress = fn }
}

// inflight tracks one submitted batch until its result is collected.
type inflight struct {
	handle *executor.Handle
	seq    uint64
	size   int
}

// Run processes items to completion and returns one result slot per batch in
// submission order. Individual batch failures are recorded in their slot and
// never abort the run; use Summarize for an error summary. Run itself fails
// only when the pipeline cannot make progress (not started, cancelled, or
// shut down mid-run).
func (p *Pipeline[T, R]) Run(ctx context.Context, items []T, fn WorkerFunc[T, R], opts ...RunOption) ([]BatchResult[R], error) {
	if fn == nil {
		return nil, fmt.Errorf("pipeline: worker function must not be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	exec, err := p.begin()
	if err != nil {
		return nil, err
	}
	defer p.end()

	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}

	// Fresh run: sizing restarts at the initial batch size and the sliding
	// window forgets the previous workload.
	p.window.Reset()
	p.ctrl.Reset()
	p.counters.Reset()

	var (
		total       = len(items)
		offset      int
		seq         uint64
		processed   int
		outstanding []inflight
		results     []BatchResult[R]
	)

	for offset < total || len(outstanding) > 0 {
		for offset < total && len(outstanding) < p.cfg.MaxConcurrentBatches {
			size := p.ctrl.NextSize(total-offset, p.window.Snapshot(), p.sampler.Sample())
			if size < 1 {
				size = 1
			}
			batch := items[offset : offset+size]

			h, err := p.submit(ctx, exec, seq, batch, fn)
			if errors.Is(err, executor.ErrCapacityExceeded) {
				// A timed-out batch still occupies a worker. Collect
				// instead of submitting until a slot truly frees up.
				break
			}
			if err != nil {
				return nil, fmt.Errorf("pipeline: submit batch %d: %w", seq, err)
			}
			outstanding = append(outstanding, inflight{handle: h, seq: seq, size: size})
			offset += size
			seq++
		}

		if offset >= total {
			p.drainPhase()
		}

		if len(outstanding) == 0 {
			// Every worker is held by an abandoned batch; wait for one
			// to free up before submitting again.
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("pipeline: %w", ctx.Err())
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}

		collected, err := p.collectOne(ctx, exec, &outstanding)
		if err != nil {
			return nil, err
		}
		results = append(results, collected)
		processed += collected.Size
		if ro.progress != nil {
			ro.progress(processed, total)
		}
		if p.observer != nil {
			p.observer.SetInFlight(len(outstanding))
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Seq < results[j].Seq })
	return results, nil
}

// submit wraps one batch for the executor: a tracing span around the worker
// function, with the raw result carried through as any.
func (p *Pipeline[T, R]) submit(ctx context.Context, exec executor.Executor, seq uint64, batch []T, fn WorkerFunc[T, R]) (*executor.Handle, error) {
	h, err := exec.Submit(ctx, len(batch), func(ctx context.Context) (any, error) {
		ctx, span := p.tracer.Start(ctx, "pipeline.batch", trace.WithAttributes(
			attribute.Int("batch.size", len(batch)),
			attribute.Int64("batch.seq", int64(seq)),
		))
		defer span.End()

		value, err := fn(ctx, batch)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		return value, err
	})
	if err != nil {
		return nil, err
	}
	p.counters.AddSubmitted(1)
	return h, nil
}

// collectOne blocks until one outstanding batch resolves or exceeds the task
// timeout, removes it from the set, records its BatchRecord, and returns its
// result slot. Only context cancellation is a pipeline-level error.
func (p *Pipeline[T, R]) collectOne(ctx context.Context, exec executor.Executor, outstanding *[]inflight) (BatchResult[R], error) {
	handles := make([]*executor.Handle, len(*outstanding))
	for i, f := range *outstanding {
		handles[i] = f.handle
	}

	h, res, err := exec.AwaitAny(ctx, handles, p.awaitTimeout(*outstanding))
	switch {
	case err == nil:
		f := remove(outstanding, h)
		return p.record(f, res), nil
	case errors.Is(err, executor.ErrTimeout):
		f, ok := expired(outstanding, p.cfg.TaskTimeout)
		if !ok {
			// Spurious wake relative to the oldest deadline; keep waiting.
			return p.collectOne(ctx, exec, outstanding)
		}
		p.logger.Warn("batch timed out, discarding late result",
			"seq", f.seq, "size", f.size, "timeout", p.cfg.TaskTimeout)
		return p.record(f, executor.Result{
			Err:      ErrBatchTimeout,
			Started:  f.handle.SubmittedAt(),
			Finished: time.Now(),
		}), nil
	default:
		return BatchResult[R]{}, fmt.Errorf("pipeline: await: %w", err)
	}
}

// record turns an executor result into the batch's BatchRecord and result
// slot, feeding the window, counters, controller warmup and observer.
func (p *Pipeline[T, R]) record(f inflight, res executor.Result) BatchResult[R] {
	duration := res.Finished.Sub(res.Started)
	if duration <= 0 {
		duration = time.Nanosecond
	}

	rec := metrics.BatchRecord{
		BatchSize:      f.size,
		ProcessingTime: duration,
		Throughput:     float64(f.size) / duration.Seconds(),
		Resources:      p.sampler.Sample(),
		SuccessRate:    1.0,
		Sequence:       f.seq,
		Timestamp:      res.Finished,
	}

	out := BatchResult[R]{Seq: f.seq, Size: f.size}
	if res.Err != nil {
		rec.SuccessRate = 0.0
		rec.Throughput = 0
		out.Err = res.Err
		p.counters.AddFailed(duration)
	} else {
		if v, ok := res.Value.(R); ok {
			out.Value = v
		}
		p.counters.AddCompleted(int64(f.size), duration)
	}

	p.window.Record(rec)
	p.ctrl.Observe(rec)
	if p.observer != nil {
		p.observer.ObserveBatch(rec)
	}
	return out
}

// awaitTimeout bounds one AwaitAny call by the oldest outstanding batch's
// remaining time budget.
func (p *Pipeline[T, R]) awaitTimeout(outstanding []inflight) time.Duration {
	oldest := outstanding[0].handle.SubmittedAt()
	for _, f := range outstanding[1:] {
		if f.handle.SubmittedAt().Before(oldest) {
			oldest = f.handle.SubmittedAt()
		}
	}
	remaining := time.Until(oldest.Add(p.cfg.TaskTimeout))
	if remaining < time.Millisecond {
		remaining = time.Millisecond
	}
	return remaining
}

func remove(outstanding *[]inflight, h *executor.Handle) inflight {
	for i, f := range *outstanding {
		if f.handle == h {
			*outstanding = append((*outstanding)[:i], (*outstanding)[i+1:]...)
			return f
		}
	}
	// Unreachable: AwaitAny only returns handles from the set it was given.
	return inflight{handle: h}
}

// expired pops the oldest batch whose age exceeds the task timeout.
func expired(outstanding *[]inflight, timeout time.Duration) (inflight, bool) {
	now := time.Now()
	for i, f := range *outstanding {
		if now.Sub(f.handle.SubmittedAt()) >= timeout {
			*outstanding = append((*outstanding)[:i], (*outstanding)[i+1:]...)
			return f, true
		}
	}
	return inflight{}, false
}
