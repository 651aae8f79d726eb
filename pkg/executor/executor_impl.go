package executor

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// boundedExecutor implements Executor with a fixed worker set. The task
// channel capacity equals the worker count, and the atomic in-flight counter
// is the authority for the submission bound.
type boundedExecutor struct {
	workers int
	tasks   chan *Handle
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool

	inFlight  atomic.Int64
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewBounded creates an executor with workers goroutines. The worker count
// is fixed for the executor's lifetime; concurrency tuning happens at the
// pipeline layer, not by resizing the pool.
func NewBounded(workers int) Executor {
	if workers < 1 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &boundedExecutor{
		workers: workers,
		tasks:   make(chan *Handle, workers),
		ctx:     ctx,
		cancel:  cancel,
		logger:  slog.Default().With("component", "executor"),
	}

	e.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go e.worker(i)
	}
	return e
}

func (e *boundedExecutor) Submit(ctx context.Context, batchSize int, work Work) (*Handle, error) {
	if work == nil {
		return nil, errors.New("executor: work must not be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	// The read lock is held across the send so Shutdown cannot close the
	// task channel mid-submit.
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrShutdown
	}

	if e.inFlight.Add(1) > int64(e.workers) {
		e.inFlight.Add(-1)
		return nil, ErrCapacityExceeded
	}

	h := newHandle(ctx, batchSize, work)
	e.submitted.Add(1)
	// The in-flight gate guarantees space: accepted tasks never exceed the
	// channel capacity.
	e.tasks <- h
	return h, nil
}

func (e *boundedExecutor) worker(id int) {
	defer e.wg.Done()

	for h := range e.tasks {
		started := time.Now()
		value, err := e.invoke(h)
		res := Result{
			Value:    value,
			Err:      err,
			Started:  started,
			Finished: time.Now(),
		}

		if err != nil {
			e.failed.Add(1)
			e.logger.Debug("task failed", "worker", id, "handle", h.id, "error", err)
		} else {
			e.completed.Add(1)
		}

		e.inFlight.Add(-1)
		h.resolve(res)
	}
}

// invoke runs the work with panic capture. The work context is the
// submitter's, additionally cancelled by a non-drain shutdown.
func (e *boundedExecutor) invoke(h *Handle) (value any, err error) {
	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	stop := context.AfterFunc(e.ctx, cancel)
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return h.work(ctx)
}

func (e *boundedExecutor) AwaitAny(ctx context.Context, handles []*Handle, timeout time.Duration) (*Handle, Result, error) {
	if len(handles) == 0 {
		return nil, Result{}, ErrNoHandles
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for _, h := range handles {
		if res, ok := h.Result(); ok {
			return h, res, nil
		}
	}

	waitCtx := ctx
	var cancel context.CancelFunc = func() {}
	if timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	// Buffered to the handle count so waiter goroutines never block.
	first := make(chan *Handle, len(handles))
	for _, h := range handles {
		go func(h *Handle) {
			select {
			case <-h.done:
				first <- h
			case <-waitCtx.Done():
			}
		}(h)
	}

	select {
	case h := <-first:
		res, _ := h.Result()
		return h, res, nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, Result{}, ctx.Err()
		}
		return nil, Result{}, ErrTimeout
	}
}

func (e *boundedExecutor) Shutdown(ctx context.Context, drain bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.tasks)
	e.mu.Unlock()

	if !drain {
		// Best-effort cancellation: running work sees its context
		// cancelled; uncancellable work completes and its result is
		// discarded unawaited.
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *boundedExecutor) Stats() Stats {
	return Stats{
		Workers:   e.workers,
		InFlight:  int(e.inFlight.Load()),
		Submitted: e.submitted.Load(),
		Completed: e.completed.Load(),
		Failed:    e.failed.Load(),
	}
}
