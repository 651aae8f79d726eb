// Package executor runs batch work on a fixed set of workers with a hard
// bound on in-flight batches. The bound is structural: there is no queue to
// grow, and over-submitting fails fast so callers must await before
// submitting more.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCapacityExceeded is returned by Submit when the in-flight bound is
	// reached. The caller violated the await-before-submit discipline.
	ErrCapacityExceeded = errors.New("executor: capacity exceeded")

	// ErrTimeout is returned by AwaitAny when no handle resolved in time.
	// The underlying work keeps running and the handles stay awaitable.
	ErrTimeout = errors.New("executor: await timed out")

	// ErrShutdown is returned by Submit after Shutdown has been called.
	ErrShutdown = errors.New("executor: shut down")

	// ErrNoHandles is returned by AwaitAny for an empty handle set.
	ErrNoHandles = errors.New("executor: no handles to await")
)

// PanicError is the error result of work that panicked. The panic is
// captured on the worker so a failing batch never takes down its siblings.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Work is one unit of batch work. It runs on a worker goroutine; the context
// is cancelled only by a non-drain shutdown, never by an await timeout.
type Work func(ctx context.Context) (any, error)

// Result is the outcome of one unit of work, with the timestamps the
// metrics layer needs.
type Result struct {
	Value    any
	Err      error
	Started  time.Time
	Finished time.Time
}

// Stats reports executor counters.
type Stats struct {
	Workers   int
	InFlight  int
	Submitted int64
	Completed int64
	Failed    int64
}

// Executor dispatches work across a bounded worker set.
type Executor interface {
	// Submit hands work to a worker. batchSize is carried on the returned
	// handle for the caller's bookkeeping.
	Submit(ctx context.Context, batchSize int, work Work) (*Handle, error)

	// AwaitAny blocks until at least one of the handles resolves or timeout
	// elapses. Already-resolved handles return immediately, so callers may
	// re-await after an ErrTimeout.
	AwaitAny(ctx context.Context, handles []*Handle, timeout time.Duration) (*Handle, Result, error)

	// Shutdown stops the executor. With drain it waits for outstanding work
	// (bounded by ctx); without, it cancels best-effort and discards late
	// results. Idempotent.
	Shutdown(ctx context.Context, drain bool) error

	// Stats returns current counters.
	Stats() Stats
}
