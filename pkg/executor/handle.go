package executor

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Handle tracks one submitted unit of work. It is owned by the executor
// until resolved; callers only await it and read the result.
type Handle struct {
	id          string
	batchSize   int
	submittedAt time.Time

	ctx  context.Context
	work Work

	// result is written exactly once, before done is closed.
	result Result
	done   chan struct{}
}

func newHandle(ctx context.Context, batchSize int, work Work) *Handle {
	return &Handle{
		id:          uuid.NewString(),
		batchSize:   batchSize,
		submittedAt: time.Now(),
		ctx:         ctx,
		work:        work,
		done:        make(chan struct{}),
	}
}

// ID returns the unique handle ID.
func (h *Handle) ID() string { return h.id }

// BatchSize returns the batch size recorded at submission.
func (h *Handle) BatchSize() int { return h.batchSize }

// SubmittedAt returns the submission time.
func (h *Handle) SubmittedAt() time.Time { return h.submittedAt }

// Resolved reports whether the work has finished.
func (h *Handle) Resolved() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Result returns the outcome and true once the handle has resolved.
func (h *Handle) Result() (Result, bool) {
	if !h.Resolved() {
		return Result{}, false
	}
	return h.result, true
}

func (h *Handle) resolve(r Result) {
	h.result = r
	close(h.done)
}
