// Package pipeline orchestrates adaptive batch processing: it slices items
// into controller-sized batches, dispatches them across a bounded executor,
// records per-batch metrics, and feeds timing back into the batch size
// controller.
//
// All control logic (batch formation, controller adjustment, metrics
// recording) runs on the goroutine that called Run or Stream; workers only
// execute caller-supplied batch functions and never call back into the
// controller.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowbatch/flowbatch/pkg/config"
	"github.com/flowbatch/flowbatch/pkg/controller"
	"github.com/flowbatch/flowbatch/pkg/executor"
	"github.com/flowbatch/flowbatch/pkg/metrics"
	"github.com/flowbatch/flowbatch/pkg/sysmon"
)

// State is the pipeline lifecycle state.
type State string

const (
	StateIdle     State = "Idle"
	StateRunning  State = "Running"
	StateDraining State = "Draining"
)

var (
	// ErrNotStarted is returned when Run or Stream is called before Start.
	ErrNotStarted = errors.New("pipeline: not started")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("pipeline: already started")
	// ErrBusy is returned when a Run or Stream is already in progress.
	ErrBusy = errors.New("pipeline: run already in progress")
	// ErrBatchTimeout marks a batch whose result did not arrive within the
	// configured task timeout. The work itself was not cancelled; its late
	// result is discarded.
	ErrBatchTimeout = errors.New("pipeline: batch timed out")
)

// WorkerFunc processes one batch. It runs on an executor worker; errors and
// panics are isolated to the batch, never propagated as a run failure.
type WorkerFunc[T, R any] func(ctx context.Context, batch []T) (R, error)

// BatchResult is the outcome of one batch, in submission order for Run and
// completion order for Stream.
type BatchResult[R any] struct {
	// Seq is the submission sequence number of the batch.
	Seq  uint64
	Size int
	// Value is valid only when Err is nil.
	Value R
	Err   error
}

// Observer receives pipeline events for metric exporters. Implementations
// must be cheap; calls happen on the control goroutine.
type Observer interface {
	ObserveBatch(metrics.BatchRecord)
	ObserveAdjustment(controller.Adjustment)
	SetInFlight(int)
}

// Pipeline runs batch workloads with adaptive sizing. Construct with New,
// then Start before Run or Stream, and Shutdown when done. A Pipeline is
// safe for concurrent metric reads, but only one Run or Stream may be active
// at a time.
type Pipeline[T, R any] struct {
	cfg      config.Config
	sampler  sysmon.Sampler
	observer Observer
	logger   *slog.Logger
	tracer   trace.Tracer

	window   *metrics.Window
	ctrl     *controller.Controller
	counters *metrics.Counters

	mu    sync.Mutex
	state State
	exec  executor.Executor
}

// Option configures a Pipeline.
type Option[T, R any] func(*Pipeline[T, R])

// WithSampler replaces the default gopsutil-backed resource sampler.
func WithSampler[T, R any](s sysmon.Sampler) Option[T, R] {
	return func(p *Pipeline[T, R]) { p.sampler = s }
}

// WithObserver registers a metrics exporter hook.
func WithObserver[T, R any](o Observer) Option[T, R] {
	return func(p *Pipeline[T, R]) { p.observer = o }
}

// WithLogger replaces the default slog logger.
func WithLogger[T, R any](l *slog.Logger) Option[T, R] {
	return func(p *Pipeline[T, R]) { p.logger = l }
}

// New creates a pipeline for the given configuration.
func New[T, R any](cfg config.Config, opts ...Option[T, R]) (*Pipeline[T, R], error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	p := &Pipeline[T, R]{
		cfg:      cfg,
		sampler:  sysmon.NewSampler(),
		logger:   slog.Default().With("component", "pipeline"),
		tracer:   otel.Tracer("github.com/flowbatch/flowbatch/pkg/pipeline"),
		window:   metrics.NewWindow(cfg.PerformanceWindow),
		counters: &metrics.Counters{},
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.ctrl = controller.New(cfg, controller.WithOnAdjust(func(a controller.Adjustment) {
		p.logger.Info("batch size adjusted",
			"old", a.OldSize, "new", a.NewSize, "reason", string(a.Reason))
		if p.observer != nil {
			p.observer.ObserveAdjustment(a)
		}
	}))

	return p, nil
}

// Start brings up the executor with cfg.MaxConcurrentBatches workers.
func (p *Pipeline[T, R]) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exec != nil {
		return ErrAlreadyStarted
	}
	p.exec = executor.NewBounded(p.cfg.MaxConcurrentBatches)
	p.logger.Info("pipeline started", "workers", p.cfg.MaxConcurrentBatches)
	return nil
}

// Shutdown releases the executor. With drain it waits for in-flight batches
// (bounded by ctx); without, in-flight work is cancelled best-effort.
// Idempotent.
func (p *Pipeline[T, R]) Shutdown(ctx context.Context, drain bool) error {
	p.mu.Lock()
	exec := p.exec
	p.exec = nil
	if p.state == StateRunning {
		p.state = StateDraining
	}
	p.mu.Unlock()

	if exec == nil {
		return nil
	}
	err := exec.Shutdown(ctx, drain)

	p.mu.Lock()
	if p.state == StateDraining {
		p.state = StateIdle
	}
	p.mu.Unlock()

	p.logger.Info("pipeline shut down", "drain", drain, "error", err)
	return err
}

// State returns the lifecycle state.
func (p *Pipeline[T, R]) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Counters returns cumulative totals for the current or last run.
func (p *Pipeline[T, R]) Counters() metrics.CountersSnapshot {
	return p.counters.Snapshot()
}

// CurrentBatchSize returns the controller's current size.
func (p *Pipeline[T, R]) CurrentBatchSize() int {
	return p.ctrl.CurrentSize()
}

// Phase reports whether the controller is still warming up.
func (p *Pipeline[T, R]) Phase() controller.Phase {
	return p.ctrl.Phase()
}

// History exposes the controller's append-only adjustment log.
func (p *Pipeline[T, R]) History(from, limit int) []controller.Adjustment {
	return p.ctrl.History(from, limit)
}

// WindowSnapshot returns a copy of the recent batch records.
func (p *Pipeline[T, R]) WindowSnapshot() []metrics.BatchRecord {
	return p.window.Snapshot()
}

// begin moves Idle -> Running, holding the single-run discipline.
func (p *Pipeline[T, R]) begin() (executor.Executor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exec == nil {
		return nil, ErrNotStarted
	}
	if p.state != StateIdle {
		return nil, ErrBusy
	}
	p.state = StateRunning
	return p.exec, nil
}

func (p *Pipeline[T, R]) drainPhase() {
	p.mu.Lock()
	if p.state == StateRunning {
		p.state = StateDraining
	}
	p.mu.Unlock()
}

func (p *Pipeline[T, R]) end() {
	p.mu.Lock()
	p.state = StateIdle
	p.mu.Unlock()
}

// Summarize collapses the failed slots of a result set into one error, nil
// when every batch succeeded.
func Summarize[R any](results []BatchResult[R]) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("batch %d (size %d): %w", r.Seq, r.Size, r.Err))
		}
	}
	return errors.Join(errs...)
}
