package prometheus

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DefaultRegistry is the default Prometheus registry
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer is the default Prometheus registerer
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "flowbatch"}, DefaultRegistry)

	// Metrics collection
	metricsOnce sync.Once
	metrics     *Metrics
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Batch execution metrics
	BatchesTotal        *prometheus.CounterVec
	ItemsProcessedTotal prometheus.Counter
	BatchDuration       *prometheus.HistogramVec
	BatchSizeObserved   prometheus.Histogram

	// Adaptive sizing metrics
	CurrentBatchSize prometheus.Gauge
	AdjustmentsTotal *prometheus.CounterVec

	// Executor metrics
	InFlightBatches prometheus.Gauge

	// Resource metrics sampled alongside each batch
	CPUPercent   prometheus.Gauge
	MemoryUsedMB prometheus.Gauge

	// Custom metrics registry
	CustomCounters   map[string]*prometheus.CounterVec
	CustomGauges     map[string]*prometheus.GaugeVec
	CustomHistograms map[string]*prometheus.HistogramVec
	customMu         sync.RWMutex
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics(DefaultRegisterer)
	})
	return metrics
}

// Handler returns an HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(DefaultRegistry, promhttp.HandlerOpts{})
}

// NewMetrics creates a new metrics collection
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}

	m := &Metrics{
		// Batch execution metrics
		BatchesTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowbatch_batches_total",
				Help: "Total number of processed batches",
			},
			[]string{"status"}, // status: completed, failed
		),
		ItemsProcessedTotal: promauto.With(registerer).NewCounter(
			prometheus.CounterOpts{
				Name: "flowbatch_items_processed_total",
				Help: "Total number of items in successfully processed batches",
			},
		),
		BatchDuration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowbatch_batch_duration_seconds",
				Help:    "Batch processing duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"status"},
		),
		BatchSizeObserved: promauto.With(registerer).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flowbatch_batch_size",
				Help:    "Distribution of submitted batch sizes",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1 to 2048
			},
		),

		// Adaptive sizing metrics
		CurrentBatchSize: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "flowbatch_current_batch_size",
				Help: "Current controller batch size target",
			},
		),
		AdjustmentsTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowbatch_adjustments_total",
				Help: "Total number of batch size adjustments",
			},
			[]string{"reason"}, // reason: resource_pressure, below_target, above_target
		),

		// Executor metrics
		InFlightBatches: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "flowbatch_in_flight_batches",
				Help: "Number of batches currently executing",
			},
		),

		// Resource metrics
		CPUPercent: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "flowbatch_cpu_percent",
				Help: "CPU utilization sampled at the last batch completion (0-100)",
			},
		),
		MemoryUsedMB: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "flowbatch_memory_used_mb",
				Help: "Process resident memory in MB sampled at the last batch completion",
			},
		),

		// Custom metrics
		CustomCounters:   make(map[string]*prometheus.CounterVec),
		CustomGauges:     make(map[string]*prometheus.GaugeVec),
		CustomHistograms: make(map[string]*prometheus.HistogramVec),
	}

	return m
}

// RecordBatch records the outcome of a single batch
func (m *Metrics) RecordBatch(size int, success bool, duration time.Duration) {
	status := "completed"
	if !success {
		status = "failed"
	}
	m.BatchesTotal.WithLabelValues(status).Inc()
	m.BatchDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.BatchSizeObserved.Observe(float64(size))
	if success {
		m.ItemsProcessedTotal.Add(float64(size))
	}
}

// RecordAdjustment records a controller batch size adjustment
func (m *Metrics) RecordAdjustment(reason string, newSize int) {
	m.AdjustmentsTotal.WithLabelValues(reason).Inc()
	m.CurrentBatchSize.Set(float64(newSize))
}

// UpdateResources updates the sampled resource gauges
func (m *Metrics) UpdateResources(cpuPercent, memoryMB float64) {
	m.CPUPercent.Set(cpuPercent)
	m.MemoryUsedMB.Set(memoryMB)
}

// Counter creates or returns a custom counter metric
func (m *Metrics) Counter(name, help string, labels ...string) *prometheus.CounterVec {
	m.customMu.RLock()
	if counter, exists := m.CustomCounters[name]; exists {
		m.customMu.RUnlock()
		return counter
	}
	m.customMu.RUnlock()

	m.customMu.Lock()
	defer m.customMu.Unlock()

	// Double-check after acquiring write lock
	if counter, exists := m.CustomCounters[name]; exists {
		return counter
	}

	counter := promauto.With(DefaultRegisterer).NewCounterVec(
		prometheus.CounterOpts{
			Name: name,
			Help: help,
		},
		labels,
	)
	m.CustomCounters[name] = counter
	return counter
}

// Gauge creates or returns a custom gauge metric
func (m *Metrics) Gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	m.customMu.RLock()
	if gauge, exists := m.CustomGauges[name]; exists {
		m.customMu.RUnlock()
		return gauge
	}
	m.customMu.RUnlock()

	m.customMu.Lock()
	defer m.customMu.Unlock()

	// Double-check after acquiring write lock
	if gauge, exists := m.CustomGauges[name]; exists {
		return gauge
	}

	gauge := promauto.With(DefaultRegisterer).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: name,
			Help: help,
		},
		labels,
	)
	m.CustomGauges[name] = gauge
	return gauge
}

// Histogram creates or returns a custom histogram metric
func (m *Metrics) Histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	m.customMu.RLock()
	if histogram, exists := m.CustomHistograms[name]; exists {
		m.customMu.RUnlock()
		return histogram
	}
	m.customMu.RUnlock()

	m.customMu.Lock()
	defer m.customMu.Unlock()

	// Double-check after acquiring write lock
	if histogram, exists := m.CustomHistograms[name]; exists {
		return histogram
	}

	opts := prometheus.HistogramOpts{
		Name:    name,
		Help:    help,
		Buckets: buckets,
	}
	if buckets == nil {
		opts.Buckets = prometheus.DefBuckets
	}

	histogram := promauto.With(DefaultRegisterer).NewHistogramVec(opts, labels)
	m.CustomHistograms[name] = histogram
	return histogram
}

// Convenience functions for global metrics

// Counter returns a custom counter metric (creates if doesn't exist)
func Counter(name, help string, labels ...string) *prometheus.CounterVec {
	return GetMetrics().Counter(name, help, labels...)
}

// Gauge returns a custom gauge metric (creates if doesn't exist)
func Gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return GetMetrics().Gauge(name, help, labels...)
}

// Histogram returns a custom histogram metric (creates if doesn't exist)
func Histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return GetMetrics().Histogram(name, help, buckets, labels...)
}
