package prometheus

import (
	"github.com/flowbatch/flowbatch/pkg/controller"
	fbmetrics "github.com/flowbatch/flowbatch/pkg/metrics"
)

// Collector bridges pipeline observations into Prometheus metrics. It
// satisfies the pipeline Observer interface and is safe for concurrent use.
type Collector struct {
	m *Metrics
}

// NewCollector returns a Collector writing into m. A nil m uses the global
// metrics instance.
func NewCollector(m *Metrics) *Collector {
	if m == nil {
		m = GetMetrics()
	}
	return &Collector{m: m}
}

// ObserveBatch records one completed or failed batch.
func (c *Collector) ObserveBatch(rec fbmetrics.BatchRecord) {
	c.m.RecordBatch(rec.BatchSize, rec.SuccessRate > 0, rec.ProcessingTime)
	c.m.UpdateResources(rec.Resources.CPUPercent, rec.Resources.MemoryUsedMB)
}

// ObserveAdjustment records a controller batch size change.
func (c *Collector) ObserveAdjustment(adj controller.Adjustment) {
	c.m.RecordAdjustment(string(adj.Reason), adj.NewSize)
}

// SetInFlight updates the in-flight batches gauge.
func (c *Collector) SetInFlight(n int) {
	c.m.InFlightBatches.Set(float64(n))
}
