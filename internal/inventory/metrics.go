package inventory

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	opAdjust = "adjust"
	opInsert = "insert"
	opExpire = "expire"
)

// Metrics records engine outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	entries  *prometheus.CounterVec
	batches  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the inventory collectors against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_inventory_adjustments_total",
			Help: "Adjustment entries by result (applied, skipped, rolled_back).",
		}, []string{"result"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_inventory_batches_total",
			Help: "Inventory batches by operation and status.",
		}, []string{"operation", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odyssey_inventory_batch_duration_seconds",
			Help:    "Duration of inventory batch transactions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	registerer.MustRegister(m.entries, m.batches, m.duration)
	return m
}

func (m *Metrics) observeBatch(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.batches.WithLabelValues(operation, status).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) countEntries(result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.entries.WithLabelValues(result).Add(float64(n))
}
