package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds process-level Prometheus metrics. Feature packages register
// their own collectors next to the code they measure.
type Metrics struct {
	BatchOperations *prometheus.CounterVec
	BatchDuration   prometheus.Histogram
}

// New registers against the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		BatchOperations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spendwise_batch_operations_total",
			Help: "Batch operations applied, by kind and outcome",
		}, []string{"kind", "outcome"}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "spendwise_batch_duration_seconds",
			Help:    "Wall time to apply one batch",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) ObserveBatchOperation(kind string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.BatchOperations.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveBatchDuration(seconds float64) {
	m.BatchDuration.Observe(seconds)
}
