package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Operations      *prometheus.CounterVec
	OperationTime   *prometheus.HistogramVec
	WindowResets    prometheus.Counter
	LockWaitSeconds prometheus.Histogram
}

func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spendwise_ledger_operations_total",
			Help: "Ledger operations by name and outcome (ok or error kind)",
		}, []string{"op", "outcome"}),
		OperationTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spendwise_ledger_operation_duration_seconds",
			Help:    "Ledger operation latency including lock wait",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		WindowResets: f.NewCounter(prometheus.CounterOpts{
			Name: "spendwise_ledger_monthly_resets_total",
			Help: "Bucket spending windows reset on access",
		}),
		LockWaitSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "spendwise_ledger_lock_wait_seconds",
			Help:    "Time spent waiting for the per-user lock",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		}),
	}
}

func (m *Metrics) ObserveOperation(op, outcome string, d time.Duration) {
	m.Operations.WithLabelValues(op, outcome).Inc()
	m.OperationTime.WithLabelValues(op).Observe(d.Seconds())
}
