package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Calls        *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec
	CircuitOpen  *prometheus.GaugeVec
}

func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Calls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spendwise_adapter_calls_total",
			Help: "Yield adapter calls by adapter, operation and outcome",
		}, []string{"adapter", "op", "outcome"}),
		CallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spendwise_adapter_call_duration_seconds",
			Help:    "Yield adapter call latency",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"adapter", "op"}),
		CircuitOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spendwise_adapter_circuit_open",
			Help: "1 while the adapter's circuit breaker is open",
		}, []string{"adapter"}),
	}
}

func (m *Metrics) ObserveCall(adapter, op string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Calls.WithLabelValues(adapter, op, outcome).Inc()
	m.CallDuration.WithLabelValues(adapter, op).Observe(d.Seconds())
}

func (m *Metrics) SetCircuit(adapter string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	m.CircuitOpen.WithLabelValues(adapter).Set(v)
}
