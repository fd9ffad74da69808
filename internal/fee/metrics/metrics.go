package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	FeesCollected *prometheus.CounterVec
	RateBPS       *prometheus.GaugeVec
}

func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FeesCollected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spendwise_fees_collected_minor_units_total",
			Help: "Fees collected in minor units, by movement kind",
		}, []string{"kind"}),
		RateBPS: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spendwise_fee_rate_bps",
			Help: "Configured base fee rate in basis points",
		}, []string{"kind"}),
	}
}

func (m *Metrics) AddCollected(kind string, amount int64) {
	m.FeesCollected.WithLabelValues(kind).Add(float64(amount))
}

func (m *Metrics) SetRate(kind string, bps uint32) {
	m.RateBPS.WithLabelValues(kind).Set(float64(bps))
}
