package access

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts guard outcomes.
type Metrics struct {
	Denied *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		Denied: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "consular_access_denied_total",
			Help: "Requests stopped by the role guard, by reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) IncDenied(reason string) {
	if m != nil {
		m.Denied.WithLabelValues(reason).Inc()
	}
}
