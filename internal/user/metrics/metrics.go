package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for accounts and logins.
type Metrics struct {
	Registered prometheus.Counter
	Logins     *prometheus.CounterVec
	Deleted    prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Registered: f.NewCounter(prometheus.CounterOpts{
			Name: "consular_users_registered_total",
			Help: "Total number of citizen accounts registered",
		}),
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consular_logins_total",
			Help: "Login attempts by result",
		}, []string{"result"}),
		Deleted: f.NewCounter(prometheus.CounterOpts{
			Name: "consular_users_deleted_total",
			Help: "Total number of accounts soft-deleted",
		}),
	}
}

func (m *Metrics) IncRegistered() {
	if m != nil {
		m.Registered.Inc()
	}
}

func (m *Metrics) IncLogin(result string) {
	if m != nil {
		m.Logins.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncDeleted() {
	if m != nil {
		m.Deleted.Inc()
	}
}
