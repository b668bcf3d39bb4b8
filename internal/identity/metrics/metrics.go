package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	SessionsIssued prometheus.Counter
	Logouts        prometheus.Counter
	RateLimited    prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		SessionsIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "consular_sessions_issued_total",
			Help: "Session tokens issued at login",
		}),
		Logouts: f.NewCounter(prometheus.CounterOpts{
			Name: "consular_logouts_total",
			Help: "Sessions revoked at logout",
		}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "consular_login_rate_limited_total",
			Help: "Login attempts rejected by the per-IP limiter",
		}),
	}
}

func (m *Metrics) IncSessionsIssued() {
	if m != nil {
		m.SessionsIssued.Inc()
	}
}

func (m *Metrics) IncLogouts() {
	if m != nil {
		m.Logouts.Inc()
	}
}

func (m *Metrics) IncRateLimited() {
	if m != nil {
		m.RateLimited.Inc()
	}
}
