package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the service request workflow.
type Metrics struct {
	Created     *prometheus.CounterVec
	Transitions *prometheus.CounterVec
	Rejected    *prometheus.CounterVec
	Deleted     prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Created: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consular_requests_created_total",
			Help: "Service requests opened, by service category",
		}, []string{"category"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consular_request_transitions_total",
			Help: "Service request status changes by source and target status",
		}, []string{"from", "to"}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consular_request_transitions_rejected_total",
			Help: "Attempted transitions refused by the workflow, by operation",
		}, []string{"operation"}),
		Deleted: f.NewCounter(prometheus.CounterOpts{
			Name: "consular_requests_deleted_total",
			Help: "Draft service requests deleted by their owner",
		}),
	}
}

func (m *Metrics) IncCreated(category string) {
	if m != nil {
		m.Created.WithLabelValues(category).Inc()
	}
}

func (m *Metrics) IncTransition(from, to string) {
	if m != nil {
		m.Transitions.WithLabelValues(from, to).Inc()
	}
}

func (m *Metrics) IncRejected(operation string) {
	if m != nil {
		m.Rejected.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) IncDeleted() {
	if m != nil {
		m.Deleted.Inc()
	}
}
