package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Dispatched  *prometheus.CounterVec
	Failures    *prometheus.CounterVec
	Deliveries  *prometheus.CounterVec
	Subscribers prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Dispatched: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consular_notifications_dispatched_total",
			Help: "Notifications stored, by type",
		}, []string{"type"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consular_notification_failures_total",
			Help: "Best-effort notification steps that failed, by stage",
		}, []string{"stage"}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consular_notification_deliveries_total",
			Help: "External deliveries by channel and result",
		}, []string{"channel", "result"}),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "consular_notification_stream_subscribers",
			Help: "Open notification streams on this instance",
		}),
	}
}

func (m *Metrics) IncDispatched(typ string) {
	if m != nil {
		m.Dispatched.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) IncFailure(stage string) {
	if m != nil {
		m.Failures.WithLabelValues(stage).Inc()
	}
}

// ObserveDelivery satisfies delivery.Observer.
func (m *Metrics) ObserveDelivery(channel, result string) {
	if m != nil {
		m.Deliveries.WithLabelValues(channel, result).Inc()
	}
}

func (m *Metrics) StreamOpened() {
	if m != nil {
		m.Subscribers.Inc()
	}
}

func (m *Metrics) StreamClosed() {
	if m != nil {
		m.Subscribers.Dec()
	}
}
