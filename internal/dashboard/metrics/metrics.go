package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	SectionLatency *prometheus.HistogramVec
	Builds         *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		SectionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "consular_dashboard_section_duration_seconds",
			Help:    "Time spent gathering each dashboard section",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"section"}),
		Builds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consular_dashboard_builds_total",
			Help: "Dashboards built by scope",
		}, []string{"scope"}),
	}
}

func (m *Metrics) ObserveSection(section string, d time.Duration) {
	if m != nil {
		m.SectionLatency.WithLabelValues(section).Observe(d.Seconds())
	}
}

func (m *Metrics) IncBuild(scope string) {
	if m != nil {
		m.Builds.WithLabelValues(scope).Inc()
	}
}
