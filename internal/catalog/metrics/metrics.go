package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	Created     *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "consular_catalog_cache_hits_total",
			Help: "Consular service lookups answered from the LRU cache",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "consular_catalog_cache_misses_total",
			Help: "Consular service lookups that went to the store",
		}),
		Created: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consular_catalog_services_created_total",
			Help: "Consular services created, by category",
		}, []string{"category"}),
	}
}

func (m *Metrics) IncCacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) IncCacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) IncCreated(category string) {
	if m != nil {
		m.Created.WithLabelValues(category).Inc()
	}
}
