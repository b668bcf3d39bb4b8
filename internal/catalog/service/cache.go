package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	catmetrics "consular/internal/catalog/metrics"
	"consular/internal/catalog/models"
	id "consular/pkg/domain"
)

// Cache is a per-instance LRU of consular services with a TTL. Entries are
// evicted on update, so a stale read lasts at most one TTL on other instances.
type Cache struct {
	lru     *expirable.LRU[id.ServiceID, *models.Service]
	metrics *catmetrics.Metrics
}

func NewCache(size int, ttl time.Duration, m *catmetrics.Metrics) *Cache {
	if size <= 0 {
		size = 512
	}
	return &Cache{lru: expirable.NewLRU[id.ServiceID, *models.Service](size, nil, ttl), metrics: m}
}

func (c *Cache) Get(serviceID id.ServiceID) (*models.Service, bool) {
	if c == nil {
		return nil, false
	}
	svc, ok := c.lru.Get(serviceID)
	if ok {
		c.metrics.IncCacheHit()
		return svc, true
	}
	c.metrics.IncCacheMiss()
	return nil, false
}

func (c *Cache) Set(svc *models.Service) {
	if c != nil {
		c.lru.Add(svc.ID, svc)
	}
}

func (c *Cache) Delete(serviceID id.ServiceID) {
	if c != nil {
		c.lru.Remove(serviceID)
	}
}
