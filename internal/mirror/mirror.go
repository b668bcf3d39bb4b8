// Package mirror keeps a document-style copy of user and profile records in
// Redis. PostgreSQL stays authoritative: the mirror is written after commits,
// read as a cache, and never consulted for authorization.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	request "consular/pkg/platform/middleware/request"
)

const keyPrefix = "mirror:"

// Kind names a mirrored collection.
type Kind string

const (
	KindUser    Kind = "user"
	KindProfile Kind = "profile"
)

// Mirror is nil-safe: a nil *Mirror turns every call into a miss or a no-op.
type Mirror struct {
	client  redis.Cmdable
	ttl     time.Duration
	logger  *slog.Logger
	results *prometheus.CounterVec
}

func New(client redis.Cmdable, ttl time.Duration, logger *slog.Logger, reg prometheus.Registerer) *Mirror {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Mirror{
		client: client,
		ttl:    ttl,
		logger: logger,
		results: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "consular_mirror_operations_total",
			Help: "Document mirror operations by kind and result",
		}, []string{"kind", "op", "result"}),
	}
}

func key(kind Kind, docID string) string {
	return keyPrefix + string(kind) + ":" + docID
}

// Put writes doc under kind/docID. Failures are logged and swallowed.
func (m *Mirror) Put(ctx context.Context, kind Kind, docID string, doc any) {
	if m == nil {
		return
	}
	payload, err := json.Marshal(doc)
	if err == nil {
		err = m.client.Set(ctx, key(kind, docID), payload, m.ttl).Err()
	}
	if err != nil {
		m.count(kind, "put", "error")
		m.logger.WarnContext(ctx, "mirror write failed",
			"kind", kind,
			"id", docID,
			"error", err,
			"request_id", request.GetRequestID(ctx),
		)
		return
	}
	m.count(kind, "put", "ok")
}

// Get decodes the mirrored document into dst. It reports false on a miss;
// errors are returned so the caller can fall back to the database.
func (m *Mirror) Get(ctx context.Context, kind Kind, docID string, dst any) (bool, error) {
	if m == nil {
		return false, nil
	}
	payload, err := m.client.Get(ctx, key(kind, docID)).Bytes()
	if errors.Is(err, redis.Nil) {
		m.count(kind, "get", "miss")
		return false, nil
	}
	if err != nil {
		m.count(kind, "get", "error")
		return false, err
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		m.count(kind, "get", "error")
		return false, err
	}
	m.count(kind, "get", "hit")
	return true, nil
}

// Delete drops the mirrored document. Failures are logged and swallowed.
func (m *Mirror) Delete(ctx context.Context, kind Kind, docID string) {
	if m == nil {
		return
	}
	if err := m.client.Del(ctx, key(kind, docID)).Err(); err != nil {
		m.count(kind, "delete", "error")
		m.logger.WarnContext(ctx, "mirror delete failed",
			"kind", kind,
			"id", docID,
			"error", err,
			"request_id", request.GetRequestID(ctx),
		)
		return
	}
	m.count(kind, "delete", "ok")
}

func (m *Mirror) count(kind Kind, op, result string) {
	m.results.WithLabelValues(string(kind), op, result).Inc()
}
