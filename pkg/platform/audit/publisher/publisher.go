// Package publisher routes audit events by category: compliance events are
// written synchronously and fail closed, security events are buffered, and
// operational events are written best-effort.
package publisher

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	id "consular/pkg/domain"
	audit "consular/pkg/platform/audit"
	"consular/pkg/platform/audit/publishers/compliance"
	"consular/pkg/platform/audit/publishers/security"
)

const securityBufferSize = 4096

type Metrics struct {
	Emitted         *prometheus.CounterVec
	PersistFailures *prometheus.CounterVec
	PersistDuration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Emitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consular_audit_events_emitted_total",
			Help: "Audit events emitted by category",
		}, []string{"category"}),
		PersistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consular_audit_persist_failures_total",
			Help: "Audit events that failed to persist by category",
		}, []string{"category"}),
		PersistDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "consular_audit_persist_duration_seconds",
			Help:    "Synchronous audit write latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}, []string{"category"}),
	}
}

func (m *Metrics) IncPersistFailures(category audit.EventCategory) {
	m.PersistFailures.WithLabelValues(string(category)).Inc()
}

func (m *Metrics) ObservePersist(category audit.EventCategory, seconds float64) {
	m.PersistDuration.WithLabelValues(string(category)).Observe(seconds)
}

// Publisher is the single audit entry point handed to services.
type Publisher struct {
	store      audit.Store
	compliance *compliance.Publisher
	security   *security.Publisher
	logger     *slog.Logger
	metrics    *Metrics
}

type Option func(*Publisher)

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func New(store audit.Store, logger *slog.Logger, opts ...Option) *Publisher {
	p := &Publisher{store: store, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	complianceOpts := []compliance.Option{compliance.WithLogger(logger)}
	if p.metrics != nil {
		complianceOpts = append(complianceOpts, compliance.WithMetrics(p.metrics))
	}
	p.compliance = compliance.New(store, complianceOpts...)
	p.security = security.New(store, securityBufferSize, logger)
	return p
}

// Emit publishes event. Only compliance events can return an error.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if p.metrics != nil {
		p.metrics.Emitted.WithLabelValues(string(event.Category)).Inc()
	}

	switch event.Category {
	case audit.CategoryCompliance:
		return p.compliance.Emit(ctx, event)
	case audit.CategorySecurity:
		p.security.Emit(ctx, event)
		return nil
	default:
		if err := p.store.Append(ctx, event); err != nil {
			if p.metrics != nil {
				p.metrics.IncPersistFailures(event.Category)
			}
			p.logger.WarnContext(ctx, "operational audit event dropped",
				"action", event.Action,
				"error", err,
				"request_id", event.RequestID,
			)
		}
		return nil
	}
}

// Run flushes buffered security events until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	return p.security.Run(ctx)
}

// FlushSecurity writes buffered security events immediately.
func (p *Publisher) FlushSecurity(ctx context.Context) {
	p.security.Flush(ctx)
}

// ListRecent returns recent events for the admin audit view.
func (p *Publisher) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	return p.store.ListRecent(ctx, limit)
}

// ListByUser returns recent events concerning userID.
func (p *Publisher) ListByUser(ctx context.Context, userID id.UserID, limit int) ([]audit.Event, error) {
	return p.store.ListByUser(ctx, userID, limit)
}
