// Package compliance provides a fail-closed audit publisher for regulatory
// events. The caller blocks until the write succeeds; if it fails the calling
// operation must fail too.
package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	audit "consular/pkg/platform/audit"
)

type Metrics interface {
	IncPersistFailures(category audit.EventCategory)
	ObservePersist(category audit.EventCategory, seconds float64)
}

// Publisher emits compliance events synchronously.
type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics Metrics
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit writes the event and returns an error if persistence fails.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	start := time.Now()

	if event.UserID.IsNil() {
		return fmt.Errorf("compliance event requires UserID")
	}
	if event.Action == "" {
		return fmt.Errorf("compliance event requires Action")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Category = audit.CategoryCompliance

	if err := p.store.Append(ctx, event); err != nil {
		if p.metrics != nil {
			p.metrics.IncPersistFailures(audit.CategoryCompliance)
		}
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "CRITICAL: compliance audit failed",
				"action", event.Action,
				"user_id", event.UserID,
				"error", err,
				"request_id", event.RequestID,
			)
		}
		return fmt.Errorf("compliance audit persistence failed: %w", err)
	}

	if p.metrics != nil {
		p.metrics.ObservePersist(audit.CategoryCompliance, time.Since(start).Seconds())
	}
	return nil
}
