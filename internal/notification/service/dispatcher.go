// Package service creates notifications and serves a user's inbox.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	notifmetrics "consular/internal/notification/metrics"
	"consular/internal/notification/models"
	id "consular/pkg/domain"
	"consular/pkg/requestcontext"
)

// Store persists notifications.
type Store interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByUser(ctx context.Context, userID id.UserID, f models.ListFilter) ([]*models.Notification, error)
	CountUnread(ctx context.Context, userID id.UserID) (int, error)
	MarkRead(ctx context.Context, userID id.UserID, notificationID id.NotificationID, now time.Time) (*models.Notification, error)
	MarkAllRead(ctx context.Context, userID id.UserID, now time.Time) (int, error)
	SoftDelete(ctx context.Context, userID id.UserID, notificationID id.NotificationID, now time.Time) error
}

// Publisher forwards a stored notification to another audience: other
// instances or the external delivery topic.
type Publisher interface {
	Publish(ctx context.Context, n *models.Notification) error
}

// LocalHub is the in-process live stream.
type LocalHub interface {
	Publish(n *models.Notification)
}

// Dispatcher is the fire-and-forget entry point other modules call after a
// mutation. Nothing it does is reported back to the caller.
type Dispatcher struct {
	store    Store
	hub      LocalHub
	relay    Publisher
	delivery Publisher
	logger   *slog.Logger
	metrics  *notifmetrics.Metrics
}

type DispatcherOption func(*Dispatcher)

func WithHub(h LocalHub) DispatcherOption {
	return func(d *Dispatcher) {
		d.hub = h
	}
}

func WithRelay(p Publisher) DispatcherOption {
	return func(d *Dispatcher) {
		d.relay = p
	}
}

func WithDelivery(p Publisher) DispatcherOption {
	return func(d *Dispatcher) {
		d.delivery = p
	}
}

func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithDispatcherMetrics(m *notifmetrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func NewDispatcher(store Store, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify stores the notification and fans it out. Every failure is logged
// and counted; none is returned.
func (d *Dispatcher) Notify(ctx context.Context, draft models.Draft) {
	if d == nil {
		return
	}
	n, err := draft.Build(id.NotificationID(uuid.New()), requestcontext.Now(ctx))
	if err != nil {
		d.failed(ctx, "build", draft, err)
		return
	}
	if err := d.store.Create(ctx, n); err != nil {
		d.failed(ctx, "store", draft, err)
		return
	}
	d.metrics.IncDispatched(string(n.Type))

	if d.hub != nil {
		d.hub.Publish(n)
	}
	if d.relay != nil {
		if err := d.relay.Publish(ctx, n); err != nil {
			d.failed(ctx, "relay", draft, err)
		}
	}
	if d.delivery != nil && len(n.External()) > 0 {
		if err := d.delivery.Publish(ctx, n); err != nil {
			d.failed(ctx, "delivery", draft, err)
		}
	}
}

func (d *Dispatcher) failed(ctx context.Context, stage string, draft models.Draft, err error) {
	d.metrics.IncFailure(stage)
	d.logger.ErrorContext(ctx, "notification dispatch failed",
		"stage", stage,
		"type", draft.Type,
		"user_id", draft.UserID,
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
}
