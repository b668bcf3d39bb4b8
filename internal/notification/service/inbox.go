package service

import (
	"context"
	"errors"

	"consular/internal/access"
	"consular/internal/notification/models"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	"consular/pkg/platform/sentinel"
	"consular/pkg/requestcontext"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Inbox serves the caller's own notifications.
type Inbox struct {
	store Store
}

func NewInbox(store Store) *Inbox {
	return &Inbox{store: store}
}

func (i *Inbox) List(ctx context.Context, f models.ListFilter) ([]*models.Notification, error) {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	f.Limit = min(f.Limit, maxPageSize)
	f.Offset = max(f.Offset, 0)
	out, err := i.store.ListByUser(ctx, actor.UserID, f)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list notifications")
	}
	if out == nil {
		out = []*models.Notification{}
	}
	return out, nil
}

func (i *Inbox) UnreadCount(ctx context.Context) (int, error) {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return 0, err
	}
	return i.CountUnreadFor(ctx, actor.UserID)
}

// CountUnreadFor is the dashboard's view of a user's unread count.
func (i *Inbox) CountUnreadFor(ctx context.Context, userID id.UserID) (int, error) {
	n, err := i.store.CountUnread(ctx, userID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count notifications")
	}
	return n, nil
}

func (i *Inbox) MarkRead(ctx context.Context, notificationID id.NotificationID) (*models.Notification, error) {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	n, err := i.store.MarkRead(ctx, actor.UserID, notificationID, requestcontext.Now(ctx))
	if err != nil {
		return nil, wrapNotificationErr(err)
	}
	return n, nil
}

func (i *Inbox) MarkAllRead(ctx context.Context) (int, error) {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return 0, err
	}
	n, err := i.store.MarkAllRead(ctx, actor.UserID, requestcontext.Now(ctx))
	if err != nil {
		return 0, wrapNotificationErr(err)
	}
	return n, nil
}

func (i *Inbox) Delete(ctx context.Context, notificationID id.NotificationID) error {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return err
	}
	if err := i.store.SoftDelete(ctx, actor.UserID, notificationID, requestcontext.Now(ctx)); err != nil {
		return wrapNotificationErr(err)
	}
	return nil
}

func wrapNotificationErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "notification not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "notification store failure")
}
