// Package store persists notifications in memory or PostgreSQL.
package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"consular/internal/notification/models"
	id "consular/pkg/domain"
	"consular/pkg/platform/sentinel"
)

type InMemory struct {
	mu     sync.RWMutex
	byID   map[id.NotificationID]*models.Notification
	byUser map[id.UserID][]id.NotificationID
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:   make(map[id.NotificationID]*models.Notification),
		byUser: make(map[id.UserID][]id.NotificationID),
	}
}

func (s *InMemory) Create(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[n.ID] = clone(n)
	s.byUser[n.UserID] = append(s.byUser[n.UserID], n.ID)
	return nil
}

// ListByUser returns live notifications newest first.
func (s *InMemory) ListByUser(_ context.Context, userID id.UserID, f models.ListFilter) ([]*models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Notification
	for _, nid := range s.byUser[userID] {
		n := s.byID[nid]
		if n.DeletedAt != nil || (f.UnreadOnly && n.Read) {
			continue
		}
		out = append(out, clone(n))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, f.Limit, f.Offset), nil
}

func (s *InMemory) CountUnread(_ context.Context, userID id.UserID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, nid := range s.byUser[userID] {
		if x := s.byID[nid]; x.DeletedAt == nil && !x.Read {
			n++
		}
	}
	return n, nil
}

func (s *InMemory) MarkRead(_ context.Context, userID id.UserID, notificationID id.NotificationID, now time.Time) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.owned(userID, notificationID)
	if err != nil {
		return nil, err
	}
	n.MarkRead(now)
	return clone(n), nil
}

func (s *InMemory) MarkAllRead(_ context.Context, userID id.UserID, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, nid := range s.byUser[userID] {
		if n := s.byID[nid]; n.DeletedAt == nil && !n.Read {
			n.MarkRead(now)
			count++
		}
	}
	return count, nil
}

func (s *InMemory) SoftDelete(_ context.Context, userID id.UserID, notificationID id.NotificationID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.owned(userID, notificationID)
	if err != nil {
		return err
	}
	n.DeletedAt = &now
	return nil
}

func (s *InMemory) owned(userID id.UserID, notificationID id.NotificationID) (*models.Notification, error) {
	n, ok := s.byID[notificationID]
	if !ok || n.UserID != userID || n.DeletedAt != nil {
		return nil, sentinel.ErrNotFound
	}
	return n, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func clone(n *models.Notification) *models.Notification {
	c := *n
	c.Channels = slices.Clone(n.Channels)
	c.Data = maps.Clone(n.Data)
	return &c
}
