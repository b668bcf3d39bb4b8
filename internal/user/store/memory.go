// Package store persists users in memory or PostgreSQL.
package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"consular/internal/access"
	"consular/internal/user/models"
	id "consular/pkg/domain"
	"consular/pkg/platform/sentinel"
)

// InMemory is the user store used when no database is configured and in tests.
type InMemory struct {
	mu    sync.RWMutex
	users map[id.UserID]*models.User
}

func NewInMemory() *InMemory {
	return &InMemory{users: make(map[id.UserID]*models.User)}
}

func (s *InMemory) Create(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	for _, existing := range s.users {
		if existing.Email == user.Email {
			return sentinel.ErrAlreadyUsed
		}
	}
	s.users[user.ID] = clone(user)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, userID id.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[userID]; ok {
		return clone(u), nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) FindByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = models.NormalizeEmail(email)
	for _, u := range s.users {
		if u.Email == email {
			return clone(u), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// ListByOrganization returns live users of orgID ordered by email.
func (s *InMemory) ListByOrganization(_ context.Context, orgID id.OrganizationID, limit, offset int) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.User
	for _, u := range s.users {
		if u.OrganizationID == orgID && !u.IsDeleted() {
			out = append(out, clone(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return paginate(out, limit, offset), nil
}

func (s *InMemory) ExistsWithRole(_ context.Context, role access.Role) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if !u.IsDeleted() && slices.Contains(u.Roles, role) {
			return true, nil
		}
	}
	return false, nil
}

// Execute runs validate then mutate under the store lock.
func (s *InMemory) Execute(_ context.Context, userID id.UserID, validate func(*models.User) error, mutate func(*models.User)) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := clone(u)
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	s.users[userID] = working
	return clone(working), nil
}

func clone(u *models.User) *models.User {
	c := *u
	c.Roles = slices.Clone(u.Roles)
	if u.DeletedAt != nil {
		t := *u.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
