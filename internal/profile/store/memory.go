// Package store persists profiles in memory or PostgreSQL.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"consular/internal/profile/models"
	id "consular/pkg/domain"
	"consular/pkg/platform/sentinel"
)

type InMemory struct {
	mu       sync.RWMutex
	profiles map[id.ProfileID]*models.Profile
}

func NewInMemory() *InMemory {
	return &InMemory{profiles: make(map[id.ProfileID]*models.Profile)}
}

// Create rejects a second profile for the same user with ErrAlreadyUsed.
func (s *InMemory) Create(_ context.Context, p *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.profiles {
		if existing.UserID == p.UserID || existing.ID == p.ID {
			return sentinel.ErrAlreadyUsed
		}
	}
	s.profiles[p.ID] = clone(p)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, profileID id.ProfileID) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.profiles[profileID]; ok {
		return clone(p), nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) FindByUser(_ context.Context, userID id.UserID) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.profiles {
		if p.UserID == userID {
			return clone(p), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// List returns profiles oldest submission first, matching the review queue.
func (s *InMemory) List(_ context.Context, f models.ListFilter) ([]*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Profile
	for _, p := range s.profiles {
		if f.Status == "" || p.Status == f.Status {
			out = append(out, clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *InMemory) CountByStatus(_ context.Context, statuses ...models.Status) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.profiles {
		for _, st := range statuses {
			if p.Status == st {
				n++
				break
			}
		}
	}
	return n, nil
}

// Execute runs validate then mutate under the store lock.
func (s *InMemory) Execute(_ context.Context, profileID id.ProfileID, validate func(*models.Profile) error, mutate func(*models.Profile)) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[profileID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := clone(p)
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	s.profiles[profileID] = working
	return clone(working), nil
}

func clone(p *models.Profile) *models.Profile {
	c := *p
	c.BirthDate = copyTime(p.BirthDate)
	c.DocumentExpiry = copyTime(p.DocumentExpiry)
	c.SubmittedAt = copyTime(p.SubmittedAt)
	c.ValidatedAt = copyTime(p.ValidatedAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
