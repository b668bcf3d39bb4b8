// Package store persists organizations in memory or PostgreSQL.
package store

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"consular/internal/organization/models"
	id "consular/pkg/domain"
	"consular/pkg/platform/sentinel"
)

type InMemory struct {
	mu   sync.RWMutex
	orgs map[id.OrganizationID]*models.Organization
}

func NewInMemory() *InMemory {
	return &InMemory{orgs: make(map[id.OrganizationID]*models.Organization)}
}

// CreateIfNameAvailable inserts org unless another organization already uses
// the same name, compared case-insensitively.
func (s *InMemory) CreateIfNameAvailable(_ context.Context, org *models.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.orgs {
		if strings.EqualFold(existing.Name, org.Name) {
			return sentinel.ErrAlreadyUsed
		}
	}
	s.orgs[org.ID] = clone(org)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, orgID id.OrganizationID) (*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if o, ok := s.orgs[orgID]; ok {
		return clone(o), nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) List(_ context.Context) ([]*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Organization, 0, len(s.orgs))
	for _, o := range s.orgs {
		out = append(out, clone(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemory) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orgs), nil
}

func (s *InMemory) Execute(_ context.Context, orgID id.OrganizationID, validate func(*models.Organization) error, mutate func(*models.Organization)) (*models.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orgs[orgID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := clone(o)
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	s.orgs[orgID] = working
	return clone(working), nil
}

func clone(o *models.Organization) *models.Organization {
	c := *o
	c.Countries = slices.Clone(o.Countries)
	return &c
}
