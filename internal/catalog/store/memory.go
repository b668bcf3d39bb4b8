// Package store persists consular services in memory or PostgreSQL.
package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"consular/internal/catalog/models"
	id "consular/pkg/domain"
	"consular/pkg/platform/sentinel"
)

// Filter narrows List. Zero values match everything.
type Filter struct {
	OrganizationID id.OrganizationID
	Category       models.Category
	ActiveOnly     bool
}

func (f Filter) matches(s *models.Service) bool {
	if !f.OrganizationID.IsNil() && s.OrganizationID != f.OrganizationID {
		return false
	}
	if f.Category != "" && s.Category != f.Category {
		return false
	}
	return !f.ActiveOnly || s.Active
}

type InMemory struct {
	mu       sync.RWMutex
	services map[id.ServiceID]*models.Service
}

func NewInMemory() *InMemory {
	return &InMemory{services: make(map[id.ServiceID]*models.Service)}
}

func (s *InMemory) Create(_ context.Context, svc *models.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[svc.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	s.services[svc.ID] = clone(svc)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, serviceID id.ServiceID) (*models.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if svc, ok := s.services[serviceID]; ok {
		return clone(svc), nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) List(_ context.Context, f Filter) ([]*models.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Service
	for _, svc := range s.services {
		if f.matches(svc) {
			out = append(out, clone(svc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemory) Execute(_ context.Context, serviceID id.ServiceID, validate func(*models.Service) error, mutate func(*models.Service)) (*models.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[serviceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := clone(svc)
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	s.services[serviceID] = working
	return clone(working), nil
}

func clone(svc *models.Service) *models.Service {
	c := *svc
	c.RequiredDocuments = slices.Clone(svc.RequiredDocuments)
	c.Steps = make([]models.Step, len(svc.Steps))
	for i, st := range svc.Steps {
		st.Fields = slices.Clone(st.Fields)
		c.Steps[i] = st
	}
	return &c
}
