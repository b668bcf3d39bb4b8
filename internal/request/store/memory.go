// Package store persists service requests in memory or PostgreSQL.
package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"consular/internal/request/models"
	id "consular/pkg/domain"
	"consular/pkg/platform/sentinel"
)

type InMemory struct {
	mu       sync.RWMutex
	requests map[id.RequestID]*models.ServiceRequest
}

func NewInMemory() *InMemory {
	return &InMemory{requests: make(map[id.RequestID]*models.ServiceRequest)}
}

// Create returns ErrAlreadyUsed for a duplicate reference or a second active
// registration request on the same profile.
func (s *InMemory) Create(_ context.Context, r *models.ServiceRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.requests {
		if existing.ID == r.ID || existing.Reference == r.Reference {
			return sentinel.ErrAlreadyUsed
		}
		if r.IsRegistration() && existing.IsRegistration() && existing.IsActive() && existing.ProfileID == r.ProfileID {
			return sentinel.ErrAlreadyUsed
		}
	}
	s.requests[r.ID] = r.Clone()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, requestID id.RequestID) (*models.ServiceRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.requests[requestID]; ok {
		return r.Clone(), nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) HasActiveRegistration(_ context.Context, profileID id.ProfileID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.requests {
		if r.ProfileID == profileID && r.IsRegistration() && r.IsActive() {
			return true, nil
		}
	}
	return false, nil
}

// List returns matches newest first.
func (s *InMemory) List(_ context.Context, f models.ListFilter) ([]*models.ServiceRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ServiceRequest
	for _, r := range s.requests {
		if matches(r, f) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

// CountByStatus ignores Status, Limit and Offset in f.
func (s *InMemory) CountByStatus(_ context.Context, f models.ListFilter) (models.StatusCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f.Status = ""
	counts := models.StatusCounts{}
	for _, r := range s.requests {
		if matches(r, f) {
			counts[r.Status]++
		}
	}
	return counts, nil
}

// Execute runs validate then mutate under the store lock.
func (s *InMemory) Execute(_ context.Context, requestID id.RequestID, validate func(*models.ServiceRequest) error, mutate func(*models.ServiceRequest)) (*models.ServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := r.Clone()
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	s.requests[requestID] = working
	return working.Clone(), nil
}

// Remove deletes the request when validate passes.
func (s *InMemory) Remove(_ context.Context, requestID id.RequestID, validate func(*models.ServiceRequest) error) (*models.ServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(r.Clone()); err != nil {
		return nil, err
	}
	delete(s.requests, requestID)
	return r.Clone(), nil
}

func matches(r *models.ServiceRequest, f models.ListFilter) bool {
	switch {
	case !f.UserID.IsNil() && r.UserID != f.UserID:
		return false
	case !f.OrganizationID.IsNil() && r.OrganizationID != f.OrganizationID:
		return false
	case !f.AssignedAgentID.IsNil() && r.AssignedAgentID != f.AssignedAgentID:
		return false
	case !f.ServiceID.IsNil() && r.ServiceID != f.ServiceID:
		return false
	case !f.DocumentID.IsNil() && !slices.Contains(r.DocumentIDs, f.DocumentID):
		return false
	case f.Status != "" && r.Status != f.Status:
		return false
	}
	return true
}
