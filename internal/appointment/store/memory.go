// Package store persists appointments in memory or PostgreSQL.
package store

import (
	"context"
	"sort"
	"sync"

	"consular/internal/appointment/models"
	id "consular/pkg/domain"
	"consular/pkg/platform/sentinel"
)

type InMemory struct {
	mu    sync.RWMutex
	appts map[id.AppointmentID]*models.Appointment
}

func NewInMemory() *InMemory {
	return &InMemory{appts: make(map[id.AppointmentID]*models.Appointment)}
}

// Create rejects a second SCHEDULED appointment in the same slot with
// sentinel.ErrAlreadyUsed, mirroring the partial unique index.
func (s *InMemory) Create(_ context.Context, a *models.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.appts[a.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	if s.slotTaken(a.OrganizationID, a) {
		return sentinel.ErrAlreadyUsed
	}
	s.appts[a.ID] = a.Clone()
	return nil
}

func (s *InMemory) slotTaken(orgID id.OrganizationID, a *models.Appointment) bool {
	for _, other := range s.appts {
		if other.ID != a.ID && other.OrganizationID == orgID &&
			other.Status == models.StatusScheduled && other.StartsAt.Equal(a.StartsAt) {
			return true
		}
	}
	return false
}

func (s *InMemory) FindByID(_ context.Context, apptID id.AppointmentID) (*models.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.appts[apptID]; ok {
		return a.Clone(), nil
	}
	return nil, sentinel.ErrNotFound
}

// List returns matching appointments ordered by start time.
func (s *InMemory) List(_ context.Context, f models.ListFilter) ([]*models.Appointment, error) {
	s.mu.RLock()
	var out []*models.Appointment
	for _, a := range s.appts {
		if matches(a, f) {
			out = append(out, a.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *InMemory) Execute(_ context.Context, apptID id.AppointmentID, validate func(*models.Appointment) error, mutate func(*models.Appointment)) (*models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.appts[apptID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	a := current.Clone()
	if err := validate(a); err != nil {
		return nil, err
	}
	mutate(a)
	s.appts[apptID] = a
	return a.Clone(), nil
}

func matches(a *models.Appointment, f models.ListFilter) bool {
	if !f.UserID.IsNil() && a.UserID != f.UserID {
		return false
	}
	if !f.OrganizationID.IsNil() && a.OrganizationID != f.OrganizationID {
		return false
	}
	if !f.From.IsZero() && a.StartsAt.Before(f.From) {
		return false
	}
	return f.Status == "" || a.Status == f.Status
}
