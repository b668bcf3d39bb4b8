// Package store persists document records in memory or PostgreSQL.
package store

import (
	"context"
	"sort"
	"sync"

	"consular/internal/document/models"
	id "consular/pkg/domain"
	"consular/pkg/platform/sentinel"
)

type InMemory struct {
	mu   sync.RWMutex
	docs map[id.DocumentID]*models.Document
}

func NewInMemory() *InMemory {
	return &InMemory{docs: make(map[id.DocumentID]*models.Document)}
}

func (s *InMemory) Create(_ context.Context, d *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[d.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	s.docs[d.ID] = d.Clone()
	return nil
}

// FindByID returns deleted documents too; callers decide visibility.
func (s *InMemory) FindByID(_ context.Context, docID id.DocumentID) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.docs[docID]; ok {
		return d.Clone(), nil
	}
	return nil, sentinel.ErrNotFound
}

// FindMany returns the documents found among docIDs, in no particular order.
func (s *InMemory) FindMany(_ context.Context, docIDs []id.DocumentID) ([]*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Document, 0, len(docIDs))
	for _, docID := range docIDs {
		if d, ok := s.docs[docID]; ok {
			out = append(out, d.Clone())
		}
	}
	return out, nil
}

// List returns live documents, newest first.
func (s *InMemory) List(_ context.Context, f models.ListFilter) ([]*models.Document, error) {
	s.mu.RLock()
	var out []*models.Document
	for _, d := range s.docs {
		if matches(d, f) {
			out = append(out, d.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
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

func (s *InMemory) CountByStatus(_ context.Context, status models.Status) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, d := range s.docs {
		if !d.IsDeleted() && d.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *InMemory) Execute(_ context.Context, docID id.DocumentID, validate func(*models.Document) error, mutate func(*models.Document)) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.docs[docID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	d := current.Clone()
	if err := validate(d); err != nil {
		return nil, err
	}
	mutate(d)
	s.docs[docID] = d
	return d.Clone(), nil
}

func matches(d *models.Document, f models.ListFilter) bool {
	if d.IsDeleted() {
		return false
	}
	if !f.UserID.IsNil() && d.UserID != f.UserID {
		return false
	}
	if !f.RequestID.IsNil() && d.RequestID != f.RequestID {
		return false
	}
	return f.Status == "" || d.Status == f.Status
}
