package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"spendwise/internal/adapter/models"
	id "spendwise/pkg/domain"
	"spendwise/pkg/platform/sentinel"
)

type Store struct {
	mu       sync.RWMutex
	adapters map[id.AdapterID]models.Descriptor
}

func New() *Store {
	return &Store{adapters: make(map[id.AdapterID]models.Descriptor)}
}

func (s *Store) Save(_ context.Context, d models.Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapters[d.ID] = d
	return nil
}

func (s *Store) Get(_ context.Context, adapterID id.AdapterID) (*models.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.adapters[adapterID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &d, nil
}

// List returns descriptors ordered by registration time.
func (s *Store) List(_ context.Context) ([]models.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Descriptor, 0, len(s.adapters))
	for _, d := range s.adapters {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b models.Descriptor) int { return a.RegisteredAt.Compare(b.RegisteredAt) })
	return out, nil
}

func (s *Store) SetActive(_ context.Context, adapterID id.AdapterID, active bool, deactivatedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.adapters[adapterID]
	if !ok {
		return sentinel.ErrNotFound
	}
	d.Active = active
	d.DeactivatedAt = deactivatedAt
	s.adapters[adapterID] = d
	return nil
}
