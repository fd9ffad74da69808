package memory

import (
	"context"
	"sync"

	"spendwise/internal/profile/models"
	id "spendwise/pkg/domain"
	"spendwise/pkg/platform/sentinel"
	"spendwise/pkg/platform/tx"
)

type Store struct {
	mu       sync.RWMutex
	profiles map[id.UserID]models.Profile
}

func New() *Store {
	return &Store{profiles: make(map[id.UserID]models.Profile)}
}

func (s *Store) Get(_ context.Context, userID id.UserID) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &p, nil
}

func (s *Store) Save(ctx context.Context, p models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.profiles[p.UserID]
	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existed {
			s.profiles[p.UserID] = prev
		} else {
			delete(s.profiles, p.UserID)
		}
	})
	s.profiles[p.UserID] = p
	return nil
}
