package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"spendwise/internal/delegation/models"
	id "spendwise/pkg/domain"
	"spendwise/pkg/platform/sentinel"
)

type key struct {
	delegate id.UserID
	user     id.UserID
}

type Store struct {
	mu         sync.Mutex
	allowances map[key]models.Allowance
}

func New() *Store {
	return &Store{allowances: make(map[key]models.Allowance)}
}

func (s *Store) Put(_ context.Context, a models.Allowance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowances[key{a.Delegate, a.User}] = a
	return nil
}

func (s *Store) Get(_ context.Context, delegate, user id.UserID) (*models.Allowance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.allowances[key{delegate, user}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &a, nil
}

func (s *Store) Delete(_ context.Context, delegate, user id.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.allowances, key{delegate, user})
	return nil
}

func (s *Store) ListByUser(_ context.Context, user id.UserID) ([]models.Allowance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Allowance
	for k, a := range s.allowances {
		if k.user == user {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b models.Allowance) int {
		return strings.Compare(a.Delegate.String(), b.Delegate.String())
	})
	return out, nil
}

func (s *Store) Consume(_ context.Context, delegate, user id.UserID, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{delegate, user}
	a, ok := s.allowances[k]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	if a.Remaining < amount {
		return a.Remaining, sentinel.ErrInvalidState
	}
	a.Remaining -= amount
	s.allowances[k] = a
	return a.Remaining, nil
}

func (s *Store) Restore(_ context.Context, delegate, user id.UserID, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{delegate, user}
	if a, ok := s.allowances[k]; ok {
		a.Remaining += amount
		s.allowances[k] = a
	}
	return nil
}
