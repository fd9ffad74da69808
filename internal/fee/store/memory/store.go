package memory

import (
	"context"
	"slices"
	"sync"

	"spendwise/internal/fee/models"
	id "spendwise/pkg/domain"
	"spendwise/pkg/platform/sentinel"
	"spendwise/pkg/platform/tx"
)

type Store struct {
	mu        sync.RWMutex
	cfg       *models.Config
	policies  map[string]models.PolicySpec
	order     []string
	volume    map[id.UserID]int64
	collected models.Collected
}

func New() *Store {
	return &Store{
		policies:  make(map[string]models.PolicySpec),
		volume:    make(map[id.UserID]int64),
		collected: models.Collected{ByKind: make(map[models.Kind]int64)},
	}
}

func (s *Store) LoadConfig(_ context.Context) (*models.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil, sentinel.ErrNotFound
	}
	cfg := *s.cfg
	return &cfg, nil
}

func (s *Store) SaveConfig(ctx context.Context, cfg models.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cfg
	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.cfg = prev
	})
	s.cfg = &cfg
	return nil
}

func (s *Store) ListPolicies(_ context.Context) ([]models.PolicySpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PolicySpec, 0, len(s.order))
	for _, pid := range s.order {
		out = append(out, s.policies[pid])
	}
	return out, nil
}

func (s *Store) SavePolicy(ctx context.Context, spec models.PolicySpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[spec.ID]; ok {
		return sentinel.ErrConflict
	}
	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.policies, spec.ID)
		s.order = slices.DeleteFunc(s.order, func(pid string) bool { return pid == spec.ID })
	})
	s.policies[spec.ID] = spec
	s.order = append(s.order, spec.ID)
	return nil
}

func (s *Store) AddVolume(ctx context.Context, userID id.UserID, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.volume[userID] -= amount
	})
	s.volume[userID] += amount
	return nil
}

func (s *Store) Volume(_ context.Context, userID id.UserID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.volume[userID], nil
}

func (s *Store) AddCollected(ctx context.Context, kind models.Kind, split models.Split) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.collected.Protocol -= split.Protocol
		s.collected.Treasury -= split.Treasury
		s.collected.ByKind[kind] -= split.Protocol + split.Treasury
	})
	s.collected.Protocol += split.Protocol
	s.collected.Treasury += split.Treasury
	s.collected.ByKind[kind] += split.Protocol + split.Treasury
	return nil
}

func (s *Store) Collected(_ context.Context) (models.Collected, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := models.Collected{
		Protocol: s.collected.Protocol,
		Treasury: s.collected.Treasury,
		ByKind:   make(map[models.Kind]int64, len(s.collected.ByKind)),
	}
	for k, v := range s.collected.ByKind {
		out.ByKind[k] = v
	}
	return out, nil
}
