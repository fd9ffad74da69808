package memory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"spendwise/internal/ledger/models"
	id "spendwise/pkg/domain"
	"spendwise/pkg/platform/sentinel"
	"spendwise/pkg/platform/tx"
)

type userState struct {
	available int64
	buckets   map[string]models.Bucket
	positions map[id.PositionID]models.Position
	goals     map[id.GoalID]models.Goal
}

func newUserState() *userState {
	return &userState{
		buckets:   make(map[string]models.Bucket),
		positions: make(map[id.PositionID]models.Position),
		goals:     make(map[id.GoalID]models.Goal),
	}
}

func (u *userState) clone() *userState {
	return &userState{
		available: u.available,
		buckets:   maps.Clone(u.buckets),
		positions: maps.Clone(u.positions),
		goals:     maps.Clone(u.goals),
	}
}

type Store struct {
	mu    sync.RWMutex
	users map[id.UserID]*userState
}

func New() *Store {
	return &Store{users: make(map[id.UserID]*userState)}
}

func (s *Store) Available(_ context.Context, user id.UserID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[user]; ok {
		return u.available, nil
	}
	return 0, nil
}

func (s *Store) Bucket(_ context.Context, user id.UserID, name string) (*models.Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[user]; ok {
		if b, ok := u.buckets[name]; ok {
			return &b, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *Store) ListBuckets(_ context.Context, user id.UserID) ([]models.Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[user]
	if !ok {
		return nil, nil
	}
	out := make([]models.Bucket, 0, len(u.buckets))
	for _, b := range u.buckets {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b models.Bucket) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (s *Store) Position(_ context.Context, user id.UserID, positionID id.PositionID) (*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[user]; ok {
		if p, ok := u.positions[positionID]; ok {
			return &p, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *Store) PositionByAdapter(_ context.Context, user id.UserID, adapterID id.AdapterID) (*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[user]; ok {
		for _, p := range u.positions {
			if p.AdapterID == adapterID {
				return &p, nil
			}
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *Store) ListPositions(_ context.Context, user id.UserID) ([]models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[user]
	if !ok {
		return nil, nil
	}
	out := make([]models.Position, 0, len(u.positions))
	for _, p := range u.positions {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b models.Position) int {
		if c := a.OpenedAt.Compare(b.OpenedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}

func (s *Store) Goal(_ context.Context, user id.UserID, goalID id.GoalID) (*models.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[user]; ok {
		if g, ok := u.goals[goalID]; ok {
			return &g, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *Store) ListGoals(_ context.Context, user id.UserID) ([]models.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[user]
	if !ok {
		return nil, nil
	}
	out := make([]models.Goal, 0, len(u.goals))
	for _, g := range u.goals {
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b models.Goal) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}

func (s *Store) HasPositions(_ context.Context, user id.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[user]
	return ok && len(u.positions) > 0, nil
}

func (s *Store) PositionHolders(_ context.Context) ([]id.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []id.UserID
	for user, u := range s.users {
		if len(u.positions) > 0 {
			out = append(out, user)
		}
	}
	slices.SortFunc(out, func(a, b id.UserID) int { return strings.Compare(a.String(), b.String()) })
	return out, nil
}

// Apply writes a changeset. Inside a journal transaction the user's prior
// state is restored on rollback.
func (s *Store) Apply(ctx context.Context, user id.UserID, cs models.Changeset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[user]
	if ok {
		prev := u.clone()
		tx.OnRollback(ctx, func() { s.restore(user, prev) })
	} else {
		u = newUserState()
		s.users[user] = u
		tx.OnRollback(ctx, func() { s.restore(user, nil) })
	}
	if cs.Available != nil {
		u.available = *cs.Available
	}
	for _, b := range cs.Buckets {
		u.buckets[b.Name] = b
	}
	for _, p := range cs.Positions {
		u.positions[p.ID] = p
	}
	for _, pid := range cs.DeletedPositions {
		delete(u.positions, pid)
	}
	for _, g := range cs.Goals {
		u.goals[g.ID] = g
	}
	return nil
}

func (s *Store) restore(user id.UserID, prev *userState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev == nil {
		delete(s.users, user)
		return
	}
	s.users[user] = prev
}
