package memory

import (
	"context"
	"slices"
	"sync"

	id "spendwise/pkg/domain"
	audit "spendwise/pkg/platform/audit"
	"spendwise/pkg/platform/tx"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.UserID][]audit.Event
	all    []audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.UserID][]audit.Event)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[id.UserID][]audit.Event)
	s.all = nil
}

func (s *InMemoryStore) Append(ctx context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.ID.IsNil() {
		event.ID = id.NewEventID()
	}
	tx.OnRollback(ctx, func() { s.remove(event) })
	if !event.UserID.IsNil() {
		s.events[event.UserID] = append(s.events[event.UserID], event)
	}
	s.all = append(s.all, event)
	return nil
}

func (s *InMemoryStore) ListByUser(_ context.Context, userID id.UserID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events[userID]...), nil
}

// ListRecent returns up to limit events, most recent first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.all) {
		limit = len(s.all)
	}
	out := make([]audit.Event, 0, limit)
	for i := len(s.all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.all[i])
	}
	return out, nil
}

func (s *InMemoryStore) remove(event audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	same := func(e audit.Event) bool { return e.ID == event.ID }
	if !event.UserID.IsNil() {
		s.events[event.UserID] = slices.DeleteFunc(s.events[event.UserID], same)
	}
	s.all = slices.DeleteFunc(s.all, same)
}
