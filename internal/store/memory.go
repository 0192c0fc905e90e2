package store

import (
	"context"
	"slices"
	"sync"

	"github.com/atmx/rewards-engine/internal/model"
)

// MemoryStore implements Store with in-memory state. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	snapshot *model.Snapshot
	events   []model.Event
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snap *model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot = copySnapshot(snap)
	return nil
}

func (s *MemoryStore) LoadSnapshot(_ context.Context) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snapshot == nil {
		return nil, ErrNotFound
	}
	return copySnapshot(s.snapshot), nil
}

func (s *MemoryStore) AppendEvents(_ context.Context, events []model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, events...)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, f EventFilter) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Walk backwards to collect the newest matches, then restore order.
	limit := f.limit()
	out := make([]model.Event, 0)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if f.matches(&s.events[i]) {
			out = append(out, s.events[i])
		}
	}
	slices.Reverse(out)
	return out, nil
}

// Store a copy to avoid external mutation.
func copySnapshot(snap *model.Snapshot) *model.Snapshot {
	c := *snap
	c.Accounts = slices.Clone(snap.Accounts)
	c.TokenBalances = slices.Clone(snap.TokenBalances)
	return &c
}
