// Package store defines the persistence interface for the rewards engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/rewards-engine/internal/model"
)

// ErrNotFound is returned by LoadSnapshot when nothing has been saved yet.
var ErrNotFound = errors.New("store: not found")

// DefaultEventLimit caps ListEvents when the filter sets no limit.
const DefaultEventLimit = 100

// EventFilter selects events for ListEvents. Zero fields match everything.
type EventFilter struct {
	Account *common.Address
	Kind    model.EventKind
	Limit   int
}

func (f EventFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultEventLimit
	}
	return f.Limit
}

func (f EventFilter) matches(ev *model.Event) bool {
	if f.Account != nil && ev.Account != *f.Account {
		return false
	}
	if f.Kind != "" && ev.Kind != f.Kind {
		return false
	}
	return true
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Ledger state ---

	// SaveSnapshot replaces the persisted ledger state atomically.
	SaveSnapshot(ctx context.Context, snap *model.Snapshot) error

	// LoadSnapshot returns the last saved ledger state, or ErrNotFound.
	LoadSnapshot(ctx context.Context) (*model.Snapshot, error)

	// --- Immutable event log ---

	// AppendEvents appends events in order.
	AppendEvents(ctx context.Context, events []model.Event) error

	// ListEvents returns the most recent matching events, oldest first.
	ListEvents(ctx context.Context, filter EventFilter) ([]model.Event, error)
}
