package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/rewards-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for per-account event lists. Appends go to the primary store and
// invalidate the touched lists; reads check Redis first then fall back to the
// primary. Snapshots always go to the primary: they are read once at startup
// and a stale cached copy would be restored and then written back. Redis
// failures never fail a call.
type CachedStore struct {
	primary Store
	rdb     redis.UniversalClient
	ttl     time.Duration
	log     *slog.Logger
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.UniversalClient, ttl time.Duration, log *slog.Logger) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		log:     log,
	}
}

// --- Snapshots ---

func (s *CachedStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	return s.primary.SaveSnapshot(ctx, snap)
}

func (s *CachedStore) LoadSnapshot(ctx context.Context) (*model.Snapshot, error) {
	return s.primary.LoadSnapshot(ctx)
}

// --- Events ---

func (s *CachedStore) AppendEvents(ctx context.Context, events []model.Event) error {
	if err := s.primary.AppendEvents(ctx, events); err != nil {
		return err
	}
	// Invalidate the event lists of every account touched.
	keys := make([]string, 0, len(events))
	seen := make(map[common.Address]bool, len(events))
	for _, ev := range events {
		if !seen[ev.Account] {
			seen[ev.Account] = true
			keys = append(keys, eventsKey(ev.Account))
		}
	}
	if len(keys) > 0 {
		if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
			s.log.Warn("redis invalidate failed", "keys", len(keys), "err", err)
		}
	}
	return nil
}

// ListEvents caches per-account queries in a hash keyed by the rest of the
// filter. Unfiltered queries pass through.
func (s *CachedStore) ListEvents(ctx context.Context, f EventFilter) ([]model.Event, error) {
	if f.Account == nil {
		return s.primary.ListEvents(ctx, f)
	}

	key := eventsKey(*f.Account)
	field := fmt.Sprintf("%s:%d", f.Kind, f.limit())
	data, err := s.rdb.HGet(ctx, key, field).Bytes()
	if err == nil {
		var events []model.Event
		if json.Unmarshal(data, &events) == nil {
			return events, nil
		}
	}

	// Cache miss.
	events, err := s.primary.ListEvents(ctx, f)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(events); err == nil {
		pipe := s.rdb.TxPipeline()
		pipe.HSet(ctx, key, field, data)
		pipe.Expire(ctx, key, s.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			s.log.Warn("redis cache write failed", "key", key, "err", err)
		}
	}
	return events, nil
}

func eventsKey(account common.Address) string {
	return "ledger:events:" + strings.ToLower(account.Hex())
}
