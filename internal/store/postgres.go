package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/rewards-engine/internal/fixed"
	"github.com/atmx/rewards-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All 256-bit quantities are stored as NUMERIC(78,0) raw units.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// SaveSnapshot replaces the state row, every account row and every token
// balance row in one transaction.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_state (id, total_supply, reward_per_token_stored, last_update_time,
		                           reward_rate, period_finish, rewards_duration,
		                           paused, last_pause_time, owner, position_manager, rewards_distribution, updated_at)
		 VALUES (1, $1::NUMERIC, $2::NUMERIC, $3, $4::NUMERIC, $5, $6, $7, $8, $9, $10, $11, NOW())
		 ON CONFLICT (id) DO UPDATE SET
		    total_supply = EXCLUDED.total_supply,
		    reward_per_token_stored = EXCLUDED.reward_per_token_stored,
		    last_update_time = EXCLUDED.last_update_time,
		    reward_rate = EXCLUDED.reward_rate,
		    period_finish = EXCLUDED.period_finish,
		    rewards_duration = EXCLUDED.rewards_duration,
		    paused = EXCLUDED.paused,
		    last_pause_time = EXCLUDED.last_pause_time,
		    owner = EXCLUDED.owner,
		    position_manager = EXCLUDED.position_manager,
		    rewards_distribution = EXCLUDED.rewards_distribution,
		    updated_at = EXCLUDED.updated_at`,
		snap.TotalSupply.Dec(), snap.RewardPerTokenStored.Dec(), int64(snap.LastUpdateTime),
		snap.RewardRate.Dec(), int64(snap.PeriodFinish), int64(snap.RewardsDuration),
		snap.Paused, int64(snap.LastPauseTime),
		snap.Owner.Bytes(), snap.PositionManager.Bytes(), snap.RewardsDistribution.Bytes(),
	)
	if err != nil {
		return fmt.Errorf("save ledger state: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM ledger_accounts`); err != nil {
		return fmt.Errorf("clear ledger accounts: %w", err)
	}
	if len(snap.Accounts) > 0 {
		batch := &pgx.Batch{}
		for i := range snap.Accounts {
			a := &snap.Accounts[i]
			batch.Queue(
				`INSERT INTO ledger_accounts (account, balance, reward_per_token_paid, rewards)
				 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC)`,
				a.Account.Bytes(), a.Balance.Dec(), a.RewardPerTokenPaid.Dec(), a.Rewards.Dec(),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("save ledger accounts: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM token_balances`); err != nil {
		return fmt.Errorf("clear token balances: %w", err)
	}
	if len(snap.TokenBalances) > 0 {
		batch := &pgx.Batch{}
		for i := range snap.TokenBalances {
			hb := &snap.TokenBalances[i]
			batch.Queue(
				`INSERT INTO token_balances (holder, balance) VALUES ($1, $2::NUMERIC)`,
				hb.Holder.Bytes(), hb.Balance.Dec(),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("save token balances: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) LoadSnapshot(ctx context.Context) (*model.Snapshot, error) {
	var snap model.Snapshot
	var totalSupply, rpt, rate string
	var lastUpdate, finish, duration, lastPause int64
	var owner, manager, distribution []byte

	err := s.pool.QueryRow(ctx,
		`SELECT total_supply::TEXT, reward_per_token_stored::TEXT, last_update_time,
		        reward_rate::TEXT, period_finish, rewards_duration,
		        paused, last_pause_time, owner, position_manager, rewards_distribution
		 FROM ledger_state WHERE id = 1`).
		Scan(&totalSupply, &rpt, &lastUpdate,
			&rate, &finish, &duration,
			&snap.Paused, &lastPause, &owner, &manager, &distribution)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load ledger state: %w", err)
	}

	for _, p := range []struct {
		raw string
		dst *uint256.Int
	}{
		{totalSupply, &snap.TotalSupply},
		{rpt, &snap.RewardPerTokenStored},
		{rate, &snap.RewardRate},
	} {
		if err := parseRaw(p.raw, p.dst); err != nil {
			return nil, fmt.Errorf("load ledger state: %w", err)
		}
	}
	snap.LastUpdateTime = uint64(lastUpdate)
	snap.PeriodFinish = uint64(finish)
	snap.RewardsDuration = uint64(duration)
	snap.LastPauseTime = uint64(lastPause)
	snap.Owner = common.BytesToAddress(owner)
	snap.PositionManager = common.BytesToAddress(manager)
	snap.RewardsDistribution = common.BytesToAddress(distribution)

	rows, err := s.pool.Query(ctx,
		`SELECT account, balance::TEXT, reward_per_token_paid::TEXT, rewards::TEXT
		 FROM ledger_accounts ORDER BY account`)
	if err != nil {
		return nil, fmt.Errorf("load ledger accounts: %w", err)
	}
	defer rows.Close()

	snap.Accounts = []model.AccountState{}
	for rows.Next() {
		var a model.AccountState
		var account []byte
		var balance, paid, rewards string
		if err := rows.Scan(&account, &balance, &paid, &rewards); err != nil {
			return nil, err
		}
		a.Account = common.BytesToAddress(account)
		for _, p := range []struct {
			raw string
			dst *uint256.Int
		}{
			{balance, &a.Balance},
			{paid, &a.RewardPerTokenPaid},
			{rewards, &a.Rewards},
		} {
			if err := parseRaw(p.raw, p.dst); err != nil {
				return nil, fmt.Errorf("load account %s: %w", a.Account.Hex(), err)
			}
		}
		snap.Accounts = append(snap.Accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if snap.TokenBalances, err = s.loadTokenBalances(ctx); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *PostgresStore) loadTokenBalances(ctx context.Context) ([]model.HolderBalance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT holder, balance::TEXT FROM token_balances ORDER BY holder`)
	if err != nil {
		return nil, fmt.Errorf("load token balances: %w", err)
	}
	defer rows.Close()

	var balances []model.HolderBalance
	for rows.Next() {
		var hb model.HolderBalance
		var holder []byte
		var balance string
		if err := rows.Scan(&holder, &balance); err != nil {
			return nil, err
		}
		hb.Holder = common.BytesToAddress(holder)
		if err := parseRaw(balance, &hb.Balance); err != nil {
			return nil, fmt.Errorf("load token balance %s: %w", hb.Holder.Hex(), err)
		}
		balances = append(balances, hb)
	}
	return balances, rows.Err()
}

func (s *PostgresStore) AppendEvents(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i := range events {
		ev := &events[i]
		batch.Queue(
			`INSERT INTO ledger_events (id, kind, account, amount, rate, duration, paused, ts)
			 VALUES ($1::UUID, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7, $8)`,
			ev.ID, string(ev.Kind), ev.Account.Bytes(), ev.Amount.Dec(), ev.Rate.Dec(),
			int64(ev.Duration), ev.Paused, int64(ev.Timestamp),
		)
	}
	// A batch outside an explicit transaction runs as one implicit transaction.
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append events: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, f EventFilter) ([]model.Event, error) {
	var where []string
	var args []any
	if f.Account != nil {
		args = append(args, f.Account.Bytes())
		where = append(where, fmt.Sprintf("account = $%d", len(args)))
	}
	if f.Kind != "" {
		args = append(args, string(f.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	args = append(args, f.limit())

	query := `SELECT id::TEXT, kind, account, amount::TEXT, rate::TEXT, duration, paused, ts
	          FROM ledger_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY seq DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]model.Event, 0)
	for rows.Next() {
		var ev model.Event
		var kind, amount, rate string
		var account []byte
		var duration, ts int64
		if err := rows.Scan(&ev.ID, &kind, &account, &amount, &rate, &duration, &ev.Paused, &ts); err != nil {
			return nil, err
		}
		ev.Kind = model.EventKind(kind)
		ev.Account = common.BytesToAddress(account)
		if err := parseRaw(amount, &ev.Amount); err != nil {
			return nil, err
		}
		if err := parseRaw(rate, &ev.Rate); err != nil {
			return nil, err
		}
		ev.Duration = uint64(duration)
		ev.Timestamp = uint64(ts)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(events)
	return events, nil
}

func parseRaw(raw string, dst *uint256.Int) error {
	v, err := fixed.ParseRaw(raw)
	if err != nil {
		return err
	}
	dst.Set(v)
	return nil
}
