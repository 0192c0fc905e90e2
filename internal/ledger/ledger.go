// Package ledger implements a proportional, time-weighted reward ledger.
//
// Stake is reported by a trusted position manager; reward funding is reported
// by a trusted distributor. Rewards stream at a constant rate over fixed-length
// periods and are shared in proportion to stake-time through a global
// reward-per-token accumulator scaled by fixed.Precision.
//
// Every mutating entry point is atomic with respect to the others and runs
// behind a non-reentrant guard. Outbound token transfers happen only after
// the ledger's own bookkeeping is final.
package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"

	"github.com/atmx/rewards-engine/internal/fixed"
	"github.com/atmx/rewards-engine/internal/model"
	"github.com/atmx/rewards-engine/internal/token"
)

// DefaultRewardsDuration is the length of a distribution period unless
// configured otherwise: 7 days, in seconds.
const DefaultRewardsDuration uint64 = 7 * 24 * 60 * 60

// MaxRewardsDuration caps the period length at 10 years, keeping
// now + rewardsDuration far from overflow and within signed 64-bit storage.
const MaxRewardsDuration uint64 = 10 * 365 * 24 * 60 * 60

func checkDuration(d uint64) error {
	if d == 0 || d > MaxRewardsDuration {
		return fmt.Errorf("%w: %d seconds, want 1..%d", ErrInvalidDuration, d, MaxRewardsDuration)
	}
	return nil
}

// Listener receives ledger events once an entry point's bookkeeping and
// transfers are final. It runs while the reentrancy guard is still held, so
// it cannot call back into mutating entry points.
type Listener interface {
	OnEvent(ev model.Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ev model.Event)

func (f ListenerFunc) OnEvent(ev model.Event) { f(ev) }

// Config wires a Ledger to its collaborators and initial roles.
type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	// Address is the ledger's own identity as a reward-token holder.
	Address      common.Address
	RewardsToken token.Token

	Owner               common.Address
	PositionManager     common.Address
	RewardsDistribution common.Address

	// RewardsDuration in seconds; DefaultRewardsDuration when zero. At most
	// MaxRewardsDuration.
	RewardsDuration uint64

	Listener Listener // optional
}

// Validate checks required fields and fills the clock and duration defaults.
func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RewardsToken == nil {
		return errors.New("rewards token is required")
	}
	if cfg.Address == (common.Address{}) {
		return errors.New("ledger address is required")
	}
	if cfg.Owner == (common.Address{}) {
		return errors.New("owner is required")
	}
	if cfg.PositionManager == (common.Address{}) {
		return errors.New("position manager is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.RewardsDuration == 0 {
		cfg.RewardsDuration = DefaultRewardsDuration
	}
	return checkDuration(cfg.RewardsDuration)
}

// Ledger is the reward-distribution state machine.
type Ledger struct {
	log      *slog.Logger
	clock    clockwork.Clock
	address  common.Address
	token    token.Token
	listener Listener

	entered atomic.Bool
	mu      sync.Mutex

	stakes stakeLedger
	acc    accumulator
	period period
	gate   gate
}

// New creates a ledger in the Idle phase: nothing staked, no period funded.
func New(cfg Config) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Ledger{
		log:      cfg.Logger,
		clock:    cfg.Clock,
		address:  cfg.Address,
		token:    cfg.RewardsToken,
		listener: cfg.Listener,
		stakes:   newStakeLedger(),
		period:   period{rewardsDuration: cfg.RewardsDuration},
		gate: gate{
			owner:               cfg.Owner,
			positionManager:     cfg.PositionManager,
			rewardsDistribution: cfg.RewardsDistribution,
		},
	}, nil
}

// enter acquires the reentrancy guard.
func (l *Ledger) enter() error {
	if !l.entered.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	return nil
}

func (l *Ledger) leave() {
	l.entered.Store(false)
}

func (l *Ledger) now() uint64 {
	return uint64(l.clock.Now().Unix())
}

func (l *Ledger) emit(events ...model.Event) {
	if l.listener == nil {
		return
	}
	for _, ev := range events {
		l.listener.OnEvent(ev)
	}
}

func newEvent(kind model.EventKind, now uint64) model.Event {
	return model.Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		Timestamp: now,
	}
}

// --- Views ---

// Address returns the ledger's own token-holder identity.
func (l *Ledger) Address() common.Address { return l.address }

// RewardsToken returns the token rewards are paid in.
func (l *Ledger) RewardsToken() token.Token { return l.token }

// TotalSupply returns the total stake.
func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stakes.total.Clone()
}

// BalanceOf returns account's stake.
func (l *Ledger) BalanceOf(account common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stakes.balanceOf(account)
}

// RewardPerTokenPaid returns the accumulator value at account's last checkpoint.
func (l *Ledger) RewardPerTokenPaid(account common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a := l.stakes.lookup(account); a != nil {
		return a.RewardPerTokenPaid.Clone()
	}
	return fixed.Zero()
}

// RewardsOwed returns the rewards settled at account's last checkpoint,
// excluding anything accrued since. See Earned.
func (l *Ledger) RewardsOwed(account common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a := l.stakes.lookup(account); a != nil {
		return a.Rewards.Clone()
	}
	return fixed.Zero()
}

// RewardRate returns the current reward per second, in raw units.
func (l *Ledger) RewardRate() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.period.rewardRate.Clone()
}

// PeriodFinish returns when the current period ends (unix seconds); zero
// before the first funding.
func (l *Ledger) PeriodFinish() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.period.periodFinish
}

// RewardsDuration returns the length the next funded period will have.
func (l *Ledger) RewardsDuration() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.period.rewardsDuration
}

// LastUpdateTime returns the time of the last global checkpoint.
func (l *Ledger) LastUpdateTime() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acc.lastUpdateTime
}

// Paused reports whether enrolment is paused.
func (l *Ledger) Paused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gate.paused
}

// LastPauseTime returns when the ledger was last paused.
func (l *Ledger) LastPauseTime() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gate.lastPauseTime
}

// Owner returns the administrator identity.
func (l *Ledger) Owner() common.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gate.owner
}

// PositionManager returns the identity allowed to enrol and withdraw stake.
func (l *Ledger) PositionManager() common.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gate.positionManager
}

// RewardsDistribution returns the identity allowed to fund periods besides
// the owner.
func (l *Ledger) RewardsDistribution() common.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gate.rewardsDistribution
}

// --- Snapshot / restore ---

// Snapshot returns a deep copy of the complete ledger state.
func (l *Ledger) Snapshot() *model.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	return &model.Snapshot{
		TotalSupply:          l.stakes.total,
		RewardPerTokenStored: l.acc.rewardPerTokenStored,
		LastUpdateTime:       l.acc.lastUpdateTime,
		RewardRate:           l.period.rewardRate,
		PeriodFinish:         l.period.periodFinish,
		RewardsDuration:      l.period.rewardsDuration,
		Paused:               l.gate.paused,
		LastPauseTime:        l.gate.lastPauseTime,
		Owner:                l.gate.owner,
		PositionManager:      l.gate.positionManager,
		RewardsDistribution:  l.gate.rewardsDistribution,
		Accounts:             l.stakes.list(),
	}
}

// Restore replaces the ledger state with s. The total stake is recomputed
// from the accounts and must match s.TotalSupply. Roles and the rewards
// duration come from s; any that differ from the configured values are
// logged as warnings.
func (l *Ledger) Restore(s *model.Snapshot) error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.leave()

	if err := checkDuration(s.RewardsDuration); err != nil {
		return err
	}
	stakes, err := stakeLedgerFrom(s.Accounts)
	if err != nil {
		return err
	}
	if !stakes.total.Eq(&s.TotalSupply) {
		return errors.New("ledger: snapshot total supply does not match account balances")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.warnOverrides(s)
	l.stakes = stakes
	l.acc = accumulator{
		rewardPerTokenStored: s.RewardPerTokenStored,
		lastUpdateTime:       s.LastUpdateTime,
	}
	l.period = period{
		rewardRate:      s.RewardRate,
		periodFinish:    s.PeriodFinish,
		rewardsDuration: s.RewardsDuration,
	}
	l.gate = gate{
		paused:              s.Paused,
		lastPauseTime:       s.LastPauseTime,
		owner:               s.Owner,
		positionManager:     s.PositionManager,
		rewardsDistribution: s.RewardsDistribution,
	}

	l.log.Info("ledger restored",
		"accounts", len(s.Accounts),
		"total_supply", fixed.ToDecimal(&s.TotalSupply).String(),
		"period_finish", s.PeriodFinish,
	)
	return nil
}

func (l *Ledger) warnOverrides(s *model.Snapshot) {
	for _, r := range []struct {
		name           string
		configured, restored common.Address
	}{
		{"owner", l.gate.owner, s.Owner},
		{"position_manager", l.gate.positionManager, s.PositionManager},
		{"rewards_distribution", l.gate.rewardsDistribution, s.RewardsDistribution},
	} {
		if r.configured != r.restored {
			l.log.Warn("persisted role overrides configuration",
				"role", r.name,
				"configured", r.configured.Hex(),
				"restored", r.restored.Hex(),
			)
		}
	}
	if l.period.rewardsDuration != s.RewardsDuration {
		l.log.Warn("persisted rewards duration overrides configuration",
			"configured", l.period.rewardsDuration,
			"restored", s.RewardsDuration,
		)
	}
}
