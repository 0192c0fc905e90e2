package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/atmx/rewards-engine/internal/fixed"
	"github.com/atmx/rewards-engine/internal/model"
)

// accumulator is the global reward-per-token state. rewardPerTokenStored is
// scaled by fixed.Precision and never decreases; lastUpdateTime never
// decreases either.
type accumulator struct {
	rewardPerTokenStored uint256.Int
	lastUpdateTime       uint64
}

// lastTimeRewardApplicable returns min(now, periodFinish); zero before the
// first period has been funded.
func (l *Ledger) lastTimeRewardApplicable(now uint64) uint64 {
	return fixed.Min(now, l.period.periodFinish)
}

// rewardPerToken projects the accumulator to now without mutating state.
// While nothing is staked the accumulator stands still: reward streamed in
// that interval is not attributed to anyone and stays in the ledger's token
// balance as surplus.
func (l *Ledger) rewardPerToken(now uint64) (*uint256.Int, error) {
	stored := l.acc.rewardPerTokenStored.Clone()
	if l.stakes.total.IsZero() {
		return stored, nil
	}
	applicable := l.lastTimeRewardApplicable(now)
	if applicable <= l.acc.lastUpdateTime {
		return stored, nil
	}

	elapsed := uint256.NewInt(applicable - l.acc.lastUpdateTime)
	streamed, err := fixed.Mul(elapsed, &l.period.rewardRate)
	if err != nil {
		return nil, err
	}
	delta, err := fixed.MulDiv(streamed, fixed.Precision, &l.stakes.total)
	if err != nil {
		return nil, err
	}
	return fixed.Add(stored, delta)
}

// earned returns a's settled rewards plus what its current balance accrued
// between its last checkpoint and rpt.
func earned(a *model.AccountState, rpt *uint256.Int) (*uint256.Int, error) {
	if a == nil {
		return fixed.Zero(), nil
	}
	delta := fixed.SubFloor(rpt, &a.RewardPerTokenPaid)
	accrued, err := fixed.MulDiv(&a.Balance, delta, fixed.Precision)
	if err != nil {
		return nil, err
	}
	return fixed.Add(accrued, &a.Rewards)
}

// checkpoint advances the accumulator to now and, when account is non-nil,
// settles that account's rewards. Every value is computed before anything is
// written, so a failed checkpoint leaves state untouched.
func (l *Ledger) checkpoint(now uint64, account *common.Address) error {
	rpt, err := l.rewardPerToken(now)
	if err != nil {
		return err
	}

	var a *model.AccountState
	var owed *uint256.Int
	if account != nil {
		// Only a lookup: the account is created by the stake mutation that follows.
		a = l.stakes.lookup(*account)
		if owed, err = earned(a, rpt); err != nil {
			return err
		}
		if a == nil {
			a = l.stakes.account(*account)
		}
	}

	l.acc.rewardPerTokenStored = *rpt
	if t := l.lastTimeRewardApplicable(now); t > l.acc.lastUpdateTime {
		l.acc.lastUpdateTime = t
	}
	if a != nil {
		a.Rewards = *owed
		a.RewardPerTokenPaid = *rpt
	}
	return nil
}

// --- Public views ---

// LastTimeRewardApplicable returns min(now, periodFinish).
func (l *Ledger) LastTimeRewardApplicable() uint64 {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastTimeRewardApplicable(now)
}

// RewardPerToken returns what the accumulator would be if checkpointed now.
func (l *Ledger) RewardPerToken() *uint256.Int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	rpt, err := l.rewardPerToken(now)
	if err != nil {
		l.log.Error("reward per token projection failed", "err", err)
		return l.acc.rewardPerTokenStored.Clone()
	}
	return rpt
}

// Earned returns the rewards account could claim now.
func (l *Ledger) Earned(account common.Address) *uint256.Int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	a := l.stakes.lookup(account)
	rpt, err := l.rewardPerToken(now)
	if err == nil {
		var owed *uint256.Int
		if owed, err = earned(a, rpt); err == nil {
			return owed
		}
	}
	l.log.Error("earned projection failed", "account", account.Hex(), "err", err)
	if a != nil {
		return a.Rewards.Clone()
	}
	return fixed.Zero()
}
