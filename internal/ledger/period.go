package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/atmx/rewards-engine/internal/fixed"
	"github.com/atmx/rewards-engine/internal/model"
)

// period is the distribution schedule. The ledger is Idle until the first
// funding (rewardRate == 0, periodFinish == 0); afterwards a period is active
// while now <= periodFinish and expired once now passes it. Expiry is derived
// from the clock, never stored.
type period struct {
	rewardRate      uint256.Int
	periodFinish    uint64
	rewardsDuration uint64
}

// nextRate returns the rate a funding of reward would produce at now. Mid-period,
// the unstreamed remainder of the current period is blended into a fresh
// full-length period.
func (p *period) nextRate(now uint64, reward *uint256.Int) (*uint256.Int, error) {
	duration := uint256.NewInt(p.rewardsDuration)
	if now >= p.periodFinish {
		return fixed.Div(reward, duration), nil
	}

	remaining := uint256.NewInt(p.periodFinish - now)
	leftover, err := fixed.Mul(remaining, &p.rewardRate)
	if err != nil {
		return nil, err
	}
	total, err := fixed.Add(reward, leftover)
	if err != nil {
		return nil, err
	}
	return fixed.Div(total, duration), nil
}

func (p *period) rewardForDuration() *uint256.Int {
	return new(uint256.Int).Mul(&p.rewardRate, uint256.NewInt(p.rewardsDuration))
}

// NotifyRewardAmount funds a new period of rewardsDuration starting now.
// reward must already be held by the ledger: the call fails with
// ErrExcessiveRewardRate unless rewardRate * rewardsDuration fits in the
// ledger's reward-token balance.
func (l *Ledger) NotifyRewardAmount(caller common.Address, reward *uint256.Int) error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.leave()

	now := l.now()
	balance := l.token.BalanceOf(l.address)

	l.mu.Lock()
	if err := l.gate.onlyDistributor(caller, "notifyRewardAmount"); err != nil {
		l.mu.Unlock()
		return err
	}

	finish := now + l.period.rewardsDuration
	if finish < now {
		l.mu.Unlock()
		return fmt.Errorf("%w: period starting at %d overflows", ErrInvalidDuration, now)
	}

	rate, err := l.period.nextRate(now, reward)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	limit := fixed.Div(balance, uint256.NewInt(l.period.rewardsDuration))
	if rate.Gt(limit) {
		l.mu.Unlock()
		return fmt.Errorf("%w: rate %s exceeds %s per second covered by balance %s",
			ErrExcessiveRewardRate, rate.Dec(), limit.Dec(), fixed.ToDecimal(balance))
	}

	if err := l.checkpoint(now, nil); err != nil {
		l.mu.Unlock()
		return err
	}
	l.period.rewardRate = *rate
	l.period.periodFinish = finish
	l.acc.lastUpdateTime = now

	ev := newEvent(model.EventRewardAdded, now)
	ev.Amount = *reward
	ev.Rate = *rate
	periodFinish := l.period.periodFinish
	l.mu.Unlock()

	l.log.Info("reward added",
		"amount", fixed.ToDecimal(reward).String(),
		"rate", rate.Dec(),
		"period_finish", periodFinish,
	)
	l.emit(ev)
	return nil
}

// SetRewardsDuration changes the length of the next period. Only allowed once
// the current period has finished; it never alters a running period.
func (l *Ledger) SetRewardsDuration(caller common.Address, duration uint64) error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.leave()

	now := l.now()

	l.mu.Lock()
	if err := l.gate.onlyOwner(caller, "setRewardsDuration"); err != nil {
		l.mu.Unlock()
		return err
	}
	if err := checkDuration(duration); err != nil {
		l.mu.Unlock()
		return err
	}
	if now <= l.period.periodFinish {
		finish := l.period.periodFinish
		l.mu.Unlock()
		return fmt.Errorf("%w: period ends at %d, now %d", ErrPeriodStillActive, finish, now)
	}
	if err := l.checkpoint(now, nil); err != nil {
		l.mu.Unlock()
		return err
	}
	l.period.rewardsDuration = duration

	ev := newEvent(model.EventRewardsDurationUpdated, now)
	ev.Duration = duration
	l.mu.Unlock()

	l.log.Info("rewards duration updated", "duration", duration)
	l.emit(ev)
	return nil
}

// GetRewardForDuration returns rewardRate * rewardsDuration.
func (l *Ledger) GetRewardForDuration() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.period.rewardForDuration()
}
