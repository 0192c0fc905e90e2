package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/atmx/rewards-engine/internal/fixed"
	"github.com/atmx/rewards-engine/internal/model"
)

// gate holds the pause flag and the trusted identities. Each check is
// independent; entry points compose the ones they need.
type gate struct {
	paused              bool
	lastPauseTime       uint64
	owner               common.Address
	positionManager     common.Address
	rewardsDistribution common.Address
}

func (g *gate) onlyOwner(caller common.Address, op string) error {
	if caller != g.owner {
		return fmt.Errorf("%w: only the owner may call %s", ErrUnauthorized, op)
	}
	return nil
}

func (g *gate) onlyPositionManager(caller common.Address, op string) error {
	if caller != g.positionManager {
		return fmt.Errorf("%w: only the position manager may call %s", ErrUnauthorized, op)
	}
	return nil
}

// onlyDistributor admits the designated distributor and the owner.
func (g *gate) onlyDistributor(caller common.Address, op string) error {
	if caller == g.owner {
		return nil
	}
	if g.rewardsDistribution == (common.Address{}) || caller != g.rewardsDistribution {
		return fmt.Errorf("%w: only the rewards distribution may call %s", ErrUnauthorized, op)
	}
	return nil
}

func (g *gate) notPaused() error {
	if g.paused {
		return ErrPaused
	}
	return nil
}

// Enrol records amount of new stake for account. Position manager only;
// blocked while paused.
func (l *Ledger) Enrol(caller, account common.Address, amount *uint256.Int) error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.leave()

	now := l.now()

	l.mu.Lock()
	err := l.gate.onlyPositionManager(caller, "enrol")
	if err == nil {
		err = l.gate.notPaused()
	}
	if err == nil {
		err = l.stakes.checkIncrease(amount)
	}
	if err == nil {
		err = l.checkpoint(now, &account)
	}
	if err != nil {
		l.mu.Unlock()
		return err
	}
	if err := l.stakes.increase(account, amount); err != nil {
		l.mu.Unlock()
		return err
	}
	ev := newEvent(model.EventStaked, now)
	ev.Account = account
	ev.Amount = *amount
	l.mu.Unlock()

	l.log.Debug("stake enrolled", "account", account.Hex(), "amount", fixed.ToDecimal(amount).String())
	l.emit(ev)
	return nil
}

// Withdraw removes amount of stake from account. Position manager only; not
// affected by the pause flag so positions can always be closed.
func (l *Ledger) Withdraw(caller, account common.Address, amount *uint256.Int) error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.leave()

	now := l.now()

	l.mu.Lock()
	ev, err := l.withdrawLocked(now, caller, account, amount, "withdraw")
	l.mu.Unlock()
	if err != nil {
		return err
	}

	l.log.Debug("stake withdrawn", "account", account.Hex(), "amount", fixed.ToDecimal(amount).String())
	l.emit(ev)
	return nil
}

func (l *Ledger) withdrawLocked(now uint64, caller, account common.Address, amount *uint256.Int, op string) (model.Event, error) {
	if err := l.gate.onlyPositionManager(caller, op); err != nil {
		return model.Event{}, err
	}
	if err := l.stakes.checkDecrease(account, amount); err != nil {
		return model.Event{}, err
	}
	if err := l.checkpoint(now, &account); err != nil {
		return model.Event{}, err
	}
	if err := l.stakes.decrease(account, amount); err != nil {
		return model.Event{}, err
	}
	ev := newEvent(model.EventWithdrawn, now)
	ev.Account = account
	ev.Amount = *amount
	return ev, nil
}

// Exit withdraws account's whole stake and pays out its rewards. Both are
// booked in one critical section; only the transfer runs unlocked. If the
// transfer fails the stake and rewards are restored and the call fails.
func (l *Ledger) Exit(caller, account common.Address) error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.leave()

	now := l.now()

	l.mu.Lock()
	amount := l.stakes.balanceOf(account)
	withdrawn, err := l.withdrawLocked(now, caller, account, amount, "exit")
	if err != nil {
		l.mu.Unlock()
		return err
	}
	owed, err := l.settleLocked(now, account)
	if err != nil {
		l.restoreStakeLocked(account, amount)
		l.mu.Unlock()
		return err
	}
	l.mu.Unlock()

	var paid *model.Event
	if owed != nil {
		ev, err := l.transferReward(now, account, owed)
		if err != nil {
			l.mu.Lock()
			l.recreditLocked(account, owed)
			// Same timestamp: the account is already checkpointed, so restoring
			// the balance cannot change anyone's accrual.
			l.restoreStakeLocked(account, amount)
			l.mu.Unlock()
			return err
		}
		paid = &ev
	}

	l.log.Info("position exited",
		"account", account.Hex(),
		"withdrawn", fixed.ToDecimal(amount).String(),
	)
	l.emit(withdrawn)
	if paid != nil {
		l.emit(*paid)
	}
	return nil
}

// GetReward pays out everything account has earned. Anyone may trigger it on
// behalf of account; the tokens always go to account. Nothing owed is not an
// error.
func (l *Ledger) GetReward(account common.Address) error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.leave()

	now := l.now()

	l.mu.Lock()
	owed, err := l.settleLocked(now, account)
	l.mu.Unlock()
	if err != nil || owed == nil {
		return err
	}

	ev, err := l.transferReward(now, account, owed)
	if err != nil {
		l.mu.Lock()
		l.recreditLocked(account, owed)
		l.mu.Unlock()
		return err
	}
	l.emit(ev)
	return nil
}

// settleLocked checkpoints account and zeroes its rewards, returning the
// amount owed, or nil when there is nothing to pay.
func (l *Ledger) settleLocked(now uint64, account common.Address) (*uint256.Int, error) {
	target := &account
	if l.stakes.lookup(account) == nil {
		target = nil
	}
	if err := l.checkpoint(now, target); err != nil {
		return nil, err
	}
	if target == nil {
		return nil, nil
	}
	a := l.stakes.lookup(account)
	if a.Rewards.IsZero() {
		return nil, nil
	}
	owed := a.Rewards.Clone()
	a.Rewards.Clear()
	return owed, nil
}

// transferReward sends owed to account. It is the only callout and runs with
// the state lock released and the books already final.
func (l *Ledger) transferReward(now uint64, account common.Address, owed *uint256.Int) (model.Event, error) {
	if err := l.token.Transfer(l.address, account, owed); err != nil {
		return model.Event{}, fmt.Errorf("ledger: reward transfer to %s: %w", account.Hex(), err)
	}

	l.log.Info("reward paid", "account", account.Hex(), "amount", fixed.ToDecimal(owed).String())
	ev := newEvent(model.EventRewardPaid, now)
	ev.Account = account
	ev.Amount = *owed
	return ev, nil
}

func (l *Ledger) recreditLocked(account common.Address, owed *uint256.Int) {
	a := l.stakes.account(account)
	a.Rewards.Add(&a.Rewards, owed)
}

func (l *Ledger) restoreStakeLocked(account common.Address, amount *uint256.Int) {
	if err := l.stakes.increase(account, amount); err != nil {
		l.log.Error("failed to restore stake after exit failure",
			"account", account.Hex(), "err", err)
	}
}

// SetPaused toggles the pause gate on Enrol. Owner only. Setting the current
// value again is a no-op.
func (l *Ledger) SetPaused(caller common.Address, paused bool) error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.leave()

	now := l.now()

	l.mu.Lock()
	if err := l.gate.onlyOwner(caller, "setPaused"); err != nil {
		l.mu.Unlock()
		return err
	}
	if l.gate.paused == paused {
		l.mu.Unlock()
		return nil
	}
	l.gate.paused = paused
	if paused {
		l.gate.lastPauseTime = now
	}
	ev := newEvent(model.EventPauseChanged, now)
	ev.Paused = paused
	l.mu.Unlock()

	l.log.Info("pause changed", "paused", paused)
	l.emit(ev)
	return nil
}

// SetRewardsDistribution replaces the distributor identity. Owner only.
func (l *Ledger) SetRewardsDistribution(caller, distributor common.Address) error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.leave()

	now := l.now()

	l.mu.Lock()
	if err := l.gate.onlyOwner(caller, "setRewardsDistribution"); err != nil {
		l.mu.Unlock()
		return err
	}
	l.gate.rewardsDistribution = distributor
	ev := newEvent(model.EventRewardsDistributionUpdated, now)
	ev.Account = distributor
	l.mu.Unlock()

	l.log.Info("rewards distribution updated", "distributor", distributor.Hex())
	l.emit(ev)
	return nil
}
