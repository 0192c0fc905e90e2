package ledger

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/atmx/rewards-engine/internal/fixed"
	"github.com/atmx/rewards-engine/internal/model"
)

// stakeLedger holds per-account stake and the aggregate total. It has no
// notion of time or rewards; callers checkpoint before mutating it so accrual
// always reflects the pre-mutation balance.
//
// Invariant: total == sum(accounts[*].Balance).
type stakeLedger struct {
	accounts map[common.Address]*model.AccountState
	total    uint256.Int
}

func newStakeLedger() stakeLedger {
	return stakeLedger{accounts: make(map[common.Address]*model.AccountState)}
}

func stakeLedgerFrom(accounts []model.AccountState) (stakeLedger, error) {
	s := newStakeLedger()
	for i := range accounts {
		a := accounts[i]
		if _, dup := s.accounts[a.Account]; dup {
			return stakeLedger{}, fmt.Errorf("ledger: duplicate account %s in snapshot", a.Account.Hex())
		}
		total, err := fixed.Add(&s.total, &a.Balance)
		if err != nil {
			return stakeLedger{}, err
		}
		s.total = *total
		s.accounts[a.Account] = &a
	}
	return s, nil
}

// lookup returns the account or nil; it never creates one.
func (s *stakeLedger) lookup(account common.Address) *model.AccountState {
	return s.accounts[account]
}

// account returns the account, creating it on first use.
func (s *stakeLedger) account(account common.Address) *model.AccountState {
	a, ok := s.accounts[account]
	if !ok {
		a = &model.AccountState{Account: account}
		s.accounts[account] = a
	}
	return a
}

func (s *stakeLedger) balanceOf(account common.Address) *uint256.Int {
	if a := s.lookup(account); a != nil {
		return a.Balance.Clone()
	}
	return fixed.Zero()
}

// checkIncrease reports whether an increase by amount would succeed for any
// account.
func (s *stakeLedger) checkIncrease(amount *uint256.Int) error {
	if _, err := fixed.Add(&s.total, amount); err != nil {
		return err
	}
	// total >= balance, so the balance cannot overflow if the total does not.
	return nil
}

// checkDecrease reports whether decrease(account, amount) would succeed.
func (s *stakeLedger) checkDecrease(account common.Address, amount *uint256.Int) error {
	bal := s.balanceOf(account)
	if amount.Gt(bal) {
		return fmt.Errorf("%w: %s staked, %s requested", ErrInsufficientBalance,
			fixed.ToDecimal(bal), fixed.ToDecimal(amount))
	}
	return nil
}

func (s *stakeLedger) increase(account common.Address, amount *uint256.Int) error {
	if err := s.checkIncrease(amount); err != nil {
		return err
	}
	a := s.account(account)
	a.Balance.Add(&a.Balance, amount)
	s.total.Add(&s.total, amount)
	return nil
}

func (s *stakeLedger) decrease(account common.Address, amount *uint256.Int) error {
	if err := s.checkDecrease(account, amount); err != nil {
		return err
	}
	a := s.account(account)
	a.Balance.Sub(&a.Balance, amount)
	s.total.Sub(&s.total, amount)
	return nil
}

// list returns copies of all accounts ordered by address.
func (s *stakeLedger) list() []model.AccountState {
	out := make([]model.AccountState, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Account[:], out[j].Account[:]) < 0
	})
	return out
}
