// Package token defines the reward-token collaborator the ledger pays out of,
// plus an in-memory implementation used for tests and local development.
package token

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/atmx/rewards-engine/internal/model"
)

// ErrInsufficientFunds is returned when a transfer exceeds the sender's balance.
var ErrInsufficientFunds = errors.New("token: transfer amount exceeds balance")

// Token is the subset of a fungible token the ledger relies on.
type Token interface {
	// BalanceOf returns holder's balance in raw units.
	BalanceOf(holder common.Address) *uint256.Int

	// Transfer moves amount from one holder to another.
	Transfer(from, to common.Address, amount *uint256.Int) error
}

// Minter is implemented by tokens that can create supply out of thin air.
// Only development tokens implement it.
type Minter interface {
	Mint(to common.Address, amount *uint256.Int) error
}

// Persistent is implemented by tokens whose balances live in this process.
// Their balances are saved with the ledger snapshot and restored from it.
type Persistent interface {
	// Balances returns every non-zero balance, ordered by holder.
	Balances() []model.HolderBalance

	// RestoreBalances replaces all balances; the supply becomes their sum.
	RestoreBalances(balances []model.HolderBalance) error
}

// MemoryToken is a mutex-protected in-memory token. It persists only through
// the ledger snapshot (see Persistent).
type MemoryToken struct {
	mu       sync.RWMutex
	balances map[common.Address]*uint256.Int
	supply   uint256.Int

	// OnTransfer, when set, is called after every successful transfer with
	// the lock released. Tests use it to simulate callbacks from the token.
	OnTransfer func(from, to common.Address, amount *uint256.Int)
}

var (
	_ Token      = (*MemoryToken)(nil)
	_ Minter     = (*MemoryToken)(nil)
	_ Persistent = (*MemoryToken)(nil)
)

// NewMemoryToken creates an empty token.
func NewMemoryToken() *MemoryToken {
	return &MemoryToken{
		balances: make(map[common.Address]*uint256.Int),
	}
}

func (t *MemoryToken) BalanceOf(holder common.Address) *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if b, ok := t.balances[holder]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

func (t *MemoryToken) Transfer(from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	bal := t.balanceLocked(from)
	if amount.Gt(bal) {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from.Hex(), bal.Dec(), amount.Dec())
	}
	bal.Sub(bal, amount)
	dst := t.balanceLocked(to)
	dst.Add(dst, amount)
	hook := t.OnTransfer
	t.mu.Unlock()

	if hook != nil {
		hook(from, to, amount)
	}
	return nil
}

// Mint credits amount to holder and grows the total supply.
func (t *MemoryToken) Mint(to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	supply, overflow := new(uint256.Int).AddOverflow(&t.supply, amount)
	if overflow {
		return errors.New("token: total supply overflow")
	}
	t.supply = *supply
	dst := t.balanceLocked(to)
	dst.Add(dst, amount)
	return nil
}

// TotalSupply returns the amount minted so far.
func (t *MemoryToken) TotalSupply() *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.supply.Clone()
}

func (t *MemoryToken) Balances() []model.HolderBalance {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]model.HolderBalance, 0, len(t.balances))
	for holder, b := range t.balances {
		if !b.IsZero() {
			out = append(out, model.HolderBalance{Holder: holder, Balance: *b})
		}
	}
	slices.SortFunc(out, func(a, b model.HolderBalance) int {
		return bytes.Compare(a.Holder.Bytes(), b.Holder.Bytes())
	})
	return out
}

func (t *MemoryToken) RestoreBalances(balances []model.HolderBalance) error {
	restored := make(map[common.Address]*uint256.Int, len(balances))
	var supply uint256.Int
	for _, hb := range balances {
		if _, dup := restored[hb.Holder]; dup {
			return fmt.Errorf("token: duplicate holder %s", hb.Holder.Hex())
		}
		if _, overflow := supply.AddOverflow(&supply, &hb.Balance); overflow {
			return errors.New("token: total supply overflow")
		}
		restored[hb.Holder] = hb.Balance.Clone()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances = restored
	t.supply = supply
	return nil
}

// balanceLocked returns the live balance pointer for holder, creating it.
func (t *MemoryToken) balanceLocked(holder common.Address) *uint256.Int {
	b, ok := t.balances[holder]
	if !ok {
		b = new(uint256.Int)
		t.balances[holder] = b
	}
	return b
}
