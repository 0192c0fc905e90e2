// Package fixed implements the unsigned fixed-point arithmetic used by the
// reward ledger. On-ledger quantities are 256-bit unsigned integers counted
// in raw units (1 token = 10^18 raw units); division always truncates toward
// zero, the same way the reward math has always been defined.
//
// Human-facing amounts cross the process boundary as shopspring/decimal
// values with 18 fractional digits, never float64.
package fixed

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits carried by one token.
const Decimals = 18

var (
	// ErrOverflow is returned when a result does not fit in 256 bits.
	ErrOverflow = errors.New("fixed: arithmetic overflow")

	// ErrInvalidAmount is returned for negative, over-precise or
	// out-of-range human amounts.
	ErrInvalidAmount = errors.New("fixed: invalid amount")

	// Precision is the scale of the reward-per-token accumulator (10^18).
	Precision = uint256.NewInt(1_000_000_000_000_000_000)

	// MaxAmount bounds any single amount accepted from outside (2^128-1 raw
	// units). Products of two bounded values and a timestamp delta always
	// fit in the 512-bit intermediate of MulDiv.
	MaxAmount = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))
)

// Zero returns a fresh zero value.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// Units returns n whole tokens in raw units.
func Units(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), Precision)
}

// Add returns x+y or ErrOverflow.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Mul returns x*y or ErrOverflow.
func Mul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// MulDiv returns floor(x*y/d) computed with a 512-bit intermediate.
// A zero divisor yields zero.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return Zero(), nil
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Div returns floor(x/d). A zero divisor yields zero.
func Div(x, d *uint256.Int) *uint256.Int {
	return new(uint256.Int).Div(x, d)
}

// SubFloor returns x-y, or zero when y > x.
func SubFloor(x, y *uint256.Int) *uint256.Int {
	if y.Gt(x) {
		return Zero()
	}
	return new(uint256.Int).Sub(x, y)
}

// Min returns the smaller of two timestamps.
func Min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// ToDecimal converts raw units into a token-denominated decimal. Exact.
func ToDecimal(x *uint256.Int) decimal.Decimal {
	if x == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(x.ToBig(), -Decimals)
}

// FromDecimal converts a token-denominated decimal into raw units.
func FromDecimal(d decimal.Decimal) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: %s is negative", ErrInvalidAmount, d)
	}
	raw := d.Shift(Decimals)
	if !raw.IsInteger() {
		return nil, fmt.Errorf("%w: %s has more than %d decimals", ErrInvalidAmount, d, Decimals)
	}
	z, overflow := uint256.FromBig(raw.BigInt())
	if overflow || z.Gt(MaxAmount) {
		return nil, fmt.Errorf("%w: %s is out of range", ErrInvalidAmount, d)
	}
	return z, nil
}

// ParseAmount parses a human decimal string such as "1.5" into raw units.
func ParseAmount(s string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return FromDecimal(d)
}

// ParseRaw parses a base-10 raw-unit string, as stored in NUMERIC columns.
func ParseRaw(s string) (*uint256.Int, error) {
	z, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	return z, nil
}
