package ledger

import (
	"errors"

	"github.com/atmx/rewards-engine/internal/fixed"
)

// All errors are detected before any state is mutated; a failed call leaves
// the ledger exactly as it was.
var (
	// ErrUnauthorized is returned when the caller is not the identity an
	// entry point is reserved for.
	ErrUnauthorized = errors.New("ledger: caller is not authorized")

	// ErrPaused is returned by Enrol while the pause flag is set.
	ErrPaused = errors.New("ledger: this action cannot be performed while the ledger is paused")

	// ErrInsufficientBalance is returned when a withdrawal exceeds the stake.
	ErrInsufficientBalance = errors.New("ledger: withdrawal exceeds staked balance")

	// ErrPeriodStillActive is returned when the duration is changed mid-period.
	ErrPeriodStillActive = errors.New("ledger: previous rewards period must be complete before changing the duration for the new period")

	// ErrExcessiveRewardRate is returned when the ledger's reward-token
	// balance cannot cover the new rate for a full period.
	ErrExcessiveRewardRate = errors.New("ledger: provided reward too high")

	// ErrInvalidDuration is returned for a rewards duration of zero or above
	// MaxRewardsDuration.
	ErrInvalidDuration = errors.New("ledger: invalid rewards duration")

	// ErrReentrantCall is returned when a mutating entry point is invoked
	// while another one is still in progress.
	ErrReentrantCall = errors.New("ledger: reentrant call")

	// ErrOverflow is returned when stake or reward accounting would not fit.
	ErrOverflow = fixed.ErrOverflow
)
