// Package model defines the core domain types shared across the rewards engine.
// All on-ledger quantities are uint256 raw units (see package fixed).
package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AccountState is one staker's position in the ledger. Created on first
// enrolment and never deleted; zero is a valid resting state.
type AccountState struct {
	Account            common.Address `json:"account"`
	Balance            uint256.Int    `json:"balance"`
	RewardPerTokenPaid uint256.Int    `json:"reward_per_token_paid"` // accumulator at last checkpoint
	Rewards            uint256.Int    `json:"rewards"`               // earned, not yet paid
}

// Snapshot is a complete, self-contained copy of ledger state. It is what the
// store persists and what a restarted process restores from.
type Snapshot struct {
	// Global accumulator state.
	TotalSupply          uint256.Int `json:"total_supply"`
	RewardPerTokenStored uint256.Int `json:"reward_per_token_stored"`
	LastUpdateTime       uint64      `json:"last_update_time"`

	// Period state.
	RewardRate      uint256.Int `json:"reward_rate"`
	PeriodFinish    uint64      `json:"period_finish"`
	RewardsDuration uint64      `json:"rewards_duration"`

	// Access state.
	Paused              bool           `json:"paused"`
	LastPauseTime       uint64         `json:"last_pause_time"`
	Owner               common.Address `json:"owner"`
	PositionManager     common.Address `json:"position_manager"`
	RewardsDistribution common.Address `json:"rewards_distribution"`

	Accounts []AccountState `json:"accounts"`

	// TokenBalances holds the reward token's balances when the token lives
	// in process (see token.Persistent); empty otherwise.
	TokenBalances []HolderBalance `json:"token_balances,omitempty"`
}

// HolderBalance is one reward-token holder's balance in raw units.
type HolderBalance struct {
	Holder  common.Address `json:"holder"`
	Balance uint256.Int    `json:"balance"`
}

// EventKind names a ledger state transition observable by collaborators.
type EventKind string

const (
	EventStaked                     EventKind = "staked"
	EventWithdrawn                  EventKind = "withdrawn"
	EventRewardAdded                EventKind = "reward-added"
	EventRewardPaid                 EventKind = "reward-paid"
	EventRewardsDurationUpdated     EventKind = "rewards-duration-updated"
	EventPauseChanged               EventKind = "pause-changed"
	EventRewardsDistributionUpdated EventKind = "rewards-distribution-updated"
)

// Event is an immutable record of a ledger state transition.
// Fields not relevant to the Kind are left zero.
type Event struct {
	ID        string         `json:"id"`
	Kind      EventKind      `json:"kind"`
	Account   common.Address `json:"account"` // new distributor for rewards-distribution-updated
	Amount    uint256.Int    `json:"amount"`
	Rate      uint256.Int    `json:"rate"`     // reward-added: new reward rate
	Duration  uint64         `json:"duration"` // rewards-duration-updated
	Paused    bool           `json:"paused"`   // pause-changed
	Timestamp uint64         `json:"timestamp"`
}
