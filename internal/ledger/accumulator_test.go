package ledger

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/rewards-engine/internal/fixed"
	"github.com/atmx/rewards-engine/internal/model"
)

func TestLastTimeRewardApplicable_ZeroBeforeFunding(t *testing.T) {
	e := newTestEnv(t)
	assert.Equal(t, uint64(0), e.l.LastTimeRewardApplicable())
}

func TestLastTimeRewardApplicable_NowOnceFunded(t *testing.T) {
	e := newTestEnv(t)
	e.fund(fixed.Units(1))
	assert.Equal(t, e.now(), e.l.LastTimeRewardApplicable())

	// Clamped to the end of the period once it has passed.
	finish := e.l.PeriodFinish()
	e.clock.Advance(8 * day)
	assert.Equal(t, finish, e.l.LastTimeRewardApplicable())
}

func TestRewardPerToken_ZeroInitially(t *testing.T) {
	e := newTestEnv(t)
	assert.True(t, e.l.RewardPerToken().IsZero())
}

func TestRewardPerToken_GrowsWhileStaked(t *testing.T) {
	e := newTestEnv(t)
	e.enrol(alice, fixed.Units(1))
	require.False(t, e.l.TotalSupply().IsZero())

	e.fund(fixed.Units(5000))
	e.clock.Advance(day)

	assert.False(t, e.l.RewardPerToken().IsZero())
}

func TestEarned_ZeroWhenNotStaking(t *testing.T) {
	e := newTestEnv(t)
	assert.True(t, e.l.Earned(alice).IsZero())
}

func TestEarned_PositiveWhenStaking(t *testing.T) {
	e := newTestEnv(t)
	e.enrol(alice, fixed.Units(1))
	e.fund(fixed.Units(5000))
	e.clock.Advance(day)

	assert.False(t, e.l.Earned(alice).IsZero())
}

func TestEarned_SoleStakerReceivesWholePeriod(t *testing.T) {
	e := newTestEnv(t)
	reward := fixed.Units(5000)
	e.enrol(alice, fixed.Units(1))
	e.fund(reward)
	e.clock.Advance(time.Duration(e.l.RewardsDuration()) * time.Second)

	got := e.l.Earned(alice)
	require.False(t, got.Gt(reward))
	shortfall := new(uint256.Int).Sub(reward, got)
	assert.True(t, shortfall.Lt(uint256.NewInt(e.l.RewardsDuration())),
		"truncation loss %s should be below one unit per second", shortfall.Dec())

	// Nothing further accrues after the period ends.
	e.clock.Advance(30 * day)
	assert.Equal(t, got, e.l.Earned(alice))
}

func TestEarned_ProportionalToStake(t *testing.T) {
	e := newTestEnv(t)
	e.enrol(alice, fixed.Units(1))
	e.enrol(bob, fixed.Units(3))
	e.fund(fixed.Units(5000))
	e.clock.Advance(7 * day)

	a := e.l.Earned(alice)
	b := e.l.Earned(bob)
	assert.Equal(t, new(uint256.Int).Mul(a, uint256.NewInt(3)), b)
}

func TestEarned_LateEnrolmentStartsAtZero(t *testing.T) {
	e := newTestEnv(t)
	reward := fixed.Units(7000)
	e.fund(reward)
	e.clock.Advance(day)

	// Nothing was staked for the first day, so the accumulator stood still.
	e.enrol(alice, fixed.Units(1))
	assert.True(t, e.l.Earned(alice).IsZero())
	assert.True(t, e.l.RewardPerTokenPaid(alice).Eq(e.l.RewardPerToken()))

	e.clock.Advance(6 * day)
	rate := e.l.RewardRate()
	want := new(uint256.Int).Mul(rate, uint256.NewInt(uint64((6 * day).Seconds())))
	assert.Equal(t, want, e.l.Earned(alice))

	// The first day's stream is not attributed to anyone and stays in the
	// ledger as surplus after alice is paid.
	require.NoError(t, e.l.GetReward(alice))
	surplus := e.tok.BalanceOf(ledgerAddr)
	firstDay := new(uint256.Int).Mul(rate, uint256.NewInt(uint64(day.Seconds())))
	assert.False(t, surplus.Lt(firstDay))
}

func TestEarned_EqualsRewardPerTokenTimesStake(t *testing.T) {
	e := newTestEnv(t)
	stake := fixed.Units(1)
	e.enrol(alice, stake)

	require.NoError(t, e.l.SetRewardsDistribution(owner, distributor))
	e.fund(fixed.Units(35000))
	assert.Equal(t, e.now()+7*24*3600, e.l.PeriodFinish())

	e.clock.Advance(6 * day)
	assert.False(t, e.l.RewardRate().IsZero())
	rpt := e.l.RewardPerToken()
	require.False(t, rpt.IsZero())

	earnedBefore := e.l.Earned(alice)
	want, err := fixed.MulDiv(rpt, stake, fixed.Precision)
	require.NoError(t, err)
	assert.Equal(t, want, earnedBefore)

	// A partial withdrawal settles rewards without changing what was earned.
	require.NoError(t, e.l.Withdraw(manager, alice, new(uint256.Int).Div(stake, u(5))))
	assert.Equal(t, earnedBefore, e.l.Earned(alice))
	assert.Equal(t, earnedBefore, e.l.RewardsOwed(alice))
}

func TestCheckpoint_SettlesPreMutationBalance(t *testing.T) {
	e := newTestEnv(t)
	e.enrol(alice, fixed.Units(1))
	e.fund(fixed.Units(7000))
	e.clock.Advance(day)

	before := e.l.Earned(alice)
	// Doubling the stake must not retroactively double the first day.
	e.enrol(alice, fixed.Units(1))
	assert.Equal(t, before, e.l.RewardsOwed(alice))
	assert.Equal(t, before, e.l.Earned(alice))
}

func TestGetReward_PaysAndZeroes(t *testing.T) {
	e := newTestEnv(t)
	e.enrol(alice, fixed.Units(1))
	e.fund(fixed.Units(5000))
	e.clock.Advance(day)

	owed := e.l.Earned(alice)
	require.False(t, owed.IsZero())

	// Anyone may trigger the payout; tokens always go to the account.
	require.NoError(t, e.l.GetReward(alice))
	assert.Equal(t, owed, e.tok.BalanceOf(alice))
	assert.True(t, e.l.Earned(alice).IsZero())
	assert.Equal(t, model.EventRewardPaid, e.events[len(e.events)-1].Kind)
	assert.Equal(t, *owed, e.events[len(e.events)-1].Amount)
}

func TestGetReward_NothingOwedIsNoop(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.l.GetReward(stranger))
	require.NoError(t, e.l.GetReward(stranger))
	assert.Empty(t, e.events)
	assert.Empty(t, e.l.Snapshot().Accounts)
}
