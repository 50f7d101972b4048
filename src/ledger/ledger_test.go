package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ltexecutor/src/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newStrategy(capital string) *model.Strategy {
	return &model.Strategy{
		ID:             1,
		InitialCapital: d(capital),
		AvailableCash:  d(capital),
	}
}

func TestLock(t *testing.T) {
	s := newStrategy("100")

	require.NoError(t, Lock(s, d("40")))
	assert.True(t, s.AvailableCash.Equal(d("60")))
	assert.True(t, s.LockedCapital.Equal(d("40")))
	assert.True(t, Consistent(s, decimal.Zero))

	err := Lock(s, d("60.01"))
	require.ErrorIs(t, err, model.ErrCapitalInsufficient)
	assert.True(t, s.AvailableCash.Equal(d("60")), "failed lock must not touch the ledger")
	assert.True(t, s.LockedCapital.Equal(d("40")))

	require.NoError(t, Lock(s, d("60")))
	assert.True(t, s.AvailableCash.IsZero())
}

func TestLockRejectsNegativeAmount(t *testing.T) {
	s := newStrategy("10")
	require.ErrorIs(t, Lock(s, d("-1")), model.ErrValidation)
}

func TestUnlockFloorsAtZero(t *testing.T) {
	s := newStrategy("100")
	require.NoError(t, Lock(s, d("30")))

	released := Unlock(s, d("50"))
	assert.True(t, released.Equal(d("30")))
	assert.True(t, s.LockedCapital.IsZero())
	assert.True(t, s.AvailableCash.Equal(d("100")))
	assert.True(t, Consistent(s, decimal.Zero))

	assert.True(t, Unlock(s, d("10")).IsZero())
	assert.True(t, s.AvailableCash.Equal(d("100")))
}

func TestResolutionKeepsIdentity(t *testing.T) {
	s := newStrategy("100")
	require.NoError(t, Lock(s, d("20")))
	require.NoError(t, Lock(s, d("10")))

	// lost: the whole stake is gone
	Unlock(s, d("20"))
	ApplyRealizedPnl(s, d("-20"))

	// won: 10 USD at 0.25 pays 40
	Unlock(s, d("10"))
	ApplyRealizedPnl(s, d("30"))

	assert.True(t, s.RealizedPnl.Equal(d("10")))
	assert.True(t, s.AvailableCash.Equal(d("110")))
	assert.True(t, s.LockedCapital.IsZero())
	assert.True(t, Imbalance(s).IsZero())
	assert.True(t, s.InitialCapital.Equal(d("100")))
}

func TestConsistentDetectsNegativeTerms(t *testing.T) {
	s := &model.Strategy{InitialCapital: d("10"), AvailableCash: d("-5"), LockedCapital: d("15")}
	assert.False(t, Consistent(s, d("0.01")))
}

func TestRecomputeAndReconcile(t *testing.T) {
	s := newStrategy("100")
	orders := []model.Order{
		{StrategyID: 1, Status: model.OrderStatusPending, OutcomeStatus: model.OutcomeOpen, SignalSizeUSD: d("10")},
		{StrategyID: 1, Status: model.OrderStatusFilled, OutcomeStatus: model.OutcomeOpen, SignalSizeUSD: d("20"), ExecutedSizeUSD: d("18")},
		{StrategyID: 1, Status: model.OrderStatusFilled, OutcomeStatus: model.OutcomeWon, ExecutedSizeUSD: d("5"), RealizedPnl: d("7")},
		{StrategyID: 1, Status: model.OrderStatusFilled, OutcomeStatus: model.OutcomeLost, ExecutedSizeUSD: d("4"), RealizedPnl: d("-4")},
		{StrategyID: 1, Status: model.OrderStatusRejected, OutcomeStatus: model.OutcomeOpen, SignalSizeUSD: d("9")},
		{StrategyID: 1, Status: model.OrderStatusFilled, OutcomeStatus: model.OutcomeOpen, ExecutedSizeUSD: d("50"), IsShadow: true},
	}

	r := Recompute(s, orders)
	assert.True(t, r.Locked.Equal(d("28")), r.Locked.String())
	assert.True(t, r.RealizedPnl.Equal(d("3")))
	assert.True(t, r.Equity.Equal(d("103")))
	assert.True(t, r.Available.Equal(d("75")))

	// corrupt available cash
	s.AvailableCash = d("12")
	s.LockedCapital = d("28")
	s.RealizedPnl = d("3")

	c, changed := Reconcile(s, r, d("0.01"))
	require.True(t, changed)
	assert.False(t, c.SelfHealed)
	assert.True(t, c.Before.AvailableCash.Equal(d("12")))
	assert.True(t, c.After.AvailableCash.Equal(d("75")))
	assert.True(t, c.Magnitude.Equal(d("63")))
	assert.True(t, Consistent(s, d("0.000001")))

	_, changed = Reconcile(s, Recompute(s, orders), d("0.01"))
	assert.False(t, changed, "second pass finds nothing to correct")
}

func TestReconcileSelfHealsNegativeAvailable(t *testing.T) {
	s := newStrategy("10")
	orders := []model.Order{
		{StrategyID: 1, Status: model.OrderStatusFilled, OutcomeStatus: model.OutcomeOpen, ExecutedSizeUSD: d("25")},
	}
	r := Recompute(s, orders)
	require.True(t, r.Available.Equal(d("-15")))

	c, changed := Reconcile(s, r, d("0.01"))
	require.True(t, changed)
	assert.True(t, c.SelfHealed)
	assert.True(t, c.HealAmount.Equal(d("15")))
	assert.True(t, s.InitialCapital.Equal(d("25")))
	assert.True(t, s.AvailableCash.IsZero())
	assert.True(t, s.LockedCapital.Equal(d("25")))
	assert.True(t, Consistent(s, d("0.000001")))
}
