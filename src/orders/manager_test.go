package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"ltexecutor/src/connectors"
	"ltexecutor/src/database"
	"ltexecutor/src/ledger"
	"ltexecutor/src/model"
	"ltexecutor/src/repository"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeExchange struct {
	mu        sync.Mutex
	placeFill connectors.OrderFill
	placeErr  error
	placed    int
	fills     map[string]connectors.OrderFill
	byKey     map[string]connectors.OrderFill
	cancelled []string
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		fills: map[string]connectors.OrderFill{},
		byKey: map[string]connectors.OrderFill{},
	}
}

func (f *fakeExchange) PlaceOrder(_ context.Context, r connectors.PlaceOrderRequest) (connectors.OrderFill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed++
	if f.placeErr != nil {
		return connectors.OrderFill{}, f.placeErr
	}
	fill := f.placeFill
	f.fills[fill.OrderID] = fill
	f.byKey[r.IdempotencyKey] = fill
	return fill, nil
}

func (f *fakeExchange) CancelOrders(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, ids...)
	return nil
}

func (f *fakeExchange) GetOrderFill(_ context.Context, id string) (connectors.OrderFill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fill, ok := f.fills[id]; ok {
		return fill, nil
	}
	return connectors.OrderFill{}, &connectors.ExchangeError{HTTPStatus: 404, Code: "ORDER_NOT_FOUND"}
}

func (f *fakeExchange) FindByClientID(_ context.Context, key string) (*connectors.OrderFill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fill, ok := f.byKey[key]; ok {
		return &fill, nil
	}
	return nil, nil
}

type fixture struct {
	db       *gorm.DB
	manager  *Manager
	exchange *fakeExchange
	market   *connectors.StaticMarketData
	strategy *model.Strategy
	now      time.Time
}

func newFixture(t *testing.T, configure func(s *model.Strategy)) *fixture {
	t.Helper()
	db, err := database.Open("sqlite::memory:", 1)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	s := &model.Strategy{
		AccountID:      1,
		WalletAddress:  "0xabc",
		Name:           "copy abc",
		InitialCapital: d("100"),
	}
	if configure != nil {
		configure(s)
	}
	require.NoError(t, repository.NewStrategyRepository().WithDB(db).Create(context.Background(), s))

	f := &fixture{
		db:       db,
		exchange: newFakeExchange(),
		market:   connectors.NewStaticMarketData(),
		strategy: s,
		now:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.manager = NewManager(f.exchange, f.market).WithDB(db).WithClock(func() time.Time { return f.now })
	return f
}

// reserve creates a PENDING order for 20 shares at 0.50 (10 USD).
func (f *fixture) reserve(t *testing.T, signalID string) *model.Order {
	t.Helper()
	o := &model.Order{
		StrategyID:     f.strategy.ID,
		SignalID:       signalID,
		IdempotencyKey: repository.IdempotencyKey(f.strategy.ID, signalID),
		MarketID:       "m-" + signalID,
		Outcome:        "Yes",
		Side:           model.SideBuy,
		OrderType:      model.OrderTypeGTC,
		SignalPrice:    d("0.5"),
		SignalSizeUSD:  d("10"),
		LimitPrice:     d("0.5"),
		Shares:         d("20"),
		IsShadow:       f.strategy.ShadowMode,
	}
	require.NoError(t, f.manager.Reserve(context.Background(), o, "signal accepted"))
	return o
}

func (f *fixture) ledger(t *testing.T) *model.Strategy {
	t.Helper()
	s, err := repository.NewStrategyRepository().WithDB(f.db).FindByID(context.Background(), f.strategy.ID)
	require.NoError(t, err)
	assert.True(t, ledger.Consistent(s, d("0.000001")), "ledger identity must hold")
	return s
}

func (f *fixture) fillAt(id, price, size string) {
	f.exchange.placeFill = connectors.OrderFill{OrderID: id, Status: connectors.ExchangeStatusMatched, FillPrice: d(price), FilledSize: d(size)}
}

func TestReserveLocksRequestedNotional(t *testing.T) {
	f := newFixture(t, nil)
	o := f.reserve(t, "1")

	assert.NotZero(t, o.ID)
	assert.True(t, o.LockedAmount.Equal(d("10")))
	s := f.ledger(t)
	assert.True(t, s.AvailableCash.Equal(d("90")))
	assert.True(t, s.LockedCapital.Equal(d("10")))
}

func TestReserveRefusesWithoutCash(t *testing.T) {
	f := newFixture(t, func(s *model.Strategy) { s.InitialCapital = d("5") })
	o := &model.Order{
		StrategyID: f.strategy.ID, SignalID: "1", IdempotencyKey: "k", MarketID: "m", Outcome: "Yes",
		Side: model.SideBuy, OrderType: model.OrderTypeGTC, SignalSizeUSD: d("10"),
	}

	err := f.manager.Reserve(context.Background(), o, "signal accepted")
	assert.ErrorIs(t, err, model.ErrCapitalInsufficient)

	found, err := repository.NewOrderRepository().WithDB(f.db).FindByIdempotencyKey(context.Background(), "k")
	require.NoError(t, err)
	assert.Nil(t, found)
	assert.True(t, f.ledger(t).AvailableCash.Equal(d("5")))
}

func TestSubmitRecordsActualFillPrice(t *testing.T) {
	f := newFixture(t, nil)
	o := f.reserve(t, "1")
	f.fillAt("ex-1", "0.45", "20")

	require.NoError(t, f.manager.Submit(context.Background(), o))

	assert.Equal(t, model.OrderStatusFilled, o.Status)
	assert.Equal(t, "ex-1", o.ExchangeOrder)
	assert.True(t, o.ExecutedPrice.Equal(d("0.45")))
	assert.True(t, o.ExecutedSizeUSD.Equal(d("9")))
	assert.True(t, o.LockedAmount.Equal(d("9")))
	assert.True(t, o.SlippagePct.Equal(d("-10")))

	s := f.ledger(t)
	assert.True(t, s.LockedCapital.Equal(d("9")))
	assert.True(t, s.AvailableCash.Equal(d("91")))

	// A retried cycle submitting the same order again places nothing new.
	require.NoError(t, f.manager.Submit(context.Background(), o))
	assert.Equal(t, 1, f.exchange.placed)
}

func TestSubmitRejectionReleasesCapital(t *testing.T) {
	f := newFixture(t, nil)
	o := f.reserve(t, "1")
	f.exchange.placeErr = &connectors.ExchangeError{HTTPStatus: 400, Code: "INVALID_ORDER_MIN_SIZE", Message: "too small"}

	err := f.manager.Submit(context.Background(), o)
	assert.ErrorIs(t, err, model.ErrExchange)
	assert.NotErrorIs(t, err, model.ErrExchangeUnavailable)

	assert.Equal(t, model.OrderStatusRejected, o.Status)
	assert.True(t, o.CapitalReleased)
	assert.False(t, o.SubmitTimedOut)
	assert.Contains(t, o.Reason, "too small")

	s := f.ledger(t)
	assert.True(t, s.AvailableCash.Equal(d("100")))
	assert.True(t, s.LockedCapital.IsZero())

	stored, err := repository.NewOrderRepository().WithDB(f.db).FindByID(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, stored.Logs, 2)
	assert.Equal(t, model.OrderStatusPending, stored.Logs[0].Status)
	assert.Equal(t, model.OrderStatusRejected, stored.Logs[1].Status)
}

func TestTimedOutSubmissionIsFollowedUp(t *testing.T) {
	f := newFixture(t, nil)
	o := f.reserve(t, "1")
	f.exchange.placeErr = fmt.Errorf("%w: %w", connectors.ErrTimeout, model.ErrExchange)

	err := f.manager.Submit(context.Background(), o)
	require.Error(t, err)
	assert.True(t, o.SubmitTimedOut)
	assert.True(t, f.ledger(t).AvailableCash.Equal(d("100")))

	// The exchange did take the order and filled it.
	late := connectors.OrderFill{OrderID: "ex-9", Status: connectors.ExchangeStatusMatched, FillPrice: d("0.5"), FilledSize: d("20")}
	f.exchange.byKey[o.IdempotencyKey] = late
	f.exchange.fills["ex-9"] = late

	require.NoError(t, f.manager.FollowUpTimedOut(context.Background(), o))
	assert.Equal(t, model.OrderStatusFilled, o.Status)
	assert.Equal(t, model.OutcomeOpen, o.OutcomeStatus)
	assert.NotNil(t, o.FollowedUpAt)
	assert.False(t, o.CapitalReleased)

	s := f.ledger(t)
	assert.True(t, s.LockedCapital.Equal(d("10")))
	assert.True(t, s.AvailableCash.Equal(d("90")))

	// Followed up once only.
	require.NoError(t, f.manager.FollowUpTimedOut(context.Background(), o))
	assert.True(t, f.ledger(t).LockedCapital.Equal(d("10")))
}

func TestTimedOutSubmissionNeverPlaced(t *testing.T) {
	f := newFixture(t, nil)
	o := f.reserve(t, "1")
	f.exchange.placeErr = fmt.Errorf("%w: dial tcp: refused", model.ErrExchangeUnavailable)

	err := f.manager.Submit(context.Background(), o)
	assert.ErrorIs(t, err, model.ErrExchangeUnavailable)

	require.NoError(t, f.manager.FollowUpTimedOut(context.Background(), o))
	assert.Equal(t, model.OrderStatusRejected, o.Status)
	assert.NotNil(t, o.FollowedUpAt)
	assert.True(t, f.ledger(t).AvailableCash.Equal(d("100")))
}

func TestPartialFillTrimsLockAndCancelsRemainder(t *testing.T) {
	f := newFixture(t, nil)
	o := f.reserve(t, "1")
	f.exchange.placeFill = connectors.OrderFill{OrderID: "ex-2", Status: connectors.ExchangeStatusPartial, FillPrice: d("0.5"), FilledSize: d("10")}

	require.NoError(t, f.manager.Submit(context.Background(), o))

	assert.Equal(t, model.OrderStatusPartial, o.Status)
	assert.True(t, o.FillRate.Equal(d("0.5")))
	assert.True(t, o.LockedAmount.Equal(d("5")))
	assert.Equal(t, []string{"ex-2"}, f.exchange.cancelled)
	assert.True(t, f.ledger(t).AvailableCash.Equal(d("95")))
}

func TestResolveBooksPnlOnce(t *testing.T) {
	tests := []struct {
		name      string
		winner    string
		outcome   string
		pnl       string
		available string
	}{
		{"win", "Yes", model.OutcomeWon, "10", "110"},
		{"loss", "No", model.OutcomeLost, "-10", "90"},
		{"winner matched case-insensitively", "YES", model.OutcomeWon, "10", "110"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			o := f.reserve(t, "1")
			f.fillAt("ex-1", "0.5", "20")
			require.NoError(t, f.manager.Submit(context.Background(), o))

			stale := *o
			f.market.Resolve(o.MarketID, tt.winner)

			resolved, err := f.manager.Resolve(context.Background(), o)
			require.NoError(t, err)
			assert.True(t, resolved)
			assert.Equal(t, tt.outcome, o.OutcomeStatus)
			assert.True(t, o.RealizedPnl.Equal(d(tt.pnl)))
			assert.False(t, o.ResolutionApproximated)
			assert.True(t, o.CapitalReleased)

			s := f.ledger(t)
			assert.True(t, s.AvailableCash.Equal(d(tt.available)))
			assert.True(t, s.LockedCapital.IsZero())
			assert.True(t, s.RealizedPnl.Equal(d(tt.pnl)))

			// A second worker holding the old row cannot book it again.
			_, err = f.manager.Resolve(context.Background(), &stale)
			assert.ErrorIs(t, err, model.ErrInvalidTransition)
			assert.True(t, f.ledger(t).AvailableCash.Equal(d(tt.available)))
		})
	}
}

func TestResolveApproximatedIsFlagged(t *testing.T) {
	f := newFixture(t, nil)
	o := f.reserve(t, "1")
	f.fillAt("ex-1", "0.5", "20")
	require.NoError(t, f.manager.Submit(context.Background(), o))

	f.market.Resolutions[o.MarketID] = connectors.Resolution{Resolved: true}
	f.market.SetPrice(o.MarketID, "Yes", d("0.7"))

	resolved, err := f.manager.Resolve(context.Background(), o)
	require.NoError(t, err)
	assert.True(t, resolved)
	assert.True(t, o.ResolutionApproximated)
	assert.Equal(t, model.OutcomeWon, o.OutcomeStatus)
	assert.True(t, o.RealizedPnl.Equal(d("4")))
	assert.Contains(t, o.Reason, "last price")
}

func TestUnresolvedMarketLeavesOrderOpen(t *testing.T) {
	f := newFixture(t, nil)
	o := f.reserve(t, "1")
	f.fillAt("ex-1", "0.5", "20")
	require.NoError(t, f.manager.Submit(context.Background(), o))

	resolved, err := f.manager.Resolve(context.Background(), o)
	require.NoError(t, err)
	assert.False(t, resolved)
	assert.Equal(t, model.OutcomeOpen, o.OutcomeStatus)
}

func TestThreeLossesTripBreaker(t *testing.T) {
	f := newFixture(t, func(s *model.Strategy) { s.MaxConsecutiveLosses = 3 })

	for i := 1; i <= 3; i++ {
		id := fmt.Sprint(i)
		o := f.reserve(t, id)
		f.fillAt("ex-"+id, "0.5", "20")
		require.NoError(t, f.manager.Submit(context.Background(), o))
		f.market.Resolve(o.MarketID, "No")
		_, err := f.manager.Resolve(context.Background(), o)
		require.NoError(t, err)
	}

	s := f.ledger(t)
	assert.True(t, s.IsPaused)
	assert.Contains(t, s.PauseReason, "3 consecutive losses")
	assert.True(t, s.AvailableCash.Equal(d("70")))

	state, err := repository.NewRiskStateRepository().WithDB(f.db).Get(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, state.CircuitBreakerActive)
	assert.Equal(t, 3, state.ConsecutiveLosses)
	assert.True(t, state.CurrentDrawdownPct.Equal(d("30")))
}

func TestCancelPendingReleasesLock(t *testing.T) {
	f := newFixture(t, nil)
	o := f.reserve(t, "1")
	f.exchange.placeFill = connectors.OrderFill{OrderID: "ex-1", Status: connectors.ExchangeStatusLive}
	require.NoError(t, f.manager.Submit(context.Background(), o))
	assert.Equal(t, model.OrderStatusPending, o.Status)
	assert.Equal(t, "ex-1", o.ExchangeOrder)

	cancelled, err := f.manager.Cancel(context.Background(), o, "operator cancel")
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.Equal(t, model.OrderStatusCancelled, o.Status)
	assert.Equal(t, model.OutcomeCancelled, o.OutcomeStatus)
	assert.Equal(t, []string{"ex-1"}, f.exchange.cancelled)
	assert.True(t, f.ledger(t).AvailableCash.Equal(d("100")))

	_, err = f.manager.Cancel(context.Background(), o, "again")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestCancelFindsLateMatch(t *testing.T) {
	f := newFixture(t, nil)
	o := f.reserve(t, "1")
	f.exchange.placeFill = connectors.OrderFill{OrderID: "ex-1", Status: connectors.ExchangeStatusLive}
	require.NoError(t, f.manager.Submit(context.Background(), o))

	f.exchange.fills["ex-1"] = connectors.OrderFill{OrderID: "ex-1", Status: connectors.ExchangeStatusMatched, FillPrice: d("0.5"), FilledSize: d("20")}

	cancelled, err := f.manager.Cancel(context.Background(), o, "timeout")
	require.NoError(t, err)
	assert.False(t, cancelled)
	assert.Equal(t, model.OrderStatusFilled, o.Status)
	assert.True(t, f.ledger(t).LockedCapital.Equal(d("10")))
}

func TestCancelLooksUpUnrecordedSubmission(t *testing.T) {
	f := newFixture(t, nil)
	o := f.reserve(t, "1")
	require.Empty(t, o.ExchangeOrder)

	// Accepted and matched at the exchange, response lost.
	matched := connectors.OrderFill{OrderID: "ex-7", Status: connectors.ExchangeStatusMatched, FillPrice: d("0.5"), FilledSize: d("20")}
	f.exchange.fills["ex-7"] = matched
	f.exchange.byKey[o.IdempotencyKey] = matched

	cancelled, err := f.manager.Cancel(context.Background(), o, "timeout")
	require.NoError(t, err)
	assert.False(t, cancelled)
	assert.Equal(t, []string{"ex-7"}, f.exchange.cancelled)
	assert.Equal(t, model.OrderStatusFilled, o.Status)
	assert.Equal(t, "ex-7", o.ExchangeOrder)
	assert.True(t, f.ledger(t).LockedCapital.Equal(d("10")))
}

func TestCancelAllReportsPerOrder(t *testing.T) {
	f := newFixture(t, nil)
	never := f.reserve(t, "1")
	resting := f.reserve(t, "2")
	f.exchange.placeFill = connectors.OrderFill{OrderID: "ex-2", Status: connectors.ExchangeStatusLive}
	require.NoError(t, f.manager.Submit(context.Background(), resting))
	done := f.reserve(t, "3")
	_, err := f.manager.Cancel(context.Background(), done, "operator")
	require.NoError(t, err)

	results := f.manager.CancelAll(context.Background(), []*model.Order{never, resting, done}, "sweep")
	require.Len(t, results, 3)
	assert.True(t, results[0].Cancelled)
	assert.True(t, results[1].Cancelled)
	assert.ErrorIs(t, results[2].Err, model.ErrInvalidTransition)
	assert.Equal(t, []string{"ex-2"}, f.exchange.cancelled)
	assert.True(t, f.ledger(t).AvailableCash.Equal(d("100")))
}

func TestSettleStrategySyncsThenResolves(t *testing.T) {
	f := newFixture(t, nil)

	resting := f.reserve(t, "1")
	f.exchange.placeFill = connectors.OrderFill{OrderID: "ex-1", Status: connectors.ExchangeStatusLive}
	require.NoError(t, f.manager.Submit(context.Background(), resting))

	stranded := f.reserve(t, "2")
	f.exchange.placeFill = connectors.OrderFill{OrderID: "ex-2", Status: connectors.ExchangeStatusLive}
	require.NoError(t, f.manager.Submit(context.Background(), stranded))

	// ex-1 matched meanwhile and its market resolved; ex-2's market resolved unfilled.
	f.exchange.fills["ex-1"] = connectors.OrderFill{OrderID: "ex-1", Status: connectors.ExchangeStatusMatched, FillPrice: d("0.4"), FilledSize: d("20")}
	f.market.Resolve(resting.MarketID, "Yes")
	f.market.Resolve(stranded.MarketID, "No")

	result, err := f.manager.SettleStrategy(context.Background(), f.strategy.ID)
	require.NoError(t, err)
	assert.Equal(t, SettleResult{Synced: 1, Resolved: 1, Cancelled: 1}, result)

	s := f.ledger(t)
	assert.True(t, s.LockedCapital.IsZero())
	assert.True(t, s.RealizedPnl.Equal(d("12")))
	assert.True(t, s.AvailableCash.Equal(d("112")))
}

func TestRepairFillPrices(t *testing.T) {
	f := newFixture(t, nil)
	o := f.reserve(t, "1")
	f.fillAt("ex-1", "0.5", "20")
	require.NoError(t, f.manager.Submit(context.Background(), o))

	// The exchange later reports the real average price.
	f.exchange.fills["ex-1"] = connectors.OrderFill{OrderID: "ex-1", Status: connectors.ExchangeStatusMatched, FillPrice: d("0.45"), FilledSize: d("20")}

	n, err := f.manager.RepairFillPrices(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := repository.NewOrderRepository().WithDB(f.db).FindByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, stored.ExecutedPrice.Equal(d("0.45")))
	assert.True(t, stored.ExecutedSizeUSD.Equal(d("9")))
	assert.True(t, f.ledger(t).LockedCapital.Equal(d("9")))

	n, err = f.manager.RepairFillPrices(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRestateResolvedOrderRebooksPnl(t *testing.T) {
	s := &model.Strategy{InitialCapital: d("100"), AvailableCash: d("110"), RealizedPnl: d("10")}
	o := &model.Order{
		Status: model.OrderStatusFilled, OutcomeStatus: model.OutcomeWon,
		ExecutedPrice: d("0.5"), ExecutedShares: d("20"), RealizedPnl: d("10"), CapitalReleased: true,
	}

	restate(s, o, d("0.45"), d("20"))

	assert.True(t, o.RealizedPnl.Equal(d("11")))
	assert.True(t, s.RealizedPnl.Equal(d("11")))
	assert.True(t, s.AvailableCash.Equal(d("111")))
}

func TestShadowOrdersLeaveLedgerAlone(t *testing.T) {
	f := newFixture(t, func(s *model.Strategy) { s.ShadowMode = true })
	o := f.reserve(t, "1")
	assert.True(t, o.IsShadow)
	assert.True(t, o.LockedAmount.IsZero())

	require.NoError(t, f.manager.Submit(context.Background(), o))
	assert.Equal(t, model.OrderStatusFilled, o.Status)
	assert.Zero(t, f.exchange.placed, "shadow orders never reach the real exchange")

	f.market.Resolve(o.MarketID, "Yes")
	_, err := f.manager.Resolve(context.Background(), o)
	require.NoError(t, err)
	assert.True(t, o.RealizedPnl.Equal(d("10")))

	s := f.ledger(t)
	assert.True(t, s.AvailableCash.Equal(d("100")))
	assert.True(t, s.RealizedPnl.IsZero())
}

func TestSubmitErrorIsReturnedWrapped(t *testing.T) {
	f := newFixture(t, nil)
	o := f.reserve(t, "1")
	f.exchange.placeErr = errors.New("boom")

	err := f.manager.Submit(context.Background(), o)
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("submit order %d", o.ID))
}

func TestReopenResubmitsUnderSameKey(t *testing.T) {
	f := newFixture(t, nil)
	o := f.reserve(t, "1")
	f.exchange.placeErr = fmt.Errorf("%w: connection reset", model.ErrExchangeUnavailable)
	require.Error(t, f.manager.Submit(context.Background(), o))
	assert.True(t, f.ledger(t).LockedCapital.IsZero())

	require.NoError(t, f.manager.Reopen(context.Background(), o))
	assert.Equal(t, model.OrderStatusPending, o.Status)
	assert.True(t, f.ledger(t).LockedCapital.Equal(d("10")))

	f.exchange.placeErr = nil
	f.fillAt("ex-1", "0.5", "20")
	require.NoError(t, f.manager.Submit(context.Background(), o))
	assert.Equal(t, model.OrderStatusFilled, o.Status)
	assert.Equal(t, 2, f.exchange.placed)

	assert.ErrorIs(t, f.manager.Reopen(context.Background(), o), model.ErrInvalidTransition)
}
