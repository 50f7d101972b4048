package orders

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"ltexecutor/src/connectors"
	"ltexecutor/src/ledger"
	"ltexecutor/src/model"
	"ltexecutor/src/risk"
)

// Submit places a reserved PENDING order at the exchange under its
// idempotency key. An order that already has an exchange id is only
// refreshed, so resubmitting after a crash never places twice.
//
// On a definitive exchange refusal the order becomes REJECTED and its lock
// is released. A timeout or an unreachable exchange also rejects the order
// and releases the lock, but flags it SubmitTimedOut for the sweeper to
// follow up. The exchange error is returned in every failure case.
func (m *Manager) Submit(ctx context.Context, o *model.Order) error {
	if o.Status != model.OrderStatusPending || o.OutcomeStatus != model.OutcomeOpen {
		return nil
	}
	if o.ExchangeOrder != "" {
		return m.SyncFill(ctx, o)
	}

	fill, err := m.exchangeFor(o).PlaceOrder(ctx, connectors.PlaceOrderRequest{
		MarketID:       o.MarketID,
		Outcome:        o.Outcome,
		Side:           o.Side,
		Price:          o.LimitPrice,
		Size:           o.Shares,
		OrderType:      o.OrderType,
		IdempotencyKey: o.IdempotencyKey,
	})
	if err != nil {
		return m.submitFailed(ctx, o, err)
	}

	if err := m.applyFill(ctx, o, fill, "submitted to exchange"); err != nil {
		m.capture(ctx, "Submit", o, err)
		return wrapOrder("record fill of", o, err)
	}

	m.log.WithFields(map[string]interface{}{
		"order_id":          o.ID,
		"strategy_id":       o.StrategyID,
		"exchange_order_id": o.ExchangeOrder,
		"status":            o.Status,
		"executed_price":    o.ExecutedPrice.String(),
		"shadow":            o.IsShadow,
	}).Info("Order submitted")
	return nil
}

func (m *Manager) submitFailed(ctx context.Context, o *model.Order, subErr error) error {
	timedOut := errors.Is(subErr, connectors.ErrTimeout) || isUnavailable(subErr)

	reason := "exchange rejected: " + subErr.Error()
	if timedOut {
		reason = "submission outcome unknown: " + subErr.Error()
	}

	err := m.change(ctx, o, reason, func(_ *gorm.DB, s *model.Strategy, next *model.Order) error {
		release(s, next)
		next.Status = model.OrderStatusRejected
		next.OutcomeStatus = model.OutcomeCancelled
		next.SubmitTimedOut = timedOut
		return nil
	})
	if err != nil {
		m.capture(ctx, "Submit", o, err)
	}

	m.log.WithFields(map[string]interface{}{
		"order_id":    o.ID,
		"strategy_id": o.StrategyID,
		"timed_out":   timedOut,
	}).WithError(subErr).Warn("Order submission failed, capital released")

	return wrapOrder("submit", o, subErr)
}

// SyncFill refreshes a PENDING order from the exchange.
func (m *Manager) SyncFill(ctx context.Context, o *model.Order) error {
	if o.Status != model.OrderStatusPending || o.OutcomeStatus != model.OutcomeOpen {
		return nil
	}

	ex := m.exchangeFor(o)
	var fill connectors.OrderFill
	if o.ExchangeOrder == "" {
		found, err := ex.FindByClientID(ctx, o.IdempotencyKey)
		if err != nil {
			return wrapOrder("look up", o, err)
		}
		if found == nil {
			return nil
		}
		fill = *found
	} else {
		var err error
		if fill, err = ex.GetOrderFill(ctx, o.ExchangeOrder); err != nil {
			return wrapOrder("sync", o, err)
		}
	}
	return m.applyFill(ctx, o, fill, "fill synced from exchange")
}

// resolutionCache memoizes market resolutions within one settlement pass.
type resolutionCache map[string]connectors.Resolution

func (m *Manager) resolution(ctx context.Context, cache resolutionCache, marketID string) (connectors.Resolution, error) {
	if r, ok := cache[marketID]; ok {
		return r, nil
	}
	r, err := m.market.GetResolution(ctx, marketID)
	if err != nil {
		return r, err
	}
	if cache != nil {
		cache[marketID] = r
	}
	return r, nil
}

// Resolve settles a filled order whose market has resolved. P&L is
// (resolution value - executed price) x executed shares, where the value
// is 1 for the winning outcome and 0 otherwise. A market resolved without
// a usable outcome is valued at its last observed price and the order is
// flagged ResolutionApproximated. The lock is released, the P&L booked and
// the risk state advanced once, in the same ledger mutation. It reports
// whether the order was resolved.
func (m *Manager) Resolve(ctx context.Context, o *model.Order) (bool, error) {
	return m.resolve(ctx, o, nil)
}

func (m *Manager) resolve(ctx context.Context, o *model.Order, cache resolutionCache) (bool, error) {
	if o.OutcomeStatus != model.OutcomeOpen ||
		(o.Status != model.OrderStatusFilled && o.Status != model.OrderStatusPartial) {
		return false, nil
	}

	res, err := m.resolution(ctx, cache, o.MarketID)
	if err != nil {
		return false, wrapOrder("resolve", o, err)
	}
	if !res.Resolved {
		return false, nil
	}

	var value decimal.Decimal
	approximated := res.WinningOutcome == ""
	if approximated {
		if value, err = m.market.GetCurrentPrice(ctx, o.MarketID, o.Outcome); err != nil {
			return false, wrapOrder("price", o, err)
		}
	} else if strings.EqualFold(res.WinningOutcome, o.Outcome) {
		value = one
	}

	pnl := value.Sub(o.ExecutedPrice).Mul(o.ExecutedShares).Round(6)
	won := value.Equal(one)
	if approximated {
		won = pnl.IsPositive()
	}
	outcome := model.OutcomeLost
	if won {
		outcome = model.OutcomeWon
	}

	reason := "market resolved " + strings.ToLower(outcome)
	if approximated {
		reason += " (valued at last price " + value.String() + ")"
	}

	now := m.now()
	var tripped string
	err = m.change(ctx, o, reason, func(tx *gorm.DB, s *model.Strategy, next *model.Order) error {
		tripped = ""
		release(s, next)
		next.OutcomeStatus = outcome
		next.RealizedPnl = pnl
		next.ResolvedAt = &now
		next.ResolutionApproximated = approximated
		if next.IsShadow {
			return nil
		}

		ledger.ApplyRealizedPnl(s, pnl)
		states := m.riskStates.WithDB(tx)
		state, err := states.Get(ctx, s)
		if err != nil {
			return err
		}
		if risk.ApplyResolution(&state, s, won, now) {
			tripped = state.TripReason
		}
		return states.Save(ctx, &state)
	})
	if err != nil {
		if !errors.Is(err, model.ErrInvalidTransition) {
			m.capture(ctx, "Resolve", o, err)
		}
		return false, wrapOrder("resolve", o, err)
	}

	fields := map[string]interface{}{
		"order_id":     o.ID,
		"strategy_id":  o.StrategyID,
		"market":       o.MarketID,
		"outcome":      outcome,
		"pnl":          pnl.String(),
		"approximated": approximated,
	}
	if approximated {
		m.log.WithFields(fields).Warn("Order resolved at approximated value")
	} else {
		m.log.WithFields(fields).Info("Order resolved")
	}
	if tripped != "" {
		m.log.WithFields(fields).WithField("trip_reason", tripped).Warn("Circuit breaker tripped, strategy paused")
	}
	return true, nil
}

// Cancel withdraws an order. A PENDING order is cancelled at the exchange
// first; if it turns out to have matched in the meantime the fill is
// recorded instead and Cancel reports false. A filled, unresolved order
// is closed with outcome CANCELLED and no P&L. Capital is released.
func (m *Manager) Cancel(ctx context.Context, o *model.Order, reason string) (bool, error) {
	r := m.CancelAll(ctx, []*model.Order{o}, reason)[0]
	return r.Cancelled, r.Err
}

// CancelResult is the outcome of one order passed to CancelAll. Cancelled
// is false with a nil Err when the order had matched and its fill was
// recorded instead.
type CancelResult struct {
	Order     *model.Order
	Cancelled bool
	Err       error
}

// CancelAll withdraws orders like Cancel, sending one cancel batch per
// exchange. A PENDING order without a recorded exchange id is looked up by
// its idempotency key first: it may have been accepted by a submission
// whose response was lost. Orders whose batch fails keep their state.
func (m *Manager) CancelAll(ctx context.Context, list []*model.Order, reason string) []CancelResult {
	results := make([]CancelResult, len(list))
	exchangeIDs := make([]string, len(list))
	batches := map[bool][]int{} // keyed by IsShadow

	for i, o := range list {
		results[i].Order = o
		if o.IsTerminal() {
			results[i].Err = wrapOrder("cancel", o, model.ErrInvalidTransition)
			continue
		}
		if o.Status != model.OrderStatusPending {
			continue
		}
		id, err := m.locate(ctx, o)
		if err != nil {
			results[i].Err = wrapOrder("cancel", o, err)
			continue
		}
		if id != "" {
			exchangeIDs[i] = id
			batches[o.IsShadow] = append(batches[o.IsShadow], i)
		}
	}

	for shadow, idx := range batches {
		ex := m.exchange
		if shadow {
			ex = m.shadow
		}
		ids := make([]string, len(idx))
		for k, i := range idx {
			ids[k] = exchangeIDs[i]
		}
		if err := ex.CancelOrders(ctx, ids); err != nil {
			for _, i := range idx {
				results[i].Err = wrapOrder("cancel", list[i], err)
			}
		}
	}

	for i, o := range list {
		if results[i].Err != nil {
			continue
		}
		results[i].Cancelled, results[i].Err = m.withdraw(ctx, o, exchangeIDs[i], reason)
	}
	return results
}

// locate returns the exchange id of a PENDING order, or "" when the
// exchange never accepted it.
func (m *Manager) locate(ctx context.Context, o *model.Order) (string, error) {
	if o.ExchangeOrder != "" {
		return o.ExchangeOrder, nil
	}
	found, err := m.exchangeFor(o).FindByClientID(ctx, o.IdempotencyKey)
	if err != nil || found == nil {
		return "", err
	}
	return found.OrderID, nil
}

// withdraw closes o after its exchange cancel, unless it matched first.
func (m *Manager) withdraw(ctx context.Context, o *model.Order, exchangeID, reason string) (bool, error) {
	if exchangeID != "" {
		fill, err := m.exchangeFor(o).GetOrderFill(ctx, exchangeID)
		if err == nil && fill.Filled() {
			if fill.OrderID == "" {
				fill.OrderID = exchangeID
			}
			return false, m.applyFill(ctx, o, fill, "filled before cancel")
		}
	}

	err := m.change(ctx, o, reason, func(_ *gorm.DB, s *model.Strategy, next *model.Order) error {
		release(s, next)
		if next.Status == model.OrderStatusPending {
			next.Status = model.OrderStatusCancelled
		}
		if next.ExchangeOrder == "" {
			next.ExchangeOrder = exchangeID
		}
		next.OutcomeStatus = model.OutcomeCancelled
		return nil
	})
	if err != nil {
		return false, wrapOrder("cancel", o, err)
	}

	m.log.WithFields(map[string]interface{}{
		"order_id":          o.ID,
		"strategy_id":       o.StrategyID,
		"exchange_order_id": o.ExchangeOrder,
		"reason":            reason,
	}).Info("Order cancelled, capital released")
	return true, nil
}

// FollowUpTimedOut re-checks a submission whose outcome was unknown. A
// late fill re-locks the executed notional (as far as cash allows) and
// reopens the order; a resting unfilled order is cancelled at the
// exchange. Either way the order is marked as followed up.
func (m *Manager) FollowUpTimedOut(ctx context.Context, o *model.Order) error {
	if !o.SubmitTimedOut || o.FollowedUpAt != nil {
		return nil
	}

	ex := m.exchangeFor(o)
	found, err := ex.FindByClientID(ctx, o.IdempotencyKey)
	if err != nil {
		return wrapOrder("follow up", o, err)
	}

	if found != nil && !found.Filled() && found.Status == connectors.ExchangeStatusLive && found.OrderID != "" {
		if err := ex.CancelOrders(ctx, []string{found.OrderID}); err != nil {
			return wrapOrder("follow up", o, err)
		}
		// It may have matched before the cancel landed.
		if f, ferr := ex.GetOrderFill(ctx, found.OrderID); ferr == nil {
			found = &f
		}
	}

	now := m.now()
	reason := "timed-out submission never reached the exchange"
	if found != nil {
		reason = "timed-out submission unfilled, cancelled"
		if found.Filled() {
			reason = "late fill after timed-out submission"
		}
	}

	err = m.change(ctx, o, reason, func(_ *gorm.DB, s *model.Strategy, next *model.Order) error {
		next.FollowedUpAt = &now
		if found == nil {
			return nil
		}
		if found.OrderID != "" {
			next.ExchangeOrder = found.OrderID
		}
		if found.Filled() {
			applyFillTo(s, next, *found, now)
		}
		return nil
	})
	if err != nil {
		return wrapOrder("follow up", o, err)
	}

	if o.Status == model.OrderStatusPartial && found != nil && found.Status != connectors.ExchangeStatusCancelled {
		if cerr := ex.CancelOrders(ctx, []string{o.ExchangeOrder}); cerr != nil {
			m.log.WithField("order_id", o.ID).WithError(cerr).Warn("Failed to cancel remainder of late partial fill")
		}
	}

	m.log.WithFields(map[string]interface{}{
		"order_id":    o.ID,
		"strategy_id": o.StrategyID,
		"status":      o.Status,
		"locked":      o.LockedAmount.String(),
	}).Info(reason)
	return nil
}

// Reopen re-arms an order whose submission outcome was unknown and which
// never got an exchange id, so the same signal can be submitted again
// under the same idempotency key. The requested notional is locked again.
func (m *Manager) Reopen(ctx context.Context, o *model.Order) error {
	if o.Status != model.OrderStatusRejected || !o.SubmitTimedOut || o.ExchangeOrder != "" {
		return wrapOrder("reopen", o, model.ErrInvalidTransition)
	}

	return m.change(ctx, o, "resubmitting after unknown submission outcome", func(_ *gorm.DB, s *model.Strategy, next *model.Order) error {
		next.Status = model.OrderStatusPending
		next.OutcomeStatus = model.OutcomeOpen
		next.SubmitTimedOut = false
		next.FollowedUpAt = nil
		next.PlacedAt = nil
		next.LockedAmount = decimal.Zero
		next.CapitalReleased = true
		if next.IsShadow {
			return nil
		}
		if err := ledger.Lock(s, next.SignalSizeUSD); err != nil {
			return err
		}
		next.LockedAmount = next.SignalSizeUSD
		next.CapitalReleased = false
		return nil
	})
}
