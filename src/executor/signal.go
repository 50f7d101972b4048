package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"ltexecutor/src/audit"
	"ltexecutor/src/connectors"
	"ltexecutor/src/model"
	"ltexecutor/src/repository"
	"ltexecutor/src/risk"
	"ltexecutor/src/utils"
)

// processSignal decides on one signal and, when accepted, reserves capital
// and submits the order. It returns the decision once the outcome is
// durably recorded; an error means the signal must be processed again.
func (e *Executor) processSignal(ctx context.Context, cycleID string, strategyID uint, sig model.Signal) (string, error) {
	dec := audit.Decision{StrategyID: strategyID, SignalID: sig.ID, CycleID: cycleID}
	key := repository.IdempotencyKey(strategyID, sig.ID)

	existing, err := e.orders.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return e.resume(ctx, dec, existing)
	}

	skip := func(reason string, err error) (string, error) {
		dec.Decision, dec.Reason = model.DecisionSkipped, reason
		audit.Record(ctx, e.decisions, dec, "%s", err.Error())
		return dec.Decision, nil
	}

	if err := validate(sig); err != nil {
		return skip(ReasonInvalidSignal, err)
	}
	if sig.Side != model.SideBuy {
		return skip(ReasonUnsupportedSide, fmt.Errorf("%s signals are not copied", sig.Side))
	}

	s, err := e.strategies.FindByID(ctx, strategyID)
	if err != nil {
		return "", err
	}

	size, err := ProposeSize(s, sig)
	if err != nil {
		return skip(ReasonSizing, err)
	}
	limit := LimitPrice(sig.Price, s.SlippageTolerancePct, sig.Side)
	shares := size.Div(limit).Round(6)

	last, err := e.market.GetCurrentPrice(ctx, sig.MarketID, sig.Outcome)
	if err != nil {
		if errors.Is(err, model.ErrExchangeUnavailable) {
			return "", err
		}
		return skip(ReasonMarketData, fmt.Errorf("no current price: %w", err))
	}

	snap, err := e.snapshot(ctx, s)
	if err != nil {
		return "", err
	}
	state, err := e.riskStates.Get(ctx, s)
	if err != nil {
		return "", err
	}

	dec.Metadata = map[string]any{
		"size_usd":    size.String(),
		"limit_price": limit.String(),
		"last_price":  last.String(),
		"shares":      shares.String(),
	}

	verdict := risk.Evaluate(risk.RulesFromStrategy(s), state, snap, risk.ProposedOrder{
		SizeUSD:    size,
		LimitPrice: limit,
		LastPrice:  last,
	})
	if !verdict.Allowed {
		dec.Decision, dec.Reason = model.DecisionRejected, string(verdict.Reason)
		audit.Record(ctx, e.decisions, dec, "%s", verdict.Message)
		return dec.Decision, nil
	}

	order := &model.Order{
		StrategyID:     strategyID,
		SignalID:       sig.ID,
		IdempotencyKey: key,
		MarketID:       sig.MarketID,
		Outcome:        sig.Outcome,
		Side:           sig.Side,
		OrderType:      s.OrderType,
		SignalPrice:    sig.Price,
		SignalSizeUSD:  size,
		LimitPrice:     limit,
		Shares:         shares,
		IsShadow:       s.ShadowMode,
	}
	if order.OrderType == "" {
		order.OrderType = model.OrderTypeGTC
	}

	if err := e.manager.Reserve(ctx, order, "signal "+sig.ID+" accepted"); err != nil {
		switch {
		case errors.Is(err, model.ErrCapitalInsufficient):
			// Cash moved between the snapshot and the lock.
			dec.Decision, dec.Reason = model.DecisionRejected, ReasonCashCheck
			audit.Record(ctx, e.decisions, dec, "%s", err.Error())
			return dec.Decision, nil
		case errors.Is(err, gorm.ErrDuplicatedKey):
			// A concurrent run created the order first.
			existing, ferr := e.orders.FindByIdempotencyKey(ctx, key)
			if ferr != nil || existing == nil {
				return "", err
			}
			return e.resume(ctx, dec, existing)
		}
		return "", err
	}

	return e.submit(ctx, dec, order)
}

// submit sends a reserved order and records the decision.
func (e *Executor) submit(ctx context.Context, dec audit.Decision, order *model.Order) (string, error) {
	dec.OrderID = &order.ID
	if dec.Metadata == nil {
		dec.Metadata = map[string]any{}
	}
	dec.Metadata["idempotency_key"] = order.IdempotencyKey
	dec.Metadata["shadow"] = order.IsShadow

	err := e.manager.Submit(ctx, order)
	if err != nil {
		dec.Decision = model.DecisionRejected
		switch {
		case errors.Is(err, model.ErrExchangeUnavailable):
			dec.Reason = ReasonExchangeUnavailable
			audit.Record(ctx, e.decisions, dec, "%s", err.Error())
			return "", err
		case errors.Is(err, connectors.ErrTimeout):
			dec.Reason = ReasonExchangeTimeout
		default:
			dec.Reason = ReasonExchangeError
		}
		audit.Record(ctx, e.decisions, dec, "%s", err.Error())
		return dec.Decision, nil
	}

	dec.Decision = model.DecisionAccepted
	dec.Metadata["status"] = order.Status
	dec.Metadata["executed_price"] = order.ExecutedPrice.String()
	audit.Record(ctx, e.decisions, dec, "order %d %s at %s for %s USD",
		order.ID, order.Status, order.LimitPrice.String(), order.SignalSizeUSD.StringFixed(2))
	return dec.Decision, nil
}

// resume continues a signal whose order already exists, which happens when
// a cycle is retried after a crash or an abort.
func (e *Executor) resume(ctx context.Context, dec audit.Decision, existing *model.Order) (string, error) {
	log := e.log.WithFields(map[string]interface{}{
		"strategy_id": existing.StrategyID,
		"signal_id":   existing.SignalID,
		"order_id":    existing.ID,
		"status":      existing.Status,
	})

	switch {
	case existing.Status == model.OrderStatusPending && existing.ExchangeOrder == "":
		log.Info("Order reserved but never submitted, submitting")
		return e.submit(ctx, dec, existing)

	case existing.Status == model.OrderStatusRejected && existing.SubmitTimedOut && existing.ExchangeOrder == "":
		if err := e.manager.Reopen(ctx, existing); err != nil {
			if errors.Is(err, model.ErrCapitalInsufficient) {
				dec.Decision, dec.Reason, dec.OrderID = model.DecisionRejected, ReasonCashCheck, &existing.ID
				audit.Record(ctx, e.decisions, dec, "%s", err.Error())
				return dec.Decision, nil
			}
			if !errors.Is(err, model.ErrInvalidTransition) {
				return "", err
			}
			log.Info("Order settled elsewhere meanwhile")
			return model.DecisionAccepted, nil
		}
		log.Info("Resubmitting order with unknown outcome")
		return e.submit(ctx, dec, existing)

	case existing.Status == model.OrderStatusPending:
		if err := e.manager.SyncFill(ctx, existing); err != nil && errors.Is(err, model.ErrExchangeUnavailable) {
			return "", err
		}
	}

	log.Debug("Signal already processed")
	if existing.Status == model.OrderStatusRejected {
		return model.DecisionRejected, nil
	}
	return model.DecisionAccepted, nil
}

// snapshot gathers the activity the risk rules are checked against. The
// trading day is the UTC calendar day.
func (e *Executor) snapshot(ctx context.Context, s *model.Strategy) (risk.StrategySnapshot, error) {
	snap := risk.StrategySnapshot{
		Paused:        s.IsPaused,
		AvailableCash: s.AvailableCash,
	}

	open, err := e.orders.FindOpenByStrategy(ctx, s.ID)
	if err != nil {
		return snap, err
	}
	for i := range open {
		snap.OpenExposure = snap.OpenExposure.Add(open[i].CommittedCapital())
	}

	now := e.now()
	dayStart := utils.ResetTime(now, "day")
	activity, err := e.orders.FindActivitySince(ctx, s.ID, dayStart)
	if err != nil {
		return snap, err
	}

	pnlToday := decimal.Zero
	for _, o := range activity {
		if o.IsShadow {
			continue
		}
		if !o.CreatedAt.Before(dayStart) && o.Status != model.OrderStatusRejected {
			snap.TradesToday++
		}
		if o.FilledAt != nil && !o.FilledAt.Before(dayStart) {
			snap.FilledTodayUSD = snap.FilledTodayUSD.Add(o.ExecutedSizeUSD)
		}
		if o.ResolvedAt != nil && !o.ResolvedAt.Before(dayStart) && o.IsResolved() {
			pnlToday = pnlToday.Add(o.RealizedPnl)
		}
	}
	if pnlToday.IsNegative() {
		snap.RealizedLossToday = pnlToday.Neg()
	}
	return snap, nil
}
