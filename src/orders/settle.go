package orders

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"ltexecutor/src/ledger"
	"ltexecutor/src/model"
)

// SettleResult counts what a settlement pass changed.
type SettleResult struct {
	Synced    int
	Resolved  int
	Cancelled int
	Failed    int
}

// SettleStrategy refreshes every open order of a strategy: pending orders
// are synced from the exchange, filled ones resolved when their market has
// resolved, and pending orders in a resolved market cancelled. Per-order
// failures are logged and counted; only an unreachable exchange or market
// data service stops the pass.
func (m *Manager) SettleStrategy(ctx context.Context, strategyID uint) (SettleResult, error) {
	var result SettleResult

	open, err := m.orders.FindOpenByStrategy(ctx, strategyID)
	if err != nil {
		return result, err
	}

	cache := resolutionCache{}
	for i := range open {
		o := &open[i]
		log := m.log.WithFields(map[string]interface{}{
			"order_id":    o.ID,
			"strategy_id": strategyID,
			"market":      o.MarketID,
		})

		if o.Status == model.OrderStatusPending {
			before := o.Status
			if err := m.SyncFill(ctx, o); err != nil {
				if isUnavailable(err) {
					return result, err
				}
				log.WithError(err).Warn("Failed to sync order fill")
				result.Failed++
				continue
			}
			if o.Status != before {
				result.Synced++
			}
		}

		if o.Status == model.OrderStatusPending {
			res, err := m.resolution(ctx, cache, o.MarketID)
			if err != nil {
				if isUnavailable(err) {
					return result, err
				}
				log.WithError(err).Warn("Failed to read market resolution")
				result.Failed++
				continue
			}
			if res.Resolved {
				if ok, err := m.Cancel(ctx, o, "market resolved before fill"); err != nil {
					if isUnavailable(err) {
						return result, err
					}
					log.WithError(err).Warn("Failed to cancel unfilled order in resolved market")
					result.Failed++
				} else if ok {
					result.Cancelled++
				}
			}
			if o.Status == model.OrderStatusPending || o.IsTerminal() {
				continue
			}
		}

		resolved, err := m.resolve(ctx, o, cache)
		if err != nil {
			if isUnavailable(err) {
				return result, err
			}
			if errors.Is(err, model.ErrInvalidTransition) {
				log.WithError(err).Info("Order already settled elsewhere")
				continue
			}
			log.WithError(err).Warn("Failed to resolve order")
			result.Failed++
			continue
		}
		if resolved {
			result.Resolved++
		}
	}

	if result.Synced+result.Resolved+result.Cancelled+result.Failed > 0 {
		m.log.WithFields(map[string]interface{}{
			"strategy_id": strategyID,
			"open":        len(open),
			"synced":      result.Synced,
			"resolved":    result.Resolved,
			"cancelled":   result.Cancelled,
			"failed":      result.Failed,
		}).Info("Settlement pass finished")
	}
	return result, nil
}

// RepairFillPrices re-reads fills for orders whose executed price still
// equals their limit price and rewrites the executed price and notional
// from the exchange's actual fill. Open orders have their lock adjusted;
// resolved orders have their P&L restated and the difference booked. It
// returns how many orders were repaired.
func (m *Manager) RepairFillPrices(ctx context.Context, limit int) (int, error) {
	candidates, err := m.orders.FindRepairCandidates(ctx, limit)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for i := range candidates {
		o := &candidates[i]
		fill, err := m.exchange.GetOrderFill(ctx, o.ExchangeOrder)
		if err != nil {
			if isUnavailable(err) {
				return repaired, err
			}
			m.log.WithField("order_id", o.ID).WithError(err).Warn("Failed to read fill for repair")
			continue
		}
		if !fill.FillPrice.IsPositive() || fill.FillPrice.Equal(o.ExecutedPrice) {
			continue
		}

		oldPrice := o.ExecutedPrice
		err = m.change(ctx, o, "fill price repaired from "+oldPrice.String(), func(_ *gorm.DB, s *model.Strategy, next *model.Order) error {
			restate(s, next, fill.FillPrice, fill.FilledSize)
			return nil
		})
		if err != nil {
			m.log.WithField("order_id", o.ID).WithError(err).Warn("Failed to repair fill price")
			continue
		}
		repaired++

		m.log.WithFields(map[string]interface{}{
			"order_id":  o.ID,
			"old_price": oldPrice.String(),
			"new_price": o.ExecutedPrice.String(),
		}).Info("Fill price repaired")
	}
	return repaired, nil
}

// restate rewrites the execution of next at price (and shares, when
// positive) and carries the change into the ledger.
func restate(s *model.Strategy, next *model.Order, price, shares decimal.Decimal) {
	oldPrice, oldShares, oldPnl := next.ExecutedPrice, next.ExecutedShares, next.RealizedPnl

	next.ExecutedPrice = price
	if shares.IsPositive() {
		next.ExecutedShares = shares
	}
	next.ExecutedSizeUSD = price.Mul(next.ExecutedShares).Round(6)
	if next.SignalPrice.IsPositive() {
		next.SlippagePct = price.Sub(next.SignalPrice).Div(next.SignalPrice).Mul(hundred).Round(4)
	}
	if next.Shares.IsPositive() {
		next.FillRate = next.ExecutedShares.Div(next.Shares).Round(4)
	}

	switch {
	case next.OutcomeStatus == model.OutcomeOpen:
		relock(s, next, next.ExecutedSizeUSD)
	case next.IsResolved() && oldShares.IsPositive():
		value := oldPnl.Div(oldShares).Add(oldPrice)
		next.RealizedPnl = value.Sub(price).Mul(next.ExecutedShares).Round(6)
		if !next.IsShadow {
			ledger.ApplyRealizedPnl(s, next.RealizedPnl.Sub(oldPnl))
		}
	}
}
