// Package orders drives an order from submission to resolution. Every
// state change is written through OrderRepository.Transition inside
// StrategyRepository.MutateLedger, so the order row, its log entry and the
// capital it moves commit together, and a change already made by another
// worker is refused instead of applied twice.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ltexecutor/src/audit"
	"ltexecutor/src/connectors"
	"ltexecutor/src/ledger"
	"ltexecutor/src/model"
	"ltexecutor/src/repository"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Manager is the order lifecycle manager.
type Manager struct {
	strategies *repository.StrategyRepository
	riskStates *repository.RiskStateRepository
	orders     *repository.OrderRepository
	exceptions *repository.ExceptionRepository

	exchange connectors.Exchange
	shadow   connectors.Exchange // fills shadow orders
	market   connectors.MarketData

	now func() time.Time
	log *logger.Entry
}

// NewManager builds a manager on the main database.
func NewManager(exchange connectors.Exchange, market connectors.MarketData) *Manager {
	return &Manager{
		strategies: repository.NewStrategyRepository(),
		riskStates: repository.NewRiskStateRepository(),
		orders:     repository.NewOrderRepository(),
		exceptions: repository.NewExceptionRepository(),
		exchange:   exchange,
		shadow:     connectors.NewDryRunExchange(),
		market:     market,
		now:        func() time.Time { return time.Now().UTC() },
		log:        logger.WithField("component", "orders"),
	}
}

// WithDB returns a copy of m whose repositories use db.
func (m *Manager) WithDB(db *gorm.DB) *Manager {
	c := *m
	c.strategies = m.strategies.WithDB(db)
	c.riskStates = m.riskStates.WithDB(db)
	c.orders = m.orders.WithDB(db)
	c.exceptions = m.exceptions.WithDB(db)
	return &c
}

// WithClock returns a copy of m reading time from now.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	c := *m
	c.now = now
	return &c
}

func (m *Manager) exchangeFor(o *model.Order) connectors.Exchange {
	if o.IsShadow {
		return m.shadow
	}
	return m.exchange
}

// Reserve locks the order's requested notional and inserts the order in
// one ledger mutation. Shadow orders lock nothing. It fails with
// model.ErrCapitalInsufficient when the strategy cannot cover the order,
// in which case nothing is written.
func (m *Manager) Reserve(ctx context.Context, o *model.Order, reason string) error {
	o.Status = model.OrderStatusPending
	o.OutcomeStatus = model.OutcomeOpen

	_, err := m.strategies.MutateLedger(ctx, o.StrategyID, func(tx *gorm.DB, s *model.Strategy) error {
		o.ID = 0
		o.LockedAmount = decimal.Zero
		if !o.IsShadow {
			if err := ledger.Lock(s, o.SignalSizeUSD); err != nil {
				return err
			}
			o.LockedAmount = o.SignalSizeUSD
		}
		return m.orders.WithDB(tx).CreateWithAutoLog(ctx, o, reason)
	})
	return err
}

// change persists a modified copy of o. mutate edits the copy and may move
// capital on s; both are written only if o still has the status and
// outcome it was loaded with. On success o holds the new state.
func (m *Manager) change(
	ctx context.Context,
	o *model.Order,
	reason string,
	mutate func(tx *gorm.DB, s *model.Strategy, next *model.Order) error,
) error {

	var out model.Order
	_, err := m.strategies.MutateLedger(ctx, o.StrategyID, func(tx *gorm.DB, s *model.Strategy) error {
		next := *o
		next.Logs = nil
		if err := mutate(tx, s, &next); err != nil {
			return err
		}
		next.Reason = truncate(reason, 255)
		if err := m.orders.WithDB(tx).Transition(ctx, &next, o.Status, o.OutcomeStatus, reason); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return err
	}
	*o = out
	return nil
}

// release returns whatever the order still holds to available cash.
func release(s *model.Strategy, next *model.Order) {
	if !next.IsShadow && !next.CapitalReleased {
		ledger.Unlock(s, next.LockedAmount)
	}
	next.LockedAmount = decimal.Zero
	next.CapitalReleased = true
}

// relock moves the order's claim to target. A claim that cannot grow for
// lack of cash keeps its current size; the reconciler settles the rest.
func relock(s *model.Strategy, next *model.Order, target decimal.Decimal) {
	if next.IsShadow {
		return
	}
	current := next.LockedAmount
	if next.CapitalReleased {
		current = decimal.Zero
	}

	diff := target.Sub(current)
	switch {
	case diff.IsNegative():
		ledger.Unlock(s, diff.Neg())
	case diff.IsPositive():
		if err := ledger.Lock(s, diff); err != nil {
			logger.WithFields(map[string]interface{}{
				"order_id":    next.ID,
				"strategy_id": next.StrategyID,
				"target":      target.String(),
			}).WithError(err).Warn("Could not grow order lock")
			target = current
		}
	}
	next.LockedAmount = target
	next.CapitalReleased = !target.IsPositive()
}

// recordExecution stores the exchange's actual fill, which may beat the limit price.
func recordExecution(next *model.Order, fill connectors.OrderFill, now time.Time) {
	price := fill.FillPrice
	if !price.IsPositive() {
		price = next.LimitPrice
	}
	next.ExecutedPrice = price
	next.ExecutedShares = fill.FilledSize
	next.ExecutedSizeUSD = price.Mul(fill.FilledSize).Round(6)
	if next.SignalPrice.IsPositive() {
		next.SlippagePct = price.Sub(next.SignalPrice).Div(next.SignalPrice).Mul(hundred).Round(4)
	}
	if next.Shares.IsPositive() {
		next.FillRate = fill.FilledSize.Div(next.Shares).Round(4)
	}
	if next.FilledAt == nil {
		next.FilledAt = &now
	}
}

// applyFillTo maps the exchange's view of an order onto next. It reports
// false when the fill carries nothing new (order still resting unfilled).
func applyFillTo(s *model.Strategy, next *model.Order, fill connectors.OrderFill, now time.Time) bool {
	changed := false
	if fill.OrderID != "" && fill.OrderID != next.ExchangeOrder {
		next.ExchangeOrder = fill.OrderID
		changed = true
	}
	if next.PlacedAt == nil {
		next.PlacedAt = &now
		changed = true
	}

	switch {
	case fill.Filled() && (fill.Status == connectors.ExchangeStatusMatched || fill.FilledSize.GreaterThanOrEqual(next.Shares)):
		recordExecution(next, fill, now)
		next.Status = model.OrderStatusFilled
		next.OutcomeStatus = model.OutcomeOpen
		relock(s, next, next.ExecutedSizeUSD)
	case fill.Filled():
		recordExecution(next, fill, now)
		next.Status = model.OrderStatusPartial
		next.OutcomeStatus = model.OutcomeOpen
		relock(s, next, next.ExecutedSizeUSD)
	case fill.Status == connectors.ExchangeStatusCancelled:
		release(s, next)
		next.Status = model.OrderStatusCancelled
		next.OutcomeStatus = model.OutcomeCancelled
	case fill.Status == connectors.ExchangeStatusRejected:
		release(s, next)
		next.Status = model.OrderStatusRejected
		next.OutcomeStatus = model.OutcomeCancelled
	default:
		return changed
	}
	return true
}

// applyFill persists fill. A partially filled order has its remainder
// cancelled at the exchange; the lock already covers only what filled.
func (m *Manager) applyFill(ctx context.Context, o *model.Order, fill connectors.OrderFill, reason string) error {
	now := m.now()
	err := m.change(ctx, o, reason, func(_ *gorm.DB, s *model.Strategy, next *model.Order) error {
		if !applyFillTo(s, next, fill, now) {
			return errNoChange
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		return nil
	}
	if err != nil {
		return err
	}

	if o.Status == model.OrderStatusPartial && fill.Status != connectors.ExchangeStatusCancelled && o.ExchangeOrder != "" {
		if cerr := m.exchangeFor(o).CancelOrders(ctx, []string{o.ExchangeOrder}); cerr != nil {
			m.log.WithFields(map[string]interface{}{
				"order_id":          o.ID,
				"exchange_order_id": o.ExchangeOrder,
			}).WithError(cerr).Warn("Failed to cancel remainder of partial fill")
		}
	}
	return nil
}

var errNoChange = errors.New("no change")

func isUnavailable(err error) bool {
	return errors.Is(err, model.ErrExchangeUnavailable)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (m *Manager) capture(ctx context.Context, method string, o *model.Order, err error) {
	audit.Capture(ctx, m.exceptions, "orders", method, "error", o.StrategyID, err, map[string]interface{}{
		"order_id":        o.ID,
		"idempotency_key": o.IdempotencyKey,
		"status":          o.Status,
		"outcome":         o.OutcomeStatus,
	})
}

func wrapOrder(op string, o *model.Order, err error) error {
	return fmt.Errorf("%s order %d: %w", op, o.ID, err)
}
