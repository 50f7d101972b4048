package connectors

import (
	"context"

	"github.com/shopspring/decimal"
)

// Order states reported by the exchange.
const (
	ExchangeStatusLive      = "LIVE"
	ExchangeStatusMatched   = "MATCHED"
	ExchangeStatusPartial   = "PARTIAL"
	ExchangeStatusCancelled = "CANCELLED"
	ExchangeStatusRejected  = "REJECTED"
)

// PlaceOrderRequest is a limit order for Size shares of one outcome.
type PlaceOrderRequest struct {
	MarketID       string
	Outcome        string
	Side           string
	Price          decimal.Decimal
	Size           decimal.Decimal
	OrderType      string
	IdempotencyKey string
}

// OrderFill is the exchange's view of an order. FillPrice is the average
// price actually matched, which may beat the submitted limit.
type OrderFill struct {
	OrderID    string
	Status     string
	FillPrice  decimal.Decimal
	FilledSize decimal.Decimal
}

// Filled reports whether any size matched.
func (f OrderFill) Filled() bool {
	return f.FilledSize.IsPositive()
}

// Resolution of a market. WinningOutcome is empty when the market resolved
// without a usable outcome (void or ambiguous).
type Resolution struct {
	Resolved       bool
	WinningOutcome string
}

// Exchange places and tracks orders. Errors wrap model.ErrExchange for
// per-order failures and model.ErrExchangeUnavailable when the exchange
// cannot be reached at all; ErrTimeout marks submissions whose fate is unknown.
type Exchange interface {
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (OrderFill, error)
	CancelOrders(ctx context.Context, orderIDs []string) error
	GetOrderFill(ctx context.Context, orderID string) (OrderFill, error)
	// FindByClientID looks an order up by its idempotency key; nil when the
	// exchange never accepted it.
	FindByClientID(ctx context.Context, idempotencyKey string) (*OrderFill, error)
}

// MarketData reads prices and resolutions.
type MarketData interface {
	GetCurrentPrice(ctx context.Context, marketID, outcome string) (decimal.Decimal, error)
	GetResolution(ctx context.Context, marketID string) (Resolution, error)
}
