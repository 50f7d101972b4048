package connectors

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// DryRunExchange fills every order immediately at its limit price without
// touching a real exchange. It backs shadow strategies and EXCHANGE_DRY_RUN.
// Orders are keyed by idempotency key, so a resubmission returns the
// original fill.
type DryRunExchange struct {
	mu     sync.Mutex
	byKey  map[string]OrderFill
	byID   map[string]OrderFill
	nextID int
}

func NewDryRunExchange() *DryRunExchange {
	return &DryRunExchange{
		byKey: map[string]OrderFill{},
		byID:  map[string]OrderFill{},
	}
}

func (d *DryRunExchange) PlaceOrder(_ context.Context, r PlaceOrderRequest) (OrderFill, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if f, ok := d.byKey[r.IdempotencyKey]; ok {
		return f, nil
	}
	if !r.Price.IsPositive() || !r.Size.IsPositive() {
		return OrderFill{}, &ExchangeError{HTTPStatus: 400, Code: "INVALID_ORDER_ERROR", Message: "price and size must be positive"}
	}

	d.nextID++
	f := OrderFill{
		OrderID:    fmt.Sprintf("dry-%d", d.nextID),
		Status:     ExchangeStatusMatched,
		FillPrice:  r.Price,
		FilledSize: r.Size,
	}
	d.byKey[r.IdempotencyKey] = f
	d.byID[f.OrderID] = f

	logger.WithFields(map[string]interface{}{
		"connector": "dry-run",
		"market":    r.MarketID,
		"price":     r.Price.String(),
		"size":      r.Size.String(),
	}).Debug("Simulated fill")

	return f, nil
}

func (d *DryRunExchange) CancelOrders(_ context.Context, orderIDs []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range orderIDs {
		if f, ok := d.byID[id]; ok && !f.Filled() {
			f.Status = ExchangeStatusCancelled
			d.byID[id] = f
		}
	}
	return nil
}

func (d *DryRunExchange) GetOrderFill(_ context.Context, orderID string) (OrderFill, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f, ok := d.byID[orderID]; ok {
		return f, nil
	}
	return OrderFill{}, &ExchangeError{HTTPStatus: 404, Code: "ORDER_NOT_FOUND", Message: GetErrorMsg("ORDER_NOT_FOUND")}
}

func (d *DryRunExchange) FindByClientID(_ context.Context, key string) (*OrderFill, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f, ok := d.byKey[key]; ok {
		return &f, nil
	}
	return nil, nil
}

// StaticMarketData serves fixed prices and resolutions, used with the
// dry-run exchange and in tests.
type StaticMarketData struct {
	mu          sync.Mutex
	Prices      map[string]decimal.Decimal // key: market + "/" + outcome
	Resolutions map[string]Resolution
}

func NewStaticMarketData() *StaticMarketData {
	return &StaticMarketData{
		Prices:      map[string]decimal.Decimal{},
		Resolutions: map[string]Resolution{},
	}
}

func (m *StaticMarketData) SetPrice(marketID, outcome string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prices[marketID+"/"+outcome] = price
}

func (m *StaticMarketData) Resolve(marketID, winner string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Resolutions[marketID] = Resolution{Resolved: true, WinningOutcome: winner}
}

func (m *StaticMarketData) GetCurrentPrice(_ context.Context, marketID, outcome string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Prices[marketID+"/"+outcome], nil
}

func (m *StaticMarketData) GetResolution(_ context.Context, marketID string) (Resolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Resolutions[marketID], nil
}
