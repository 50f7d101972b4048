package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Exchange-facing order status.
const (
	OrderStatusPending   = "PENDING"
	OrderStatusFilled    = "FILLED"
	OrderStatusPartial   = "PARTIAL"
	OrderStatusRejected  = "REJECTED"
	OrderStatusCancelled = "CANCELLED"
)

// Market-facing order outcome.
const (
	OutcomeOpen      = "OPEN"
	OutcomeWon       = "WON"
	OutcomeLost      = "LOST"
	OutcomeCancelled = "CANCELLED"
)

// Order is one placed (or attempted) exchange order derived from a Signal.
//
// LockedAmount is the capital the order currently claims from its strategy.
// CapitalReleased flips to true exactly once, when the remaining claim is
// returned on resolution, rejection or cancellation.
type Order struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	StrategyID     uint   `gorm:"not null;index:idx_orders_strategy_status" json:"strategy_id"`
	SignalID       string `gorm:"size:100;not null" json:"signal_id"`
	IdempotencyKey string `gorm:"size:120;not null;uniqueIndex" json:"idempotency_key"`
	ExchangeOrder  string `gorm:"column:exchange_order_id;size:255;index" json:"exchange_order_id,omitempty"`

	MarketID  string `gorm:"size:120;not null;index" json:"market_id"`
	Outcome   string `gorm:"column:outcome_label;size:60;not null" json:"outcome_label"`
	Side      string `gorm:"size:10;not null" json:"side"`
	OrderType string `gorm:"size:10;not null" json:"order_type"`

	SignalPrice   decimal.Decimal `gorm:"type:numeric(20,6)" json:"signal_price"`
	SignalSizeUSD decimal.Decimal `gorm:"column:signal_size_usd;type:numeric(20,6)" json:"signal_size_usd"` // requested notional
	LimitPrice    decimal.Decimal `gorm:"type:numeric(20,6)" json:"limit_price"`
	Shares        decimal.Decimal `gorm:"type:numeric(20,6)" json:"shares"` // requested shares

	ExecutedPrice   decimal.Decimal `gorm:"type:numeric(20,6)" json:"executed_price"`
	ExecutedShares  decimal.Decimal `gorm:"type:numeric(20,6)" json:"executed_shares"`
	ExecutedSizeUSD decimal.Decimal `gorm:"column:executed_size_usd;type:numeric(20,6)" json:"executed_size_usd"`
	SlippagePct     decimal.Decimal `gorm:"type:numeric(10,4)" json:"slippage_pct"`
	FillRate        decimal.Decimal `gorm:"type:numeric(10,4)" json:"fill_rate"`

	Status        string          `gorm:"size:20;not null;default:PENDING;index:idx_orders_strategy_status" json:"status"`
	OutcomeStatus string          `gorm:"column:outcome;size:20;not null;default:OPEN;index" json:"outcome"`
	RealizedPnl   decimal.Decimal `gorm:"column:realized_pnl;type:numeric(20,6)" json:"realized_pnl"`
	// ResolutionApproximated marks P&L valued at the last observed price
	// because the market resolved without a usable winning outcome.
	ResolutionApproximated bool   `gorm:"not null;default:false" json:"resolution_approximated"`
	Reason                 string `gorm:"size:255" json:"reason,omitempty"`

	LockedAmount    decimal.Decimal `gorm:"type:numeric(20,6)" json:"locked_amount"`
	CapitalReleased bool            `gorm:"not null;default:false" json:"capital_released"`
	IsShadow        bool            `gorm:"not null;default:false" json:"is_shadow"`
	SubmitTimedOut  bool            `gorm:"not null;default:false" json:"submit_timed_out"`
	FollowedUpAt    *time.Time      `json:"followed_up_at,omitempty"`

	PlacedAt   *time.Time `gorm:"index" json:"placed_at,omitempty"`
	FilledAt   *time.Time `json:"filled_at,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	Logs []OrderLog `gorm:"foreignKey:OrderID" json:"order_logs,omitempty"`
}

// TableName allows you to control the exact table name for orders.
func (Order) TableName() string {
	return "orders"
}

// IsTerminal reports whether no further transition is possible.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusRejected, OrderStatusCancelled:
		return true
	}
	return o.OutcomeStatus != "" && o.OutcomeStatus != OutcomeOpen
}

// IsResolved reports whether the order's market outcome is settled as a win or loss.
func (o *Order) IsResolved() bool {
	return o.OutcomeStatus == OutcomeWon || o.OutcomeStatus == OutcomeLost
}

// CommittedCapital is the capital an open order should hold: the requested
// notional while pending, the executed notional once (partially) filled.
func (o *Order) CommittedCapital() decimal.Decimal {
	if o.IsShadow || o.IsTerminal() {
		return decimal.Zero
	}
	if o.Status == OrderStatusFilled || o.Status == OrderStatusPartial {
		return o.ExecutedSizeUSD
	}
	return o.SignalSizeUSD
}

// OrderLog snapshots an order at each status transition.
type OrderLog struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	OrderID uint   `gorm:"index" json:"order_id"`
	Order   *Order `gorm:"constraint:OnDelete:CASCADE" json:"order,omitempty"`

	Status         string          `gorm:"size:20;not null" json:"status"`
	Outcome        string          `gorm:"size:20" json:"outcome"`
	ExecutedPrice  decimal.Decimal `gorm:"type:numeric(20,6)" json:"executed_price"`
	ExecutedShares decimal.Decimal `gorm:"type:numeric(20,6)" json:"executed_shares"`
	LockedAmount   decimal.Decimal `gorm:"type:numeric(20,6)" json:"locked_amount"`
	Reason         string          `gorm:"size:255" json:"reason"`
	CreatedAt      time.Time       `json:"created_at"`
}

// TableName allows you to control the exact table name for orders.
func (OrderLog) TableName() string {
	return "order_logs"
}

// NewOrderLog snapshots o with the given reason.
func NewOrderLog(o *Order, reason string, at time.Time) *OrderLog {
	return &OrderLog{
		OrderID:        o.ID,
		Status:         o.Status,
		Outcome:        o.OutcomeStatus,
		ExecutedPrice:  o.ExecutedPrice,
		ExecutedShares: o.ExecutedShares,
		LockedAmount:   o.LockedAmount,
		Reason:         reason,
		CreatedAt:      at,
	}
}
