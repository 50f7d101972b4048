package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sizing policies understood by the executor.
const (
	SizingFlat        = "FLAT"
	SizingKelly       = "KELLY"
	SizingPassThrough = "PASS_THROUGH"
	SizingPercent     = "PERCENT"
)

// Order types forwarded to the exchange.
const (
	OrderTypeGTC = "GTC"
	OrderTypeFOK = "FOK"
	OrderTypeFAK = "FAK"
)

// Strategy is a capital-bearing copy-trading configuration. Capital fields obey
// AvailableCash + LockedCapital + CooldownCapital == InitialCapital + RealizedPnl.
type Strategy struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	AccountID     uint   `gorm:"not null;index" json:"account_id"`
	WalletAddress string `gorm:"size:100;not null;index" json:"wallet_address"` // followed source
	Name          string `gorm:"size:255;not null" json:"name"`

	InitialCapital  decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0" json:"initial_capital"`
	AvailableCash   decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0" json:"available_cash"`
	LockedCapital   decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0" json:"locked_capital"`
	CooldownCapital decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0" json:"cooldown_capital"`
	RealizedPnl     decimal.Decimal `gorm:"column:realized_pnl;type:numeric(20,6);not null;default:0" json:"realized_pnl"`

	// Risk rules. Percent fields hold percentages (20 means 20%).
	MaxPositionSizeUSD    decimal.Decimal `gorm:"column:max_position_size_usd;type:numeric(20,6)" json:"max_position_size_usd"`
	MaxTotalExposureUSD   decimal.Decimal `gorm:"column:max_total_exposure_usd;type:numeric(20,6)" json:"max_total_exposure_usd"`
	DailyBudgetUSD        decimal.Decimal `gorm:"column:daily_budget_usd;type:numeric(20,6)" json:"daily_budget_usd"`
	MaxDailyLossUSD       decimal.Decimal `gorm:"column:max_daily_loss_usd;type:numeric(20,6)" json:"max_daily_loss_usd"`
	CircuitBreakerLossPct decimal.Decimal `gorm:"type:numeric(10,4)" json:"circuit_breaker_loss_pct"`
	MaxConsecutiveLosses  int             `gorm:"not null;default:0" json:"max_consecutive_losses"`
	MaxSlippagePct        decimal.Decimal `gorm:"type:numeric(10,4)" json:"max_slippage_pct"`
	MaxTradesPerDay       int             `gorm:"not null;default:0" json:"max_trades_per_day"`

	// Execution settings.
	SlippageTolerancePct decimal.Decimal `gorm:"type:numeric(10,4)" json:"slippage_tolerance_pct"`
	OrderType            string          `gorm:"size:10;not null;default:GTC" json:"order_type"`
	MinOrderSizeUSD      decimal.Decimal `gorm:"column:min_order_size_usd;type:numeric(20,6)" json:"min_order_size_usd"`
	MaxOrderSizeUSD      decimal.Decimal `gorm:"column:max_order_size_usd;type:numeric(20,6)" json:"max_order_size_usd"`
	SizingPolicy         string          `gorm:"size:20;not null;default:FLAT" json:"sizing_policy"`
	SizingValue          decimal.Decimal `gorm:"type:numeric(20,6)" json:"sizing_value"`

	IsActive    bool   `gorm:"not null;default:true;index" json:"is_active"`
	IsPaused    bool   `gorm:"not null;default:false" json:"is_paused"`
	PauseReason string `gorm:"size:255" json:"pause_reason,omitempty"`
	ShadowMode  bool   `gorm:"not null;default:false" json:"shadow_mode"`

	// Watermark of the last fully processed signal.
	LastSyncTime          *time.Time `json:"last_sync_time,omitempty"`
	LastProcessedSignalID string     `gorm:"size:100" json:"last_processed_signal_id,omitempty"`

	Version       uint       `gorm:"not null;default:0" json:"version"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (Strategy) TableName() string {
	return "strategies"
}

// Equity is initial capital plus realized P&L.
func (s *Strategy) Equity() decimal.Decimal {
	return s.InitialCapital.Add(s.RealizedPnl)
}

// Watermark returns the strategy's signal ingestion position.
func (s *Strategy) Watermark() Watermark {
	w := Watermark{SignalID: s.LastProcessedSignalID}
	if s.LastSyncTime != nil {
		w.Time = *s.LastSyncTime
	}
	return w
}
