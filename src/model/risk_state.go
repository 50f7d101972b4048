package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskState is the per-strategy circuit-breaker bookkeeping, recomputed after
// every order resolution.
type RiskState struct {
	StrategyID           uint            `gorm:"primaryKey;autoIncrement:false" json:"strategy_id"`
	PeakEquity           decimal.Decimal `gorm:"type:numeric(20,6)" json:"peak_equity"`
	CurrentEquity        decimal.Decimal `gorm:"type:numeric(20,6)" json:"current_equity"`
	CurrentDrawdownPct   decimal.Decimal `gorm:"type:numeric(10,4)" json:"current_drawdown_pct"`
	ConsecutiveLosses    int             `gorm:"not null;default:0" json:"consecutive_losses"`
	CircuitBreakerActive bool            `gorm:"not null;default:false" json:"circuit_breaker_active"`
	TripReason           string          `gorm:"size:255" json:"trip_reason,omitempty"`
	TrippedAt            *time.Time      `json:"tripped_at,omitempty"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

func (RiskState) TableName() string {
	return "risk_states"
}
