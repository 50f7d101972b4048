package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DriftKindLedger   = "LEDGER"
	DriftKindSelfHeal = "SELF_HEAL"
)

// DriftCorrection is the audit record of a reconciler overwrite.
type DriftCorrection struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	StrategyID uint   `gorm:"not null;index" json:"strategy_id"`
	Kind       string `gorm:"size:20;not null" json:"kind"`

	AvailableBefore decimal.Decimal `gorm:"type:numeric(20,6)" json:"available_before"`
	AvailableAfter  decimal.Decimal `gorm:"type:numeric(20,6)" json:"available_after"`
	LockedBefore    decimal.Decimal `gorm:"type:numeric(20,6)" json:"locked_before"`
	LockedAfter     decimal.Decimal `gorm:"type:numeric(20,6)" json:"locked_after"`
	RealizedBefore  decimal.Decimal `gorm:"type:numeric(20,6)" json:"realized_before"`
	RealizedAfter   decimal.Decimal `gorm:"type:numeric(20,6)" json:"realized_after"`
	InitialBefore   decimal.Decimal `gorm:"type:numeric(20,6)" json:"initial_before"`
	InitialAfter    decimal.Decimal `gorm:"type:numeric(20,6)" json:"initial_after"`
	Magnitude       decimal.Decimal `gorm:"type:numeric(20,6)" json:"magnitude"`

	CreatedAt time.Time `json:"created_at"`
}

func (DriftCorrection) TableName() string {
	return "drift_corrections"
}
