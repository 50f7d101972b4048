package model

import "time"

const (
	DecisionAccepted = "ACCEPTED"
	DecisionRejected = "REJECTED"
	DecisionSkipped  = "SKIPPED"
)

// TransactionLog records what the executor decided for a signal, with the
// reason code surfaced to the admin interface.
type TransactionLog struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	StrategyID uint           `gorm:"not null;index" json:"strategy_id"`
	SignalID   string         `gorm:"size:100;index" json:"signal_id"`
	OrderID    *uint          `gorm:"index" json:"order_id,omitempty"`
	CycleID    string         `gorm:"size:36;index" json:"cycle_id,omitempty"`
	Decision   string         `gorm:"size:20;not null" json:"decision"`
	Reason     string         `gorm:"size:40" json:"reason,omitempty"`
	Level      string         `gorm:"size:20;not null" json:"level"`
	Message    string         `gorm:"size:1024;not null" json:"message"`
	Metadata   map[string]any `gorm:"serializer:json" json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
