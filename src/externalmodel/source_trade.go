package externalmodel

import "time"

// SourceTrade is a trade of a followed wallet as stored by the ingestion
// pipeline. Several columns are optional because rows come from different
// upstream APIs; signals.FromSourceTrade normalizes them.
type SourceTrade struct {
	ID               string     `gorm:"primaryKey;column:id" json:"id"`
	ConditionID      string     `gorm:"column:condition_id" json:"condition_id"`
	WalletAddress    string     `gorm:"column:wallet_address" json:"wallet_address"`
	Timestamp        *time.Time `gorm:"column:timestamp" json:"timestamp,omitempty"`
	Side             string     `gorm:"column:side" json:"side"`
	Price            *float64   `gorm:"column:price" json:"price,omitempty"`
	SharesNormalized *float64   `gorm:"column:shares_normalized" json:"shares_normalized,omitempty"`
	Shares           *float64   `gorm:"column:shares" json:"shares,omitempty"`
	UsdcSize         *float64   `gorm:"column:usdc_size" json:"usdc_size,omitempty"`
	TokenLabel       string     `gorm:"column:token_label" json:"token_label"`
	TokenID          string     `gorm:"column:token_id" json:"token_id"`
	TxHash           string     `gorm:"column:tx_hash" json:"tx_hash"`
	OrderHash        string     `gorm:"column:order_hash" json:"order_hash"`
	TraderWinRate    *float64   `gorm:"column:trader_win_rate" json:"trader_win_rate,omitempty"`
}

// TableName Ensures that GORM uses the exact table name from the database.
func (SourceTrade) TableName() string {
	return "trades"
}
