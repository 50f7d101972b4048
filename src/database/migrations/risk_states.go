package migrations

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ltexecutor/src/model"
	"ltexecutor/src/risk"
)

// SeedRiskStates creates the missing risk state of every strategy, with
// peak equity starting at the strategy's current equity.
func SeedRiskStates(db *gorm.DB) error {
	var strategies []model.Strategy
	if err := db.
		Where("id NOT IN (?)", db.Model(&model.RiskState{}).Select("strategy_id")).
		Find(&strategies).Error; err != nil {
		return fmt.Errorf("find strategies without risk state: %w", err)
	}

	for i := range strategies {
		state := risk.NewState(&strategies[i])
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&state).Error; err != nil {
			return fmt.Errorf("seed risk state for strategy %d: %w", strategies[i].ID, err)
		}
	}
	return nil
}

// closeOutcomeOfTerminalOrders fixes rows written before rejected and
// cancelled orders carried a CANCELLED outcome.
func closeOutcomeOfTerminalOrders(db *gorm.DB) error {
	return db.Model(&model.Order{}).
		Where("status IN ? AND outcome = ?", []string{model.OrderStatusRejected, model.OrderStatusCancelled}, model.OutcomeOpen).
		Update("outcome", model.OutcomeCancelled).Error
}
