package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ltexecutor/src/database"
	"ltexecutor/src/model"
)

// DriftCorrectionRepository stores the audit trail of reconciler overwrites.
type DriftCorrectionRepository struct {
	db *gorm.DB
}

func NewDriftCorrectionRepository() *DriftCorrectionRepository {
	return &DriftCorrectionRepository{db: database.MainDB}
}

func (r *DriftCorrectionRepository) WithDB(db *gorm.DB) *DriftCorrectionRepository {
	return &DriftCorrectionRepository{db: db}
}

func (r *DriftCorrectionRepository) Create(ctx context.Context, c *model.DriftCorrection) error {
	logger.WithFields(map[string]interface{}{
		"repo":        "DriftCorrectionRepository",
		"op":          "Create",
		"strategy_id": c.StrategyID,
		"kind":        c.Kind,
		"magnitude":   c.Magnitude.String(),
	}).Warn("Recording drift correction")

	return r.db.WithContext(ctx).Create(c).Error
}

func (r *DriftCorrectionRepository) FindByStrategy(ctx context.Context, strategyID uint) ([]model.DriftCorrection, error) {
	var out []model.DriftCorrection
	err := r.db.WithContext(ctx).
		Where("strategy_id = ?", strategyID).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// TransactionLogRepository stores per-signal executor decisions.
type TransactionLogRepository struct {
	db *gorm.DB
}

func NewTransactionLogRepository() *TransactionLogRepository {
	return &TransactionLogRepository{db: database.MainDB}
}

func (r *TransactionLogRepository) WithDB(db *gorm.DB) *TransactionLogRepository {
	return &TransactionLogRepository{db: db}
}

func (r *TransactionLogRepository) Create(ctx context.Context, l *model.TransactionLog) error {
	return r.db.WithContext(ctx).Create(l).Error
}

// FindByStrategy returns the latest decisions of a strategy, newest first.
func (r *TransactionLogRepository) FindByStrategy(ctx context.Context, strategyID uint, limit int) ([]model.TransactionLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []model.TransactionLog
	err := r.db.WithContext(ctx).
		Where("strategy_id = ?", strategyID).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
