package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ltexecutor/src/database"
	"ltexecutor/src/model"
)

// ExceptionRepository handles persistence of system exceptions.
type ExceptionRepository struct {
	db *gorm.DB
}

// NewExceptionRepository creates a new repository instance.
func NewExceptionRepository() *ExceptionRepository {
	return &ExceptionRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *ExceptionRepository) WithDB(db *gorm.DB) *ExceptionRepository {
	return &ExceptionRepository{db: db}
}

// Create persists a new exception in the database.
func (r *ExceptionRepository) Create(
	ctx context.Context,
	exc *model.Exception,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":        "ExceptionRepository",
		"op":          "Create",
		"module":      exc.Module,
		"method":      exc.Method,
		"level":       exc.Level,
		"strategy_id": exc.StrategyID,
	}).Debug("Persisting system exception")

	return r.db.WithContext(ctx).Create(exc).Error
}

// FindRecent lists the latest exceptions, newest first. A zero strategyID
// returns exceptions of every strategy and of none.
func (r *ExceptionRepository) FindRecent(
	ctx context.Context,
	strategyID uint,
	limit int,
) ([]model.Exception, error) {

	if limit <= 0 {
		limit = 50
	}

	q := r.db.WithContext(ctx)
	if strategyID != 0 {
		q = q.Where("strategy_id = ?", strategyID)
	}

	var out []model.Exception
	err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&out).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "ExceptionRepository",
			"op":          "FindRecent",
			"strategy_id": strategyID,
		}).WithError(err).Error("Failed to fetch exceptions")
		return nil, err
	}
	return out, nil
}
