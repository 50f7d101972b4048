package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ltexecutor/src/database"
	"ltexecutor/src/model"
)

// OrderRepository handles read/write operations for orders and their logs.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new repository instance using the main read/write database.
func NewOrderRepository() *OrderRepository {
	logger.WithField("component", "OrderRepository").
		Debug("Creating new OrderRepository with MainDB")

	return &OrderRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// IdempotencyKey derives the submission key of the order copying signalID
// for strategyID. Retried cycles derive the same key.
func IdempotencyKey(strategyID uint, signalID string) string {
	return fmt.Sprintf("lt-%d-%s", strategyID, signalID)
}

// ---------------------------------------------------
// Order methods
// ---------------------------------------------------

// CreateWithAutoLog inserts order and its first log entry. The given order
// is updated with the generated ID and timestamps.
func (r *OrderRepository) CreateWithAutoLog(
	ctx context.Context,
	order *model.Order,
	reason string,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":        "OrderRepository",
		"op":          "CreateWithAutoLog",
		"strategy_id": order.StrategyID,
		"signal_id":   order.SignalID,
		"market":      order.MarketID,
	}).Debug("Creating order with automatic log")

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Logs").Create(order).Error; err != nil {
			logger.WithError(err).Error("Failed to create order inside transaction")
			return err
		}

		if err := tx.Create(model.NewOrderLog(order, reason, time.Now().UTC())).Error; err != nil {
			logger.WithError(err).Error("Failed to create auto order log")
			return err
		}

		return nil
	})
}

// Transition writes every column of order, provided the stored row still
// has status fromStatus and outcome fromOutcome, and appends a log entry.
// It returns model.ErrInvalidTransition when the row moved on, which makes
// each transition (and each capital release) happen at most once.
func (r *OrderRepository) Transition(
	ctx context.Context,
	order *model.Order,
	fromStatus, fromOutcome string,
	reason string,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "Transition",
		"order_id": order.ID,
		"from":     fromStatus + "/" + fromOutcome,
		"to":       order.Status + "/" + order.OutcomeStatus,
		"reason":   reason,
	}).Debug("Updating order with automatic log")

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Order{}).
			Where("id = ? AND status = ? AND outcome = ?", order.ID, fromStatus, fromOutcome).
			Select("*").
			Omit("id", "created_at", "Logs").
			Updates(order)
		if res.Error != nil {
			logger.WithError(res.Error).Error("Failed to update order inside transaction")
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: order %d is no longer %s/%s", model.ErrInvalidTransition, order.ID, fromStatus, fromOutcome)
		}

		if err := tx.Create(model.NewOrderLog(order, reason, time.Now().UTC())).Error; err != nil {
			logger.WithError(err).Error("Failed to create auto order log on update")
			return err
		}
		return nil
	})
}

// FindByID fetches a single order with its logs.
// Returns (nil, nil) if the order is not found.
func (r *OrderRepository) FindByID(
	ctx context.Context,
	id uint,
) (*model.Order, error) {

	var order model.Order

	err := r.db.WithContext(ctx).
		Preload("Logs", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&order, id).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo": "OrderRepository",
				"op":   "FindByID",
				"id":   id,
			}).Info("Order not found")

			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch order by ID")

		return nil, err
	}

	return &order, nil
}

// FindByIdempotencyKey returns (nil, nil) when no order was created for key.
func (r *OrderRepository) FindByIdempotencyKey(
	ctx context.Context,
	key string,
) (*model.Order, error) {

	var order model.Order
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindByIdempotencyKey",
			"key":  key,
		}).WithError(err).Error("Failed to fetch order by idempotency key")
		return nil, err
	}
	return &order, nil
}

// FindByStrategy returns every order of a strategy, oldest first.
func (r *OrderRepository) FindByStrategy(
	ctx context.Context,
	strategyID uint,
) ([]model.Order, error) {

	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("strategy_id = ?", strategyID).
		Order("id ASC").
		Find(&orders).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "OrderRepository",
			"op":          "FindByStrategy",
			"strategy_id": strategyID,
		}).WithError(err).Error("Failed to fetch strategy orders")
		return nil, err
	}
	return orders, nil
}

// FindOpenByStrategy returns the orders of a strategy that still await a
// fill or a market resolution.
func (r *OrderRepository) FindOpenByStrategy(
	ctx context.Context,
	strategyID uint,
) ([]model.Order, error) {

	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("strategy_id = ? AND outcome = ? AND status IN ?", strategyID, model.OutcomeOpen,
			[]string{model.OrderStatusPending, model.OrderStatusFilled, model.OrderStatusPartial}).
		Order("id ASC").
		Find(&orders).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "OrderRepository",
			"op":          "FindOpenByStrategy",
			"strategy_id": strategyID,
		}).WithError(err).Error("Failed to fetch open orders")
		return nil, err
	}
	return orders, nil
}

// FindActivitySince returns the orders of a strategy created, filled or
// resolved at or after since.
func (r *OrderRepository) FindActivitySince(
	ctx context.Context,
	strategyID uint,
	since time.Time,
) ([]model.Order, error) {

	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("strategy_id = ?", strategyID).
		Where("created_at >= ? OR filled_at >= ? OR resolved_at >= ?", since, since, since).
		Order("id ASC").
		Find(&orders).Error
	return orders, err
}

// FindStalePending returns unfilled pending orders resting since before
// cutoff: placed_at when the exchange accepted them, else created_at.
func (r *OrderRepository) FindStalePending(
	ctx context.Context,
	cutoff time.Time,
) ([]model.Order, error) {

	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND outcome = ? AND COALESCE(placed_at, created_at) < ?", model.OrderStatusPending, model.OutcomeOpen, cutoff).
		Order("strategy_id ASC, id ASC").
		Find(&orders).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "OrderRepository",
			"op":     "FindStalePending",
			"cutoff": cutoff,
		}).WithError(err).Error("Failed to fetch stale pending orders")
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "OrderRepository",
		"op":          "FindStalePending",
		"rows_return": len(orders),
	}).Debug("Stale pending orders fetched")

	return orders, nil
}

// FindTimedOutForFollowUp returns rejected submissions whose outcome at the
// exchange is unknown and that were not followed up yet.
func (r *OrderRepository) FindTimedOutForFollowUp(
	ctx context.Context,
	since time.Time,
) ([]model.Order, error) {

	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND submit_timed_out = ? AND followed_up_at IS NULL AND created_at >= ?",
			model.OrderStatusRejected, true, since).
		Order("id ASC").
		Find(&orders).Error
	return orders, err
}

// FindRepairCandidates returns filled orders whose executed price still
// equals the submitted limit price, i.e. where the real fill price may not
// have been recorded.
func (r *OrderRepository) FindRepairCandidates(
	ctx context.Context,
	limit int,
) ([]model.Order, error) {

	if limit <= 0 {
		limit = 100
	}

	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("status IN ? AND executed_price = limit_price AND exchange_order_id <> '' AND is_shadow = ?",
			[]string{model.OrderStatusFilled, model.OrderStatusPartial}, false).
		Order("id ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

// OrderSearchOptions filters Search. Zero values are ignored.
type OrderSearchOptions struct {
	StrategyID    uint
	Status        *string
	Outcome       *string
	MarketID      *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}

// Search lists a strategy's orders, newest first.
func (r *OrderRepository) Search(
	ctx context.Context,
	options OrderSearchOptions,
) ([]model.Order, error) {

	q := r.db.WithContext(ctx).Where("strategy_id = ?", options.StrategyID)

	if options.Status != nil {
		q = q.Where("status = ?", *options.Status)
	}
	if options.Outcome != nil {
		q = q.Where("outcome = ?", *options.Outcome)
	}
	if options.MarketID != nil {
		q = q.Where("market_id = ?", *options.MarketID)
	}
	if options.CreatedAfter != nil {
		q = q.Where("created_at >= ?", *options.CreatedAfter)
	}
	if options.CreatedBefore != nil {
		q = q.Where("created_at <= ?", *options.CreatedBefore)
	}

	q = q.Order("created_at DESC, id DESC")
	if options.Limit > 0 {
		q = q.Limit(options.Limit)
	}
	if options.Offset > 0 {
		q = q.Offset(options.Offset)
	}

	var orders []model.Order
	if err := q.Find(&orders).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "OrderRepository",
			"op":          "Search",
			"strategy_id": options.StrategyID,
		}).WithError(err).Error("Failed to search orders")
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "OrderRepository",
		"op":          "Search",
		"strategy_id": options.StrategyID,
		"rows_return": len(orders),
	}).Debug("Orders searched")

	return orders, nil
}
