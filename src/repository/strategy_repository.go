package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ltexecutor/src/database"
	"ltexecutor/src/model"
	"ltexecutor/src/risk"
)

// maxLedgerAttempts bounds optimistic retries of MutateLedger.
const maxLedgerAttempts = 5

// Columns written by MutateLedger. Watermark and rule columns have their own writers.
var ledgerColumns = []string{
	"initial_capital", "available_cash", "locked_capital", "cooldown_capital", "realized_pnl",
	"is_paused", "pause_reason", "version", "updated_at",
}

// StrategyRepository persists strategies. Capital fields are only written
// through MutateLedger, which serializes writers with a version check.
type StrategyRepository struct {
	db *gorm.DB
}

// NewStrategyRepository creates a new repository instance using the main read/write database.
func NewStrategyRepository() *StrategyRepository {
	return &StrategyRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *StrategyRepository) WithDB(db *gorm.DB) *StrategyRepository {
	return &StrategyRepository{db: db}
}

// Create inserts s together with its initial risk state. Available cash
// defaults to the initial capital.
func (r *StrategyRepository) Create(ctx context.Context, s *model.Strategy) error {
	if s.AvailableCash.IsZero() && s.LockedCapital.IsZero() {
		s.AvailableCash = s.InitialCapital
	}
	s.IsActive = true

	logger.WithFields(map[string]interface{}{
		"repo":    "StrategyRepository",
		"op":      "Create",
		"wallet":  s.WalletAddress,
		"capital": s.InitialCapital.String(),
	}).Debug("Creating strategy")

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(s).Error; err != nil {
			logger.WithError(err).Error("Failed to create strategy inside transaction")
			return err
		}
		state := risk.NewState(s)
		if err := tx.Create(&state).Error; err != nil {
			logger.WithError(err).Error("Failed to create risk state inside transaction")
			return err
		}
		return nil
	})
}

// FindByID returns model.ErrStrategyNotFound when no strategy has id.
func (r *StrategyRepository) FindByID(ctx context.Context, id uint) (*model.Strategy, error) {
	var s model.Strategy
	err := r.db.WithContext(ctx).First(&s, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id %d", model.ErrStrategyNotFound, id)
		}
		logger.WithFields(map[string]interface{}{
			"repo": "StrategyRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch strategy")
		return nil, err
	}
	return &s, nil
}

// FindActive lists active strategies ordered by id. Paused strategies are
// included only when includePaused is set.
func (r *StrategyRepository) FindActive(ctx context.Context, includePaused bool) ([]model.Strategy, error) {
	q := r.db.WithContext(ctx).Where("is_active = ?", true)
	if !includePaused {
		q = q.Where("is_paused = ?", false)
	}

	var strategies []model.Strategy
	if err := q.Order("id ASC").Find(&strategies).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":          "StrategyRepository",
			"op":            "FindActive",
			"includePaused": includePaused,
		}).WithError(err).Error("Failed to fetch active strategies")
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "StrategyRepository",
		"op":          "FindActive",
		"rows_return": len(strategies),
	}).Debug("Active strategies fetched")

	return strategies, nil
}

// MutateLedger loads the strategy inside a transaction, hands it to fn and
// writes the ledger columns back only if nobody else changed the row since
// it was read. fn may write other rows through tx; they commit or roll back
// with the ledger. A lost race is retried with fresh state; an error from
// fn aborts without retry.
func (r *StrategyRepository) MutateLedger(
	ctx context.Context,
	id uint,
	fn func(tx *gorm.DB, s *model.Strategy) error,
) (*model.Strategy, error) {

	var result *model.Strategy
	for attempt := 1; attempt <= maxLedgerAttempts; attempt++ {
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var s model.Strategy
			if err := tx.First(&s, id).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: id %d", model.ErrStrategyNotFound, id)
				}
				return err
			}

			if err := fn(tx, &s); err != nil {
				return err
			}

			prev := s.Version
			s.Version = prev + 1
			s.UpdatedAt = time.Now().UTC()
			res := tx.Model(&model.Strategy{}).
				Where("id = ? AND version = ?", s.ID, prev).
				Select(ledgerColumns).
				Updates(&s)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return model.ErrConcurrentUpdate
			}
			result = &s
			return nil
		})

		if err == nil {
			return result, nil
		}
		if !errors.Is(err, model.ErrConcurrentUpdate) {
			return nil, err
		}

		logger.WithFields(map[string]interface{}{
			"repo":        "StrategyRepository",
			"op":          "MutateLedger",
			"strategy_id": id,
			"attempt":     attempt,
		}).Warn("Ledger version changed underneath, retrying")
	}

	return nil, fmt.Errorf("strategy %d: %w after %d attempts", id, model.ErrConcurrentUpdate, maxLedgerAttempts)
}

// AdvanceWatermark records the last fully processed signal. It never moves
// the watermark backwards.
func (r *StrategyRepository) AdvanceWatermark(ctx context.Context, id uint, sig model.Signal) error {
	var s model.Strategy
	if err := r.db.WithContext(ctx).Select("id", "last_sync_time", "last_processed_signal_id").First(&s, id).Error; err != nil {
		return err
	}
	if !s.Watermark().After(sig) {
		return nil
	}

	ts := sig.Timestamp.UTC()
	err := r.db.WithContext(ctx).
		Model(&model.Strategy{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_sync_time":           ts,
			"last_processed_signal_id": sig.ID,
		}).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "StrategyRepository",
			"op":          "AdvanceWatermark",
			"strategy_id": id,
			"signal_id":   sig.ID,
		}).WithError(err).Error("Failed to advance watermark")
	}
	return err
}

// RiskRulesUpdate carries the thresholds an operator may change. Nil fields
// are left untouched.
type RiskRulesUpdate struct {
	MaxPositionSizeUSD    *string `json:"max_position_size_usd"`
	MaxTotalExposureUSD   *string `json:"max_total_exposure_usd"`
	DailyBudgetUSD        *string `json:"daily_budget_usd"`
	MaxDailyLossUSD       *string `json:"max_daily_loss_usd"`
	CircuitBreakerLossPct *string `json:"circuit_breaker_loss_pct"`
	MaxConsecutiveLosses  *int    `json:"max_consecutive_losses"`
	MaxSlippagePct        *string `json:"max_slippage_pct"`
	MaxTradesPerDay       *int    `json:"max_trades_per_day"`
	SlippageTolerancePct  *string `json:"slippage_tolerance_pct"`
	MinOrderSizeUSD       *string `json:"min_order_size_usd"`
	MaxOrderSizeUSD       *string `json:"max_order_size_usd"`
	ShadowMode            *bool   `json:"shadow_mode"`
}

// UpdateRiskRules writes the given thresholds. Decimal values must parse.
func (r *StrategyRepository) UpdateRiskRules(ctx context.Context, id uint, u RiskRulesUpdate) (*model.Strategy, error) {
	updates, err := u.columns()
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return r.FindByID(ctx, id)
	}

	res := r.db.WithContext(ctx).Model(&model.Strategy{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: id %d", model.ErrStrategyNotFound, id)
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "StrategyRepository",
		"op":          "UpdateRiskRules",
		"strategy_id": id,
		"columns":     len(updates),
	}).Info("Risk rules updated")

	return r.FindByID(ctx, id)
}

// Deactivate soft-deletes a strategy; its rows and orders are kept.
func (r *StrategyRepository) Deactivate(ctx context.Context, id uint, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&model.Strategy{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]interface{}{
			"is_active":      false,
			"deactivated_at": at.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: no active strategy %d", model.ErrStrategyNotFound, id)
	}
	return nil
}

// Pause halts a strategy manually. The circuit breaker flag is untouched.
func (r *StrategyRepository) Pause(ctx context.Context, id uint, reason string) (*model.Strategy, error) {
	if reason == "" {
		reason = "paused by operator"
	}
	return r.MutateLedger(ctx, id, func(_ *gorm.DB, s *model.Strategy) error {
		risk.Pause(s, reason)
		return nil
	})
}

// Resume clears the pause and the circuit breaker together.
func (r *StrategyRepository) Resume(ctx context.Context, id uint, now time.Time) (*model.Strategy, error) {
	return r.MutateLedger(ctx, id, func(tx *gorm.DB, s *model.Strategy) error {
		states := NewRiskStateRepository().WithDB(tx)
		state, err := states.Get(ctx, s)
		if err != nil {
			return err
		}
		risk.Resume(&state, s, now.UTC())
		return states.Save(ctx, &state)
	})
}

// RiskStateRepository persists the 1:1 risk state of a strategy.
type RiskStateRepository struct {
	db *gorm.DB
}

// NewRiskStateRepository creates a new repository instance using the main read/write database.
func NewRiskStateRepository() *RiskStateRepository {
	return &RiskStateRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *RiskStateRepository) WithDB(db *gorm.DB) *RiskStateRepository {
	return &RiskStateRepository{db: db}
}

// Get returns the stored state of s, or a fresh one when none was saved yet.
func (r *RiskStateRepository) Get(ctx context.Context, s *model.Strategy) (model.RiskState, error) {
	var state model.RiskState
	err := r.db.WithContext(ctx).First(&state, "strategy_id = ?", s.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return risk.NewState(s), nil
	}
	return state, err
}

// Save upserts state.
func (r *RiskStateRepository) Save(ctx context.Context, state *model.RiskState) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(state).Error
}

// ApplyTo validates u and copies the given thresholds onto s, for a
// strategy that is not stored yet. s is untouched when u is invalid.
func (u RiskRulesUpdate) ApplyTo(s *model.Strategy) error {
	cols, err := u.columns()
	if err != nil {
		return err
	}
	for column, v := range cols {
		switch column {
		case "max_position_size_usd":
			s.MaxPositionSizeUSD = v.(decimal.Decimal)
		case "max_total_exposure_usd":
			s.MaxTotalExposureUSD = v.(decimal.Decimal)
		case "daily_budget_usd":
			s.DailyBudgetUSD = v.(decimal.Decimal)
		case "max_daily_loss_usd":
			s.MaxDailyLossUSD = v.(decimal.Decimal)
		case "circuit_breaker_loss_pct":
			s.CircuitBreakerLossPct = v.(decimal.Decimal)
		case "max_slippage_pct":
			s.MaxSlippagePct = v.(decimal.Decimal)
		case "slippage_tolerance_pct":
			s.SlippageTolerancePct = v.(decimal.Decimal)
		case "min_order_size_usd":
			s.MinOrderSizeUSD = v.(decimal.Decimal)
		case "max_order_size_usd":
			s.MaxOrderSizeUSD = v.(decimal.Decimal)
		case "max_consecutive_losses":
			s.MaxConsecutiveLosses = v.(int)
		case "max_trades_per_day":
			s.MaxTradesPerDay = v.(int)
		case "shadow_mode":
			s.ShadowMode = v.(bool)
		}
	}
	return nil
}

func (u RiskRulesUpdate) columns() (map[string]interface{}, error) {
	cols := map[string]interface{}{}
	decimals := []struct {
		column string
		value  *string
	}{
		{"max_position_size_usd", u.MaxPositionSizeUSD},
		{"max_total_exposure_usd", u.MaxTotalExposureUSD},
		{"daily_budget_usd", u.DailyBudgetUSD},
		{"max_daily_loss_usd", u.MaxDailyLossUSD},
		{"circuit_breaker_loss_pct", u.CircuitBreakerLossPct},
		{"max_slippage_pct", u.MaxSlippagePct},
		{"slippage_tolerance_pct", u.SlippageTolerancePct},
		{"min_order_size_usd", u.MinOrderSizeUSD},
		{"max_order_size_usd", u.MaxOrderSizeUSD},
	}
	for _, d := range decimals {
		if d.value == nil {
			continue
		}
		v, err := decimal.NewFromString(*d.value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", model.ErrValidation, d.column, err)
		}
		if v.IsNegative() {
			return nil, fmt.Errorf("%w: %s must not be negative", model.ErrValidation, d.column)
		}
		cols[d.column] = v
	}
	if u.MaxConsecutiveLosses != nil {
		if *u.MaxConsecutiveLosses < 0 {
			return nil, fmt.Errorf("%w: max_consecutive_losses must not be negative", model.ErrValidation)
		}
		cols["max_consecutive_losses"] = *u.MaxConsecutiveLosses
	}
	if u.MaxTradesPerDay != nil {
		if *u.MaxTradesPerDay < 0 {
			return nil, fmt.Errorf("%w: max_trades_per_day must not be negative", model.ErrValidation)
		}
		cols["max_trades_per_day"] = *u.MaxTradesPerDay
	}
	if u.ShadowMode != nil {
		cols["shadow_mode"] = *u.ShadowMode
	}
	return cols, nil
}
