// Package reconciler recomputes each strategy's ledger from its order
// history and overwrites drifted values, leaving an audit record for every
// overwrite.
package reconciler

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ltexecutor/src/ledger"
	"ltexecutor/src/model"
	"ltexecutor/src/repository"
)

var errNoDrift = errors.New("no drift")

type Reconciler struct {
	cfg        Config
	strategies *repository.StrategyRepository
	orders     *repository.OrderRepository
	drift      *repository.DriftCorrectionRepository
	cycles     *repository.CycleRunRepository
	now        func() time.Time
	log        *logger.Entry
}

func New(cfg Config) *Reconciler {
	return &Reconciler{
		cfg:        cfg,
		strategies: repository.NewStrategyRepository(),
		orders:     repository.NewOrderRepository(),
		drift:      repository.NewDriftCorrectionRepository(),
		cycles:     repository.NewCycleRunRepository(),
		now:        func() time.Time { return time.Now().UTC() },
		log:        logger.WithField("component", "reconciler"),
	}
}

// WithDB returns a copy of r using db.
func (r *Reconciler) WithDB(db *gorm.DB) *Reconciler {
	c := *r
	c.strategies = r.strategies.WithDB(db)
	c.orders = r.orders.WithDB(db)
	c.drift = r.drift.WithDB(db)
	c.cycles = r.cycles.WithDB(db)
	return &c
}

// Result summarizes a reconciliation run.
type Result struct {
	Strategies  int                     `json:"strategies"`
	Corrections []model.DriftCorrection `json:"corrections"`
	Failed      int                     `json:"failed"`
}

// Run reconciles every active strategy, paused ones included. Overlapping
// runs are refused with model.ErrCycleInProgress.
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	var result Result

	run, err := r.cycles.Begin(ctx, model.JobReconciler, 0, r.cfg.StaleAfter, r.now())
	if err != nil {
		return result, err
	}

	strategies, err := r.strategies.FindActive(ctx, true)
	if err == nil {
		result.Strategies = len(strategies)
		for _, s := range strategies {
			c, rerr := r.ReconcileStrategy(ctx, s.ID)
			if rerr != nil {
				r.log.WithField("strategy_id", s.ID).WithError(rerr).Error("Reconciliation failed")
				result.Failed++
				continue
			}
			if c != nil {
				result.Corrections = append(result.Corrections, *c)
			}
		}
	}

	status, reason := model.CycleStatusSucceeded, ""
	if err != nil {
		status, reason = model.CycleStatusFailed, err.Error()
	}
	if ferr := r.cycles.Finish(context.WithoutCancel(ctx), run, status, reason, result.Strategies, r.now()); ferr != nil {
		r.log.WithError(ferr).Error("Failed to finish reconciler run")
	}
	return result, err
}

// ReconcileStrategy recomputes one strategy's ledger. It returns the
// correction written, or nil when the ledger was within epsilon.
func (r *Reconciler) ReconcileStrategy(ctx context.Context, strategyID uint) (*model.DriftCorrection, error) {
	var record *model.DriftCorrection

	_, err := r.strategies.MutateLedger(ctx, strategyID, func(tx *gorm.DB, s *model.Strategy) error {
		record = nil
		orders, err := r.orders.WithDB(tx).FindByStrategy(ctx, s.ID)
		if err != nil {
			return err
		}

		c, drifted := ledger.Reconcile(s, ledger.Recompute(s, orders), r.cfg.Epsilon)
		if !drifted {
			return errNoDrift
		}

		record = correctionRecord(s.ID, c)
		return r.drift.WithDB(tx).Create(ctx, record)
	})
	if errors.Is(err, errNoDrift) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	fields := map[string]interface{}{
		"strategy_id":      strategyID,
		"magnitude":        record.Magnitude.String(),
		"available_before": record.AvailableBefore.String(),
		"available_after":  record.AvailableAfter.String(),
		"locked_before":    record.LockedBefore.String(),
		"locked_after":     record.LockedAfter.String(),
	}
	if record.Kind == model.DriftKindSelfHeal {
		// Raising initial capital hides the cause of the drift.
		r.log.WithFields(fields).WithField("initial_after", record.InitialAfter.String()).
			Warn("Negative available cash self-healed by raising initial capital")
	} else {
		r.log.WithFields(fields).Warn("Ledger drift corrected")
	}
	return record, nil
}

func correctionRecord(strategyID uint, c ledger.Correction) *model.DriftCorrection {
	kind := model.DriftKindLedger
	if c.SelfHealed {
		kind = model.DriftKindSelfHeal
	}
	return &model.DriftCorrection{
		StrategyID:      strategyID,
		Kind:            kind,
		AvailableBefore: c.Before.AvailableCash,
		AvailableAfter:  c.After.AvailableCash,
		LockedBefore:    c.Before.LockedCapital,
		LockedAfter:     c.After.LockedCapital,
		RealizedBefore:  c.Before.RealizedPnl,
		RealizedAfter:   c.After.RealizedPnl,
		InitialBefore:   c.Before.InitialCapital,
		InitialAfter:    c.After.InitialCapital,
		Magnitude:       c.Magnitude,
	}
}
