// Package executor runs the copy-trading control loop: one cycle settles
// each eligible strategy's open orders, then turns the signals observed
// since its watermark into orders, oldest first.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"ltexecutor/src/audit"
	"ltexecutor/src/connectors"
	"ltexecutor/src/model"
	"ltexecutor/src/orders"
	"ltexecutor/src/repository"
	"ltexecutor/src/signals"
)

// Decision reasons recorded besides the risk engine's.
const (
	ReasonInvalidSignal       = "INVALID_SIGNAL"
	ReasonUnsupportedSide     = "UNSUPPORTED_SIDE"
	ReasonSizing              = "SIZING"
	ReasonMarketData          = "MARKET_DATA"
	ReasonCashCheck           = "CASH_CHECK"
	ReasonExchangeError       = "EXCHANGE_ERROR"
	ReasonExchangeTimeout     = "EXCHANGE_TIMEOUT"
	ReasonExchangeUnavailable = "EXCHANGE_UNAVAILABLE"
)

// Executor runs cycles. It holds no state between cycles; everything it
// needs to resume lives in the database.
type Executor struct {
	cfg Config

	strategies *repository.StrategyRepository
	riskStates *repository.RiskStateRepository
	orders     *repository.OrderRepository
	cycles     *repository.CycleRunRepository
	decisions  *repository.TransactionLogRepository
	exceptions *repository.ExceptionRepository

	manager *orders.Manager
	source  signals.Source
	market  connectors.MarketData

	now func() time.Time
	log *logger.Entry
}

// New builds an executor on the main database.
func New(cfg Config, source signals.Source, manager *orders.Manager, market connectors.MarketData) *Executor {
	if cfg.MaxParallelStrategies <= 0 {
		cfg.MaxParallelStrategies = 1
	}
	if cfg.SignalPageSize <= 0 {
		cfg.SignalPageSize = 100
	}
	return &Executor{
		cfg:        cfg,
		strategies: repository.NewStrategyRepository(),
		riskStates: repository.NewRiskStateRepository(),
		orders:     repository.NewOrderRepository(),
		cycles:     repository.NewCycleRunRepository(),
		decisions:  repository.NewTransactionLogRepository(),
		exceptions: repository.NewExceptionRepository(),
		manager:    manager,
		source:     source,
		market:     market,
		now:        func() time.Time { return time.Now().UTC() },
		log:        logger.WithField("component", "executor"),
	}
}

// WithDB returns a copy of e (and its order manager) using db.
func (e *Executor) WithDB(db *gorm.DB) *Executor {
	c := *e
	c.strategies = e.strategies.WithDB(db)
	c.riskStates = e.riskStates.WithDB(db)
	c.orders = e.orders.WithDB(db)
	c.cycles = e.cycles.WithDB(db)
	c.decisions = e.decisions.WithDB(db)
	c.exceptions = e.exceptions.WithDB(db)
	c.manager = e.manager.WithDB(db)
	return &c
}

// WithClock returns a copy of e (and its order manager) reading time from now.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	c := *e
	c.now = now
	c.manager = e.manager.WithClock(now)
	return &c
}

// CycleResult summarizes one cycle.
type CycleResult struct {
	CycleID    string `json:"cycle_id"`
	Strategies int    `json:"strategies"`
	Skipped    int    `json:"skipped"` // another cycle still running
	Failed     int    `json:"failed"`
	Signals    int    `json:"signals"`
	Accepted   int    `json:"accepted"`
	Rejected   int    `json:"rejected"`
	Aborted    bool   `json:"aborted"`
}

func (r *CycleResult) add(o StrategyResult) {
	r.Signals += o.Signals
	r.Accepted += o.Accepted
	r.Rejected += o.Rejected
	if o.Skipped {
		r.Skipped++
	}
}

// StrategyResult summarizes one strategy's share of a cycle.
type StrategyResult struct {
	Skipped  bool `json:"skipped"`
	Signals  int  `json:"signals"`
	Accepted int  `json:"accepted"`
	Rejected int  `json:"rejected"`
}

// RunCycle processes every active, unpaused strategy with bounded
// parallelism. A failure local to one strategy is logged and the others
// continue; an unreachable exchange aborts the whole cycle, leaving each
// strategy's watermark at its last fully processed signal.
func (e *Executor) RunCycle(ctx context.Context) (CycleResult, error) {
	result := CycleResult{CycleID: uuid.NewString()}
	log := e.log.WithField("cycle_id", result.CycleID)

	strategies, err := e.strategies.FindActive(ctx, false)
	if err != nil {
		return result, err
	}
	result.Strategies = len(strategies)
	log.WithField("strategies", len(strategies)).Info("Cycle started")

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxParallelStrategies)

	for _, s := range strategies {
		id := s.ID
		g.Go(func() error {
			out, err := e.RunStrategy(gctx, result.CycleID, id)

			mu.Lock()
			result.add(out)
			if err != nil && !errors.Is(err, model.ErrCycleInProgress) {
				result.Failed++
			}
			mu.Unlock()

			switch {
			case err == nil, errors.Is(err, model.ErrCycleInProgress):
				return nil
			case errors.Is(err, model.ErrExchangeUnavailable):
				return err
			case gctx.Err() != nil:
				// Aborted by a sibling; the abort error is reported once.
				return nil
			}
			audit.Capture(gctx, e.exceptions, "executor", "RunStrategy", "error", id, err, map[string]interface{}{
				"cycle_id": result.CycleID,
			})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		result.Aborted = true
		log.WithError(err).Error("Cycle aborted, exchange unavailable")
		return result, err
	}

	log.WithFields(map[string]interface{}{
		"signals":  result.Signals,
		"accepted": result.Accepted,
		"rejected": result.Rejected,
		"skipped":  result.Skipped,
		"failed":   result.Failed,
	}).Info("Cycle finished")
	return result, nil
}

// RunStrategy runs one strategy's share of a cycle under the overlap
// guard. It returns model.ErrCycleInProgress when another cycle for the
// strategy is still running.
func (e *Executor) RunStrategy(ctx context.Context, cycleID string, strategyID uint) (StrategyResult, error) {
	var out StrategyResult

	run, err := e.cycles.Begin(ctx, model.JobExecutor, strategyID, e.cfg.CycleStaleAfter, e.now())
	if err != nil {
		if errors.Is(err, model.ErrCycleInProgress) {
			out.Skipped = true
		}
		return out, err
	}

	out, err = e.runStrategy(ctx, cycleID, strategyID)

	status, reason := model.CycleStatusSucceeded, ""
	if err != nil {
		status, reason = model.CycleStatusFailed, err.Error()
	}
	if ferr := e.cycles.Finish(context.WithoutCancel(ctx), run, status, reason, out.Signals, e.now()); ferr != nil {
		e.log.WithField("strategy_id", strategyID).WithError(ferr).Error("Failed to finish cycle run")
	}
	return out, err
}

func (e *Executor) runStrategy(ctx context.Context, cycleID string, strategyID uint) (StrategyResult, error) {
	var out StrategyResult
	log := e.log.WithFields(map[string]interface{}{
		"cycle_id":    cycleID,
		"strategy_id": strategyID,
	})

	if _, err := e.manager.SettleStrategy(ctx, strategyID); err != nil {
		if errors.Is(err, model.ErrExchangeUnavailable) || ctx.Err() != nil {
			return out, err
		}
		log.WithError(err).Warn("Settlement pass failed, continuing with signals")
	}

	s, err := e.strategies.FindByID(ctx, strategyID)
	if err != nil {
		return out, err
	}
	if !s.IsActive {
		log.Info("Strategy deactivated, skipping signals")
		return out, nil
	}
	if s.IsPaused {
		// Paused during settlement; remaining signals are denied as PAUSED.
		log.WithField("pause_reason", s.PauseReason).Warn("Strategy paused mid-cycle")
	}

	watermark := s.Watermark()
	for out.Signals < e.cfg.MaxSignalsPerCycle || e.cfg.MaxSignalsPerCycle <= 0 {
		page, err := e.source.ListSignals(ctx, s.WalletAddress, watermark, e.cfg.SignalPageSize)
		if err != nil {
			return out, fmt.Errorf("list signals: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for _, sig := range page {
			if err := ctx.Err(); err != nil {
				return out, err
			}

			decision, err := e.processSignal(ctx, cycleID, strategyID, sig)
			if err != nil {
				// The signal's outcome is not settled; it is retried next cycle.
				return out, err
			}
			switch decision {
			case model.DecisionAccepted:
				out.Accepted++
			case model.DecisionRejected, model.DecisionSkipped:
				out.Rejected++
			}

			if err := e.strategies.AdvanceWatermark(ctx, strategyID, sig); err != nil {
				return out, err
			}
			watermark = model.Watermark{Time: sig.Timestamp, SignalID: sig.ID}
			out.Signals++
			if e.cfg.MaxSignalsPerCycle > 0 && out.Signals >= e.cfg.MaxSignalsPerCycle {
				break
			}
		}

		if len(page) < e.cfg.SignalPageSize {
			break
		}
	}

	if out.Signals > 0 {
		log.WithFields(map[string]interface{}{
			"signals":   out.Signals,
			"accepted":  out.Accepted,
			"rejected":  out.Rejected,
			"watermark": watermark.SignalID,
		}).Info("Strategy signals processed")
	}
	return out, nil
}
