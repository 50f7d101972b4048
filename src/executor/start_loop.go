package executor

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"

	"ltexecutor/src/model"
)

// StartLoop runs a cycle immediately and then every cfg.LoopPeriod until
// ctx is cancelled. Cycle errors are logged; an aborted cycle is retried
// on the next tick.
func (e *Executor) StartLoop(ctx context.Context) error {
	period := e.cfg.LoopPeriod
	if period <= 0 {
		period = 3 * time.Minute
	}

	ticker := time.NewTicker(period) // Set up a ticker that fires periodically
	defer ticker.Stop()

	e.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("executor loop stopped")
			return nil

		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Executor) tick(ctx context.Context) {
	logger.Debug("executor loop tick")
	result, err := e.RunCycle(ctx)
	if err != nil {
		if errors.Is(err, model.ErrExchangeUnavailable) {
			logger.WithField("cycle_id", result.CycleID).WithError(err).Warn("Cycle aborted, will retry next tick")
			return
		}
		logger.WithError(err).Error("Cycle failed")
	}
}
