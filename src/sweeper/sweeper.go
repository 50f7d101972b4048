// Package sweeper cancels pending orders that stayed unfilled past the
// order timeout and follows up on submissions whose outcome was unknown.
package sweeper

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ltexecutor/src/model"
	"ltexecutor/src/orders"
	"ltexecutor/src/repository"
)

const staleReason = "pending past order timeout"

type Sweeper struct {
	cfg     Config
	orders  *repository.OrderRepository
	cycles  *repository.CycleRunRepository
	manager *orders.Manager
	now     func() time.Time
	log     *logger.Entry
}

func New(cfg Config, manager *orders.Manager) *Sweeper {
	return &Sweeper{
		cfg:     cfg,
		orders:  repository.NewOrderRepository(),
		cycles:  repository.NewCycleRunRepository(),
		manager: manager,
		now:     func() time.Time { return time.Now().UTC() },
		log:     logger.WithField("component", "sweeper"),
	}
}

func (s *Sweeper) WithDB(db *gorm.DB) *Sweeper {
	c := *s
	c.orders = s.orders.WithDB(db)
	c.cycles = s.cycles.WithDB(db)
	c.manager = s.manager.WithDB(db)
	return &c
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	c := *s
	c.now = now
	c.manager = s.manager.WithClock(now)
	return &c
}

type Result struct {
	Cancelled  int `json:"cancelled"`
	Filled     int `json:"filled"`
	FollowedUp int `json:"followed_up"`
	Failed     int `json:"failed"`
}

// Run performs one sweep. Overlapping sweeps are refused with
// model.ErrCycleInProgress.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	var result Result

	run, err := s.cycles.Begin(ctx, model.JobSweeper, 0, s.cfg.StaleAfter, s.now())
	if err != nil {
		return result, err
	}

	err = s.sweep(ctx, &result)

	status, reason := model.CycleStatusSucceeded, ""
	if err != nil {
		status, reason = model.CycleStatusFailed, err.Error()
	}
	processed := result.Cancelled + result.Filled + result.FollowedUp
	if ferr := s.cycles.Finish(context.WithoutCancel(ctx), run, status, reason, processed, s.now()); ferr != nil {
		s.log.WithError(ferr).Error("Failed to finish sweeper run")
	}

	s.log.WithFields(map[string]interface{}{
		"cancelled":   result.Cancelled,
		"filled":      result.Filled,
		"followed_up": result.FollowedUp,
		"failed":      result.Failed,
	}).Info("Sweep finished")
	return result, err
}

func (s *Sweeper) sweep(ctx context.Context, result *Result) error {
	now := s.now()

	stale, err := s.orders.FindStalePending(ctx, now.Add(-s.cfg.OrderTimeout))
	if err != nil {
		return err
	}
	batch := make([]*model.Order, len(stale))
	for i := range stale {
		batch[i] = &stale[i]
	}
	for _, r := range s.manager.CancelAll(ctx, batch, staleReason) {
		switch {
		case r.Err != nil:
			s.log.WithField("order_id", r.Order.ID).WithError(r.Err).Error("Failed to cancel stale order")
			result.Failed++
		case r.Cancelled:
			result.Cancelled++
		default:
			result.Filled++
		}
	}

	timedOut, err := s.orders.FindTimedOutForFollowUp(ctx, now.Add(-s.cfg.FollowUpWindow))
	if err != nil {
		return err
	}
	for i := range timedOut {
		o := &timedOut[i]
		if err := s.manager.FollowUpTimedOut(ctx, o); err != nil {
			s.log.WithField("order_id", o.ID).WithError(err).Error("Failed to follow up timed-out order")
			result.Failed++
			continue
		}
		result.FollowedUp++
	}
	return nil
}
