package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ltexecutor/src/database"
	"ltexecutor/src/model"
)

// CycleRunRepository persists job invocations and guards against overlap.
type CycleRunRepository struct {
	db *gorm.DB
}

// NewCycleRunRepository creates a new repository instance using the main read/write database.
func NewCycleRunRepository() *CycleRunRepository {
	return &CycleRunRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *CycleRunRepository) WithDB(db *gorm.DB) *CycleRunRepository {
	return &CycleRunRepository{db: db}
}

func activeKey(job string, strategyID uint) string {
	return fmt.Sprintf("%s:%d", job, strategyID)
}

// Begin starts a run of job for strategyID (0 for job-wide runs). When a
// run younger than staleAfter is still RUNNING it records a SKIPPED run and
// returns model.ErrCycleInProgress. An older RUNNING run is assumed to have
// crashed: it is marked FAILED and the new run proceeds.
func (r *CycleRunRepository) Begin(
	ctx context.Context,
	job string,
	strategyID uint,
	staleAfter time.Duration,
	now time.Time,
) (*model.CycleRun, error) {

	key := activeKey(job, strategyID)
	now = now.UTC()
	run := &model.CycleRun{
		ID:         uuid.NewString(),
		Job:        job,
		StrategyID: strategyID,
		ActiveKey:  &key,
		Status:     model.CycleStatusRunning,
		StartedAt:  now,
	}

	fields := map[string]interface{}{
		"repo":        "CycleRunRepository",
		"op":          "Begin",
		"job":         job,
		"strategy_id": strategyID,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var running model.CycleRun
		err := tx.Where("active_key = ?", key).First(&running).Error
		switch {
		case err == nil:
			if now.Sub(running.StartedAt) < staleAfter {
				return model.ErrCycleInProgress
			}
			logger.WithFields(fields).WithField("stale_cycle_id", running.ID).
				Warn("Previous cycle still marked running past staleness threshold, marking failed")
			if err := tx.Model(&model.CycleRun{}).
				Where("id = ?", running.ID).
				Updates(map[string]interface{}{
					"status":      model.CycleStatusFailed,
					"reason":      fmt.Sprintf("stale: running since %s, assumed crashed", running.StartedAt.Format(time.RFC3339)),
					"active_key":  nil,
					"finished_at": now,
				}).Error; err != nil {
				return err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		return tx.Create(run).Error
	})

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// lost the race to a concurrent Begin
		err = model.ErrCycleInProgress
	}
	if errors.Is(err, model.ErrCycleInProgress) {
		skipped := &model.CycleRun{
			ID:         uuid.NewString(),
			Job:        job,
			StrategyID: strategyID,
			Status:     model.CycleStatusSkipped,
			Reason:     "previous cycle still running",
			StartedAt:  now,
			FinishedAt: &now,
		}
		if cerr := r.db.WithContext(ctx).Create(skipped).Error; cerr != nil {
			logger.WithFields(fields).WithError(cerr).Error("Failed to record skipped cycle")
		}
		logger.WithFields(fields).Info("Cycle skipped, previous run in progress")
		return nil, model.ErrCycleInProgress
	}
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("Failed to begin cycle")
		return nil, err
	}

	return run, nil
}

// Finish closes run with status and releases its active key.
func (r *CycleRunRepository) Finish(
	ctx context.Context,
	run *model.CycleRun,
	status string,
	reason string,
	processed int,
	now time.Time,
) error {

	finished := now.UTC()
	run.Status = status
	run.Reason = truncate(reason, 512)
	run.Processed = processed
	run.FinishedAt = &finished
	run.ActiveKey = nil

	return r.db.WithContext(ctx).
		Model(&model.CycleRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"status":      run.Status,
			"reason":      run.Reason,
			"processed":   processed,
			"finished_at": finished,
			"active_key":  nil,
		}).Error
}

// FindRecent lists the latest runs of job, newest first.
func (r *CycleRunRepository) FindRecent(ctx context.Context, job string, limit int) ([]model.CycleRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []model.CycleRun
	err := r.db.WithContext(ctx).
		Where("job = ?", job).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
