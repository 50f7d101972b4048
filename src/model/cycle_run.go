package model

import "time"

const (
	CycleStatusRunning   = "RUNNING"
	CycleStatusSucceeded = "SUCCEEDED"
	CycleStatusFailed    = "FAILED"
	CycleStatusSkipped   = "SKIPPED"
)

const (
	JobExecutor   = "executor"
	JobReconciler = "reconciler"
	JobSweeper    = "sweeper"
)

// CycleRun persists one invocation of a scheduled job so overlap and crash
// detection survive restarts. ActiveKey is set only while the run is
// RUNNING; its unique index admits one running cycle per job and strategy.
type CycleRun struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	Job        string     `gorm:"size:30;not null;index:idx_cycle_runs_job_strategy" json:"job"`
	StrategyID uint       `gorm:"not null;default:0;index:idx_cycle_runs_job_strategy" json:"strategy_id"`
	ActiveKey  *string    `gorm:"size:80;uniqueIndex" json:"-"`
	Status     string     `gorm:"size:20;not null" json:"status"`
	Reason     string     `gorm:"size:512" json:"reason,omitempty"`
	Processed  int        `gorm:"not null;default:0" json:"processed"`
	StartedAt  time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (CycleRun) TableName() string {
	return "cycle_runs"
}
