package audit

import (
	"context"
	"fmt"

	logger "github.com/sirupsen/logrus"

	"ltexecutor/src/model"
)

type transactionWriter interface {
	Create(ctx context.Context, entry *model.TransactionLog) error
}

// Decision describes what happened to one signal.
type Decision struct {
	StrategyID uint
	SignalID   string
	CycleID    string
	OrderID    *uint
	Decision   string // model.DecisionAccepted, DecisionRejected or DecisionSkipped
	Reason     string
	Metadata   map[string]any
}

// Record logs d and writes it to the transaction log. Accepted signals log
// at info, everything else at warn.
func Record(ctx context.Context, repo transactionWriter, d Decision, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	level := "info"
	if d.Decision != model.DecisionAccepted {
		level = "warn"
	}

	entry := logger.WithFields(map[string]interface{}{
		"strategy_id": d.StrategyID,
		"signal_id":   d.SignalID,
		"cycle_id":    d.CycleID,
		"decision":    d.Decision,
		"reason":      d.Reason,
	})
	if level == "info" {
		entry.Info(msg)
	} else {
		entry.Warn(msg)
	}

	if repo == nil {
		return
	}
	if len(msg) > 1024 {
		msg = msg[:1024]
	}
	err := repo.Create(context.WithoutCancel(ctx), &model.TransactionLog{
		StrategyID: d.StrategyID,
		SignalID:   d.SignalID,
		OrderID:    d.OrderID,
		CycleID:    d.CycleID,
		Decision:   d.Decision,
		Reason:     d.Reason,
		Level:      level,
		Message:    msg,
		Metadata:   d.Metadata,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to persist transaction log")
	}
}
