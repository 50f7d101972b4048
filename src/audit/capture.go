// Package audit persists what the engine could not handle inline: system
// exceptions and per-signal decisions.
package audit

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"time"

	logger "github.com/sirupsen/logrus"

	"ltexecutor/src/model"
)

const service = "ltexecutor"

type exceptionWriter interface {
	Create(ctx context.Context, exc *model.Exception) error
}

// Capture records a system exception, logs it locally, and persists it.
// strategyID 0 means the failure is not tied to a strategy. A failed
// insert is logged and otherwise ignored.
func Capture(
	ctx context.Context,
	repo exceptionWriter,
	module string,
	method string,
	level string,
	strategyID uint,
	err error,
	contextData map[string]interface{},
) {

	if err == nil {
		return
	}

	var ctxJSON string
	if contextData != nil {
		if b, e := json.Marshal(contextData); e == nil {
			ctxJSON = string(b)
		}
	}

	exc := &model.Exception{
		Service:   service,
		Module:    module,
		Method:    method,
		Message:   err.Error(),
		Stack:     string(debug.Stack()),
		Level:     level,
		Context:   ctxJSON,
		CreatedAt: time.Now().UTC(),
	}
	if strategyID != 0 {
		exc.StrategyID = &strategyID
	}

	logger.WithFields(map[string]interface{}{
		"module":      module,
		"method":      method,
		"level":       level,
		"strategy_id": strategyID,
	}).WithError(err).Error("System exception captured")

	if repo == nil {
		return
	}
	// Persist on a context that outlives a cancelled cycle.
	if perr := repo.Create(context.WithoutCancel(ctx), exc); perr != nil {
		logger.WithError(perr).Error("Failed to persist exception")
	}
}
