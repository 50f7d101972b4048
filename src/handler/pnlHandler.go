package handler

import (
	"context"
	"net/http"

	"ltexecutor/src/pnl"
)

type pnlReporter interface {
	StrategyReport(ctx context.Context, strategyID uint) (pnl.Report, error)
}

// StrategyPnlHandler returns daily and cumulative realized P&L.
func StrategyPnlHandler(reporter pnlReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := strategyID(r)
		if !ok {
			http.Error(w, "invalid strategy id", http.StatusBadRequest)
			return
		}
		report, err := reporter.StrategyReport(r.Context(), id)
		if err != nil {
			writeError(w, "StrategyPnl", err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}
