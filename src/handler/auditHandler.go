package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ltexecutor/src/model"
)

type decisionReader interface {
	FindByStrategy(ctx context.Context, strategyID uint, limit int) ([]model.TransactionLog, error)
}

type driftReader interface {
	FindByStrategy(ctx context.Context, strategyID uint) ([]model.DriftCorrection, error)
}

type exceptionReader interface {
	FindRecent(ctx context.Context, strategyID uint, limit int) ([]model.Exception, error)
}

type cycleRunReader interface {
	FindRecent(ctx context.Context, job string, limit int) ([]model.CycleRun, error)
}

func limitParam(r *http.Request, def int) (int, bool) {
	q := newQueryReader(r.URL.Query())
	limit := q.intIn("limit", def, maxPageSize)
	return limit, q.err == nil
}

// DecisionsHandler lists the latest per-signal decisions of a strategy.
func DecisionsHandler(repo decisionReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := strategyID(r)
		if !ok {
			http.Error(w, "invalid strategy id", http.StatusBadRequest)
			return
		}
		limit, ok := limitParam(r, 50)
		if !ok {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		logs, err := repo.FindByStrategy(r.Context(), id, limit)
		if err != nil {
			writeError(w, "Decisions", err)
			return
		}
		writeJSON(w, http.StatusOK, logs)
	}
}

func DriftCorrectionsHandler(repo driftReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := strategyID(r)
		if !ok {
			http.Error(w, "invalid strategy id", http.StatusBadRequest)
			return
		}
		corrections, err := repo.FindByStrategy(r.Context(), id)
		if err != nil {
			writeError(w, "DriftCorrections", err)
			return
		}
		writeJSON(w, http.StatusOK, corrections)
	}
}

// ExceptionsHandler lists captured exceptions, optionally for one
// strategy (?strategyId=).
func ExceptionsHandler(repo exceptionReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := newQueryReader(r.URL.Query())
		id := q.id("strategyId")
		limit := q.intIn("limit", 50, maxPageSize)
		if q.err != nil {
			http.Error(w, q.err.Error(), http.StatusBadRequest)
			return
		}
		out, err := repo.FindRecent(r.Context(), id, limit)
		if err != nil {
			writeError(w, "Exceptions", err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// CycleRunsHandler lists recent runs of the job in the path, skipped
// overlaps included.
func CycleRunsHandler(repo cycleRunReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job := chi.URLParam(r, "job")
		switch job {
		case model.JobExecutor, model.JobReconciler, model.JobSweeper:
		default:
			http.Error(w, "unknown job", http.StatusNotFound)
			return
		}
		limit, ok := limitParam(r, 20)
		if !ok {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		runs, err := repo.FindRecent(r.Context(), job, limit)
		if err != nil {
			writeError(w, "CycleRuns", err)
			return
		}
		writeJSON(w, http.StatusOK, runs)
	}
}
