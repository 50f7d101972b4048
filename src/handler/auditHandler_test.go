package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"ltexecutor/src/model"
)

type fakeAuditRepo struct {
	strategyID uint
	limit      int
	job        string
}

func (f *fakeAuditRepo) FindByStrategy(_ context.Context, id uint, limit int) ([]model.TransactionLog, error) {
	f.strategyID, f.limit = id, limit
	return []model.TransactionLog{}, nil
}

func (f *fakeAuditRepo) FindRecent(_ context.Context, job string, limit int) ([]model.CycleRun, error) {
	f.job, f.limit = job, limit
	return nil, nil
}

type fakeExceptions struct{ strategyID uint }

func (f *fakeExceptions) FindRecent(_ context.Context, id uint, _ int) ([]model.Exception, error) {
	f.strategyID = id
	return nil, assert.AnError
}

func TestAuditHandlers(t *testing.T) {
	repo := &fakeAuditRepo{}
	exc := &fakeExceptions{}
	r := chi.NewRouter()
	r.Get("/strategies/{id}/decisions", DecisionsHandler(repo))
	r.Get("/jobs/{job}/runs", CycleRunsHandler(repo))
	r.Get("/exceptions", ExceptionsHandler(exc))

	rr := do(r, http.MethodGet, "/strategies/4/decisions?limit=10", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, uint(4), repo.strategyID)
	assert.Equal(t, 10, repo.limit)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/strategies/4/decisions?limit=0", "").Code)

	rr = do(r, http.MethodGet, "/jobs/sweeper/runs", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, model.JobSweeper, repo.job)
	assert.Equal(t, 20, repo.limit)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/jobs/backup/runs", "").Code)

	rr = do(r, http.MethodGet, "/exceptions?strategyId=9", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, uint(9), exc.strategyID)
}
