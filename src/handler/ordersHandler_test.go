package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ltexecutor/src/model"
	"ltexecutor/src/repository"
)

type mockOrderSearcher struct {
	orders        []model.Order
	err           error
	strategyID    uint
	status        *string
	marketID      *string
	createdAfter  *time.Time
	createdBefore *time.Time
	limit         int
	offset        int
	calledCount   int
}

func (m *mockOrderSearcher) Search(ctx context.Context, options repository.OrderSearchOptions) ([]model.Order, error) {
	m.calledCount++
	m.strategyID = options.StrategyID
	m.status = options.Status
	m.marketID = options.MarketID
	m.createdAfter = options.CreatedAfter
	m.createdBefore = options.CreatedBefore
	m.limit = options.Limit
	m.offset = options.Offset
	return m.orders, m.err
}

func serveOrders(repo orderSearcher, target string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Get("/strategies/{id}/orders", SearchOrdersHandler(repo))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func TestSearchOrdersHandler_InvalidStrategy(t *testing.T) {
	rr := serveOrders(&mockOrderSearcher{}, "/strategies/abc/orders")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSearchOrdersHandler_InvalidDates(t *testing.T) {
	mockRepo := &mockOrderSearcher{}
	rr := serveOrders(mockRepo, "/strategies/1/orders?createdFrom=yesterday")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Zero(t, mockRepo.calledCount)
}

func TestSearchOrdersHandler_RejectsUnknownFilters(t *testing.T) {
	for _, target := range []string{
		"/strategies/1/orders?status=open",
		"/strategies/1/orders?outcome=maybe",
		"/strategies/1/orders?pageSize=501",
		"/strategies/1/orders?page=0",
	} {
		mockRepo := &mockOrderSearcher{}
		rr := serveOrders(mockRepo, target)
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
		assert.Zero(t, mockRepo.calledCount, target)
	}
}

func TestSearchOrdersHandler_RepoError(t *testing.T) {
	rr := serveOrders(&mockOrderSearcher{err: assert.AnError}, "/strategies/1/orders")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestSearchOrdersHandler_Success(t *testing.T) {
	mockRepo := &mockOrderSearcher{orders: []model.Order{{ID: 1, StrategyID: 7, MarketID: "m1"}}}

	rr := serveOrders(mockRepo,
		"/strategies/7/orders?status=filled&marketId=m1&createdFrom=2024-01-01T00:00:00Z&createdTo=2024-01-31T00:00:00Z&page=2&pageSize=10")
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, uint(7), mockRepo.strategyID)
	require.NotNil(t, mockRepo.status)
	assert.Equal(t, model.OrderStatusFilled, *mockRepo.status)
	require.NotNil(t, mockRepo.marketID)
	assert.Equal(t, "m1", *mockRepo.marketID)
	require.NotNil(t, mockRepo.createdAfter)
	require.NotNil(t, mockRepo.createdBefore)
	assert.Equal(t, 10, mockRepo.limit)
	assert.Equal(t, 10, mockRepo.offset)

	var orders []model.Order
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&orders))
	require.Len(t, orders, 1)
	assert.Equal(t, "m1", orders[0].MarketID)
}
