package handler

import (
	"context"
	"net/http"

	"ltexecutor/src/model"
	"ltexecutor/src/repository"
)

const maxPageSize = 500

type orderSearcher interface {
	Search(ctx context.Context, options repository.OrderSearchOptions) ([]model.Order, error)
}

// SearchOrdersHandler lists the orders of the strategy in the path, newest
// first. Filters: status, outcome, marketId, createdFrom, createdTo (RFC3339).
// Paging: page (from 1) and pageSize (up to 500, default 20).
func SearchOrdersHandler(repo orderSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := strategyID(r)
		if !ok {
			http.Error(w, "invalid strategy id", http.StatusBadRequest)
			return
		}

		q := newQueryReader(r.URL.Query())
		opts := repository.OrderSearchOptions{
			StrategyID: id,
			Status: q.enum("status", model.OrderStatusPending, model.OrderStatusFilled,
				model.OrderStatusPartial, model.OrderStatusRejected, model.OrderStatusCancelled),
			Outcome: q.enum("outcome", model.OutcomeOpen, model.OutcomeWon,
				model.OutcomeLost, model.OutcomeCancelled),
			MarketID:      q.str("marketId"),
			CreatedAfter:  q.timestamp("createdFrom"),
			CreatedBefore: q.timestamp("createdTo"),
		}
		page := q.intIn("page", 1, 1<<20)
		opts.Limit = q.intIn("pageSize", 20, maxPageSize)
		opts.Offset = (page - 1) * opts.Limit
		if q.err != nil {
			http.Error(w, q.err.Error(), http.StatusBadRequest)
			return
		}

		orders, err := repo.Search(r.Context(), opts)
		if err != nil {
			writeError(w, "SearchOrders", err)
			return
		}
		writeJSON(w, http.StatusOK, orders)
	}
}
