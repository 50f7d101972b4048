package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"ltexecutor/src/model"
)

func TestOrderRepositorySearch(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &OrderRepository{db: mockDB}

	createdAt := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	orders := []model.Order{
		{ID: 1, StrategyID: 1, MarketID: "m-1", Status: model.OrderStatusFilled, CreatedAt: createdAt, UpdatedAt: createdAt},
		{ID: 2, StrategyID: 1, MarketID: "m-2", Status: model.OrderStatusPending, CreatedAt: createdAt.Add(24 * time.Hour), UpdatedAt: createdAt.Add(24 * time.Hour)},
	}

	orderRows := func(returned ...model.Order) *sqlmock.Rows {
		rows := sqlmock.NewRows([]string{"id", "strategy_id", "market_id", "status", "created_at", "updated_at"})
		for _, order := range returned {
			rows.AddRow(order.ID, order.StrategyID, order.MarketID, order.Status, order.CreatedAt, order.UpdatedAt)
		}
		return rows
	}

	t.Run("filters by strategy", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE strategy_id = $1 ORDER BY created_at DESC, id DESC`)).
			WithArgs(uint(1)).
			WillReturnRows(orderRows(orders[1], orders[0]))

		results, err := repo.Search(context.Background(), OrderSearchOptions{StrategyID: 1})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "m-2", results[0].MarketID)
		assert.Equal(t, "m-1", results[1].MarketID)
	})

	t.Run("filters by status and created window", func(t *testing.T) {
		filters := OrderSearchOptions{
			StrategyID:    1,
			Status:        ptrString(model.OrderStatusPending),
			CreatedAfter:  ptrTime(createdAt.Add(-time.Hour)),
			CreatedBefore: ptrTime(createdAt.Add(36 * time.Hour)),
		}

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE strategy_id = $1 AND status = $2 AND created_at >= $3 AND created_at <= $4 ORDER BY created_at DESC, id DESC`)).
			WithArgs(uint(1), model.OrderStatusPending, *filters.CreatedAfter, *filters.CreatedBefore).
			WillReturnRows(orderRows(orders[1]))

		results, err := repo.Search(context.Background(), filters)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, uint(2), results[0].ID)
	})

	t.Run("applies pagination", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE strategy_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`)).
			WithArgs(uint(1), 1, 1).
			WillReturnRows(orderRows(orders[0]))

		results, err := repo.Search(context.Background(), OrderSearchOptions{StrategyID: 1, Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "m-1", results[0].MarketID)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepositoryFindByIdempotencyKeyNotFound(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &OrderRepository{db: mockDB}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE idempotency_key = $1 ORDER BY "orders"."id" LIMIT $2`)).
		WithArgs("lt-1-abc", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	order, err := repo.FindByIdempotencyKey(context.Background(), "lt-1-abc")
	require.NoError(t, err)
	assert.Nil(t, order)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepositoryTransitionIsGuarded(t *testing.T) {
	db := newSQLiteDB(t)
	repo := NewOrderRepository().WithDB(db)
	ctx := context.Background()

	order := &model.Order{
		StrategyID:     1,
		SignalID:       "s1",
		IdempotencyKey: IdempotencyKey(1, "s1"),
		MarketID:       "m",
		Outcome:        "Yes",
		Side:           model.SideBuy,
		OrderType:      model.OrderTypeGTC,
		Status:         model.OrderStatusPending,
		OutcomeStatus:  model.OutcomeOpen,
	}
	require.NoError(t, repo.CreateWithAutoLog(ctx, order, "created"))

	order.Status = model.OrderStatusCancelled
	order.OutcomeStatus = model.OutcomeCancelled
	order.CapitalReleased = true
	require.NoError(t, repo.Transition(ctx, order, model.OrderStatusPending, model.OutcomeOpen, "swept"))

	// a second release attempt from the stale state must not apply
	err := repo.Transition(ctx, order, model.OrderStatusPending, model.OutcomeOpen, "swept again")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	stored, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, stored.Status)
	require.Len(t, stored.Logs, 2)
	assert.Equal(t, "created", stored.Logs[0].Reason)
	assert.Equal(t, "swept", stored.Logs[1].Reason)
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	dialector := postgres.New(postgres.Config{
		DSN:                  "sqlmock_db_0",
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	})

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		sqlDB.Close()
		t.Fatalf("failed to open gorm DB with sqlmock: %v", err)
	}

	return gdb, mock
}

func ptrString(val string) *string {
	return &val
}

func ptrTime(val time.Time) *time.Time {
	return &val
}
