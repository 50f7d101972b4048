package migrations

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ltexecutor/src/model"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func TestApplyRunsEachStepOnce(t *testing.T) {
	db := openTestDB(t)
	calls := 0
	list := []Step{{ID: "0001_count", Fn: func(*gorm.DB) error { calls++; return nil }}}

	applied, err := Apply(db, list)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_count"}, applied)

	applied, err = Apply(db, list)
	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.Equal(t, 1, calls)
}

func TestApplyStopsOnFailureWithoutRecording(t *testing.T) {
	db := openTestDB(t)
	boom := errors.New("boom")
	list := []Step{
		{ID: "0001_fail", Fn: func(*gorm.DB) error { return boom }},
		{ID: "0002_never", Fn: func(*gorm.DB) error { t.Fatal("must not run"); return nil }},
	}

	_, err := Apply(db, list)
	assert.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Model(&DataMigration{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestApplyRejectsDuplicateIDs(t *testing.T) {
	db := openTestDB(t)
	noop := func(*gorm.DB) error { return nil }
	_, err := Apply(db, []Step{{ID: "a", Fn: noop}, {ID: "a", Fn: noop}})
	assert.Error(t, err)
}

func TestCloseOutcomeOfTerminalOrders(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.AutoMigrate(&model.Order{}))
	rows := []model.Order{
		{StrategyID: 1, SignalID: "s1", IdempotencyKey: "k1", MarketID: "m", Outcome: "Yes", Side: "BUY", OrderType: "GTC",
			Status: model.OrderStatusRejected, OutcomeStatus: model.OutcomeOpen},
		{StrategyID: 1, SignalID: "s2", IdempotencyKey: "k2", MarketID: "m", Outcome: "Yes", Side: "BUY", OrderType: "GTC",
			Status: model.OrderStatusFilled, OutcomeStatus: model.OutcomeOpen},
	}
	require.NoError(t, db.Create(&rows).Error)

	require.NoError(t, closeOutcomeOfTerminalOrders(db))

	var got []model.Order
	require.NoError(t, db.Order("id").Find(&got).Error)
	assert.Equal(t, model.OutcomeCancelled, got[0].OutcomeStatus)
	assert.Equal(t, model.OutcomeOpen, got[1].OutcomeStatus)
}
