package repository

import (
	"context"
	"time"
	"unicode/utf8"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ltexecutor/src/database"
	"ltexecutor/src/externalmodel"
)

// SourceTradeRepository handles read-only access to the trades of followed
// wallets stored in the read-only database.
type SourceTradeRepository struct {
	db *gorm.DB
}

// NewSourceTradeRepository creates a new repository instance.
// It uses the ReadOnlyDB connection by default.
func NewSourceTradeRepository() *SourceTradeRepository {
	logger.WithField("component", "SourceTradeRepository").
		Debug("Creating new SourceTradeRepository with ReadOnlyDB")

	return &SourceTradeRepository{
		db: database.ReadOnlyDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or custom sessions/transactions (even if read-only).
func (r *SourceTradeRepository) WithDB(db *gorm.DB) *SourceTradeRepository {
	return &SourceTradeRepository{db: db}
}

// FindAfter fetches the trades of wallet strictly after (afterTime, afterID),
// ordered oldest first by timestamp and then by id as model.CompareSignalIDs
// orders them (length, then bytes). Feeding the last returned row back as
// the cursor pages through the table without gaps or duplicates.
func (r *SourceTradeRepository) FindAfter(
	ctx context.Context,
	wallet string,
	afterTime time.Time,
	afterID string,
	limit int,
) ([]externalmodel.SourceTrade, error) {

	if limit <= 0 {
		limit = 100 // default safety limit
	}

	fields := map[string]interface{}{
		"repo":      "SourceTradeRepository",
		"op":        "FindAfter",
		"wallet":    wallet,
		"afterTime": afterTime,
		"afterID":   afterID,
		"limit":     limit,
	}
	logger.WithFields(fields).Debug("Fetching source trades after cursor")

	var trades []externalmodel.SourceTrade

	id := idExpr(r.db)
	idLen := utf8.RuneCountInString(afterID)
	err := r.db.WithContext(ctx).
		Where("wallet_address = ? AND timestamp IS NOT NULL", wallet).
		Where("timestamp > ? OR (timestamp = ? AND (LENGTH("+id+") > ? OR (LENGTH("+id+") = ? AND "+id+" > ?)))",
			afterTime, afterTime, idLen, idLen, afterID).
		Order("timestamp ASC, LENGTH(" + id + ") ASC, " + id + " ASC").
		Limit(limit).
		Find(&trades).Error

	if err != nil {
		logger.WithFields(fields).WithError(err).Error("Failed to fetch source trades after cursor")
		return nil, err
	}

	fields["rows_return"] = len(trades)
	logger.WithFields(fields).Debug("Source trades after cursor fetched")

	return trades, nil
}

// idExpr is the trade id as text under byte-wise collation.
func idExpr(db *gorm.DB) string {
	if db.Dialector.Name() == "postgres" {
		return `(CAST(id AS TEXT) COLLATE "C")`
	}
	return "CAST(id AS TEXT)"
}

// CountAfter returns how many trades of wallet exist after afterTime.
// This can be used to quickly check if there is new data before doing a heavier fetch.
func (r *SourceTradeRepository) CountAfter(
	ctx context.Context,
	wallet string,
	afterTime time.Time,
) (int64, error) {

	var count int64
	err := r.db.WithContext(ctx).
		Model(&externalmodel.SourceTrade{}).
		Where("wallet_address = ? AND timestamp > ?", wallet, afterTime).
		Count(&count).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "SourceTradeRepository",
			"op":     "CountAfter",
			"wallet": wallet,
		}).WithError(err).Error("Failed to count source trades")
		return 0, err
	}
	return count, nil
}
