package database

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ltexecutor/src/externalmodel"
)

// ReadOnlyDB is the connection to the trade ingestion database. The role
// behind DATABASE_URL_READONLY only needs SELECT on the trades table.
var ReadOnlyDB *gorm.DB

// InitReadOnlyDB opens ReadOnlyDB and verifies the trades table. It never
// migrates: the schema belongs to the ingestion pipeline.
func InitReadOnlyDB() error {
	config := GetConfig()
	db, err := OpenWithPool(config.DatabaseURLReadOnly, config.GormLogLevel, config.Pool)
	if err != nil {
		return fmt.Errorf("failed to open ReadOnlyDB: %w", err)
	}

	health, err := CheckSignalTable(db)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"dialect":      db.Dialector.Name(),
		"latest_trade": health.Latest,
	}).Info("[ReadOnlyDB] source trades reachable")

	ReadOnlyDB = db
	return nil
}

// SignalTableHealth describes the trades table at startup.
type SignalTableHealth struct {
	// Latest is the newest trade timestamp, nil for an empty table.
	Latest *time.Time
}

// CheckSignalTable pings db and reads the newest trade timestamp, which
// fails fast when the table is missing or not readable by the role.
func CheckSignalTable(db *gorm.DB) (SignalTableHealth, error) {
	var health SignalTableHealth
	sqlDB, err := db.DB()
	if err != nil {
		return health, fmt.Errorf("get sql.DB from ReadOnlyDB: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return health, fmt.Errorf("ping ReadOnlyDB: %w", err)
	}

	var latest externalmodel.SourceTrade
	err = db.Model(&externalmodel.SourceTrade{}).
		Where("timestamp IS NOT NULL").
		Order("timestamp DESC").
		Limit(1).
		Find(&latest).Error
	if err != nil {
		return health, fmt.Errorf("read %s: %w", externalmodel.SourceTrade{}.TableName(), err)
	}
	health.Latest = latest.Timestamp
	return health, nil
}
