package database

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ltexecutor/src/database/migrations"
	"ltexecutor/src/model"
)

const sqlitePrefix = "sqlite:"

// MainDB is the primary read/write database connection used by the application.
var MainDB *gorm.DB

// Open connects to dsn with DefaultPool. A "sqlite:" prefix selects the
// sqlite driver (e.g. "sqlite::memory:" in tests); anything else is a
// postgres DSN.
func Open(dsn string, gormLogLevel int) (*gorm.DB, error) {
	return OpenWithPool(dsn, gormLogLevel, DefaultPool)
}

func OpenWithPool(dsn string, gormLogLevel int, pool Pool) (*gorm.DB, error) {
	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.LogLevel(gormLogLevel)),
	}

	var dialector gorm.Dialector
	isSQLite := strings.HasPrefix(dsn, sqlitePrefix)
	if isSQLite {
		dialector = sqlite.Open(strings.TrimPrefix(dsn, sqlitePrefix))
	} else {
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB from gorm: %w", err)
	}
	if isSQLite {
		// sqlite serializes writers; one connection also keeps :memory: alive.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	return db, nil
}

// Migrate creates the write-side schema and applies data migrations.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Strategy{},
		&model.Order{},
		&model.OrderLog{},
		&model.RiskState{},
		&model.CycleRun{},
		&model.DriftCorrection{},
		&model.TransactionLog{},
		&model.Exception{},
		&migrations.DataMigration{},
	); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("failed to run data migrations: %w", err)
	}
	return nil
}

// InitMainDB initializes the main (read/write) database connection and runs migrations.
// This should be called once at application startup (e.g. in main()).
func InitMainDB() error {
	config := GetConfig()
	db, err := OpenWithPool(config.DatabaseURLMain, config.GormLogLevel, config.Pool)
	if err != nil {
		logrus.WithError(err).Error("Failed to connect to database")
		return err
	}

	// Assign to the global variable only after a successful connection.
	MainDB = db

	logrus.Info("[database] MainDB connection established")

	if err := Migrate(MainDB); err != nil {
		return err
	}

	logrus.Info("[database] MainDB migrations completed")

	return nil
}
