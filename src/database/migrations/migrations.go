// Package migrations applies data fixes that schema auto-migration cannot
// express. Each step runs at most once per database.
package migrations

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DataMigration records an applied step.
type DataMigration struct {
	ID        string    `gorm:"primaryKey;size:200;column:id"`
	AppliedAt time.Time `gorm:"not null;column:applied_at"`
}

func (DataMigration) TableName() string { return "data_migrations" }

// Step is a named, run-once data migration.
type Step struct {
	ID string
	Fn func(*gorm.DB) error
}

// steps are applied in order. Ids are stable; append only.
var steps = []Step{
	{ID: "00001_close_outcome_of_terminal_orders", Fn: closeOutcomeOfTerminalOrders},
}

// Apply runs every pending step of list inside its own transaction and
// returns the ids it applied. A failing step stops the run and is not
// recorded, so it is retried on the next start.
func Apply(db *gorm.DB, list []Step) ([]string, error) {
	if db == nil {
		return nil, nil
	}
	if err := db.AutoMigrate(&DataMigration{}); err != nil {
		return nil, fmt.Errorf("ensure data migrations table: %w", err)
	}

	seen := make(map[string]struct{}, len(list))
	var applied []string
	for _, step := range list {
		if step.ID == "" || step.Fn == nil {
			return applied, fmt.Errorf("migration %q is incomplete", step.ID)
		}
		if _, dup := seen[step.ID]; dup {
			return applied, fmt.Errorf("migration %q registered twice", step.ID)
		}
		seen[step.ID] = struct{}{}

		ran, err := applyOne(db, step)
		if err != nil {
			return applied, err
		}
		if ran {
			logrus.WithField("migration", step.ID).Info("[database] data migration applied")
			applied = append(applied, step.ID)
		}
	}
	return applied, nil
}

func applyOne(db *gorm.DB, step Step) (bool, error) {
	ran := false
	err := db.Transaction(func(tx *gorm.DB) error {
		var m DataMigration
		err := tx.First(&m, "id = ?", step.ID).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check migration %q: %w", step.ID, err)
		}
		if err := step.Fn(tx); err != nil {
			return fmt.Errorf("run migration %q: %w", step.ID, err)
		}
		if err := tx.Create(&DataMigration{ID: step.ID, AppliedAt: time.Now().UTC()}).Error; err != nil {
			return fmt.Errorf("record migration %q: %w", step.ID, err)
		}
		ran = true
		return nil
	})
	return ran, err
}

// Run applies the registered steps and then backfills risk states, which
// is idempotent and therefore runs on every start.
func Run(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	if _, err := Apply(db, steps); err != nil {
		return err
	}
	// Strategies created by the admin API get their risk state on creation;
	// rows inserted out of band are covered here.
	return SeedRiskStates(db)
}
