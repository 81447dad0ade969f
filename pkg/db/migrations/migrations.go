package migrations

import (
	"context"
	"fmt"
	"time"

	"github.com/mwantia/gostage/pkg/db/models"
	"gorm.io/gorm"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	Up          func(*gorm.DB) error
	Down        func(*gorm.DB) error
}

// migrationHistory tracks applied migrations
type migrationHistory struct {
	ID          uint   `gorm:"primaryKey"`
	Version     int    `gorm:"uniqueIndex;not null"`
	Description string `gorm:"type:text"`
	AppliedAt   int64  `gorm:"autoCreateTime"`
}

// MigrationStatus represents the status of a migration
type MigrationStatus struct {
	Version     int
	Description string
	Applied     bool
	AppliedAt   time.Time
}

// Migrator handles database migrations
type Migrator struct {
	db         *gorm.DB
	migrations []Migration
}

// NewMigrator creates a new migrator instance
func NewMigrator(db *gorm.DB) *Migrator {
	return &Migrator{
		db:         db,
		migrations: allMigrations(),
	}
}

// Migrate runs all pending migrations
func (m *Migrator) Migrate(ctx context.Context) error {
	applied, err := m.history(ctx)
	if err != nil {
		return err
	}

	for _, migration := range m.migrations {
		if _, ok := applied[migration.Version]; ok {
			continue
		}

		if err := m.runMigration(ctx, migration); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Description, err)
		}
	}

	return nil
}

// Rollback rolls back the last applied migration
func (m *Migrator) Rollback(ctx context.Context) error {
	if _, err := m.history(ctx); err != nil {
		return err
	}

	var last migrationHistory
	if err := m.db.WithContext(ctx).Order("version DESC").First(&last).Error; err != nil {
		return fmt.Errorf("no migrations to rollback: %w", err)
	}

	migration, ok := m.find(last.Version)
	if !ok {
		return fmt.Errorf("migration %d not found", last.Version)
	}

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := migration.Down(tx); err != nil {
			return fmt.Errorf("rollback of migration %d failed: %w", migration.Version, err)
		}

		if err := tx.Delete(&last).Error; err != nil {
			return fmt.Errorf("failed to update migration history: %w", err)
		}
		return nil
	})
}

// Status returns migration status
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	applied, err := m.history(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(m.migrations))
	for _, migration := range m.migrations {
		status := MigrationStatus{
			Version:     migration.Version,
			Description: migration.Description,
		}
		if h, ok := applied[migration.Version]; ok {
			status.Applied = true
			status.AppliedAt = time.Unix(h.AppliedAt, 0)
		}
		statuses = append(statuses, status)
	}

	return statuses, nil
}

// history ensures the history table exists and returns applied migrations by version
func (m *Migrator) history(ctx context.Context) (map[int]migrationHistory, error) {
	if err := m.db.WithContext(ctx).AutoMigrate(&migrationHistory{}); err != nil {
		return nil, fmt.Errorf("failed to create migration history table: %w", err)
	}

	var applied []migrationHistory
	if err := m.db.WithContext(ctx).Find(&applied).Error; err != nil {
		return nil, fmt.Errorf("failed to query migration history: %w", err)
	}

	versions := make(map[int]migrationHistory, len(applied))
	for _, a := range applied {
		versions[a.Version] = a
	}
	return versions, nil
}

func (m *Migrator) find(version int) (Migration, bool) {
	for _, migration := range m.migrations {
		if migration.Version == version {
			return migration, true
		}
	}
	return Migration{}, false
}

func (m *Migrator) runMigration(ctx context.Context, migration Migration) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := migration.Up(tx); err != nil {
			return err
		}

		history := migrationHistory{
			Version:     migration.Version,
			Description: migration.Description,
		}
		return tx.Create(&history).Error
	})
}

// allMigrations returns all migrations in order
func allMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Initial staging schema",
			Up: func(db *gorm.DB) error {
				return db.AutoMigrate(
					&models.MediaType{},
					&models.Allocation{},
					&models.Request{},
					&models.Queue{},
				)
			},
			Down: func(db *gorm.DB) error {
				return db.Migrator().DropTable(
					&models.Queue{},
					&models.Request{},
					&models.Allocation{},
					&models.MediaType{},
				)
			},
		},
		{
			Version:     2,
			Description: "Index new requests in arrival order",
			Up: func(db *gorm.DB) error {
				return db.Exec("CREATE INDEX IF NOT EXISTS idx_requests_status_id ON requests (status, id)").Error
			},
			Down: func(db *gorm.DB) error {
				return db.Exec("DROP INDEX IF EXISTS idx_requests_status_id").Error
			},
		},
	}
}
