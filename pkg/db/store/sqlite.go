package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/mwantia/gostage/pkg/db/migrations"
	"github.com/mwantia/gostage/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SQLiteStore implements MetadataStore using SQLite
type SQLiteStore struct {
	db   *gorm.DB
	path string
}

var _ MetadataStore = (*SQLiteStore)(nil)

// DB returns the underlying GORM database instance
func (s *SQLiteStore) DB() *gorm.DB {
	return s.db
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path         string
	MaxOpenConns int
	LogLevel     logger.LogLevel
}

// ParseLogLevel maps a configured name onto a GORM log level
func ParseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "error":
		return logger.Error
	case "warn", "warning":
		return logger.Warn
	case "info", "debug":
		return logger.Info
	default:
		return logger.Silent
	}
}

// NewSQLiteStore creates a new SQLite-backed metadata store
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	// Default to silent logging
	if cfg.LogLevel == 0 {
		cfg.LogLevel = logger.Silent
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: logger.Default.LogMode(cfg.LogLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	return &SQLiteStore{
		db:   db,
		path: cfg.Path,
	}, nil
}

// Connect initializes the database connection
func (s *SQLiteStore) Connect(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(1) // SQLite only supports 1 writer
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}

// Migrate runs all pending schema migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	return migrations.NewMigrator(s.db).Migrate(ctx)
}

// Health checks database connectivity
func (s *SQLiteStore) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Media type operations

func (s *SQLiteStore) UpsertMediaType(ctx context.Context, mediaType *models.MediaType) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		allocations := mediaType.Allocations

		var existing models.MediaType
		err := tx.Where("name = ?", mediaType.Name).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Omit(clause.Associations).Create(mediaType).Error; err != nil {
				return fmt.Errorf("failed to create media type '%s': %w", mediaType.Name, err)
			}
		case err != nil:
			return err
		default:
			mediaType.ID = existing.ID
			if err := tx.Model(&existing).Updates(map[string]any{
				"pattern": mediaType.Pattern,
				"drives":  mediaType.Drives,
			}).Error; err != nil {
				return fmt.Errorf("failed to update media type '%s': %w", mediaType.Name, err)
			}
		}

		if err := tx.Where("media_type_id = ?", mediaType.ID).Delete(&models.Allocation{}).Error; err != nil {
			return fmt.Errorf("failed to clear allocations of '%s': %w", mediaType.Name, err)
		}

		for i := range allocations {
			allocations[i].ID = 0
			allocations[i].MediaTypeID = mediaType.ID
		}
		if len(allocations) > 0 {
			if err := tx.Create(&allocations).Error; err != nil {
				return fmt.Errorf("failed to create allocations of '%s': %w", mediaType.Name, err)
			}
		}

		mediaType.Allocations = allocations
		return nil
	})
}

func (s *SQLiteStore) LoadMediaAllocations(ctx context.Context) ([]models.MediaType, error) {
	var mediaTypes []models.MediaType
	err := s.db.WithContext(ctx).Preload("Allocations").Order("id").Find(&mediaTypes).Error
	return mediaTypes, err
}

// Request operations

func (s *SQLiteStore) CreateRequest(ctx context.Context, request *models.Request) error {
	if request.Status == "" {
		request.Status = models.RequestCreated
	}
	return s.db.WithContext(ctx).Create(request).Error
}

func (s *SQLiteStore) GetRequest(ctx context.Context, id uint) (*models.Request, error) {
	var request models.Request
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&request).Error
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func (s *SQLiteStore) ListRequests(ctx context.Context, status models.RequestStatus, limit, offset int) ([]models.Request, error) {
	var requests []models.Request
	query := s.db.WithContext(ctx).Order("id")

	if status != "" {
		query = query.Where("status = ?", status)
	}

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	err := query.Find(&requests).Error
	return requests, err
}

func (s *SQLiteStore) FetchNewRequests(ctx context.Context, afterID uint, limit int) ([]models.Request, error) {
	var requests []models.Request
	query := s.db.WithContext(ctx).
		Where("status = ? AND id > ?", models.RequestCreated, afterID).
		Order("id")

	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Find(&requests).Error
	return requests, err
}

func (s *SQLiteStore) MarkRequestSubmitted(ctx context.Context, id uint, queueID, tape string, position, size int64) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&models.Request{}).
		Where("id = ? AND status = ?", id, models.RequestCreated).
		Updates(map[string]any{
			"status":       models.RequestSubmitted,
			"queue_id":     queueID,
			"tape":         tape,
			"position":     position,
			"size":         size,
			"submitted_at": &now,
		}).Error
}

func (s *SQLiteStore) MarkRequestInvalid(ctx context.Context, id uint, code int, message string) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&models.Request{}).
		Where("id = ? AND status = ?", id, models.RequestCreated).
		Updates(map[string]any{
			"status":        models.RequestInvalid,
			"error_code":    code,
			"error_message": message,
			"ended_at":      &now,
		}).Error
}

func (s *SQLiteStore) MarkRequestOnDisk(ctx context.Context, id uint) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&models.Request{}).
		Where("id = ? AND status = ?", id, models.RequestCreated).
		Updates(map[string]any{
			"status":   models.RequestStaged,
			"ended_at": &now,
		}).Error
}

func (s *SQLiteStore) MarkRequestsQueued(ctx context.Context, queueID, file string) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&models.Request{}).
		Where("queue_id = ? AND file = ? AND status = ?", queueID, file, models.RequestSubmitted).
		Updates(map[string]any{
			"status":    models.RequestQueued,
			"queued_at": &now,
		}).Error
}

func (s *SQLiteStore) MarkRequestsEnded(ctx context.Context, queueID, file string, status models.RequestStatus, code int, message string, at time.Time) error {
	if !status.Final() {
		return fmt.Errorf("request status '%s' is not final", status)
	}

	at = at.UTC()
	return s.db.WithContext(ctx).Model(&models.Request{}).
		Where("queue_id = ? AND file = ? AND status IN ?", queueID, file,
			[]models.RequestStatus{models.RequestSubmitted, models.RequestQueued}).
		Updates(map[string]any{
			"status":        status,
			"error_code":    code,
			"error_message": message,
			"ended_at":      &at,
		}).Error
}

// Queue operations

func (s *SQLiteStore) SaveQueue(ctx context.Context, queue *models.Queue) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(queue).Error
}

func (s *SQLiteStore) GetQueue(ctx context.Context, id string) (*models.Queue, error) {
	var queue models.Queue
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&queue).Error
	if err != nil {
		return nil, err
	}
	return &queue, nil
}

func (s *SQLiteStore) ListQueues(ctx context.Context, statuses ...models.QueueStatus) ([]models.Queue, error) {
	var queues []models.Queue
	query := s.db.WithContext(ctx).Order("created_at")

	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}

	err := query.Find(&queues).Error
	return queues, err
}

func (s *SQLiteStore) AbortQueue(ctx context.Context, id string, code int, message string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		if err := tx.Model(&models.Queue{}).
			Where("id = ? AND status NOT IN ?", id, []models.QueueStatus{models.QueueEnded, models.QueueAborted}).
			Updates(map[string]any{
				"status":        models.QueueAborted,
				"error_code":    code,
				"error_message": message,
				"ended_at":      &now,
			}).Error; err != nil {
			return fmt.Errorf("failed to abort queue '%s': %w", id, err)
		}

		return tx.Model(&models.Request{}).
			Where("queue_id = ? AND status IN ?", id,
				[]models.RequestStatus{models.RequestSubmitted, models.RequestQueued}).
			Updates(map[string]any{
				"status":        models.RequestFailed,
				"error_code":    code,
				"error_message": message,
				"ended_at":      &now,
			}).Error
	})
}

// AbortPendingQueues closes every queue left open by a previous run and
// hands their unfinished requests back to the dispatcher.
func (s *SQLiteStore) AbortPendingQueues(ctx context.Context) (int64, error) {
	var aborted int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		result := tx.Model(&models.Queue{}).
			Where("status IN ?", []models.QueueStatus{models.QueueCreated, models.QueueActivated, models.QueueSuspended}).
			Updates(map[string]any{
				"status":        models.QueueAborted,
				"error_message": "aborted on startup",
				"ended_at":      &now,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to abort pending queues: %w", result.Error)
		}
		aborted = result.RowsAffected

		return tx.Model(&models.Request{}).
			Where("status IN ?", []models.RequestStatus{models.RequestSubmitted, models.RequestQueued}).
			Updates(map[string]any{
				"status":       models.RequestCreated,
				"queue_id":     "",
				"tape":         "",
				"position":     0,
				"submitted_at": nil,
				"queued_at":    nil,
			}).Error
	})

	return aborted, err
}
