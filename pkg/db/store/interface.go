package store

import (
	"context"
	"time"

	"github.com/mwantia/gostage/pkg/db/models"
)

// MetadataStore defines the interface for database operations
//
// Every write is keyed by request id or by queue id and file, and only
// touches rows that are still in the expected source state. Repeating
// a call therefore never changes an already reached final state.
type MetadataStore interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	Health(ctx context.Context) error

	// Media type operations
	UpsertMediaType(ctx context.Context, mediaType *models.MediaType) error
	LoadMediaAllocations(ctx context.Context) ([]models.MediaType, error)

	// Request operations
	CreateRequest(ctx context.Context, request *models.Request) error
	GetRequest(ctx context.Context, id uint) (*models.Request, error)
	ListRequests(ctx context.Context, status models.RequestStatus, limit, offset int) ([]models.Request, error)
	FetchNewRequests(ctx context.Context, afterID uint, limit int) ([]models.Request, error)
	MarkRequestSubmitted(ctx context.Context, id uint, queueID, tape string, position, size int64) error
	MarkRequestInvalid(ctx context.Context, id uint, code int, message string) error
	MarkRequestOnDisk(ctx context.Context, id uint) error
	MarkRequestsQueued(ctx context.Context, queueID, file string) error
	MarkRequestsEnded(ctx context.Context, queueID, file string, status models.RequestStatus, code int, message string, at time.Time) error

	// Queue operations
	SaveQueue(ctx context.Context, queue *models.Queue) error
	GetQueue(ctx context.Context, id string) (*models.Queue, error)
	ListQueues(ctx context.Context, statuses ...models.QueueStatus) ([]models.Queue, error)
	AbortQueue(ctx context.Context, id string, code int, message string) error
	AbortPendingQueues(ctx context.Context) (int64, error)
}
