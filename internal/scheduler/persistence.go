package scheduler

import (
	"context"

	"github.com/mwantia/gostage/pkg/db/models"
)

// Persistence is the part of the metadata store the scheduler writes through.
// Every call must be safe to repeat.
type Persistence interface {
	ReadingReporter

	// FetchNewRequests returns CREATED requests with an id above afterID, ordered by id.
	FetchNewRequests(ctx context.Context, afterID uint, limit int) ([]models.Request, error)
	MarkRequestSubmitted(ctx context.Context, id uint, queueID, tape string, position, size int64) error
	MarkRequestInvalid(ctx context.Context, id uint, code int, message string) error
	MarkRequestOnDisk(ctx context.Context, id uint) error

	SaveQueue(ctx context.Context, queue *models.Queue) error
	AbortQueue(ctx context.Context, id string, code int, message string) error
	AbortPendingQueues(ctx context.Context) (int64, error)

	UpsertMediaType(ctx context.Context, mediaType *models.MediaType) error
	LoadMediaAllocations(ctx context.Context) ([]models.MediaType, error)
}
