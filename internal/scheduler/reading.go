package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mwantia/gostage/pkg/db/models"
	"github.com/mwantia/gostage/pkg/hsm"
)

type ReadingStatus int

const (
	ReadingSubmitted ReadingStatus = iota
	ReadingQueued
	ReadingStaged
	ReadingFailed
)

func (s ReadingStatus) String() string {
	switch s {
	case ReadingSubmitted:
		return "submitted"
	case ReadingQueued:
		return "queued"
	case ReadingStaged:
		return "staged"
	case ReadingFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal reports whether the reading is done, successfully or not.
func (s ReadingStatus) Terminal() bool {
	return s == ReadingStaged || s == ReadingFailed
}

// readingTransitions lists every legal move; anything else is rejected.
var readingTransitions = map[ReadingStatus][]ReadingStatus{
	ReadingSubmitted: {ReadingQueued},
	ReadingQueued:    {ReadingStaged, ReadingFailed},
}

func validReadingTransition(from, to ReadingStatus) bool {
	for _, next := range readingTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ReadingReporter persists reading status changes onto the request rows.
type ReadingReporter interface {
	MarkRequestsQueued(ctx context.Context, queueID, file string) error
	MarkRequestsEnded(ctx context.Context, queueID, file string, status models.RequestStatus, code int, message string, at time.Time) error
}

// invalidator is implemented by bridges that cache file placements.
type invalidator interface {
	Invalidate(file string)
}

// Reading binds one file position into a queue and tracks its staging attempts.
type Reading struct {
	mutex sync.Mutex

	fpot       *FilePosition
	retries    int
	maxRetries int
	status     ReadingStatus

	errorCode    int
	errorMessage string

	// Back reference only; the queue owns the reading, not the other way around.
	queue *Queue
}

func newReading(fpot *FilePosition, maxRetries int, queue *Queue) (*Reading, error) {
	if err := fpot.Validate(); err != nil {
		return nil, err
	}
	if maxRetries < 0 {
		return nil, fmt.Errorf("%w: negative retry count %d", ErrInvalidParameter, maxRetries)
	}
	if queue == nil {
		return nil, fmt.Errorf("%w: reading of '%s' without queue", ErrInvalidParameter, fpot.File.Name)
	}

	return &Reading{
		fpot:       fpot,
		maxRetries: maxRetries,
		status:     ReadingSubmitted,
		queue:      queue,
	}, nil
}

func (r *Reading) FilePosition() *FilePosition {
	return r.fpot
}

func (r *Reading) Position() int64 {
	return r.fpot.Position
}

func (r *Reading) Status() ReadingStatus {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.status
}

func (r *Reading) Retries() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.retries
}

func (r *Reading) MaxRetries() int {
	return r.maxRetries
}

// Error returns the last recorded error code and message.
func (r *Reading) Error() (int, string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.errorCode, r.errorMessage
}

// SetStatus moves the reading to next and persists the change.
// The in-memory status only changes once the change has been persisted.
func (r *Reading) SetStatus(ctx context.Context, next ReadingStatus) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.setStatus(ctx, next)
}

func (r *Reading) setStatus(ctx context.Context, next ReadingStatus) error {
	if !validReadingTransition(r.status, next) {
		return fmt.Errorf("%w: reading of '%s' cannot go from %s to %s",
			ErrInvalidTransition, r.fpot.File.Name, r.status, next)
	}

	if err := r.report(ctx, next); err != nil {
		return fmt.Errorf("failed to persist status %s of '%s': %w", next, r.fpot.File.Name, err)
	}

	r.status = next
	return nil
}

func (r *Reading) report(ctx context.Context, next ReadingStatus) error {
	reporter := r.queue.opts.Reporter
	if reporter == nil {
		return nil
	}

	queueID, file := r.queue.ID(), r.fpot.File.Name
	switch next {
	case ReadingQueued:
		return reporter.MarkRequestsQueued(ctx, queueID, file)
	case ReadingStaged:
		return reporter.MarkRequestsEnded(ctx, queueID, file, models.RequestStaged, hsm.CodeNone, "", r.queue.now())
	case ReadingFailed:
		return reporter.MarkRequestsEnded(ctx, queueID, file, models.RequestFailed, r.errorCode, r.errorMessage, r.queue.now())
	default:
		return nil
	}
}

func (r *Reading) fail(ctx context.Context, code int, message string) error {
	r.errorCode = code
	r.errorMessage = message
	return r.setStatus(ctx, ReadingFailed)
}

// Stage performs one staging attempt through the bridge.
//
// It returns nil when the attempt has been accounted for: the reading is
// then STAGED, FAILED, or still QUEUED with one more retry recorded.
// hsm.ErrResourceExhausted is returned unchanged so the caller can suspend
// the queue; the reading stays QUEUED in that case.
func (r *Reading) Stage(ctx context.Context) error {
	bridge := r.queue.opts.Bridge
	if bridge == nil {
		return fmt.Errorf("%w: queue %s has no bridge", ErrInvalidParameter, r.queue.ID())
	}

	r.mutex.Lock()
	switch r.status {
	case ReadingStaged, ReadingFailed:
		r.mutex.Unlock()
		return nil
	case ReadingSubmitted:
		if err := r.setStatus(ctx, ReadingQueued); err != nil {
			r.mutex.Unlock()
			return err
		}
	}

	stale := r.fpot.Stale(r.queue.now(), r.queue.opts.MetadataMaxAge)
	req := hsm.StageRequest{
		File:     r.fpot.File.Name,
		Tape:     r.fpot.Tape.Name,
		Position: r.fpot.Position,
		Size:     r.fpot.File.Size,
		User:     r.fpot.Requester.Name,
	}
	r.mutex.Unlock()

	if stale {
		if done, err := r.refresh(ctx, bridge); done || err != nil {
			return err
		}
	}

	err := bridge.Stage(ctx, req)

	r.mutex.Lock()
	defer r.mutex.Unlock()

	switch {
	case err == nil:
		if cache, ok := bridge.(invalidator); ok {
			cache.Invalidate(req.File)
		}
		return r.setStatus(ctx, ReadingStaged)

	case errors.Is(err, hsm.ErrResourceExhausted):
		return err

	case errors.Is(err, hsm.ErrTransientStage):
		r.retries++
		r.errorCode, r.errorMessage = hsm.Describe(err)
		if r.retries < r.maxRetries {
			return nil
		}
		return r.setStatus(ctx, ReadingFailed)

	default:
		code, message := hsm.Describe(err)
		return r.fail(ctx, code, message)
	}
}

// refresh resolves a stale placement again. It returns done when the
// reading reached a terminal state without needing a stage attempt.
func (r *Reading) refresh(ctx context.Context, bridge hsm.Bridge) (bool, error) {
	meta, err := bridge.Resolve(ctx, r.fpot.File.Name)

	r.mutex.Lock()
	defer r.mutex.Unlock()

	switch {
	case err != nil:
		code, message := hsm.Describe(err)
		return true, r.fail(ctx, code, message)
	case meta.OnDisk:
		return true, r.setStatus(ctx, ReadingStaged)
	case meta.Tape != r.fpot.Tape.Name:
		return true, r.fail(ctx, hsm.CodeMetadata,
			fmt.Sprintf("file moved from tape %s to %s", r.fpot.Tape.Name, meta.Tape))
	}

	r.fpot.ResolvedAt = r.queue.now()
	return false, nil
}
