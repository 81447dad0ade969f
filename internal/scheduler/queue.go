package scheduler

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mwantia/gostage/pkg/db/models"
	"github.com/mwantia/gostage/pkg/hsm"
)

type QueueStatus int

const (
	QueueCreated QueueStatus = iota
	QueueActivated
	QueueTemporarilySuspended
	QueueEnded
)

func (s QueueStatus) String() string {
	return string(s.Model())
}

// Model maps the status onto its persisted value.
func (s QueueStatus) Model() models.QueueStatus {
	switch s {
	case QueueCreated:
		return models.QueueCreated
	case QueueActivated:
		return models.QueueActivated
	case QueueTemporarilySuspended:
		return models.QueueSuspended
	case QueueEnded:
		return models.QueueEnded
	default:
		return models.QueueStatus(fmt.Sprintf("unknown(%d)", int(s)))
	}
}

type QueueOptions struct {
	// MaxSuspendRetries is the number of suspensions after which Unsuspend gives up.
	MaxSuspendRetries int
	// MetadataMaxAge bounds how long a resolved placement is trusted; zero disables the check.
	MetadataMaxAge time.Duration

	Bridge   hsm.Bridge
	Reporter ReadingReporter
	// Now defaults to time.Now.
	Now func() time.Time
}

// Queue holds every reading pending on one tape, sorted by position.
type Queue struct {
	mutex sync.Mutex

	id   string
	tape Tape
	opts QueueOptions

	readings  map[int64]*Reading
	positions []int64

	status         QueueStatus
	headPosition   int64
	suspendRetries int

	owner  User
	owners map[string]int

	createdAt   time.Time
	activatedAt time.Time
	suspendedAt time.Time
	endedAt     time.Time
}

func NewQueue(tape Tape, opts QueueOptions) (*Queue, error) {
	if tape.Name == "" {
		return nil, fmt.Errorf("%w: queue without tape", ErrInvalidParameter)
	}
	if opts.MaxSuspendRetries < 0 {
		return nil, fmt.Errorf("%w: negative max suspend retries %d", ErrInvalidParameter, opts.MaxSuspendRetries)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Queue{
		id:        uuid.NewString(),
		tape:      tape,
		opts:      opts,
		readings:  make(map[int64]*Reading),
		status:    QueueCreated,
		owners:    make(map[string]int),
		createdAt: opts.Now(),
	}, nil
}

func (q *Queue) now() time.Time {
	return q.opts.Now()
}

func (q *Queue) ID() string {
	return q.id
}

func (q *Queue) Tape() Tape {
	return q.tape
}

// MediaTypeName returns an empty string when the tape has no media type.
func (q *Queue) MediaTypeName() string {
	if q.tape.MediaType == nil {
		return ""
	}
	return q.tape.MediaType.Name
}

func (q *Queue) Status() QueueStatus {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.status
}

func (q *Queue) Owner() User {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.owner
}

// OwnerCount returns how many readings of the queue were first requested by user.
func (q *Queue) OwnerCount(user string) int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.owners[user]
}

func (q *Queue) HeadPosition() int64 {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.headPosition
}

func (q *Queue) SuspendRetries() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.suspendRetries
}

func (q *Queue) CreatedAt() time.Time {
	return q.createdAt
}

func (q *Queue) SuspendedAt() time.Time {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.suspendedAt
}

// Len returns the number of readings, terminal ones included.
func (q *Queue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.positions)
}

// ReadingAt returns the reading registered at position, or nil.
func (q *Queue) ReadingAt(position int64) *Reading {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.readings[position]
}

// Readings returns every reading in position order.
func (q *Queue) Readings() []*Reading {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	readings := make([]*Reading, 0, len(q.positions))
	for _, pos := range q.positions {
		readings = append(readings, q.readings[pos])
	}
	return readings
}

// RegisterFPOT adds a file position to the queue. It returns merged when a
// reading already exists at that position; the existing reading then serves
// the request and the owner counts stay untouched.
func (q *Queue) RegisterFPOT(fpot *FilePosition, maxRetries int) (bool, error) {
	if err := fpot.Validate(); err != nil {
		return false, err
	}
	if fpot.Tape.Name != q.tape.Name {
		return false, fmt.Errorf("%w: tape %s registered in queue of %s", ErrInvalidParameter, fpot.Tape.Name, q.tape.Name)
	}

	q.mutex.Lock()
	defer q.mutex.Unlock()

	switch {
	case q.status == QueueEnded:
		return false, fmt.Errorf("%w: queue %s of %s has ended", ErrInvalidState, q.id, q.tape.Name)
	case q.status == QueueActivated && fpot.Position < q.headPosition:
		return false, fmt.Errorf("%w: position %d on %s, head is at %d", ErrBehindHead, fpot.Position, q.tape.Name, q.headPosition)
	}

	if _, ok := q.readings[fpot.Position]; ok {
		return true, nil
	}

	reading, err := newReading(fpot, maxRetries, q)
	if err != nil {
		return false, err
	}

	idx, _ := slices.BinarySearch(q.positions, fpot.Position)
	q.positions = slices.Insert(q.positions, idx, fpot.Position)
	q.readings[fpot.Position] = reading

	user := fpot.Requester
	q.owners[user.Name]++
	// Ties go to the latest requester.
	if q.owner.Name == "" || q.owners[user.Name] >= q.owners[q.owner.Name] {
		q.owner = user
	}

	return false, nil
}

// GetNextReading returns the first non terminal reading at or after the
// head and moves the head onto it. The queue ends when none is left, in
// which case nil is returned without error.
func (q *Queue) GetNextReading() (*Reading, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.status != QueueActivated {
		return nil, fmt.Errorf("%w: queue %s is %s", ErrInvalidState, q.id, q.status)
	}

	idx, _ := slices.BinarySearch(q.positions, q.headPosition)
	for ; idx < len(q.positions); idx++ {
		pos := q.positions[idx]
		if reading := q.readings[pos]; !reading.Status().Terminal() {
			q.headPosition = pos
			return reading, nil
		}
	}

	q.status = QueueEnded
	q.endedAt = q.now()
	return nil, nil
}

// SetHeadPosition moves the head forward on an activated queue.
func (q *Queue) SetHeadPosition(position int64) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.status != QueueActivated {
		return fmt.Errorf("%w: head of queue %s cannot move while %s", ErrInvalidState, q.id, q.status)
	}
	if position < 0 || position < q.headPosition {
		return fmt.Errorf("%w: head of %s cannot move from %d to %d", ErrInvalidParameter, q.tape.Name, q.headPosition, position)
	}

	q.headPosition = position
	return nil
}

// ChangeToActivated starts reading the tape from its beginning.
func (q *Queue) ChangeToActivated() error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.status != QueueCreated {
		return q.illegal(QueueActivated)
	}

	now := q.now()
	if now.Before(q.createdAt) {
		return fmt.Errorf("%w: activation of %s before its creation", ErrInvalidParameter, q.id)
	}

	q.status = QueueActivated
	q.activatedAt = now
	q.headPosition = 0
	return nil
}

// deactivate undoes an activation whose stager never started. The queue
// goes back to CREATED and keeps its suspend retries.
func (q *Queue) deactivate() error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.status != QueueActivated {
		return q.illegal(QueueCreated)
	}

	q.status = QueueCreated
	q.activatedAt = time.Time{}
	return nil
}

// ChangeToEnded closes the queue; no reading can be registered afterwards.
func (q *Queue) ChangeToEnded() error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.status != QueueCreated && q.status != QueueActivated {
		return q.illegal(QueueEnded)
	}

	q.status = QueueEnded
	q.endedAt = q.now()
	return nil
}

func (q *Queue) Suspend() error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.status != QueueActivated {
		return q.illegal(QueueTemporarilySuspended)
	}

	q.status = QueueTemporarilySuspended
	q.suspendRetries++
	q.suspendedAt = q.now()
	return nil
}

// Unsuspend puts a suspended queue back in line for activation. Once the
// queue has been suspended more than MaxSuspendRetries times it stays
// suspended and ErrMaxSuspendRetries is returned.
func (q *Queue) Unsuspend() error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.status != QueueTemporarilySuspended {
		return q.illegal(QueueCreated)
	}
	if q.suspendRetries > q.opts.MaxSuspendRetries {
		return fmt.Errorf("%w: queue %s of %s was suspended %d times",
			ErrMaxSuspendRetries, q.id, q.tape.Name, q.suspendRetries)
	}

	q.status = QueueCreated
	return nil
}

func (q *Queue) illegal(next QueueStatus) error {
	return fmt.Errorf("%w: queue %s cannot go from %s to %s", ErrInvalidTransition, q.id, q.status, next)
}

// Record converts the queue into its persisted row.
func (q *Queue) Record() *models.Queue {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	record := &models.Queue{
		ID:             q.id,
		Tape:           q.tape.Name,
		MediaType:      q.MediaTypeName(),
		Status:         q.status.Model(),
		Owner:          q.owner.Name,
		HeadPosition:   q.headPosition,
		SuspendRetries: q.suspendRetries,
		Readings:       len(q.positions),
		CreatedAt:      q.createdAt,
		ActivatedAt:    timePtr(q.activatedAt),
		SuspendedAt:    timePtr(q.suspendedAt),
		EndedAt:        timePtr(q.endedAt),
	}
	return record
}

// QueueSnapshot is a point in time copy of a queue.
type QueueSnapshot struct {
	ID             string     `json:"id"`
	Tape           string     `json:"tape"`
	MediaType      string     `json:"media_type"`
	Status         string     `json:"status"`
	Owner          string     `json:"owner"`
	HeadPosition   int64      `json:"head_position"`
	SuspendRetries int        `json:"suspend_retries"`
	Readings       int        `json:"readings"`
	Pending        int        `json:"pending"`
	CreatedAt      time.Time  `json:"created_at"`
	ActivatedAt    *time.Time `json:"activated_at,omitempty"`
	SuspendedAt    *time.Time `json:"suspended_at,omitempty"`
}

func (q *Queue) Snapshot() QueueSnapshot {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	pending := 0
	for _, reading := range q.readings {
		if !reading.Status().Terminal() {
			pending++
		}
	}

	return QueueSnapshot{
		ID:             q.id,
		Tape:           q.tape.Name,
		MediaType:      q.MediaTypeName(),
		Status:         q.status.String(),
		Owner:          q.owner.Name,
		HeadPosition:   q.headPosition,
		SuspendRetries: q.suspendRetries,
		Readings:       len(q.positions),
		Pending:        pending,
		CreatedAt:      q.createdAt,
		ActivatedAt:    timePtr(q.activatedAt),
		SuspendedAt:    timePtr(q.suspendedAt),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
