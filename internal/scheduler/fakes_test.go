package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mwantia/gostage/pkg/db/models"
	"github.com/mwantia/gostage/pkg/hsm"
)

type fakeClock struct {
	mutex sync.Mutex
	now   time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = c.now.Add(d)
}

type endedCall struct {
	QueueID string
	File    string
	Status  models.RequestStatus
	Code    int
}

// fakeStore keeps just enough state to check what the scheduler persisted.
type fakeStore struct {
	mutex sync.Mutex

	requests   []models.Request
	mediaTypes []models.MediaType
	queues     map[string]models.Queue

	submitted map[uint]string
	invalid   map[uint]int
	onDisk    []uint
	queued    []string
	ended     []endedCall
	aborted   map[string]int

	failQueued error
	failEnded  error
	failLoad   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		queues:    make(map[string]models.Queue),
		submitted: make(map[uint]string),
		invalid:   make(map[uint]int),
		aborted:   make(map[string]int),
	}
}

func (s *fakeStore) addRequest(file, user string) uint {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	id := uint(len(s.requests) + 1)
	s.requests = append(s.requests, models.Request{ID: id, File: file, User: user, Status: models.RequestCreated})
	return id
}

func (s *fakeStore) request(id uint) models.Request {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.requests[id-1]
}

func (s *fakeStore) setStatus(id uint, status models.RequestStatus) {
	s.requests[id-1].Status = status
}

func (s *fakeStore) endedCalls() []endedCall {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]endedCall(nil), s.ended...)
}

func (s *fakeStore) savedQueue(id string) (models.Queue, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	q, ok := s.queues[id]
	return q, ok
}

func (s *fakeStore) FetchNewRequests(_ context.Context, afterID uint, limit int) ([]models.Request, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var fresh []models.Request
	for _, req := range s.requests {
		if req.Status == models.RequestCreated && req.ID > afterID {
			fresh = append(fresh, req)
		}
		if limit > 0 && len(fresh) == limit {
			break
		}
	}
	return fresh, nil
}

func (s *fakeStore) MarkRequestSubmitted(_ context.Context, id uint, queueID, tape string, position, size int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	req := &s.requests[id-1]
	if req.Status != models.RequestCreated {
		return nil
	}
	req.Status = models.RequestSubmitted
	req.QueueID, req.Tape, req.Position, req.Size = queueID, tape, position, size
	s.submitted[id] = queueID
	return nil
}

func (s *fakeStore) MarkRequestInvalid(_ context.Context, id uint, code int, message string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.setStatus(id, models.RequestInvalid)
	s.requests[id-1].ErrorCode, s.requests[id-1].ErrorMessage = code, message
	s.invalid[id] = code
	return nil
}

func (s *fakeStore) MarkRequestOnDisk(_ context.Context, id uint) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.setStatus(id, models.RequestStaged)
	s.onDisk = append(s.onDisk, id)
	return nil
}

func (s *fakeStore) MarkRequestsQueued(_ context.Context, queueID, file string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.failQueued != nil {
		return s.failQueued
	}
	for i := range s.requests {
		req := &s.requests[i]
		if req.QueueID == queueID && req.File == file && req.Status == models.RequestSubmitted {
			req.Status = models.RequestQueued
		}
	}
	s.queued = append(s.queued, file)
	return nil
}

func (s *fakeStore) MarkRequestsEnded(_ context.Context, queueID, file string, status models.RequestStatus, code int, message string, _ time.Time) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.failEnded != nil {
		return s.failEnded
	}
	for i := range s.requests {
		req := &s.requests[i]
		if req.QueueID == queueID && req.File == file && !req.Status.Final() {
			req.Status, req.ErrorCode, req.ErrorMessage = status, code, message
		}
	}
	s.ended = append(s.ended, endedCall{QueueID: queueID, File: file, Status: status, Code: code})
	return nil
}

func (s *fakeStore) SaveQueue(_ context.Context, queue *models.Queue) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.queues[queue.ID] = *queue
	return nil
}

func (s *fakeStore) AbortQueue(_ context.Context, id string, code int, _ string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.aborted[id] = code
	return nil
}

func (s *fakeStore) AbortPendingQueues(_ context.Context) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var n int64
	for id, q := range s.queues {
		if q.Status == models.QueueCreated || q.Status == models.QueueActivated || q.Status == models.QueueSuspended {
			q.Status = models.QueueAborted
			s.queues[id] = q
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) UpsertMediaType(_ context.Context, mediaType *models.MediaType) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i := range s.mediaTypes {
		if s.mediaTypes[i].Name == mediaType.Name {
			mediaType.ID = s.mediaTypes[i].ID
			s.mediaTypes[i] = *mediaType
			return nil
		}
	}
	mediaType.ID = uint(len(s.mediaTypes) + 1)
	s.mediaTypes = append(s.mediaTypes, *mediaType)
	return nil
}

func (s *fakeStore) LoadMediaAllocations(_ context.Context) ([]models.MediaType, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.failLoad != nil {
		return nil, s.failLoad
	}
	return append([]models.MediaType(nil), s.mediaTypes...), nil
}

// fakeBridge resolves files from a table and answers stage calls from a
// per file script of errors; an exhausted script means success.
type fakeBridge struct {
	mutex sync.Mutex

	placements map[string]hsm.FileMetadata
	resolveErr map[string]error
	script     map[string][]error
	staged     []string
	resolved   int

	// block, when set, holds every Stage call until it is closed.
	block chan struct{}
	// entered, when set, receives once per Stage call before blocking.
	entered chan struct{}
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		placements: make(map[string]hsm.FileMetadata),
		resolveErr: make(map[string]error),
		script:     make(map[string][]error),
	}
}

func (b *fakeBridge) place(file, tape string, position int64) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.placements[file] = hsm.FileMetadata{File: file, Tape: tape, Position: position, Size: 1024}
}

func (b *fakeBridge) fail(file string, errs ...error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.script[file] = append(b.script[file], errs...)
}

func (b *fakeBridge) stagedFiles() []string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return append([]string(nil), b.staged...)
}

func (b *fakeBridge) Resolve(_ context.Context, file string) (hsm.FileMetadata, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.resolved++
	if err := b.resolveErr[file]; err != nil {
		return hsm.FileMetadata{}, err
	}
	meta, ok := b.placements[file]
	if !ok {
		return hsm.FileMetadata{}, hsm.NewError(hsm.ErrMetadata, "no such file %s", file)
	}
	return meta, nil
}

func (b *fakeBridge) Stage(ctx context.Context, req hsm.StageRequest) error {
	if b.entered != nil {
		b.entered <- struct{}{}
	}
	if b.block != nil {
		<-b.block
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	if errs := b.script[req.File]; len(errs) > 0 {
		b.script[req.File] = errs[1:]
		if errs[0] != nil {
			return errs[0]
		}
	}
	b.staged = append(b.staged, req.File)
	return nil
}

func mustMediaType(name, pattern string, drives int) *MediaType {
	mt, err := NewMediaType(0, name, pattern, drives)
	if err != nil {
		panic(fmt.Sprintf("media type %s: %v", name, err))
	}
	return mt
}

func fpotAt(file, tape string, mt *MediaType, position int64, user string) *FilePosition {
	return &FilePosition{
		File:      File{Name: file, Owner: User{Name: user}, Size: 1},
		Tape:      Tape{Name: tape, MediaType: mt},
		Position:  position,
		Requester: User{Name: user},
	}
}
