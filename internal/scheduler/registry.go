package scheduler

import (
	"errors"
	"slices"
	"strings"
	"sync"
)

// Registry holds the live queue of every tape. At most one queue per tape
// is live; an ended queue is replaced on the next registration.
type Registry struct {
	mutex  sync.Mutex
	byTape map[string]*Queue
	opts   QueueOptions
}

func NewRegistry(opts QueueOptions) *Registry {
	return &Registry{
		byTape: make(map[string]*Queue),
		opts:   opts,
	}
}

// Registration describes where Register placed a file position.
type Registration struct {
	Queue   *Queue
	Reading *Reading
	Created bool
	Merged  bool
}

// Register adds fpot to the live queue of its tape, creating the queue when
// there is none or when the current one has ended.
func (r *Registry) Register(fpot *FilePosition, maxRetries int) (Registration, error) {
	if err := fpot.Validate(); err != nil {
		return Registration{}, err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	var reg Registration
	queue := r.byTape[fpot.Tape.Name]
	if queue == nil || queue.Status() == QueueEnded {
		created, err := NewQueue(fpot.Tape, r.opts)
		if err != nil {
			return reg, err
		}
		queue, reg.Created = created, true
	}

	merged, err := queue.RegisterFPOT(fpot, maxRetries)
	// The stager may end the queue between the status check and the registration.
	if errors.Is(err, ErrInvalidState) && !reg.Created {
		if queue, err = NewQueue(fpot.Tape, r.opts); err != nil {
			return reg, err
		}
		reg.Created = true
		merged, err = queue.RegisterFPOT(fpot, maxRetries)
	}
	if err != nil {
		return reg, err
	}

	if reg.Created {
		r.byTape[fpot.Tape.Name] = queue
	}

	reg.Queue = queue
	reg.Reading = queue.ReadingAt(fpot.Position)
	reg.Merged = merged
	return reg, nil
}

func (r *Registry) Get(tape string) *Queue {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.byTape[tape]
}

// Remove drops the queue if it still is the live queue of its tape.
func (r *Registry) Remove(queue *Queue) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.byTape[queue.Tape().Name] == queue {
		delete(r.byTape, queue.Tape().Name)
	}
}

func (r *Registry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.byTape)
}

// Queues returns every live queue, oldest first with the id breaking ties.
func (r *Registry) Queues() []*Queue {
	r.mutex.Lock()
	queues := make([]*Queue, 0, len(r.byTape))
	for _, queue := range r.byTape {
		queues = append(queues, queue)
	}
	r.mutex.Unlock()

	slices.SortFunc(queues, compareQueues)
	return queues
}

// Pending returns the live queues in the given statuses, in Queues order.
func (r *Registry) Pending(statuses ...QueueStatus) []*Queue {
	queues := r.Queues()
	return slices.DeleteFunc(queues, func(q *Queue) bool {
		return !slices.Contains(statuses, q.Status())
	})
}

func compareQueues(a, b *Queue) int {
	if c := a.CreatedAt().Compare(b.CreatedAt()); c != 0 {
		return c
	}
	return strings.Compare(a.ID(), b.ID())
}
