package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mwantia/gostage/pkg/hsm"
	"github.com/mwantia/gostage/pkg/log"
)

// Stager walks one activated queue and stages its readings in tape order.
type Stager struct {
	queue   *Queue
	logger  log.LoggerService
	metrics *metrics
	stop    <-chan struct{}
}

// Run stages readings until the queue ends, gets suspended, or stop is
// closed. A reading in progress is always finished before stop is honoured.
func (s *Stager) Run(ctx context.Context) error {
	for {
		select {
		case <-s.stop:
			s.logger.Debug("Stopped stager of queue %s at position %d", s.queue.ID(), s.queue.HeadPosition())
			return nil
		default:
		}

		reading, err := s.queue.GetNextReading()
		if err != nil {
			return err
		}
		if reading == nil {
			s.logger.Info("Queue %s of tape %s has ended", s.queue.ID(), s.queue.Tape().Name)
			return nil
		}

		err = reading.Stage(ctx)
		switch {
		case errors.Is(err, hsm.ErrResourceExhausted):
			s.logger.Warn("Suspending queue %s of tape %s: %v", s.queue.ID(), s.queue.Tape().Name, err)
			return s.suspend()
		case err != nil:
			s.logger.Error("Failed to stage '%s' from %s: %v", reading.FilePosition().File.Name, s.queue.Tape().Name, err)
			if serr := s.suspend(); serr != nil {
				return errors.Join(err, serr)
			}
			return err
		}

		s.account(reading)
	}
}

func (s *Stager) suspend() error {
	if err := s.queue.Suspend(); err != nil {
		return fmt.Errorf("failed to suspend queue %s: %w", s.queue.ID(), err)
	}
	s.metrics.suspensions.Inc()
	return nil
}

func (s *Stager) account(reading *Reading) {
	file := reading.FilePosition().File.Name

	switch reading.Status() {
	case ReadingStaged:
		s.metrics.readings.WithLabelValues("staged").Inc()
		s.logger.Debug("Staged '%s' from %s at %d", file, s.queue.Tape().Name, reading.Position())
	case ReadingFailed:
		s.metrics.readings.WithLabelValues("failed").Inc()
		_, message := reading.Error()
		s.logger.Warn("Failed to stage '%s' from %s: %s", file, s.queue.Tape().Name, message)
	default:
		s.metrics.readings.WithLabelValues("retried").Inc()
		s.logger.Debug("Retrying '%s' from %s (%d/%d)", file, s.queue.Tape().Name, reading.Retries(), reading.MaxRetries())
	}
}

// StagersController bounds and tracks the running stagers.
type StagersController struct {
	mutex sync.Mutex

	logger  log.LoggerService
	metrics *metrics
	limit   int
	onDone  func(ctx context.Context, queue *Queue)

	stagers   map[string]*Stager
	stop      chan struct{}
	concluded bool
	wait      sync.WaitGroup
}

func newStagersController(limit int, onDone func(context.Context, *Queue), m *metrics, logger log.LoggerService) *StagersController {
	return &StagersController{
		logger:  logger,
		metrics: m,
		limit:   limit,
		onDone:  onDone,
		stagers: make(map[string]*Stager),
		stop:    make(chan struct{}),
	}
}

// SetLimit changes the pool size; running stagers are not affected.
func (c *StagersController) SetLimit(limit int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.limit = limit
}

func (c *StagersController) Limit() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.limit
}

// Available returns the number of free stager slots.
func (c *StagersController) Available() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.concluded {
		return 0
	}
	return max(c.limit-len(c.stagers), 0)
}

func (c *StagersController) Running() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.stagers)
}

func (c *StagersController) IsRunning(queueID string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	_, ok := c.stagers[queueID]
	return ok
}

// Start runs a stager for an activated queue. Staging calls are detached
// from ctx cancellation so that an in-flight reading always completes.
func (c *StagersController) Start(ctx context.Context, queue *Queue) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	switch {
	case c.concluded:
		return ErrConcluded
	case len(c.stagers) >= c.limit:
		return fmt.Errorf("%w: %d stagers running", ErrPoolFull, len(c.stagers))
	case c.stagers[queue.ID()] != nil:
		return fmt.Errorf("%w: queue %s already has a stager", ErrInvalidState, queue.ID())
	}

	stager := &Stager{
		queue:   queue,
		logger:  c.logger,
		metrics: c.metrics,
		stop:    c.stop,
	}
	c.stagers[queue.ID()] = stager
	c.metrics.stagers.Set(float64(len(c.stagers)))

	ctx = context.WithoutCancel(ctx)
	c.wait.Add(1)
	go func() {
		defer c.wait.Done()

		if err := stager.Run(ctx); err != nil {
			c.logger.Error("Stager of queue %s stopped: %v", queue.ID(), err)
		}

		c.mutex.Lock()
		delete(c.stagers, queue.ID())
		c.metrics.stagers.Set(float64(len(c.stagers)))
		c.mutex.Unlock()

		if c.onDone != nil {
			c.onDone(ctx, queue)
		}
	}()

	return nil
}

// Conclude asks every stager to stop after its current reading and
// refuses new ones.
func (c *StagersController) Conclude() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.concluded {
		c.concluded = true
		close(c.stop)
	}
}

// WaitToFinish blocks until every stager has returned or ctx is done.
func (c *StagersController) WaitToFinish(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wait.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stagers still running: %w", ctx.Err())
	}
}
