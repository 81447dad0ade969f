package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mwantia/gostage/pkg/hsm"
	"github.com/mwantia/gostage/pkg/log"
)

type ActivatorOptions struct {
	Interval         time.Duration
	SuspendDuration  time.Duration
	AllocationMaxAge time.Duration
	Now              func() time.Time
}

// allocation remembers which drive an activated queue holds.
type allocation struct {
	user      User
	mediaType string
}

// Activator picks created queues and hands them to stagers while drives
// are free, honouring the per user allocations first.
type Activator struct {
	mutex sync.Mutex

	logger     log.LoggerService
	store      Persistence
	registry   *Registry
	catalog    *MediaCatalog
	controller *StagersController
	metrics    *metrics
	opts       ActivatorOptions

	resources map[string]*Resource
	running   map[string]allocation
	loadedAt  time.Time

	loop loop
}

func newActivator(opts ActivatorOptions, store Persistence, registry *Registry, catalog *MediaCatalog, m *metrics, logger log.LoggerService) *Activator {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	a := &Activator{
		logger:    logger,
		store:     store,
		registry:  registry,
		catalog:   catalog,
		metrics:   m,
		opts:      opts,
		resources: make(map[string]*Resource),
		running:   make(map[string]allocation),
	}
	a.loop = loop{
		name:     "activator",
		interval: opts.Interval,
		logger:   logger,
		cycle:    a.RunOnce,
	}
	return a
}

func (a *Activator) setController(controller *StagersController) {
	a.controller = controller
}

func (a *Activator) Start(ctx context.Context) {
	a.loop.start(ctx)
}

func (a *Activator) Stop() {
	a.loop.stop()
}

// RunOnce refreshes stale allocations, unsuspends queues whose suspension
// is over and activates at most one queue.
func (a *Activator) RunOnce(ctx context.Context) error {
	if a.stale() {
		if err := a.Refresh(ctx); err != nil {
			a.mutex.Lock()
			empty := len(a.resources) == 0
			a.mutex.Unlock()
			if empty {
				return err
			}
			a.logger.Warn("Keeping previous media allocations: %v", err)
		}
	}

	a.unsuspend(ctx)

	queue := a.activateNext(ctx)
	if queue != nil {
		if err := a.store.SaveQueue(ctx, queue.Record()); err != nil {
			a.logger.Error("Failed to save activated queue %s: %v", queue.ID(), err)
		}
	}

	a.mutex.Lock()
	a.metrics.updateResources(a.resources)
	a.mutex.Unlock()
	a.metrics.updateQueues(a.registry.Queues())
	return nil
}

func (a *Activator) stale() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if len(a.resources) == 0 {
		return true
	}
	return a.opts.AllocationMaxAge > 0 && a.opts.Now().Sub(a.loadedAt) > a.opts.AllocationMaxAge
}

// Refresh reloads media types and allocations. Drives held by running
// queues are carried over into the new resources.
func (a *Activator) Refresh(ctx context.Context) error {
	records, err := a.store.LoadMediaAllocations(ctx)
	if err != nil {
		return fmt.Errorf("failed to load media allocations: %w", err)
	}

	types := make([]*MediaType, 0, len(records))
	resources := make(map[string]*Resource, len(records))
	for _, record := range records {
		mt, err := NewMediaType(record.ID, record.Name, record.Pattern, record.Drives)
		if err != nil {
			a.logger.Warn("Skipping media type '%s': %v", record.Name, err)
			continue
		}

		shares := make(map[string]float64, len(record.Allocations))
		for _, alloc := range record.Allocations {
			shares[alloc.User] = alloc.Share
		}

		types = append(types, mt)
		resources[mt.Name] = NewResource(mt, shares, a.opts.Now)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, alloc := range a.running {
		if res := resources[alloc.mediaType]; res != nil {
			res.IncreaseUsedResources(alloc.user)
		}
	}

	a.resources = resources
	a.loadedAt = a.opts.Now()
	a.catalog.Set(types)

	a.logger.Debug("Loaded %d media types", len(types))
	return nil
}

func (a *Activator) unsuspend(ctx context.Context) {
	now := a.opts.Now()

	for _, queue := range a.registry.Pending(QueueTemporarilySuspended) {
		if now.Sub(queue.SuspendedAt()) < a.opts.SuspendDuration {
			continue
		}

		err := queue.Unsuspend()
		switch {
		case errors.Is(err, ErrMaxSuspendRetries):
			a.logger.Warn("Aborting queue %s of tape %s: %v", queue.ID(), queue.Tape().Name, err)
			if err := a.store.AbortQueue(ctx, queue.ID(), hsm.CodeMaxSuspendRetries, err.Error()); err != nil {
				a.logger.Error("Failed to abort queue %s: %v", queue.ID(), err)
				continue
			}
			a.registry.Remove(queue)
			a.metrics.aborts.Inc()
		case err != nil:
			a.logger.Warn("Failed to unsuspend queue %s: %v", queue.ID(), err)
		default:
			a.logger.Info("Unsuspended queue %s of tape %s", queue.ID(), queue.Tape().Name)
			if err := a.store.SaveQueue(ctx, queue.Record()); err != nil {
				a.logger.Error("Failed to save queue %s: %v", queue.ID(), err)
			}
		}
	}
}

// activateNext selects one created queue: first the oldest whose owner is
// under allocation on a media type with a free drive, otherwise the oldest
// on any media type with a free drive.
func (a *Activator) activateNext(ctx context.Context) *Queue {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.controller == nil || a.controller.Available() <= 0 {
		return nil
	}

	candidates := a.registry.Pending(QueueCreated)
	if len(candidates) == 0 {
		return nil
	}

	for _, queue := range candidates {
		res := a.resourceOf(queue)
		if res != nil && res.CountFreeResources() > 0 && res.IsUnderAllocation(queue.Owner()) {
			return a.activate(ctx, queue, res, "fair_share")
		}
	}
	for _, queue := range candidates {
		res := a.resourceOf(queue)
		if res != nil && res.CountFreeResources() > 0 {
			return a.activate(ctx, queue, res, "idle")
		}
	}
	return nil
}

func (a *Activator) resourceOf(queue *Queue) *Resource {
	res := a.resources[queue.MediaTypeName()]
	if res == nil {
		a.logger.Debug("No resource for media type '%s' of queue %s", queue.MediaTypeName(), queue.ID())
	}
	return res
}

func (a *Activator) activate(ctx context.Context, queue *Queue, res *Resource, pass string) *Queue {
	owner := queue.Owner()
	if err := queue.ChangeToActivated(); err != nil {
		a.logger.Warn("Failed to activate queue %s: %v", queue.ID(), err)
		return nil
	}

	res.IncreaseUsedResources(owner)
	a.running[queue.ID()] = allocation{user: owner, mediaType: res.MediaType().Name}

	if err := a.controller.Start(ctx, queue); err != nil {
		a.logger.Warn("Failed to start stager for queue %s: %v", queue.ID(), err)
		delete(a.running, queue.ID())
		res.DecreaseUsedResources(owner)
		if err := queue.deactivate(); err != nil {
			a.logger.Error("Failed to deactivate queue %s: %v", queue.ID(), err)
		}
		return queue
	}

	a.metrics.activations.WithLabelValues(res.MediaType().Name, pass).Inc()
	a.logger.Info("Activated queue %s of tape %s for %s (%s, %d drives free)",
		queue.ID(), queue.Tape().Name, owner, pass, res.CountFreeResources())
	return queue
}

// Release gives the drive of a stopped stager back, persists the queue and
// drops it from the registry once it has ended.
func (a *Activator) Release(ctx context.Context, queue *Queue) {
	a.mutex.Lock()
	if alloc, ok := a.running[queue.ID()]; ok {
		delete(a.running, queue.ID())
		if res := a.resources[alloc.mediaType]; res != nil {
			res.DecreaseUsedResources(alloc.user)
		}
	}
	a.mutex.Unlock()

	if err := a.store.SaveQueue(ctx, queue.Record()); err != nil {
		a.logger.Error("Failed to save queue %s: %v", queue.ID(), err)
	}
	if queue.Status() == QueueEnded {
		a.registry.Remove(queue)
	}
}

// Resources returns a snapshot of every media type resource, by name.
func (a *Activator) Resources() []ResourceSnapshot {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	snapshots := make([]ResourceSnapshot, 0, len(a.resources))
	for _, mt := range a.catalog.Types() {
		if res := a.resources[mt.Name]; res != nil {
			snapshots = append(snapshots, res.Snapshot())
		}
	}
	return snapshots
}
