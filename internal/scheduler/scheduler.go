// Package scheduler groups stage requests into per tape queues and stages
// them with a bounded number of drives shared fairly between users.
//
// The Dispatcher resolves new requests and registers them in the queue of
// their tape. The Activator picks created queues for free drives and hands
// them to the StagersController, whose stagers read each tape in position
// order until the queue ends or gets suspended.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/mwantia/gostage/pkg/db/models"
	"github.com/mwantia/gostage/pkg/hsm"
	"github.com/mwantia/gostage/pkg/log"
	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	DispatcherInterval time.Duration
	ActivatorInterval  time.Duration
	DispatchBatch      int

	MaxSuspendRetries int
	SuspendDuration   time.Duration
	MaxReadRetries    int

	MetadataMaxAge   time.Duration
	AllocationMaxAge time.Duration

	// MaxStagers of zero sizes the pool to the total number of drives.
	MaxStagers int

	Now func() time.Time
}

type Scheduler struct {
	cfg    Config
	logger log.LoggerService
	store  Persistence

	Registry   *Registry
	Catalog    *MediaCatalog
	Dispatcher *Dispatcher
	Activator  *Activator
	Controller *StagersController
}

func New(cfg Config, store Persistence, bridge hsm.Bridge, logger log.LoggerService, reg prometheus.Registerer) *Scheduler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DispatcherInterval <= 0 {
		cfg.DispatcherInterval = 5 * time.Second
	}
	if cfg.ActivatorInterval <= 0 {
		cfg.ActivatorInterval = 2 * time.Second
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}

	m := newMetrics(reg)
	catalog := NewMediaCatalog()
	registry := NewRegistry(QueueOptions{
		MaxSuspendRetries: cfg.MaxSuspendRetries,
		MetadataMaxAge:    cfg.MetadataMaxAge,
		Bridge:            bridge,
		Reporter:          store,
		Now:               cfg.Now,
	})

	dispatcher := newDispatcher(DispatcherOptions{
		Interval:       cfg.DispatcherInterval,
		Batch:          cfg.DispatchBatch,
		MaxReadRetries: cfg.MaxReadRetries,
		Now:            cfg.Now,
	}, store, bridge, registry, catalog, m, logger.Named("dispatcher"))

	activator := newActivator(ActivatorOptions{
		Interval:         cfg.ActivatorInterval,
		SuspendDuration:  cfg.SuspendDuration,
		AllocationMaxAge: cfg.AllocationMaxAge,
		Now:              cfg.Now,
	}, store, registry, catalog, m, logger.Named("activator"))

	controller := newStagersController(cfg.MaxStagers, activator.Release, m, logger.Named("stager"))
	activator.setController(controller)

	return &Scheduler{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		Registry:   registry,
		Catalog:    catalog,
		Dispatcher: dispatcher,
		Activator:  activator,
		Controller: controller,
	}
}

// Recover aborts every queue a previous run left open and hands its
// unfinished requests back to the dispatcher.
func (s *Scheduler) Recover(ctx context.Context) error {
	aborted, err := s.store.AbortPendingQueues(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover pending queues: %w", err)
	}
	if aborted > 0 {
		s.logger.Warn("Aborted %d queues left open by a previous run", aborted)
	}
	return nil
}

// SyncMediaTypes writes the configured media types and allocations.
func (s *Scheduler) SyncMediaTypes(ctx context.Context, mediaTypes []models.MediaType) error {
	for i := range mediaTypes {
		if err := s.store.UpsertMediaType(ctx, &mediaTypes[i]); err != nil {
			return fmt.Errorf("failed to sync media type '%s': %w", mediaTypes[i].Name, err)
		}
	}
	return nil
}

// Start loads the media types and starts the dispatcher and activator loops.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Activator.Refresh(ctx); err != nil {
		return err
	}

	if s.cfg.MaxStagers <= 0 {
		s.Controller.SetLimit(s.Catalog.Drives())
	}

	s.logger.Info("Starting scheduler with %d media types and %d stagers",
		len(s.Catalog.Types()), s.Controller.Limit())

	s.Dispatcher.Start(ctx)
	s.Activator.Start(ctx)
	return nil
}

// Stop halts both loops, then lets every stager finish its current reading.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.Dispatcher.Stop()
	s.Activator.Stop()
	s.Controller.Conclude()

	if err := s.Controller.WaitToFinish(ctx); err != nil {
		return err
	}

	s.logger.Info("Scheduler stopped")
	return nil
}

func (s *Scheduler) Queues() []QueueSnapshot {
	queues := s.Registry.Queues()
	snapshots := make([]QueueSnapshot, 0, len(queues))
	for _, queue := range queues {
		snapshots = append(snapshots, queue.Snapshot())
	}
	return snapshots
}

func (s *Scheduler) Resources() []ResourceSnapshot {
	return s.Activator.Resources()
}
