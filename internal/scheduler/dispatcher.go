package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mwantia/gostage/pkg/db/models"
	"github.com/mwantia/gostage/pkg/hsm"
	"github.com/mwantia/gostage/pkg/log"
)

// Dispatcher turns new stage requests into readings of tape queues.
type Dispatcher struct {
	logger   log.LoggerService
	store    Persistence
	bridge   hsm.Bridge
	registry *Registry
	catalog  *MediaCatalog
	metrics  *metrics

	batch          int
	maxReadRetries int
	now            func() time.Time

	// Id of the last fetched request; deferred rows are only seen again
	// once the fetch wraps around.
	cursor uint

	loop loop
}

type DispatcherOptions struct {
	Interval       time.Duration
	Batch          int
	MaxReadRetries int
	Now            func() time.Time
}

func newDispatcher(opts DispatcherOptions, store Persistence, bridge hsm.Bridge, registry *Registry, catalog *MediaCatalog, m *metrics, logger log.LoggerService) *Dispatcher {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	d := &Dispatcher{
		logger:         logger,
		store:          store,
		bridge:         bridge,
		registry:       registry,
		catalog:        catalog,
		metrics:        m,
		batch:          opts.Batch,
		maxReadRetries: opts.MaxReadRetries,
		now:            opts.Now,
	}
	d.loop = loop{
		name:     "dispatcher",
		interval: opts.Interval,
		logger:   logger,
		cycle:    d.RunOnce,
	}
	return d
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.loop.start(ctx)
}

func (d *Dispatcher) Stop() {
	d.loop.stop()
}

// RunOnce dispatches one batch of new requests. A failing request is
// logged and left for a later cycle without affecting the others.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	requests, err := d.fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch new requests: %w", err)
	}
	if len(requests) == 0 {
		return nil
	}
	d.cursor = requests[len(requests)-1].ID

	touched := make(map[string]*Queue)
	for _, req := range requests {
		if ctx.Err() != nil {
			break
		}

		queue, err := d.dispatch(ctx, req)
		if queue != nil {
			touched[queue.ID()] = queue
		}
		if err != nil {
			d.logger.Warn("Failed to dispatch request %d for '%s': %v", req.ID, req.File, err)
		}
	}

	for _, queue := range touched {
		if err := d.store.SaveQueue(ctx, queue.Record()); err != nil {
			d.logger.Error("Failed to save queue %s of %s: %v", queue.ID(), queue.Tape().Name, err)
		}
	}

	d.logger.Debug("Dispatched %d requests into %d queues", len(requests), len(touched))
	return nil
}

// fetch continues after the cursor and starts over from the oldest
// request once nothing newer is left.
func (d *Dispatcher) fetch(ctx context.Context) ([]models.Request, error) {
	requests, err := d.store.FetchNewRequests(ctx, d.cursor, d.batch)
	if err != nil || len(requests) > 0 || d.cursor == 0 {
		return requests, err
	}

	d.cursor = 0
	return d.store.FetchNewRequests(ctx, 0, d.batch)
}

func (d *Dispatcher) dispatch(ctx context.Context, req models.Request) (*Queue, error) {
	meta, err := d.bridge.Resolve(ctx, req.File)
	if err != nil {
		if errors.Is(err, hsm.ErrMetadata) || errors.Is(err, hsm.ErrPermanent) {
			code, message := hsm.Describe(err)
			return nil, d.invalid(ctx, req, code, message)
		}
		d.metrics.requests.WithLabelValues("deferred").Inc()
		return nil, err
	}

	if meta.OnDisk {
		d.metrics.requests.WithLabelValues("on_disk").Inc()
		return nil, d.store.MarkRequestOnDisk(ctx, req.ID)
	}

	mediaType := d.catalog.Match(meta.Tape)
	if mediaType == nil {
		return nil, d.invalid(ctx, req, hsm.CodeNoMediaType, fmt.Sprintf("no media type matches tape %s", meta.Tape))
	}

	requester := User{Name: req.User}
	fpot := &FilePosition{
		File:       File{Name: req.File, Owner: requester, Size: meta.Size},
		Tape:       Tape{Name: meta.Tape, MediaType: mediaType},
		Position:   meta.Position,
		Requester:  requester,
		ResolvedAt: d.now(),
	}

	reg, err := d.registry.Register(fpot, d.maxReadRetries)
	switch {
	case errors.Is(err, ErrBehindHead):
		// Waits for the next queue of this tape.
		d.logger.Debug("Deferred '%s' at %d on %s: %v", req.File, meta.Position, meta.Tape, err)
		d.metrics.requests.WithLabelValues("deferred").Inc()
		return nil, nil
	case errors.Is(err, ErrInvalidParameter):
		return nil, d.invalid(ctx, req, hsm.CodePermanent, err.Error())
	case err != nil:
		return nil, err
	}

	if reg.Created {
		d.logger.Info("Created queue %s for tape %s (%s)", reg.Queue.ID(), meta.Tape, mediaType.Name)
	}

	if reg.Merged {
		switch reg.Reading.Status() {
		case ReadingStaged:
			d.metrics.requests.WithLabelValues("on_disk").Inc()
			return reg.Queue, d.store.MarkRequestOnDisk(ctx, req.ID)
		case ReadingFailed:
			// A failed reading is not retried within the same queue.
			d.metrics.requests.WithLabelValues("deferred").Inc()
			return reg.Queue, nil
		}
		d.metrics.requests.WithLabelValues("merged").Inc()
	} else {
		d.metrics.requests.WithLabelValues("submitted").Inc()
	}

	if err := d.store.MarkRequestSubmitted(ctx, req.ID, reg.Queue.ID(), meta.Tape, meta.Position, meta.Size); err != nil {
		return reg.Queue, fmt.Errorf("failed to mark request submitted: %w", err)
	}

	// The reading may have ended while the row was being submitted.
	if status := reg.Reading.Status(); status.Terminal() {
		result, code, message := models.RequestStaged, hsm.CodeNone, ""
		if status == ReadingFailed {
			result = models.RequestFailed
			code, message = reg.Reading.Error()
		}
		return reg.Queue, d.store.MarkRequestsEnded(ctx, reg.Queue.ID(), req.File, result, code, message, d.now())
	}
	return reg.Queue, nil
}

func (d *Dispatcher) invalid(ctx context.Context, req models.Request, code int, message string) error {
	d.logger.Info("Rejected request %d for '%s': %s", req.ID, req.File, message)
	d.metrics.requests.WithLabelValues("invalid").Inc()
	return d.store.MarkRequestInvalid(ctx, req.ID, code, message)
}
