package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"sync"
	"syscall"
	"time"

	"github.com/mwantia/fabric/pkg/container"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/mwantia/gostage/internal/api"
	config "github.com/mwantia/gostage/internal/config/server"
	"github.com/mwantia/gostage/internal/scheduler"
	"github.com/mwantia/gostage/pkg/db/store"
	"github.com/mwantia/gostage/pkg/hsm"
	"github.com/mwantia/gostage/pkg/log"
)

type GoStageAgent struct {
	mutex sync.RWMutex

	cfg      *config.BaseServerConfig
	sc       *container.ServiceContainer
	log      log.LoggerService
	registry *prometheus.Registry

	loggers struct {
		Store     log.LoggerService `fabric:"logger:store"`
		Scheduler log.LoggerService `fabric:"logger:scheduler"`
		API       log.LoggerService `fabric:"logger:api"`
	}

	scheduler *scheduler.Scheduler
}

func NewAgent(cfg *config.BaseServerConfig) *GoStageAgent {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &GoStageAgent{
		cfg:      cfg,
		sc:       container.NewServiceContainer(),
		log:      log.NewLoggerService("gostage", cfg.Log),
		registry: registry,
	}
}

func (gsa *GoStageAgent) setupServices(ctx context.Context) error {
	errs := container.Errors{}

	gsa.log.Debug("Registering 'LoggerService'...")
	errs.Add(container.Register[log.LoggerServiceImpl](gsa.sc,
		container.With[log.LoggerService](),
		container.WithInstance(gsa.log)))

	if err := errs.Errors(); err != nil {
		return err
	}
	if err := log.Inject(ctx, gsa.sc, &gsa.loggers); err != nil {
		return fmt.Errorf("failed to inject loggers: %w", err)
	}

	metadata, err := gsa.openStore(ctx)
	if err != nil {
		return err
	}

	gsa.log.Debug("Registering 'MetadataStore'...")
	errs.Add(container.Register[store.SQLiteStore](gsa.sc,
		container.With[store.MetadataStore](),
		container.WithInstance(metadata)))

	bridge, err := gsa.newBridge()
	if err != nil {
		return err
	}

	gsa.log.Debug("Registering 'Bridge'...")
	errs.Add(container.Register[hsm.CachingBridge](gsa.sc,
		container.With[hsm.Bridge](),
		container.WithInstance(bridge)))

	return errs.Errors()
}

func (gsa *GoStageAgent) openStore(ctx context.Context) (*store.SQLiteStore, error) {
	if t := gsa.cfg.Metadata.Type; t != "" && t != "sqlite" {
		return nil, fmt.Errorf("unsupported metadata type '%s'", t)
	}

	metadata, err := store.NewSQLiteStore(store.SQLiteConfig{
		Path:     gsa.cfg.Metadata.SQLite.Path,
		LogLevel: store.ParseLogLevel(gsa.cfg.Metadata.SQLite.LogLevel),
	})
	if err != nil {
		return nil, err
	}

	if err := metadata.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect metadata store: %w", err)
	}
	if err := metadata.Migrate(ctx); err != nil {
		metadata.Close()
		return nil, fmt.Errorf("failed to migrate metadata store: %w", err)
	}

	gsa.loggers.Store.Info("Opened metadata store at '%s'", gsa.cfg.Metadata.SQLite.Path)
	return metadata, nil
}

func (gsa *GoStageAgent) newBridge() (*hsm.CachingBridge, error) {
	command, err := hsm.NewCommandBridge(
		gsa.cfg.Bridge.ResolveCommand,
		gsa.cfg.Bridge.StageCommand,
		config.Duration(gsa.cfg.Bridge.Timeout, 6*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to create hsm bridge: %w", err)
	}

	return hsm.NewCachingBridge(command,
		gsa.cfg.Scheduler.MetadataCacheSize,
		config.Duration(gsa.cfg.Scheduler.MetadataMaxAge, time.Hour),
		gsa.registry), nil
}

// resolve looks up the service registered for the interface T.
func resolve[T any](ctx context.Context, sc *container.ServiceContainer) (T, error) {
	var zero T

	typ := reflect.TypeOf((*T)(nil)).Elem()
	ok, resolved := sc.ResolveByType(ctx, typ)
	if !ok {
		return zero, fmt.Errorf("no service registered for '%s'", typ)
	}

	service, ok := resolved.(T)
	if !ok {
		return zero, fmt.Errorf("resolved %T is not a '%s'", resolved, typ)
	}
	return service, nil
}

func (gsa *GoStageAgent) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	gsa.mutex.Lock()

	if err := gsa.setupServices(ctx); err != nil {
		gsa.mutex.Unlock()
		return err
	}

	metadata, err := resolve[store.MetadataStore](ctx, gsa.sc)
	if err != nil {
		gsa.mutex.Unlock()
		return err
	}
	defer metadata.Close()

	bridge, err := resolve[hsm.Bridge](ctx, gsa.sc)
	if err != nil {
		gsa.mutex.Unlock()
		return err
	}

	gsa.scheduler = scheduler.New(SchedulerConfig(gsa.cfg), metadata, bridge, gsa.loggers.Scheduler, gsa.registry)
	if err := gsa.startScheduler(ctx); err != nil {
		gsa.mutex.Unlock()
		return err
	}

	gsa.mutex.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	timeout := config.Duration(gsa.cfg.ShutdownTimeout, 60*time.Second)

	if gsa.cfg.API.Enabled {
		server := api.NewServer(gsa.cfg.API, gsa.scheduler, metadata, gsa.registry, gsa.loggers.API)
		g.Go(func() error {
			return server.Serve(gctx, timeout)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		gsa.log.Info("Shutting down...")
		return nil
	})

	serveErr := g.Wait()

	shutdown, cancelShutdown := context.WithTimeout(context.Background(), timeout)
	defer cancelShutdown()

	var errs []error
	if serveErr != nil {
		errs = append(errs, serveErr)
	}
	if err := gsa.scheduler.Stop(shutdown); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop scheduler: %w", err))
	}
	if err := gsa.sc.Cleanup(shutdown); err != nil {
		errs = append(errs, fmt.Errorf("failed to complete service container cleanup: %w", err))
	}

	return errors.Join(errs...)
}

func (gsa *GoStageAgent) startScheduler(ctx context.Context) error {
	if err := gsa.scheduler.Recover(ctx); err != nil {
		return err
	}
	if err := gsa.scheduler.SyncMediaTypes(ctx, MediaTypes(gsa.cfg.MediaTypes)); err != nil {
		return err
	}
	return gsa.scheduler.Start(ctx)
}
