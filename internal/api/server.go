// Package api serves a read-only status view of the scheduler.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	config "github.com/mwantia/gostage/internal/config/server"
	"github.com/mwantia/gostage/internal/scheduler"
	"github.com/mwantia/gostage/pkg/log"
)

// StatusSource exposes the in-memory scheduler state.
type StatusSource interface {
	Queues() []scheduler.QueueSnapshot
	Resources() []scheduler.ResourceSnapshot
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type Server struct {
	logger     log.LoggerService
	httpServer *http.Server
}

func NewServer(cfg config.APIServerConfig, status StatusSource, health HealthChecker, gatherer prometheus.Gatherer, logger log.LoggerService) *Server {
	handler := &handler{
		status: status,
		health: health,
		logger: logger,
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(handler.logRequests)

	router.Get("/healthz", handler.healthz)
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	router.Route("/v1", func(r chi.Router) {
		r.Get("/queues", handler.listQueues)
		r.Get("/queues/{id}", handler.getQueue)
		r.Get("/resources", handler.listResources)
	})

	return &Server{
		logger: logger,
		httpServer: &http.Server{
			Addr:              cfg.Address,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Serve listens until ctx is done, then shuts the server down within timeout.
func (s *Server) Serve(ctx context.Context, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("failed to serve api: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown api: %w", err)
	}
	s.logger.Info("API server stopped")
	return nil
}
