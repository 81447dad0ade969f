package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mwantia/gostage/internal/scheduler"
	"github.com/mwantia/gostage/pkg/log"
)

type handler struct {
	status StatusSource
	health HealthChecker
	logger log.LoggerService
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message,omitempty"`
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	code := http.StatusOK
	if h.health != nil {
		if err := h.health.Health(r.Context()); err != nil {
			resp.Status, resp.Message = "fail", err.Error()
			code = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, resp)
}

// listQueues accepts an optional status filter, e.g. ?status=activated.
func (h *handler) listQueues(w http.ResponseWriter, r *http.Request) {
	queues := h.status.Queues()

	if status := r.URL.Query().Get("status"); status != "" {
		queues = slices.DeleteFunc(queues, func(q scheduler.QueueSnapshot) bool {
			return q.Status != status
		})
	}

	writeJSON(w, http.StatusOK, queues)
}

func (h *handler) getQueue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	for _, queue := range h.status.Queues() {
		if queue.ID == id || queue.Tape == id {
			writeJSON(w, http.StatusOK, queue)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, errorResponse{Error: "queue not found: " + id})
}

func (h *handler) listResources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.status.Resources())
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		h.logger.Debug("%s %s %d %s", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
