package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/mwantia/gostage/internal/config/server"
	"github.com/mwantia/gostage/internal/scheduler"
	"github.com/mwantia/gostage/pkg/log"
)

type staticStatus struct {
	queues    []scheduler.QueueSnapshot
	resources []scheduler.ResourceSnapshot
}

func (s staticStatus) Queues() []scheduler.QueueSnapshot       { return s.queues }
func (s staticStatus) Resources() []scheduler.ResourceSnapshot { return s.resources }

type healthFunc func(ctx context.Context) error

func (f healthFunc) Health(ctx context.Context) error { return f(ctx) }

func newTestServer(t *testing.T, health HealthChecker) *httptest.Server {
	t.Helper()

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "gostage_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	status := staticStatus{
		queues: []scheduler.QueueSnapshot{
			{ID: "q-1", Tape: "L80001", MediaType: "LTO8", Status: "activated", Owner: "atlas", Readings: 3, Pending: 1},
			{ID: "q-2", Tape: "IT0001", MediaType: "T10K", Status: "created", Owner: "cms", Readings: 1, Pending: 1},
		},
		resources: []scheduler.ResourceSnapshot{
			{MediaType: "LTO8", Total: 2, Free: 1, Used: map[string]int{"atlas": 1}},
		},
	}

	srv := NewServer(config.APIServerConfig{Address: "127.0.0.1:0"}, status, health, reg, log.NewNopLogger())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, healthFunc(func(context.Context) error { return nil }))

	var resp healthResponse
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/healthz", &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHealthzFailing(t *testing.T) {
	ts := newTestServer(t, healthFunc(func(context.Context) error { return errors.New("database is closed") }))

	var resp healthResponse
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, ts.URL+"/healthz", &resp))
	assert.Equal(t, "fail", resp.Status)
	assert.Equal(t, "database is closed", resp.Message)
}

func TestListQueues(t *testing.T) {
	ts := newTestServer(t, nil)

	var queues []scheduler.QueueSnapshot
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/v1/queues", &queues))
	assert.Len(t, queues, 2)

	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/v1/queues?status=created", &queues))
	require.Len(t, queues, 1)
	assert.Equal(t, "q-2", queues[0].ID)
}

func TestGetQueue(t *testing.T) {
	ts := newTestServer(t, nil)

	var queue scheduler.QueueSnapshot
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/v1/queues/L80001", &queue))
	assert.Equal(t, "q-1", queue.ID)

	var missing errorResponse
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/v1/queues/nope", &missing))
	assert.Contains(t, missing.Error, "nope")
}

func TestListResources(t *testing.T) {
	ts := newTestServer(t, nil)

	var resources []scheduler.ResourceSnapshot
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/v1/resources", &resources))
	require.Len(t, resources, 1)
	assert.Equal(t, 1, resources[0].Used["atlas"])
}

func TestMetrics(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "gostage_test_total 1")
}
