package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwantia/gostage/pkg/hsm"
	"github.com/mwantia/gostage/pkg/log"
)

func newTestStager(q *Queue, stop <-chan struct{}) *Stager {
	return &Stager{
		queue:   q,
		logger:  log.NewNopLogger(),
		metrics: newMetrics(prometheus.NewRegistry()),
		stop:    stop,
	}
}

func TestStagerDrainsQueueInOrder(t *testing.T) {
	bridge := newFakeBridge()
	q := newTestQueue(t, newFakeStore(), bridge, newFakeClock())
	registerReading(t, q, "/hpss/c", 30, 3)
	registerReading(t, q, "/hpss/a", 10, 3)
	registerReading(t, q, "/hpss/b", 20, 3)
	bridge.fail("/hpss/b", hsm.NewError(hsm.ErrTransientStage, "busy"))
	require.NoError(t, q.ChangeToActivated())

	stager := newTestStager(q, make(chan struct{}))
	require.NoError(t, stager.Run(context.Background()))

	assert.Equal(t, QueueEnded, q.Status())
	assert.Equal(t, []string{"/hpss/a", "/hpss/b", "/hpss/c"}, bridge.stagedFiles())
	assert.Equal(t, 3.0, testutil.ToFloat64(stager.metrics.readings.WithLabelValues("staged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(stager.metrics.readings.WithLabelValues("retried")))
}

func TestStagerSuspendsOnResourceExhaustion(t *testing.T) {
	bridge := newFakeBridge()
	q := newTestQueue(t, newFakeStore(), bridge, newFakeClock())
	registerReading(t, q, "/hpss/a", 10, 3)
	registerReading(t, q, "/hpss/b", 20, 3)
	bridge.fail("/hpss/b", hsm.NewError(hsm.ErrResourceExhausted, "no drive"))
	require.NoError(t, q.ChangeToActivated())

	stager := newTestStager(q, make(chan struct{}))
	require.NoError(t, stager.Run(context.Background()))

	assert.Equal(t, QueueTemporarilySuspended, q.Status())
	assert.Equal(t, ReadingStaged, q.ReadingAt(10).Status())
	assert.Equal(t, ReadingQueued, q.ReadingAt(20).Status())
	assert.Equal(t, 1.0, testutil.ToFloat64(stager.metrics.suspensions))
}

func TestStagerSuspendsOnPersistenceError(t *testing.T) {
	store := newFakeStore()
	store.failQueued = errors.New("disk full")
	q := newTestQueue(t, store, newFakeBridge(), newFakeClock())
	registerReading(t, q, "/hpss/a", 10, 3)
	require.NoError(t, q.ChangeToActivated())

	err := newTestStager(q, make(chan struct{})).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, QueueTemporarilySuspended, q.Status())
	assert.Equal(t, ReadingSubmitted, q.ReadingAt(10).Status())
}

func TestStagerHonoursStopBetweenReadings(t *testing.T) {
	bridge := newFakeBridge()
	q := newTestQueue(t, newFakeStore(), bridge, newFakeClock())
	registerReading(t, q, "/hpss/a", 10, 3)
	require.NoError(t, q.ChangeToActivated())

	stop := make(chan struct{})
	close(stop)
	require.NoError(t, newTestStager(q, stop).Run(context.Background()))

	assert.Empty(t, bridge.stagedFiles())
	assert.Equal(t, QueueActivated, q.Status())
}

func TestStagersControllerLimits(t *testing.T) {
	ctx := context.Background()
	bridge := newFakeBridge()
	bridge.block = make(chan struct{})
	bridge.entered = make(chan struct{}, 1)

	done := make(chan string, 4)
	controller := newStagersController(1, func(_ context.Context, q *Queue) {
		done <- q.ID()
	}, newMetrics(nil), log.NewNopLogger())

	first := newTestQueue(t, newFakeStore(), bridge, newFakeClock())
	registerReading(t, first, "/hpss/a", 10, 3)
	require.NoError(t, first.ChangeToActivated())
	second := newTestQueue(t, newFakeStore(), bridge, newFakeClock())
	require.NoError(t, second.ChangeToActivated())

	require.NoError(t, controller.Start(ctx, first))
	assert.True(t, controller.IsRunning(first.ID()))
	assert.Zero(t, controller.Available())
	assert.ErrorIs(t, controller.Start(ctx, second), ErrPoolFull)

	// Conclude only once the first reading is in flight.
	<-bridge.entered
	controller.Conclude()
	assert.ErrorIs(t, controller.Start(ctx, second), ErrConcluded)
	assert.Zero(t, controller.Available())

	// The stager is still blocked in its reading.
	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.Error(t, controller.WaitToFinish(waitCtx))

	close(bridge.block)
	require.NoError(t, controller.WaitToFinish(ctx))
	assert.Equal(t, first.ID(), <-done)
	assert.Equal(t, ReadingStaged, first.ReadingAt(10).Status())
	assert.Zero(t, controller.Running())
}

func TestStagersControllerDetachesStaging(t *testing.T) {
	bridge := newFakeBridge()
	bridge.block = make(chan struct{})
	controller := newStagersController(2, nil, newMetrics(nil), log.NewNopLogger())

	q := newTestQueue(t, newFakeStore(), bridge, newFakeClock())
	registerReading(t, q, "/hpss/a", 10, 3)
	require.NoError(t, q.ChangeToActivated())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, controller.Start(ctx, q))
	cancel()
	close(bridge.block)

	require.NoError(t, controller.WaitToFinish(context.Background()))
	assert.Equal(t, QueueEnded, q.Status())
}
