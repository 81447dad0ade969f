package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwantia/gostage/pkg/db/models"
	"github.com/mwantia/gostage/pkg/hsm"
)

// holdStagers keeps every stage call blocked until the test ends, so that
// activated queues keep their drive.
func holdStagers(t *testing.T, env *testEnv, limit int) {
	t.Helper()

	env.bridge.block = make(chan struct{})
	env.sched.Controller.SetLimit(limit)

	t.Cleanup(func() {
		env.sched.Controller.Conclude()
		close(env.bridge.block)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, env.sched.Controller.WaitToFinish(ctx))
	})
}

func addQueue(t *testing.T, env *testEnv, tape, user string, position int64) *Queue {
	t.Helper()

	mt := env.sched.Catalog.Match(tape)
	require.NotNil(t, mt, "no media type for %s", tape)

	reg, err := env.sched.Registry.Register(fpotAt("/hpss/"+tape, tape, mt, position, user), 3)
	require.NoError(t, err)
	env.clock.Advance(time.Second)
	return reg.Queue
}

func resourceOf(env *testEnv, name string) ResourceSnapshot {
	for _, snap := range env.sched.Resources() {
		if snap.MediaType == name {
			return snap
		}
	}
	return ResourceSnapshot{}
}

func TestActivatorPrefersUserUnderAllocation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	holdStagers(t, env, 3)

	cms := addQueue(t, env, "L80001", "cms", 10)
	atlas := addQueue(t, env, "L80002", "atlas", 10)

	require.NoError(t, env.sched.Activator.RunOnce(ctx))
	assert.Equal(t, QueueActivated, atlas.Status())
	assert.Equal(t, QueueCreated, cms.Status())

	// Idle capacity goes to the older queue on the next cycle.
	require.NoError(t, env.sched.Activator.RunOnce(ctx))
	assert.Equal(t, QueueActivated, cms.Status())

	snap := resourceOf(env, "LTO8")
	assert.Equal(t, 0, snap.Free)
	assert.Equal(t, map[string]int{"atlas": 1, "cms": 1}, snap.Used)

	m := env.sched.Activator.metrics
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activations.WithLabelValues("LTO8", "fair_share")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activations.WithLabelValues("LTO8", "idle")))

	saved, ok := env.store.savedQueue(atlas.ID())
	require.True(t, ok)
	assert.Equal(t, models.QueueActivated, saved.Status)
}

func TestActivatorOneActivationPerCycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	holdStagers(t, env, 3)

	first := addQueue(t, env, "L80001", "atlas", 10)
	second := addQueue(t, env, "L80002", "atlas", 10)

	require.NoError(t, env.sched.Activator.RunOnce(ctx))
	assert.Equal(t, QueueActivated, first.Status())
	assert.Equal(t, QueueCreated, second.Status())
}

func TestActivatorSkipsMediaTypeWithoutFreeDrive(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	holdStagers(t, env, 3)

	first := addQueue(t, env, "IT0001", "cms", 10)
	blocked := addQueue(t, env, "IT0002", "cms", 10)
	lto := addQueue(t, env, "L80001", "cms", 10)

	require.NoError(t, env.sched.Activator.RunOnce(ctx))
	require.NoError(t, env.sched.Activator.RunOnce(ctx))
	require.NoError(t, env.sched.Activator.RunOnce(ctx))

	assert.Equal(t, QueueActivated, first.Status())
	assert.Equal(t, QueueCreated, blocked.Status())
	assert.Equal(t, QueueActivated, lto.Status())
}

func TestActivatorRespectsStagerPool(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	holdStagers(t, env, 1)

	first := addQueue(t, env, "L80001", "atlas", 10)
	second := addQueue(t, env, "L80002", "atlas", 10)

	require.NoError(t, env.sched.Activator.RunOnce(ctx))
	require.NoError(t, env.sched.Activator.RunOnce(ctx))

	assert.Equal(t, QueueActivated, first.Status())
	assert.Equal(t, QueueCreated, second.Status())
	assert.Equal(t, 1, env.sched.Controller.Running())
}

func TestActivatorRollsBackWhenStagerCannotStart(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	queue := addQueue(t, env, "IT0001", "cms", 10)
	env.sched.Controller.Conclude()

	a := env.sched.Activator
	a.mutex.Lock()
	a.activate(ctx, queue, a.resources["T10K"], "idle")
	a.mutex.Unlock()

	assert.Equal(t, QueueCreated, queue.Status())
	assert.Zero(t, queue.SuspendRetries())
	assert.Equal(t, 1, resourceOf(env, "T10K").Free)
	assert.False(t, env.sched.Controller.IsRunning(queue.ID()))
}

func TestActivatorReleasesDriveWhenQueueEnds(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	env.sched.Controller.SetLimit(2)

	queue := addQueue(t, env, "IT0001", "cms", 10)
	require.NoError(t, env.sched.Activator.RunOnce(ctx))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.Eventually(t, func() bool { return env.sched.Controller.Running() == 0 }, 5*time.Second, 10*time.Millisecond)
	env.sched.Controller.Conclude()
	require.NoError(t, env.sched.Controller.WaitToFinish(waitCtx))

	assert.Equal(t, QueueEnded, queue.Status())
	assert.Equal(t, 1, resourceOf(env, "T10K").Free)
	assert.Nil(t, env.sched.Registry.Get("IT0001"))
	assert.Equal(t, []string{"/hpss/IT0001"}, env.bridge.stagedFiles())

	saved, ok := env.store.savedQueue(queue.ID())
	require.True(t, ok)
	assert.Equal(t, models.QueueEnded, saved.Status)
}

func TestActivatorSuspendsAndUnsuspends(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{SuspendDuration: time.Minute})
	env.sched.Controller.SetLimit(2)

	env.bridge.fail("/hpss/IT0001", hsm.NewError(hsm.ErrResourceExhausted, "no drive"))
	queue := addQueue(t, env, "IT0001", "cms", 10)

	require.NoError(t, env.sched.Activator.RunOnce(ctx))
	require.Eventually(t, func() bool {
		return queue.Status() == QueueTemporarilySuspended && env.sched.Controller.Running() == 0
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return resourceOf(env, "T10K").Free == 1 }, 5*time.Second, 10*time.Millisecond)

	// Still within the suspend duration.
	require.NoError(t, env.sched.Activator.RunOnce(ctx))
	assert.Equal(t, QueueTemporarilySuspended, queue.Status())

	env.clock.Advance(2 * time.Minute)
	require.NoError(t, env.sched.Activator.RunOnce(ctx))
	require.Eventually(t, func() bool { return queue.Status() == QueueEnded }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, queue.SuspendRetries())

	env.sched.Controller.Conclude()
	require.NoError(t, env.sched.Controller.WaitToFinish(ctx))
	assert.Equal(t, 1, resourceOf(env, "T10K").Free)
}

func TestActivatorAbortsAfterMaxSuspensions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{MaxSuspendRetries: 1, SuspendDuration: time.Minute})

	queue := addQueue(t, env, "IT0001", "cms", 10)
	for range 2 {
		require.NoError(t, queue.ChangeToActivated())
		require.NoError(t, queue.Suspend())
		if queue.SuspendRetries() == 1 {
			require.NoError(t, queue.Unsuspend())
		}
	}

	env.clock.Advance(2 * time.Minute)
	require.NoError(t, env.sched.Activator.RunOnce(ctx))

	assert.Equal(t, hsm.CodeMaxSuspendRetries, env.store.aborted[queue.ID()])
	assert.Nil(t, env.sched.Registry.Get("IT0001"))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.sched.Activator.metrics.aborts))
}

func TestActivatorRefreshKeepsRunningDrives(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{AllocationMaxAge: time.Minute})
	holdStagers(t, env, 3)

	addQueue(t, env, "L80001", "atlas", 10)
	require.NoError(t, env.sched.Activator.RunOnce(ctx))
	assert.Equal(t, 1, resourceOf(env, "LTO8").Free)

	require.NoError(t, env.sched.SyncMediaTypes(ctx, []models.MediaType{
		{Name: "LTO8", Pattern: "^L8", Drives: 4},
	}))
	env.clock.Advance(2 * time.Minute)
	require.NoError(t, env.sched.Activator.RunOnce(ctx))

	snap := resourceOf(env, "LTO8")
	assert.Equal(t, 4, snap.Total)
	assert.Equal(t, 3, snap.Free)
	assert.Equal(t, 1, snap.Used["atlas"])
}

func TestActivatorKeepsResourcesWhenReloadFails(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{AllocationMaxAge: time.Minute})

	env.store.failLoad = errors.New("database is locked")
	env.clock.Advance(2 * time.Minute)

	require.NoError(t, env.sched.Activator.RunOnce(ctx))
	assert.Equal(t, 2, resourceOf(env, "LTO8").Total)
}
