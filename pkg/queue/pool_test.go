package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redloop-ai/redloop/pkg/models"
)

func TestPoolStartRecoversOrphans(t *testing.T) {
	st := newMemStore()
	st.orphans = 2

	pool := NewWorkerPool("pod-1", st, fastQueueConfig(), funcExecutor(func(context.Context, *models.Experiment) error {
		return nil
	}), nil)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	health := pool.Health()
	assert.Equal(t, 2, health.OrphansRecovered)
}

func TestPoolStartIsIdempotent(t *testing.T) {
	st := newMemStore()
	pool := NewWorkerPool("pod-1", st, fastQueueConfig(), funcExecutor(func(context.Context, *models.Experiment) error {
		return nil
	}), nil)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	require.NoError(t, pool.Start(context.Background()))
	assert.Len(t, pool.workers, 1, "duplicate Start must not double the workers")
}

func TestPoolHealthReportsQueueState(t *testing.T) {
	st := newMemStore()
	st.enqueue(&models.Experiment{ID: "queued-1"})
	st.enqueue(&models.Experiment{ID: "queued-2"})

	cfg := fastQueueConfig()
	cfg.PollInterval = time.Hour // keep workers from draining the queue

	pool := NewWorkerPool("pod-1", st, cfg, funcExecutor(func(ctx context.Context, _ *models.Experiment) error {
		<-ctx.Done()
		return ctx.Err()
	}), nil)

	health := pool.Health()
	assert.False(t, health.IsHealthy, "a pool with no workers is not healthy")
	assert.True(t, health.DBReachable)
	assert.Equal(t, 2, health.QueueDepth)
	assert.Equal(t, "pod-1", health.PodID)
	assert.Zero(t, health.TotalWorkers)

	// Cancel unblocks the parked executor so Stop can drain the worker.
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, pool.Start(ctx))
	defer pool.Stop()
	defer cancel()

	health = pool.Health()
	assert.Equal(t, 1, health.TotalWorkers)
	assert.True(t, health.IsHealthy)
	require.Len(t, health.WorkerStats, 1)
	assert.Equal(t, "pod-1-worker-0", health.WorkerStats[0].ID)
}

func TestPoolStopWaitsForWorkers(t *testing.T) {
	st := newMemStore()
	st.enqueue(&models.Experiment{ID: "exp-1"})

	started := make(chan struct{})
	exec := funcExecutor(func(_ context.Context, _ *models.Experiment) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		return nil
	})

	pool := NewWorkerPool("pod-1", st, fastQueueConfig(), exec, nil)
	require.NoError(t, pool.Start(context.Background()))

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("executor never started")
	}

	pool.Stop()

	status, _ := st.statusOf("exp-1")
	assert.Equal(t, models.StatusCompleted, status,
		"graceful stop lets the in-flight experiment finish")
}
