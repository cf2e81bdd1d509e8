package queue

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipIfNoRedis(t *testing.T) *Queue {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	q, err := New(Config{Addr: addr, DB: 14})
	if err != nil {
		t.Skipf("Skipping test, redis not available: %v", err)
		return nil
	}
	require.NoError(t, q.client.FlushDB(context.Background()).Err())
	t.Cleanup(func() { q.Close() })
	return q
}

func TestEnqueue_RejectsPriorityOutOfRange(t *testing.T) {
	q := &Queue{}
	for _, p := range []int{-1, -100000, MaxPriority + 1} {
		err := q.EnqueueExportJob(context.Background(), &Job{DatasetID: uuid.New(), Format: "svg", Priority: p})
		assert.ErrorIs(t, err, ErrInvalidPriority, "priority %d", p)
	}
}

func TestDequeue_HigherPriorityFirst(t *testing.T) {
	q := skipIfNoRedis(t)
	if q == nil {
		return
	}
	ctx := context.Background()

	low := &Job{DatasetID: uuid.New(), Format: "svg"}
	high := &Job{DatasetID: uuid.New(), Format: "pdf", Priority: 5}
	require.NoError(t, q.EnqueueExportJob(ctx, low))
	require.NoError(t, q.EnqueueExportJob(ctx, high))

	got, err := q.DequeueJob(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, high.ID, got.ID)

	got, err = q.DequeueJob(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, got, "priority 0 is ready immediately")
	assert.Equal(t, low.ID, got.ID)

	progress, err := q.GetProgress(ctx, low.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, progress.Status)
	assert.Equal(t, "w1", progress.WorkerID)
}

func TestRequeue_WaitsForBackoff(t *testing.T) {
	q := skipIfNoRedis(t)
	if q == nil {
		return
	}
	ctx := context.Background()

	job := &Job{DatasetID: uuid.New(), Format: "svg"}
	require.NoError(t, q.EnqueueExportJob(ctx, job))
	got, err := q.DequeueJob(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, got)

	retried, err := q.RequeueJob(ctx, got, errors.New("bucket unavailable"))
	require.NoError(t, err)
	assert.True(t, retried)

	got, err = q.DequeueJob(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, got, "retry is held until its backoff elapses")

	stats, err := q.GetQueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats["pending"])
	assert.Equal(t, int64(1), stats["delayed"])

	progress, err := q.GetProgress(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, progress.Status)
	assert.Equal(t, []string{"bucket unavailable"}, progress.Errors)

	// Pretend the backoff has elapsed.
	members, err := q.client.ZRange(ctx, ExportJobsDelayed, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.NoError(t, q.client.ZAdd(ctx, ExportJobsDelayed, redis.Z{Score: 0, Member: members[0]}).Err())

	got, err = q.DequeueJob(ctx, "w2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, 1, got.Attempts)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 30*time.Second, Backoff(1))
	assert.Equal(t, time.Minute, Backoff(2))
}
