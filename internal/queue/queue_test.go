package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fitsync/fitsync/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, cfg Config) *Queue {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(storage.NewRedisFromClient(client), cfg)
}

func TestFIFOWithinClass(t *testing.T) {
	q := newTestQueue(t, Config{})
	ctx := context.Background()

	for _, res := range []string{"r1", "r2", "r3"} {
		require.NoError(t, q.Enqueue(ctx, NewJob("create", "subj1", res, "activities", ClassLive)))
	}

	jobs, err := q.DrainBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "r1", jobs[0].ResourceID)
	assert.Equal(t, "r2", jobs[1].ResourceID)
	assert.Equal(t, "r3", jobs[2].ResourceID)
}

func TestLiveDrainsBeforeBackfill(t *testing.T) {
	q := newTestQueue(t, Config{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, NewJob("create", "subj1", "old", "activities", ClassBackfill)))
	require.NoError(t, q.Enqueue(ctx, NewJob("create", "subj1", "new", "activities", ClassLive)))

	jobs, err := q.DrainBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "new", jobs[0].ResourceID)
	assert.Equal(t, ClassLive, jobs[0].Class)
	assert.Equal(t, "old", jobs[1].ResourceID)
	assert.Equal(t, ClassBackfill, jobs[1].Class)
}

func TestDrainBatchRespectsMax(t *testing.T) {
	q := newTestQueue(t, Config{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, NewJob("create", "subj1", "r", "activities", ClassLive)))
	}

	jobs, err := q.DrainBatch(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	depths, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), depths[ClassLive])
}

func TestRequeueKeepsAttemptCount(t *testing.T) {
	q := newTestQueue(t, Config{})
	ctx := context.Background()

	job := NewJob("create", "subj1", "r1", "activities", ClassLive)
	job.Attempt = 2

	require.NoError(t, q.Requeue(ctx, job))

	jobs, err := q.DrainBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 2, jobs[0].Attempt)
}

func TestRetryBacksOffExponentially(t *testing.T) {
	q := newTestQueue(t, Config{MaxAttempts: 5, BackoffBase: time.Minute})
	ctx := context.Background()

	job := NewJob("create", "subj1", "r1", "activities", ClassLive)
	job.Attempt = 2

	before := time.Now().UTC()
	require.NoError(t, q.Retry(ctx, job, errors.New("upstream returned 503")))

	jobs, err := q.DrainBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	assert.Equal(t, 3, jobs[0].Attempt)
	// attempt 3 waits base * 2^2 = 4 minutes
	assert.False(t, jobs[0].Due(before.Add(3*time.Minute)))
	assert.True(t, jobs[0].Due(before.Add(5*time.Minute)))
}

func TestRetryCeilingMovesJobToFailedSink(t *testing.T) {
	const maxAttempts = 3
	q := newTestQueue(t, Config{MaxAttempts: maxAttempts, BackoffBase: time.Millisecond})
	ctx := context.Background()

	job := NewJob("create", "subj1", "poison", "activities", ClassLive)
	cause := errors.New("connection refused")

	retries := 0
	for i := 0; i < maxAttempts; i++ {
		require.NoError(t, q.Retry(ctx, job, cause))

		jobs, err := q.DrainBatch(ctx, 1)
		require.NoError(t, err)

		if len(jobs) == 0 {
			break
		}
		retries++
		job = jobs[0]
	}

	// Retried until the ceiling, then routed to the sink - never forever
	assert.Equal(t, maxAttempts-1, retries)

	failed, err := q.ListFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "poison", failed[0].Job.ResourceID)
	assert.Contains(t, failed[0].Cause, "retry ceiling reached")
	assert.Contains(t, failed[0].Cause, "connection refused")

	depths, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depths[ClassLive])
}

func TestFailedSinkIsBounded(t *testing.T) {
	q := newTestQueue(t, Config{FailedCap: 2})
	ctx := context.Background()

	for _, res := range []string{"r1", "r2", "r3"} {
		job := NewJob("create", "subj1", res, "activities", ClassLive)
		require.NoError(t, q.Fail(ctx, job, errors.New("resource gone")))
	}

	failed, err := q.ListFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 2)

	// Newest entries survive the trim
	assert.Equal(t, "r2", failed[0].Job.ResourceID)
	assert.Equal(t, "r3", failed[1].Job.ResourceID)
}

func TestRequeueFailedResetsAttempts(t *testing.T) {
	q := newTestQueue(t, Config{})
	ctx := context.Background()

	job := NewJob("create", "subj1", "r1", "activities", ClassBackfill)
	job.Attempt = 4
	require.NoError(t, q.Fail(ctx, job, errors.New("gone")))

	n, err := q.RequeueFailed(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	jobs, err := q.DrainBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 0, jobs[0].Attempt)
	assert.True(t, jobs[0].NotBefore.IsZero())
	assert.Equal(t, ClassBackfill, jobs[0].Class)
}

func TestDepth(t *testing.T) {
	q := newTestQueue(t, Config{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, NewJob("create", "s", "r", "activities", ClassLive)))
	require.NoError(t, q.Enqueue(ctx, NewJob("create", "s", "r", "activities", ClassBackfill)))
	require.NoError(t, q.Enqueue(ctx, NewJob("create", "s", "r", "activities", ClassBackfill)))

	depths, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depths[ClassLive])
	assert.Equal(t, int64(2), depths[ClassBackfill])
	assert.Equal(t, int64(0), depths["failed"])
}
