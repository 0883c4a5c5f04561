package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/fitsync/fitsync/internal/storage"
)

const (
	keyLive     = "queue:live"
	keyBackfill = "queue:backfill"
	keyFailed   = "queue:failed"
)

// Queue is an ordered, at-least-once job list on Redis: one list per
// priority class, FIFO within a class, live drained before backfill.
type Queue struct {
	redis       *storage.RedisClient
	maxAttempts int
	backoffBase time.Duration
	failedCap   int
}

type Config struct {
	MaxAttempts int           // retry ceiling before the failed sink
	BackoffBase time.Duration // first retry delay; doubles per attempt
	FailedCap   int           // bound on the failed sink length
}

func New(redis *storage.RedisClient, cfg Config) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 30 * time.Second
	}
	if cfg.FailedCap <= 0 {
		cfg.FailedCap = 1000
	}

	return &Queue{
		redis:       redis,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		failedCap:   cfg.FailedCap,
	}
}

func classKey(class string) string {
	if class == ClassBackfill {
		return keyBackfill
	}
	return keyLive
}

// Enqueue appends the job to the tail of its class list.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to serialize job: %w", err)
	}

	if err := q.redis.RPush(ctx, classKey(job.Class), payload); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	return nil
}

// DrainBatch pops up to max jobs, exhausting the live class before
// touching backfill. Jobs that fail to decode are dropped with a log
// line rather than poisoning the batch.
func (q *Queue) DrainBatch(ctx context.Context, max int) ([]Job, error) {
	if max <= 0 {
		return nil, nil
	}

	jobs := make([]Job, 0, max)

	for _, key := range []string{keyLive, keyBackfill} {
		if len(jobs) >= max {
			break
		}

		raw, err := q.redis.LPopCount(ctx, key, max-len(jobs))
		if err != nil {
			return jobs, fmt.Errorf("failed to drain %s: %w", key, err)
		}

		for _, entry := range raw {
			var job Job
			if err := json.Unmarshal([]byte(entry), &job); err != nil {
				log.Printf("Dropping undecodable job from %s: %v", key, err)
				continue
			}
			jobs = append(jobs, job)
		}
	}

	return jobs, nil
}

// Requeue puts a job back unchanged. Used when admission is denied:
// back-pressure, not a failure, so the attempt counter stays put.
func (q *Queue) Requeue(ctx context.Context, job Job) error {
	return q.Enqueue(ctx, job)
}

// Retry re-enqueues after a transient failure with an incremented
// attempt counter and exponential backoff. Once the ceiling is hit the
// job moves to the failed sink instead of retrying forever.
func (q *Queue) Retry(ctx context.Context, job Job, cause error) error {
	job.Attempt++

	if job.Attempt >= q.maxAttempts {
		return q.Fail(ctx, job, fmt.Errorf("retry ceiling reached after %d attempts: %w", job.Attempt, cause))
	}

	backoff := time.Duration(float64(q.backoffBase) * math.Pow(2, float64(job.Attempt-1)))
	job.NotBefore = time.Now().UTC().Add(backoff)

	return q.Enqueue(ctx, job)
}

// Fail routes a job straight to the bounded failed sink.
func (q *Queue) Fail(ctx context.Context, job Job, cause error) error {
	entry := FailedJob{
		Job:      job,
		Cause:    cause.Error(),
		FailedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to serialize failed job: %w", err)
	}

	if err := q.redis.RPush(ctx, keyFailed, payload); err != nil {
		return fmt.Errorf("failed to record failed job: %w", err)
	}

	// Keep the newest entries; the sink is for inspection, not replay
	if err := q.redis.LTrim(ctx, keyFailed, int64(-q.failedCap), -1); err != nil {
		return fmt.Errorf("failed to trim failed sink: %w", err)
	}

	return nil
}

// ListFailed returns up to limit of the most recent failed-sink entries.
func (q *Queue) ListFailed(ctx context.Context, limit int) ([]FailedJob, error) {
	if limit <= 0 {
		limit = 100
	}

	raw, err := q.redis.LRange(ctx, keyFailed, int64(-limit), -1)
	if err != nil {
		return nil, fmt.Errorf("failed to read failed sink: %w", err)
	}

	entries := make([]FailedJob, 0, len(raw))
	for _, e := range raw {
		var fj FailedJob
		if err := json.Unmarshal([]byte(e), &fj); err != nil {
			continue
		}
		entries = append(entries, fj)
	}

	return entries, nil
}

// RequeueFailed moves up to n failed-sink entries back onto their class
// lists with a fresh attempt counter. Operator-triggered only.
func (q *Queue) RequeueFailed(ctx context.Context, n int) (int, error) {
	raw, err := q.redis.LPopCount(ctx, keyFailed, n)
	if err != nil {
		return 0, fmt.Errorf("failed to pop failed sink: %w", err)
	}

	requeued := 0
	for _, e := range raw {
		var fj FailedJob
		if err := json.Unmarshal([]byte(e), &fj); err != nil {
			continue
		}

		job := fj.Job
		job.Attempt = 0
		job.NotBefore = time.Time{}

		if err := q.Enqueue(ctx, job); err != nil {
			return requeued, err
		}
		requeued++
	}

	return requeued, nil
}

// Depth reports the current length of each list.
func (q *Queue) Depth(ctx context.Context) (map[string]int64, error) {
	depths := make(map[string]int64, 3)

	for name, key := range map[string]string{
		ClassLive:     keyLive,
		ClassBackfill: keyBackfill,
		"failed":      keyFailed,
	} {
		n, err := q.redis.LLen(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s depth: %w", key, err)
		}
		depths[name] = n
	}

	return depths, nil
}
