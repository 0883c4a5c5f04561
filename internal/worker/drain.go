package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/fitsync/fitsync/internal/cache"
	"github.com/fitsync/fitsync/internal/credentials"
	"github.com/fitsync/fitsync/internal/models"
	"github.com/fitsync/fitsync/internal/queue"
	"github.com/fitsync/fitsync/internal/ratelimit"
	"github.com/fitsync/fitsync/internal/upstream"
)

// Collaborators are injected as narrow interfaces so the worker carries
// no hidden process-level state.

type Fetcher interface {
	FetchActivity(ctx context.Context, token, subjectID, resourceType, resourceID string) (*upstream.ActivityPayload, error)
}

type SummaryStore interface {
	Upsert(ctx context.Context, summary *models.ActivitySummary) error
	Delete(ctx context.Context, subjectID, resourceID string) error
}

type TierResolver interface {
	EffectiveTier(ctx context.Context, subjectID string) (string, error)
}

// Drainer pops bounded batches off the durable queue, gates every
// upstream call through the rate governor, and applies results
// idempotently. One logical drain cycle is assumed active at a time;
// overlap is tolerated by job idempotency, not by locking.
type Drainer struct {
	queue       *queue.Queue
	governor    *ratelimit.Governor
	fetcher     Fetcher
	creds       credentials.Store
	tiers       TierResolver
	summaries   SummaryStore
	cache       *cache.ComplianceCache
	maxBatch    int
	callsPerJob int
}

type Config struct {
	MaxBatch    int
	CallsPerJob int
}

func NewDrainer(q *queue.Queue, g *ratelimit.Governor, f Fetcher, creds credentials.Store,
	tiers TierResolver, summaries SummaryStore, c *cache.ComplianceCache, cfg Config) *Drainer {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 25
	}
	if cfg.CallsPerJob <= 0 {
		cfg.CallsPerJob = 1
	}

	return &Drainer{
		queue:       q,
		governor:    g,
		fetcher:     f,
		creds:       creds,
		tiers:       tiers,
		summaries:   summaries,
		cache:       c,
		maxBatch:    cfg.MaxBatch,
		callsPerJob: cfg.CallsPerJob,
	}
}

// Run executes drain cycles on a fixed period until ctx is cancelled.
func (d *Drainer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.RunCycle(ctx); err != nil {
				log.Printf("Drain cycle failed: %v", err)
			}
		}
	}
}

// RunCycle processes one bounded batch. The batch is sized so that even
// the worst case cannot overshoot the remaining global 15-minute budget.
func (d *Drainer) RunCycle(ctx context.Context) error {
	remaining, err := d.governor.Remaining15Min(ctx, "activities")
	if err != nil {
		return fmt.Errorf("failed to read global budget: %w", err)
	}

	batchSize := remaining / d.callsPerJob
	if batchSize > d.maxBatch {
		batchSize = d.maxBatch
	}
	if batchSize <= 0 {
		log.Printf("Global budget exhausted, skipping drain cycle")
		return nil
	}

	jobs, err := d.queue.DrainBatch(ctx, batchSize)
	if err != nil {
		return err
	}

	for i, job := range jobs {
		halt, err := d.process(ctx, job)
		if err != nil {
			log.Printf("Job %s bookkeeping failed: %v", job.ID, err)
		}
		if halt {
			// Back-pressure: put the untouched remainder back and stop
			for _, rest := range jobs[i+1:] {
				if err := d.queue.Requeue(ctx, rest); err != nil {
					log.Printf("Failed to requeue job %s: %v", rest.ID, err)
				}
			}
			return nil
		}
	}

	return nil
}

// process handles one job. The bool result requests a halt of the
// current cycle (admission denied on any scope).
func (d *Drainer) process(ctx context.Context, job queue.Job) (bool, error) {
	now := time.Now().UTC()

	if !job.Due(now) {
		// Still backing off; push to the tail for a later cycle
		return false, d.queue.Requeue(ctx, job)
	}

	// Deletions need no upstream call: drop the summary row and the
	// cache entry so neither store can serve the removed resource.
	if job.Kind == "delete" {
		if err := d.summaries.Delete(ctx, job.SubjectID, job.ResourceID); err != nil {
			return false, d.queue.Retry(ctx, job, err)
		}
		if err := d.cache.Invalidate(ctx, cache.Key(job.ResourceType, job.SubjectID, job.ResourceID)); err != nil {
			return false, d.queue.Retry(ctx, job, err)
		}
		return false, nil
	}

	token, err := d.creds.Token(ctx, job.SubjectID)
	if err != nil {
		if errors.Is(err, credentials.ErrNoCredentials) {
			// Deauthorized subject; the job can never succeed
			return false, d.queue.Fail(ctx, job, err)
		}
		return false, d.queue.Retry(ctx, job, err)
	}

	tier, err := d.tiers.EffectiveTier(ctx, job.SubjectID)
	if err != nil {
		return false, d.queue.Retry(ctx, job, err)
	}

	decision, err := d.governor.Admit(ctx, job.SubjectID, job.ResourceType, tier)
	if err != nil {
		return false, d.queue.Retry(ctx, job, err)
	}
	if !decision.Allowed {
		// Not a failure: requeue untouched and halt the cycle
		log.Printf("Admission denied on scope %s (resets %s), backing off", decision.Scope, decision.ResetAt.Format(time.RFC3339))
		return true, d.queue.Requeue(ctx, job)
	}

	payload, err := d.fetcher.FetchActivity(ctx, token, job.SubjectID, job.ResourceType, job.ResourceID)
	if err != nil {
		if upstream.IsPermanent(err) {
			return false, d.queue.Fail(ctx, job, err)
		}
		return false, d.queue.Retry(ctx, job, err)
	}

	// Summary fields persist indefinitely; the raw payload goes only to
	// the retention-capped cache.
	if err := d.summaries.Upsert(ctx, &payload.Summary); err != nil {
		return false, d.queue.Retry(ctx, job, err)
	}

	rawKey := cache.Key(job.ResourceType, job.SubjectID, job.ResourceID)
	if err := d.cache.Put(ctx, rawKey, cache.ClassRawStream, payload.Raw); err != nil {
		return false, d.queue.Retry(ctx, job, err)
	}

	return false, nil
}
