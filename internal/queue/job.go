package queue

import (
	"time"

	"github.com/google/uuid"
)

// Priority classes. Live work always drains before backfill.
const (
	ClassLive     = "live"
	ClassBackfill = "backfill"
)

// Job is the immutable descriptor created at intake and consumed
// at-least-once. Applying it must be idempotent: redeliveries are
// absorbed by the summary upsert, not prevented here.
type Job struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	SubjectID    string    `json:"subject_id"`
	ResourceID   string    `json:"resource_id"`
	ResourceType string    `json:"resource_type"`
	Class        string    `json:"class"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	Attempt      int       `json:"attempt"`
	// NotBefore delays redelivery after a transient failure. Zero means
	// the job is immediately due.
	NotBefore time.Time `json:"not_before,omitempty"`
}

func NewJob(kind, subjectID, resourceID, resourceType, class string) Job {
	return Job{
		ID:           uuid.New().String(),
		Kind:         kind,
		SubjectID:    subjectID,
		ResourceID:   resourceID,
		ResourceType: resourceType,
		Class:        class,
		EnqueuedAt:   time.Now().UTC(),
	}
}

// Due reports whether the job's backoff delay has elapsed.
func (j Job) Due(now time.Time) bool {
	return j.NotBefore.IsZero() || !now.Before(j.NotBefore)
}

// FailedJob is a sink entry kept for operator inspection.
type FailedJob struct {
	Job      Job       `json:"job"`
	Cause    string    `json:"cause"`
	FailedAt time.Time `json:"failed_at"`
}
