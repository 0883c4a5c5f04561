package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/fitsync/fitsync/internal/storage"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// TTL classes. Raw time-series payloads are retention-bound: their
// expiry is enforced to stay under the compliance ceiling at
// construction, so no write path can produce an unbounded raw entry.
// Derived summaries carry no expiry.
type TTLClass string

const (
	ClassRawStream TTLClass = "raw-stream"
	ClassSummary   TTLClass = "summary"
)

// FetchFunc loads a payload from upstream on a cache miss.
type FetchFunc func(ctx context.Context) ([]byte, error)

// ComplianceCache is a cache-aside store with per-class TTLs and
// single-flight fetches on cold keys.
type ComplianceCache struct {
	redis  *storage.RedisClient
	rawTTL time.Duration
	group  singleflight.Group
}

// NewComplianceCache clamps rawTTL to the compliance ceiling. The clamp
// lives here rather than in callers so a misconfigured TTL can never
// outlive the retention window.
func NewComplianceCache(redis *storage.RedisClient, rawTTL, complianceCeiling time.Duration) *ComplianceCache {
	if complianceCeiling <= 0 {
		complianceCeiling = 24 * time.Hour
	}
	if rawTTL <= 0 || rawTTL > complianceCeiling {
		rawTTL = complianceCeiling
	}

	return &ComplianceCache{
		redis:  redis,
		rawTTL: rawTTL,
	}
}

// Key builds the canonical entry key: {resourceType}:{subjectId}:{resourceId}.
func Key(resourceType, subjectID, resourceID string) string {
	return fmt.Sprintf("%s:%s:%s", resourceType, subjectID, resourceID)
}

// GetOrFetch returns the cached payload on a hit. On a miss, concurrent
// callers for the same cold key share one in-flight fetch; all receive
// the same result, stored under the class TTL.
func (c *ComplianceCache) GetOrFetch(ctx context.Context, key string, class TTLClass, fetch FetchFunc) ([]byte, error) {
	cached, err := c.redis.Get(ctx, key)
	if err == nil {
		return []byte(cached), nil
	}
	if err != redis.Nil {
		return nil, fmt.Errorf("cache read failed: %w", err)
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Another flight may have filled the key while we queued
		cached, err := c.redis.Get(ctx, key)
		if err == nil {
			return []byte(cached), nil
		}
		if err != redis.Nil {
			return nil, fmt.Errorf("cache read failed: %w", err)
		}

		payload, err := fetch(ctx)
		if err != nil {
			return nil, err
		}

		if err := c.Put(ctx, key, class, payload); err != nil {
			return nil, err
		}

		return payload, nil
	})
	if err != nil {
		return nil, err
	}

	return result.([]byte), nil
}

// Put stores a payload under the class TTL. Raw-stream entries always
// expire within the compliance ceiling; summaries never expire.
func (c *ComplianceCache) Put(ctx context.Context, key string, class TTLClass, payload []byte) error {
	ttl, err := c.ttlFor(class)
	if err != nil {
		return err
	}

	if err := c.redis.Set(ctx, key, payload, ttl); err != nil {
		return fmt.Errorf("cache write failed: %w", err)
	}

	return nil
}

// Invalidate drops the entry. Fired when an upstream mutation event
// arrives for the same resource, so a stale entry cannot sit out its TTL.
func (c *ComplianceCache) Invalidate(ctx context.Context, key string) error {
	if err := c.redis.Del(ctx, key); err != nil {
		return fmt.Errorf("cache invalidation failed: %w", err)
	}
	return nil
}

// RawTTL is the effective raw-stream expiry after the ceiling clamp.
func (c *ComplianceCache) RawTTL() time.Duration {
	return c.rawTTL
}

func (c *ComplianceCache) ttlFor(class TTLClass) (time.Duration, error) {
	switch class {
	case ClassRawStream:
		return c.rawTTL, nil
	case ClassSummary:
		return 0, nil // no expiry
	default:
		return 0, fmt.Errorf("unknown ttl class %q", class)
	}
}
