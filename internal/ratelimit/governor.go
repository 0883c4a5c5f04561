package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fitsync/fitsync/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of an admission check. A denial is normal
// control flow, not an error: it names the exhausted scope and when
// that scope's window resets.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Scope     string    `json:"scope"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Governor enforces two independent quota families on fixed windows:
// per-subject tier quotas (hourly) and the provider's global ceilings
// (15-minute and daily), shared across all subjects.
type Governor struct {
	redis           *storage.RedisClient
	tierLimit       func(tier string) int
	fifteenMinLimit int
	dailyLimit      int
}

func NewGovernor(redis *storage.RedisClient, tierLimit func(string) int, fifteenMinLimit, dailyLimit int) *Governor {
	return &Governor{
		redis:           redis,
		tierLimit:       tierLimit,
		fifteenMinLimit: fifteenMinLimit,
		dailyLimit:      dailyLimit,
	}
}

// CheckAndIncrement counts a hit against scopeKey's current fixed window.
// The counter key is scopeKey:windowIndex; the TTL is set only on the
// increment that creates the key, so later hits never push the expiry out.
func (g *Governor) CheckAndIncrement(ctx context.Context, scopeKey string, limit int, window time.Duration) (Decision, error) {
	windowSecs := int64(window.Seconds())
	currentWindow := time.Now().Unix() / windowSecs
	redisKey := fmt.Sprintf("%s:%d", scopeKey, currentWindow)

	count, err := g.redis.Incr(ctx, redisKey)
	if err != nil {
		return Decision{}, fmt.Errorf("rate counter increment failed: %w", err)
	}

	if count == 1 {
		g.redis.Expire(ctx, redisKey, window)
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count <= int64(limit),
		Scope:     scopeKey,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   time.Unix((currentWindow+1)*windowSecs, 0),
	}, nil
}

// Admit checks every applicable scope for one upstream call on behalf of
// a subject: the subject's hourly tier quota, then the global 15-minute
// and daily ceilings. The first exhausted scope denies the whole request.
func (g *Governor) Admit(ctx context.Context, subjectID, endpoint, tier string) (Decision, error) {
	tierDecision, err := g.CheckAndIncrement(ctx, TierScopeKey(subjectID, endpoint), g.tierLimit(tier), time.Hour)
	if err != nil {
		return Decision{}, err
	}
	if !tierDecision.Allowed {
		return tierDecision, nil
	}

	global15, err := g.CheckAndIncrement(ctx, Global15MinScopeKey(endpoint), g.fifteenMinLimit, 15*time.Minute)
	if err != nil {
		return Decision{}, err
	}
	if !global15.Allowed {
		return global15, nil
	}

	globalDay, err := g.CheckAndIncrement(ctx, GlobalDailyScopeKey(endpoint), g.dailyLimit, 24*time.Hour)
	if err != nil {
		return Decision{}, err
	}
	if !globalDay.Allowed {
		return globalDay, nil
	}

	// All scopes passed; report the subject's own quota to the caller
	return tierDecision, nil
}

// Remaining15Min reports the unspent global 15-minute budget without
// consuming any of it. The drain worker sizes its batches from this.
func (g *Governor) Remaining15Min(ctx context.Context, endpoint string) (int, error) {
	windowSecs := int64((15 * time.Minute).Seconds())
	currentWindow := time.Now().Unix() / windowSecs
	redisKey := fmt.Sprintf("%s:%d", Global15MinScopeKey(endpoint), currentWindow)

	val, err := g.redis.Get(ctx, redisKey)
	if err == redis.Nil {
		return g.fifteenMinLimit, nil
	}
	if err != nil {
		return 0, err
	}

	count, _ := strconv.Atoi(val)
	remaining := g.fifteenMinLimit - count
	if remaining < 0 {
		remaining = 0
	}

	return remaining, nil
}
