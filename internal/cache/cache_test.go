package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fitsync/fitsync/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, rawTTL, ceiling time.Duration) (*ComplianceCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewComplianceCache(storage.NewRedisFromClient(client), rawTTL, ceiling), mr
}

func TestGetOrFetchMissThenHit(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 24*time.Hour)
	ctx := context.Background()

	var calls int32
	fetch := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte(`{"steps":1000}`), nil
	}

	key := Key("activities", "subj1", "res1")

	payload, err := c.GetOrFetch(ctx, key, ClassRawStream, fetch)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"steps":1000}`), payload)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// Warm key: zero upstream calls
	payload, err = c.GetOrFetch(ctx, key, ClassRawStream, func(context.Context) ([]byte, error) {
		t.Fatal("fetch must not run on a cache hit")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"steps":1000}`), payload)
}

func TestGetOrFetchSingleFlight(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 24*time.Hour)
	ctx := context.Background()

	var calls int32
	fetch := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		return []byte("shared-result"), nil
	}

	const k = 20
	results := make([][]byte, k)
	errs := make([]error, k)

	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrFetch(ctx, "activities:subj1:cold", ClassRawStream, fetch)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "concurrent cold reads must share one fetch")
	for i := 0; i < k; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []byte("shared-result"), results[i])
	}
}

func TestGetOrFetchPropagatesFetchError(t *testing.T) {
	c, mr := newTestCache(t, time.Hour, 24*time.Hour)

	wantErr := errors.New("upstream down")
	_, err := c.GetOrFetch(context.Background(), "activities:subj1:res1", ClassRawStream, func(context.Context) ([]byte, error) {
		return nil, wantErr
	})

	assert.ErrorIs(t, err, wantErr)
	assert.False(t, mr.Exists("activities:subj1:res1"), "failed fetches must not be cached")
}

func TestRawStreamExpiryBoundedByComplianceCeiling(t *testing.T) {
	// A misconfigured raw TTL above the ceiling gets clamped
	c, mr := newTestCache(t, 48*time.Hour, 24*time.Hour)

	assert.Equal(t, 24*time.Hour, c.RawTTL())

	require.NoError(t, c.Put(context.Background(), "activities:subj1:res1", ClassRawStream, []byte("raw")))

	ttl := mr.TTL("activities:subj1:res1")
	assert.Greater(t, ttl, time.Duration(0), "raw-stream entries must expire")
	assert.LessOrEqual(t, ttl, 24*time.Hour)
}

func TestSummaryEntriesDoNotExpire(t *testing.T) {
	c, mr := newTestCache(t, time.Hour, 24*time.Hour)

	require.NoError(t, c.Put(context.Background(), "summary:subj1:res1", ClassSummary, []byte("derived")))

	assert.True(t, mr.Exists("summary:subj1:res1"))
	assert.Equal(t, time.Duration(0), mr.TTL("summary:subj1:res1"))
}

func TestPutRejectsUnknownClass(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 24*time.Hour)

	err := c.Put(context.Background(), "k", TTLClass("forever"), []byte("x"))
	assert.Error(t, err)
}

func TestInvalidateDropsEntry(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 24*time.Hour)
	ctx := context.Background()

	key := Key("activities", "subj1", "res1")
	require.NoError(t, c.Put(ctx, key, ClassRawStream, []byte("stale")))

	require.NoError(t, c.Invalidate(ctx, key))

	var calls int32
	payload, err := c.GetOrFetch(ctx, key, ClassRawStream, func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("fresh"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), payload)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "activities:subj42:12345", Key("activities", "subj42", "12345"))
}
