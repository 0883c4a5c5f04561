package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fitsync/fitsync/internal/cache"
	"github.com/fitsync/fitsync/internal/credentials"
	"github.com/fitsync/fitsync/internal/queue"
	"github.com/fitsync/fitsync/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testVerifyCode = "verify-code-123"
	testSecret     = "webhook-secret"
)

type webhookFixture struct {
	router *gin.Engine
	queue  *queue.Queue
	creds  credentials.Store
	cache  *cache.ComplianceCache
	redis  *storage.RedisClient
	mr     *miniredis.Miniredis
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	rc := storage.NewRedisFromClient(client)
	q := queue.New(rc, queue.Config{})
	creds := credentials.NewRedisStore(rc)
	cc := cache.NewComplianceCache(rc, time.Hour, 24*time.Hour)

	h := NewWebhookHandler(q, creds, cc, testVerifyCode, testSecret)

	router := gin.New()
	router.GET("/webhooks/activity", h.Verify)
	router.POST("/webhooks/activity", h.Receive)

	return &webhookFixture{router: router, queue: q, creds: creds, cache: cc, redis: rc, mr: mr}
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (f *webhookFixture) post(t *testing.T, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/activity", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Webhook-Signature", signature)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestVerificationHandshake(t *testing.T) {
	f := newWebhookFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/activity?verify="+testVerifyCode, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/webhooks/activity?verify=wrong", nil)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReceiveRejectsBadSignature(t *testing.T) {
	f := newWebhookFixture(t)

	body := []byte(`[{"eventType":"create","subjectId":"subj1","resourceId":"r1"}]`)

	rec := f.post(t, body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.post(t, body, hex.EncodeToString([]byte("forged")))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	depths, err := f.queue.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), depths[queue.ClassLive])
}

func TestReceiveEnqueuesDataChangeEvents(t *testing.T) {
	f := newWebhookFixture(t)

	body := []byte(`[
		{"eventType":"create","subjectId":"subj1","resourceId":"r1","collectionType":"activities"},
		{"eventType":"create","subjectId":"subj2","resourceId":"r2","collectionType":"activities"}
	]`)

	rec := f.post(t, body, sign(body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"accepted":2`)

	jobs, err := f.queue.DrainBatch(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "subj1", jobs[0].SubjectID)
	assert.Equal(t, "r1", jobs[0].ResourceID)
	assert.Equal(t, queue.ClassLive, jobs[0].Class)
	assert.Equal(t, 0, jobs[0].Attempt)
}

func TestReceiveDoesNotDeduplicate(t *testing.T) {
	f := newWebhookFixture(t)

	// The same resource twice within one delivery: intake enqueues
	// both; idempotent apply downstream absorbs the duplication
	body := []byte(`[
		{"eventType":"create","subjectId":"subj1","resourceId":"12345"},
		{"eventType":"create","subjectId":"subj1","resourceId":"12345"}
	]`)

	rec := f.post(t, body, sign(body))
	assert.Equal(t, http.StatusOK, rec.Code)

	depths, err := f.queue.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), depths[queue.ClassLive])
}

func TestDeauthorizationRevokesImmediately(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	require.NoError(t, f.redis.Set(ctx, "credentials:subj1", "token", 0))

	body := []byte(`[{"eventType":"deauthorization","subjectId":"subj1"}]`)
	rec := f.post(t, body, sign(body))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Revocation happened synchronously, not via the queue
	_, err := f.creds.Token(ctx, "subj1")
	assert.ErrorIs(t, err, credentials.ErrNoCredentials)

	depths, err := f.queue.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depths[queue.ClassLive])
}

func TestMutationEventInvalidatesCache(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	key := cache.Key("activities", "subj1", "r1")
	require.NoError(t, f.cache.Put(ctx, key, cache.ClassRawStream, []byte("stale")))

	body := []byte(`[{"eventType":"update","subjectId":"subj1","resourceId":"r1","collectionType":"activities"}]`)
	rec := f.post(t, body, sign(body))
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.False(t, f.mr.Exists(key), "mutation events must drop the cached copy")

	depths, err := f.queue.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depths[queue.ClassLive], "the update is still queued for re-fetch")
}

func TestReceiveRejectsMalformedBody(t *testing.T) {
	f := newWebhookFixture(t)

	body := []byte(`{"not":"an array"}`)
	rec := f.post(t, body, sign(body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
