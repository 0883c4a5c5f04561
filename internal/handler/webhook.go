package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/fitsync/fitsync/internal/cache"
	"github.com/fitsync/fitsync/internal/credentials"
	"github.com/fitsync/fitsync/internal/queue"
	"github.com/gin-gonic/gin"
)

// WebhookHandler is the latency-critical intake path. It validates,
// normalizes and enqueues - it never calls upstream, so its response
// time is independent of queue depth and provider health.
type WebhookHandler struct {
	queue            *queue.Queue
	creds            credentials.Store
	cache            *cache.ComplianceCache
	verificationCode string
	signatureSecret  []byte
}

func NewWebhookHandler(q *queue.Queue, creds credentials.Store, c *cache.ComplianceCache, verificationCode, signatureSecret string) *WebhookHandler {
	return &WebhookHandler{
		queue:            q,
		creds:            creds,
		cache:            c,
		verificationCode: verificationCode,
		signatureSecret:  []byte(signatureSecret),
	}
}

// notification is one inbound event as the provider sends it.
type notification struct {
	EventType      string `json:"eventType"`
	SubjectID      string `json:"subjectId"`
	ResourceID     string `json:"resourceId"`
	CollectionType string `json:"collectionType"`
}

// Verify answers the provider's subscription-verification handshake.
func (h *WebhookHandler) Verify(c *gin.Context) {
	if c.Query("verify") == h.verificationCode && h.verificationCode != "" {
		c.Status(http.StatusNoContent)
		return
	}
	c.Status(http.StatusNotFound)
}

// Receive authenticates a batch of notifications and enqueues one job
// per data-change event. Duplicates are enqueued as-is; the summary
// upsert downstream absorbs redelivery.
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable body"})
		return
	}

	if !h.validSignature(body, c.GetHeader("X-Webhook-Signature")) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	var events []notification
	if err := json.Unmarshal(body, &events); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed payload"})
		return
	}

	ctx := c.Request.Context()
	enqueued := 0

	for _, ev := range events {
		if ev.SubjectID == "" {
			continue
		}

		// Deauthorization cannot wait on a drain cycle: revoke now,
		// out of band, and never enqueue.
		if ev.EventType == "deauthorization" {
			if err := h.creds.Revoke(ctx, ev.SubjectID); err != nil {
				log.Printf("Failed to revoke credentials for %s: %v", ev.SubjectID, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Revocation failed"})
				return
			}
			continue
		}

		if ev.ResourceID == "" {
			continue
		}

		resourceType := ev.CollectionType
		if resourceType == "" {
			resourceType = "activities"
		}

		// A mutation makes any cached copy stale immediately; best
		// effort, the TTL still bounds staleness if this fails
		if ev.EventType == "update" || ev.EventType == "delete" {
			if err := h.cache.Invalidate(ctx, cache.Key(resourceType, ev.SubjectID, ev.ResourceID)); err != nil {
				log.Printf("Cache invalidation failed for %s/%s: %v", ev.SubjectID, ev.ResourceID, err)
			}
		}

		job := queue.NewJob(ev.EventType, ev.SubjectID, ev.ResourceID, resourceType, queue.ClassLive)
		if err := h.queue.Enqueue(ctx, job); err != nil {
			log.Printf("Failed to enqueue job for %s/%s: %v", ev.SubjectID, ev.ResourceID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Enqueue failed"})
			return
		}
		enqueued++
	}

	c.JSON(http.StatusOK, gin.H{"accepted": enqueued})
}

func (h *WebhookHandler) validSignature(body []byte, header string) bool {
	if header == "" {
		return false
	}

	provided, err := hex.DecodeString(header)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, h.signatureSecret)
	mac.Write(body)

	return hmac.Equal(provided, mac.Sum(nil))
}
