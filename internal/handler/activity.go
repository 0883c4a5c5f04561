package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/fitsync/fitsync/internal/cache"
	"github.com/fitsync/fitsync/internal/credentials"
	"github.com/fitsync/fitsync/internal/repository"
	"github.com/fitsync/fitsync/internal/upstream"
	"github.com/gin-gonic/gin"
)

// ActivityHandler serves the read path: summaries from Postgres,
// activity detail through the compliance cache (raw-stream class, so
// served detail is never older than the retention window allows).
type ActivityHandler struct {
	summaries *repository.SummaryRepository
	cache     *cache.ComplianceCache
	client    *upstream.Client
	creds     credentials.Store
}

func NewActivityHandler(summaries *repository.SummaryRepository, c *cache.ComplianceCache, client *upstream.Client, creds credentials.Store) *ActivityHandler {
	return &ActivityHandler{
		summaries: summaries,
		cache:     c,
		client:    client,
		creds:     creds,
	}
}

// List returns stored summaries for a subject. No upstream calls.
func (h *ActivityHandler) List(c *gin.Context) {
	subjectID := c.Param("subjectID")

	summaries, err := h.summaries.ListBySubject(c.Request.Context(), subjectID, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load activities"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subject_id": subjectID,
		"activities": summaries,
	})
}

// Get returns one activity: the persisted summary plus cached detail.
// A cold cache triggers a single-flight upstream fetch; the admission
// middleware has already charged the caller's quota for it.
func (h *ActivityHandler) Get(c *gin.Context) {
	subjectID := c.Param("subjectID")
	resourceID := c.Param("resourceID")
	ctx := c.Request.Context()

	summary, err := h.summaries.Find(ctx, subjectID, resourceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load activity"})
		return
	}
	if summary == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Activity not found"})
		return
	}

	key := cache.Key(summary.ResourceType, subjectID, resourceID)
	detail, err := h.cache.GetOrFetch(ctx, key, cache.ClassRawStream, func(ctx context.Context) ([]byte, error) {
		token, err := h.creds.Token(ctx, subjectID)
		if err != nil {
			return nil, err
		}

		payload, err := h.client.FetchActivity(ctx, token, subjectID, summary.ResourceType, resourceID)
		if err != nil {
			return nil, err
		}

		return payload.Raw, nil
	})
	if err != nil {
		// Detail is best effort; the summary is still authoritative
		c.JSON(http.StatusOK, gin.H{"summary": summary})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"summary": summary,
		"detail":  json.RawMessage(detail),
	})
}
