package handler

import (
	"net/http"
	"time"

	"github.com/fitsync/fitsync/internal/models"
	"github.com/fitsync/fitsync/internal/queue"
	"github.com/fitsync/fitsync/internal/repository"
	"github.com/gin-gonic/gin"
)

// AdminHandler exposes the operator surface: failed-sink inspection,
// queue status, tier management and backfill scheduling.
type AdminHandler struct {
	queue *queue.Queue
	tiers *repository.TierRepository
}

func NewAdminHandler(q *queue.Queue, tiers *repository.TierRepository) *AdminHandler {
	return &AdminHandler{
		queue: q,
		tiers: tiers,
	}
}

// QueueStatus reports list depths per class plus the failed sink.
func (h *AdminHandler) QueueStatus(c *gin.Context) {
	depths, err := h.queue.Depth(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"queues":    depths,
		"timestamp": time.Now().Unix(),
	})
}

// FailedJobs lists the most recent failed-sink entries.
func (h *AdminHandler) FailedJobs(c *gin.Context) {
	entries, err := h.queue.ListFailed(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":  len(entries),
		"failed": entries,
	})
}

// RequeueFailed moves failed jobs back onto their queues.
func (h *AdminHandler) RequeueFailed(c *gin.Context) {
	var req struct {
		Count int `json:"count" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	requeued, err := h.queue.RequeueFailed(c.Request.Context(), req.Count)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"requeued": requeued})
}

// Backfill enqueues low-priority jobs for historical resources. They
// drain only when the live class is empty.
func (h *AdminHandler) Backfill(c *gin.Context) {
	var req struct {
		SubjectID    string   `json:"subject_id" binding:"required"`
		ResourceType string   `json:"resource_type"`
		ResourceIDs  []string `json:"resource_ids" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.ResourceType == "" {
		req.ResourceType = "activities"
	}

	ctx := c.Request.Context()
	for _, resourceID := range req.ResourceIDs {
		job := queue.NewJob("create", req.SubjectID, resourceID, req.ResourceType, queue.ClassBackfill)
		if err := h.queue.Enqueue(ctx, job); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	c.JSON(http.StatusAccepted, gin.H{"enqueued": len(req.ResourceIDs)})
}

// ListTiers returns the subject tier table.
func (h *AdminHandler) ListTiers(c *gin.Context) {
	tiers, err := h.tiers.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, tiers)
}

// UpsertTier writes a subject's tier. Billing owns this table in
// production; the endpoint exists for operations and testing.
func (h *AdminHandler) UpsertTier(c *gin.Context) {
	var req struct {
		SubjectID     string     `json:"subject_id" binding:"required"`
		Tier          string     `json:"tier" binding:"required"`
		TierExpiresAt *time.Time `json:"tier_expires_at"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tier := &models.SubjectTier{
		SubjectID:     req.SubjectID,
		Tier:          req.Tier,
		TierExpiresAt: req.TierExpiresAt,
	}

	if err := h.tiers.Upsert(c.Request.Context(), tier); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Tier updated"})
}
