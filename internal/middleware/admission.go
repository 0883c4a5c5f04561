package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/fitsync/fitsync/internal/ratelimit"
	"github.com/fitsync/fitsync/internal/service"
	"github.com/gin-gonic/gin"
)

// Admission gates externally-facing read endpoints through the rate
// governor and surfaces the decision as standard headers. A denial is a
// structured 429 naming the exhausted scope, the subject's tier and the
// precise reset time - never a bare failure code.
func Admission(governor *ratelimit.Governor, tiers *service.TierService, endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		subjectID := c.Param("subjectID")
		if subjectID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing subject"})
			c.Abort()
			return
		}

		ctx := c.Request.Context()

		tier, err := tiers.EffectiveTier(ctx, subjectID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Tier lookup failed"})
			c.Abort()
			return
		}

		decision, err := governor.Admit(ctx, subjectID, endpoint, tier)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Rate limit check failed"})
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", decision.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", decision.ResetAt.Unix()))
		c.Header("X-RateLimit-Scope", decision.Scope)
		c.Header("X-RateLimit-Tier", tier)

		if !decision.Allowed {
			retryAfter := int(time.Until(decision.ResetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}

			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":    "Rate limit exceeded",
				"scope":    decision.Scope,
				"tier":     tier,
				"limit":    decision.Limit,
				"reset_at": decision.ResetAt.Unix(),
			})
			c.Abort()
			return
		}

		c.Set("subject_tier", tier)
		c.Next()
	}
}
