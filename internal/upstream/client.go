package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fitsync/fitsync/internal/circuitbreaker"
	"github.com/fitsync/fitsync/internal/models"
)

// ActivityPayload is one fetched resource. Raw carries the full
// provider body including intraday time series - it is compliance-bound
// and may only be written to the retention-capped cache. Summary holds
// the derived fields that are safe to persist indefinitely.
type ActivityPayload struct {
	Raw     json.RawMessage
	Summary models.ActivitySummary
}

// Client talks to the provider's activity API. Every call carries a
// fixed timeout and runs behind a circuit breaker; an open circuit is
// a transient failure from the caller's point of view.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

func NewClient(baseURL string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
	}
}

// activityResponse mirrors the provider's wire format.
type activityResponse struct {
	ActivityID     string  `json:"activityId"`
	Date           string  `json:"date"`
	Steps          int     `json:"steps"`
	DistanceMeters float64 `json:"distanceMeters"`
	Calories       int     `json:"calories"`
	ActiveMinutes  int     `json:"activeMinutes"`
}

// FetchActivity pulls one resource for a subject. The caller must have
// passed rate-governor admission before calling this.
func (c *Client) FetchActivity(ctx context.Context, token, subjectID, resourceType, resourceID string) (*ActivityPayload, error) {
	var payload *ActivityPayload

	err := c.breaker.Call(func() error {
		var err error
		payload, err = c.fetch(ctx, token, subjectID, resourceType, resourceID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return payload, nil
}

func (c *Client) fetch(ctx context.Context, token, subjectID, resourceType, resourceID string) (*ActivityPayload, error) {
	url := fmt.Sprintf("%s/1/user/%s/%s/%s.json", c.baseURL, subjectID, resourceType, resourceID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts and network errors land here - transient
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: %s/%s", ErrResourceGone, resourceType, resourceID)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("upstream rate limited (429)")
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("upstream returned %d", resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d", ErrBadRequest, resp.StatusCode)
	}

	var parsed activityResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	return &ActivityPayload{
		Raw: json.RawMessage(body),
		Summary: models.ActivitySummary{
			SubjectID:    subjectID,
			ResourceID:   resourceID,
			ResourceType: resourceType,
			ActivityDate: parsed.Date,
			Steps:        parsed.Steps,
			DistanceM:    parsed.DistanceMeters,
			Calories:     parsed.Calories,
			ActiveMins:   parsed.ActiveMinutes,
			SyncedAt:     time.Now().UTC(),
		},
	}, nil
}
