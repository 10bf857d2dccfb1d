package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"oracle-service/internal/cache"
	"oracle-service/internal/models"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// PolicyCache is the redis-backed read-through cache in front of the policy service.
type PolicyCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte) error
}

// PolicyClient reads policy terms from the policy service over HTTP.
// Concurrent reads of the same policy share one request.
type PolicyClient struct {
	baseURL    string
	httpClient *http.Client
	cache      PolicyCache
	limiter    *rate.Limiter
	inflight   singleflight.Group
}

// NewPolicyClient builds a client; cache and limiter may be nil.
func NewPolicyClient(baseURL string, timeout time.Duration, cache PolicyCache, limiter *rate.Limiter) *PolicyClient {
	return &PolicyClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
		limiter:    limiter,
	}
}

type policyEnvelope struct {
	Success bool                `json:"success"`
	Data    *models.PolicyTerms `json:"data"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// GetPolicy serves policy terms from the cache when present.
func (c *PolicyClient) GetPolicy(ctx context.Context, policyID string) (*models.PolicyTerms, error) {
	if cached, ok := c.cached(ctx, policyID); ok {
		return cached, nil
	}
	return c.fetchShared(ctx, policyID)
}

// IsTriggered always asks the policy service; a cached status may predate the trigger.
func (c *PolicyClient) IsTriggered(ctx context.Context, policyID string) (bool, error) {
	policy, err := c.fetchShared(ctx, policyID)
	if err != nil {
		return false, err
	}
	return policy.Status == models.PolicyTriggered, nil
}

// fetchShared runs one fetch per policy for all concurrent callers. The fetch
// is detached from any single caller's cancellation; each caller still stops
// waiting when its own ctx ends.
func (c *PolicyClient) fetchShared(ctx context.Context, policyID string) (*models.PolicyTerms, error) {
	ch := c.inflight.DoChan(policyID, func() (any, error) {
		sharedCtx := context.WithoutCancel(ctx)
		if timeout := c.httpClient.Timeout; timeout > 0 {
			var cancel context.CancelFunc
			sharedCtx, cancel = context.WithTimeout(sharedCtx, timeout)
			defer cancel()
		}
		return c.fetch(sharedCtx, policyID)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("policy %s lookup abandoned: %w", policyID, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		policy := *res.Val.(*models.PolicyTerms)
		return &policy, nil
	}
}

func (c *PolicyClient) fetch(ctx context.Context, policyID string) (*models.PolicyTerms, error) {
	if err := waitLimiter(ctx, c.limiter); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/policy/internal/api/v2/oracle/policies/%s", c.baseURL, url.PathEscape(policyID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("policy service request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, models.NewNotFoundError("policy", policyID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("policy service returned status %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var envelope policyEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode policy response: %w", err)
	}
	if !envelope.Success || envelope.Data == nil {
		return nil, fmt.Errorf("policy service error %s: %s", envelope.Error.Code, envelope.Error.Message)
	}

	c.store(ctx, policyID, body)
	return envelope.Data, nil
}

func (c *PolicyClient) cached(ctx context.Context, policyID string) (*models.PolicyTerms, bool) {
	if c.cache == nil {
		return nil, false
	}
	data, err := c.cache.Get(ctx, policyID)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			slog.Warn("policy cache read failed", "policy_id", policyID, "error", err)
		}
		return nil, false
	}

	var envelope policyEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Data == nil {
		return nil, false
	}
	return envelope.Data, true
}

func (c *PolicyClient) store(ctx context.Context, policyID string, body []byte) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, policyID, body); err != nil {
		slog.Warn("policy cache write failed", "policy_id", policyID, "error", err)
	}
}

func waitLimiter(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("outbound rate limit: %w", err)
	}
	return nil
}

func truncate(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n]) + "..."
}
