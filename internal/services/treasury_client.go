package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// TreasuryClient holds and releases provider stake through the treasury service.
type TreasuryClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewTreasuryClient(baseURL string, timeout time.Duration, limiter *rate.Limiter) *TreasuryClient {
	return &TreasuryClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

type escrowRequest struct {
	ProviderID string `json:"provider_id"`
	Amount     int64  `json:"amount"`
}

func (c *TreasuryClient) Hold(ctx context.Context, providerID string, amount int64) error {
	return c.post(ctx, "hold", providerID, amount)
}

func (c *TreasuryClient) Release(ctx context.Context, providerID string, amount int64) error {
	return c.post(ctx, "release", providerID, amount)
}

func (c *TreasuryClient) post(ctx context.Context, action, providerID string, amount int64) error {
	if err := waitLimiter(ctx, c.limiter); err != nil {
		return err
	}

	payload, err := json.Marshal(escrowRequest{ProviderID: providerID, Amount: amount})
	if err != nil {
		return fmt.Errorf("failed to marshal escrow %s request: %w", action, err)
	}

	endpoint := fmt.Sprintf("%s/treasury/internal/api/v1/escrow/%s", c.baseURL, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create escrow %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("escrow %s request failed: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("escrow %s returned status %d: %s", action, resp.StatusCode, body)
	}
	return nil
}
