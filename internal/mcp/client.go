package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
	"github.com/rescuewatch/rescue-monitor/internal/service"
)

// Client is the HTTP client for the rescue daemon API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new daemon API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// EnableRequest is the body of an enable call
type EnableRequest struct {
	Location *domain.Location `json:"location,omitempty"`
	CityID   int              `json:"city_id,omitempty"`
}

// ============ Session ============

// GetStatus gets the monitor status
func (c *Client) GetStatus(ctx context.Context) (*service.Status, error) {
	var st service.Status
	if err := c.do(ctx, http.MethodGet, "/api/session", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Enable starts monitoring. A nil location uses the daemon's configured one.
func (c *Client) Enable(ctx context.Context, req EnableRequest) (*service.Status, error) {
	var st service.Status
	if err := c.do(ctx, http.MethodPost, "/api/session/enable", req, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Disable stops monitoring and clears the session
func (c *Client) Disable(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/session/disable", nil, nil)
}

// ============ Claims ============

// ListClaims gets the latest claim attempts, newest first
func (c *Client) ListClaims(ctx context.Context, limit int) ([]*domain.ClaimAttempt, error) {
	var result struct {
		Claims []*domain.ClaimAttempt `json:"claims"`
	}
	path := "/api/claims"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Claims, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
