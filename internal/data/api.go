package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
)

const (
	defaultAPIBaseURL = "https://api.zomato.com"
	maxResponseBytes  = 4 << 20
)

// APIConfig configures the rescue HTTP API client.
type APIConfig struct {
	BaseURL    string
	Headers    map[string]string // sent with every request
	CustomerID string
	Timeout    time.Duration
}

// APIClient talks to the rescue HTTP API.
type APIClient struct {
	baseURL    string
	headers    map[string]string
	customerID string
	http       *http.Client
	log        *zap.Logger
}

// NewAPIClient creates a new API client
func NewAPIClient(cfg APIConfig, log *zap.Logger) *APIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAPIBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &APIClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		headers:    cfg.Headers,
		customerID: cfg.CustomerID,
		http:       &http.Client{Timeout: cfg.Timeout},
		log:        log.Named("api"),
	}
}

// apiResponse is a completed HTTP exchange.
type apiResponse struct {
	status int
	body   []byte
}

func (r apiResponse) ok() bool {
	return r.status >= 200 && r.status < 300
}

// do sends one request. body, when non-nil, is JSON encoded.
func (c *APIClient) do(ctx context.Context, method, path string, query url.Values, body any, token string, extra http.Header) (apiResponse, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apiResponse{}, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return apiResponse{}, fmt.Errorf("build request: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	}
	if token != "" {
		req.Header.Set("X-Zomato-Access-Token", token)
	}
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return apiResponse{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apiResponse{}, fmt.Errorf("read %s response: %w", path, err)
	}
	c.log.Debug("api call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))
	return apiResponse{status: resp.StatusCode, body: data}, nil
}

// locationHeaders are the per-location headers the claim endpoints expect.
func locationHeaders(loc domain.Location, cityID int) http.Header {
	h := http.Header{}
	if loc.Lat != nil {
		h.Set("X-User-Defined-Lat", strconv.FormatFloat(*loc.Lat, 'f', -1, 64))
	}
	if loc.Lng != nil {
		h.Set("X-User-Defined-Long", strconv.FormatFloat(*loc.Lng, 'f', -1, 64))
	}
	city := strconv.Itoa(cityID)
	h.Set("X-City-Id", city)
	h.Set("X-O2-City-Id", city)
	return h
}

// flexString decodes a JSON string or number into its string form.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// unixTime interprets a timestamp in seconds, or milliseconds when it is
// too large to be seconds.
func unixTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	if v > 1e12 {
		return time.UnixMilli(v)
	}
	return time.Unix(v, 0)
}
