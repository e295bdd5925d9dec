package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// StatusError is a non-2xx response from an HTTP backend.
type StatusError struct {
	Code       int
	RetryAfter time.Duration
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.Code)
	}
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

// HTTPBackend probes a backend reachable over HTTP.
type HTTPBackend struct {
	cfg Config

	mu     sync.RWMutex
	client *http.Client
}

// NewHTTPBackend creates an uninitialized HTTP backend.
func NewHTTPBackend(cfg Config) *HTTPBackend {
	return &HTTPBackend{cfg: cfg}
}

// Config returns the backend settings.
func (b *HTTPBackend) Config() Config { return b.cfg }

// Client returns the shared HTTP client, nil before Initialize.
func (b *HTTPBackend) Client() *http.Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.client
}

// Initialize validates the endpoint and creates the HTTP client.
func (b *HTTPBackend) Initialize(ctx context.Context) error {
	u, err := url.Parse(b.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint %s: %w", b.cfg.Endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint %s: unsupported scheme %q", b.cfg.Endpoint, u.Scheme)
	}

	timeout := b.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.client = &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	return nil
}

// healthBody is the optional JSON body of a health response.
type healthBody struct {
	Models       []string `json:"models"`
	CostPerToken *float64 `json:"cost_per_token"`
}

// HealthCheck issues a GET to the health path. A 429 leaves the backend
// healthy but outside its rate limits.
func (b *HTTPBackend) HealthCheck(ctx context.Context) (HealthStatus, error) {
	client := b.Client()
	if client == nil {
		return HealthStatus{}, errors.New("http backend not initialized")
	}

	hs := HealthStatus{
		LastCheck: time.Now(),
		Models:    b.cfg.Models,
	}
	if b.cfg.CostPerToken > 0 {
		cost := b.cfg.CostPerToken
		hs.CostPerToken = &cost
	}

	target := strings.TrimSuffix(b.cfg.Endpoint, "/") + "/" + strings.TrimPrefix(b.cfg.HealthPath, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return hs, fmt.Errorf("create request: %w", err)
	}
	if b.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		hs.Error = err.Error()
		return hs, fmt.Errorf("health request: %w", err)
	}
	defer resp.Body.Close()

	latency := time.Since(start)
	hs.Latency = &latency

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		hs.Healthy = true
		hs.WithinRateLimits = false
		return hs, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		serr := &StatusError{
			Code:       resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Body:       strings.TrimSpace(string(body)),
		}
		hs.Error = serr.Error()
		return hs, serr
	}

	hs.Healthy = true
	hs.WithinRateLimits = true

	var hb healthBody
	if len(body) > 0 && json.Unmarshal(body, &hb) == nil {
		if len(hb.Models) > 0 {
			hs.Models = hb.Models
		}
		if hb.CostPerToken != nil {
			hs.CostPerToken = hb.CostPerToken
		}
	}
	return hs, nil
}

// Cleanup closes idle connections.
func (b *HTTPBackend) Cleanup(ctx context.Context) error {
	if client := b.Client(); client != nil {
		client.CloseIdleConnections()
	}
	return nil
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
