// Package rest is the HTTP API client: it signs requests, routes them
// through the rate-limit bucket manager, honours 429 responses, and retries
// transient failures.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/concordlib/concord/internal/buckets"
	"github.com/concordlib/concord/internal/routes"
	"github.com/concordlib/concord/internal/version"
)

// DefaultBaseURL is the API root requests are made against.
const DefaultBaseURL = "https://discord.com/api/v10"

// BucketManager is the rate-limit policy a client defers to before and
// after every request. Injected so tests and embedders can substitute
// their own.
type BucketManager interface {
	Start()
	Close()
	Acquire(ctx context.Context, cr routes.CompiledRoute) (*buckets.Lease, error)
	Update(cr routes.CompiledRoute, bucketHash string, remaining, limit int, resetAfter time.Duration)
	Throttle429(cr routes.CompiledRoute, retryAfter time.Duration, global bool)
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client provides access to the REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	buckets    BucketManager
	ownBuckets bool
	logger     *slog.Logger

	maxRetries int
	userAgent  string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client. Unless WithBucketManager is
// given, the client owns a bucket manager and tears it down on Close.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:     slog.Default(),
		maxRetries: 3,
		userAgent:  "concord (https://github.com/concordlib/concord, " + version.Version + ")",
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.buckets == nil {
		c.buckets = buckets.NewManager(buckets.DefaultMaxWait, c.logger)
		c.ownBuckets = true
	}
	c.buckets.Start()

	return c
}

// Close releases the rate-limit manager if the client owns it, failing any
// queued requests.
func (c *Client) Close() {
	if c.ownBuckets {
		c.buckets.Close()
	}
}

// WithBaseURL points the client at a different API root.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithBucketManager injects a rate-limit manager. The caller keeps
// ownership of its lifecycle.
func WithBucketManager(m BucketManager) ClientOption {
	return func(c *Client) {
		c.buckets = m
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the maximum number of attempts per request.
func WithRetries(max int) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Do performs one API request against the compiled route, passing through
// the rate limiter, and decodes the response into result when non-nil.
// Rate-limited attempts are replayed after the server-indicated delay;
// 5xx responses retry up to the configured attempt budget.
func (c *Client) Do(ctx context.Context, cr routes.CompiledRoute, body, result any) error {
	traceID := uuid.NewString()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		respBody, err := c.doOnce(ctx, cr, payload, traceID, attempt)
		if err == nil {
			if result != nil && len(respBody) > 0 {
				if err := json.Unmarshal(respBody, result); err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
			}
			return nil
		}
		lastErr = err

		apiErr, ok := err.(*APIError)
		if !ok || !apiErr.IsRetryable() {
			return err
		}
		// 429s are paced by the bucket manager, not by a retry sleep: the
		// next Acquire blocks until the server-indicated reset.
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// doOnce holds the bucket for exactly one request-response exchange and
// feeds the rate-limit headers back to the manager before releasing it.
func (c *Client) doOnce(ctx context.Context, cr routes.CompiledRoute, payload []byte, traceID string, attempt int) ([]byte, error) {
	lease, err := c.buckets.Acquire(ctx, cr)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, cr.Route.Method, cr.URL(c.baseURL), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bot "+c.token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("performing request",
		"trace_id", traceID,
		"attempt", attempt,
		"method", cr.Route.Method,
		"path", cr.CompiledPath,
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.updateRateLimits(cr, resp)

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, c.handle429(cr, body, traceID)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: body}
		var detail struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &detail) == nil {
			apiErr.Code = detail.Code
			apiErr.Message = detail.Message
		}
		return nil, apiErr
	}

	c.logger.Debug("request succeeded",
		"trace_id", traceID,
		"status", resp.StatusCode,
		"bytes", len(body),
	)
	return body, nil
}

// updateRateLimits feeds the response's rate-limit headers back into the
// bucket manager so the next caller on this route sees the fresh quota.
func (c *Client) updateRateLimits(cr routes.CompiledRoute, resp *http.Response) {
	bucketHash := resp.Header.Get("X-Ratelimit-Bucket")
	if bucketHash == "" {
		return
	}

	remaining, err := strconv.Atoi(resp.Header.Get("X-Ratelimit-Remaining"))
	if err != nil {
		return
	}
	limit, err := strconv.Atoi(resp.Header.Get("X-Ratelimit-Limit"))
	if err != nil {
		return
	}
	resetAfter, err := strconv.ParseFloat(resp.Header.Get("X-Ratelimit-Reset-After"), 64)
	if err != nil {
		return
	}

	c.buckets.Update(cr, bucketHash, remaining, limit, secondsToDuration(resetAfter))
}

// handle429 engages the relevant gate (global or bucket-local) for the
// server-indicated duration and reports the hit as retryable.
func (c *Client) handle429(cr routes.CompiledRoute, body []byte, traceID string) error {
	var detail struct {
		Message    string  `json:"message"`
		RetryAfter float64 `json:"retry_after"`
		Global     bool    `json:"global"`
	}
	_ = json.Unmarshal(body, &detail)

	retryAfter := secondsToDuration(detail.RetryAfter)
	c.logger.Warn("rate limited",
		"trace_id", traceID,
		"path", cr.CompiledPath,
		"retry_after", retryAfter,
		"global", detail.Global,
	)
	c.buckets.Throttle429(cr, retryAfter, detail.Global)

	return &APIError{
		StatusCode: http.StatusTooManyRequests,
		Message:    detail.Message,
		Body:       body,
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
