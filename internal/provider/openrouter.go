// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

// Configuration constants for the OpenRouter API.
const (
	// DefaultOpenRouterURL is the base URL for the OpenRouter API.
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

	// DefaultSiteName is sent as X-Title for OpenRouter attribution.
	DefaultSiteName = "NeuroChat - Multi-Model AI Chatbot"

	// DefaultTimeout bounds non-streaming requests.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the number of attempts for transient errors.
	DefaultMaxRetries = 3

	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 10 * time.Second

	// MaxResponseSize caps response bodies.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 10 * 1024 * 1024

	userAgentVersion = "0.4.0"
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	sharedTransport = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	// sharedStreamingClient has no timeout; streams are bounded by context.
	sharedStreamingClient = &http.Client{Transport: sharedTransport}
)

// APIError is an error response from an OpenAI-compatible HTTP API.
type APIError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("upstream error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("upstream error (HTTP %d): %s", e.Status, e.Message)
}

// RateLimitError is a rate-limit response that carried Retry-After.
type RateLimitError struct {
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
	}
	return "rate limited"
}

// Is allows RateLimitError to match ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type wireRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	Stream        bool           `json:"stream"`
	Temperature   float64        `json:"temperature"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type wireResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

type apiErrorResponse struct {
	Error struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// OpenRouter is the aggregator backend. It serves every provider that
// has no dedicated backend, as well as unknown model ids.
type OpenRouter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	maxRetries int
	siteURL    string
	siteName   string
	log        logr.Logger
}

// NewOpenRouter creates an OpenRouter backend. An empty key yields a
// backend whose calls fail with ErrNotConfigured.
func NewOpenRouter(apiKey string) *OpenRouter {
	return &OpenRouter{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    DefaultOpenRouterURL,
		httpClient: &http.Client{Transport: sharedTransport, Timeout: DefaultTimeout},
		maxRetries: DefaultMaxRetries,
		siteName:   DefaultSiteName,
		log:        logr.Discard(),
	}
}

// WithBaseURL sets a custom base URL for the API.
func (c *OpenRouter) WithBaseURL(url string) *OpenRouter {
	if url != "" {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
	return c
}

// WithTimeout sets the timeout for non-streaming requests.
func (c *OpenRouter) WithTimeout(timeout time.Duration) *OpenRouter {
	if timeout > 0 {
		c.httpClient.Timeout = timeout
	}
	return c
}

// WithMaxRetries sets the maximum number of attempts.
func (c *OpenRouter) WithMaxRetries(maxRetries int) *OpenRouter {
	if maxRetries > 0 {
		c.maxRetries = maxRetries
	}
	return c
}

// WithSiteURL sets the HTTP-Referer used for attribution.
func (c *OpenRouter) WithSiteURL(url string) *OpenRouter {
	c.siteURL = url
	return c
}

// WithSiteName sets the X-Title used for attribution.
func (c *OpenRouter) WithSiteName(name string) *OpenRouter {
	if name != "" {
		c.siteName = name
	}
	return c
}

// WithLogger sets the logger used for stream diagnostics.
func (c *OpenRouter) WithLogger(log logr.Logger) *OpenRouter {
	c.log = log.WithName("openrouter")
	return c
}

// Name implements Backend.
func (c *OpenRouter) Name() string { return "openrouter" }

// IsConfigured reports whether an API key is set.
func (c *OpenRouter) IsConfigured() bool {
	return c.apiKey != ""
}

// KeyFingerprint identifies the key in logs without exposing it.
// SECURITY: Never log key fragments.
func (c *OpenRouter) KeyFingerprint() string {
	if c.apiKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.apiKey))
	return hex.EncodeToString(h[:4])
}

func (c *OpenRouter) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "neurochat/"+userAgentVersion)
	if c.siteURL != "" {
		req.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		req.Header.Set("X-Title", c.siteName)
	}
}

func (c *OpenRouter) wire(req *Request, stream bool) wireRequest {
	w := wireRequest{
		Model:       req.openRouterModel(),
		Messages:    req.Messages,
		Stream:      stream,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if stream {
		w.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return w
}

// Complete implements Backend. Transient failures (429, 5xx) are retried
// with exponential backoff.
func (c *OpenRouter) Complete(ctx context.Context, req *Request) (*Result, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(c.wire(req, false))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	url := c.baseURL + "/chat/completions"

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt, lastErr); err != nil {
				return nil, err
			}
		}

		resp, err := c.doRequest(ctx, url, body)
		if err != nil {
			if isRetryable(err) {
				lastErr = err
				continue
			}
			return nil, err
		}

		if len(resp.Choices) == 0 {
			return nil, ErrEmptyResponse
		}
		return &Result{Content: resp.Choices[0].Message.Content, Usage: resp.Usage}, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request to the chat completions endpoint.
func (c *OpenRouter) doRequest(ctx context.Context, url string, body []byte) (*wireResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	// SECURITY: Clear Authorization header so it cannot be logged later
	req.Header.Del("Authorization")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := readResponse(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, handleErrorResponse(resp, data)
	}

	var out wireResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &out, nil
}

// Stream implements Backend. Connection failures before the first delta
// are retried; once content has been delivered a failure is returned as
// a *StreamError carrying the partial text.
func (c *OpenRouter) Stream(ctx context.Context, req *Request, fn func(Chunk) error) (*Usage, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(c.wire(req, true))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	url := c.baseURL + "/chat/completions"

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt, lastErr); err != nil {
				return nil, err
			}
		}

		resp, err := c.openStream(ctx, url, body)
		if err != nil {
			if isRetryable(err) {
				lastErr = err
				continue
			}
			return nil, err
		}

		usage, err := processStream(ctx, resp.Body, c.log, fn)
		resp.Body.Close()
		return usage, err
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *OpenRouter) openStream(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := sharedStreamingClient.Do(req)
	req.Header.Del("Authorization")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := readResponse(resp.Body)
		return nil, handleErrorResponse(resp, data)
	}
	return resp, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// readResponse reads a body with a size cap.
// SECURITY: Response size limit prevents memory exhaustion attacks.
func readResponse(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// handleErrorResponse converts an HTTP error response into a Go error.
func handleErrorResponse(resp *http.Response, body []byte) error {
	status := resp.StatusCode

	var apiErr apiErrorResponse
	message := string(body)
	code := ""
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
		code = strings.Trim(string(apiErr.Error.Code), `"`)
	}

	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrAuthFailed, message)
	case http.StatusPaymentRequired:
		return fmt.Errorf("%w: %s", ErrInsufficientCredits, message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrModelNotFound, message)
	case http.StatusTooManyRequests:
		if d := parseRetryAfter(resp.Header.Get("Retry-After")); d > 0 {
			return &RateLimitError{RetryAfter: d}
		}
		return fmt.Errorf("%w: %s", ErrRateLimited, message)
	}
	return &APIError{Code: code, Message: message, Status: status}
}

// parseRetryAfter accepts either delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

// isRetryable reports whether err is a transient upstream failure.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 && apiErr.Status < 600
	}
	return false
}

// calculateBackoff returns 500ms, 1s, 2s ... capped at retryMaxDelay.
func calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > retryMaxDelay || delay <= 0 {
		delay = retryMaxDelay
	}
	return delay
}

func sleepBackoff(ctx context.Context, attempt int, lastErr error) error {
	delay := calculateBackoff(attempt)
	var rl *RateLimitError
	if errors.As(lastErr, &rl) && rl.RetryAfter > delay && rl.RetryAfter <= retryMaxDelay {
		delay = rl.RetryAfter
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
