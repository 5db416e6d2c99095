// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// client.go - HTTP client for the NeuroChat server API.

package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/neurochat/internal/chat"
	"github.com/jeranaias/neurochat/internal/registry"
	"github.com/jeranaias/neurochat/internal/store"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultServerURL is used when neither --server, NEUROCHAT_SERVER nor
	// the config file name a server.
	DefaultServerURL = "http://127.0.0.1:8787"

	// requestTimeout bounds non-streaming calls. Streams are bounded by the
	// server's per-call timeout instead.
	requestTimeout = 30 * time.Second

	// maxFrameSize bounds one data: line of a stream.
	maxFrameSize = 1 << 20

	dataPrefix = "data: "
	doneMarker = "[DONE]"
)

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to a NeuroChat server.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient creates a client for the server at base, e.g.
// "http://127.0.0.1:8787/api". token may be empty when the server runs
// without authentication.
func NewClient(base, token string) *Client {
	return &Client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{},
	}
}

// BaseURL returns the server URL the client talks to.
func (c *Client) BaseURL() string { return c.base }

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("User-Agent", "neurochat-cli/"+Version)
	return req, nil
}

// apiError decodes the {"error": "..."} body of a failed response.
func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	return &APIError{Status: resp.StatusCode, Message: body.Error}
}

// doJSON sends body and decodes a 2xx JSON answer into out, within
// requestTimeout.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	return c.do(ctx, requestTimeout, method, path, body, out)
}

// do is doJSON with an explicit timeout; zero means none.
func (c *Client) do(ctx context.Context, timeout time.Duration, method, path string, body, out any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// stream posts body and hands every data: payload to fn until [DONE].
// It returns the session id from the X-Session-Id header.
func (c *Client) stream(ctx context.Context, path string, body any, fn func(payload []byte) error) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp)
	}
	sessionID := resp.Header.Get("X-Session-Id")
	return sessionID, readFrames(resp.Body, fn)
}

// readFrames scans data: lines. Blank lines and other SSE fields are
// skipped. A body that ends without [DONE] yields errStreamTruncated.
func readFrames(r io.Reader, fn func(payload []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxFrameSize)
	for sc.Scan() {
		line := sc.Bytes()
		if !bytes.HasPrefix(line, []byte(dataPrefix)) {
			continue
		}
		payload := bytes.TrimSpace(line[len(dataPrefix):])
		if string(payload) == doneMarker {
			return nil
		}
		if err := fn(payload); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return errStreamTruncated
}

// =============================================================================
// API TYPES
// =============================================================================

// Health is the answer of GET /health.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Store   string `json:"store"`
}

// ModelList is the answer of GET /models.
type ModelList struct {
	Models    []registry.ModelDescriptor `json:"models"`
	Providers []registry.ProviderInfo    `json:"providers"`
	Defaults  []string                   `json:"defaults"`
}

// SessionDetail is the answer of GET /sessions/{id}.
type SessionDetail struct {
	Session  store.Session   `json:"session"`
	Messages []store.Message `json:"messages"`
}

// ChatRequest is the body of POST /chat. An empty SessionID starts a
// new session.
type ChatRequest struct {
	SessionID string `json:"sessionId"`
	Model     string `json:"model"`
	Message   string `json:"message"`
	Mode      string `json:"mode,omitempty"`
}

// CompareRequest is the body of the comparison endpoints.
type CompareRequest struct {
	SessionID string   `json:"sessionId"`
	Models    []string `json:"models"`
	Message   string   `json:"message"`
}

// CompareFrame is one event of a streamed comparison. A frame with Done
// set carries the model's final Result.
type CompareFrame struct {
	Index   int                    `json:"index"`
	Model   string                 `json:"model"`
	Content string                 `json:"content,omitempty"`
	Done    bool                   `json:"done,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Result  *chat.ComparisonResult `json:"result,omitempty"`
}

// =============================================================================
// ENDPOINTS
// =============================================================================

// Health calls GET /health. A 503 is reported as a degraded status, not
// an error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	err := c.doJSON(ctx, http.MethodGet, "/health", nil, &h)
	var ae *APIError
	if errors.As(err, &ae) && ae.Status == http.StatusServiceUnavailable {
		return &Health{Status: "degraded", Store: "unavailable"}, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// Models calls GET /models.
func (c *Client) Models(ctx context.Context) (*ModelList, error) {
	var m ModelList
	if err := c.doJSON(ctx, http.MethodGet, "/models", nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Model calls GET /models?id=.
func (c *Client) Model(ctx context.Context, id string) (*registry.ModelDescriptor, error) {
	var body struct {
		Model registry.ModelDescriptor `json:"model"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/models?id="+url.QueryEscape(id), nil, &body); err != nil {
		return nil, err
	}
	return &body.Model, nil
}

// Chat streams one single-model turn. onFragment sees every fragment as
// it arrives. An in-band failure is returned as a *StreamError after the
// fragments that preceded it.
func (c *Client) Chat(ctx context.Context, req ChatRequest, onFragment func(string) error) (string, error) {
	if req.SessionID == "" {
		req.SessionID = chat.NewSessionID
	}
	return c.stream(ctx, "/chat", req, func(payload []byte) error {
		var f struct {
			Content *string `json:"content"`
			Error   string  `json:"error"`
		}
		if err := json.Unmarshal(payload, &f); err != nil {
			return fmt.Errorf("decode frame: %w", err)
		}
		if f.Error != "" {
			return &StreamError{Message: f.Error}
		}
		if f.Content == nil {
			return nil
		}
		return onFragment(*f.Content)
	})
}

// Compare calls POST /chat/compare and waits for every model.
func (c *Client) Compare(ctx context.Context, req CompareRequest) (*chat.CompareResponse, error) {
	if req.SessionID == "" {
		req.SessionID = chat.NewSessionID
	}
	var resp chat.CompareResponse
	// Comparisons outlive requestTimeout; the server bounds each branch.
	if err := c.do(ctx, 0, http.MethodPost, "/chat/compare", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CompareStream calls POST /chat/compare/stream and hands every frame
// to fn in arrival order.
func (c *Client) CompareStream(ctx context.Context, req CompareRequest, fn func(CompareFrame) error) (string, error) {
	if req.SessionID == "" {
		req.SessionID = chat.NewSessionID
	}
	return c.stream(ctx, "/chat/compare/stream", req, func(payload []byte) error {
		var f CompareFrame
		if err := json.Unmarshal(payload, &f); err != nil {
			return fmt.Errorf("decode frame: %w", err)
		}
		return fn(f)
	})
}

// Sessions calls GET /sessions.
func (c *Client) Sessions(ctx context.Context, limit int) ([]store.SessionSummary, error) {
	var body struct {
		Sessions []store.SessionSummary `json:"sessions"`
	}
	path := "/sessions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}
	return body.Sessions, nil
}

// Session calls GET /sessions/{id}.
func (c *Client) Session(ctx context.Context, id string) (*SessionDetail, error) {
	var d SessionDetail
	if err := c.doJSON(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateSession calls POST /sessions.
func (c *Client) CreateSession(ctx context.Context, mode, title string) (*store.Session, error) {
	body := map[string]string{"mode": mode}
	if title != "" {
		body["title"] = title
	}
	var resp struct {
		Session store.Session `json:"session"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/sessions", body, &resp); err != nil {
		return nil, err
	}
	return &resp.Session, nil
}

// UpdateSession calls PUT /sessions/{id}. Empty arguments are left out.
func (c *Client) UpdateSession(ctx context.Context, id, mode, title string) error {
	body := map[string]string{}
	if mode != "" {
		body["mode"] = mode
	}
	if title != "" {
		body["title"] = title
	}
	return c.doJSON(ctx, http.MethodPut, "/sessions/"+url.PathEscape(id), body, nil)
}

// DeleteSession calls DELETE /sessions/{id}.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(id), nil, nil)
}

// Analytics calls GET /analytics.
func (c *Client) Analytics(ctx context.Context, timeRange string, limit int) (*store.Analytics, error) {
	q := url.Values{}
	if timeRange != "" {
		q.Set("timeRange", timeRange)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/analytics"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var a store.Analytics
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}
