// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "sk-or-test-abcdefghijklmnopqrstuvwxyz0123456789"

func testRequest(modelID string) *Request {
	return &Request{
		Model:       Describe(modelID),
		Messages:    []Message{SystemMessage("sys"), UserMessage("hello")},
		Temperature: 0.7,
		MaxTokens:   100,
	}
}

const completionJSON = `{
	"id": "gen-1",
	"model": "openai/gpt-4o",
	"choices": [{"message": {"role": "assistant", "content": "Hi there"}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
}`

// =============================================================================
// COMPLETE
// =============================================================================

func TestOpenRouter_Complete(t *testing.T) {
	var got wireRequest
	var headers http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		headers = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionJSON)
	}))
	defer server.Close()

	c := NewOpenRouter(testKey).WithBaseURL(server.URL + "/").WithSiteURL("https://neurochat.example")

	res, err := c.Complete(context.Background(), testRequest("gpt-4o"))
	require.NoError(t, err)
	assert.Equal(t, "Hi there", res.Content)
	assert.Equal(t, &Usage{PromptTokens: 12, CompletionTokens: 3}, res.Usage)

	assert.Equal(t, "openai/gpt-4o", got.Model, "registry slug is sent upstream")
	assert.False(t, got.Stream)
	assert.Nil(t, got.StreamOptions)
	assert.Len(t, got.Messages, 2)

	assert.Equal(t, "Bearer "+testKey, headers.Get("Authorization"))
	assert.Equal(t, "https://neurochat.example", headers.Get("HTTP-Referer"))
	assert.Equal(t, DefaultSiteName, headers.Get("X-Title"))
}

func TestOpenRouter_NotConfigured(t *testing.T) {
	c := NewOpenRouter("  ")
	assert.False(t, c.IsConfigured())
	assert.Equal(t, "none", c.KeyFingerprint())

	_, err := c.Complete(context.Background(), testRequest("gpt-4o"))
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = c.Stream(context.Background(), testRequest("gpt-4o"), func(Chunk) error { return nil })
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestOpenRouter_KeyFingerprintHidesKey(t *testing.T) {
	fp := NewOpenRouter(testKey).KeyFingerprint()
	assert.Len(t, fp, 8)
	assert.NotContains(t, testKey, fp)
}

func TestOpenRouter_ErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrAuthFailed},
		{http.StatusPaymentRequired, ErrInsufficientCredits},
		{http.StatusNotFound, ErrModelNotFound},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":{"message":"nope","code":`+fmt.Sprint(tt.status)+`}}`)
			}))
			defer server.Close()

			c := NewOpenRouter(testKey).WithBaseURL(server.URL)
			_, err := c.Complete(context.Background(), testRequest("gpt-4o"))
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestOpenRouter_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, `{"error":{"message":"upstream hiccup","code":"502"}}`)
			return
		}
		fmt.Fprint(w, completionJSON)
	}))
	defer server.Close()

	c := NewOpenRouter(testKey).WithBaseURL(server.URL).WithMaxRetries(3)
	res, err := c.Complete(context.Background(), testRequest("gpt-4o"))
	require.NoError(t, err)
	assert.Equal(t, "Hi there", res.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenRouter_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad request"}}`)
	}))
	defer server.Close()

	c := NewOpenRouter(testKey).WithBaseURL(server.URL).WithMaxRetries(3)
	_, err := c.Complete(context.Background(), testRequest("gpt-4o"))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenRouter_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"x","choices":[]}`)
	}))
	defer server.Close()

	_, err := NewOpenRouter(testKey).WithBaseURL(server.URL).Complete(context.Background(), testRequest("gpt-4o"))
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

// =============================================================================
// STREAM
// =============================================================================

func sseServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req wireRequest
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))
		assert.True(t, req.Stream)
		require.NotNil(t, req.StreamOptions)
		assert.True(t, req.StreamOptions.IncludeUsage)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, f := range frames {
			fmt.Fprint(w, f)
			flusher.Flush()
		}
	}))
}

func delta(s string) string {
	return `data: {"choices":[{"delta":{"content":` + fmt.Sprintf("%q", s) + `}}]}` + "\n\n"
}

func TestOpenRouter_Stream(t *testing.T) {
	server := sseServer(t,
		": OPENROUTER PROCESSING\n\n",
		delta("Hel"),
		delta("lo"),
		`data: {"choices":[],"usage":{"prompt_tokens":7,"completion_tokens":2}}`+"\n\n",
		"data: [DONE]\n\n",
	)
	defer server.Close()

	var got []string
	usage, err := NewOpenRouter(testKey).WithBaseURL(server.URL).Stream(context.Background(), testRequest("gpt-4o"), func(c Chunk) error {
		got = append(got, c.Content)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, got)
	assert.Equal(t, &Usage{PromptTokens: 7, CompletionTokens: 2}, usage)
}

func TestOpenRouter_StreamSkipsUnparseableChunks(t *testing.T) {
	server := sseServer(t,
		delta("a"),
		"data: <html>garbage</html>\n\n",
		// Missing closing braces; repaired before decoding.
		`data: {"choices":[{"delta":{"content":"b"`+"\n\n",
		delta("c"),
		"data: [DONE]\n\n",
	)
	defer server.Close()

	var sb strings.Builder
	_, err := NewOpenRouter(testKey).WithBaseURL(server.URL).Stream(context.Background(), testRequest("gpt-4o"), func(c Chunk) error {
		sb.WriteString(c.Content)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "abc", sb.String())
}

func TestOpenRouter_StreamInBandError(t *testing.T) {
	server := sseServer(t,
		delta("partial"),
		`data: {"error":{"message":"provider overloaded"}}`+"\n\n",
	)
	defer server.Close()

	_, err := NewOpenRouter(testKey).WithBaseURL(server.URL).Stream(context.Background(), testRequest("gpt-4o"), func(Chunk) error { return nil })
	require.Error(t, err)

	var se *StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "partial", se.Partial)
	assert.Contains(t, err.Error(), "provider overloaded")
}

func TestOpenRouter_StreamCallbackAborts(t *testing.T) {
	server := sseServer(t, delta("a"), delta("b"), "data: [DONE]\n\n")
	defer server.Close()

	stop := errors.New("client went away")
	_, err := NewOpenRouter(testKey).WithBaseURL(server.URL).Stream(context.Background(), testRequest("gpt-4o"), func(Chunk) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestOpenRouter_StreamErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid key"}}`)
	}))
	defer server.Close()

	_, err := NewOpenRouter(testKey).WithBaseURL(server.URL).Stream(context.Background(), testRequest("gpt-4o"), func(Chunk) error { return nil })
	assert.ErrorIs(t, err, ErrAuthFailed)
}

// =============================================================================
// RETRY HELPERS
// =============================================================================

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&APIError{Status: 503}))
	assert.True(t, isRetryable(&RateLimitError{RetryAfter: time.Second}))
	assert.True(t, isRetryable(fmt.Errorf("%w: slow down", ErrRateLimited)))
	assert.False(t, isRetryable(&APIError{Status: 400}))
	assert.False(t, isRetryable(context.Canceled))
	assert.False(t, isRetryable(ErrAuthFailed))
}

func TestCalculateBackoff(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, calculateBackoff(1))
	assert.Equal(t, time.Second, calculateBackoff(2))
	assert.Equal(t, 2*time.Second, calculateBackoff(3))
	assert.Equal(t, 10*time.Second, calculateBackoff(10))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))

	future := time.Now().Add(5 * time.Second).UTC().Format(http.TimeFormat)
	d := parseRetryAfter(future)
	assert.Greater(t, d, time.Duration(0))
	assert.LessOrEqual(t, d, 5*time.Second)
}

func TestRateLimitFromHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := NewOpenRouter(testKey).WithBaseURL(server.URL).WithMaxRetries(1)
	_, err := c.Complete(context.Background(), testRequest("gpt-4o"))

	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 2*time.Second, rl.RetryAfter)
	assert.ErrorIs(t, err, ErrRateLimited)
}
