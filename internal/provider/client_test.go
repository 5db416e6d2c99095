// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/neurochat/internal/registry"
)

// fakeBackend replays a scripted answer.
type fakeBackend struct {
	name      string
	fragments []string
	usage     *Usage
	err       error // returned after all fragments are sent
	delay     time.Duration

	calls   atomic.Int32
	lastReq atomic.Pointer[Request]
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Complete(ctx context.Context, req *Request) (*Result, error) {
	f.calls.Add(1)
	f.lastReq.Store(req)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	content := ""
	for _, s := range f.fragments {
		content += s
	}
	return &Result{Content: content, Usage: f.usage}, nil
}

func (f *fakeBackend) Stream(ctx context.Context, req *Request, fn func(Chunk) error) (*Usage, error) {
	f.calls.Add(1)
	f.lastReq.Store(req)
	for _, s := range f.fragments {
		if f.delay > 0 {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err := fn(Chunk{Content: s}); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.usage, nil
}

func newTestClient(fallback Backend, direct map[string]Backend) *Client {
	return NewClient(fallback, direct, logr.Discard())
}

// =============================================================================
// ROUTING
// =============================================================================

func TestClient_BackendFor(t *testing.T) {
	fallback := &fakeBackend{name: "openrouter"}
	anthropic := &fakeBackend{name: "anthropic"}
	c := newTestClient(fallback, map[string]Backend{registry.ProviderAnthropic: anthropic})

	assert.Same(t, anthropic, c.BackendFor("claude-3-5-sonnet"))
	assert.Same(t, fallback, c.BackendFor("gpt-4o"), "no direct openai backend registered")
	assert.Same(t, fallback, c.BackendFor("some/unknown-model"))
}

func TestDescribe_UnknownModel(t *testing.T) {
	d := Describe("acme/unknown")
	assert.Equal(t, "acme/unknown", d.ID)
	assert.Equal(t, registry.UnknownProvider, d.Provider)
}

// =============================================================================
// COMPLETE
// =============================================================================

func TestClient_Complete_UpstreamUsage(t *testing.T) {
	fb := &fakeBackend{name: "openrouter", fragments: []string{"Hello", " world"}, usage: &Usage{PromptTokens: 100, CompletionTokens: 200}}
	c := newTestClient(fb, nil)

	resp, err := c.Complete(context.Background(), "gpt-4o", []Message{UserMessage("hi")})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", resp.Model)
	assert.Equal(t, registry.ProviderOpenAI, resp.Provider)
	assert.Equal(t, "Hello world", resp.Content)
	assert.Equal(t, 100, resp.TokensIn)
	assert.Equal(t, 200, resp.TokensOut)
	assert.False(t, resp.Estimated)
	assert.True(t, resp.Cost.Equal(decimal.RequireFromString("2.25")), "got %s", resp.Cost)
	assert.GreaterOrEqual(t, resp.Latency, time.Duration(0))

	req := fb.lastReq.Load()
	require.NotNil(t, req)
	assert.InDelta(t, DefaultTemperature, req.Temperature, 1e-9)
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
}

func TestClient_Complete_Options(t *testing.T) {
	fb := &fakeBackend{name: "openrouter", fragments: []string{"ok"}}
	c := newTestClient(fb, nil).WithDefaults(0.2, 500)

	_, err := c.Complete(context.Background(), "gpt-4o", []Message{UserMessage("hi")}, WithTemperature(1.1), WithMaxTokens(42))
	require.NoError(t, err)

	req := fb.lastReq.Load()
	assert.InDelta(t, 1.1, req.Temperature, 1e-9)
	assert.Equal(t, 42, req.MaxTokens)

	_, err = c.Complete(context.Background(), "gpt-4o", []Message{UserMessage("hi")}, WithMaxTokens(0))
	require.NoError(t, err)
	req = fb.lastReq.Load()
	assert.InDelta(t, 0.2, req.Temperature, 1e-9)
	assert.Equal(t, 500, req.MaxTokens, "non-positive override is ignored")
}

func TestClient_Complete_EstimatesMissingUsage(t *testing.T) {
	fb := &fakeBackend{name: "openrouter", fragments: []string{"one two three four"}}
	c := newTestClient(fb, nil)

	resp, err := c.Complete(context.Background(), "claude-3-haiku", []Message{UserMessage("count to four")})
	require.NoError(t, err)

	assert.True(t, resp.Estimated)
	assert.Equal(t, EstimateTokens("one two three four"), resp.TokensOut)
	assert.Equal(t, EstimateTokens("count to four"), resp.TokensIn)
}

func TestClient_Complete_UnknownModelCostsZero(t *testing.T) {
	fb := &fakeBackend{name: "openrouter", fragments: []string{"hi"}, usage: &Usage{PromptTokens: 1000, CompletionTokens: 1000}}
	c := newTestClient(fb, nil)

	resp, err := c.Complete(context.Background(), "acme/mystery", []Message{UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, registry.UnknownProvider, resp.Provider)
	assert.True(t, resp.Cost.IsZero())
	assert.Equal(t, "acme/mystery", fb.lastReq.Load().openRouterModel())
}

func TestClient_Complete_Failure(t *testing.T) {
	fb := &fakeBackend{name: "openrouter", err: ErrAuthFailed}
	c := newTestClient(fb, nil)

	resp, err := c.Complete(context.Background(), "gpt-4o", []Message{UserMessage("hi")})
	assert.Nil(t, resp)

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "gpt-4o", pe.ModelID)
	assert.Equal(t, registry.ProviderOpenAI, pe.Provider)
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.Contains(t, err.Error(), "Failed to get response from gpt-4o")
}

func TestClient_Complete_NoBackend(t *testing.T) {
	c := newTestClient(nil, nil)
	_, err := c.Complete(context.Background(), "gpt-4o", nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

// =============================================================================
// STREAM COMPLETE
// =============================================================================

func TestClient_StreamComplete_Success(t *testing.T) {
	fb := &fakeBackend{name: "openrouter", fragments: []string{"Hel", "lo", "!"}, usage: &Usage{PromptTokens: 3, CompletionTokens: 2}}
	c := newTestClient(fb, nil)

	events, err := c.StreamComplete(context.Background(), "gpt-4o", []Message{UserMessage("hi")})
	require.NoError(t, err)

	var fragments []string
	var terminal []Event
	for ev := range events {
		if ev.Terminal() {
			terminal = append(terminal, ev)
			continue
		}
		fragments = append(fragments, ev.Fragment)
	}

	assert.Equal(t, []string{"Hel", "lo", "!"}, fragments)
	require.Len(t, terminal, 1, "exactly one terminal event")
	assert.True(t, terminal[0].Done)
	assert.NoError(t, terminal[0].Err)
	assert.Equal(t, &Usage{PromptTokens: 3, CompletionTokens: 2}, terminal[0].Usage)
}

func TestClient_StreamComplete_MidStreamFailure(t *testing.T) {
	fb := &fakeBackend{name: "openrouter", fragments: []string{"partial ", "answer"}, err: errors.New("connection reset")}
	c := newTestClient(fb, nil)

	events, err := c.StreamComplete(context.Background(), "gpt-4o", []Message{UserMessage("hi")})
	require.NoError(t, err)

	text, last := collect(events)
	assert.Equal(t, "partial answer", text)
	require.Error(t, last.Err)
	assert.False(t, last.Done)

	var pe *ProviderError
	require.ErrorAs(t, last.Err, &pe)
	assert.Equal(t, "partial answer", partialContent(last.Err))
	assert.Contains(t, last.Err.Error(), "connection reset")
}

func TestClient_StreamComplete_EmptyFragmentsSkipped(t *testing.T) {
	fb := &fakeBackend{name: "openrouter", fragments: []string{"", "a", "", "b"}}
	c := newTestClient(fb, nil)

	events, err := c.StreamComplete(context.Background(), "gpt-4o", nil)
	require.NoError(t, err)

	count := 0
	for ev := range events {
		if !ev.Terminal() {
			count++
			assert.NotEmpty(t, ev.Fragment)
		}
	}
	assert.Equal(t, 2, count)
}

func TestClient_StreamComplete_Cancellation(t *testing.T) {
	fb := &fakeBackend{name: "openrouter", fragments: []string{"a", "b", "c", "d"}, delay: 50 * time.Millisecond}
	c := newTestClient(fb, nil)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := c.StreamComplete(ctx, "gpt-4o", nil)
	require.NoError(t, err)

	first := <-events
	assert.Equal(t, "a", first.Fragment)
	cancel()

	// The channel must close promptly without a Done event.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			assert.False(t, ev.Done, "cancelled stream must not report Done")
		case <-deadline:
			t.Fatal("stream did not close after cancellation")
		}
	}
}

func TestCollect_MissingTerminal(t *testing.T) {
	ch := make(chan Event, 2)
	ch <- Event{Fragment: "x"}
	close(ch)

	text, last := collect(ch)
	assert.Equal(t, "x", text)
	assert.ErrorIs(t, last.Err, context.Canceled)
}

// =============================================================================
// HELPERS
// =============================================================================

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	// 2 words, 11 chars: (2 + 2) / 2
	assert.Equal(t, 2, EstimateTokens("hello world"))
	assert.Equal(t, EstimateTokens("a b")+EstimateTokens("c d e"),
		EstimatePromptTokens([]Message{UserMessage("a b"), AssistantMessage("c d e")}))
}

func TestSplitSystem(t *testing.T) {
	system, rest := splitSystem([]Message{
		SystemMessage("be brief"),
		UserMessage("hi"),
		SystemMessage("be kind"),
		AssistantMessage("hello"),
	})
	assert.Equal(t, "be brief\n\nbe kind", system)
	assert.Equal(t, []Message{UserMessage("hi"), AssistantMessage("hello")}, rest)
}

func TestRole_Valid(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleSystem.Valid())
	assert.False(t, Role("tool").Valid())
}

// collect drains a stream into its full text and returns the terminal
// event.
func collect(events <-chan Event) (string, Event) {
	var sb strings.Builder
	var last Event
	for ev := range events {
		if ev.Terminal() {
			last = ev
			continue
		}
		sb.WriteString(ev.Fragment)
	}
	if !last.Terminal() {
		last = Event{Err: context.Canceled}
	}
	return sb.String(), last
}

// partialContent extracts content delivered before a streaming failure.
func partialContent(err error) string {
	var se *StreamError
	if errors.As(err, &se) {
		return se.Partial
	}
	return ""
}
