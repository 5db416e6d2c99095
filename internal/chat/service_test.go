// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/neurochat/internal/conversation"
	"github.com/jeranaias/neurochat/internal/provider"
	"github.com/jeranaias/neurochat/internal/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// script is the canned behavior of one model.
type script struct {
	fragments []string
	usage     *provider.Usage
	err       error         // returned after all fragments
	delay     time.Duration // before each fragment
}

// scriptedBackend answers by model id. Unknown models fail with
// ErrModelNotFound like the upstream would.
type scriptedBackend struct {
	scripts map[string]script

	inFlight atomic.Int32
	peak     atomic.Int32

	mu       sync.Mutex
	requests []*provider.Request
}

func (b *scriptedBackend) Name() string { return "openrouter" }

func (b *scriptedBackend) enter(req *provider.Request) (script, func()) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()

	n := b.inFlight.Add(1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	sc, ok := b.scripts[req.Model.ID]
	if !ok {
		sc = script{err: provider.ErrModelNotFound}
	}
	return sc, func() { b.inFlight.Add(-1) }
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *scriptedBackend) Complete(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	sc, done := b.enter(req)
	defer done()
	for range sc.fragments {
		if err := wait(ctx, sc.delay); err != nil {
			return nil, err
		}
	}
	if sc.err != nil {
		if err := wait(ctx, sc.delay); err != nil {
			return nil, err
		}
		return nil, sc.err
	}
	return &provider.Result{Content: strings.Join(sc.fragments, ""), Usage: sc.usage}, nil
}

func (b *scriptedBackend) Stream(ctx context.Context, req *provider.Request, fn func(provider.Chunk) error) (*provider.Usage, error) {
	sc, done := b.enter(req)
	defer done()
	for _, f := range sc.fragments {
		if err := wait(ctx, sc.delay); err != nil {
			return nil, err
		}
		if err := fn(provider.Chunk{Content: f}); err != nil {
			return nil, err
		}
	}
	if sc.err != nil {
		return nil, sc.err
	}
	return sc.usage, nil
}

func (b *scriptedBackend) lastRequest() *provider.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.requests) == 0 {
		return nil
	}
	return b.requests[len(b.requests)-1]
}

type fixture struct {
	svc     *Service
	store   store.Store
	backend *scriptedBackend
}

func newFixture(t *testing.T, scripts map[string]script, limits Limits) *fixture {
	t.Helper()
	st, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	backend := &scriptedBackend{scripts: scripts}
	client := provider.NewClient(backend, nil, logr.Discard())
	return &fixture{
		svc:     NewService(st, client, logr.Discard(), limits),
		store:   st,
		backend: backend,
	}
}

func (f *fixture) messages(t *testing.T, userID, sessionID string) []store.Message {
	t.Helper()
	msgs, err := f.store.ListMessages(context.Background(), userID, sessionID)
	require.NoError(t, err)
	return msgs
}

var gpt4o = script{
	fragments: []string{"Hello", " from", " GPT"},
	usage:     &provider.Usage{PromptTokens: 100, CompletionTokens: 200},
}

// =============================================================================
// COMPARE
// =============================================================================

func TestCompare_OrderAndFailureIsolation(t *testing.T) {
	slow := gpt4o
	slow.delay = 20 * time.Millisecond
	f := newFixture(t, map[string]script{
		"gpt-4o":         slow,
		"claude-3-haiku": {fragments: []string{"Quick"}, usage: &provider.Usage{}},
	}, Limits{})

	models := []string{"gpt-4o", "bad-model-id", "claude-3-haiku", "gpt-4o"}
	resp, err := f.svc.Compare(context.Background(), CompareRequest{
		UserID: "alice", SessionID: NewSessionID, Models: models, Message: "hello",
	})
	require.NoError(t, err)

	require.Len(t, resp.Responses, len(models))
	for i, r := range resp.Responses {
		assert.Equal(t, models[i], r.Model, "slot %d", i)
	}

	ok := resp.Responses[0]
	assert.False(t, ok.Error)
	assert.Equal(t, "Hello from GPT", ok.Content)
	assert.Equal(t, "openai", ok.Provider)
	assert.Equal(t, Tokens{Input: 100, Output: 200}, ok.Tokens)
	assert.True(t, ok.Cost.Equal(decimal.RequireFromString("2.25")), "got %s", ok.Cost)
	assert.GreaterOrEqual(t, ok.LatencyMs, int64(0))

	bad := resp.Responses[1]
	assert.True(t, bad.Error)
	assert.Equal(t, "Failed to get response from bad-model-id", bad.Content)
	assert.Equal(t, "unknown", bad.Provider)
	assert.Equal(t, Tokens{}, bad.Tokens)
	assert.True(t, bad.Cost.IsZero())
	assert.Equal(t, "model not found", bad.ErrorMessage)

	assert.Equal(t, "Quick", resp.Responses[2].Content)
	assert.Equal(t, resp.Responses[0].Content, resp.Responses[3].Content, "duplicates are dispatched independently")
	assert.Len(t, f.backend.requests, 4)

	sess, err := f.store.GetSession(context.Background(), "alice", resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, store.ModeCompare, sess.Mode)
	assert.Equal(t, "hello", sess.Title)

	msgs := f.messages(t, "alice", resp.SessionID)
	require.Len(t, msgs, 5, "one user turn plus one assistant turn per model")
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)

	var failed int
	for _, m := range msgs[1:] {
		assert.Equal(t, "assistant", m.Role)
		if m.Model == "bad-model-id" {
			failed++
			assert.Equal(t, "Failed to get response from bad-model-id", m.Content)
			assert.Zero(t, m.TokensOut)
		}
	}
	assert.Equal(t, 1, failed)

	a, err := f.store.Analytics(context.Background(), "alice", time.Time{}, 10)
	require.NoError(t, err)
	assert.True(t, a.UserStats.TotalCost.Equal(decimal.RequireFromString("4.5")), "got %s", a.UserStats.TotalCost)
	var sawUnknown bool
	for _, mu := range a.ModelUsage {
		if mu.Model == "bad-model-id" {
			sawUnknown = true
			assert.True(t, mu.Cost.IsZero())
		}
	}
	assert.True(t, sawUnknown, "failed branches still log zero-cost usage")
}

func TestCompare_PerCallTimeout(t *testing.T) {
	f := newFixture(t, map[string]script{
		"gpt-4o":         gpt4o,
		"claude-3-haiku": {fragments: []string{"never"}, delay: 2 * time.Second},
	}, Limits{CallTimeout: 50 * time.Millisecond})

	start := time.Now()
	resp, err := f.svc.Compare(context.Background(), CompareRequest{
		UserID: "alice", SessionID: NewSessionID, Models: []string{"claude-3-haiku", "gpt-4o"}, Message: "hi",
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second, "a stalled model is bounded by the call timeout")

	assert.True(t, resp.Responses[0].Error)
	assert.Equal(t, "timed out after 50ms", resp.Responses[0].ErrorMessage)
	assert.False(t, resp.Responses[1].Error)
}

// More models than a typical worker pool: every branch must be in flight
// at once and share one deadline taken at dispatch.
func TestCompare_AllBranchesDispatchedTogether(t *testing.T) {
	stalled := script{fragments: []string{"never"}, delay: 5 * time.Second}
	quick := script{fragments: []string{"ok"}, delay: 250 * time.Millisecond, usage: &provider.Usage{}}
	f := newFixture(t, map[string]script{"claude-3-opus": stalled, "gpt-4o": quick},
		Limits{CallTimeout: 300 * time.Millisecond})

	models := []string{
		"claude-3-opus", "claude-3-opus", "claude-3-opus", "claude-3-opus",
		"claude-3-opus", "claude-3-opus", "gpt-4o", "gpt-4o",
	}
	require.Len(t, models, f.svc.Limits().MaxCompareModels)

	start := time.Now()
	resp, err := f.svc.Compare(context.Background(), CompareRequest{
		UserID: "alice", SessionID: NewSessionID, Models: models, Message: "hi",
	})
	require.NoError(t, err)
	wall := time.Since(start)

	assert.Less(t, wall, 450*time.Millisecond, "wall time stays near one call timeout")
	assert.Equal(t, int32(len(models)), f.backend.peak.Load())
	require.Len(t, resp.Responses, len(models))
	for _, r := range resp.Responses[:6] {
		assert.True(t, r.Error)
		assert.Equal(t, "timed out after 300ms", r.ErrorMessage)
	}
	for _, r := range resp.Responses[6:] {
		assert.False(t, r.Error)
		assert.GreaterOrEqual(t, r.LatencyMs, int64(250))
		assert.Less(t, r.LatencyMs, int64(300))
	}
}

func TestCompareStream_AllBranchesDispatchedTogether(t *testing.T) {
	stalled := script{fragments: []string{"never"}, delay: 5 * time.Second}
	quick := script{fragments: []string{"ok"}, delay: 250 * time.Millisecond, usage: &provider.Usage{}}
	f := newFixture(t, map[string]script{"claude-3-opus": stalled, "gpt-4o": quick},
		Limits{CallTimeout: 300 * time.Millisecond})

	models := []string{
		"claude-3-opus", "claude-3-opus", "claude-3-opus", "claude-3-opus",
		"claude-3-opus", "claude-3-opus", "gpt-4o", "gpt-4o",
	}
	start := time.Now()
	stream, err := f.svc.CompareStream(context.Background(), CompareRequest{
		UserID: "alice", SessionID: NewSessionID, Models: models, Message: "hi",
	})
	require.NoError(t, err)

	terminal := 0
	for ev := range stream.Events {
		if ev.Terminal() {
			terminal++
		}
	}
	assert.Equal(t, len(models), terminal)
	assert.Less(t, time.Since(start), 450*time.Millisecond)
	assert.Equal(t, int32(len(models)), f.backend.peak.Load())
}

func TestCompare_RunsConcurrently(t *testing.T) {
	slow := script{fragments: []string{"x"}, delay: 100 * time.Millisecond}
	f := newFixture(t, map[string]script{"gpt-4o": slow, "claude-3-haiku": slow, "gemini-2.0-flash": slow}, Limits{})

	start := time.Now()
	_, err := f.svc.Compare(context.Background(), CompareRequest{
		UserID: "alice", SessionID: NewSessionID, Models: []string{"gpt-4o", "claude-3-haiku", "gemini-2.0-flash"}, Message: "hi",
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.GreaterOrEqual(t, f.backend.peak.Load(), int32(2))
}

func TestCompare_Validation(t *testing.T) {
	f := newFixture(t, map[string]script{"gpt-4o": gpt4o}, Limits{MaxCompareModels: 2})

	tests := []struct {
		name  string
		req   CompareRequest
		field string
	}{
		{"missing message", CompareRequest{UserID: "alice", SessionID: "new", Models: []string{"gpt-4o"}}, "message"},
		{"blank message", CompareRequest{UserID: "alice", SessionID: "new", Models: []string{"gpt-4o"}, Message: " \n "}, "message"},
		{"missing session", CompareRequest{UserID: "alice", Models: []string{"gpt-4o"}, Message: "hi"}, "sessionId"},
		{"no models", CompareRequest{UserID: "alice", SessionID: "new", Message: "hi"}, "models"},
		{"blank model", CompareRequest{UserID: "alice", SessionID: "new", Models: []string{"gpt-4o", " "}, Message: "hi"}, "models"},
		{"too many", CompareRequest{UserID: "alice", SessionID: "new", Models: []string{"a", "b", "c"}, Message: "hi"}, "models"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Compare(context.Background(), tt.req)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	sessions, err := f.store.ListSessions(context.Background(), "alice", 10)
	require.NoError(t, err)
	assert.Empty(t, sessions, "rejected requests have no side effects")
	assert.Empty(t, f.backend.requests)
}

func TestCompare_UnknownSession(t *testing.T) {
	f := newFixture(t, map[string]script{"gpt-4o": gpt4o}, Limits{})
	ctx := context.Background()

	_, err := f.svc.Compare(ctx, CompareRequest{UserID: "alice", SessionID: "6f1c2b9e-8a57-4c1e-9d0a-3b2f4e5d6c7a", Models: []string{"gpt-4o"}, Message: "hi"})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	bobs, err := f.store.CreateSession(ctx, "bob", store.ModeCompare, "")
	require.NoError(t, err)
	_, err = f.svc.Compare(ctx, CompareRequest{UserID: "alice", SessionID: bobs.ID, Models: []string{"gpt-4o"}, Message: "hi"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Empty(t, f.messages(t, "bob", bobs.ID))
}

func TestCompare_NewSessionIsFresh(t *testing.T) {
	f := newFixture(t, map[string]script{"gpt-4o": gpt4o}, Limits{})
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		resp, err := f.svc.Compare(context.Background(), CompareRequest{UserID: "alice", SessionID: "new", Models: []string{"gpt-4o"}, Message: "hi"})
		require.NoError(t, err)
		assert.False(t, seen[resp.SessionID])
		seen[resp.SessionID] = true
	}
}

func TestCompare_UsesHistory(t *testing.T) {
	f := newFixture(t, map[string]script{"gpt-4o": gpt4o}, Limits{})
	ctx := context.Background()

	first, err := f.svc.Compare(ctx, CompareRequest{UserID: "alice", SessionID: "new", Models: []string{"gpt-4o"}, Message: "first"})
	require.NoError(t, err)
	_, err = f.svc.Compare(ctx, CompareRequest{UserID: "alice", SessionID: first.SessionID, Models: []string{"gpt-4o"}, Message: "second"})
	require.NoError(t, err)

	req := f.backend.lastRequest()
	require.NotNil(t, req)
	require.Len(t, req.Messages, 4)
	assert.Equal(t, provider.SystemMessage(conversation.SystemPrompt), req.Messages[0])
	assert.Equal(t, provider.UserMessage("first"), req.Messages[1])
	assert.Equal(t, provider.AssistantMessage("Hello from GPT"), req.Messages[2])
	assert.Equal(t, provider.UserMessage("second"), req.Messages[3])
}

func TestWithSystemPrompt(t *testing.T) {
	f := newFixture(t, map[string]script{"gpt-4o": gpt4o}, Limits{})
	f.svc.WithSystemPrompt("Answer in French.")

	_, err := f.svc.Compare(context.Background(), CompareRequest{UserID: "alice", SessionID: "new", Models: []string{"gpt-4o"}, Message: "hi"})
	require.NoError(t, err)

	req := f.backend.lastRequest()
	require.NotNil(t, req)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, provider.SystemMessage("Answer in French."), req.Messages[0])
	assert.Equal(t, provider.UserMessage("hi"), req.Messages[1])
}

// failingStore breaks assistant writes for one model.
type failingStore struct {
	store.Store
	model string
}

func (s *failingStore) AppendMessage(ctx context.Context, userID string, m *store.Message) error {
	if m.Model == s.model {
		return errors.New("disk full")
	}
	return s.Store.AppendMessage(ctx, userID, m)
}

func TestCompare_PersistenceFailureIsolated(t *testing.T) {
	f := newFixture(t, map[string]script{"gpt-4o": gpt4o, "claude-3-haiku": {fragments: []string{"ok"}}}, Limits{})
	svc := NewService(&failingStore{Store: f.store, model: "claude-3-haiku"}, provider.NewClient(f.backend, nil, logr.Discard()), logr.Discard(), Limits{})

	resp, err := svc.Compare(context.Background(), CompareRequest{
		UserID: "alice", SessionID: "new", Models: []string{"gpt-4o", "claude-3-haiku"}, Message: "hi",
	})
	require.NoError(t, err)
	require.Len(t, resp.Responses, 2)
	assert.False(t, resp.Responses[1].Error, "the answer is still returned")

	msgs := f.messages(t, "alice", resp.SessionID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "gpt-4o", msgs[1].Model)
}

// =============================================================================
// COMPARE STREAM
// =============================================================================

func TestCompareStream(t *testing.T) {
	f := newFixture(t, map[string]script{
		"gpt-4o":         gpt4o,
		"claude-3-haiku": {fragments: []string{"par", "tial"}, err: errors.New("connection reset")},
	}, Limits{})

	models := []string{"gpt-4o", "claude-3-haiku", "gpt-4o"}
	cs, err := f.svc.CompareStream(context.Background(), CompareRequest{
		UserID: "alice", SessionID: "new", Models: models, Message: "hi",
	})
	require.NoError(t, err)

	text := make([]strings.Builder, len(models))
	terminals := make([][]CompareEvent, len(models))
	for ev := range cs.Events {
		require.Less(t, ev.Index, len(models))
		assert.Equal(t, models[ev.Index], ev.Model)
		if ev.Terminal() {
			terminals[ev.Index] = append(terminals[ev.Index], ev)
			continue
		}
		text[ev.Index].WriteString(ev.Fragment)
	}

	for i := range models {
		require.Len(t, terminals[i], 1, "branch %d ends exactly once", i)
		require.NotNil(t, terminals[i][0].Result)
	}

	assert.True(t, terminals[0][0].Done)
	assert.Equal(t, "Hello from GPT", text[0].String())
	assert.Equal(t, text[0].String(), terminals[0][0].Result.Content)
	assert.True(t, terminals[0][0].Result.Cost.Equal(decimal.RequireFromString("2.25")))

	failed := terminals[1][0]
	assert.False(t, failed.Done)
	assert.True(t, IsProviderError(failed.Err))
	assert.True(t, failed.Result.Error)
	assert.Equal(t, "Failed to get response from claude-3-haiku", failed.Result.Content)
	assert.Equal(t, "partial", text[1].String(), "fragments already sent are not retracted")

	msgs := f.messages(t, "alice", cs.SessionID)
	assert.Len(t, msgs, 4)
}

// =============================================================================
// SINGLE-MODEL STREAMING
// =============================================================================

func TestStreamChat_Success(t *testing.T) {
	f := newFixture(t, map[string]script{"gpt-4o": gpt4o}, Limits{})

	var fragments []string
	res, err := f.svc.StreamChat(context.Background(), ChatRequest{
		UserID: "alice", SessionID: "new", Model: "gpt-4o", Message: "2+2?",
	}, func(s string) error {
		fragments = append(fragments, s)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hello", " from", " GPT"}, fragments)
	assert.Equal(t, "Hello from GPT", res.Content)
	assert.Equal(t, 100, res.TokensIn)
	assert.Equal(t, 200, res.TokensOut)
	assert.False(t, res.Partial)

	sess, err := f.store.GetSession(context.Background(), "alice", res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, store.ModeSingle, sess.Mode)

	msgs := f.messages(t, "alice", res.SessionID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "2+2?", msgs[0].Content)
	assert.Equal(t, strings.Join(fragments, ""), msgs[1].Content)
	assert.Equal(t, "gpt-4o", msgs[1].Model)
}

func TestStreamChat_MatchesComplete(t *testing.T) {
	f := newFixture(t, map[string]script{"gpt-4o": gpt4o}, Limits{})

	var sb strings.Builder
	_, err := f.svc.StreamChat(context.Background(), ChatRequest{UserID: "alice", SessionID: "new", Model: "gpt-4o", Message: "hi"},
		func(s string) error { sb.WriteString(s); return nil })
	require.NoError(t, err)

	resp, err := f.svc.Compare(context.Background(), CompareRequest{UserID: "alice", SessionID: "new", Models: []string{"gpt-4o"}, Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, resp.Responses[0].Content, sb.String())
}

func TestStreamChat_MidStreamFailure(t *testing.T) {
	f := newFixture(t, map[string]script{
		"gpt-4o": {fragments: []string{"two ", "plus "}, err: errors.New("connection reset")},
	}, Limits{})

	var sb strings.Builder
	res, err := f.svc.StreamChat(context.Background(), ChatRequest{UserID: "alice", SessionID: "new", Model: "gpt-4o", Message: "2+2?"},
		func(s string) error { sb.WriteString(s); return nil })
	require.Error(t, err)
	assert.True(t, IsProviderError(err))
	assert.Equal(t, "two plus ", sb.String())

	require.NotNil(t, res)
	assert.True(t, res.Partial)
	assert.True(t, res.Estimated)

	msgs := f.messages(t, "alice", res.SessionID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two plus ", msgs[1].Content, "partial content is kept")
}

func TestStreamChat_FailureWithoutContent(t *testing.T) {
	f := newFixture(t, nil, Limits{})

	cs, err := f.svc.StartChat(context.Background(), ChatRequest{UserID: "alice", SessionID: "new", Model: "nope", Message: "hi"})
	require.NoError(t, err, "upstream errors surface through Relay")

	res, err := cs.Relay(func(string) error { return nil })
	assert.Nil(t, res)
	assert.ErrorIs(t, err, provider.ErrModelNotFound)

	msgs := f.messages(t, "alice", cs.SessionID)
	assert.Len(t, msgs, 1, "only the user turn")
}

func TestStreamChat_SinkErrorCancelsUpstream(t *testing.T) {
	f := newFixture(t, map[string]script{
		"gpt-4o": {fragments: []string{"a", "b", "c", "d", "e", "f"}, delay: 30 * time.Millisecond},
	}, Limits{})

	gone := errors.New("client disconnected")
	calls := 0
	start := time.Now()
	res, err := f.svc.StreamChat(context.Background(), ChatRequest{UserID: "alice", SessionID: "new", Model: "gpt-4o", Message: "hi"},
		func(s string) error {
			calls++
			if calls == 2 {
				return gone
			}
			return nil
		})
	assert.ErrorIs(t, err, gone)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
	require.NotNil(t, res)
	assert.Equal(t, "a", res.Content)
}

func TestStreamChat_Validation(t *testing.T) {
	f := newFixture(t, nil, Limits{})
	tests := []struct {
		name  string
		req   ChatRequest
		field string
	}{
		{"missing model", ChatRequest{UserID: "alice", SessionID: "new", Message: "hi"}, "model"},
		{"missing message", ChatRequest{UserID: "alice", SessionID: "new", Model: "gpt-4o"}, "message"},
		{"missing session", ChatRequest{UserID: "alice", Model: "gpt-4o", Message: "hi"}, "sessionId"},
		{"bad mode", ChatRequest{UserID: "alice", SessionID: "new", Model: "gpt-4o", Message: "hi", Mode: "group"}, "mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.StreamChat(context.Background(), tt.req, func(string) error { return nil })
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

// =============================================================================
// MISC
// =============================================================================

func TestSetLimits(t *testing.T) {
	f := newFixture(t, nil, Limits{})
	assert.Equal(t, 60*time.Second, f.svc.Limits().CallTimeout)
	assert.Equal(t, 8, f.svc.Limits().MaxCompareModels)

	f.svc.SetLimits(Limits{CallTimeout: time.Second, MaxCompareModels: 3})
	assert.Equal(t, Limits{CallTimeout: time.Second, MaxCompareModels: 3}, f.svc.Limits())
}

func TestPublicError(t *testing.T) {
	pe := &provider.ProviderError{ModelID: "m", Cause: provider.ErrRateLimited}
	assert.Equal(t, "rate limited by provider", PublicError(pe, time.Second))
	assert.Equal(t, "timed out after 1s", PublicError(context.DeadlineExceeded, time.Second))
	assert.Equal(t, "upstream provider error", PublicError(errors.New("secret detail"), time.Second))
	assert.Equal(t, "", PublicError(nil, time.Second))
}
