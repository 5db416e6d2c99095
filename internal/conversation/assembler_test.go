// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/neurochat/internal/provider"
	"github.com/jeranaias/neurochat/internal/store"
)

type fakeHistory struct {
	messages []store.Message
	err      error
	calls    int
}

func (f *fakeHistory) ListMessages(ctx context.Context, userID, sessionID string) ([]store.Message, error) {
	f.calls++
	return f.messages, f.err
}

func TestBuild_PrependsSystemPrompt(t *testing.T) {
	h := &fakeHistory{messages: []store.Message{
		{Role: "user", Content: "What is Go?"},
		{Role: "assistant", Content: "A language.", Model: "gpt-4o"},
		{Role: "assistant", Content: "A board game.", Model: "claude-3-haiku"},
		{Role: "user", Content: "The language."},
	}}

	msgs, err := NewAssembler(h).Build(context.Background(), "alice", "s1")
	require.NoError(t, err)

	require.Len(t, msgs, 5)
	assert.Equal(t, provider.SystemMessage(SystemPrompt), msgs[0])
	assert.Equal(t, provider.UserMessage("What is Go?"), msgs[1])
	assert.Equal(t, provider.AssistantMessage("A board game."), msgs[3])
	assert.Equal(t, provider.UserMessage("The language."), msgs[4])
}

func TestBuild_RecomputedEachCall(t *testing.T) {
	h := &fakeHistory{messages: []store.Message{{Role: "user", Content: "one"}}}
	a := NewAssembler(h)

	first, err := a.Build(context.Background(), "alice", "s1")
	require.NoError(t, err)
	h.messages = append(h.messages, store.Message{Role: "assistant", Content: "two"})
	second, err := a.Build(context.Background(), "alice", "s1")
	require.NoError(t, err)

	assert.Len(t, first, 2)
	assert.Len(t, second, 3)
	assert.Equal(t, 2, h.calls)
}

func TestBuild_SkipsStoredSystemTurns(t *testing.T) {
	h := &fakeHistory{messages: []store.Message{
		{Role: "system", Content: "injected"},
		{Role: "tool", Content: "ignored"},
		{Role: "user", Content: "hi"},
	}}

	msgs, err := NewAssembler(h).Build(context.Background(), "alice", "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, provider.RoleSystem, msgs[0].Role)
	assert.Equal(t, SystemPrompt, msgs[0].Content)
}

func TestBuild_Error(t *testing.T) {
	h := &fakeHistory{err: store.ErrNotFound}
	_, err := NewAssembler(h).Build(context.Background(), "alice", "s1")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestWithSystemPrompt(t *testing.T) {
	h := &fakeHistory{}
	a := NewAssembler(h).WithSystemPrompt("Be terse.")
	msgs, err := a.Build(context.Background(), "alice", "s1")
	require.NoError(t, err)
	assert.Equal(t, "Be terse.", msgs[0].Content)

	msgs, err = a.WithSystemPrompt("  ").Build(context.Background(), "alice", "s1")
	require.NoError(t, err)
	assert.Equal(t, SystemPrompt, msgs[0].Content)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trims", "  hello \n", "hello"},
		{"whitespace only", " \t\n ", ""},
		{"composes", "Cafe\u0301", "Caf\u00e9"},
		{"already nfc", "naïve", "naïve"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}
