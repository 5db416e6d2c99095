// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation turns persisted session history into the message
// list sent to a model.
package conversation

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/neurochat/internal/provider"
	"github.com/jeranaias/neurochat/internal/store"
)

// SystemPrompt is prepended to every assembled conversation.
const SystemPrompt = "You are a helpful AI assistant taking part in NeuroChat, " +
	"where several models may answer the same question side by side. " +
	"Answer clearly and accurately, and use Markdown where it helps readability."

// HistoryReader loads a session's messages in creation order.
type HistoryReader interface {
	ListMessages(ctx context.Context, userID, sessionID string) ([]store.Message, error)
}

// Assembler builds model input from stored history. It keeps no state
// between calls.
type Assembler struct {
	history HistoryReader
	prompt  string
}

// NewAssembler returns an Assembler reading from history.
func NewAssembler(history HistoryReader) *Assembler {
	return &Assembler{history: history, prompt: SystemPrompt}
}

// WithSystemPrompt replaces the synthesized system message. An empty
// prompt restores the default.
func (a *Assembler) WithSystemPrompt(prompt string) *Assembler {
	if strings.TrimSpace(prompt) == "" {
		prompt = SystemPrompt
	}
	return &Assembler{history: a.history, prompt: prompt}
}

// Build returns the system message followed by every stored message of the
// session, oldest first. Stored system turns are skipped; the only system
// message is the synthesized one.
func (a *Assembler) Build(ctx context.Context, userID, sessionID string) ([]provider.Message, error) {
	stored, err := a.history.ListMessages(ctx, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	out := make([]provider.Message, 0, len(stored)+1)
	out = append(out, provider.SystemMessage(a.prompt))
	for _, m := range stored {
		role := provider.Role(m.Role)
		if role == provider.RoleSystem || !role.Valid() {
			continue
		}
		out = append(out, provider.Message{Role: role, Content: m.Content})
	}
	return out, nil
}

// Normalize returns text in Unicode NFC with surrounding whitespace
// removed. An empty result means the message carries no content.
func Normalize(text string) string {
	return strings.TrimSpace(norm.NFC.String(text))
}
