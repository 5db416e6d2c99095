// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jeranaias/neurochat/internal/registry"
)

// Defaults applied when a caller does not override them.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000

	// streamBuffer bounds how far a producer may run ahead of a slow consumer.
	streamBuffer = 64
)

// =============================================================================
// MESSAGES
// =============================================================================

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is one turn of a conversation handed to an upstream model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// SystemMessage creates a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// splitSystem separates system turns from the rest. Vendors that take the
// system prompt out of band (Anthropic, Gemini) use this.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// =============================================================================
// BACKEND CONTRACT
// =============================================================================

// Request is a fully resolved upstream call.
type Request struct {
	Model       registry.ModelDescriptor
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// openRouterModel returns the aggregator slug, falling back to the raw id.
func (r *Request) openRouterModel() string {
	if r.Model.OpenRouterID != "" {
		return r.Model.OpenRouterID
	}
	return r.Model.ID
}

// nativeModel returns the vendor API model name, falling back to the raw id.
func (r *Request) nativeModel() string {
	if r.Model.NativeID != "" {
		return r.Model.NativeID
	}
	return r.Model.ID
}

// Usage is the token accounting reported by an upstream API.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Result is the normalized outcome of a blocking backend call.
type Result struct {
	Content string
	Usage   *Usage
}

// Chunk is one content delta produced by a streaming backend call.
type Chunk struct {
	Content string
}

// Backend is implemented once per provider family. Stream invokes fn for
// every delta in arrival order and returns the final usage when the
// upstream reported one. An error returned by fn aborts the stream.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req *Request) (*Result, error)
	Stream(ctx context.Context, req *Request, fn func(Chunk) error) (*Usage, error)
}

// =============================================================================
// NORMALIZED RESPONSES
// =============================================================================

// Response is the normalized result of Client.Complete.
type Response struct {
	Model     string
	Provider  string
	Content   string
	TokensIn  int
	TokensOut int
	Cost      decimal.Decimal
	Latency   time.Duration

	// Estimated is set when token counts were not reported upstream.
	Estimated bool
}

// Event is one item of a streaming call. A stream carries any number of
// fragment events followed by exactly one terminal event (Done or Err).
type Event struct {
	Fragment string

	Done  bool
	Usage *Usage

	Err error

	// Latency is set on the terminal event.
	Latency time.Duration
}

// Terminal reports whether e ends the stream.
func (e Event) Terminal() bool {
	return e.Done || e.Err != nil
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotConfigured indicates no credentials exist for the routed backend.
	ErrNotConfigured = errors.New("provider not configured")

	// ErrAuthFailed indicates the upstream rejected the API key.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates the upstream throttled the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the upstream does not know the model.
	ErrModelNotFound = errors.New("model not found")

	// ErrInsufficientCredits indicates the upstream account is out of credit.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrEmptyResponse indicates a successful call that carried no choices.
	ErrEmptyResponse = errors.New("empty response")
)

// ProviderError is the failure of one upstream model call.
type ProviderError struct {
	ModelID  string
	Provider string
	Cause    error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("Failed to get response from %s: %v", e.ModelID, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// StreamError is a failure that happened after some content was delivered.
type StreamError struct {
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// =============================================================================
// TOKEN ESTIMATION
// =============================================================================

// EstimateTokens approximates a GPT-style token count as a blend of word
// and character estimates (~4 chars per token).
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	chars := len(text)
	return (words + chars/4) / 2
}

// EstimatePromptTokens approximates the prompt size of a message list.
func EstimatePromptTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content)
	}
	return total
}
