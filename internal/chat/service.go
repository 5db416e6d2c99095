// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/shopspring/decimal"

	"github.com/jeranaias/neurochat/internal/config"
	"github.com/jeranaias/neurochat/internal/conversation"
	"github.com/jeranaias/neurochat/internal/provider"
	"github.com/jeranaias/neurochat/internal/store"
	"github.com/jeranaias/neurochat/internal/util"
)

// NewSessionID asks for a fresh session instead of an existing one.
const NewSessionID = "new"

// titleRunes bounds the title derived from a session's first message.
const titleRunes = 50

// persistTimeout bounds writes made after the caller may have gone away.
const persistTimeout = 10 * time.Second

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Models is the provider surface the service calls. *provider.Client
// implements it.
type Models interface {
	Complete(ctx context.Context, modelID string, messages []provider.Message, opts ...provider.Option) (*provider.Response, error)
	StreamComplete(ctx context.Context, modelID string, messages []provider.Message, opts ...provider.Option) (<-chan provider.Event, error)
}

// Limits bounds upstream work. It can be swapped at runtime.
type Limits struct {
	CallTimeout      time.Duration
	MaxCompareModels int
}

// LimitsFromConfig extracts Limits from the chat configuration.
func LimitsFromConfig(c config.ChatConfig) Limits {
	return Limits{
		CallTimeout:      c.CallTimeout(),
		MaxCompareModels: c.MaxCompareModels,
	}
}

func (l Limits) withDefaults() Limits {
	d := config.Default().Chat
	if l.CallTimeout <= 0 {
		l.CallTimeout = d.CallTimeout()
	}
	if l.MaxCompareModels <= 0 {
		l.MaxCompareModels = d.MaxCompareModels
	}
	return l
}

// =============================================================================
// SERVICE
// =============================================================================

// Service runs single-model streaming chats and multi-model comparisons
// and records their results.
type Service struct {
	store     store.Store
	models    Models
	assembler *conversation.Assembler
	log       logr.Logger
	limits    atomic.Pointer[Limits]
}

// NewService wires a Service.
func NewService(st store.Store, models Models, log logr.Logger, limits Limits) *Service {
	s := &Service{
		store:     st,
		models:    models,
		assembler: conversation.NewAssembler(st),
		log:       log.WithName("chat"),
	}
	s.SetLimits(limits)
	return s
}

// WithSystemPrompt replaces the system message sent ahead of every
// conversation. An empty prompt keeps the default. Call it before the
// service is shared.
func (s *Service) WithSystemPrompt(prompt string) *Service {
	s.assembler = s.assembler.WithSystemPrompt(prompt)
	return s
}

// SetLimits replaces the limits used by calls started afterwards.
func (s *Service) SetLimits(l Limits) {
	l = l.withDefaults()
	s.limits.Store(&l)
}

// Limits returns the current limits.
func (s *Service) Limits() Limits {
	return *s.limits.Load()
}

// resolveSession returns the session to write into, creating one when
// sessionID is "new".
func (s *Service) resolveSession(ctx context.Context, userID, sessionID string, mode store.Mode, firstMessage string) (*store.Session, error) {
	if sessionID == NewSessionID {
		sess, err := s.store.CreateSession(ctx, userID, mode, util.TruncateRunes(util.FirstLine(firstMessage), titleRunes))
		if err != nil {
			return nil, &PersistenceError{Op: "create session", Err: err}
		}
		s.log.V(1).Info("SESSION_CREATED", "session", sess.ID, "user", userID, "mode", string(mode))
		return sess, nil
	}

	sess, err := s.store.GetSession(ctx, userID, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get session", Err: err}
	}
	return sess, nil
}

// begin resolves the session, records the user turn and assembles the
// context every model will see.
func (s *Service) begin(ctx context.Context, userID, sessionID string, mode store.Mode, message string) (*store.Session, []provider.Message, error) {
	sess, err := s.resolveSession(ctx, userID, sessionID, mode, message)
	if err != nil {
		return nil, nil, err
	}

	userMsg := &store.Message{SessionID: sess.ID, Role: string(provider.RoleUser), Content: message}
	if err := s.store.AppendMessage(ctx, userID, userMsg); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrSessionNotFound
		}
		return nil, nil, &PersistenceError{Op: "append user message", Err: err}
	}

	history, err := s.assembler.Build(ctx, userID, sess.ID)
	if err != nil {
		return nil, nil, &PersistenceError{Op: "load history", Err: err}
	}
	return sess, history, nil
}

// record stores an assistant turn and its usage. Writes are detached from
// ctx cancellation so a finished answer is kept when the caller leaves.
func (s *Service) record(ctx context.Context, userID, sessionID string, r *ComparisonResult) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	msg := &store.Message{
		SessionID: sessionID,
		Role:      string(provider.RoleAssistant),
		Content:   r.Content,
		Model:     r.Model,
		TokensIn:  r.Tokens.Input,
		TokensOut: r.Tokens.Output,
		LatencyMs: r.LatencyMs,
	}
	if err := s.store.AppendMessage(ctx, userID, msg); err != nil {
		return &PersistenceError{Op: "append assistant message", Err: err}
	}

	usage := &store.UsageLog{
		SessionID: sessionID,
		Provider:  r.Provider,
		Model:     r.Model,
		TokensIn:  r.Tokens.Input,
		TokensOut: r.Tokens.Output,
		Cost:      r.Cost,
	}
	if err := s.store.LogUsage(ctx, userID, usage); err != nil {
		return &PersistenceError{Op: "log usage", Err: err}
	}
	return nil
}

// =============================================================================
// RESULTS
// =============================================================================

// Tokens is a token count pair.
type Tokens struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// ComparisonResult is one model's entry in a comparison.
type ComparisonResult struct {
	Model        string          `json:"model"`
	Provider     string          `json:"provider"`
	Content      string          `json:"content"`
	Tokens       Tokens          `json:"tokens"`
	Cost         decimal.Decimal `json:"cost"`
	LatencyMs    int64           `json:"latency"`
	Error        bool            `json:"error,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

func successResult(resp *provider.Response) ComparisonResult {
	return ComparisonResult{
		Model:     resp.Model,
		Provider:  resp.Provider,
		Content:   resp.Content,
		Tokens:    Tokens{Input: resp.TokensIn, Output: resp.TokensOut},
		Cost:      resp.Cost,
		LatencyMs: resp.Latency.Milliseconds(),
	}
}

func failureResult(model string, err error, latency, timeout time.Duration) ComparisonResult {
	return ComparisonResult{
		Model:        model,
		Provider:     provider.Describe(model).Provider,
		Content:      FailureContent(model),
		Cost:         decimal.Zero,
		LatencyMs:    latency.Milliseconds(),
		Error:        true,
		ErrorMessage: PublicError(err, timeout),
	}
}

// validateMessage normalizes a user message and rejects empty ones.
func validateMessage(message string) (string, error) {
	m := conversation.Normalize(message)
	if m == "" {
		return "", missing("message")
	}
	return m, nil
}

func validateSessionID(userID, sessionID string) error {
	if userID == "" {
		return missing("userId")
	}
	if sessionID == "" {
		return missing("sessionId")
	}
	return nil
}

func errorf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
