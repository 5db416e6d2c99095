// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jeranaias/neurochat/internal/provider"
	"github.com/jeranaias/neurochat/internal/store"
)

// ChatRequest is a single-model chat turn.
type ChatRequest struct {
	UserID    string
	SessionID string
	Model     string
	Message   string
	// Mode of a newly created session. Empty means single.
	Mode store.Mode
}

// ChatResult is the recorded outcome of a single-model turn.
type ChatResult struct {
	SessionID string
	Model     string
	Provider  string
	Content   string
	TokensIn  int
	TokensOut int
	Cost      decimal.Decimal
	Latency   time.Duration
	Estimated bool
	// Partial is set when the stream failed after delivering content.
	Partial bool
}

// ChatStream is an opened single-model stream. Relay must be called
// exactly once.
type ChatStream struct {
	SessionID string
	Model     string

	svc     *Service
	userID  string
	history []provider.Message
	events  <-chan provider.Event
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	start   time.Time
}

func (s *Service) validateChat(req *ChatRequest) error {
	if err := validateSessionID(req.UserID, req.SessionID); err != nil {
		return err
	}
	req.Model = strings.TrimSpace(req.Model)
	if req.Model == "" {
		return missing("model")
	}
	msg, err := validateMessage(req.Message)
	if err != nil {
		return err
	}
	req.Message = msg
	if req.Mode == "" {
		req.Mode = store.ModeSingle
	}
	if !req.Mode.Valid() {
		return &ValidationError{Field: "mode", Message: "Invalid mode. Must be 'single' or 'compare'"}
	}
	return nil
}

// StartChat validates the request, records the user turn and opens the
// upstream stream. Errors returned here happen before any output.
func (s *Service) StartChat(ctx context.Context, req ChatRequest) (*ChatStream, error) {
	if err := s.validateChat(&req); err != nil {
		return nil, err
	}

	sess, history, err := s.begin(ctx, req.UserID, req.SessionID, req.Mode, req.Message)
	if err != nil {
		return nil, err
	}

	timeout := s.Limits().CallTimeout
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	cs := &ChatStream{
		SessionID: sess.ID,
		Model:     req.Model,
		svc:       s,
		userID:    req.UserID,
		history:   history,
		ctx:       callCtx,
		cancel:    cancel,
		timeout:   timeout,
		start:     time.Now(),
	}

	events, err := s.models.StreamComplete(callCtx, req.Model, history)
	if err != nil {
		// Surface the failure through Relay like any other stream error.
		ch := make(chan provider.Event, 1)
		ch <- provider.Event{Err: err}
		close(ch)
		events = ch
	}
	cs.events = events

	s.log.V(1).Info("CHAT_STREAM_START", "session", sess.ID, "model", req.Model)
	return cs, nil
}

// Relay forwards every fragment to sink as it arrives and records the
// result. A sink error cancels the upstream call. On a provider failure
// the content delivered so far is recorded with estimated usage and the
// *provider.ProviderError is returned alongside the partial result.
func (cs *ChatStream) Relay(sink func(fragment string) error) (*ChatResult, error) {
	defer cs.cancel()
	s := cs.svc

	var delivered strings.Builder
	var terminal provider.Event
	var sinkErr error

	for ev := range cs.events {
		if ev.Terminal() {
			terminal = ev
			continue
		}
		if sinkErr != nil {
			continue
		}
		if err := sink(ev.Fragment); err != nil {
			sinkErr = err
			cs.cancel()
			continue
		}
		delivered.WriteString(ev.Fragment)
	}

	var failure error
	switch {
	case sinkErr != nil:
		failure = sinkErr
	case terminal.Err != nil:
		failure = terminal.Err
	case !terminal.Done:
		failure = cs.ctx.Err()
		if failure == nil {
			failure = context.Canceled
		}
	}

	latency := terminal.Latency
	if latency <= 0 {
		latency = time.Since(cs.start)
	}

	if failure == nil {
		resp := streamResponse(cs.Model, cs.history, delivered.String(), terminal.Usage, latency)
		result := successResult(resp)
		if err := s.record(cs.ctx, cs.userID, cs.SessionID, &result); err != nil {
			s.log.Error(err, "CHAT_PERSIST_FAILED", "session", cs.SessionID, "model", cs.Model)
			return cs.result(resp, false), err
		}
		s.log.Info("CHAT_STREAM_DONE", "session", cs.SessionID, "model", cs.Model,
			"tokens_in", resp.TokensIn, "tokens_out", resp.TokensOut, "latency_ms", latency.Milliseconds())
		return cs.result(resp, false), nil
	}

	s.log.Info("CHAT_STREAM_FAILED", "session", cs.SessionID, "model", cs.Model,
		"delivered_chars", delivered.Len(), "error", failure.Error())

	partial := delivered.String()
	if partial == "" {
		return nil, failure
	}

	// Usage of an aborted stream is never reported upstream.
	resp := streamResponse(cs.Model, cs.history, partial, nil, latency)
	result := successResult(resp)
	if err := s.record(cs.ctx, cs.userID, cs.SessionID, &result); err != nil {
		s.log.Error(err, "CHAT_PERSIST_FAILED", "session", cs.SessionID, "model", cs.Model, "partial", true)
	}
	return cs.result(resp, true), failure
}

func (cs *ChatStream) result(resp *provider.Response, partial bool) *ChatResult {
	return &ChatResult{
		SessionID: cs.SessionID,
		Model:     resp.Model,
		Provider:  resp.Provider,
		Content:   resp.Content,
		TokensIn:  resp.TokensIn,
		TokensOut: resp.TokensOut,
		Cost:      resp.Cost,
		Latency:   resp.Latency,
		Estimated: resp.Estimated,
		Partial:   partial,
	}
}

// Close abandons a stream that will not be relayed.
func (cs *ChatStream) Close() {
	cs.cancel()
	for range cs.events {
	}
}

// StreamChat runs a whole single-model turn: StartChat then Relay.
func (s *Service) StreamChat(ctx context.Context, req ChatRequest, sink func(fragment string) error) (*ChatResult, error) {
	cs, err := s.StartChat(ctx, req)
	if err != nil {
		return nil, err
	}
	return cs.Relay(sink)
}

// IsProviderError reports whether err is an upstream model failure.
func IsProviderError(err error) bool {
	var pe *provider.ProviderError
	return errors.As(err, &pe)
}
