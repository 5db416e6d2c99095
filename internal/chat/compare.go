// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/neurochat/internal/provider"
	"github.com/jeranaias/neurochat/internal/registry"
	"github.com/jeranaias/neurochat/internal/store"
)

// compareBuffer is the capacity of a merged comparison stream.
const compareBuffer = 64

// CompareRequest asks several models the same question.
type CompareRequest struct {
	UserID    string
	SessionID string
	Models    []string
	Message   string
}

// CompareResponse holds one result per requested model, in request order.
type CompareResponse struct {
	SessionID string             `json:"sessionId"`
	Responses []ComparisonResult `json:"responses"`
	Timestamp time.Time          `json:"timestamp"`
}

func (s *Service) validateCompare(req *CompareRequest) error {
	if err := validateSessionID(req.UserID, req.SessionID); err != nil {
		return err
	}
	if len(req.Models) == 0 {
		return missing("models")
	}
	for i, m := range req.Models {
		m = strings.TrimSpace(m)
		if m == "" {
			return missing("models")
		}
		req.Models[i] = m
	}
	if limit := s.Limits().MaxCompareModels; len(req.Models) > limit {
		return errorf("models", "Too many models: at most %d can be compared", limit)
	}
	msg, err := validateMessage(req.Message)
	if err != nil {
		return err
	}
	req.Message = msg
	return nil
}

// Compare sends the message to every requested model at once and waits
// for all of them. Every branch shares one deadline set at dispatch, so
// the comparison takes at most one call timeout. A failing model yields
// an error entry in its slot; it never fails the comparison or delays its
// siblings. Duplicate model ids are called independently.
func (s *Service) Compare(ctx context.Context, req CompareRequest) (*CompareResponse, error) {
	req.Models = append([]string(nil), req.Models...)
	if err := s.validateCompare(&req); err != nil {
		return nil, err
	}

	sess, history, err := s.begin(ctx, req.UserID, req.SessionID, store.ModeCompare, req.Message)
	if err != nil {
		return nil, err
	}

	limits := s.Limits()
	s.log.Info("COMPARE_START", "session", sess.ID, "models", len(req.Models))
	start := time.Now()

	results := make([]ComparisonResult, len(req.Models))
	deadline := start.Add(limits.CallTimeout)
	var g errgroup.Group
	for i, model := range req.Models {
		g.Go(func() error {
			results[i] = s.completeBranch(ctx, req.UserID, sess.ID, model, history, start, deadline)
			return nil
		})
	}
	_ = g.Wait()

	s.log.Info("COMPARE_DONE", "session", sess.ID, "models", len(req.Models),
		"failed", countFailed(results), "duration_ms", time.Since(start).Milliseconds())

	return &CompareResponse{SessionID: sess.ID, Responses: results, Timestamp: time.Now().UTC()}, nil
}

// completeBranch runs one model until deadline and records the outcome.
// Latency is measured from dispatch. It never returns an error; failures
// become error results.
func (s *Service) completeBranch(ctx context.Context, userID, sessionID, model string, history []provider.Message, start, deadline time.Time) ComparisonResult {
	callCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	timeout := deadline.Sub(start)
	resp, err := s.models.Complete(callCtx, model, history)

	var result ComparisonResult
	if err != nil {
		s.log.Info("COMPARE_BRANCH_FAILED", "session", sessionID, "model", model, "error", err.Error())
		result = failureResult(model, err, time.Since(start), timeout)
	} else {
		result = successResult(resp)
		result.LatencyMs = time.Since(start).Milliseconds()
	}

	if err := s.record(ctx, userID, sessionID, &result); err != nil {
		s.log.Error(err, "COMPARE_PERSIST_FAILED", "session", sessionID, "model", model)
	}
	return result
}

func countFailed(results []ComparisonResult) int {
	n := 0
	for _, r := range results {
		if r.Error {
			n++
		}
	}
	return n
}

// =============================================================================
// STREAMING COMPARISON
// =============================================================================

// CompareEvent is one item of a streaming comparison. Index is the
// position of the model in the request. Each branch emits fragments and
// then exactly one Done or Err event carrying its Result.
type CompareEvent struct {
	Index    int
	Model    string
	Fragment string
	Done     bool
	Err      error
	Result   *ComparisonResult
}

// Terminal reports whether e ends its branch.
func (e CompareEvent) Terminal() bool {
	return e.Done || e.Err != nil
}

// CompareStream is a running streaming comparison.
type CompareStream struct {
	SessionID string
	Models    []string
	Events    <-chan CompareEvent
}

// CompareStream is Compare with every branch streamed. Events from all
// branches are merged into one channel that closes once every branch has
// finished and been recorded. If ctx is cancelled, undelivered events are
// dropped but branch results are still recorded.
func (s *Service) CompareStream(ctx context.Context, req CompareRequest) (*CompareStream, error) {
	req.Models = append([]string(nil), req.Models...)
	if err := s.validateCompare(&req); err != nil {
		return nil, err
	}

	sess, history, err := s.begin(ctx, req.UserID, req.SessionID, store.ModeCompare, req.Message)
	if err != nil {
		return nil, err
	}

	limits := s.Limits()
	out := make(chan CompareEvent, compareBuffer)
	s.log.Info("COMPARE_STREAM_START", "session", sess.ID, "models", len(req.Models))

	go func() {
		defer close(out)
		start := time.Now()

		emit := func(ev CompareEvent) {
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		}

		deadline := start.Add(limits.CallTimeout)
		var g errgroup.Group
		failed := make([]bool, len(req.Models))
		for i, model := range req.Models {
			g.Go(func() error {
				result, branchErr := s.streamBranch(ctx, i, model, history, start, deadline, emit)
				if err := s.record(ctx, req.UserID, sess.ID, &result); err != nil {
					s.log.Error(err, "COMPARE_PERSIST_FAILED", "session", sess.ID, "model", model)
				}
				failed[i] = result.Error
				emit(CompareEvent{Index: i, Model: model, Done: branchErr == nil, Err: branchErr, Result: &result})
				return nil
			})
		}
		_ = g.Wait()

		n := 0
		for _, f := range failed {
			if f {
				n++
			}
		}
		s.log.Info("COMPARE_DONE", "session", sess.ID, "models", len(req.Models),
			"failed", n, "duration_ms", time.Since(start).Milliseconds(), "streamed", true)
	}()

	return &CompareStream{SessionID: sess.ID, Models: req.Models, Events: out}, nil
}

// streamBranch relays one model's fragments until deadline and returns
// its result. The error is the branch failure, already reflected in the
// result.
func (s *Service) streamBranch(ctx context.Context, index int, model string, history []provider.Message, start, deadline time.Time, emit func(CompareEvent)) (ComparisonResult, error) {
	callCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	timeout := deadline.Sub(start)
	fail := func(err error) (ComparisonResult, error) {
		s.log.Info("COMPARE_BRANCH_FAILED", "model", model, "index", index, "error", err.Error())
		return failureResult(model, err, time.Since(start), timeout), err
	}

	events, err := s.models.StreamComplete(callCtx, model, history)
	if err != nil {
		return fail(err)
	}

	var content strings.Builder
	var terminal provider.Event
	for ev := range events {
		if ev.Terminal() {
			terminal = ev
			continue
		}
		content.WriteString(ev.Fragment)
		emit(CompareEvent{Index: index, Model: model, Fragment: ev.Fragment})
	}

	switch {
	case terminal.Err != nil:
		return fail(terminal.Err)
	case !terminal.Done:
		// Closed without a terminal event: the call was cancelled.
		err := callCtx.Err()
		if err == nil {
			err = context.Canceled
		}
		return fail(err)
	}

	return successResult(streamResponse(model, history, content.String(), terminal.Usage, time.Since(start))), nil
}

// streamResponse normalizes a finished stream like Client.Complete does.
func streamResponse(model string, history []provider.Message, content string, usage *provider.Usage, latency time.Duration) *provider.Response {
	d := provider.Describe(model)
	resp := &provider.Response{Model: d.ID, Provider: d.Provider, Content: content, Latency: latency}
	if usage != nil {
		resp.TokensIn = usage.PromptTokens
		resp.TokensOut = usage.CompletionTokens
	} else {
		resp.TokensIn = provider.EstimatePromptTokens(history)
		resp.TokensOut = provider.EstimateTokens(content)
		resp.Estimated = true
	}
	resp.Cost = registry.Cost(d.ID, resp.TokensIn, resp.TokensOut)
	return resp
}
