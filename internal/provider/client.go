// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/jeranaias/neurochat/internal/registry"
)

// =============================================================================
// CALL OPTIONS
// =============================================================================

type callOptions struct {
	temperature float64
	maxTokens   int
}

// Option tunes a single Complete or StreamComplete call.
type Option func(*callOptions)

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *callOptions) { o.temperature = t }
}

// WithMaxTokens overrides the output token cap. Non-positive values are ignored.
func WithMaxTokens(n int) Option {
	return func(o *callOptions) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is the uniform entry point over all upstream backends. Backends
// are selected by the provider id of the requested model; providers
// without a dedicated backend, and unknown models, use the fallback.
type Client struct {
	backends map[string]Backend
	fallback Backend
	log      logr.Logger

	temperature float64
	maxTokens   int
}

// NewClient creates a client. backends is copied; it maps provider ids
// (registry.ProviderOpenAI, ...) to the backend serving them.
func NewClient(fallback Backend, backends map[string]Backend, log logr.Logger) *Client {
	table := make(map[string]Backend, len(backends))
	for k, v := range backends {
		if v != nil {
			table[k] = v
		}
	}
	return &Client{
		backends:    table,
		fallback:    fallback,
		log:         log,
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
	}
}

// WithDefaults replaces the temperature and token cap used when a call
// passes no options.
func (c *Client) WithDefaults(temperature float64, maxTokens int) *Client {
	c.temperature = temperature
	if maxTokens > 0 {
		c.maxTokens = maxTokens
	}
	return c
}

// Describe resolves modelID against the registry. Unknown ids yield a
// descriptor carrying only the raw id and registry.UnknownProvider.
func Describe(modelID string) registry.ModelDescriptor {
	if m, ok := registry.Lookup(modelID); ok {
		return m
	}
	return registry.ModelDescriptor{ID: modelID, Provider: registry.UnknownProvider}
}

// BackendFor returns the backend a model is routed to.
func (c *Client) BackendFor(modelID string) Backend {
	if b, ok := c.backends[Describe(modelID).Provider]; ok {
		return b
	}
	return c.fallback
}

func (c *Client) newRequest(modelID string, messages []Message, opts []Option) *Request {
	o := callOptions{temperature: c.temperature, maxTokens: c.maxTokens}
	for _, opt := range opts {
		opt(&o)
	}
	return &Request{
		Model:       Describe(modelID),
		Messages:    messages,
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
	}
}

func (c *Client) fail(req *Request, err error) *ProviderError {
	return &ProviderError{ModelID: req.Model.ID, Provider: req.Model.Provider, Cause: err}
}

// Complete performs one blocking call. On failure it returns a
// *ProviderError and no content.
func (c *Client) Complete(ctx context.Context, modelID string, messages []Message, opts ...Option) (*Response, error) {
	req := c.newRequest(modelID, messages, opts)
	backend := c.BackendFor(modelID)
	if backend == nil {
		return nil, c.fail(req, ErrNotConfigured)
	}

	start := time.Now()
	result, err := backend.Complete(ctx, req)
	latency := time.Since(start)
	if err != nil {
		c.log.V(1).Info("PROVIDER_CALL_FAILED", "model", modelID, "backend", backend.Name(), "error", err.Error())
		return nil, c.fail(req, err)
	}

	resp := &Response{
		Model:    req.Model.ID,
		Provider: req.Model.Provider,
		Content:  result.Content,
		Latency:  latency,
	}
	if result.Usage != nil {
		resp.TokensIn = result.Usage.PromptTokens
		resp.TokensOut = result.Usage.CompletionTokens
	} else {
		resp.TokensIn = EstimatePromptTokens(messages)
		resp.TokensOut = EstimateTokens(result.Content)
		resp.Estimated = true
	}
	resp.Cost = registry.Cost(req.Model.ID, resp.TokensIn, resp.TokensOut)

	c.log.V(1).Info("PROVIDER_CALL", "model", modelID, "backend", backend.Name(),
		"tokens_in", resp.TokensIn, "tokens_out", resp.TokensOut, "latency_ms", latency.Milliseconds())
	return resp, nil
}

// StreamComplete opens a streaming call. The returned channel yields
// fragment events followed by exactly one terminal event and is then
// closed. Cancelling ctx aborts the upstream request; if the consumer
// stops reading after cancellation the terminal event may be dropped.
func (c *Client) StreamComplete(ctx context.Context, modelID string, messages []Message, opts ...Option) (<-chan Event, error) {
	req := c.newRequest(modelID, messages, opts)
	backend := c.BackendFor(modelID)
	if backend == nil {
		return nil, c.fail(req, ErrNotConfigured)
	}

	events := make(chan Event, streamBuffer)

	go func() {
		defer close(events)

		send := func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		start := time.Now()
		var delivered strings.Builder

		usage, err := backend.Stream(ctx, req, func(chunk Chunk) error {
			if chunk.Content == "" {
				return nil
			}
			delivered.WriteString(chunk.Content)
			if !send(Event{Fragment: chunk.Content}) {
				return ctx.Err()
			}
			return nil
		})
		latency := time.Since(start)

		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		if err != nil {
			var se *StreamError
			if !errors.As(err, &se) {
				err = &StreamError{Partial: delivered.String(), Err: err}
			}
			c.log.V(1).Info("PROVIDER_STREAM_FAILED", "model", modelID, "backend", backend.Name(),
				"partial_chars", delivered.Len(), "error", err.Error())
			send(Event{Err: c.fail(req, err), Latency: latency})
			return
		}

		send(Event{Done: true, Usage: usage, Latency: latency})
	}()

	return events, nil
}
