// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic talks to the Anthropic Messages API directly.
type Anthropic struct {
	client anthropic.Client
}

// NewAnthropic creates a backend. baseURL may be empty.
func NewAnthropic(apiKey, baseURL string, maxRetries int) *Anthropic {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if maxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(maxRetries))
	}
	return &Anthropic{client: anthropic.NewClient(opts...)}
}

// Name implements Backend.
func (b *Anthropic) Name() string { return "anthropic" }

// toAnthropicParams lifts system turns into the System field; the
// Messages API rejects them inline.
func toAnthropicParams(req *Request) anthropic.MessageNewParams {
	system, rest := splitSystem(req.Messages)

	msgs := make([]anthropic.MessageParam, 0, len(rest))
	for _, m := range rest {
		if m.Role == RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	p := anthropic.MessageNewParams{
		MaxTokens:   maxTokens,
		Model:       anthropic.Model(req.nativeModel()),
		Messages:    msgs,
		Temperature: anthropic.Float(req.Temperature),
	}
	if system != "" {
		p.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return p
}

// Complete implements Backend.
func (b *Anthropic) Complete(ctx context.Context, req *Request) (*Result, error) {
	msg, err := b.client.Messages.New(ctx, toAnthropicParams(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	return &Result{
		Content: sb.String(),
		Usage:   reportedUsage(msg.Usage.InputTokens, msg.Usage.OutputTokens),
	}, nil
}

// Stream implements Backend.
func (b *Anthropic) Stream(ctx context.Context, req *Request, fn func(Chunk) error) (*Usage, error) {
	stream := b.client.Messages.NewStreaming(ctx, toAnthropicParams(req))
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("accumulate event: %w", err)
		}

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				if err := fn(Chunk{Content: delta.Text}); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}

	return reportedUsage(message.Usage.InputTokens, message.Usage.OutputTokens), nil
}
