// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

// Base URLs of vendors that speak the OpenAI chat completions protocol.
const (
	MistralBaseURL  = "https://api.mistral.ai/v1"
	DeepSeekBaseURL = "https://api.deepseek.com/v1"
)

// OpenAICompat talks to OpenAI or any vendor exposing the same API
// (Mistral, DeepSeek) through the official SDK.
type OpenAICompat struct {
	name   string
	client openai.Client
}

// NewOpenAICompat creates a backend. baseURL may be empty for OpenAI itself.
func NewOpenAICompat(name, apiKey, baseURL string, maxRetries int) *OpenAICompat {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if maxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(maxRetries))
	}
	return &OpenAICompat{name: name, client: openai.NewClient(opts...)}
}

// Name implements Backend.
func (b *OpenAICompat) Name() string { return b.name }

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: param.NewOpt(m.Content),
					},
				},
			})
		case RoleAssistant:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Content: openai.ChatCompletionAssistantMessageParamContentUnion{
						OfString: param.NewOpt(m.Content),
					},
				},
			})
		default:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: param.NewOpt(m.Content),
					},
				},
			})
		}
	}
	return out
}

func (b *OpenAICompat) params(req *Request) openai.ChatCompletionNewParams {
	p := openai.ChatCompletionNewParams{
		Model:       req.nativeModel(),
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: param.NewOpt(req.Temperature),
		N:           param.NewOpt(int64(1)),
	}
	if req.MaxTokens > 0 {
		p.MaxTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return p
}

// Complete implements Backend.
func (b *OpenAICompat) Complete(ctx context.Context, req *Request) (*Result, error) {
	result, err := b.client.Chat.Completions.New(ctx, b.params(req))
	if err != nil {
		return nil, fmt.Errorf("%s API call: %w", b.name, err)
	}
	if len(result.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	return &Result{
		Content: result.Choices[0].Message.Content,
		Usage:   reportedUsage(result.Usage.PromptTokens, result.Usage.CompletionTokens),
	}, nil
}

// reportedUsage returns nil when the upstream omitted the usage block, so
// callers fall back to estimation.
func reportedUsage(prompt, completion int64) *Usage {
	if prompt == 0 && completion == 0 {
		return nil
	}
	return &Usage{PromptTokens: int(prompt), CompletionTokens: int(completion)}
}

// Stream implements Backend.
func (b *OpenAICompat) Stream(ctx context.Context, req *Request, fn func(Chunk) error) (*Usage, error) {
	p := b.params(req)
	p.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: param.NewOpt(true)}

	stream := b.client.Chat.Completions.NewStreaming(ctx, p)
	defer stream.Close()

	var usage *Usage
	for stream.Next() {
		chunk := stream.Current()
		if u := reportedUsage(chunk.Usage.PromptTokens, chunk.Usage.CompletionTokens); u != nil {
			usage = u
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		if err := fn(Chunk{Content: chunk.Choices[0].Delta.Content}); err != nil {
			return usage, err
		}
	}
	if err := stream.Err(); err != nil {
		return usage, fmt.Errorf("%s stream: %w", b.name, err)
	}
	return usage, nil
}
