// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Gemini talks to the Google Gemini API through the genai SDK.
type Gemini struct {
	client *genai.Client
}

// NewGemini creates a backend. baseURL may be empty.
func NewGemini(ctx context.Context, apiKey, baseURL string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return &Gemini{client: client}, nil
}

// Name implements Backend.
func (b *Gemini) Name() string { return "gemini" }

// toGeminiContents maps roles onto Gemini's user/model pair; the system
// prompt travels in the config.
func toGeminiContents(req *Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	system, rest := splitSystem(req.Messages)

	contents := make([]*genai.Content, 0, len(rest))
	for _, m := range rest {
		role := genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:    genai.Ptr(float32(req.Temperature)),
		CandidateCount: 1,
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	return contents, cfg
}

func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func geminiUsage(resp *genai.GenerateContentResponse) *Usage {
	if resp == nil || resp.UsageMetadata == nil {
		return nil
	}
	return &Usage{
		PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
		CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
	}
}

// Complete implements Backend.
func (b *Gemini) Complete(ctx context.Context, req *Request) (*Result, error) {
	contents, cfg := toGeminiContents(req)
	resp, err := b.client.Models.GenerateContent(ctx, req.nativeModel(), contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("Gemini API call: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, ErrEmptyResponse
	}
	return &Result{Content: geminiText(resp), Usage: geminiUsage(resp)}, nil
}

// Stream implements Backend.
func (b *Gemini) Stream(ctx context.Context, req *Request, fn func(Chunk) error) (*Usage, error) {
	contents, cfg := toGeminiContents(req)

	var usage *Usage
	for resp, err := range b.client.Models.GenerateContentStream(ctx, req.nativeModel(), contents, cfg) {
		if err != nil {
			return usage, fmt.Errorf("Gemini stream: %w", err)
		}
		if u := geminiUsage(resp); u != nil {
			usage = u
		}
		if text := geminiText(resp); text != "" {
			if err := fn(Chunk{Content: text}); err != nil {
				return usage, err
			}
		}
	}
	return usage, nil
}
