// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package registry holds the static catalog of chat models NeuroChat can
// route to, together with their owning provider and per-token pricing.
package registry

import (
	"github.com/shopspring/decimal"
)

// UnknownProvider is reported for model ids that are not in the catalog.
const UnknownProvider = "unknown"

// Provider ids used as dispatch keys throughout the service.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
	ProviderMistral   = "mistral"
	ProviderDeepSeek  = "deepseek"
	ProviderMeta      = "meta"
)

// =============================================================================
// TYPES
// =============================================================================

// ModelDescriptor describes one model variant. Prices are USD per token.
type ModelDescriptor struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Provider      string          `json:"provider"`
	ContextWindow int             `json:"contextWindow"`
	InputPrice    decimal.Decimal `json:"inputPrice"`
	OutputPrice   decimal.Decimal `json:"outputPrice"`

	// OpenRouterID is the aggregator slug, e.g. "openai/gpt-4o".
	OpenRouterID string `json:"-"`

	// NativeID is the model name the vendor's own API expects.
	NativeID string `json:"-"`
}

// Cost returns the price of a call with the given token counts.
func (m ModelDescriptor) Cost(tokensIn, tokensOut int) decimal.Decimal {
	in := m.InputPrice.Mul(decimal.NewFromInt(int64(tokensIn)))
	out := m.OutputPrice.Mul(decimal.NewFromInt(int64(tokensOut)))
	return in.Add(out)
}

// ProviderInfo is the display metadata for a provider family.
type ProviderInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// =============================================================================
// CATALOG
// =============================================================================

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var models = []ModelDescriptor{
	{ID: "gpt-4o", Name: "GPT-4o", Provider: ProviderOpenAI, ContextWindow: 128000,
		InputPrice: price("0.0025"), OutputPrice: price("0.01"),
		OpenRouterID: "openai/gpt-4o", NativeID: "gpt-4o"},
	{ID: "gpt-4o-mini", Name: "GPT-4o Mini", Provider: ProviderOpenAI, ContextWindow: 128000,
		InputPrice: price("0.00015"), OutputPrice: price("0.0006"),
		OpenRouterID: "openai/gpt-4o-mini", NativeID: "gpt-4o-mini"},
	{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", Provider: ProviderOpenAI, ContextWindow: 128000,
		InputPrice: price("0.01"), OutputPrice: price("0.03"),
		OpenRouterID: "openai/gpt-4-turbo", NativeID: "gpt-4-turbo"},
	{ID: "claude-3-5-sonnet", Name: "Claude 3.5 Sonnet", Provider: ProviderAnthropic, ContextWindow: 200000,
		InputPrice: price("0.003"), OutputPrice: price("0.015"),
		OpenRouterID: "anthropic/claude-3.5-sonnet", NativeID: "claude-3-5-sonnet-latest"},
	{ID: "claude-3-opus", Name: "Claude 3 Opus", Provider: ProviderAnthropic, ContextWindow: 200000,
		InputPrice: price("0.015"), OutputPrice: price("0.075"),
		OpenRouterID: "anthropic/claude-3-opus", NativeID: "claude-3-opus-latest"},
	{ID: "claude-3-haiku", Name: "Claude 3 Haiku", Provider: ProviderAnthropic, ContextWindow: 200000,
		InputPrice: price("0.00025"), OutputPrice: price("0.00125"),
		OpenRouterID: "anthropic/claude-3-haiku", NativeID: "claude-3-haiku-20240307"},
	{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", Provider: ProviderGoogle, ContextWindow: 1000000,
		InputPrice: price("0.000075"), OutputPrice: price("0.0003"),
		OpenRouterID: "google/gemini-2.0-flash-001", NativeID: "gemini-2.0-flash"},
	{ID: "gemini-2.0-pro", Name: "Gemini 2.0 Pro", Provider: ProviderGoogle, ContextWindow: 1000000,
		InputPrice: price("0.000375"), OutputPrice: price("0.0015"),
		OpenRouterID: "google/gemini-2.0-pro-exp-02-05", NativeID: "gemini-2.0-pro-exp-02-05"},
	{ID: "mistral-large-latest", Name: "Mistral Large", Provider: ProviderMistral, ContextWindow: 32768,
		InputPrice: price("0.0007"), OutputPrice: price("0.0028"),
		OpenRouterID: "mistralai/mistral-large", NativeID: "mistral-large-latest"},
	{ID: "mistral-medium-latest", Name: "Mistral Medium", Provider: ProviderMistral, ContextWindow: 32768,
		InputPrice: price("0.00014"), OutputPrice: price("0.00042"),
		OpenRouterID: "mistralai/mistral-medium", NativeID: "mistral-medium-latest"},
	{ID: "deepseek-chat", Name: "DeepSeek Chat", Provider: ProviderDeepSeek, ContextWindow: 32768,
		InputPrice: price("0.00014"), OutputPrice: price("0.00028"),
		OpenRouterID: "deepseek/deepseek-chat", NativeID: "deepseek-chat"},
	{ID: "llama-3.1-8b", Name: "Llama 3.1 8B", Provider: ProviderMeta, ContextWindow: 8192,
		InputPrice: price("0.0000002"), OutputPrice: price("0.0000002"),
		OpenRouterID: "meta-llama/llama-3.1-8b-instruct", NativeID: "llama-3.1-8b-instruct"},
	{ID: "llama-3.1-70b", Name: "Llama 3.1 70B", Provider: ProviderMeta, ContextWindow: 8192,
		InputPrice: price("0.0000007"), OutputPrice: price("0.0000008"),
		OpenRouterID: "meta-llama/llama-3.1-70b-instruct", NativeID: "llama-3.1-70b-instruct"},
}

var providers = []ProviderInfo{
	{ID: ProviderOpenAI, Name: "OpenAI", Color: "#10a37f"},
	{ID: ProviderAnthropic, Name: "Anthropic", Color: "#d97706"},
	{ID: ProviderGoogle, Name: "Google", Color: "#4285f4"},
	{ID: ProviderMistral, Name: "Mistral", Color: "#ff7000"},
	{ID: ProviderDeepSeek, Name: "DeepSeek", Color: "#1e40af"},
	{ID: ProviderMeta, Name: "Meta", Color: "#0668e1"},
}

var defaultModels = []string{
	"gpt-4o",
	"claude-3-5-sonnet",
	"gemini-2.0-flash",
	"mistral-large-latest",
	"deepseek-chat",
	"llama-3.1-8b",
}

// byID indexes models; built once at init and never mutated afterwards.
var byID = func() map[string]int {
	idx := make(map[string]int, len(models))
	for i, m := range models {
		idx[m.ID] = i
	}
	return idx
}()

// =============================================================================
// LOOKUPS
// =============================================================================

// Lookup returns the descriptor for id. A missing id is reported through
// ok, never as an error.
func Lookup(id string) (ModelDescriptor, bool) {
	i, ok := byID[id]
	if !ok {
		return ModelDescriptor{}, false
	}
	return models[i], true
}

// All returns every known model in catalog order.
func All() []ModelDescriptor {
	out := make([]ModelDescriptor, len(models))
	copy(out, models)
	return out
}

// ByProvider returns the models owned by provider, in catalog order.
func ByProvider(provider string) []ModelDescriptor {
	var out []ModelDescriptor
	for _, m := range models {
		if m.Provider == provider {
			out = append(out, m)
		}
	}
	return out
}

// Providers returns display metadata for every provider family.
func Providers() []ProviderInfo {
	out := make([]ProviderInfo, len(providers))
	copy(out, providers)
	return out
}

// DefaultModels returns the model ids preselected for comparison mode.
func DefaultModels() []string {
	out := make([]string, len(defaultModels))
	copy(out, defaultModels)
	return out
}

// ProviderOf returns the owning provider of id, or UnknownProvider.
func ProviderOf(id string) string {
	if m, ok := Lookup(id); ok {
		return m.Provider
	}
	return UnknownProvider
}

// Cost prices a call against id. Unknown models cost zero.
func Cost(id string, tokensIn, tokensOut int) decimal.Decimal {
	m, ok := Lookup(id)
	if !ok {
		return decimal.Zero
	}
	return m.Cost(tokensIn, tokensOut)
}
