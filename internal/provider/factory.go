// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/jeranaias/neurochat/internal/config"
	"github.com/jeranaias/neurochat/internal/registry"
)

// FromConfig builds a Client with OpenRouter as the fallback and a
// direct backend for every vendor whose key is configured.
func FromConfig(ctx context.Context, pc config.ProvidersConfig, cc config.ChatConfig, log logr.Logger) (*Client, error) {
	fallback := NewOpenRouter(pc.OpenRouterKey).
		WithBaseURL(pc.OpenRouterURL).
		WithMaxRetries(pc.MaxRetries).
		WithSiteURL(pc.SiteURL).
		WithSiteName(pc.SiteName).
		WithTimeout(cc.CallTimeout()).
		WithLogger(log)

	backends := make(map[string]Backend)

	if pc.OpenAIKey != "" {
		backends[registry.ProviderOpenAI] = NewOpenAICompat("openai", pc.OpenAIKey, pc.OpenAIBaseURL, pc.MaxRetries)
	}
	if pc.MistralKey != "" {
		backends[registry.ProviderMistral] = NewOpenAICompat("mistral", pc.MistralKey, orDefault(pc.MistralBaseURL, MistralBaseURL), pc.MaxRetries)
	}
	if pc.DeepSeekKey != "" {
		backends[registry.ProviderDeepSeek] = NewOpenAICompat("deepseek", pc.DeepSeekKey, orDefault(pc.DeepSeekBaseURL, DeepSeekBaseURL), pc.MaxRetries)
	}
	if pc.AnthropicKey != "" {
		backends[registry.ProviderAnthropic] = NewAnthropic(pc.AnthropicKey, pc.AnthropicBaseURL, pc.MaxRetries)
	}
	if pc.GeminiKey != "" {
		g, err := NewGemini(ctx, pc.GeminiKey, pc.GeminiBaseURL)
		if err != nil {
			return nil, err
		}
		backends[registry.ProviderGoogle] = g
	}

	names := make([]string, 0, len(backends))
	for p, b := range backends {
		names = append(names, p+"="+b.Name())
	}
	log.Info("PROVIDERS_CONFIGURED",
		"fallback", fallback.Name(),
		"fallback_key", fallback.KeyFingerprint(),
		"direct", names)

	if !fallback.IsConfigured() && len(backends) == 0 {
		log.Info("PROVIDERS_WARNING", "reason", "no API keys configured; every model call will fail")
	}

	return NewClient(fallback, backends, log).WithDefaults(cc.Temperature, cc.MaxTokens), nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
