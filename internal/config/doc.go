// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for neurochat.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - ChatConfig: Upstream call timeouts, concurrency and sampling defaults
//   - ProvidersConfig: OpenRouter and direct vendor credentials
//   - StoreConfig: sqlite or postgres persistence
//   - AuthConfig: Bearer token users, or a single local user
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (NEUROCHAT_*, provider *_API_KEY, DATABASE_URL)
//   - A .env file in the working directory
//   - ~/.neurochat/config.toml (or --config)
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	timeout := cfg.Chat.CallTimeout()
//
// Watch reloads the file on change; serve uses it to swap the rate
// limiter and call timeout without a restart.
package config
