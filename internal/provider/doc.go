// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider normalizes calls to hosted chat models.
//
// A Client routes each model id to a Backend by the model's provider:
// direct vendor backends when their key is configured, OpenRouter
// otherwise. Unknown model ids are passed to OpenRouter unchanged.
//
// # Backends
//
//   - OpenRouter: hand-built HTTP and SSE client with retries
//   - OpenAICompat: openai-go, also used for Mistral and DeepSeek
//   - Anthropic: anthropic-sdk-go Messages API
//   - Gemini: google.golang.org/genai
//
// # Streaming
//
// StreamComplete returns a channel of Events: zero or more fragments,
// then exactly one terminal event (Done or Err), then close. A failure
// after some fragments were delivered carries a *StreamError with the
// partial text:
//
//	events, err := client.StreamComplete(ctx, "gpt-4o", messages)
//	for ev := range events {
//	    switch {
//	    case ev.Err != nil:
//	        var se *provider.StreamError
//	        if errors.As(ev.Err, &se) {
//	            partial := se.Partial
//	        }
//	    case ev.Done:
//	        usage := ev.Usage
//	    default:
//	        fmt.Print(ev.Fragment)
//	    }
//	}
package provider
