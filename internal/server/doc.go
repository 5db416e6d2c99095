// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the NeuroChat HTTP API.
//
// # Endpoints
//
//   - POST   /chat                  - Single-model chat, streamed as data: frames
//   - POST   /chat/compare          - Multi-model comparison, JSON
//   - POST   /chat/compare/stream   - Multi-model comparison, streamed
//   - GET    /chat/compare/ws       - Multi-model comparison over a websocket
//   - GET    /models                - Model catalog (?id= for one model)
//   - GET    /sessions              - Recent sessions
//   - POST   /sessions              - Create a session
//   - GET    /sessions/{id}         - Session with its messages
//   - PUT    /sessions/{id}         - Change mode or title
//   - DELETE /sessions/{id}         - Delete a session and its history
//   - GET    /analytics             - Usage statistics (?timeRange=7d|30d|90d)
//   - GET    /health                - Health check (no auth)
//
// Every route may be mounted under server.base_path.
//
// # Middleware
//
//   - Request ids (chi)
//   - Panic recovery and request logging (logr)
//   - Security headers and CORS
//   - Per-client token bucket rate limiting (x/time/rate)
//   - Bearer token authentication (internal/auth)
//
// Errors are JSON objects of the form {"error": "message"}. Once a stream
// has started, failures are reported in-band as an error frame followed
// by the [DONE] marker.
//
// # Usage
//
//	srv := server.New(server.Options{
//		Config: cfg.Server,
//		Chat:   svc,
//		Store:  st,
//		Auth:   auth.New(cfg.Auth),
//		Log:    log,
//	})
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
