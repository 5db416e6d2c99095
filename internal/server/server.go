// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"

	"github.com/jeranaias/neurochat/internal/auth"
	"github.com/jeranaias/neurochat/internal/chat"
	"github.com/jeranaias/neurochat/internal/config"
	"github.com/jeranaias/neurochat/internal/store"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8787"

	// MaxRequestBodySize bounds request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxSessionListLimit caps ?limit= on /sessions.
	MaxSessionListLimit = 100

	// MaxRecentLimit caps ?limit= on /analytics.
	MaxRecentLimit = 500

	// healthTimeout bounds the store ping behind /health.
	healthTimeout = 2 * time.Second
)

// Client-facing error messages.
const (
	MsgAuthRequired    = "Authentication required"
	MsgSessionNotFound = "Session not found"
	MsgModelNotFound   = "Model not found"
	MsgInvalidRequest  = "Invalid request format"
	MsgInternal        = "Internal server error"
	MsgNoFields        = "No valid fields to update"
	MsgInvalidMode     = "Invalid mode. Must be 'single' or 'compare'"
	MsgInvalidRange    = "Invalid time range. Must be '7d', '30d' or '90d'"
)

// ============================================================================
// SERVER
// ============================================================================

// Options wires a Server to its collaborators.
type Options struct {
	Config  config.ServerConfig
	Chat    *chat.Service
	Store   store.Store
	Auth    *auth.Authenticator
	Log     logr.Logger
	Version string
}

// Server is the NeuroChat HTTP API.
type Server struct {
	cfg     config.ServerConfig
	chat    *chat.Service
	store   store.Store
	log     logr.Logger
	version string

	auth    atomic.Pointer[auth.Authenticator]
	limiter *RateLimiter
	cors    *CORSConfig
	handler http.Handler

	mu     sync.Mutex
	server *http.Server
}

// New creates a Server. Routes are built once; limits and credentials
// can later be swapped with Reload.
func New(opts Options) *Server {
	if opts.Config.Addr == "" {
		opts.Config.Addr = DefaultAddr
	}
	if opts.Auth == nil {
		opts.Auth = auth.New(config.Default().Auth)
	}

	s := &Server{
		cfg:     opts.Config,
		chat:    opts.Chat,
		store:   opts.Store,
		log:     opts.Log.WithName("server"),
		version: opts.Version,
		limiter: NewRateLimiter(opts.Config.RateLimitRPS, opts.Config.RateLimitBurst),
		cors:    CORSConfigFor(opts.Config.CORSOrigins),
	}
	s.auth.Store(opts.Auth)
	s.handler = s.routes()
	return s
}

// AuthenticateRequest resolves the user with the current authenticator.
func (s *Server) AuthenticateRequest(r *http.Request) (string, error) {
	return s.auth.Load().AuthenticateRequest(r)
}

// Reload applies the parts of cfg that can change without a restart:
// rate limits, users and chat limits.
func (s *Server) Reload(cfg *config.Config) {
	s.limiter.SetLimits(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	s.auth.Store(auth.New(cfg.Auth))
	s.chat.SetLimits(chat.LimitsFromConfig(cfg.Chat))
	s.log.Info("CONFIG_RELOADED",
		"rate_limit_rps", cfg.Server.RateLimitRPS,
		"rate_limit_burst", cfg.Server.RateLimitBurst,
		"users", len(cfg.Auth.Users),
		"call_timeout_secs", cfg.Chat.CallTimeoutSecs,
		"max_compare_models", cfg.Chat.MaxCompareModels)
}

// Handler returns the root HTTP handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		RecoveryMiddleware(s.log),
		LoggingMiddleware(s.log),
		SecurityHeadersMiddleware(),
		CORSMiddleware(s.cors),
		RateLimitMiddleware(s.limiter, s.log),
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	api := func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(s, s.log))

			r.Post("/chat", s.handleChat)
			r.Post("/chat/compare", s.handleCompare)
			r.Post("/chat/compare/stream", s.handleCompareStream)
			r.Get("/chat/compare/ws", s.handleCompareWS)

			r.Get("/models", s.handleModels)

			r.Get("/sessions", s.handleListSessions)
			r.Post("/sessions", s.handleCreateSession)
			r.Get("/sessions/{id}", s.handleGetSession)
			r.Put("/sessions/{id}", s.handleUpdateSession)
			r.Delete("/sessions/{id}", s.handleDeleteSession)

			r.Get("/analytics", s.handleAnalytics)
		})
	}

	if base := strings.TrimRight(s.cfg.BasePath, "/"); base != "" {
		r.Route(base, api)
	} else {
		api(r)
	}
	return r
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  seconds(s.cfg.ReadTimeoutSecs, 30),
		WriteTimeout: seconds(s.cfg.WriteTimeoutSecs, 120),
		IdleTimeout:  seconds(s.cfg.IdleTimeoutSecs, 120),
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.log.Info("SERVER_START", "addr", ln.Addr().String(), "base_path", s.cfg.BasePath, "version", s.version)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.log.Info("SERVER_SHUTDOWN")
	return srv.Shutdown(ctx)
}

func seconds(n, def int) time.Duration {
	if n <= 0 {
		n = def
	}
	return time.Duration(n) * time.Second
}
