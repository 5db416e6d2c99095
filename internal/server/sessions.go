// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jeranaias/neurochat/internal/chat"
	"github.com/jeranaias/neurochat/internal/registry"
	"github.com/jeranaias/neurochat/internal/store"
	"github.com/jeranaias/neurochat/internal/util"
)

// maxTitleRunes bounds user-supplied session titles.
const maxTitleRunes = 200

// timeRanges maps the analytics ?timeRange= values to their window.
var timeRanges = map[string]time.Duration{
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"90d": 90 * 24 * time.Hour,
}

// defaultTimeRange is used when ?timeRange= is absent.
const defaultTimeRange = "7d"

// ============================================================================
// MODELS
// ============================================================================

type modelsResponse struct {
	Models    []registry.ModelDescriptor `json:"models"`
	Providers []registry.ProviderInfo    `json:"providers"`
	Defaults  []string                   `json:"defaults"`
}

// handleModels handles GET /models[?id=|?provider=].
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("id"); id != "" {
		m, ok := registry.Lookup(id)
		if !ok {
			writeError(w, http.StatusNotFound, MsgModelNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]registry.ModelDescriptor{"model": m})
		return
	}

	models := registry.All()
	if p := r.URL.Query().Get("provider"); p != "" {
		models = append([]registry.ModelDescriptor{}, registry.ByProvider(p)...)
	}

	writeJSON(w, http.StatusOK, modelsResponse{
		Models:    models,
		Providers: registry.Providers(),
		Defaults:  registry.DefaultModels(),
	})
}

// ============================================================================
// SESSIONS
// ============================================================================

// sessionRequest is the body of POST and PUT /sessions.
type sessionRequest struct {
	Mode  *string `json:"mode"`
	Title *string `json:"title"`
}

// parseLimit reads ?limit=, falling back to def. Values above ceiling are
// clamped; non-numbers and values below 1 are rejected.
func parseLimit(r *http.Request, def, ceiling int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return min(n, ceiling), true
}

func cleanTitle(t string) string {
	return util.TruncateRunes(strings.TrimSpace(t), maxTitleRunes)
}

// handleListSessions handles GET /sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r, store.DefaultListLimit, MaxSessionListLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	sessions, err := s.store.ListSessions(r.Context(), userFrom(r), limit)
	if err != nil {
		s.fail(w, r, "list_sessions", err)
		return
	}
	if sessions == nil {
		sessions = []store.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// handleCreateSession handles POST /sessions.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body sessionRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Mode == nil || *body.Mode == "" {
		writeError(w, http.StatusBadRequest, chat.MsgMissingFields)
		return
	}
	mode := store.Mode(*body.Mode)
	if !mode.Valid() {
		writeError(w, http.StatusBadRequest, MsgInvalidMode)
		return
	}
	title := ""
	if body.Title != nil {
		title = cleanTitle(*body.Title)
	}

	sess, err := s.store.CreateSession(r.Context(), userFrom(r), mode, title)
	if err != nil {
		s.fail(w, r, "create_session", err)
		return
	}
	s.log.Info("SESSION_CREATED", "session", sess.ID, "mode", string(sess.Mode), "via", "api")
	writeJSON(w, http.StatusCreated, map[string]*store.Session{"session": sess})
}

// handleGetSession handles GET /sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	userID, id := userFrom(r), chi.URLParam(r, "id")

	sess, err := s.store.GetSession(r.Context(), userID, id)
	if err != nil {
		s.fail(w, r, "get_session", err)
		return
	}
	messages, err := s.store.ListMessages(r.Context(), userID, id)
	if err != nil {
		s.fail(w, r, "list_messages", err)
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess, "messages": messages})
}

// handleUpdateSession handles PUT /sessions/{id}.
func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var body sessionRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	var upd store.SessionUpdate
	if body.Mode != nil {
		mode := store.Mode(*body.Mode)
		if !mode.Valid() {
			writeError(w, http.StatusBadRequest, MsgInvalidMode)
			return
		}
		upd.Mode = &mode
	}
	if body.Title != nil {
		title := cleanTitle(*body.Title)
		upd.Title = &title
	}
	if upd.Empty() {
		writeError(w, http.StatusBadRequest, MsgNoFields)
		return
	}

	if err := s.store.UpdateSession(r.Context(), userFrom(r), chi.URLParam(r, "id"), upd); err != nil {
		s.fail(w, r, "update_session", err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Session updated successfully"})
}

// handleDeleteSession handles DELETE /sessions/{id}.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteSession(r.Context(), userFrom(r), id); err != nil {
		s.fail(w, r, "delete_session", err)
		return
	}
	s.log.Info("SESSION_DELETED", "session", id)
	writeJSON(w, http.StatusOK, messageBody{Message: "Session deleted successfully"})
}

// ============================================================================
// ANALYTICS
// ============================================================================

// handleAnalytics handles GET /analytics?timeRange=7d|30d|90d&limit=N.
func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	tr := r.URL.Query().Get("timeRange")
	if tr == "" {
		tr = defaultTimeRange
	}
	window, ok := timeRanges[tr]
	if !ok {
		writeError(w, http.StatusBadRequest, MsgInvalidRange)
		return
	}
	limit, ok := parseLimit(r, store.DefaultRecentLimit, MaxRecentLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	now := time.Now().UTC()
	a, err := s.store.Analytics(r.Context(), userFrom(r), now.Add(-window), limit)
	if err != nil {
		s.fail(w, r, "analytics", err)
		return
	}
	a.TimeRange = tr
	a.Timestamp = now
	if a.ModelUsage == nil {
		a.ModelUsage = []store.ModelUsage{}
	}
	if a.RecentMessages == nil {
		a.RecentMessages = []store.RecentMessage{}
	}
	writeJSON(w, http.StatusOK, a)
}

// ============================================================================
// HEALTH
// ============================================================================

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Store   string `json:"store"`
}

// handleHealth handles GET /health. It needs no authentication.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Version: s.version, Store: "ok"}
	status := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		s.log.Error(err, "HEALTH_STORE_UNAVAILABLE")
		resp.Status, resp.Store = "degraded", "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
