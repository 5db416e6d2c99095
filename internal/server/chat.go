// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jeranaias/neurochat/internal/chat"
	"github.com/jeranaias/neurochat/internal/store"
)

// ============================================================================
// REQUEST AND FRAME TYPES
// ============================================================================

// chatRequest is the body of POST /chat.
type chatRequest struct {
	SessionID string `json:"sessionId"`
	Model     string `json:"model"`
	Message   string `json:"message"`
	Mode      string `json:"mode,omitempty"`
}

// compareRequest is the body of POST /chat/compare and the first
// websocket message of /chat/compare/ws.
type compareRequest struct {
	SessionID string   `json:"sessionId"`
	Models    []string `json:"models"`
	Message   string   `json:"message"`
}

func (c compareRequest) toService(userID string) chat.CompareRequest {
	return chat.CompareRequest{UserID: userID, SessionID: c.SessionID, Models: c.Models, Message: c.Message}
}

// contentFrame carries one fragment of a single-model stream.
type contentFrame struct {
	Content string `json:"content"`
}

// compareFrame is one event of a streaming comparison.
type compareFrame struct {
	Index   int                    `json:"index"`
	Model   string                 `json:"model"`
	Content string                 `json:"content,omitempty"`
	Done    bool                   `json:"done,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Result  *chat.ComparisonResult `json:"result,omitempty"`
}

// startFrame opens a websocket comparison; HTTP clients get the same
// data from the X-Session-Id header.
type startFrame struct {
	SessionID string   `json:"sessionId"`
	Models    []string `json:"models"`
}

func frameFor(ev chat.CompareEvent) compareFrame {
	f := compareFrame{Index: ev.Index, Model: ev.Model, Content: ev.Fragment, Done: ev.Done, Result: ev.Result}
	if ev.Err != nil && ev.Result != nil {
		f.Error = ev.Result.ErrorMessage
	}
	return f
}

// ============================================================================
// SINGLE-MODEL STREAM
// ============================================================================

// handleChat handles POST /chat. Fragments are relayed as they arrive; a
// failure after the stream opened becomes an error frame before [DONE].
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	cs, err := s.chat.StartChat(r.Context(), chat.ChatRequest{
		UserID:    userFrom(r),
		SessionID: body.SessionID,
		Model:     body.Model,
		Message:   body.Message,
		Mode:      store.Mode(body.Mode),
	})
	if err != nil {
		s.fail(w, r, "chat", err)
		return
	}

	w.Header().Set("X-Session-Id", cs.SessionID)
	sw := startSSE(w, "text/plain; charset=utf-8")

	_, err = cs.Relay(func(fragment string) error {
		return sw.data(contentFrame{Content: fragment})
	})
	if err != nil && sw.err == nil {
		var pe *chat.PersistenceError
		if !errors.As(err, &pe) {
			_ = sw.data(errorBody{Error: chat.PublicError(err, s.chat.Limits().CallTimeout)})
		}
	}
	_ = sw.done()
}

// ============================================================================
// COMPARISON
// ============================================================================

// handleCompare handles POST /chat/compare.
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var body compareRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	resp, err := s.chat.Compare(r.Context(), body.toService(userFrom(r)))
	if err != nil {
		s.fail(w, r, "compare", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCompareStream handles POST /chat/compare/stream.
func (s *Server) handleCompareStream(w http.ResponseWriter, r *http.Request) {
	var body compareRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	stream, err := s.chat.CompareStream(r.Context(), body.toService(userFrom(r)))
	if err != nil {
		s.fail(w, r, "compare_stream", err)
		return
	}

	w.Header().Set("X-Session-Id", stream.SessionID)
	sw := startSSE(w, "text/event-stream")
	for ev := range stream.Events {
		// Keep draining after a write error so branches finish recording.
		_ = sw.data(frameFor(ev))
	}
	_ = sw.done()
}

// ============================================================================
// COMPARISON OVER WEBSOCKET
// ============================================================================

const (
	wsWriteWait    = 10 * time.Second
	wsRequestWait  = 30 * time.Second
	wsMaxMessage   = MaxRequestBodySize
	wsCloseTimeout = time.Second
)

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// Non-browser clients send no Origin.
			return origin == "" || s.cors.isOriginAllowed(origin)
		},
	}
}

// handleCompareWS handles GET /chat/compare/ws. The client sends one
// compare request as a text message; the server answers with a start
// frame, the comparison events and a normal close.
func (s *Server) handleCompareWS(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		s.log.V(1).Info("WS_UPGRADE_FAILED", "error", err.Error())
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxMessage)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	send := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(v)
	}
	closeWith := func(code int, text string) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, text), time.Now().Add(wsCloseTimeout))
	}

	var body compareRequest
	_ = conn.SetReadDeadline(time.Now().Add(wsRequestWait))
	if err := conn.ReadJSON(&body); err != nil {
		_ = send(errorBody{Error: MsgInvalidRequest})
		closeWith(websocket.CloseUnsupportedData, MsgInvalidRequest)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	stream, err := s.chat.CompareStream(ctx, body.toService(userID))
	if err != nil {
		status, msg := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.log.Error(err, "REQUEST_FAILED", "op", "compare_ws")
		}
		_ = send(errorBody{Error: msg})
		closeWith(websocket.ClosePolicyViolation, msg)
		return
	}

	// The client never sends again; reading only detects that it left.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	writeErr := send(startFrame{SessionID: stream.SessionID, Models: stream.Models})
	if writeErr != nil {
		cancel()
	}
	for ev := range stream.Events {
		if writeErr != nil {
			continue
		}
		if writeErr = send(frameFor(ev)); writeErr != nil {
			cancel()
		}
	}
	if writeErr != nil {
		s.log.V(1).Info("WS_CLIENT_GONE", "session", stream.SessionID, "error", writeErr.Error())
		return
	}
	closeWith(websocket.CloseNormalClosure, "")
}
