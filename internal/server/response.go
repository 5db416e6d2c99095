// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/jeranaias/neurochat/internal/auth"
	"github.com/jeranaias/neurochat/internal/chat"
	"github.com/jeranaias/neurochat/internal/store"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

// messageBody acknowledges a mutation.
type messageBody struct {
	Message string `json:"message"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// decodeJSON reads a size-capped JSON body into v and answers 400 or 413
// itself when that fails.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body exceeds maximum size of %d bytes", MaxRequestBodySize))
			return false
		}
		writeError(w, http.StatusBadRequest, MsgInvalidRequest)
		return false
	}
	return true
}

// userFrom returns the authenticated user. AuthMiddleware guarantees it
// for every route behind it.
func userFrom(r *http.Request) string {
	id, _ := auth.UserFrom(r.Context())
	return id
}

// statusFor maps a service error to the status and message a client sees.
func statusFor(err error) (int, string) {
	var ve *chat.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Message
	case errors.Is(err, auth.ErrAuthRequired), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, MsgAuthRequired
	case errors.Is(err, chat.ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, MsgSessionNotFound
	default:
		return http.StatusInternalServerError, MsgInternal
	}
}

// fail writes the response for err. Server-side failures are logged with
// their detail; the client only sees a generic message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error(err, "REQUEST_FAILED", "op", op, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()))
	}
	writeError(w, status, msg)
}
