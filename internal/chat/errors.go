// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeranaias/neurochat/internal/provider"
)

// MsgMissingFields is the message of a request missing a required field.
const MsgMissingFields = "Missing required fields"

// ErrSessionNotFound is returned when the requested session does not exist
// or belongs to another user.
var ErrSessionNotFound = errors.New("session not found")

// ValidationError rejects a request before any side effect.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Message
}

func missing(field string) *ValidationError {
	return &ValidationError{Field: field, Message: MsgMissingFields}
}

// PersistenceError is a failed storage operation.
type PersistenceError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

// Unwrap returns the storage error.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// FailureContent is the content recorded for a model that produced no
// answer.
func FailureContent(model string) string {
	return "Failed to get response from " + model
}

// PublicError describes a provider failure in terms safe to show a user.
// Upstream detail stays in the logs.
func PublicError(err error, timeout time.Duration) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("timed out after %s", timeout)
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	case errors.Is(err, provider.ErrNotConfigured):
		return "provider not configured"
	case errors.Is(err, provider.ErrAuthFailed):
		return "provider authentication failed"
	case errors.Is(err, provider.ErrRateLimited):
		return "rate limited by provider"
	case errors.Is(err, provider.ErrModelNotFound):
		return "model not found"
	case errors.Is(err, provider.ErrInsufficientCredits):
		return "insufficient provider credits"
	case errors.Is(err, provider.ErrEmptyResponse):
		return "empty response from provider"
	default:
		return "upstream provider error"
	}
}
