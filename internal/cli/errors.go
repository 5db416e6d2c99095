// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error types, exit codes and error display for the CLI.
//
// Command handlers always return errors; Run displays them once and maps
// them to an exit code.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	// ExitUsageError covers bad flags, missing arguments and 400 responses.
	ExitUsageError   = 2
	ExitConfigError  = 3
	ExitAuthError    = 4
	ExitNetworkError = 5
	ExitNotFound     = 7
	ExitTimeout      = 8
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ValidationError is a problem with the user's input.
type ValidationError struct {
	Field   string
	Value   string
	Reason  string
	Example string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += "\nExample: " + e.Example
	}
	return msg
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, value, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// ErrMissingArgument reports a missing required argument with a usage line.
func ErrMissingArgument(argName, usage string) error {
	return &ValidationError{Field: argName, Reason: "required argument missing", Example: usage}
}

// ConfigError wraps a failure to load or save the config file.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// APIError is a non-2xx answer from the NeuroChat server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

// StreamError is a failure the server reported inside an open stream.
// Content delivered before it is still valid.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return e.Message }

// reportedError has already been shown to the user. Run only maps it to
// an exit code.
type reportedError struct{ err error }

func (e reportedError) Error() string { return e.err.Error() }
func (e reportedError) Unwrap() error { return e.err }

// errStreamTruncated means the connection closed before the [DONE] marker.
var errStreamTruncated = errors.New("stream ended unexpectedly")

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode maps an error to the process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return ExitUsageError
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ExitConfigError
	}
	var ae *APIError
	if errors.As(err, &ae) {
		switch {
		case ae.Status == http.StatusUnauthorized || ae.Status == http.StatusForbidden:
			return ExitAuthError
		case ae.Status == http.StatusNotFound:
			return ExitNotFound
		case ae.Status == http.StatusGatewayTimeout || ae.Status == http.StatusRequestTimeout:
			return ExitTimeout
		case ae.Status >= 400 && ae.Status < 500:
			return ExitUsageError
		}
		return ExitGeneralError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ExitTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return ExitTimeout
		}
		return ExitNetworkError
	}
	return ExitGeneralError
}

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError writes err to w, as a JSON response in JSON mode.
func DisplayError(w io.Writer, command string, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		_ = NewJSONErrorResponse(command, err).Write(w)
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
	if GetExitCode(err) == ExitNetworkError {
		fmt.Fprintln(w, DimStyle.Render("Is the server running? Start it with: neurochat serve"))
	}
}
