// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the process logger.
//
// Every component takes a logr.Logger. Messages are upper-case event
// names (SERVER_START, COMPARE_BRANCH_FAILED) followed by key/value pairs,
// which stdr renders as a single line on stderr.
//
// Verbosity levels:
//   - error: Error calls only
//   - info:  V(0) lifecycle events (default)
//   - debug: V(1) per-request and per-provider-call events
//   - trace: V(2) per-fragment detail
package logging

import (
	"io"
	"log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

// Verbosity maps a level name to a logr V-level. Unknown names map to info.
func Verbosity(level string) int {
	switch level {
	case "debug":
		return 1
	case "trace":
		return 2
	default:
		return 0
	}
}

// New creates a logger writing to stderr.
func New(level, format string) logr.Logger {
	return NewWithWriter(os.Stderr, level, format)
}

// NewWithWriter creates a logger writing to w. format "plain" omits
// timestamps.
func NewWithWriter(w io.Writer, level, format string) logr.Logger {
	flags := log.LstdFlags
	if format == "plain" {
		flags = 0
	}
	std := log.New(w, "", flags)

	stdr.SetVerbosity(Verbosity(level))
	logger := stdr.NewWithOptions(std, stdr.Options{LogCaller: stdr.None})
	if level == "error" {
		return logger.WithSink(errorOnly{logger.GetSink()})
	}
	return logger
}

// errorOnly drops all Info calls.
type errorOnly struct {
	logr.LogSink
}

func (errorOnly) Enabled(int) bool { return false }

func (e errorOnly) WithValues(kv ...interface{}) logr.LogSink {
	return errorOnly{e.LogSink.WithValues(kv...)}
}

func (e errorOnly) WithName(name string) logr.LogSink {
	return errorOnly{e.LogSink.WithName(name)}
}
