// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders a stored session and its messages as a
// standalone document.
//
// # Key Types
//
//   - Conversation: a session with its messages
//   - Exporter: one output format
//   - Options: export configuration options
//
// # Supported Formats
//
//   - Markdown: frontmatter, one heading per message, per-answer stats
//   - JSON: the session document plus export metadata
//   - HTML: a single page with embedded CSS, answers tinted by provider
//
// # Usage
//
//	exp, err := export.New("markdown", export.DefaultOptions())
//	data, err := exp.Export(&export.Conversation{Session: s, Messages: msgs})
//
// Write a file named after the session title:
//
//	path, err := export.ExportToFile(conv, exp, opts)
package export
