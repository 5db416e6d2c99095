// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the neurochat command line.
//
// Most commands are clients of a running server: ask, compare, chat,
// models, sessions, analytics and status talk to the HTTP API through
// Client. The administration commands work locally: serve starts the
// server, config edits the config file, token creates API tokens and
// purge deletes old sessions from the store. sessions export fetches a
// session over the API and writes it locally through package export.
//
// # Key Types
//
//   - Command: enumeration of the subcommands
//   - Args: global flags plus the command's own arguments
//   - ArgParser: flag and positional parsing for one command
//   - Client: HTTP and SSE client for the server API
//   - JSONResponse: the envelope written by every command under --json
//
// # Usage
//
//	os.Exit(cli.Run(ctx, os.Args[1:]))
//
// # Output
//
// Terminal output is styled with lipgloss and answers are rendered as
// markdown with glamour. When stdout is not a terminal, answers stream
// as plain text and comparisons are written as one markdown section per
// model. NO_COLOR and FORCE_COLOR are honored.
//
// # Exit Codes
//
// Errors map to exit codes by kind (see GetExitCode): 2 for usage
// errors, 3 for configuration, 4 for authentication, 5 when the server
// is unreachable, 7 for missing resources and 8 for timeouts.
package cli
