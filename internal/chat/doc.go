// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the two conversation flows of NeuroChat.
//
// Single mode streams one model's answer to the caller fragment by
// fragment (StartChat and Relay, or StreamChat). Compare mode sends the
// same message to several models concurrently and returns one result per
// requested model, in request order, whether or not each call succeeded
// (Compare, or CompareStream for merged incremental output).
//
// Both flows resolve or create the session, record the user turn before
// calling any model, and record every assistant turn with its usage.
package chat
