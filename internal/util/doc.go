// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across neurochat.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis (session titles)
//   - TruncateWidth, PadWidth: terminal-width aware truncation and padding
//
// File Operations:
//   - AtomicWriteFile: Crash-safe file writing with fsync
//
// # Usage
//
//	title := util.TruncateRunes(firstMessage, 50)
//	cell := util.PadWidth(answer, 40)
//	err := util.AtomicWriteFile(path, data, 0600)
package util
