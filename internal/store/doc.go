// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store persists chat sessions, messages and usage logs.
//
// Two backends implement Store: SQLite (modernc.org/sqlite, the default)
// and Postgres (pgx). Open picks one from config.StoreConfig.
//
// Every read and write is scoped by user id. A session that belongs to a
// different user is reported as ErrNotFound, exactly as if it did not
// exist. Deleting a session removes its messages and usage logs.
package store
