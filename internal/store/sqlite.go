// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	mode       TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, updated_at);

CREATE TABLE IF NOT EXISTS messages (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	model      TEXT NOT NULL DEFAULT '',
	tokens_in  INTEGER NOT NULL DEFAULT 0,
	tokens_out INTEGER NOT NULL DEFAULT 0,
	latency_ms INTEGER,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);

CREATE TABLE IF NOT EXISTS usage_logs (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	user_id    TEXT NOT NULL,
	provider   TEXT NOT NULL,
	model      TEXT NOT NULL,
	tokens_in  INTEGER NOT NULL DEFAULT 0,
	tokens_out INTEGER NOT NULL DEFAULT 0,
	cost       TEXT NOT NULL DEFAULT '0',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_session ON usage_logs(session_id);
`

// SQLite is the embedded store. Times are stored as unix milliseconds and
// costs as decimal strings.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path. The special
// path ":memory:" gives a private in-memory database.
func OpenSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers and keeps ":memory:" databases
	// alive across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func now() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }

// =============================================================================
// SESSIONS
// =============================================================================

// CreateSession inserts a new session.
func (s *SQLite) CreateSession(ctx context.Context, userID string, mode Mode, title string) (*Session, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("invalid mode %q", mode)
	}
	ts := now()
	sess := &Session{ID: newID(), UserID: userID, Mode: mode, Title: title, CreatedAt: ts, UpdatedAt: ts}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, mode, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, string(sess.Mode), sess.Title, toMillis(ts), toMillis(ts))
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// GetSession returns the session if userID owns it.
func (s *SQLite) GetSession(ctx context.Context, userID, sessionID string) (*Session, error) {
	if !validSessionID(sessionID) {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, mode, title, created_at, updated_at FROM sessions WHERE id = ? AND user_id = ?`,
		sessionID, userID)

	var sess Session
	var mode string
	var created, updated int64
	if err := row.Scan(&sess.ID, &sess.UserID, &mode, &sess.Title, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.Mode = Mode(mode)
	sess.CreatedAt = fromMillis(created)
	sess.UpdatedAt = fromMillis(updated)
	return &sess, nil
}

// ListSessions returns the user's sessions, most recently updated first.
func (s *SQLite) ListSessions(ctx context.Context, userID string, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.user_id, s.mode, s.title, s.created_at, s.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		FROM sessions s
		WHERE s.user_id = ?
		ORDER BY s.updated_at DESC, s.created_at DESC, s.id
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := []SessionSummary{}
	for rows.Next() {
		var sum SessionSummary
		var mode string
		var created, updated int64
		if err := rows.Scan(&sum.ID, &sum.UserID, &mode, &sum.Title, &created, &updated, &sum.MessageCount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sum.Mode = Mode(mode)
		sum.CreatedAt = fromMillis(created)
		sum.UpdatedAt = fromMillis(updated)
		out = append(out, sum)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	// Rows must be closed first: the pool holds one connection.
	for i := range out {
		if out[i].MessageCount == 0 {
			continue
		}
		last, err := s.lastMessage(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].LastMessage = last
	}
	return out, nil
}

func (s *SQLite) lastMessage(ctx context.Context, sessionID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, role, content, model, tokens_in, tokens_out, latency_ms, created_at
		FROM messages WHERE session_id = ? ORDER BY seq DESC LIMIT 1`, sessionID)
	m, err := scanSQLiteMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last message: %w", err)
	}
	return m, nil
}

// UpdateSession applies the non-nil fields of u.
func (s *SQLite) UpdateSession(ctx context.Context, userID, sessionID string, u SessionUpdate) error {
	if !validSessionID(sessionID) {
		return ErrNotFound
	}
	if u.Mode != nil && !u.Mode.Valid() {
		return fmt.Errorf("invalid mode %q", *u.Mode)
	}

	sets := []string{"updated_at = ?"}
	args := []any{toMillis(now())}
	if u.Mode != nil {
		sets = append(sets, "mode = ?")
		args = append(args, string(*u.Mode))
	}
	if u.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *u.Title)
	}
	args = append(args, sessionID, userID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET `+strings.Join(sets, ", ")+` WHERE id = ? AND user_id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return expectOne(res)
}

// DeleteSession removes the session with its messages and usage logs.
func (s *SQLite) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if !validSessionID(sessionID) {
		return ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ? AND user_id = ?`, sessionID, userID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// MESSAGES
// =============================================================================

// AppendMessage stores m in its session and bumps the session's updated
// time in one transaction.
func (s *SQLite) AppendMessage(ctx context.Context, userID string, m *Message) error {
	if !validSessionID(m.SessionID) {
		return ErrNotFound
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	ts := now()
	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ? AND user_id = ?`,
		toMillis(ts), m.SessionID, userID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if err := expectOne(res); err != nil {
		return err
	}

	m.ID = newID()
	m.CreatedAt = ts
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, model, tokens_in, tokens_out, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Role, m.Content, m.Model, m.TokensIn, m.TokensOut, nullLatency(m.LatencyMs), toMillis(ts))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return tx.Commit()
}

// ListMessages returns the session's messages in insertion order.
func (s *SQLite) ListMessages(ctx context.Context, userID, sessionID string) ([]Message, error) {
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, model, tokens_in, tokens_out, latency_ms, created_at
		FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		m, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteMessage(sc scanner) (*Message, error) {
	var m Message
	var latency sql.NullInt64
	var created int64
	if err := sc.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Model, &m.TokensIn, &m.TokensOut, &latency, &created); err != nil {
		return nil, err
	}
	m.LatencyMs = latency.Int64
	m.CreatedAt = fromMillis(created)
	return &m, nil
}

func nullLatency(ms int64) sql.NullInt64 {
	return sql.NullInt64{Int64: ms, Valid: ms > 0}
}

// =============================================================================
// USAGE & ANALYTICS
// =============================================================================

// LogUsage records one model call against a session userID owns.
func (s *SQLite) LogUsage(ctx context.Context, userID string, u *UsageLog) error {
	if _, err := s.GetSession(ctx, userID, u.SessionID); err != nil {
		return err
	}
	u.ID = newID()
	u.UserID = userID
	u.CreatedAt = now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_logs (id, session_id, user_id, provider, model, tokens_in, tokens_out, cost, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.SessionID, u.UserID, u.Provider, u.Model, u.TokensIn, u.TokensOut, u.Cost.String(), toMillis(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	return nil
}

// Analytics aggregates the user's activity since the given time.
func (s *SQLite) Analytics(ctx context.Context, userID string, since time.Time, limit int) (*Analytics, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	a := &Analytics{Timestamp: now()}
	cutoff := toMillis(since)

	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(m.id), COUNT(DISTINCT s.id), AVG(m.latency_ms)
		FROM sessions s LEFT JOIN messages m ON m.session_id = s.id
		WHERE s.user_id = ? AND s.created_at >= ?`, userID, cutoff).
		Scan(&a.UserStats.TotalMessages, &a.UserStats.ActiveSessions, &avg)
	if err != nil {
		return nil, fmt.Errorf("user stats: %w", err)
	}
	a.UserStats.AvgLatency = avg.Float64

	usage, err := s.usageRows(ctx, userID, cutoff)
	if err != nil {
		return nil, err
	}
	a.ModelUsage, a.UserStats.TotalCost = aggregateUsage(usage)

	recent, err := s.recentMessages(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	a.RecentMessages = recent
	return a, nil
}

func (s *SQLite) usageRows(ctx context.Context, userID string, cutoff int64) ([]usageRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.model, u.provider, u.tokens_in, u.tokens_out, u.cost
		FROM usage_logs u JOIN sessions s ON s.id = u.session_id
		WHERE s.user_id = ? AND s.created_at >= ?
		ORDER BY u.seq`, userID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("usage rows: %w", err)
	}
	defer rows.Close()

	var out []usageRow
	for rows.Next() {
		var r usageRow
		var cost string
		if err := rows.Scan(&r.Model, &r.Provider, &r.TokensIn, &r.TokensOut, &cost); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		r.Cost, err = decimal.NewFromString(cost)
		if err != nil {
			return nil, fmt.Errorf("parse cost %q: %w", cost, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) recentMessages(ctx context.Context, userID string, limit int) ([]RecentMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.session_id, m.role, m.content, m.model, m.tokens_in, m.tokens_out, m.latency_ms, m.created_at, s.title
		FROM messages m JOIN sessions s ON s.id = m.session_id
		WHERE s.user_id = ?
		ORDER BY m.seq DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	out := []RecentMessage{}
	for rows.Next() {
		var rm RecentMessage
		var latency sql.NullInt64
		var created int64
		if err := rows.Scan(&rm.ID, &rm.SessionID, &rm.Role, &rm.Content, &rm.Model, &rm.TokensIn, &rm.TokensOut, &latency, &created, &rm.SessionTitle); err != nil {
			return nil, fmt.Errorf("scan recent: %w", err)
		}
		rm.LatencyMs = latency.Int64
		rm.CreatedAt = fromMillis(created)
		out = append(out, rm)
	}
	return out, rows.Err()
}

// Purge deletes sessions created before cutoff.
func (s *SQLite) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	return res.RowsAffected()
}

// Ping checks the database connection.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLite)(nil)
