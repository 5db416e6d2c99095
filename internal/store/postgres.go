// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Querier is the subset of *pgxpool.Pool used by Postgres. pgxmock pools
// satisfy it too.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	mode       TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, updated_at);

CREATE TABLE IF NOT EXISTS messages (
	seq        BIGSERIAL PRIMARY KEY,
	id         TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	model      TEXT NOT NULL DEFAULT '',
	tokens_in  INTEGER NOT NULL DEFAULT 0,
	tokens_out INTEGER NOT NULL DEFAULT 0,
	latency_ms BIGINT,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);

CREATE TABLE IF NOT EXISTS usage_logs (
	seq        BIGSERIAL PRIMARY KEY,
	id         TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	user_id    TEXT NOT NULL,
	provider   TEXT NOT NULL,
	model      TEXT NOT NULL,
	tokens_in  INTEGER NOT NULL DEFAULT 0,
	tokens_out INTEGER NOT NULL DEFAULT 0,
	cost       NUMERIC(20, 10) NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_session ON usage_logs(session_id);
`

// Postgres is the server-backed store.
type Postgres struct {
	db    Querier
	close func()
}

// OpenPostgres connects a pool to dsn and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	p := &Postgres{db: pool, close: pool.Close}
	if err := p.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgres wraps an existing querier. The caller keeps ownership of it.
func NewPostgres(db Querier) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the tables and indexes if they are missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// =============================================================================
// SESSIONS
// =============================================================================

// CreateSession inserts a new session.
func (p *Postgres) CreateSession(ctx context.Context, userID string, mode Mode, title string) (*Session, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("invalid mode %q", mode)
	}
	ts := now()
	sess := &Session{ID: newID(), UserID: userID, Mode: mode, Title: title, CreatedAt: ts, UpdatedAt: ts}

	_, err := p.db.Exec(ctx,
		`INSERT INTO sessions (id, user_id, mode, title, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		sess.ID, sess.UserID, string(sess.Mode), sess.Title, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// GetSession returns the session if userID owns it.
func (p *Postgres) GetSession(ctx context.Context, userID, sessionID string) (*Session, error) {
	if !validSessionID(sessionID) {
		return nil, ErrNotFound
	}
	var sess Session
	var mode string
	err := p.db.QueryRow(ctx,
		`SELECT id, user_id, mode, title, created_at, updated_at FROM sessions WHERE id = $1 AND user_id = $2`,
		sessionID, userID).
		Scan(&sess.ID, &sess.UserID, &mode, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.Mode = Mode(mode)
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.UpdatedAt = sess.UpdatedAt.UTC()
	return &sess, nil
}

// ListSessions returns the user's sessions, most recently updated first,
// each with its last message.
func (p *Postgres) ListSessions(ctx context.Context, userID string, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := p.db.Query(ctx, `
		SELECT s.id, s.user_id, s.mode, s.title, s.created_at, s.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id),
		       lm.id, lm.role, lm.content, lm.model, lm.tokens_in, lm.tokens_out, lm.latency_ms, lm.created_at
		FROM sessions s
		LEFT JOIN LATERAL (
			SELECT id, role, content, model, tokens_in, tokens_out, latency_ms, created_at
			FROM messages WHERE session_id = s.id ORDER BY seq DESC LIMIT 1
		) lm ON true
		WHERE s.user_id = $1
		ORDER BY s.updated_at DESC, s.created_at DESC, s.id
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := []SessionSummary{}
	for rows.Next() {
		var sum SessionSummary
		var mode string
		var count int64
		var lmID, lmRole, lmContent, lmModel *string
		var lmIn, lmOut *int
		var lmLatency *int64
		var lmCreated *time.Time
		if err := rows.Scan(&sum.ID, &sum.UserID, &mode, &sum.Title, &sum.CreatedAt, &sum.UpdatedAt, &count,
			&lmID, &lmRole, &lmContent, &lmModel, &lmIn, &lmOut, &lmLatency, &lmCreated); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sum.Mode = Mode(mode)
		sum.MessageCount = int(count)
		sum.CreatedAt = sum.CreatedAt.UTC()
		sum.UpdatedAt = sum.UpdatedAt.UTC()
		if lmID != nil {
			sum.LastMessage = &Message{
				ID:        *lmID,
				SessionID: sum.ID,
				Role:      deref(lmRole),
				Content:   deref(lmContent),
				Model:     deref(lmModel),
				TokensIn:  derefInt(lmIn),
				TokensOut: derefInt(lmOut),
				LatencyMs: derefInt64(lmLatency),
			}
			if lmCreated != nil {
				sum.LastMessage.CreatedAt = lmCreated.UTC()
			}
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// UpdateSession applies the non-nil fields of u.
func (p *Postgres) UpdateSession(ctx context.Context, userID, sessionID string, u SessionUpdate) error {
	if !validSessionID(sessionID) {
		return ErrNotFound
	}
	if u.Mode != nil && !u.Mode.Valid() {
		return fmt.Errorf("invalid mode %q", *u.Mode)
	}

	sets := []string{"updated_at = $1"}
	args := []any{now()}
	if u.Mode != nil {
		args = append(args, string(*u.Mode))
		sets = append(sets, fmt.Sprintf("mode = $%d", len(args)))
	}
	if u.Title != nil {
		args = append(args, *u.Title)
		sets = append(sets, fmt.Sprintf("title = $%d", len(args)))
	}
	args = append(args, sessionID, userID)
	query := fmt.Sprintf(`UPDATE sessions SET %s WHERE id = $%d AND user_id = $%d`,
		strings.Join(sets, ", "), len(args)-1, len(args))

	tag, err := p.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes the session; messages and usage cascade.
func (p *Postgres) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if !validSessionID(sessionID) {
		return ErrNotFound
	}
	tag, err := p.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1 AND user_id = $2`, sessionID, userID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// MESSAGES
// =============================================================================

// AppendMessage stores m and bumps the session's updated time atomically.
func (p *Postgres) AppendMessage(ctx context.Context, userID string, m *Message) error {
	if !validSessionID(m.SessionID) {
		return ErrNotFound
	}
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	ts := now()
	tag, err := tx.Exec(ctx, `UPDATE sessions SET updated_at = $1 WHERE id = $2 AND user_id = $3`, ts, m.SessionID, userID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	m.ID = newID()
	m.CreatedAt = ts
	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, session_id, role, content, model, tokens_in, tokens_out, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.SessionID, m.Role, m.Content, m.Model, m.TokensIn, m.TokensOut, latencyArg(m.LatencyMs), ts)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListMessages returns the session's messages in insertion order.
func (p *Postgres) ListMessages(ctx context.Context, userID, sessionID string) ([]Message, error) {
	if _, err := p.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	rows, err := p.db.Query(ctx, `
		SELECT id, session_id, role, content, model, tokens_in, tokens_out, COALESCE(latency_ms, 0), created_at
		FROM messages WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Model, &m.TokensIn, &m.TokensOut, &m.LatencyMs, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// =============================================================================
// USAGE & ANALYTICS
// =============================================================================

// LogUsage records one model call against a session userID owns.
func (p *Postgres) LogUsage(ctx context.Context, userID string, u *UsageLog) error {
	if _, err := p.GetSession(ctx, userID, u.SessionID); err != nil {
		return err
	}
	u.ID = newID()
	u.UserID = userID
	u.CreatedAt = now()
	_, err := p.db.Exec(ctx, `
		INSERT INTO usage_logs (id, session_id, user_id, provider, model, tokens_in, tokens_out, cost, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9)`,
		u.ID, u.SessionID, u.UserID, u.Provider, u.Model, u.TokensIn, u.TokensOut, u.Cost.String(), u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	return nil
}

// Analytics aggregates the user's activity since the given time.
func (p *Postgres) Analytics(ctx context.Context, userID string, since time.Time, limit int) (*Analytics, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	a := &Analytics{Timestamp: now()}

	var messages, sessions int64
	err := p.db.QueryRow(ctx, `
		SELECT COUNT(m.id), COUNT(DISTINCT s.id), COALESCE(AVG(m.latency_ms), 0)::float8
		FROM sessions s LEFT JOIN messages m ON m.session_id = s.id
		WHERE s.user_id = $1 AND s.created_at >= $2`, userID, since).
		Scan(&messages, &sessions, &a.UserStats.AvgLatency)
	if err != nil {
		return nil, fmt.Errorf("user stats: %w", err)
	}
	a.UserStats.TotalMessages = int(messages)
	a.UserStats.ActiveSessions = int(sessions)

	usage, err := p.usageRows(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	a.ModelUsage, a.UserStats.TotalCost = aggregateUsage(usage)

	recent, err := p.recentMessages(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	a.RecentMessages = recent
	return a, nil
}

func (p *Postgres) usageRows(ctx context.Context, userID string, since time.Time) ([]usageRow, error) {
	rows, err := p.db.Query(ctx, `
		SELECT u.model, u.provider, u.tokens_in, u.tokens_out, u.cost::text
		FROM usage_logs u JOIN sessions s ON s.id = u.session_id
		WHERE s.user_id = $1 AND s.created_at >= $2
		ORDER BY u.seq`, userID, since)
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

func (p *Postgres) recentMessages(ctx context.Context, userID string, limit int) ([]RecentMessage, error) {
	rows, err := p.db.Query(ctx, `
		SELECT m.id, m.session_id, m.role, m.content, m.model, m.tokens_in, m.tokens_out, COALESCE(m.latency_ms, 0), m.created_at, s.title
		FROM messages m JOIN sessions s ON s.id = m.session_id
		WHERE s.user_id = $1
		ORDER BY m.seq DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	out := []RecentMessage{}
	for rows.Next() {
		var rm RecentMessage
		if err := rows.Scan(&rm.ID, &rm.SessionID, &rm.Role, &rm.Content, &rm.Model, &rm.TokensIn, &rm.TokensOut, &rm.LatencyMs, &rm.CreatedAt, &rm.SessionTitle); err != nil {
			return nil, fmt.Errorf("scan recent: %w", err)
		}
		rm.CreatedAt = rm.CreatedAt.UTC()
		out = append(out, rm)
	}
	return out, rows.Err()
}

// Purge deletes sessions created before cutoff.
func (p *Postgres) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.db.Exec(ctx, `DELETE FROM sessions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping checks the connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

// Close releases the pool when Postgres opened it.
func (p *Postgres) Close() error {
	if p.close != nil {
		p.close()
	}
	return nil
}

func latencyArg(ms int64) *int64 {
	if ms <= 0 {
		return nil
	}
	return &ms
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

var _ Store = (*Postgres)(nil)
