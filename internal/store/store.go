// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jeranaias/neurochat/internal/config"
)

// ErrNotFound is returned when a session does not exist or belongs to
// another user. The two cases are deliberately indistinguishable.
var ErrNotFound = errors.New("not found")

const (
	// DefaultListLimit is the session list size when none is given.
	DefaultListLimit = 10
	// DefaultRecentLimit is the recent message count in analytics.
	DefaultRecentLimit = 50
)

// =============================================================================
// TYPES
// =============================================================================

// Mode is the interaction mode of a session.
type Mode string

const (
	ModeSingle  Mode = "single"
	ModeCompare Mode = "compare"
)

// Valid reports whether m is single or compare.
func (m Mode) Valid() bool {
	return m == ModeSingle || m == ModeCompare
}

// Session is a persisted conversation.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Mode      Mode      `json:"mode"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionSummary is a session as listed, with its message count and the
// most recent message.
type SessionSummary struct {
	Session
	MessageCount int      `json:"messageCount"`
	LastMessage  *Message `json:"lastMessage,omitempty"`
}

// SessionUpdate holds the optional fields of a session update.
type SessionUpdate struct {
	Mode  *Mode
	Title *string
}

// Empty reports whether the update changes nothing.
func (u SessionUpdate) Empty() bool {
	return u.Mode == nil && u.Title == nil
}

// Message is one persisted chat turn. LatencyMs is zero for user turns.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Model     string    `json:"model,omitempty"`
	TokensIn  int       `json:"tokensIn"`
	TokensOut int       `json:"tokensOut"`
	LatencyMs int64     `json:"latencyMs,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// UsageLog is the token and cost accounting of one model call.
type UsageLog struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	UserID    string          `json:"userId"`
	Provider  string          `json:"provider"`
	Model     string          `json:"model"`
	TokensIn  int             `json:"tokensIn"`
	TokensOut int             `json:"tokensOut"`
	Cost      decimal.Decimal `json:"cost"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Analytics summarizes a user's activity.
type Analytics struct {
	UserStats      UserStats       `json:"userStats"`
	ModelUsage     []ModelUsage    `json:"modelUsage"`
	RecentMessages []RecentMessage `json:"recentMessages"`
	TimeRange      string          `json:"timeRange,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// UserStats aggregates over sessions created inside the time range.
type UserStats struct {
	TotalMessages  int             `json:"totalMessages"`
	TotalCost      decimal.Decimal `json:"totalCost"`
	ActiveSessions int             `json:"activeSessions"`
	AvgLatency     float64         `json:"avgLatency"`
}

// ModelUsage aggregates usage logs per model and provider.
type ModelUsage struct {
	Model    string          `json:"model"`
	Provider string          `json:"provider"`
	Tokens   int             `json:"tokens"`
	Cost     decimal.Decimal `json:"cost"`
	Count    int             `json:"count"`
}

// RecentMessage is a message with the title of its session.
type RecentMessage struct {
	Message
	SessionTitle string `json:"sessionTitle"`
}

// =============================================================================
// STORE CONTRACT
// =============================================================================

// Store persists sessions, messages and usage. Every user-facing call is
// scoped by userID; sessions owned by other users behave as ErrNotFound.
type Store interface {
	CreateSession(ctx context.Context, userID string, mode Mode, title string) (*Session, error)
	GetSession(ctx context.Context, userID, sessionID string) (*Session, error)
	ListSessions(ctx context.Context, userID string, limit int) ([]SessionSummary, error)
	UpdateSession(ctx context.Context, userID, sessionID string, u SessionUpdate) error
	DeleteSession(ctx context.Context, userID, sessionID string) error

	// AppendMessage fills m.ID and m.CreatedAt and bumps the session's
	// updated time.
	AppendMessage(ctx context.Context, userID string, m *Message) error
	// ListMessages returns a session's messages in creation order.
	ListMessages(ctx context.Context, userID, sessionID string) ([]Message, error)

	// LogUsage fills u.ID, u.UserID and u.CreatedAt.
	LogUsage(ctx context.Context, userID string, u *UsageLog) error

	// Analytics aggregates activity in sessions created at or after since,
	// plus the limit most recent messages regardless of age.
	Analytics(ctx context.Context, userID string, since time.Time, limit int) (*Analytics, error)

	// Purge deletes every session created before cutoff, with its
	// messages and usage. It is an operator action and is not user scoped.
	Purge(ctx context.Context, cutoff time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Open creates the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return OpenSQLite(cfg.Path)
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

func newID() string {
	return uuid.NewString()
}

// validSessionID rejects ids that cannot exist so that they are reported
// as not found without a database round trip.
func validSessionID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// usageRow is one usage log as read for aggregation.
type usageRow struct {
	Model     string
	Provider  string
	TokensIn  int
	TokensOut int
	Cost      decimal.Decimal
}

// aggregateUsage groups usage rows by model and provider, sorted by cost
// descending then model name. Sums are exact decimals.
func aggregateUsage(rows []usageRow) ([]ModelUsage, decimal.Decimal) {
	type key struct{ model, provider string }
	index := make(map[key]int)
	out := []ModelUsage{}
	total := decimal.Zero

	for _, r := range rows {
		k := key{r.Model, r.Provider}
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, ModelUsage{Model: r.Model, Provider: r.Provider, Cost: decimal.Zero})
		}
		out[i].Tokens += r.TokensIn + r.TokensOut
		out[i].Cost = out[i].Cost.Add(r.Cost)
		out[i].Count++
		total = total.Add(r.Cost)
	}

	sort.SliceStable(out, func(a, b int) bool {
		if c := out[a].Cost.Cmp(out[b].Cost); c != 0 {
			return c > 0
		}
		return out[a].Model < out[b].Model
	})
	return out, total
}
