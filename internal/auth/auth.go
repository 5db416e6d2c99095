// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth maps API bearer tokens to user ids.
//
// Tokens are never stored in clear; the config holds a bcrypt hash per
// user. Verified tokens are remembered under their SHA-256 digest so
// repeat requests skip the bcrypt comparison.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/jeranaias/neurochat/internal/config"
)

// =============================================================================
// ERRORS AND CONSTANTS
// =============================================================================

var (
	// ErrAuthRequired is returned when a request carries no usable token.
	ErrAuthRequired = errors.New("authentication required")

	// ErrInvalidToken is returned when a token matches no configured user.
	ErrInvalidToken = errors.New("invalid token")
)

const (
	// TokenPrefix marks generated tokens so they are easy to spot in logs.
	TokenPrefix = "nc_"

	// tokenBytes is the random payload length of a generated token.
	tokenBytes = 32

	// MinTokenLength rejects obviously truncated tokens before hashing.
	MinTokenLength = 16
)

// =============================================================================
// AUTHENTICATOR
// =============================================================================

type user struct {
	id   string
	hash []byte
}

// Authenticator verifies bearer tokens against configured users.
type Authenticator struct {
	disabled    bool
	defaultUser string
	users       []user

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]string
}

// New creates an Authenticator from config.
func New(cfg config.AuthConfig) *Authenticator {
	a := &Authenticator{
		disabled:    cfg.Disabled,
		defaultUser: cfg.DefaultUser,
		verified:    make(map[[sha256.Size]byte]string),
	}
	for _, u := range cfg.Users {
		a.users = append(a.users, user{id: u.ID, hash: []byte(u.TokenHash)})
	}
	return a
}

// Disabled reports whether every request maps to the default user.
func (a *Authenticator) Disabled() bool {
	return a.disabled
}

// Authenticate returns the user id owning token.
// With auth disabled the default user is returned regardless of token.
func (a *Authenticator) Authenticate(token string) (string, error) {
	if a.disabled {
		return a.defaultUser, nil
	}
	if token == "" {
		return "", ErrAuthRequired
	}
	if len(token) < MinTokenLength {
		return "", ErrInvalidToken
	}

	key := sha256.Sum256([]byte(token))
	a.mu.RLock()
	id, ok := a.verified[key]
	a.mu.RUnlock()
	if ok {
		return id, nil
	}

	for _, u := range a.users {
		if bcrypt.CompareHashAndPassword(u.hash, []byte(token)) == nil {
			a.mu.Lock()
			a.verified[key] = u.id
			a.mu.Unlock()
			return u.id, nil
		}
	}
	return "", ErrInvalidToken
}

// AuthenticateRequest extracts the bearer token from r and authenticates it.
func (a *Authenticator) AuthenticateRequest(r *http.Request) (string, error) {
	return a.Authenticate(BearerToken(r))
}

// BearerToken returns the token from an "Authorization: Bearer" header,
// or "" when the header is absent or uses another scheme.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// =============================================================================
// TOKEN HELPERS
// =============================================================================

// GenerateToken returns a new random bearer token.
func GenerateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return TokenPrefix + hex.EncodeToString(buf), nil
}

// HashToken returns the bcrypt hash stored in config for token.
func HashToken(token string) (string, error) {
	if len(token) < MinTokenLength {
		return "", fmt.Errorf("token must be at least %d characters", MinTokenLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash token: %w", err)
	}
	return string(hash), nil
}

// =============================================================================
// CONTEXT
// =============================================================================

type ctxKey struct{}

// WithUser returns a copy of ctx carrying userID.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserFrom returns the user id stored by WithUser.
func UserFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}
