// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"golang.org/x/time/rate"

	"github.com/jeranaias/neurochat/internal/auth"
)

// ============================================================================
// Auth Middleware
// ============================================================================

// UserResolver maps a request to the user making it.
type UserResolver interface {
	AuthenticateRequest(r *http.Request) (string, error)
}

// AuthMiddleware returns HTTP middleware that resolves the current user
// and stores it in the request context. Requests without a valid token
// get 401 before any handler runs.
func AuthMiddleware(resolver UserResolver, log logr.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := resolver.AuthenticateRequest(r)
			if err != nil {
				reason := "invalid_token"
				if errors.Is(err, auth.ErrAuthRequired) {
					reason = "missing_token"
				}
				log.Info("AUTH_DENIED", "ip", GetClientIP(r), "path", r.URL.Path, "reason", reason)
				writeError(w, http.StatusUnauthorized, MsgAuthRequired)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), userID)))
		})
	}
}

// ============================================================================
// CORS Configuration and Middleware
// ============================================================================

// CORSConfig contains CORS (Cross-Origin Resource Sharing) configuration.
type CORSConfig struct {
	// AllowedOrigins is a list of allowed origins for CORS requests.
	// Use "*" to allow all origins.
	AllowedOrigins []string

	// AllowedMethods is a list of allowed HTTP methods.
	AllowedMethods []string

	// AllowedHeaders is a list of allowed request headers.
	AllowedHeaders []string

	// ExposedHeaders are response headers readable by browser scripts.
	ExposedHeaders []string

	// MaxAge is the max age (in seconds) for preflight cache.
	MaxAge int
}

// DefaultCORSConfig returns a default CORS configuration allowing localhost origins.
func DefaultCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowedOrigins: []string{
			"http://localhost",
			"http://localhost:3000",
			"http://localhost:5173",
			"http://127.0.0.1",
			"http://127.0.0.1:3000",
			"http://127.0.0.1:5173",
		},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		ExposedHeaders: []string{"X-Session-Id", "X-Request-Id"},
		MaxAge:         86400,
	}
}

// CORSConfigFor returns the default CORS config restricted to origins,
// or the localhost defaults when origins is empty.
func CORSConfigFor(origins []string) *CORSConfig {
	c := DefaultCORSConfig()
	if len(origins) > 0 {
		c.AllowedOrigins = append([]string(nil), origins...)
	}
	return c
}

// isOriginAllowed checks if the origin is in the allowlist.
func (c *CORSConfig) isOriginAllowed(origin string) bool {
	if origin == "" {
		return false
	}

	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
		// Wildcard subdomain, e.g. "*.example.com"
		if strings.HasPrefix(allowed, "*.") {
			domain := strings.TrimPrefix(allowed, "*")
			if strings.HasSuffix(origin, domain) {
				return true
			}
		}
	}
	return false
}

// CORSMiddleware returns HTTP middleware that handles CORS headers and
// answers preflight OPTIONS requests.
func CORSMiddleware(config *CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if config.isOriginAllowed(origin) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", strings.Join(config.AllowedMethods, ", "))
				h.Set("Access-Control-Allow-Headers", strings.Join(config.AllowedHeaders, ", "))
				h.Set("Access-Control-Expose-Headers", strings.Join(config.ExposedHeaders, ", "))
				h.Set("Access-Control-Max-Age", strconv.Itoa(config.MaxAge))
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Rate Limiter
// ============================================================================

// limiterIdleTTL is how long an idle client's bucket is kept.
const limiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a token bucket per client IP. Limits can be changed
// while the server runs.
type RateLimiter struct {
	clients   map[string]*clientLimiter
	limit     rate.Limit
	burst     int
	lastSweep time.Time

	// mu protects every field above.
	mu sync.Mutex
}

// NewRateLimiter creates a RateLimiter allowing rps requests per second
// with the given burst. rps <= 0 disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	rl := &RateLimiter{clients: make(map[string]*clientLimiter), lastSweep: time.Now()}
	rl.SetLimits(rps, burst)
	return rl
}

// SetLimits changes the rate and burst for new and existing clients.
func (rl *RateLimiter) SetLimits(rps float64, burst int) {
	if burst < 1 {
		burst = 1
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.limit = rate.Limit(rps)
	rl.burst = burst
	for _, c := range rl.clients {
		c.limiter.SetLimit(rl.limit)
		c.limiter.SetBurst(burst)
	}
}

// Limits returns the current rate and burst.
func (rl *RateLimiter) Limits() (float64, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return float64(rl.limit), rl.burst
}

// Allow checks if a request from the given IP should be allowed.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.limit <= 0 {
		return true
	}

	now := time.Now()
	if now.Sub(rl.lastSweep) > limiterIdleTTL {
		rl.sweep(now)
	}

	c, ok := rl.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// sweep drops buckets not used within limiterIdleTTL. Caller holds mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for ip, c := range rl.clients {
		if now.Sub(c.lastSeen) > limiterIdleTTL {
			delete(rl.clients, ip)
		}
	}
	rl.lastSweep = now
}

// retryAfter is the whole number of seconds until one token refills.
func (rl *RateLimiter) retryAfter() int {
	rps, _ := rl.Limits()
	if rps <= 0 {
		return 1
	}
	return int(math.Max(1, math.Ceil(1/rps)))
}

// RateLimitMiddleware returns HTTP middleware that enforces rate limiting.
// Returns 429 Too Many Requests when the client's bucket is empty.
func RateLimitMiddleware(limiter *RateLimiter, log logr.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := GetClientIP(r)

			if !limiter.Allow(clientIP) {
				rps, burst := limiter.Limits()
				w.Header().Set("X-RateLimit-Limit", strconv.FormatFloat(rps, 'f', -1, 64))
				w.Header().Set("X-RateLimit-Burst", strconv.Itoa(burst))
				w.Header().Set("Retry-After", strconv.Itoa(limiter.retryAfter()))

				log.Info("RATE_LIMIT_EXCEEDED", "ip", clientIP, "rps", rps, "burst", burst)
				writeError(w, http.StatusTooManyRequests, "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Request Logging Middleware
// ============================================================================

// responseWriter wraps http.ResponseWriter to capture the status code.
// It passes Flush and Hijack through so streaming and websocket
// handlers work behind it.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
	bytes       int64
}

// newResponseWriter creates a wrapped response writer.
func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

// WriteHeader captures the status code before writing it.
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	return n, err
}

// Flush implements http.Flusher.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// LoggingMiddleware returns HTTP middleware that logs every request with
// its status, size and duration.
func LoggingMiddleware(log logr.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			log.Info("HTTP_REQUEST",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"bytes", wrapped.bytes,
				"duration_ms", time.Since(start).Milliseconds(),
				"ip", GetClientIP(r),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// ============================================================================
// Security Headers Middleware
// ============================================================================

// SecurityHeadersMiddleware returns HTTP middleware that adds security headers.
// Handlers may override Cache-Control.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Cache-Control", "no-store")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")

			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Recovery Middleware
// ============================================================================

// RecoveryMiddleware returns HTTP middleware that recovers from panics,
// logs the stack and answers 500.
func RecoveryMiddleware(log logr.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Error(fmt.Errorf("%v", rec), "PANIC_RECOVERED",
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, MsgInternal)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Middleware Chain Helper
// ============================================================================

// Chain composes multiple middleware functions into a single middleware.
// Middlewares are applied in the order provided.
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// ============================================================================
// IP Extraction Helper
// ============================================================================

// trustedProxies are the only peers allowed to set X-Forwarded-For and
// X-Real-IP. Anyone else could spoof them to dodge the rate limiter.
var trustedProxies = []string{
	"127.0.0.1/32",   // IPv4 localhost
	"::1/128",        // IPv6 localhost
	"10.0.0.0/8",     // RFC 1918
	"172.16.0.0/12",  // RFC 1918
	"192.168.0.0/16", // RFC 1918
	"fc00::/7",       // IPv6 ULA
}

var (
	parsedTrustedProxies []*net.IPNet
	trustedProxiesOnce   sync.Once
)

// parseTrustedProxies parses the trusted proxy CIDR ranges once.
func parseTrustedProxies() {
	trustedProxiesOnce.Do(func() {
		parsedTrustedProxies = make([]*net.IPNet, 0, len(trustedProxies))
		for _, cidr := range trustedProxies {
			if _, ipNet, err := net.ParseCIDR(cidr); err == nil {
				parsedTrustedProxies = append(parsedTrustedProxies, ipNet)
			}
		}
	})
}

// isTrustedProxy checks if the given IP address is in the trusted proxy list.
func isTrustedProxy(ipStr string) bool {
	parseTrustedProxies()

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, cidr := range parsedTrustedProxies {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// getRemoteIP extracts the IP address from r.RemoteAddr
// ("IP:port" or "[IPv6]:port").
func getRemoteIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// GetClientIP extracts the client IP address from an HTTP request.
//
// Forwarded headers are honoured only when the direct peer is a trusted
// proxy: X-Forwarded-For (first entry) then X-Real-IP, each validated as
// an IP. Otherwise the connection address is used.
func GetClientIP(r *http.Request) string {
	connIP := getRemoteIP(r.RemoteAddr)
	if !isTrustedProxy(connIP) {
		return connIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if clientIP := strings.TrimSpace(first); net.ParseIP(clientIP) != nil {
			return clientIP
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if net.ParseIP(xri) != nil {
			return xri
		}
	}

	return connIP
}
