// Copyright (c) 2025 Meridian GRC
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/meridian-grc/meridian/internal/domain"
	"github.com/meridian-grc/meridian/internal/security"
)

// reauthRiskThreshold is the session risk score at or above which a
// protected request is refused until the user re-authenticates.
const reauthRiskThreshold = 70

// =============================================================================
// CONTEXT KEYS
// =============================================================================

type ctxKey int

const (
	ctxSession ctxKey = iota
	ctxAccount
)

// SessionFromContext returns the validated session placed by RequireSession.
func SessionFromContext(ctx context.Context) *domain.UserSession {
	s, _ := ctx.Value(ctxSession).(*domain.UserSession)
	return s
}

// AccountFromContext returns the authenticated account placed by
// RequireSession.
func AccountFromContext(ctx context.Context) *domain.Account {
	a, _ := ctx.Value(ctxAccount).(*domain.Account)
	return a
}

// =============================================================================
// SESSION GATE
// =============================================================================

// RequireSession validates the bearer token on protected routes. Rejections
// carry one of the stable gate codes: AUTH_REQUIRED when no token was
// presented, SESSION_INVALID when the token resolves to no active session,
// REAUTH_REQUIRED when the session's risk score demands a fresh login.
func (s *Server) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			s.writeGateError(w, http.StatusUnauthorized, security.CodeAuthRequired, "authentication required")
			return
		}

		sess, err := s.sessions.Validate(r.Context(), token, clientIP(r))
		if err != nil {
			s.writeGateError(w, security.StatusFor(err), security.CodeSessionInvalid, "session is not valid")
			return
		}

		if sess.RiskScore >= reauthRiskThreshold {
			s.writeGateError(w, http.StatusUnauthorized, security.CodeReauthRequired, "re-authentication required for this session")
			return
		}

		account, err := s.store.AccountByID(r.Context(), sess.AccountID)
		if err != nil {
			s.writeGateError(w, http.StatusUnauthorized, security.CodeSessionInvalid, "session is not valid")
			return
		}

		ctx := context.WithValue(r.Context(), ctxSession, sess)
		ctx = context.WithValue(ctx, ctxAccount, account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin refuses non-administrator accounts. Must run after
// RequireSession.
func (s *Server) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account := AccountFromContext(r.Context())
		if account == nil || !account.IsAdmin {
			s.writeGateError(w, http.StatusForbidden, security.CodeAdminRequired, "administrator access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// =============================================================================
// RATE LIMITING
// =============================================================================

// ipLimiter tracks a token-bucket limiter per source IP. Idle entries are
// pruned so the map does not grow with the address space.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiterEntry
	rate     rate.Limit
	burst    int
}

type ipLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const limiterIdleEviction = 10 * time.Minute

func newIPLimiter(perSecond float64, burst int) *ipLimiter {
	l := &ipLimiter{
		limiters: make(map[string]*ipLimiterEntry),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
	go l.janitor()
	return l
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.limiters[ip]
	if !ok {
		entry = &ipLimiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

func (l *ipLimiter) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		l.mu.Lock()
		for ip, entry := range l.limiters {
			if time.Since(entry.lastSeen) > limiterIdleEviction {
				delete(l.limiters, ip)
			}
		}
		l.mu.Unlock()
	}
}

// RateLimit enforces the per-IP request budget. Exceeding it yields 429
// with RATE_LIMIT_EXCEEDED.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientIP(r)) {
			s.writeGateError(w, http.StatusTooManyRequests, security.CodeRateLimitExceeded, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// OBSERVABILITY
// =============================================================================

// RequestLogger logs each request with method, path, status, and duration.
func (s *Server) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.String("ip", clientIP(r)),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// SecurityHeaders sets the standard hardening headers on every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Cache-Control", "no-store")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
