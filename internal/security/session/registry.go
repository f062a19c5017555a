// Copyright (c) 2025 Meridian GRC
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session implements the session registry: token issuance with
// contextual risk scoring, validation with sliding activity, revocation,
// and the concurrent-session cap.
package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/meridian-grc/meridian/internal/domain"
	"github.com/meridian-grc/meridian/internal/security"
	"github.com/meridian-grc/meridian/internal/security/audit"
	"github.com/meridian-grc/meridian/internal/security/crypto"
	"github.com/meridian-grc/meridian/internal/store"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// historyWindow is how far back the registry looks when judging whether
	// an IP or country is new for the account.
	historyWindow = 30 * 24 * time.Hour

	// trustedRiskCeiling marks sessions below this score as trusted.
	trustedRiskCeiling = 30

	// riskNewIP is added when the account has no recent session from the
	// source IP.
	riskNewIP = 20

	// riskNewCountry is added when the account has recent sessions but none
	// from the source country.
	riskNewCountry = 30

	// riskOffHours is added for logins between 22:00 and 06:00.
	riskOffHours = 10

	// riskPerFailure is added per failed login attempt against the account
	// in the trailing hour, up to riskFailureCap.
	riskPerFailure = 5
	riskFailureCap = 30
)

// Revocation reasons recorded on sessions that leave the active state.
const (
	ReasonLogout          = "logout"
	ReasonExpired         = "expired"
	ReasonEvicted         = "evicted"
	ReasonPasswordChanged = "password_changed"
	ReasonRevokedByOwner  = "revoked_by_owner"
	ReasonAdminRevoked    = "admin_revoked"
)

// =============================================================================
// REGISTRY
// =============================================================================

// Registry issues and validates sessions against the store.
type Registry struct {
	store  store.Store
	trail  *audit.Trail
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewRegistry wires the session registry.
func NewRegistry(st store.Store, trail *audit.Trail, clock clockwork.Clock, logger *zap.Logger) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: st, trail: trail, clock: clock, logger: logger}
}

// Context carries the request-side facts a new session is scored against.
type Context struct {
	IP        string
	UserAgent string
	Location  *domain.Location
}

// Create issues a new active session for the account, scoring it against
// the account's recent history and evicting the stalest sessions when the
// concurrent cap is exceeded. Returns the session with its bearer token
// populated; the token is not recoverable afterwards.
func (r *Registry) Create(ctx context.Context, accountID string, reqCtx Context) (*domain.UserSession, error) {
	policy := r.policy(ctx)
	now := r.clock.Now()

	token, err := crypto.SecureToken()
	if err != nil {
		return nil, err
	}

	risk, err := r.scoreSession(ctx, accountID, reqCtx, now)
	if err != nil {
		return nil, err
	}

	device, browser, os := parseUserAgent(reqCtx.UserAgent)
	session := &domain.UserSession{
		ID:           uuid.NewString(),
		Token:        token,
		AccountID:    accountID,
		Status:       domain.SessionActive,
		DeviceLabel:  device,
		Browser:      browser,
		OS:           os,
		IP:           reqCtx.IP,
		Location:     reqCtx.Location,
		IsTrusted:    risk < trustedRiskCeiling,
		RiskScore:    risk,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(time.Duration(policy.SessionTimeoutMinutes) * time.Minute),
	}

	if err := r.evictOverCap(ctx, accountID, policy.MaxConcurrentSessions); err != nil {
		return nil, err
	}
	if err := r.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	r.logger.Info("session created",
		zap.String("account_id", accountID),
		zap.String("session_id", session.ID),
		zap.Int("risk_score", risk),
		zap.Bool("trusted", session.IsTrusted))
	return session, nil
}

// Validate resolves a bearer token to its session. Expired sessions are
// revoked on sight; a mid-session IP change raises a suspicious-activity
// event but does not invalidate the session. Valid sessions get their
// activity timestamp refreshed.
func (r *Registry) Validate(ctx context.Context, token, currentIP string) (*domain.UserSession, error) {
	session, err := r.store.SessionByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, security.NewSessionError(security.CodeSessionInvalid, "session not found")
		}
		return nil, err
	}

	if session.Status != domain.SessionActive {
		return nil, security.NewSessionError(security.CodeSessionInvalid, "session is no longer active")
	}

	now := r.clock.Now()
	if session.IsExpired(now) {
		if err := r.store.RevokeSession(ctx, token, ReasonExpired); err != nil {
			r.logger.Error("failed to mark session expired", zap.Error(err))
		}
		return nil, security.NewSessionError(security.CodeSessionInvalid, "session has expired")
	}

	if currentIP != "" && session.IP != "" && currentIP != session.IP {
		r.trail.Log(ctx, &audit.Entry{
			AccountID:   session.AccountID,
			Type:        domain.EventSuspiciousActivity,
			Description: "session IP address changed mid-session",
			IP:          currentIP,
			Success:     false,
		})
	}

	if err := r.store.TouchSessionActivity(ctx, token, now); err != nil {
		r.logger.Error("failed to touch session activity", zap.Error(err))
	}
	session.LastActivity = now
	return session, nil
}

// eventForReason maps a revocation reason to its audit event type. Owner-
// initiated endings are logouts; everything else is a revocation.
func eventForReason(reason string) domain.EventType {
	switch reason {
	case ReasonLogout, ReasonRevokedByOwner:
		return domain.EventLogout
	default:
		return domain.EventSessionRevoked
	}
}

// Revoke ends one session. Unknown tokens are not an error; revocation is
// idempotent from the caller's view.
func (r *Registry) Revoke(ctx context.Context, token, reason string) error {
	session, err := r.store.SessionByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if session.Status != domain.SessionActive {
		return nil
	}
	if err := r.store.RevokeSession(ctx, token, reason); err != nil {
		return err
	}
	r.trail.Log(ctx, &audit.Entry{
		AccountID:   session.AccountID,
		Type:        eventForReason(reason),
		Description: "session ended: " + reason,
		IP:          session.IP,
		Success:     true,
	})
	return nil
}

// RevokeAllExcept ends every active session for the account other than the
// one holding keepToken. Used after password changes so a stolen session
// does not outlive the credential it was minted under.
func (r *Registry) RevokeAllExcept(ctx context.Context, accountID, keepToken, reason string) (int, error) {
	sessions, err := r.store.Sessions(ctx, accountID, store.SessionFilter{Status: domain.SessionActive})
	if err != nil {
		return 0, err
	}
	revoked := 0
	for _, s := range sessions {
		if s.Token == keepToken {
			continue
		}
		if err := r.store.RevokeSession(ctx, s.Token, reason); err != nil {
			return revoked, err
		}
		revoked++
	}
	if revoked > 0 {
		r.trail.Log(ctx, &audit.Entry{
			AccountID:   accountID,
			Type:        eventForReason(reason),
			Description: "revoked all other sessions: " + reason,
			Success:     true,
		})
	}
	return revoked, nil
}

// List returns the account's active sessions, newest first, with bearer
// tokens blanked.
func (r *Registry) List(ctx context.Context, accountID string) ([]domain.UserSession, error) {
	sessions, err := r.store.Sessions(ctx, accountID, store.SessionFilter{Status: domain.SessionActive})
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i].Token = ""
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// CleanupExpired hard-deletes sessions whose expiry has passed. Returns
// the number removed.
func (r *Registry) CleanupExpired(ctx context.Context) (int64, error) {
	return r.store.DeleteExpiredSessions(ctx, r.clock.Now())
}

// =============================================================================
// RISK SCORING
// =============================================================================

// scoreSession computes the session risk score from the account's recent
// history, clamped to [0, 100].
func (r *Registry) scoreSession(ctx context.Context, accountID string, reqCtx Context, now time.Time) (int, error) {
	score := 0
	history, err := r.store.Sessions(ctx, accountID, store.SessionFilter{Since: now.Add(-historyWindow)})
	if err != nil {
		return 0, err
	}

	if reqCtx.IP != "" {
		knownIP := false
		for _, s := range history {
			if s.IP == reqCtx.IP {
				knownIP = true
				break
			}
		}
		if !knownIP {
			score += riskNewIP
		}
	}

	if reqCtx.Location != nil && reqCtx.Location.Country != "" && len(history) > 0 {
		knownCountry := false
		for _, s := range history {
			if s.Location != nil && s.Location.Country == reqCtx.Location.Country {
				knownCountry = true
				break
			}
		}
		if !knownCountry {
			score += riskNewCountry
		}
	}

	if hour := now.Hour(); hour < 6 || hour >= 22 {
		score += riskOffHours
	}

	attempts, err := r.store.FailedLoginAttempts(ctx, store.FailedAttemptFilter{
		AccountID: accountID,
		Since:     now.Add(-time.Hour),
	})
	if err != nil {
		return 0, err
	}
	failurePenalty := len(attempts) * riskPerFailure
	if failurePenalty > riskFailureCap {
		failurePenalty = riskFailureCap
	}
	score += failurePenalty

	return domain.ClampRisk(score), nil
}

// evictOverCap revokes the stalest active sessions so that after one more
// session is created the account sits at or below the cap. Staleness is
// last activity, oldest first.
func (r *Registry) evictOverCap(ctx context.Context, accountID string, limit int) error {
	active, err := r.store.Sessions(ctx, accountID, store.SessionFilter{Status: domain.SessionActive})
	if err != nil {
		return err
	}
	if len(active) < limit {
		return nil
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].LastActivity.Before(active[j].LastActivity)
	})
	excess := len(active) - limit + 1
	for _, s := range active[:excess] {
		if err := r.store.RevokeSession(ctx, s.Token, ReasonEvicted); err != nil {
			return err
		}
		r.logger.Info("session evicted over concurrency cap",
			zap.String("account_id", accountID),
			zap.String("session_id", s.ID))
	}
	return nil
}

// policy returns the active security policy, falling back to defaults.
func (r *Registry) policy(ctx context.Context) *domain.SecurityPolicy {
	policy, err := r.store.SecurityPolicy(ctx)
	if err != nil {
		return domain.DefaultSecurityPolicy()
	}
	return policy
}

// =============================================================================
// USER AGENT
// =============================================================================

// parseUserAgent derives coarse device, browser, and OS labels from a raw
// User-Agent header. Best-effort substring matching; unknowns come back as
// "Unknown".
func parseUserAgent(ua string) (device, browser, os string) {
	device, browser, os = "Unknown", "Unknown", "Unknown"
	if ua == "" {
		return
	}
	lower := strings.ToLower(ua)

	switch {
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet"):
		device = "Tablet"
	case strings.Contains(lower, "mobile") || strings.Contains(lower, "iphone") || strings.Contains(lower, "android"):
		device = "Mobile"
	default:
		device = "Desktop"
	}

	switch {
	case strings.Contains(lower, "edg/"):
		browser = "Edge"
	case strings.Contains(lower, "firefox"):
		browser = "Firefox"
	case strings.Contains(lower, "chrome"):
		browser = "Chrome"
	case strings.Contains(lower, "safari"):
		browser = "Safari"
	case strings.Contains(lower, "curl"):
		browser = "curl"
	}

	switch {
	case strings.Contains(lower, "windows"):
		os = "Windows"
	case strings.Contains(lower, "android"):
		os = "Android"
	case strings.Contains(lower, "iphone") || strings.Contains(lower, "ipad") || strings.Contains(lower, "ios"):
		os = "iOS"
	case strings.Contains(lower, "mac os") || strings.Contains(lower, "macintosh"):
		os = "macOS"
	case strings.Contains(lower, "linux"):
		os = "Linux"
	}
	return
}
