// Copyright (c) 2025 Meridian GRC
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package access orchestrates the authentication pipeline: lockout gate,
// CAPTCHA advisory, credential and password-age checks, the MFA gate, and
// session issuance. It is the only package that sequences the others.
package access

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/meridian-grc/meridian/internal/domain"
	"github.com/meridian-grc/meridian/internal/security"
	"github.com/meridian-grc/meridian/internal/security/audit"
	"github.com/meridian-grc/meridian/internal/security/mfa"
	"github.com/meridian-grc/meridian/internal/security/password"
	"github.com/meridian-grc/meridian/internal/security/session"
	"github.com/meridian-grc/meridian/internal/store"
)

// attemptRetention bounds how long failed login attempts are kept before
// maintenance purges them.
const attemptRetention = 30 * 24 * time.Hour

// captchaWindow is the trailing interval over which per-IP failures count
// toward the CAPTCHA advisory. Fixed at one hour, independent of the
// lockout window.
const captchaWindow = time.Hour

// genericCredentialError is returned for both unknown accounts and wrong
// passwords so the response does not reveal which emails have accounts.
const genericCredentialError = "invalid email or password"

// =============================================================================
// GUARD
// =============================================================================

// Guard is the authentication orchestrator.
type Guard struct {
	store    store.Store
	resets   *password.Service
	vault    *mfa.Vault
	sessions *session.Registry
	trail    *audit.Trail
	clock    clockwork.Clock
	logger   *zap.Logger
}

// NewGuard wires the orchestrator over its collaborators.
func NewGuard(st store.Store, resets *password.Service, vault *mfa.Vault, sessions *session.Registry, trail *audit.Trail, clock clockwork.Clock, logger *zap.Logger) *Guard {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		store:    st,
		resets:   resets,
		vault:    vault,
		sessions: sessions,
		trail:    trail,
		clock:    clock,
		logger:   logger,
	}
}

// Credentials is one authentication attempt as submitted.
type Credentials struct {
	Email     string
	Password  string
	MFACode   string
	IP        string
	UserAgent string
	Location  *domain.Location
}

// =============================================================================
// AUTHENTICATION PIPELINE
// =============================================================================

// Authenticate runs the full pipeline. Rejections come back in the result
// with Success false and a stable code; the error return is reserved for
// infrastructure failures.
func (g *Guard) Authenticate(ctx context.Context, creds Credentials) (*security.AuthResult, error) {
	policy := g.policy(ctx)
	email := domain.NormalizeEmail(creds.Email)

	// Lockout gate. A status-check failure fails open: availability of
	// login beats a stale lockout signal.
	lock, err := g.lockStatus(ctx, email, creds.IP, policy)
	if err != nil {
		g.logger.Error("lockout check failed, proceeding", zap.Error(err))
		lock = &LockStatus{}
	}
	if lock.IsLocked {
		g.audit(ctx, lock.AccountID, domain.EventLoginFailed, "login rejected: account locked", creds, false)
		return &security.AuthResult{
			Success:           false,
			Error:             "account temporarily locked due to repeated failures",
			Code:              security.CodeAccountLocked,
			RetryAfterMinutes: lock.RetryAfterMinutes,
			RequiresCaptcha:   lock.CaptchaRequired,
		}, nil
	}

	// CAPTCHA is advisory: the flag rides along on rejections so the client
	// can render the challenge, but nothing here enforces it.
	captcha := lock.CaptchaRequired

	account, err := g.store.AccountByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		g.recordFailure(ctx, "", email, creds, domain.FailureUnknownAccount, policy)
		return g.credentialReject(captcha), nil
	}

	if !password.Verify(creds.Password, account.PasswordHash) {
		g.recordFailure(ctx, account.ID, email, creds, domain.FailureInvalidPassword, policy)
		return g.credentialReject(captcha), nil
	}

	// Password-age gate.
	if policy.PasswordExpirationDays > 0 {
		age := g.clock.Now().Sub(account.UpdatedAt)
		if age > time.Duration(policy.PasswordExpirationDays)*24*time.Hour {
			g.recordFailure(ctx, account.ID, email, creds, domain.FailurePasswordExpired, policy)
			return &security.AuthResult{
				Success: false,
				Error:   "password has expired and must be reset",
				Code:    security.CodePasswordExpired,
			}, nil
		}
	}

	// MFA gate.
	enabled, err := g.vault.Enabled(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	if !enabled && policy.MFARequired {
		// The global mandate blocks unenrolled accounts outright: no code
		// can verify without an enrollment, so the login cannot proceed.
		return &security.AuthResult{
			Success:     false,
			RequiresMFA: true,
			Error:       "multi-factor enrollment is required before signing in",
			Code:        security.CodeMFARequired,
		}, nil
	}
	if enabled {
		if creds.MFACode == "" {
			return &security.AuthResult{
				Success:     false,
				RequiresMFA: true,
				Error:       "multi-factor code required",
				Code:        security.CodeMFARequired,
			}, nil
		}
		verify, err := g.vault.Verify(ctx, account.ID, creds.MFACode)
		if err != nil {
			return nil, err
		}
		if !verify.IsValid {
			g.recordFailure(ctx, account.ID, email, creds, domain.FailureInvalidMFA, policy)
			return &security.AuthResult{
				Success:         false,
				RequiresMFA:     true,
				Error:           "invalid multi-factor code",
				Code:            security.CodeMFAInvalid,
				RequiresCaptcha: captcha,
			}, nil
		}
	}

	sess, err := g.sessions.Create(ctx, account.ID, session.Context{
		IP:        creds.IP,
		UserAgent: creds.UserAgent,
		Location:  creds.Location,
	})
	if err != nil {
		return nil, err
	}

	g.audit(ctx, account.ID, domain.EventLoginSuccess, "login succeeded", creds, true)
	g.logger.Info("authentication succeeded",
		zap.String("account_id", account.ID),
		zap.Int("session_risk", sess.RiskScore))
	return &security.AuthResult{
		Success:      true,
		User:         account.Safe(),
		SessionToken: sess.Token,
	}, nil
}

func (g *Guard) credentialReject(captcha bool) *security.AuthResult {
	return &security.AuthResult{
		Success:         false,
		Error:           genericCredentialError,
		Code:            security.CodeInvalidCredentials,
		RequiresCaptcha: captcha,
	}
}

// =============================================================================
// LOCKOUT
// =============================================================================

// LockStatus reports whether an account or source IP is inside a lockout
// window, and whether the CAPTCHA advisory threshold has been crossed.
type LockStatus struct {
	AccountID         string `json:"-"`
	IsLocked          bool   `json:"is_locked"`
	AccountAttempts   int    `json:"account_attempts"`
	IPAttempts        int    `json:"ip_attempts"`
	RetryAfterMinutes int    `json:"retry_after_minutes,omitempty"`
	CaptchaRequired   bool   `json:"captcha_required"`
}

// CheckAccountLockStatus reports the lockout state for an email and source
// IP. An account locks at the policy's attempt limit over the trailing
// lockout window; an IP locks at twice that limit across all accounts.
func (g *Guard) CheckAccountLockStatus(ctx context.Context, email, ip string) (*LockStatus, error) {
	return g.lockStatus(ctx, domain.NormalizeEmail(email), ip, g.policy(ctx))
}

func (g *Guard) lockStatus(ctx context.Context, email, ip string, policy *domain.SecurityPolicy) (*LockStatus, error) {
	status := &LockStatus{}
	window := time.Duration(policy.LockoutDurationMinutes) * time.Minute
	since := g.clock.Now().Add(-window)

	var accountAttempts []domain.FailedLoginAttempt
	if email != "" {
		account, err := g.store.AccountByEmail(ctx, email)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if account != nil {
			status.AccountID = account.ID
			accountAttempts, err = g.store.FailedLoginAttempts(ctx, store.FailedAttemptFilter{
				AccountID: account.ID,
				Since:     since,
			})
			if err != nil {
				return nil, err
			}
		}
	}

	var ipAttempts []domain.FailedLoginAttempt
	if ip != "" {
		var err error
		ipAttempts, err = g.store.FailedLoginAttempts(ctx, store.FailedAttemptFilter{
			IP:    ip,
			Since: since,
		})
		if err != nil {
			return nil, err
		}
	}

	status.AccountAttempts = len(accountAttempts)
	status.IPAttempts = len(ipAttempts)

	// The CAPTCHA advisory counts per-IP failures over a fixed trailing
	// hour, not the lockout window, so a short lockout window cannot hide
	// an IP that has been hammering other accounts.
	if policy.CaptchaEnabled && policy.CaptchaAfterAttempts > 0 && ip != "" {
		recent, err := g.store.FailedLoginAttempts(ctx, store.FailedAttemptFilter{
			IP:    ip,
			Since: g.clock.Now().Add(-captchaWindow),
		})
		if err != nil {
			return nil, err
		}
		status.CaptchaRequired = len(recent) >= policy.CaptchaAfterAttempts
	}

	accountLocked := status.AccountAttempts >= policy.MaxLoginAttempts
	ipLocked := status.IPAttempts >= 2*policy.MaxLoginAttempts
	if !accountLocked && !ipLocked {
		return status, nil
	}

	status.IsLocked = true
	latest := time.Time{}
	for _, a := range accountAttempts {
		if accountLocked && a.CreatedAt.After(latest) {
			latest = a.CreatedAt
		}
	}
	for _, a := range ipAttempts {
		if ipLocked && a.CreatedAt.After(latest) {
			latest = a.CreatedAt
		}
	}
	remaining := window - g.clock.Now().Sub(latest)
	if remaining < 0 {
		remaining = 0
	}
	// Round up so the caller never retries a minute early.
	status.RetryAfterMinutes = int((remaining + time.Minute - 1) / time.Minute)
	return status, nil
}

// recordFailure persists a failed login attempt, emits the audit event,
// and raises an account_locked event when this failure crosses the
// lockout threshold.
func (g *Guard) recordFailure(ctx context.Context, accountID, email string, creds Credentials, reason string, policy *domain.SecurityPolicy) {
	attempt := &domain.FailedLoginAttempt{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Email:     email,
		IP:        creds.IP,
		UserAgent: creds.UserAgent,
		Reason:    reason,
		CreatedAt: g.clock.Now(),
	}
	if err := g.store.CreateFailedLoginAttempt(ctx, attempt); err != nil {
		g.logger.Error("failed to record login attempt", zap.Error(err))
	}

	g.audit(ctx, accountID, domain.EventLoginFailed, "login failed: "+reason, creds, false)

	if accountID == "" {
		return
	}
	lock, err := g.lockStatus(ctx, email, creds.IP, policy)
	if err != nil {
		g.logger.Error("post-failure lock check failed", zap.Error(err))
		return
	}
	if lock.IsLocked && lock.AccountAttempts == policy.MaxLoginAttempts {
		g.audit(ctx, accountID, domain.EventAccountLocked, "account locked after repeated failures", creds, false)
		g.logger.Warn("account locked",
			zap.String("account_id", accountID),
			zap.Int("attempts", lock.AccountAttempts))
	}
}

// UnlockAccount clears an account's failure history ahead of the lockout
// window. Admin operation; the actor is recorded in the audit trail.
func (g *Guard) UnlockAccount(ctx context.Context, actorID, accountID string) error {
	if _, err := g.store.AccountByID(ctx, accountID); err != nil {
		return err
	}
	cleared, err := g.store.DeleteFailedLoginAttemptsForAccount(ctx, accountID)
	if err != nil {
		return err
	}
	g.trail.Log(ctx, &audit.Entry{
		AccountID:   accountID,
		Type:        domain.EventAccountUnlocked,
		Description: "account unlocked by administrator " + actorID,
		Success:     true,
	})
	g.logger.Info("account unlocked",
		zap.String("account_id", accountID),
		zap.String("actor_id", actorID),
		zap.Int64("attempts_cleared", cleared))
	return nil
}

// =============================================================================
// PASSWORD CHANGE
// =============================================================================

// ChangePassword rotates an account's password after verifying the current
// one, then revokes every other active session so stolen sessions do not
// outlive the old credential. keepToken names the session performing the
// change.
func (g *Guard) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword, keepToken string) error {
	account, err := g.store.AccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !password.Verify(currentPassword, account.PasswordHash) {
		return security.NewAuthenticationError(security.CodeInvalidCredentials, "current password is incorrect")
	}

	policy := g.policy(ctx)
	if result := password.Validate(newPassword, policy); !result.IsValid {
		fields := make([]security.FieldError, 0, len(result.Errors))
		for _, msg := range result.Errors {
			fields = append(fields, security.FieldError{Field: "new_password", Message: msg})
		}
		return security.NewValidationError("new password does not meet policy", fields)
	}

	reused, err := g.resets.IsRecentlyUsed(ctx, accountID, newPassword)
	if err != nil {
		return err
	}
	if reused {
		return security.NewValidationError("new password was used recently", []security.FieldError{
			{Field: "new_password", Message: "choose a password you have not used before"},
		})
	}

	hash, err := password.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := g.store.UpdateAccountPasswordHash(ctx, accountID, hash, g.clock.Now()); err != nil {
		return err
	}

	revoked, err := g.sessions.RevokeAllExcept(ctx, accountID, keepToken, session.ReasonPasswordChanged)
	if err != nil {
		g.logger.Error("failed to revoke sessions after password change", zap.Error(err))
	}

	g.trail.Log(ctx, &audit.Entry{
		AccountID:   accountID,
		Type:        domain.EventPasswordChanged,
		Description: "password changed",
		Success:     true,
	})
	g.logger.Info("password changed",
		zap.String("account_id", accountID),
		zap.Int("sessions_revoked", revoked))
	return nil
}

// =============================================================================
// POLICY ADMINISTRATION
// =============================================================================

// EnsurePolicy returns the stored security policy, creating the default
// one on first run.
func (g *Guard) EnsurePolicy(ctx context.Context) (*domain.SecurityPolicy, error) {
	policy, err := g.store.SecurityPolicy(ctx)
	if err == nil {
		return policy, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	policy = domain.DefaultSecurityPolicy()
	if err := g.store.CreateSecurityPolicy(ctx, policy); err != nil {
		return nil, err
	}
	g.logger.Info("default security policy created")
	return policy, nil
}

// UpdatePolicy validates and persists a new security policy. Admin
// operation; the actor is recorded in the audit trail.
func (g *Guard) UpdatePolicy(ctx context.Context, actorID string, policy *domain.SecurityPolicy) error {
	if err := policy.Validate(); err != nil {
		return security.NewValidationError(err.Error(), nil)
	}
	if err := g.store.UpdateSecurityPolicy(ctx, policy); err != nil {
		return err
	}
	g.trail.Log(ctx, &audit.Entry{
		AccountID:   actorID,
		Type:        domain.EventPolicyUpdated,
		Description: "security policy updated",
		Success:     true,
	})
	return nil
}

// =============================================================================
// MAINTENANCE
// =============================================================================

// MaintenanceReport summarizes one maintenance sweep.
type MaintenanceReport struct {
	ExpiredSessions  int64 `json:"expired_sessions"`
	StaleAttempts    int64 `json:"stale_attempts"`
	ExpiredTokens    int64 `json:"expired_tokens"`
	PurgedAuditRows  int64 `json:"purged_audit_rows"`
}

// RunMaintenanceTasks sweeps expired sessions, stale failed attempts,
// expired reset tokens, and audit rows past retention. Each task runs even
// when an earlier one fails; the first error is returned after the sweep.
func (g *Guard) RunMaintenanceTasks(ctx context.Context) (*MaintenanceReport, error) {
	report := &MaintenanceReport{}
	var firstErr error

	sessions, err := g.sessions.CleanupExpired(ctx)
	if err != nil {
		firstErr = err
		g.logger.Error("session cleanup failed", zap.Error(err))
	}
	report.ExpiredSessions = sessions

	attempts, err := g.store.DeleteFailedLoginAttemptsBefore(ctx, g.clock.Now().Add(-attemptRetention))
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
		g.logger.Error("attempt cleanup failed", zap.Error(err))
	}
	report.StaleAttempts = attempts

	tokens, err := g.store.DeleteExpiredResetTokens(ctx, g.clock.Now())
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
		g.logger.Error("reset token cleanup failed", zap.Error(err))
	}
	report.ExpiredTokens = tokens

	audits, err := g.trail.Cleanup(ctx)
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
		g.logger.Error("audit cleanup failed", zap.Error(err))
	}
	report.PurgedAuditRows = audits

	g.logger.Info("maintenance sweep complete",
		zap.Int64("expired_sessions", report.ExpiredSessions),
		zap.Int64("stale_attempts", report.StaleAttempts),
		zap.Int64("expired_tokens", report.ExpiredTokens),
		zap.Int64("purged_audit_rows", report.PurgedAuditRows))
	return report, firstErr
}

// =============================================================================
// HELPERS
// =============================================================================

func (g *Guard) audit(ctx context.Context, accountID string, eventType domain.EventType, description string, creds Credentials, success bool) {
	g.trail.Log(ctx, &audit.Entry{
		AccountID:   accountID,
		Type:        eventType,
		Description: description,
		IP:          creds.IP,
		UserAgent:   creds.UserAgent,
		Success:     success,
		Location:    creds.Location,
	})
}

func (g *Guard) policy(ctx context.Context) *domain.SecurityPolicy {
	policy, err := g.store.SecurityPolicy(ctx)
	if err != nil {
		return domain.DefaultSecurityPolicy()
	}
	return policy
}
