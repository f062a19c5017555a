// Copyright (c) 2025 Meridian GRC
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package domain defines the persistent record types shared by the security
// core: accounts, sessions, MFA enrollments, failed login attempts, security
// events, and password reset tokens.
package domain

import (
	"strings"
	"time"
)

// =============================================================================
// ACCOUNT
// =============================================================================

// Account is the identity record the security core authenticates against.
// The surrounding platform owns account lifecycle; this core only reads it
// and updates the password hash.
type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
	// UpdatedAt tracks the last password change for password-age expiry.
	UpdatedAt time.Time `json:"updated_at"`
}

// SafeAccount is the password-hash-stripped projection returned to callers
// after successful authentication.
type SafeAccount struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// Safe returns the account projection with credential material stripped.
func (a *Account) Safe() *SafeAccount {
	return &SafeAccount{
		ID:        a.ID,
		Email:     a.Email,
		IsAdmin:   a.IsAdmin,
		CreatedAt: a.CreatedAt,
	}
}

// NormalizeEmail canonicalizes an email address for lookup: trimmed and
// lower-cased. Uniqueness is enforced on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// =============================================================================
// FAILED LOGIN ATTEMPT
// =============================================================================

// FailedLoginAttempt is an append-only record of a rejected authentication.
// AccountID is empty when the submitted email matches no account; the
// attempt is still recorded by email and IP so unknown-account probing
// counts toward IP lockout.
type FailedLoginAttempt struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id,omitempty"`
	Email     string    `json:"email"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Failure reasons recorded with attempts.
const (
	FailureInvalidPassword = "invalid_password"
	FailureUnknownAccount  = "unknown_account"
	FailureInvalidMFA      = "invalid_mfa"
	FailurePasswordExpired = "password_expired"
)

// =============================================================================
// USER SESSION
// =============================================================================

// SessionStatus is the lifecycle state of a user session.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionRevoked SessionStatus = "revoked"
	SessionExpired SessionStatus = "expired"
)

// UserSession is one authenticated session. Token is high-entropy and
// unguessable; a session that leaves the active state is never revalidated.
type UserSession struct {
	ID           string        `json:"id"`
	Token        string        `json:"-"`
	AccountID    string        `json:"account_id"`
	Status       SessionStatus `json:"status"`
	DeviceLabel  string        `json:"device_label,omitempty"`
	Browser      string        `json:"browser,omitempty"`
	OS           string        `json:"os,omitempty"`
	IP           string        `json:"ip"`
	Location     *Location     `json:"location,omitempty"`
	IsTrusted    bool          `json:"is_trusted"`
	RiskScore    int           `json:"risk_score"`
	RevokeReason string        `json:"revoke_reason,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
	ExpiresAt    time.Time     `json:"expires_at"`
}

// IsExpired reports whether the session's expiry has passed at the given
// instant.
func (s *UserSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// =============================================================================
// MFA ENROLLMENT
// =============================================================================

// MfaEnrollment holds an account's second-factor state. Secret and backup
// codes are stored encrypted; they never touch the store in plaintext. The
// backup code set shrinks monotonically as codes are consumed.
type MfaEnrollment struct {
	AccountID string `json:"account_id"`
	Enabled   bool   `json:"enabled"`
	// EncryptedSecret is the TOTP seed, sealed by the secret cipher.
	EncryptedSecret string `json:"-"`
	// EncryptedBackupCodes are sealed single-use recovery codes, keyed by a
	// stable per-code identifier so consumption is an atomic delete.
	EncryptedBackupCodes map[string]string `json:"-"`
	BackupCodesUsed      int               `json:"backup_codes_used"`
	RecoveryEmail        string            `json:"recovery_email,omitempty"`
	VerifiedAt           time.Time         `json:"verified_at,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// =============================================================================
// PASSWORD RESET TOKEN
// =============================================================================

// PasswordResetToken is a single-use, short-lived credential for the reset
// flow. Only hashes are persisted: TokenHash is a plain digest used for
// lookup, KeyedHash is a second, keyed derivation verified on consumption.
// Once UsedAt is set the token is permanently inert.
type PasswordResetToken struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	TokenHash string    `json:"-"`
	KeyedHash string    `json:"-"`
	KeySalt   string    `json:"-"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	ExpiresAt time.Time `json:"expires_at"`
	UsedAt    time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IsUsed reports whether the token has already been consumed.
func (t *PasswordResetToken) IsUsed() bool { return !t.UsedAt.IsZero() }

// =============================================================================
// LOCATION
// =============================================================================

// Location is the closed geographic structure attached to sessions and
// security events. Absent fields are empty strings; a nil *Location means no
// location data at all.
type Location struct {
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
}

// ClampRisk clamps a risk score to the [0,100] range every component must
// stay within.
func ClampRisk(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
