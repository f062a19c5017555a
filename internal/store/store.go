// Copyright (c) 2025 Meridian GRC
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store defines the narrow persistence port the security core talks
// through, together with the bundled SQLite and in-memory implementations.
// The core never assumes a specific storage engine; anything that can
// satisfy Store can back it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/meridian-grc/meridian/internal/domain"
)

// ErrNotFound is returned by lookups that match no record.
var ErrNotFound = errors.New("record not found")

// =============================================================================
// FILTERS
// =============================================================================

// FailedAttemptFilter selects failed login attempts. Exactly one of
// AccountID or IP is normally set; Since bounds the trailing window.
type FailedAttemptFilter struct {
	AccountID string
	IP        string
	Since     time.Time
}

// SessionFilter selects sessions for an account.
type SessionFilter struct {
	// Status restricts to one lifecycle state when non-empty.
	Status domain.SessionStatus
	// Since bounds by creation time when non-zero.
	Since time.Time
	// IP restricts to sessions created from this address when non-empty.
	IP string
}

// EventFilter selects security events.
type EventFilter struct {
	Since time.Time
	// Types restricts to the listed event types when non-empty.
	Types []domain.EventType
	// FailedOnly restricts to unsuccessful events.
	FailedOnly bool
	// Limit caps the result set; 0 means no cap.
	Limit int
}

// =============================================================================
// PERSISTENCE PORT
// =============================================================================

// Store is the single port every mutation in the security core goes
// through. Implementations must make each individual write atomic; the core
// does not require cross-record transactions.
type Store interface {
	// Accounts. The surrounding platform owns account lifecycle; the core
	// reads accounts and rotates password hashes.
	AccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	AccountByID(ctx context.Context, id string) (*domain.Account, error)
	UpdateAccountPasswordHash(ctx context.Context, accountID, hash string, at time.Time) error

	// Failed login attempts (append-only, purged by retention).
	CreateFailedLoginAttempt(ctx context.Context, attempt *domain.FailedLoginAttempt) error
	FailedLoginAttempts(ctx context.Context, filter FailedAttemptFilter) ([]domain.FailedLoginAttempt, error)
	DeleteFailedLoginAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// DeleteFailedLoginAttemptsForAccount clears an account's attempt history,
	// releasing its lockout immediately. Admin unlock path.
	DeleteFailedLoginAttemptsForAccount(ctx context.Context, accountID string) (int64, error)

	// Security policy singleton.
	SecurityPolicy(ctx context.Context) (*domain.SecurityPolicy, error)
	CreateSecurityPolicy(ctx context.Context, policy *domain.SecurityPolicy) error
	UpdateSecurityPolicy(ctx context.Context, policy *domain.SecurityPolicy) error

	// Sessions.
	CreateSession(ctx context.Context, session *domain.UserSession) error
	SessionByToken(ctx context.Context, token string) (*domain.UserSession, error)
	TouchSessionActivity(ctx context.Context, token string, at time.Time) error
	RevokeSession(ctx context.Context, token, reason string) error
	Sessions(ctx context.Context, accountID string, filter SessionFilter) ([]domain.UserSession, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	// Security events (append-only, purged by retention).
	CreateSecurityEvent(ctx context.Context, event *domain.SecurityEvent) error
	SecurityEventsSince(ctx context.Context, since time.Time) ([]domain.SecurityEvent, error)
	SecurityEventsForAccount(ctx context.Context, accountID string, filter EventFilter) ([]domain.SecurityEvent, error)
	SecurityEventsForIP(ctx context.Context, ip string, filter EventFilter) ([]domain.SecurityEvent, error)
	DeleteSecurityEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// MFA enrollments.
	MFAEnrollment(ctx context.Context, accountID string) (*domain.MfaEnrollment, error)
	UpsertMFAEnrollment(ctx context.Context, enrollment *domain.MfaEnrollment) error
	UpdateMFAEnrollment(ctx context.Context, enrollment *domain.MfaEnrollment) error

	// Password reset tokens.
	CreateResetToken(ctx context.Context, token *domain.PasswordResetToken) error
	ResetTokenByHash(ctx context.Context, tokenHash string) (*domain.PasswordResetToken, error)
	MarkResetTokenUsed(ctx context.Context, id string, at time.Time) error
	DeleteExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)
}
