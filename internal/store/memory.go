// Copyright (c) 2025 Meridian GRC
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"sync"
	"time"

	"github.com/meridian-grc/meridian/internal/domain"
)

// =============================================================================
// IN-MEMORY STORE
// =============================================================================

// Memory is the in-memory Store used by tests and development mode. All
// state is guarded by one RWMutex; every read hands back a copy so callers
// can never mutate stored records in place.
type Memory struct {
	mu sync.RWMutex

	accounts      map[string]*domain.Account // keyed by ID
	accountEmails map[string]string          // normalized email -> ID
	attempts      []domain.FailedLoginAttempt
	policy        *domain.SecurityPolicy
	sessions      map[string]*domain.UserSession // keyed by token
	events        []domain.SecurityEvent
	enrollments   map[string]*domain.MfaEnrollment   // keyed by account ID
	resetTokens   map[string]*domain.PasswordResetToken // keyed by token hash
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		accounts:      make(map[string]*domain.Account),
		accountEmails: make(map[string]string),
		sessions:      make(map[string]*domain.UserSession),
		enrollments:   make(map[string]*domain.MfaEnrollment),
		resetTokens:   make(map[string]*domain.PasswordResetToken),
	}
}

// CreateAccount seeds an account. Account lifecycle belongs to the
// surrounding platform, so this is not part of the Store port; it exists so
// tests and dev mode can populate identities.
func (m *Memory) CreateAccount(account *domain.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *account
	m.accounts[account.ID] = &copied
	m.accountEmails[domain.NormalizeEmail(account.Email)] = account.ID
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) AccountByEmail(_ context.Context, email string) (*domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.accountEmails[domain.NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *m.accounts[id]
	return &copied, nil
}

func (m *Memory) AccountByID(_ context.Context, id string) (*domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *account
	return &copied, nil
}

func (m *Memory) UpdateAccountPasswordHash(_ context.Context, accountID, hash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	account.PasswordHash = hash
	account.UpdatedAt = at
	return nil
}

// =============================================================================
// FAILED LOGIN ATTEMPTS
// =============================================================================

func (m *Memory) CreateFailedLoginAttempt(_ context.Context, attempt *domain.FailedLoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, *attempt)
	return nil
}

func (m *Memory) FailedLoginAttempts(_ context.Context, filter FailedAttemptFilter) ([]domain.FailedLoginAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.FailedLoginAttempt
	for _, a := range m.attempts {
		if filter.AccountID != "" && a.AccountID != filter.AccountID {
			continue
		}
		if filter.IP != "" && a.IP != filter.IP {
			continue
		}
		if !filter.Since.IsZero() && a.CreatedAt.Before(filter.Since) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *Memory) DeleteFailedLoginAttemptsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.attempts[:0]
	var deleted int64
	for _, a := range m.attempts {
		if a.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, a)
	}
	m.attempts = kept
	return deleted, nil
}

func (m *Memory) DeleteFailedLoginAttemptsForAccount(_ context.Context, accountID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.attempts[:0]
	var deleted int64
	for _, a := range m.attempts {
		if a.AccountID == accountID {
			deleted++
			continue
		}
		kept = append(kept, a)
	}
	m.attempts = kept
	return deleted, nil
}

// =============================================================================
// SECURITY POLICY
// =============================================================================

func (m *Memory) SecurityPolicy(_ context.Context) (*domain.SecurityPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.policy == nil {
		return nil, ErrNotFound
	}
	copied := *m.policy
	return &copied, nil
}

func (m *Memory) CreateSecurityPolicy(_ context.Context, policy *domain.SecurityPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *policy
	m.policy = &copied
	return nil
}

func (m *Memory) UpdateSecurityPolicy(_ context.Context, policy *domain.SecurityPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.policy == nil {
		return ErrNotFound
	}
	copied := *policy
	m.policy = &copied
	return nil
}

// =============================================================================
// SESSIONS
// =============================================================================

func (m *Memory) CreateSession(_ context.Context, session *domain.UserSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *session
	m.sessions[session.Token] = &copied
	return nil
}

func (m *Memory) SessionByToken(_ context.Context, token string) (*domain.UserSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[token]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (m *Memory) TouchSessionActivity(_ context.Context, token string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[token]
	if !ok {
		return ErrNotFound
	}
	session.LastActivity = at
	return nil
}

func (m *Memory) RevokeSession(_ context.Context, token, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[token]
	if !ok {
		return ErrNotFound
	}
	if reason == "expired" {
		session.Status = domain.SessionExpired
	} else {
		session.Status = domain.SessionRevoked
	}
	session.RevokeReason = reason
	return nil
}

func (m *Memory) Sessions(_ context.Context, accountID string, filter SessionFilter) ([]domain.UserSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.UserSession
	for _, s := range m.sessions {
		if s.AccountID != accountID {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && s.CreatedAt.Before(filter.Since) {
			continue
		}
		if filter.IP != "" && s.IP != filter.IP {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (m *Memory) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for token, s := range m.sessions {
		if now.After(s.ExpiresAt) {
			delete(m.sessions, token)
			deleted++
		}
	}
	return deleted, nil
}

// =============================================================================
// SECURITY EVENTS
// =============================================================================

func (m *Memory) CreateSecurityEvent(_ context.Context, event *domain.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *event)
	return nil
}

func (m *Memory) SecurityEventsSince(_ context.Context, since time.Time) ([]domain.SecurityEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.SecurityEvent
	for _, e := range m.events {
		if e.CreatedAt.Before(since) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *Memory) SecurityEventsForAccount(_ context.Context, accountID string, filter EventFilter) ([]domain.SecurityEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.SecurityEvent
	for _, e := range m.events {
		if e.AccountID != accountID {
			continue
		}
		if !matchEvent(e, filter) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) SecurityEventsForIP(_ context.Context, ip string, filter EventFilter) ([]domain.SecurityEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.SecurityEvent
	for _, e := range m.events {
		if e.IP != ip {
			continue
		}
		if !matchEvent(e, filter) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func matchEvent(e domain.SecurityEvent, filter EventFilter) bool {
	if !filter.Since.IsZero() && e.CreatedAt.Before(filter.Since) {
		return false
	}
	if filter.FailedOnly && e.Success {
		return false
	}
	if len(filter.Types) > 0 {
		found := false
		for _, t := range filter.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (m *Memory) DeleteSecurityEventsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[:0]
	var deleted int64
	for _, e := range m.events {
		if e.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return deleted, nil
}

// =============================================================================
// MFA ENROLLMENTS
// =============================================================================

func (m *Memory) MFAEnrollment(_ context.Context, accountID string) (*domain.MfaEnrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	enrollment, ok := m.enrollments[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEnrollment(enrollment), nil
}

func (m *Memory) UpsertMFAEnrollment(_ context.Context, enrollment *domain.MfaEnrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrollments[enrollment.AccountID] = copyEnrollment(enrollment)
	return nil
}

func (m *Memory) UpdateMFAEnrollment(_ context.Context, enrollment *domain.MfaEnrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.enrollments[enrollment.AccountID]; !ok {
		return ErrNotFound
	}
	m.enrollments[enrollment.AccountID] = copyEnrollment(enrollment)
	return nil
}

func copyEnrollment(e *domain.MfaEnrollment) *domain.MfaEnrollment {
	copied := *e
	copied.EncryptedBackupCodes = make(map[string]string, len(e.EncryptedBackupCodes))
	for id, code := range e.EncryptedBackupCodes {
		copied.EncryptedBackupCodes[id] = code
	}
	return &copied
}

// =============================================================================
// PASSWORD RESET TOKENS
// =============================================================================

func (m *Memory) CreateResetToken(_ context.Context, token *domain.PasswordResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *token
	m.resetTokens[token.TokenHash] = &copied
	return nil
}

func (m *Memory) ResetTokenByHash(_ context.Context, tokenHash string) (*domain.PasswordResetToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	token, ok := m.resetTokens[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *token
	return &copied, nil
}

func (m *Memory) MarkResetTokenUsed(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, token := range m.resetTokens {
		if token.ID == id {
			if !token.UsedAt.IsZero() {
				return ErrNotFound
			}
			token.UsedAt = at
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) DeleteExpiredResetTokens(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for hash, token := range m.resetTokens {
		if now.After(token.ExpiresAt) {
			delete(m.resetTokens, hash)
			deleted++
		}
	}
	return deleted, nil
}

// compile-time interface check
var _ Store = (*Memory)(nil)
