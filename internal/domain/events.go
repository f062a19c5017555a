// Copyright (c) 2025 Meridian GRC
// SPDX-License-Identifier: AGPL-3.0-or-later

package domain

import "time"

// =============================================================================
// SECURITY EVENT
// =============================================================================

// EventType classifies a security event.
type EventType string

const (
	EventLoginSuccess       EventType = "login_success"
	EventLoginFailed        EventType = "login_failed"
	EventLogout             EventType = "logout"
	EventPasswordChanged    EventType = "password_changed"
	EventPasswordReset      EventType = "password_reset"
	EventMFAEnabled         EventType = "mfa_enabled"
	EventMFADisabled        EventType = "mfa_disabled"
	EventMFAVerified        EventType = "mfa_verified"
	EventAccountLocked      EventType = "account_locked"
	EventAccountUnlocked    EventType = "account_unlocked"
	EventSuspiciousActivity EventType = "suspicious_activity"
	EventPolicyUpdated      EventType = "policy_updated"
	EventSessionRevoked     EventType = "session_revoked"
)

// BaseRiskScore returns the per-type base component of an event's risk
// score. Unknown types score a neutral 10.
func (t EventType) BaseRiskScore() int {
	switch t {
	case EventLoginFailed:
		return 30
	case EventMFADisabled:
		return 40
	case EventSuspiciousActivity:
		return 80
	case EventAccountLocked:
		return 50
	case EventPasswordReset:
		return 25
	case EventPasswordChanged:
		return 20
	case EventSessionRevoked:
		return 15
	default:
		return 10
	}
}

// SecurityEvent is one append-only entry in the audit trail. AccountID is
// empty for events not attributable to a known account (e.g. failed logins
// against unknown emails).
type SecurityEvent struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id,omitempty"`
	Type        EventType `json:"type"`
	Description string    `json:"description"`
	IP          string    `json:"ip,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	Success     bool      `json:"success"`
	RiskScore   int       `json:"risk_score"`
	Location    *Location `json:"location,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
