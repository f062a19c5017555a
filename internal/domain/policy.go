// Copyright (c) 2025 Meridian GRC
// SPDX-License-Identifier: AGPL-3.0-or-later

package domain

import "fmt"

// =============================================================================
// SECURITY POLICY
// =============================================================================

// SecurityPolicy is the singleton configuration record every component of
// the security core reads. It is created once at startup if absent and
// mutated only through the administrative update operation; callers get a
// fresh read rather than a mutated shared instance.
type SecurityPolicy struct {
	// Password rules.
	PasswordMinLength        int  `json:"password_min_length" toml:"password_min_length"`
	PasswordMaxLength        int  `json:"password_max_length" toml:"password_max_length"`
	PasswordRequireUppercase bool `json:"password_require_uppercase" toml:"password_require_uppercase"`
	PasswordRequireLowercase bool `json:"password_require_lowercase" toml:"password_require_lowercase"`
	PasswordRequireNumbers   bool `json:"password_require_numbers" toml:"password_require_numbers"`
	PasswordRequireSpecial   bool `json:"password_require_special" toml:"password_require_special"`
	// PasswordExpirationDays forces a reset after the password reaches this
	// age. 0 disables expiry.
	PasswordExpirationDays int `json:"password_expiration_days" toml:"password_expiration_days"`

	// Lockout and CAPTCHA gates.
	MaxLoginAttempts       int  `json:"max_login_attempts" toml:"max_login_attempts"`
	LockoutDurationMinutes int  `json:"lockout_duration_minutes" toml:"lockout_duration_minutes"`
	CaptchaEnabled         bool `json:"captcha_enabled" toml:"captcha_enabled"`
	CaptchaAfterAttempts   int  `json:"captcha_after_attempts" toml:"captcha_after_attempts"`

	// MFA.
	MFARequired bool `json:"mfa_required" toml:"mfa_required"`

	// Sessions.
	SessionTimeoutMinutes int `json:"session_timeout_minutes" toml:"session_timeout_minutes"`
	MaxConcurrentSessions int `json:"max_concurrent_sessions" toml:"max_concurrent_sessions"`

	// Audit.
	AuditLogEnabled    bool `json:"audit_log_enabled" toml:"audit_log_enabled"`
	AuditRetentionDays int  `json:"audit_retention_days" toml:"audit_retention_days"`

	// Encryption toggles.
	EncryptMFASecrets   bool `json:"encrypt_mfa_secrets" toml:"encrypt_mfa_secrets"`
	EncryptBackupCodes  bool `json:"encrypt_backup_codes" toml:"encrypt_backup_codes"`
	EncryptResetSecrets bool `json:"encrypt_reset_secrets" toml:"encrypt_reset_secrets"`
}

// DefaultSecurityPolicy returns the policy created at first startup.
func DefaultSecurityPolicy() *SecurityPolicy {
	return &SecurityPolicy{
		PasswordMinLength:        8,
		PasswordMaxLength:        128,
		PasswordRequireUppercase: true,
		PasswordRequireLowercase: true,
		PasswordRequireNumbers:   true,
		PasswordRequireSpecial:   true,
		PasswordExpirationDays:   0,
		MaxLoginAttempts:         5,
		LockoutDurationMinutes:   15,
		CaptchaEnabled:           true,
		CaptchaAfterAttempts:     3,
		MFARequired:              false,
		SessionTimeoutMinutes:    60,
		MaxConcurrentSessions:    5,
		AuditLogEnabled:          true,
		AuditRetentionDays:       90,
		EncryptMFASecrets:        true,
		EncryptBackupCodes:       true,
		EncryptResetSecrets:      true,
	}
}

// Validate rejects policies that would leave a gate unenforceable.
func (p *SecurityPolicy) Validate() error {
	if p.PasswordMinLength < 1 {
		return fmt.Errorf("password_min_length must be positive, got %d", p.PasswordMinLength)
	}
	if p.PasswordMaxLength < p.PasswordMinLength {
		return fmt.Errorf("password_max_length %d below min length %d", p.PasswordMaxLength, p.PasswordMinLength)
	}
	if p.MaxLoginAttempts < 1 {
		return fmt.Errorf("max_login_attempts must be positive, got %d", p.MaxLoginAttempts)
	}
	if p.LockoutDurationMinutes < 1 {
		return fmt.Errorf("lockout_duration_minutes must be positive, got %d", p.LockoutDurationMinutes)
	}
	if p.SessionTimeoutMinutes < 1 {
		return fmt.Errorf("session_timeout_minutes must be positive, got %d", p.SessionTimeoutMinutes)
	}
	if p.MaxConcurrentSessions < 1 {
		return fmt.Errorf("max_concurrent_sessions must be positive, got %d", p.MaxConcurrentSessions)
	}
	if p.AuditRetentionDays < 1 {
		return fmt.Errorf("audit_retention_days must be positive, got %d", p.AuditRetentionDays)
	}
	return nil
}
