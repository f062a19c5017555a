// Copyright (c) 2025 Meridian GRC
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import "github.com/meridian-grc/meridian/internal/domain"

// =============================================================================
// CONSUMER RESULT CODES
// =============================================================================

// Result codes exposed to the request gate and the surrounding platform.
// These are transport-agnostic: the HTTP layer maps them to status codes,
// other consumers branch on them directly.
const (
	CodeAuthRequired      = "AUTH_REQUIRED"
	CodeSessionInvalid    = "SESSION_INVALID"
	CodeReauthRequired    = "REAUTH_REQUIRED"
	CodeMFARequired       = "MFA_REQUIRED"
	CodeAdminRequired     = "ADMIN_REQUIRED"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
)

// Internal machine codes carried by typed rejections.
const (
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeAccountLocked      = "ACCOUNT_LOCKED"
	CodePasswordExpired    = "PASSWORD_EXPIRED"
	CodeMFAInvalid         = "MFA_INVALID"
	CodeMFANotEnabled      = "MFA_NOT_ENABLED"
	CodeTokenInvalid       = "TOKEN_INVALID"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeTokenUsed          = "TOKEN_USED"
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeCryptoFailure      = "CRYPTO_FAILURE"
	CodeInternal           = "INTERNAL"
)

// =============================================================================
// AUTHENTICATION RESULT
// =============================================================================

// AuthResult is the outcome of one authentication attempt. On success, User
// is the hash-stripped projection and SessionToken the issued token. On
// rejection, Error describes the failure; RequiresMFA and RequiresCaptcha
// tell the caller which gate to render next.
type AuthResult struct {
	Success         bool                `json:"success"`
	User            *domain.SafeAccount `json:"user,omitempty"`
	SessionToken    string              `json:"session_token,omitempty"`
	RequiresMFA     bool                `json:"requires_mfa,omitempty"`
	RequiresCaptcha bool                `json:"requires_captcha,omitempty"`
	Error           string              `json:"error,omitempty"`
	Code            string              `json:"code,omitempty"`
	// RetryAfterMinutes accompanies ACCOUNT_LOCKED rejections.
	RetryAfterMinutes int `json:"retry_after_minutes,omitempty"`
}
