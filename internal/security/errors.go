// Copyright (c) 2025 Meridian GRC
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security defines the error taxonomy and consumer result codes
// shared by every component of the security core. Callers branch on the
// stable machine code of a typed rejection, never on message text.
package security

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// SecurityError is the generic typed error carried across the core. Code is
// a stable machine code; Status is the HTTP-equivalent status the transport
// layer maps it to.
type SecurityError struct {
	Code    string
	Status  int
	Message string
	// Err holds an optional wrapped cause. It is never surfaced to callers.
	Err error
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SecurityError) Unwrap() error { return e.Err }

// NewSecurityError builds a generic security error with a 500-equivalent
// status. Internal detail stays in Err and is not leaked to the caller.
func NewSecurityError(code, message string, cause error) *SecurityError {
	return &SecurityError{Code: code, Status: http.StatusInternalServerError, Message: message, Err: cause}
}

// AuthenticationError is a credential or login-flow rejection (401).
type AuthenticationError struct {
	SecurityError
	// RequiresMFA flags that the attempt was otherwise valid but a second
	// factor is outstanding.
	RequiresMFA bool
	// RequiresCaptcha is the advisory CAPTCHA gate flag; enforcement is the
	// caller's responsibility.
	RequiresCaptcha bool
	// RetryAfterMinutes is set on lockout rejections: minutes until the
	// lockout window releases.
	RetryAfterMinutes int
}

// NewAuthenticationError builds a 401 authentication rejection.
func NewAuthenticationError(code, message string) *AuthenticationError {
	return &AuthenticationError{SecurityError: SecurityError{Code: code, Status: http.StatusUnauthorized, Message: message}}
}

// SessionError is a session lifecycle rejection (401).
type SessionError struct {
	SecurityError
}

// NewSessionError builds a 401 session rejection.
func NewSessionError(code, message string) *SessionError {
	return &SessionError{SecurityError: SecurityError{Code: code, Status: http.StatusUnauthorized, Message: message}}
}

// MFAError is an enrollment or verification rejection (400).
type MFAError struct {
	SecurityError
}

// NewMFAError builds a 400 MFA rejection.
func NewMFAError(code, message string) *MFAError {
	return &MFAError{SecurityError: SecurityError{Code: code, Status: http.StatusBadRequest, Message: message}}
}

// CryptoError is a cipher failure: tampered or corrupt input, or an
// unconfigured key. Decryption of tampered data always fails with this
// rather than returning altered plaintext.
type CryptoError struct {
	SecurityError
}

// NewCryptoError builds a crypto failure with a 500-equivalent status.
func NewCryptoError(code, message string, cause error) *CryptoError {
	return &CryptoError{SecurityError: SecurityError{Code: code, Status: http.StatusInternalServerError, Message: message, Err: cause}}
}

// FieldError names one field-level policy violation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is an input or policy violation (400) carrying the full
// list of field errors so callers can render every problem at once.
type ValidationError struct {
	SecurityError
	Fields []FieldError
}

// NewValidationError builds a 400 validation rejection.
func NewValidationError(message string, fields []FieldError) *ValidationError {
	return &ValidationError{
		SecurityError: SecurityError{Code: CodeValidationFailed, Status: http.StatusBadRequest, Message: message},
		Fields:        fields,
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// StatusFor maps any error to its HTTP-equivalent status. Unclassified
// errors surface as a generic 500 with no internal detail.
func StatusFor(err error) int {
	var se *SecurityError
	if errors.As(err, &se) {
		return se.Status
	}
	var ae *AuthenticationError
	if errors.As(err, &ae) {
		return ae.Status
	}
	var sse *SessionError
	if errors.As(err, &sse) {
		return sse.Status
	}
	var me *MFAError
	if errors.As(err, &me) {
		return me.Status
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Status
	}
	var ce *CryptoError
	if errors.As(err, &ce) {
		return ce.Status
	}
	return http.StatusInternalServerError
}

// CodeFor extracts the stable machine code from any error in the taxonomy.
func CodeFor(err error) string {
	var se *SecurityError
	if errors.As(err, &se) {
		return se.Code
	}
	var ae *AuthenticationError
	if errors.As(err, &ae) {
		return ae.Code
	}
	var sse *SessionError
	if errors.As(err, &sse) {
		return sse.Code
	}
	var me *MFAError
	if errors.As(err, &me) {
		return me.Code
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	var ce *CryptoError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}
