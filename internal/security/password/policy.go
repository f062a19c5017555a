// Copyright (c) 2025 Meridian GRC
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package password implements credential policy: password-strength scoring
// against the security policy, slow adaptive hashing, and the single-use
// password-reset token flow.
package password

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-grc/meridian/internal/domain"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// BcryptCost is deliberately expensive; lowering it weakens every stored
// credential at once.
const BcryptCost = 12

// trivialSubstrings is the denylist of patterns that forfeit score.
var trivialSubstrings = []string{
	"password", "passwort", "123456", "12345", "qwerty", "abc123",
	"letmein", "welcome", "admin", "iloveyou", "monkey", "dragon",
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationResult reports policy compliance and a 0-100 strength score.
// Errors lists every violated rule, not just the first.
type ValidationResult struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors,omitempty"`
	Score   int      `json:"score"`
}

// Validate checks a candidate password against the policy's length and
// character-class rules and scores its strength. Pure function, no I/O.
func Validate(password string, policy *domain.SecurityPolicy) *ValidationResult {
	result := &ValidationResult{}

	if len(password) < policy.PasswordMinLength {
		result.Errors = append(result.Errors, "password must be at least "+strconv.Itoa(policy.PasswordMinLength)+" characters")
	}
	if policy.PasswordMaxLength > 0 && len(password) > policy.PasswordMaxLength {
		result.Errors = append(result.Errors, "password must be at most "+strconv.Itoa(policy.PasswordMaxLength)+" characters")
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	classes := make(map[rune]bool)
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
		classes[r] = true
	}

	if policy.PasswordRequireUppercase && !hasUpper {
		result.Errors = append(result.Errors, "password must contain an uppercase letter")
	}
	if policy.PasswordRequireLowercase && !hasLower {
		result.Errors = append(result.Errors, "password must contain a lowercase letter")
	}
	if policy.PasswordRequireNumbers && !hasDigit {
		result.Errors = append(result.Errors, "password must contain a number")
	}
	if policy.PasswordRequireSpecial && !hasSpecial {
		result.Errors = append(result.Errors, "password must contain a special character")
	}

	result.IsValid = len(result.Errors) == 0
	result.Score = score(password, hasUpper, hasLower, hasDigit, hasSpecial, len(classes))
	return result
}

// score accumulates length and diversity rewards, then subtracts penalties
// for repeated runs and trivial substrings. Clamped to [0,100].
func score(password string, hasUpper, hasLower, hasDigit, hasSpecial bool, uniqueRunes int) int {
	s := 0

	// Length: up to 40 points at 16+ characters.
	length := len(password)
	if length > 16 {
		length = 16
	}
	s += length * 40 / 16

	// Character classes: 10 points each.
	for _, present := range []bool{hasUpper, hasLower, hasDigit, hasSpecial} {
		if present {
			s += 10
		}
	}

	// Diversity: up to 20 points at 12+ distinct characters.
	if uniqueRunes > 12 {
		uniqueRunes = 12
	}
	s += uniqueRunes * 20 / 12

	// Repeated-character runs: -10 per run of 3+.
	runLength := 1
	var prev rune
	for i, r := range password {
		if i > 0 && r == prev {
			runLength++
			if runLength == 3 {
				s -= 10
			}
		} else {
			runLength = 1
		}
		prev = r
	}

	// Trivial substrings: -25 each.
	lower := strings.ToLower(password)
	for _, trivial := range trivialSubstrings {
		if strings.Contains(lower, trivial) {
			s -= 25
		}
	}

	return domain.ClampRisk(s)
}

// =============================================================================
// HASHING
// =============================================================================

// Hash derives a bcrypt hash of the password at the configured cost.
func Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether password matches the stored bcrypt hash.
func Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
