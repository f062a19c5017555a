// Copyright (c) 2025 Meridian GRC
// SPDX-License-Identifier: AGPL-3.0-or-later

package password

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/meridian-grc/meridian/internal/domain"
	"github.com/meridian-grc/meridian/internal/security"
	"github.com/meridian-grc/meridian/internal/security/crypto"
	"github.com/meridian-grc/meridian/internal/store"
)

// ResetTokenExpiry is how long an issued reset token remains valid.
const ResetTokenExpiry = 1 * time.Hour

// =============================================================================
// SERVICE
// =============================================================================

// Service owns password mutation: reset-token issuance and consumption,
// and password-history checks. Strength validation itself is the pure
// Validate function.
type Service struct {
	store  store.Store
	cipher *crypto.Cipher
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewService wires the password service.
func NewService(st store.Store, cipher *crypto.Cipher, clock clockwork.Clock, logger *zap.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, cipher: cipher, clock: clock, logger: logger}
}

// IsRecentlyUsed reports whether the candidate matches a recently used
// password. Currently that is the account's present hash; the store-side
// history is the extension point for a deeper window.
func (s *Service) IsRecentlyUsed(ctx context.Context, accountID, candidate string) (bool, error) {
	account, err := s.store.AccountByID(ctx, accountID)
	if err != nil {
		return false, err
	}
	return Verify(candidate, account.PasswordHash), nil
}

// =============================================================================
// RESET TOKENS
// =============================================================================

// IssueResetToken generates a high-entropy reset token for the account,
// persists only its hash plus a second keyed-hash layer, and returns the
// plaintext exactly once. It is never stored and cannot be recovered.
func (s *Service) IssueResetToken(ctx context.Context, accountID, ip, userAgent string) (string, error) {
	if _, err := s.store.AccountByID(ctx, accountID); err != nil {
		return "", err
	}

	plaintext, err := crypto.SecureToken()
	if err != nil {
		return "", err
	}

	now := s.clock.Now()
	token := &domain.PasswordResetToken{
		ID:        uuid.NewString(),
		AccountID: accountID,
		TokenHash: lookupHash(plaintext),
		IP:        ip,
		UserAgent: userAgent,
		ExpiresAt: now.Add(ResetTokenExpiry),
		CreatedAt: now,
	}

	// The keyed slow-hash layer rides on the encrypt_reset_secrets policy
	// toggle; tokens issued with it off carry only the fast lookup digest.
	if s.policy(ctx).EncryptResetSecrets {
		keyed, err := s.cipher.Hash(plaintext, "")
		if err != nil {
			return "", err
		}
		token.KeyedHash = keyed.Hash
		token.KeySalt = keyed.Salt
	}
	if err := s.store.CreateResetToken(ctx, token); err != nil {
		return "", err
	}

	s.logger.Info("password reset token issued",
		zap.String("account_id", accountID), zap.String("ip", ip))
	return plaintext, nil
}

// IssueResetTokenByEmail issues a reset token for the account behind the
// given email. Unknown emails return an empty token with no error so the
// endpoint built on this cannot be used to probe which emails have
// accounts.
func (s *Service) IssueResetTokenByEmail(ctx context.Context, email, ip, userAgent string) (string, error) {
	account, err := s.store.AccountByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Info("reset requested for unknown email", zap.String("ip", ip))
			return "", nil
		}
		return "", err
	}
	return s.IssueResetToken(ctx, account.ID, ip, userAgent)
}

// ConsumeResetToken redeems a reset token and sets the new password. The
// token is rejected when missing, already used, expired, or failing the
// keyed-hash layer; the new password must pass policy and not match a
// recently used one. Validation failures leave all state unchanged.
func (s *Service) ConsumeResetToken(ctx context.Context, plaintext, newPassword string) error {
	record, err := s.store.ResetTokenByHash(ctx, lookupHash(plaintext))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return security.NewAuthenticationError(security.CodeTokenInvalid, "invalid or unknown reset token")
		}
		return err
	}

	now := s.clock.Now()
	if record.IsUsed() {
		return security.NewAuthenticationError(security.CodeTokenUsed, "reset token already used")
	}
	if now.After(record.ExpiresAt) {
		return security.NewAuthenticationError(security.CodeTokenExpired, "reset token expired")
	}
	if record.KeyedHash != "" && !s.cipher.VerifyHash(plaintext, record.KeyedHash, record.KeySalt) {
		return security.NewAuthenticationError(security.CodeTokenInvalid, "invalid or unknown reset token")
	}

	policy, err := s.store.SecurityPolicy(ctx)
	if err != nil {
		return err
	}
	if result := Validate(newPassword, policy); !result.IsValid {
		fields := make([]security.FieldError, 0, len(result.Errors))
		for _, msg := range result.Errors {
			fields = append(fields, security.FieldError{Field: "password", Message: msg})
		}
		return security.NewValidationError("new password does not meet policy", fields)
	}

	reused, err := s.IsRecentlyUsed(ctx, record.AccountID, newPassword)
	if err != nil {
		return err
	}
	if reused {
		return security.NewValidationError("new password was recently used",
			[]security.FieldError{{Field: "password", Message: "must differ from a recently used password"}})
	}

	hash, err := Hash(newPassword)
	if err != nil {
		return security.NewSecurityError(security.CodeInternal, "failed to hash password", err)
	}

	// Burn the token before rotating the hash: MarkResetTokenUsed is an
	// atomic check-and-set, so two concurrent consumers of the same token
	// cannot both get past this line.
	if err := s.store.MarkResetTokenUsed(ctx, record.ID, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return security.NewAuthenticationError(security.CodeTokenUsed, "reset token already used")
		}
		return err
	}
	if err := s.store.UpdateAccountPasswordHash(ctx, record.AccountID, hash, now); err != nil {
		return err
	}

	s.logger.Info("password reset completed", zap.String("account_id", record.AccountID))
	return nil
}

// lookupHash is the fast digest used as the token's storage key. The slow
// keyed layer is verified separately on consumption.
func lookupHash(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// policy returns the active security policy, falling back to defaults.
func (s *Service) policy(ctx context.Context) *domain.SecurityPolicy {
	policy, err := s.store.SecurityPolicy(ctx)
	if err != nil {
		return domain.DefaultSecurityPolicy()
	}
	return policy
}
