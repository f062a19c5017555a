// Copyright (c) 2025 Meridian GRC
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package mfa implements the recovery-code vault: TOTP enrollment and
// verification plus one-time backup-code consumption. Per account the
// state machine is disabled -> pending-enrollment -> enabled; the pending
// state lives entirely client-side, nothing is persisted until the first
// code verifies.
package mfa

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"github.com/meridian-grc/meridian/internal/domain"
	"github.com/meridian-grc/meridian/internal/security"
	"github.com/meridian-grc/meridian/internal/security/audit"
	"github.com/meridian-grc/meridian/internal/security/crypto"
	"github.com/meridian-grc/meridian/internal/store"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// BackupCodeCount is the size of a freshly issued backup-code set.
	BackupCodeCount = 10

	// totpPeriod is the TOTP step in seconds.
	totpPeriod = 30

	// totpSkew accepts codes one step either side of now, absorbing small
	// clock drift between server and authenticator.
	totpSkew = 1
)

// =============================================================================
// VAULT
// =============================================================================

// Vault manages MFA enrollments. Backup-code consumption is serialized per
// account so two concurrent verifications can never spend the same code.
type Vault struct {
	store  store.Store
	cipher *crypto.Cipher
	trail  *audit.Trail
	clock  clockwork.Clock
	logger *zap.Logger
	issuer string

	// accountLocks serializes verify/consume per account ID.
	accountLocks sync.Map
}

// NewVault wires the recovery-code vault. issuer labels provisioning URIs
// in authenticator apps.
func NewVault(st store.Store, cipher *crypto.Cipher, trail *audit.Trail, clock clockwork.Clock, logger *zap.Logger, issuer string) *Vault {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vault{store: st, cipher: cipher, trail: trail, clock: clock, logger: logger, issuer: issuer}
}

func (v *Vault) lockAccount(accountID string) *sync.Mutex {
	mu, _ := v.accountLocks.LoadOrStore(accountID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// =============================================================================
// ENROLLMENT
// =============================================================================

// Enrollment is the one-time payload shown to the user at enrollment
// start: the raw secret, a scannable provisioning URI, and the plaintext
// backup codes. None of it is persisted until ConfirmEnrollment succeeds.
type Enrollment struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	BackupCodes     []string `json:"backup_codes"`
}

// BeginEnrollment generates a fresh TOTP secret and backup-code set for
// the account. The account stays disabled until the user proves possession
// of the secret via ConfirmEnrollment.
func (v *Vault) BeginEnrollment(ctx context.Context, accountID, label string) (*Enrollment, error) {
	existing, err := v.store.MFAEnrollment(ctx, accountID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.Enabled {
		return nil, security.NewMFAError(security.CodeMFAInvalid, "MFA is already enabled for this account")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      v.issuer,
		AccountName: label,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, security.NewSecurityError(security.CodeInternal, "failed to generate TOTP secret", err)
	}

	codes, err := crypto.GenerateBackupCodes(BackupCodeCount)
	if err != nil {
		return nil, err
	}

	return &Enrollment{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		BackupCodes:     codes,
	}, nil
}

// ConfirmEnrollment verifies the submitted code against the pending secret
// and, only on success, persists the secret and backup codes encrypted and
// moves the account to enabled. An invalid code leaves the account
// disabled with nothing stored.
func (v *Vault) ConfirmEnrollment(ctx context.Context, accountID, secret, code string, backupCodes []string, recoveryEmail string) error {
	if !v.validateCode(code, secret) {
		return security.NewMFAError(security.CodeMFAInvalid, "invalid verification code")
	}

	encryptedSecret, err := v.sealSecret(ctx, secret)
	if err != nil {
		return err
	}
	encryptedCodes, err := v.sealCodes(ctx, backupCodes)
	if err != nil {
		return err
	}

	now := v.clock.Now()
	enrollment := &domain.MfaEnrollment{
		AccountID:            accountID,
		Enabled:              true,
		EncryptedSecret:      encryptedSecret,
		EncryptedBackupCodes: encryptedCodes,
		RecoveryEmail:        recoveryEmail,
		VerifiedAt:           now,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := v.store.UpsertMFAEnrollment(ctx, enrollment); err != nil {
		return err
	}

	v.audit(ctx, accountID, domain.EventMFAEnabled, "multi-factor authentication enabled", true)
	v.logger.Info("mfa enrollment confirmed", zap.String("account_id", accountID))
	return nil
}

// =============================================================================
// VERIFICATION
// =============================================================================

// VerifyResult reports a verification outcome. When a backup code was
// consumed, IsBackupCode is set and BackupCodesRemaining reflects the
// shrunken set.
type VerifyResult struct {
	IsValid              bool `json:"is_valid"`
	IsBackupCode         bool `json:"is_backup_code"`
	BackupCodesRemaining int  `json:"backup_codes_remaining"`
}

// Verify checks a code as TOTP first, then as a backup code. A matched
// backup code is removed in the same store write, irrevocably reducing the
// remaining count. Disabled accounts fail with an MFAError.
func (v *Vault) Verify(ctx context.Context, accountID, code string) (*VerifyResult, error) {
	mu := v.lockAccount(accountID)
	mu.Lock()
	defer mu.Unlock()

	enrollment, err := v.store.MFAEnrollment(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, security.NewMFAError(security.CodeMFANotEnabled, "MFA is not enabled for this account")
		}
		return nil, err
	}
	if !enrollment.Enabled {
		return nil, security.NewMFAError(security.CodeMFANotEnabled, "MFA is not enabled for this account")
	}

	secret, err := v.openValue(enrollment.EncryptedSecret)
	if err != nil {
		return nil, err
	}

	if v.validateCode(code, secret) {
		now := v.clock.Now()
		enrollment.VerifiedAt = now
		enrollment.UpdatedAt = now
		if err := v.store.UpdateMFAEnrollment(ctx, enrollment); err != nil {
			return nil, err
		}
		v.audit(ctx, accountID, domain.EventMFAVerified, "TOTP code verified", true)
		return &VerifyResult{IsValid: true, BackupCodesRemaining: len(enrollment.EncryptedBackupCodes)}, nil
	}

	// Fall back to the backup-code set.
	normalized := normalizeBackupCode(code)
	for id, blob := range enrollment.EncryptedBackupCodes {
		stored, err := v.openValue(blob)
		if err != nil {
			return nil, err
		}
		if normalizeBackupCode(stored) != normalized {
			continue
		}

		delete(enrollment.EncryptedBackupCodes, id)
		enrollment.BackupCodesUsed++
		now := v.clock.Now()
		enrollment.VerifiedAt = now
		enrollment.UpdatedAt = now
		if err := v.store.UpdateMFAEnrollment(ctx, enrollment); err != nil {
			return nil, err
		}

		remaining := len(enrollment.EncryptedBackupCodes)
		v.audit(ctx, accountID, domain.EventMFAVerified, "backup code consumed", true)
		if remaining <= 2 {
			v.logger.Warn("backup codes running low",
				zap.String("account_id", accountID), zap.Int("remaining", remaining))
		}
		return &VerifyResult{IsValid: true, IsBackupCode: true, BackupCodesRemaining: remaining}, nil
	}

	return &VerifyResult{IsValid: false, BackupCodesRemaining: len(enrollment.EncryptedBackupCodes)}, nil
}

// =============================================================================
// DISABLE / REGENERATE
// =============================================================================

// Disable turns MFA off after a successful verification with the supplied
// code, clearing the secret and all backup codes.
func (v *Vault) Disable(ctx context.Context, accountID, code string) error {
	result, err := v.Verify(ctx, accountID, code)
	if err != nil {
		return err
	}
	if !result.IsValid {
		return security.NewMFAError(security.CodeMFAInvalid, "invalid verification code")
	}

	mu := v.lockAccount(accountID)
	mu.Lock()
	defer mu.Unlock()

	enrollment, err := v.store.MFAEnrollment(ctx, accountID)
	if err != nil {
		return err
	}
	enrollment.Enabled = false
	enrollment.EncryptedSecret = ""
	enrollment.EncryptedBackupCodes = map[string]string{}
	enrollment.BackupCodesUsed = 0
	enrollment.VerifiedAt = time.Time{}
	enrollment.UpdatedAt = v.clock.Now()
	if err := v.store.UpdateMFAEnrollment(ctx, enrollment); err != nil {
		return err
	}

	v.audit(ctx, accountID, domain.EventMFADisabled, "multi-factor authentication disabled", true)
	v.logger.Info("mfa disabled", zap.String("account_id", accountID))
	return nil
}

// RegenerateBackupCodes replaces the whole backup-code set after a
// successful verification (TOTP or a remaining backup code both accepted)
// and resets the consumed counter. Returns the new plaintext codes,
// shown once.
func (v *Vault) RegenerateBackupCodes(ctx context.Context, accountID, code string) ([]string, error) {
	result, err := v.Verify(ctx, accountID, code)
	if err != nil {
		return nil, err
	}
	if !result.IsValid {
		return nil, security.NewMFAError(security.CodeMFAInvalid, "invalid verification code")
	}

	mu := v.lockAccount(accountID)
	mu.Lock()
	defer mu.Unlock()

	codes, err := crypto.GenerateBackupCodes(BackupCodeCount)
	if err != nil {
		return nil, err
	}
	encrypted, err := v.sealCodes(ctx, codes)
	if err != nil {
		return nil, err
	}

	enrollment, err := v.store.MFAEnrollment(ctx, accountID)
	if err != nil {
		return nil, err
	}
	enrollment.EncryptedBackupCodes = encrypted
	enrollment.BackupCodesUsed = 0
	enrollment.UpdatedAt = v.clock.Now()
	if err := v.store.UpdateMFAEnrollment(ctx, enrollment); err != nil {
		return nil, err
	}

	v.logger.Info("backup codes regenerated", zap.String("account_id", accountID))
	return codes, nil
}

// =============================================================================
// STATUS
// =============================================================================

// Status is the secret-free view of an account's MFA state.
type Status struct {
	Enabled              bool      `json:"enabled"`
	VerifiedAt           time.Time `json:"verified_at,omitempty"`
	BackupCodesRemaining int       `json:"backup_codes_remaining"`
	RecoveryEmail        string    `json:"recovery_email,omitempty"`
}

// Status reports the enrollment state. It never exposes the secret.
func (v *Vault) Status(ctx context.Context, accountID string) (*Status, error) {
	enrollment, err := v.store.MFAEnrollment(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &Status{}, nil
		}
		return nil, err
	}
	return &Status{
		Enabled:              enrollment.Enabled,
		VerifiedAt:           enrollment.VerifiedAt,
		BackupCodesRemaining: len(enrollment.EncryptedBackupCodes),
		RecoveryEmail:        enrollment.RecoveryEmail,
	}, nil
}

// Enabled reports whether MFA is currently enabled for the account.
func (v *Vault) Enabled(ctx context.Context, accountID string) (bool, error) {
	status, err := v.Status(ctx, accountID)
	if err != nil {
		return false, err
	}
	return status.Enabled, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// validateCode checks a TOTP code at the vault's clock with the configured
// skew tolerance.
func (v *Vault) validateCode(code, secret string) bool {
	ok, err := totp.ValidateCustom(strings.TrimSpace(code), secret, v.clock.Now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// sealSecret stores the TOTP secret encrypted unless the policy's
// encrypt_mfa_secrets toggle is off.
func (v *Vault) sealSecret(ctx context.Context, secret string) (string, error) {
	if !v.policy(ctx).EncryptMFASecrets {
		return secret, nil
	}
	return v.cipher.EncryptString(secret)
}

// sealCodes stores each backup code under a fresh random identifier so
// consumption is a keyed delete rather than an array splice. Codes are
// encrypted unless the policy's encrypt_backup_codes toggle is off.
func (v *Vault) sealCodes(ctx context.Context, codes []string) (map[string]string, error) {
	encrypt := v.policy(ctx).EncryptBackupCodes
	out := make(map[string]string, len(codes))
	for _, code := range codes {
		stored := code
		if encrypt {
			blob, err := v.cipher.EncryptString(code)
			if err != nil {
				return nil, err
			}
			stored = blob
		}
		id, err := crypto.SecureRandomString(16, crypto.TokenCharset)
		if err != nil {
			return nil, err
		}
		out[id] = stored
	}
	return out, nil
}

// openValue recovers a stored secret or backup code. Values written while
// the encryption toggle was off are stored plaintext; a TOTP secret or
// backup code never parses as a ciphertext blob, so those come back as-is
// regardless of the current toggle. A well-formed blob that fails its
// integrity check still fails hard.
func (v *Vault) openValue(stored string) (string, error) {
	value, err := v.cipher.DecryptString(stored)
	if err != nil {
		if errors.Is(err, crypto.ErrInvalidCiphertext) {
			return stored, nil
		}
		return "", err
	}
	return value, nil
}

// policy returns the active security policy, falling back to defaults.
func (v *Vault) policy(ctx context.Context) *domain.SecurityPolicy {
	policy, err := v.store.SecurityPolicy(ctx)
	if err != nil {
		return domain.DefaultSecurityPolicy()
	}
	return policy
}

func normalizeBackupCode(code string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), "-", ""))
}

func (v *Vault) audit(ctx context.Context, accountID string, eventType domain.EventType, description string, success bool) {
	if v.trail == nil {
		return
	}
	v.trail.Log(ctx, &audit.Entry{
		AccountID:   accountID,
		Type:        eventType,
		Description: description,
		Success:     success,
	})
}
