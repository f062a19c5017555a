// Copyright (c) 2025 Meridian GRC
// SPDX-License-Identifier: AGPL-3.0-or-later

package mfa

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/meridian-grc/meridian/internal/domain"
	"github.com/meridian-grc/meridian/internal/security"
	"github.com/meridian-grc/meridian/internal/security/audit"
	"github.com/meridian-grc/meridian/internal/security/crypto"
	"github.com/meridian-grc/meridian/internal/store"
)

func newTestVault(t *testing.T) (*Vault, *store.Memory, *clockwork.FakeClock) {
	t.Helper()

	st := store.NewMemory()
	cipher, err := crypto.NewEphemeral(nil)
	if err != nil {
		t.Fatal(err)
	}
	clock := clockwork.NewFakeClockAt(time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC))
	trail := audit.NewTrail(st, clock, nil)
	return NewVault(st, cipher, trail, clock, nil, "Meridian GRC"), st, clock
}

// codeAt computes the TOTP code the authenticator would show at the
// clock's current time.
func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatal(err)
	}
	return code
}

func enroll(t *testing.T, v *Vault, clock *clockwork.FakeClock, accountID string) *Enrollment {
	t.Helper()
	ctx := context.Background()

	e, err := v.BeginEnrollment(ctx, accountID, accountID+"@example.com")
	if err != nil {
		t.Fatal(err)
	}
	code := codeAt(t, e.Secret, clock.Now())
	if err := v.ConfirmEnrollment(ctx, accountID, e.Secret, code, e.BackupCodes, "recovery@example.com"); err != nil {
		t.Fatal(err)
	}
	return e
}

func TestBeginEnrollment(t *testing.T) {
	v, _, _ := newTestVault(t)

	e, err := v.BeginEnrollment(context.Background(), "acct-1", "user@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if e.Secret == "" {
		t.Error("empty secret")
	}
	if len(e.BackupCodes) != BackupCodeCount {
		t.Errorf("got %d backup codes, want %d", len(e.BackupCodes), BackupCodeCount)
	}
	if e.ProvisioningURI == "" {
		t.Error("empty provisioning URI")
	}

	// Nothing persists until the first code verifies.
	enabled, err := v.Enabled(context.Background(), "acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if enabled {
		t.Error("account enabled before confirmation")
	}
}

func TestConfirmEnrollmentRejectsBadCode(t *testing.T) {
	v, _, _ := newTestVault(t)
	ctx := context.Background()

	e, err := v.BeginEnrollment(ctx, "acct-1", "user@example.com")
	if err != nil {
		t.Fatal(err)
	}

	err = v.ConfirmEnrollment(ctx, "acct-1", e.Secret, "000000", e.BackupCodes, "")
	var me *security.MFAError
	if !errors.As(err, &me) {
		t.Fatalf("bad confirm code: got %v, want MFA error", err)
	}

	enabled, err := v.Enabled(ctx, "acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if enabled {
		t.Error("account enabled after failed confirmation")
	}
}

func TestVerifyTOTP(t *testing.T) {
	v, _, clock := newTestVault(t)
	ctx := context.Background()
	e := enroll(t, v, clock, "acct-1")

	clock.Advance(5 * time.Minute)

	result, err := v.Verify(ctx, "acct-1", codeAt(t, e.Secret, clock.Now()))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsValid || result.IsBackupCode {
		t.Errorf("valid TOTP code: got %+v", result)
	}

	result, err = v.Verify(ctx, "acct-1", "000000")
	if err != nil {
		t.Fatal(err)
	}
	if result.IsValid {
		t.Error("bogus code verified")
	}
}

func TestVerifyAcceptsAdjacentStep(t *testing.T) {
	v, _, clock := newTestVault(t)
	ctx := context.Background()
	e := enroll(t, v, clock, "acct-1")

	// Code from one step ago stays valid under the configured skew.
	stale := codeAt(t, e.Secret, clock.Now().Add(-totpPeriod*time.Second))
	result, err := v.Verify(ctx, "acct-1", stale)
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsValid {
		t.Error("previous-step code rejected")
	}
}

func TestBackupCodeIsSingleUse(t *testing.T) {
	v, _, clock := newTestVault(t)
	ctx := context.Background()
	e := enroll(t, v, clock, "acct-1")

	code := e.BackupCodes[3]
	result, err := v.Verify(ctx, "acct-1", code)
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsValid || !result.IsBackupCode {
		t.Fatalf("backup code: got %+v", result)
	}
	if result.BackupCodesRemaining != BackupCodeCount-1 {
		t.Errorf("remaining = %d, want %d", result.BackupCodesRemaining, BackupCodeCount-1)
	}

	result, err = v.Verify(ctx, "acct-1", code)
	if err != nil {
		t.Fatal(err)
	}
	if result.IsValid {
		t.Error("spent backup code verified again")
	}
}

func TestBackupCodeNormalization(t *testing.T) {
	v, _, clock := newTestVault(t)
	ctx := context.Background()
	e := enroll(t, v, clock, "acct-1")

	// Lowercase without the dash still matches.
	raw := e.BackupCodes[0]
	loose := " " + strings.ToLower(raw[:4]+raw[5:]) + " "
	result, err := v.Verify(ctx, "acct-1", loose)
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsValid || !result.IsBackupCode {
		t.Errorf("normalized backup code: got %+v", result)
	}
}

func TestVerifyRequiresEnrollment(t *testing.T) {
	v, _, _ := newTestVault(t)

	_, err := v.Verify(context.Background(), "acct-none", "123456")
	var me *security.MFAError
	if !errors.As(err, &me) || me.Code != security.CodeMFANotEnabled {
		t.Errorf("got %v, want %s", err, security.CodeMFANotEnabled)
	}
}

func TestDisable(t *testing.T) {
	v, _, clock := newTestVault(t)
	ctx := context.Background()
	e := enroll(t, v, clock, "acct-1")

	if err := v.Disable(ctx, "acct-1", "000000"); err == nil {
		t.Fatal("disable succeeded with bad code")
	}

	if err := v.Disable(ctx, "acct-1", codeAt(t, e.Secret, clock.Now())); err != nil {
		t.Fatal(err)
	}
	enabled, err := v.Enabled(ctx, "acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if enabled {
		t.Error("account still enabled after disable")
	}
}

func TestRegenerateBackupCodes(t *testing.T) {
	v, _, clock := newTestVault(t)
	ctx := context.Background()
	e := enroll(t, v, clock, "acct-1")

	// Spend one so the used counter is nonzero.
	if _, err := v.Verify(ctx, "acct-1", e.BackupCodes[0]); err != nil {
		t.Fatal(err)
	}

	fresh, err := v.RegenerateBackupCodes(ctx, "acct-1", codeAt(t, e.Secret, clock.Now()))
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh) != BackupCodeCount {
		t.Fatalf("got %d fresh codes", len(fresh))
	}

	status, err := v.Status(ctx, "acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if status.BackupCodesRemaining != BackupCodeCount {
		t.Errorf("remaining = %d after regenerate", status.BackupCodesRemaining)
	}

	// Old codes are dead, fresh ones work.
	result, err := v.Verify(ctx, "acct-1", e.BackupCodes[5])
	if err != nil {
		t.Fatal(err)
	}
	if result.IsValid {
		t.Error("old backup code survived regeneration")
	}
	result, err = v.Verify(ctx, "acct-1", fresh[0])
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsValid {
		t.Error("fresh backup code rejected")
	}
}

func TestStatus(t *testing.T) {
	v, _, clock := newTestVault(t)
	ctx := context.Background()

	status, err := v.Status(ctx, "acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if status.Enabled {
		t.Error("unenrolled account reports enabled")
	}

	enroll(t, v, clock, "acct-1")

	status, err = v.Status(ctx, "acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if !status.Enabled || status.BackupCodesRemaining != BackupCodeCount {
		t.Errorf("got %+v", status)
	}
	if status.RecoveryEmail != "recovery@example.com" {
		t.Errorf("recovery email %q", status.RecoveryEmail)
	}
}

func TestEncryptionTogglesControlStorage(t *testing.T) {
	v, st, clock := newTestVault(t)
	ctx := context.Background()

	policy := domain.DefaultSecurityPolicy()
	policy.EncryptMFASecrets = false
	policy.EncryptBackupCodes = false
	if err := st.CreateSecurityPolicy(ctx, policy); err != nil {
		t.Fatal(err)
	}

	e := enroll(t, v, clock, "acct-1")

	stored, err := st.MFAEnrollment(ctx, "acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.EncryptedSecret != e.Secret {
		t.Error("secret not stored as-is with encrypt_mfa_secrets off")
	}
	plaintextCodes := 0
	for _, code := range e.BackupCodes {
		for _, storedCode := range stored.EncryptedBackupCodes {
			if storedCode == code {
				plaintextCodes++
				break
			}
		}
	}
	if plaintextCodes != BackupCodeCount {
		t.Errorf("%d backup codes stored as-is, want %d", plaintextCodes, BackupCodeCount)
	}

	// Verification still works against plaintext storage.
	result, err := v.Verify(ctx, "acct-1", codeAt(t, e.Secret, clock.Now()))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsValid {
		t.Error("TOTP verification failed against plaintext storage")
	}
	result, err = v.Verify(ctx, "acct-1", e.BackupCodes[0])
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsValid || !result.IsBackupCode {
		t.Errorf("backup code against plaintext storage: %+v", result)
	}
}

func TestDefaultPolicyEncryptsAtRest(t *testing.T) {
	v, st, clock := newTestVault(t)
	ctx := context.Background()

	e := enroll(t, v, clock, "acct-1")

	stored, err := st.MFAEnrollment(ctx, "acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.EncryptedSecret == e.Secret {
		t.Error("secret stored in the clear under the default policy")
	}
	for _, storedCode := range stored.EncryptedBackupCodes {
		for _, code := range e.BackupCodes {
			if storedCode == code {
				t.Fatalf("backup code %q stored in the clear under the default policy", code)
			}
		}
	}
}
