// Copyright (c) 2025 Meridian GRC
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/meridian-grc/meridian/internal/domain"
)

var base = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

// eachStore runs the suite against both bundled implementations so the
// port semantics stay identical across engines.
func eachStore(t *testing.T, fn func(t *testing.T, st Store, seed func(*domain.Account))) {
	t.Run("memory", func(t *testing.T) {
		m := NewMemory()
		fn(t, m, func(a *domain.Account) { m.CreateAccount(a) })
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "meridian.db"))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { s.Close() })
		fn(t, s, func(a *domain.Account) {
			if err := s.CreateAccount(context.Background(), a); err != nil {
				t.Fatal(err)
			}
		})
	})
}

func testAccount(id, email string) *domain.Account {
	return &domain.Account{
		ID:           id,
		Email:        email,
		PasswordHash: "$2a$12$fakehashfakehashfakehash",
		CreatedAt:    base,
		UpdatedAt:    base,
	}
}

func TestAccounts(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store, seed func(*domain.Account)) {
		ctx := context.Background()
		seed(testAccount("acct-1", "user@example.com"))

		account, err := st.AccountByEmail(ctx, "user@example.com")
		if err != nil {
			t.Fatal(err)
		}
		if account.ID != "acct-1" {
			t.Errorf("ID %q", account.ID)
		}

		if _, err := st.AccountByEmail(ctx, "missing@example.com"); !errors.Is(err, ErrNotFound) {
			t.Errorf("missing email: %v", err)
		}
		if _, err := st.AccountByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("missing id: %v", err)
		}

		at := base.Add(time.Hour)
		if err := st.UpdateAccountPasswordHash(ctx, "acct-1", "new-hash", at); err != nil {
			t.Fatal(err)
		}
		account, err = st.AccountByID(ctx, "acct-1")
		if err != nil {
			t.Fatal(err)
		}
		if account.PasswordHash != "new-hash" {
			t.Errorf("hash %q", account.PasswordHash)
		}
		if !account.UpdatedAt.Equal(at) {
			t.Errorf("UpdatedAt %v", account.UpdatedAt)
		}

		if err := st.UpdateAccountPasswordHash(ctx, "missing", "h", at); !errors.Is(err, ErrNotFound) {
			t.Errorf("missing update: %v", err)
		}
	})
}

func TestFailedLoginAttempts(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store, seed func(*domain.Account)) {
		ctx := context.Background()

		mk := func(id, accountID, ip string, at time.Time) {
			err := st.CreateFailedLoginAttempt(ctx, &domain.FailedLoginAttempt{
				ID: id, AccountID: accountID, Email: "user@example.com",
				IP: ip, Reason: domain.FailureInvalidPassword, CreatedAt: at,
			})
			if err != nil {
				t.Fatal(err)
			}
		}
		mk("a1", "acct-1", "203.0.113.9", base)
		mk("a2", "acct-1", "203.0.113.9", base.Add(10*time.Minute))
		mk("a3", "acct-2", "203.0.113.9", base.Add(20*time.Minute))
		mk("a4", "acct-1", "198.51.100.7", base.Add(-2*time.Hour))

		got, err := st.FailedLoginAttempts(ctx, FailedAttemptFilter{AccountID: "acct-1"})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 3 {
			t.Errorf("account filter: %d attempts", len(got))
		}

		got, err = st.FailedLoginAttempts(ctx, FailedAttemptFilter{AccountID: "acct-1", Since: base.Add(-time.Minute)})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 {
			t.Errorf("windowed filter: %d attempts", len(got))
		}

		got, err = st.FailedLoginAttempts(ctx, FailedAttemptFilter{IP: "203.0.113.9"})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 3 {
			t.Errorf("ip filter: %d attempts", len(got))
		}

		removed, err := st.DeleteFailedLoginAttemptsBefore(ctx, base.Add(-time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if removed != 1 {
			t.Errorf("retention removed %d", removed)
		}

		removed, err = st.DeleteFailedLoginAttemptsForAccount(ctx, "acct-1")
		if err != nil {
			t.Fatal(err)
		}
		if removed != 2 {
			t.Errorf("unlock removed %d", removed)
		}
		got, err = st.FailedLoginAttempts(ctx, FailedAttemptFilter{AccountID: "acct-2"})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 {
			t.Errorf("other account's attempts touched: %d left", len(got))
		}
	})
}

func TestSecurityPolicySingleton(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store, seed func(*domain.Account)) {
		ctx := context.Background()

		if _, err := st.SecurityPolicy(ctx); !errors.Is(err, ErrNotFound) {
			t.Fatalf("empty store: %v", err)
		}

		policy := domain.DefaultSecurityPolicy()
		if err := st.CreateSecurityPolicy(ctx, policy); err != nil {
			t.Fatal(err)
		}
		got, err := st.SecurityPolicy(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got.MaxLoginAttempts != policy.MaxLoginAttempts {
			t.Errorf("round trip: %+v", got)
		}

		got.MaxLoginAttempts = 7
		got.CaptchaEnabled = false
		if err := st.UpdateSecurityPolicy(ctx, got); err != nil {
			t.Fatal(err)
		}
		again, err := st.SecurityPolicy(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if again.MaxLoginAttempts != 7 || again.CaptchaEnabled {
			t.Errorf("update lost: %+v", again)
		}
	})
}

func testSession(id, token, accountID string, at time.Time) *domain.UserSession {
	return &domain.UserSession{
		ID:           id,
		Token:        token,
		AccountID:    accountID,
		Status:       domain.SessionActive,
		IP:           "203.0.113.9",
		Location:     &domain.Location{Country: "US", City: "Denver"},
		RiskScore:    10,
		IsTrusted:    true,
		CreatedAt:    at,
		LastActivity: at,
		ExpiresAt:    at.Add(time.Hour),
	}
}

func TestSessions(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store, seed func(*domain.Account)) {
		ctx := context.Background()

		if err := st.CreateSession(ctx, testSession("s1", "tok-1", "acct-1", base)); err != nil {
			t.Fatal(err)
		}
		if err := st.CreateSession(ctx, testSession("s2", "tok-2", "acct-1", base.Add(time.Minute))); err != nil {
			t.Fatal(err)
		}

		sess, err := st.SessionByToken(ctx, "tok-1")
		if err != nil {
			t.Fatal(err)
		}
		if sess.ID != "s1" || sess.Location == nil || sess.Location.Country != "US" {
			t.Errorf("round trip: %+v", sess)
		}
		if _, err := st.SessionByToken(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("missing token: %v", err)
		}

		at := base.Add(30 * time.Minute)
		if err := st.TouchSessionActivity(ctx, "tok-1", at); err != nil {
			t.Fatal(err)
		}
		sess, err = st.SessionByToken(ctx, "tok-1")
		if err != nil {
			t.Fatal(err)
		}
		if !sess.LastActivity.Equal(at) {
			t.Errorf("LastActivity %v", sess.LastActivity)
		}

		if err := st.RevokeSession(ctx, "tok-2", "logout"); err != nil {
			t.Fatal(err)
		}
		sess, err = st.SessionByToken(ctx, "tok-2")
		if err != nil {
			t.Fatal(err)
		}
		if sess.Status != domain.SessionRevoked || sess.RevokeReason != "logout" {
			t.Errorf("revoked session: %+v", sess)
		}

		active, err := st.Sessions(ctx, "acct-1", SessionFilter{Status: domain.SessionActive})
		if err != nil {
			t.Fatal(err)
		}
		if len(active) != 1 || active[0].ID != "s1" {
			t.Errorf("active filter: %+v", active)
		}

		all, err := st.Sessions(ctx, "acct-1", SessionFilter{})
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 2 {
			t.Errorf("unfiltered: %d sessions", len(all))
		}

		removed, err := st.DeleteExpiredSessions(ctx, base.Add(2*time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if removed != 2 {
			t.Errorf("expired cleanup removed %d", removed)
		}
	})
}

func TestSecurityEvents(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store, seed func(*domain.Account)) {
		ctx := context.Background()

		mk := func(id, accountID, ip string, eventType domain.EventType, success bool, at time.Time) {
			err := st.CreateSecurityEvent(ctx, &domain.SecurityEvent{
				ID: id, AccountID: accountID, Type: eventType,
				Description: "test event", IP: ip, Success: success,
				RiskScore: 50, CreatedAt: at,
			})
			if err != nil {
				t.Fatal(err)
			}
		}
		mk("e1", "acct-1", "203.0.113.9", domain.EventLoginFailed, false, base)
		mk("e2", "acct-1", "203.0.113.9", domain.EventLoginSuccess, true, base.Add(time.Minute))
		mk("e3", "acct-2", "203.0.113.9", domain.EventLoginFailed, false, base.Add(2*time.Minute))
		mk("e4", "acct-1", "198.51.100.7", domain.EventLoginFailed, false, base.Add(-2*time.Hour))

		events, err := st.SecurityEventsSince(ctx, base.Add(-time.Minute))
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 3 {
			t.Errorf("since filter: %d events", len(events))
		}

		events, err = st.SecurityEventsForAccount(ctx, "acct-1", EventFilter{
			Since:      base.Add(-time.Minute),
			Types:      []domain.EventType{domain.EventLoginFailed},
			FailedOnly: true,
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 1 || events[0].ID != "e1" {
			t.Errorf("account filter: %+v", events)
		}

		events, err = st.SecurityEventsForIP(ctx, "203.0.113.9", EventFilter{FailedOnly: true})
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 2 {
			t.Errorf("ip filter: %d events", len(events))
		}

		removed, err := st.DeleteSecurityEventsBefore(ctx, base.Add(-time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if removed != 1 {
			t.Errorf("retention removed %d", removed)
		}
	})
}

func TestMFAEnrollments(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store, seed func(*domain.Account)) {
		ctx := context.Background()

		if _, err := st.MFAEnrollment(ctx, "acct-1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("missing enrollment: %v", err)
		}

		enrollment := &domain.MfaEnrollment{
			AccountID:       "acct-1",
			Enabled:         true,
			EncryptedSecret: "sealed-secret",
			EncryptedBackupCodes: map[string]string{
				"id-1": "sealed-1",
				"id-2": "sealed-2",
			},
			RecoveryEmail: "recovery@example.com",
			VerifiedAt:    base,
			CreatedAt:     base,
			UpdatedAt:     base,
		}
		if err := st.UpsertMFAEnrollment(ctx, enrollment); err != nil {
			t.Fatal(err)
		}

		got, err := st.MFAEnrollment(ctx, "acct-1")
		if err != nil {
			t.Fatal(err)
		}
		if !got.Enabled || got.EncryptedSecret != "sealed-secret" || len(got.EncryptedBackupCodes) != 2 {
			t.Errorf("round trip: %+v", got)
		}

		delete(got.EncryptedBackupCodes, "id-1")
		got.BackupCodesUsed = 1
		if err := st.UpdateMFAEnrollment(ctx, got); err != nil {
			t.Fatal(err)
		}
		again, err := st.MFAEnrollment(ctx, "acct-1")
		if err != nil {
			t.Fatal(err)
		}
		if len(again.EncryptedBackupCodes) != 1 || again.BackupCodesUsed != 1 {
			t.Errorf("update lost: %+v", again)
		}

		// Upsert replaces wholesale.
		if err := st.UpsertMFAEnrollment(ctx, &domain.MfaEnrollment{AccountID: "acct-1"}); err != nil {
			t.Fatal(err)
		}
		cleared, err := st.MFAEnrollment(ctx, "acct-1")
		if err != nil {
			t.Fatal(err)
		}
		if cleared.Enabled || cleared.EncryptedSecret != "" {
			t.Errorf("upsert did not replace: %+v", cleared)
		}
	})
}

func TestResetTokens(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store, seed func(*domain.Account)) {
		ctx := context.Background()

		token := &domain.PasswordResetToken{
			ID:        "tok-1",
			AccountID: "acct-1",
			TokenHash: "lookup-hash",
			KeyedHash: "keyed-hash",
			KeySalt:   "salt",
			IP:        "203.0.113.9",
			ExpiresAt: base.Add(time.Hour),
			CreatedAt: base,
		}
		if err := st.CreateResetToken(ctx, token); err != nil {
			t.Fatal(err)
		}

		got, err := st.ResetTokenByHash(ctx, "lookup-hash")
		if err != nil {
			t.Fatal(err)
		}
		if got.ID != "tok-1" || got.IsUsed() {
			t.Errorf("round trip: %+v", got)
		}
		if _, err := st.ResetTokenByHash(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("missing hash: %v", err)
		}

		if err := st.MarkResetTokenUsed(ctx, "tok-1", base.Add(time.Minute)); err != nil {
			t.Fatal(err)
		}
		got, err = st.ResetTokenByHash(ctx, "lookup-hash")
		if err != nil {
			t.Fatal(err)
		}
		if !got.IsUsed() {
			t.Error("token not marked used")
		}

		// The mark is check-and-set: a second marker loses.
		if err := st.MarkResetTokenUsed(ctx, "tok-1", base.Add(2*time.Minute)); !errors.Is(err, ErrNotFound) {
			t.Errorf("second mark: %v", err)
		}

		removed, err := st.DeleteExpiredResetTokens(ctx, base.Add(2*time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if removed != 1 {
			t.Errorf("expiry cleanup removed %d", removed)
		}
	})
}

func TestMarkResetTokenUsedSingleWinner(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store, seed func(*domain.Account)) {
		ctx := context.Background()

		if err := st.CreateResetToken(ctx, &domain.PasswordResetToken{
			ID: "tok-race", AccountID: "acct-1", TokenHash: "race-hash",
			ExpiresAt: base.Add(time.Hour), CreatedAt: base,
		}); err != nil {
			t.Fatal(err)
		}

		var wg sync.WaitGroup
		wins := make(chan struct{}, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := st.MarkResetTokenUsed(ctx, "tok-race", base.Add(time.Minute)); err == nil {
					wins <- struct{}{}
				}
			}()
		}
		wg.Wait()
		close(wins)

		won := 0
		for range wins {
			won++
		}
		if won != 1 {
			t.Errorf("%d winners, want exactly 1", won)
		}
	})
}
