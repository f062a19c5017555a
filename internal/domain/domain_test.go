// Copyright (c) 2025 Meridian GRC
// SPDX-License-Identifier: AGPL-3.0-or-later

package domain

import (
	"testing"
	"time"
)

func TestNormalizeEmail(t *testing.T) {
	cases := map[string]string{
		"User@Example.COM":    "user@example.com",
		"  user@example.com ": "user@example.com",
		"user@example.com":    "user@example.com",
	}
	for in, want := range cases {
		if got := NormalizeEmail(in); got != want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSafeStripsCredentialMaterial(t *testing.T) {
	account := &Account{
		ID:           "acct-1",
		Email:        "user@example.com",
		PasswordHash: "$2a$12$secret",
		IsAdmin:      true,
	}
	safe := account.Safe()
	if safe.ID != account.ID || safe.Email != account.Email || !safe.IsAdmin {
		t.Errorf("Safe() = %+v", safe)
	}
}

func TestClampRisk(t *testing.T) {
	cases := map[int]int{-5: 0, 0: 0, 42: 42, 100: 100, 130: 100}
	for in, want := range cases {
		if got := ClampRisk(in); got != want {
			t.Errorf("ClampRisk(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestBaseRiskScores(t *testing.T) {
	cases := map[EventType]int{
		EventLoginFailed:        30,
		EventMFADisabled:        40,
		EventSuspiciousActivity: 80,
		EventAccountLocked:      50,
		EventPasswordChanged:    20,
		EventSessionRevoked:     15,
		EventLoginSuccess:       10,
	}
	for eventType, want := range cases {
		if got := eventType.BaseRiskScore(); got != want {
			t.Errorf("%s base score = %d, want %d", eventType, got, want)
		}
	}
}

func TestSessionExpiry(t *testing.T) {
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	session := &UserSession{ExpiresAt: now}
	if session.IsExpired(now) {
		t.Error("session expired exactly at its deadline")
	}
	if !session.IsExpired(now.Add(time.Second)) {
		t.Error("session not expired past its deadline")
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := DefaultSecurityPolicy().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}

	mutations := []func(*SecurityPolicy){
		func(p *SecurityPolicy) { p.PasswordMinLength = 0 },
		func(p *SecurityPolicy) { p.PasswordMaxLength = p.PasswordMinLength - 1 },
		func(p *SecurityPolicy) { p.MaxLoginAttempts = 0 },
		func(p *SecurityPolicy) { p.LockoutDurationMinutes = 0 },
		func(p *SecurityPolicy) { p.SessionTimeoutMinutes = 0 },
		func(p *SecurityPolicy) { p.MaxConcurrentSessions = 0 },
		func(p *SecurityPolicy) { p.AuditRetentionDays = 0 },
	}
	for i, mutate := range mutations {
		policy := DefaultSecurityPolicy()
		mutate(policy)
		if err := policy.Validate(); err == nil {
			t.Errorf("mutation %d accepted", i)
		}
	}
}
