// Copyright (c) 2025 Meridian GRC
// SPDX-License-Identifier: AGPL-3.0-or-later

package crypto

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func testCipher(t *testing.T) *Cipher {
	t.Helper()
	key := bytes.Repeat([]byte{0x42}, KeySize)
	c, err := New(key, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewRejectsBadKeySizes(t *testing.T) {
	for _, size := range []int{0, 16, 31, 33, 64} {
		if _, err := New(make([]byte, size), nil); err == nil {
			t.Errorf("New accepted %d-byte key", size)
		}
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := testCipher(t)

	cases := []string{
		"",
		"s",
		"JBSWY3DPEHPK3PXP",
		strings.Repeat("long secret material ", 100),
		"unicode: ünïcödé 日本語",
	}
	for _, plaintext := range cases {
		blob, err := c.EncryptString(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plaintext, err)
		}
		got, err := c.DecryptString(blob)
		if err != nil {
			t.Fatalf("Decrypt(%q): %v", plaintext, err)
		}
		if got != plaintext {
			t.Errorf("round trip: got %q, want %q", got, plaintext)
		}
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	c := testCipher(t)

	a, err := c.EncryptString("same plaintext")
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.EncryptString("same plaintext")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical blobs")
	}
}

func TestDecryptRejectsTamperedBlob(t *testing.T) {
	c := testCipher(t)

	blob, err := c.EncryptString("sensitive")
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := base64.StdEncoding.DecodeString(blob)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	if _, err := c.DecryptString(tampered); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("tampered blob: got %v, want ErrDecryptFailed", err)
	}
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	c := testCipher(t)

	cases := []string{
		"not base64 at all!!!",
		base64.StdEncoding.EncodeToString([]byte("short")),
		"",
	}
	for _, blob := range cases {
		if _, err := c.Decrypt(blob); err == nil {
			t.Errorf("Decrypt(%q) succeeded on malformed input", blob)
		}
	}
}

func TestDecryptFailsWithDifferentKey(t *testing.T) {
	a := testCipher(t)
	b, err := New(bytes.Repeat([]byte{0x99}, KeySize), nil)
	if err != nil {
		t.Fatal(err)
	}

	blob, err := a.EncryptString("secret")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.DecryptString(blob); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("wrong key: got %v, want ErrDecryptFailed", err)
	}
}

func TestKeyedHashVerify(t *testing.T) {
	c := testCipher(t)

	result, err := c.Hash("reset-token-value", "")
	if err != nil {
		t.Fatal(err)
	}
	if result.Hash == "" || result.Salt == "" {
		t.Fatal("empty hash or salt")
	}

	if !c.VerifyHash("reset-token-value", result.Hash, result.Salt) {
		t.Error("VerifyHash rejected the original value")
	}
	if c.VerifyHash("different-value", result.Hash, result.Salt) {
		t.Error("VerifyHash accepted a different value")
	}
	if c.VerifyHash("reset-token-value", result.Hash, "abcd") {
		t.Error("VerifyHash accepted a mismatched salt")
	}
}

func TestKeyedHashIsDeploymentBound(t *testing.T) {
	a := testCipher(t)
	b, err := New(bytes.Repeat([]byte{0x99}, KeySize), nil)
	if err != nil {
		t.Fatal(err)
	}

	result, err := a.Hash("value", "")
	if err != nil {
		t.Fatal(err)
	}
	if b.VerifyHash("value", result.Hash, result.Salt) {
		t.Error("hash verified under a different master key")
	}
}

func TestSecureToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		token, err := SecureToken()
		if err != nil {
			t.Fatal(err)
		}
		if len(token) != 64 {
			t.Fatalf("token length %d, want 64", len(token))
		}
		for _, r := range token {
			if !strings.ContainsRune(TokenCharset, r) {
				t.Fatalf("token contains %q outside hex alphabet", r)
			}
		}
		if seen[token] {
			t.Fatal("duplicate token generated")
		}
		seen[token] = true
	}
}

func TestGenerateBackupCodes(t *testing.T) {
	codes, err := GenerateBackupCodes(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(codes) != 10 {
		t.Fatalf("got %d codes, want 10", len(codes))
	}

	seen := make(map[string]bool)
	for _, code := range codes {
		if len(code) != 9 || code[4] != '-' {
			t.Errorf("code %q is not XXXX-XXXX", code)
		}
		for _, r := range strings.ReplaceAll(code, "-", "") {
			if !strings.ContainsRune(BackupCodeCharset, r) {
				t.Errorf("code %q contains ambiguous character %q", code, r)
			}
		}
		if seen[code] {
			t.Errorf("duplicate code %q", code)
		}
		seen[code] = true
	}
}

func TestSecureRandomStringRejectsBadInput(t *testing.T) {
	if _, err := SecureRandomString(0, "abc"); err == nil {
		t.Error("accepted zero length")
	}
	if _, err := SecureRandomString(8, ""); err == nil {
		t.Error("accepted empty charset")
	}
}

func TestNewEphemeral(t *testing.T) {
	c, err := NewEphemeral(nil)
	if err != nil {
		t.Fatal(err)
	}
	blob, err := c.EncryptString("ephemeral")
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.DecryptString(blob)
	if err != nil {
		t.Fatal(err)
	}
	if got != "ephemeral" {
		t.Errorf("got %q", got)
	}
}
