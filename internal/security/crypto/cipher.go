// Copyright (c) 2025 Meridian GRC
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package crypto provides the secret cipher for values that must never be
// stored in plaintext: AES-256-GCM authenticated encryption, PBKDF2-SHA-256
// keyed hashing, and secure random generation for tokens and backup codes.
//
// Every encrypted blob is nonce || ciphertext || tag with a fresh random
// nonce per call, so decryption of tampered or corrupt input fails
// deterministically instead of returning altered plaintext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"

	"github.com/meridian-grc/meridian/internal/security"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// KeySize is the AES-256 key size (32 bytes).
	KeySize = 32

	// NonceSize is the AES-GCM nonce size (12 bytes / 96 bits).
	NonceSize = 12

	// SaltSize is the salt size for keyed hashing (32 bytes).
	SaltSize = 32

	// PBKDF2Iterations follows the OWASP recommendation for PBKDF2-SHA-256.
	PBKDF2Iterations = 600000

	// BackupCodeCharset deliberately omits 0/O and 1/I.
	BackupCodeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	// TokenCharset is the hex alphabet used for session and reset tokens.
	TokenCharset = "0123456789abcdef"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidKeySize indicates the supplied master key is not 32 bytes.
	ErrInvalidKeySize = security.NewCryptoError(security.CodeCryptoFailure,
		fmt.Sprintf("encryption key must be exactly %d bytes", KeySize), nil)

	// ErrInvalidCiphertext indicates a blob too short to contain a nonce
	// and integrity tag, or one that is not valid base64.
	ErrInvalidCiphertext = security.NewCryptoError(security.CodeCryptoFailure,
		"invalid ciphertext format", nil)

	// ErrDecryptFailed indicates a wrong key or tampered data.
	ErrDecryptFailed = security.NewCryptoError(security.CodeCryptoFailure,
		"decryption failed: authentication tag mismatch", nil)
)

// ZeroBytes zeros sensitive byte slices to limit key material exposure in
// memory dumps.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// =============================================================================
// CIPHER
// =============================================================================

// Cipher seals and opens secrets with one process-lifetime master key. It
// is safe for concurrent use; the AEAD itself is stateless per call.
type Cipher struct {
	aead cipher.AEAD
	// hashKey keys the PBKDF2 layer so keyed hashes are bound to this
	// deployment, derived from the master key.
	hashKey []byte
	logger  *zap.Logger
}

// New creates a cipher from a fixed-length master key supplied once at
// process start. Production must fail fast here when no key is configured.
func New(key []byte, logger *zap.Logger) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, security.NewCryptoError(security.CodeCryptoFailure, "failed to create AES cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, security.NewCryptoError(security.CodeCryptoFailure, "failed to create GCM cipher", err)
	}

	hashKey := sha256.Sum256(append([]byte("meridian-hash-key:"), key...))

	return &Cipher{aead: aead, hashKey: hashKey[:], logger: logger}, nil
}

// NewEphemeral creates a cipher with a random per-process key. Anything it
// encrypts is unreadable after restart; this exists for tests and local
// development only, and logs a warning so it cannot slip into production
// silently.
func NewEphemeral(logger *zap.Logger) (*Cipher, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, security.NewCryptoError(security.CodeCryptoFailure, "failed to generate ephemeral key", err)
	}
	defer ZeroBytes(key)

	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Warn("no encryption key configured; using ephemeral per-process key",
		zap.String("impact", "encrypted secrets will be unreadable after restart"))

	return New(key, logger)
}

// =============================================================================
// ENCRYPTION
// =============================================================================

// Encrypt seals plaintext and returns a base64 blob encoding
// nonce || ciphertext || tag. A fresh random nonce is drawn per call.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", security.NewCryptoError(security.CodeCryptoFailure, "failed to generate nonce", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// EncryptString seals a string value.
func (c *Cipher) EncryptString(plaintext string) (string, error) {
	return c.Encrypt([]byte(plaintext))
}

// Decrypt opens a blob produced by Encrypt. Tampered or truncated input
// fails with ErrDecryptFailed; the cipher never returns altered plaintext.
func (c *Cipher) Decrypt(blob string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	if len(sealed) < NonceSize+c.aead.Overhead() {
		return nil, ErrInvalidCiphertext
	}
	nonce, ciphertext := sealed[:NonceSize], sealed[NonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		c.logger.Warn("decryption failure", zap.Error(err))
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// DecryptString opens a blob into a string.
func (c *Cipher) DecryptString(blob string) (string, error) {
	plaintext, err := c.Decrypt(blob)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// =============================================================================
// KEYED HASHING
// =============================================================================

// HashResult carries a keyed hash and the salt it was derived with, both
// hex-encoded.
type HashResult struct {
	Hash string
	Salt string
}

// Hash derives a slow salted hash of value with PBKDF2-SHA-256. When salt
// is empty a fresh random salt is generated and returned alongside the
// hash.
func (c *Cipher) Hash(value, salt string) (*HashResult, error) {
	var saltBytes []byte
	if salt == "" {
		saltBytes = make([]byte, SaltSize)
		if _, err := io.ReadFull(rand.Reader, saltBytes); err != nil {
			return nil, security.NewCryptoError(security.CodeCryptoFailure, "failed to generate salt", err)
		}
	} else {
		var err error
		saltBytes, err = hex.DecodeString(salt)
		if err != nil {
			return nil, security.NewCryptoError(security.CodeCryptoFailure, "invalid salt encoding", err)
		}
	}

	keyed := append(append([]byte{}, c.hashKey...), saltBytes...)
	derived := pbkdf2.Key([]byte(value), keyed, PBKDF2Iterations, 32, sha256.New)

	return &HashResult{
		Hash: hex.EncodeToString(derived),
		Salt: hex.EncodeToString(saltBytes),
	}, nil
}

// VerifyHash re-derives the keyed hash and compares in constant time.
func (c *Cipher) VerifyHash(value, hash, salt string) bool {
	result, err := c.Hash(value, salt)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(result.Hash), []byte(hash)) == 1
}

// =============================================================================
// RANDOM GENERATION
// =============================================================================

// SecureRandomString draws length characters uniformly from charset using
// crypto/rand. Rejection sampling avoids modulo bias.
func SecureRandomString(length int, charset string) (string, error) {
	if length <= 0 || charset == "" {
		return "", security.NewCryptoError(security.CodeCryptoFailure, "invalid random string parameters", nil)
	}

	var sb strings.Builder
	sb.Grow(length)

	// Largest multiple of len(charset) below 256; bytes at or above it are
	// rejected to keep the draw uniform.
	limit := byte(256 - (256 % len(charset)))
	buf := make([]byte, 64)

	for sb.Len() < length {
		if _, err := io.ReadFull(rand.Reader, buf); err != nil {
			return "", security.NewCryptoError(security.CodeCryptoFailure, "failed to read random bytes", err)
		}
		for _, b := range buf {
			if limit != 0 && b >= limit {
				continue
			}
			sb.WriteByte(charset[int(b)%len(charset)])
			if sb.Len() == length {
				break
			}
		}
	}

	return sb.String(), nil
}

// SecureToken returns a 64-character hex token (256 bits of entropy), the
// format used for session and reset tokens.
func SecureToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", security.NewCryptoError(security.CodeCryptoFailure, "failed to generate token", err)
	}
	return hex.EncodeToString(buf), nil
}

// GenerateBackupCodes produces count single-use recovery codes in
// XXXX-XXXX form from the unambiguous charset.
func GenerateBackupCodes(count int) ([]string, error) {
	codes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		raw, err := SecureRandomString(8, BackupCodeCharset)
		if err != nil {
			return nil, err
		}
		codes = append(codes, raw[:4]+"-"+raw[4:])
	}
	return codes, nil
}
