// Copyright (c) 2025 Meridian GRC
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/meridian-grc/meridian/internal/domain"
)

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	is_admin      INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS failed_login_attempts (
	id         TEXT PRIMARY KEY,
	account_id TEXT,
	email      TEXT NOT NULL,
	ip         TEXT NOT NULL,
	user_agent TEXT,
	reason     TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_account ON failed_login_attempts(account_id, created_at);
CREATE INDEX IF NOT EXISTS idx_attempts_ip ON failed_login_attempts(ip, created_at);

CREATE TABLE IF NOT EXISTS security_policy (
	id   INTEGER PRIMARY KEY CHECK (id = 1),
	data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	token         TEXT NOT NULL UNIQUE,
	account_id    TEXT NOT NULL,
	status        TEXT NOT NULL,
	device_label  TEXT,
	browser       TEXT,
	os            TEXT,
	ip            TEXT,
	location      TEXT,
	is_trusted    INTEGER NOT NULL DEFAULT 0,
	risk_score    INTEGER NOT NULL DEFAULT 0,
	revoke_reason TEXT,
	created_at    TIMESTAMP NOT NULL,
	last_activity TIMESTAMP NOT NULL,
	expires_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_account ON sessions(account_id, status);

CREATE TABLE IF NOT EXISTS security_events (
	id          TEXT PRIMARY KEY,
	account_id  TEXT,
	type        TEXT NOT NULL,
	description TEXT,
	ip          TEXT,
	user_agent  TEXT,
	success     INTEGER NOT NULL,
	risk_score  INTEGER NOT NULL,
	location    TEXT,
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_account ON security_events(account_id, created_at);
CREATE INDEX IF NOT EXISTS idx_events_ip ON security_events(ip, created_at);

CREATE TABLE IF NOT EXISTS mfa_enrollments (
	account_id        TEXT PRIMARY KEY,
	enabled           INTEGER NOT NULL,
	encrypted_secret  TEXT,
	backup_codes      TEXT,
	backup_codes_used INTEGER NOT NULL DEFAULT 0,
	recovery_email    TEXT,
	verified_at       TIMESTAMP,
	created_at        TIMESTAMP NOT NULL,
	updated_at        TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS password_reset_tokens (
	id         TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	token_hash TEXT NOT NULL UNIQUE,
	keyed_hash TEXT NOT NULL,
	key_salt   TEXT NOT NULL,
	ip         TEXT,
	user_agent TEXT,
	expires_at TIMESTAMP NOT NULL,
	used_at    TIMESTAMP,
	created_at TIMESTAMP NOT NULL
);
`

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLite is the bundled Store implementation on a single SQLite database.
// It suits single-node deployments; larger installations put a server-grade
// engine behind the same port.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema. Use ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error { return s.db.Close() }

// CreateAccount seeds an account. Not part of the Store port; see
// Memory.CreateAccount.
func (s *SQLite) CreateAccount(ctx context.Context, account *domain.Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, password_hash, is_admin, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		account.ID, domain.NormalizeEmail(account.Email), account.PasswordHash, account.IsAdmin, account.CreatedAt, account.UpdatedAt)
	return err
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (s *SQLite) AccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, is_admin, created_at, updated_at FROM accounts WHERE email = ?`,
		domain.NormalizeEmail(email)))
}

func (s *SQLite) AccountByID(ctx context.Context, id string) (*domain.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, is_admin, created_at, updated_at FROM accounts WHERE id = ?`, id))
}

func (s *SQLite) scanAccount(row *sql.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.IsAdmin, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLite) UpdateAccountPasswordHash(ctx context.Context, accountID, hash string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET password_hash = ?, updated_at = ? WHERE id = ?`, hash, at, accountID)
	if err != nil {
		return err
	}
	return requireRows(res)
}

// =============================================================================
// FAILED LOGIN ATTEMPTS
// =============================================================================

func (s *SQLite) CreateFailedLoginAttempt(ctx context.Context, attempt *domain.FailedLoginAttempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO failed_login_attempts (id, account_id, email, ip, user_agent, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID, nullable(attempt.AccountID), attempt.Email, attempt.IP, attempt.UserAgent, attempt.Reason, attempt.CreatedAt)
	return err
}

func (s *SQLite) FailedLoginAttempts(ctx context.Context, filter FailedAttemptFilter) ([]domain.FailedLoginAttempt, error) {
	query := `SELECT id, COALESCE(account_id, ''), email, ip, COALESCE(user_agent, ''), reason, created_at
		FROM failed_login_attempts WHERE 1=1`
	var args []any
	if filter.AccountID != "" {
		query += ` AND account_id = ?`
		args = append(args, filter.AccountID)
	}
	if filter.IP != "" {
		query += ` AND ip = ?`
		args = append(args, filter.IP)
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FailedLoginAttempt
	for rows.Next() {
		var a domain.FailedLoginAttempt
		if err := rows.Scan(&a.ID, &a.AccountID, &a.Email, &a.IP, &a.UserAgent, &a.Reason, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLite) DeleteFailedLoginAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM failed_login_attempts WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLite) DeleteFailedLoginAttemptsForAccount(ctx context.Context, accountID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM failed_login_attempts WHERE account_id = ?`, accountID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// =============================================================================
// SECURITY POLICY
// =============================================================================

func (s *SQLite) SecurityPolicy(ctx context.Context) (*domain.SecurityPolicy, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM security_policy WHERE id = 1`).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var policy domain.SecurityPolicy
	if err := json.Unmarshal([]byte(data), &policy); err != nil {
		return nil, fmt.Errorf("failed to decode security policy: %w", err)
	}
	return &policy, nil
}

func (s *SQLite) CreateSecurityPolicy(ctx context.Context, policy *domain.SecurityPolicy) error {
	data, err := json.Marshal(policy)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO security_policy (id, data) VALUES (1, ?)`, string(data))
	return err
}

func (s *SQLite) UpdateSecurityPolicy(ctx context.Context, policy *domain.SecurityPolicy) error {
	data, err := json.Marshal(policy)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE security_policy SET data = ? WHERE id = 1`, string(data))
	if err != nil {
		return err
	}
	return requireRows(res)
}

// =============================================================================
// SESSIONS
// =============================================================================

func (s *SQLite) CreateSession(ctx context.Context, session *domain.UserSession) error {
	location, err := encodeLocation(session.Location)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, token, account_id, status, device_label, browser, os, ip, location,
			is_trusted, risk_score, revoke_reason, created_at, last_activity, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.Token, session.AccountID, string(session.Status), session.DeviceLabel,
		session.Browser, session.OS, session.IP, location, session.IsTrusted, session.RiskScore,
		session.RevokeReason, session.CreatedAt, session.LastActivity, session.ExpiresAt)
	return err
}

const sessionColumns = `id, token, account_id, status, COALESCE(device_label, ''), COALESCE(browser, ''),
	COALESCE(os, ''), COALESCE(ip, ''), COALESCE(location, ''), is_trusted, risk_score,
	COALESCE(revoke_reason, ''), created_at, last_activity, expires_at`

func (s *SQLite) SessionByToken(ctx context.Context, token string) (*domain.UserSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token = ?`, token)
	session, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return session, err
}

func scanSession(scan func(...any) error) (*domain.UserSession, error) {
	var sess domain.UserSession
	var status, location string
	if err := scan(&sess.ID, &sess.Token, &sess.AccountID, &status, &sess.DeviceLabel, &sess.Browser,
		&sess.OS, &sess.IP, &location, &sess.IsTrusted, &sess.RiskScore, &sess.RevokeReason,
		&sess.CreatedAt, &sess.LastActivity, &sess.ExpiresAt); err != nil {
		return nil, err
	}
	sess.Status = domain.SessionStatus(status)
	loc, err := decodeLocation(location)
	if err != nil {
		return nil, err
	}
	sess.Location = loc
	return &sess, nil
}

func (s *SQLite) TouchSessionActivity(ctx context.Context, token string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_activity = ? WHERE token = ?`, at, token)
	if err != nil {
		return err
	}
	return requireRows(res)
}

func (s *SQLite) RevokeSession(ctx context.Context, token, reason string) error {
	status := domain.SessionRevoked
	if reason == "expired" {
		status = domain.SessionExpired
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, revoke_reason = ? WHERE token = ?`, string(status), reason, token)
	if err != nil {
		return err
	}
	return requireRows(res)
}

func (s *SQLite) Sessions(ctx context.Context, accountID string, filter SessionFilter) ([]domain.UserSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE account_id = ?`
	args := []any{accountID}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since)
	}
	if filter.IP != "" {
		query += ` AND ip = ?`
		args = append(args, filter.IP)
	}
	query += ` ORDER BY last_activity DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.UserSession
	for rows.Next() {
		session, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *session)
	}
	return out, rows.Err()
}

func (s *SQLite) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// =============================================================================
// SECURITY EVENTS
// =============================================================================

func (s *SQLite) CreateSecurityEvent(ctx context.Context, event *domain.SecurityEvent) error {
	location, err := encodeLocation(event.Location)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO security_events (id, account_id, type, description, ip, user_agent, success, risk_score, location, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, nullable(event.AccountID), string(event.Type), event.Description, event.IP,
		event.UserAgent, event.Success, event.RiskScore, location, event.CreatedAt)
	return err
}

const eventColumns = `id, COALESCE(account_id, ''), type, COALESCE(description, ''), COALESCE(ip, ''),
	COALESCE(user_agent, ''), success, risk_score, COALESCE(location, ''), created_at`

func (s *SQLite) SecurityEventsSince(ctx context.Context, since time.Time) ([]domain.SecurityEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM security_events WHERE created_at >= ? ORDER BY created_at DESC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *SQLite) SecurityEventsForAccount(ctx context.Context, accountID string, filter EventFilter) ([]domain.SecurityEvent, error) {
	query, args := eventQuery(`account_id = ?`, accountID, filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *SQLite) SecurityEventsForIP(ctx context.Context, ip string, filter EventFilter) ([]domain.SecurityEvent, error) {
	query, args := eventQuery(`ip = ?`, ip, filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func eventQuery(where, arg string, filter EventFilter) (string, []any) {
	query := `SELECT ` + eventColumns + ` FROM security_events WHERE ` + where
	args := []any{arg}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since)
	}
	if filter.FailedOnly {
		query += ` AND success = 0`
	}
	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		query += ` AND type IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}
	return query, args
}

func scanEvents(rows *sql.Rows) ([]domain.SecurityEvent, error) {
	var out []domain.SecurityEvent
	for rows.Next() {
		var e domain.SecurityEvent
		var eventType, location string
		if err := rows.Scan(&e.ID, &e.AccountID, &eventType, &e.Description, &e.IP, &e.UserAgent,
			&e.Success, &e.RiskScore, &location, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = domain.EventType(eventType)
		loc, err := decodeLocation(location)
		if err != nil {
			return nil, err
		}
		e.Location = loc
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) DeleteSecurityEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM security_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// =============================================================================
// MFA ENROLLMENTS
// =============================================================================

func (s *SQLite) MFAEnrollment(ctx context.Context, accountID string) (*domain.MfaEnrollment, error) {
	var e domain.MfaEnrollment
	var codes string
	var verifiedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT account_id, enabled, COALESCE(encrypted_secret, ''), COALESCE(backup_codes, '{}'),
			backup_codes_used, COALESCE(recovery_email, ''), verified_at, created_at, updated_at
		 FROM mfa_enrollments WHERE account_id = ?`, accountID).
		Scan(&e.AccountID, &e.Enabled, &e.EncryptedSecret, &codes, &e.BackupCodesUsed,
			&e.RecoveryEmail, &verifiedAt, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if verifiedAt.Valid {
		e.VerifiedAt = verifiedAt.Time
	}
	if err := json.Unmarshal([]byte(codes), &e.EncryptedBackupCodes); err != nil {
		return nil, fmt.Errorf("failed to decode backup codes: %w", err)
	}
	return &e, nil
}

func (s *SQLite) UpsertMFAEnrollment(ctx context.Context, enrollment *domain.MfaEnrollment) error {
	codes, err := json.Marshal(enrollment.EncryptedBackupCodes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO mfa_enrollments (account_id, enabled, encrypted_secret, backup_codes,
			backup_codes_used, recovery_email, verified_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET enabled = excluded.enabled,
			encrypted_secret = excluded.encrypted_secret, backup_codes = excluded.backup_codes,
			backup_codes_used = excluded.backup_codes_used, recovery_email = excluded.recovery_email,
			verified_at = excluded.verified_at, updated_at = excluded.updated_at`,
		enrollment.AccountID, enrollment.Enabled, enrollment.EncryptedSecret, string(codes),
		enrollment.BackupCodesUsed, enrollment.RecoveryEmail, nullableTime(enrollment.VerifiedAt),
		enrollment.CreatedAt, enrollment.UpdatedAt)
	return err
}

func (s *SQLite) UpdateMFAEnrollment(ctx context.Context, enrollment *domain.MfaEnrollment) error {
	codes, err := json.Marshal(enrollment.EncryptedBackupCodes)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE mfa_enrollments SET enabled = ?, encrypted_secret = ?, backup_codes = ?,
			backup_codes_used = ?, recovery_email = ?, verified_at = ?, updated_at = ?
		 WHERE account_id = ?`,
		enrollment.Enabled, enrollment.EncryptedSecret, string(codes), enrollment.BackupCodesUsed,
		enrollment.RecoveryEmail, nullableTime(enrollment.VerifiedAt), enrollment.UpdatedAt,
		enrollment.AccountID)
	if err != nil {
		return err
	}
	return requireRows(res)
}

// =============================================================================
// PASSWORD RESET TOKENS
// =============================================================================

func (s *SQLite) CreateResetToken(ctx context.Context, token *domain.PasswordResetToken) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO password_reset_tokens (id, account_id, token_hash, keyed_hash, key_salt, ip,
			user_agent, expires_at, used_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		token.ID, token.AccountID, token.TokenHash, token.KeyedHash, token.KeySalt, token.IP,
		token.UserAgent, token.ExpiresAt, nullableTime(token.UsedAt), token.CreatedAt)
	return err
}

func (s *SQLite) ResetTokenByHash(ctx context.Context, tokenHash string) (*domain.PasswordResetToken, error) {
	var t domain.PasswordResetToken
	var usedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, token_hash, keyed_hash, key_salt, COALESCE(ip, ''),
			COALESCE(user_agent, ''), expires_at, used_at, created_at
		 FROM password_reset_tokens WHERE token_hash = ?`, tokenHash).
		Scan(&t.ID, &t.AccountID, &t.TokenHash, &t.KeyedHash, &t.KeySalt, &t.IP, &t.UserAgent,
			&t.ExpiresAt, &usedAt, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if usedAt.Valid {
		t.UsedAt = usedAt.Time
	}
	return &t, nil
}

func (s *SQLite) MarkResetTokenUsed(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE password_reset_tokens SET used_at = ? WHERE id = ? AND used_at IS NULL`, at, id)
	if err != nil {
		return err
	}
	return requireRows(res)
}

func (s *SQLite) DeleteExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM password_reset_tokens WHERE expires_at < ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// =============================================================================
// HELPERS
// =============================================================================

func requireRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func encodeLocation(loc *domain.Location) (string, error) {
	if loc == nil {
		return "", nil
	}
	data, err := json.Marshal(loc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeLocation(data string) (*domain.Location, error) {
	if data == "" {
		return nil, nil
	}
	var loc domain.Location
	if err := json.Unmarshal([]byte(data), &loc); err != nil {
		return nil, err
	}
	return &loc, nil
}

// compile-time interface check
var _ Store = (*SQLite)(nil)
