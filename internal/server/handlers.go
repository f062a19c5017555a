// Copyright (c) 2025 Meridian GRC
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/meridian-grc/meridian/internal/domain"
	"github.com/meridian-grc/meridian/internal/security"
	"github.com/meridian-grc/meridian/internal/security/access"
	"github.com/meridian-grc/meridian/internal/security/session"
)

// =============================================================================
// AUTHENTICATION
// =============================================================================

type loginRequest struct {
	Email    string           `json:"email"`
	Password string           `json:"password"`
	MFACode  string           `json:"mfa_code,omitempty"`
	Location *domain.Location `json:"location,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.guard.Authenticate(r.Context(), access.Credentials{
		Email:     req.Email,
		Password:  req.Password,
		MFACode:   req.MFACode,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Location:  req.Location,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnauthorized
	}
	s.writeJSON(w, status, result)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	if err := s.sessions.Revoke(r.Context(), sess.Token, session.ReasonLogout); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleLockStatus(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		s.writeGateError(w, http.StatusBadRequest, security.CodeValidationFailed, "email query parameter is required")
		return
	}
	status, err := s.guard.CheckAccountLockStatus(r.Context(), email, clientIP(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// =============================================================================
// PASSWORD
// =============================================================================

type passwordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (s *Server) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	var req passwordChangeRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess := SessionFromContext(r.Context())
	if err := s.guard.ChangePassword(r.Context(), sess.AccountID, req.CurrentPassword, req.NewPassword, sess.Token); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type resetRequestBody struct {
	Email string `json:"email"`
}

func (s *Server) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequestBody
	if !s.decode(w, r, &req) {
		return
	}
	token, err := s.resets.IssueResetTokenByEmail(r.Context(), req.Email, clientIP(r), r.UserAgent())
	if err != nil {
		s.writeError(w, err)
		return
	}
	// The token response stands in for mail delivery, which the platform
	// handles outside this service. Unknown emails receive the same shape
	// with an empty token so the endpoint is not an account oracle.
	s.writeJSON(w, http.StatusOK, map[string]string{"reset_token": token})
}

type resetConfirmBody struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (s *Server) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmBody
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.resets.ConsumeResetToken(r.Context(), req.Token, req.NewPassword); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// =============================================================================
// MFA
// =============================================================================

func (s *Server) handleMFAStatus(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	status, err := s.vault.Status(r.Context(), sess.AccountID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleMFAEnroll(w http.ResponseWriter, r *http.Request) {
	account := AccountFromContext(r.Context())
	enrollment, err := s.vault.BeginEnrollment(r.Context(), account.ID, account.Email)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, enrollment)
}

type mfaConfirmRequest struct {
	Secret        string   `json:"secret"`
	Code          string   `json:"code"`
	BackupCodes   []string `json:"backup_codes"`
	RecoveryEmail string   `json:"recovery_email,omitempty"`
}

func (s *Server) handleMFAConfirm(w http.ResponseWriter, r *http.Request) {
	var req mfaConfirmRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess := SessionFromContext(r.Context())
	if err := s.vault.ConfirmEnrollment(r.Context(), sess.AccountID, req.Secret, req.Code, req.BackupCodes, req.RecoveryEmail); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type mfaCodeRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleMFAVerify(w http.ResponseWriter, r *http.Request) {
	var req mfaCodeRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess := SessionFromContext(r.Context())
	result, err := s.vault.Verify(r.Context(), sess.AccountID, req.Code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleMFADisable(w http.ResponseWriter, r *http.Request) {
	var req mfaCodeRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess := SessionFromContext(r.Context())
	if err := s.vault.Disable(r.Context(), sess.AccountID, req.Code); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleMFARegenerateCodes(w http.ResponseWriter, r *http.Request) {
	var req mfaCodeRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess := SessionFromContext(r.Context())
	codes, err := s.vault.RegenerateBackupCodes(r.Context(), sess.AccountID, req.Code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"backup_codes": codes})
}

// =============================================================================
// SESSIONS
// =============================================================================

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	sessions, err := s.sessions.List(r.Context(), sess.AccountID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// Flag the caller's own session so the client can mark it.
	type listedSession struct {
		domain.UserSession
		Current bool `json:"current"`
	}
	out := make([]listedSession, 0, len(sessions))
	for _, item := range sessions {
		out = append(out, listedSession{UserSession: item, Current: item.ID == sess.ID})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) handleRevokeOthers(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	revoked, err := s.sessions.RevokeAllExcept(r.Context(), sess.AccountID, sess.Token, session.ReasonRevokedByOwner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"revoked": revoked})
}

// =============================================================================
// ADMIN
// =============================================================================

func (s *Server) handlePolicyGet(w http.ResponseWriter, r *http.Request) {
	policy, err := s.guard.EnsurePolicy(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, policy)
}

func (s *Server) handlePolicyUpdate(w http.ResponseWriter, r *http.Request) {
	var policy domain.SecurityPolicy
	if !s.decode(w, r, &policy) {
		return
	}
	account := AccountFromContext(r.Context())
	if err := s.guard.UpdatePolicy(r.Context(), account.ID, &policy); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, &policy)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	account := AccountFromContext(r.Context())
	target := chi.URLParam(r, "accountID")
	if err := s.guard.UnlockAccount(r.Context(), account.ID, target); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleAuditDashboard(w http.ResponseWriter, r *http.Request) {
	timeframe := 24 * time.Hour
	if raw := r.URL.Query().Get("timeframe"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			s.writeGateError(w, http.StatusBadRequest, security.CodeValidationFailed, "timeframe must be a positive duration")
			return
		}
		timeframe = parsed
	}
	dash, err := s.trail.BuildDashboard(r.Context(), timeframe)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, dash)
}

func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	since := time.Now().AddDate(0, 0, -30)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeGateError(w, http.StatusBadRequest, security.CodeValidationFailed, "since must be RFC3339")
			return
		}
		since = parsed
	}
	data, err := s.trail.Export(r.Context(), since)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-export.csv"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Error("failed to write audit export", zap.Error(err))
	}
}

func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	report, err := s.guard.RunMaintenanceTasks(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}
