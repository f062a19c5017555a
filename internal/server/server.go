// Copyright (c) 2025 Meridian GRC
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/meridian-grc/meridian/internal/config"
	"github.com/meridian-grc/meridian/internal/security"
	"github.com/meridian-grc/meridian/internal/security/access"
	"github.com/meridian-grc/meridian/internal/security/audit"
	"github.com/meridian-grc/meridian/internal/security/mfa"
	"github.com/meridian-grc/meridian/internal/security/password"
	"github.com/meridian-grc/meridian/internal/security/session"
	"github.com/meridian-grc/meridian/internal/store"
)

// maxRequestBody caps request bodies at 64 KiB; nothing this API accepts
// is larger.
const maxRequestBody = 64 * 1024

// =============================================================================
// SERVER
// =============================================================================

// Server is the HTTP surface over the security core.
type Server struct {
	store    store.Store
	guard    *access.Guard
	sessions *session.Registry
	vault    *mfa.Vault
	resets   *password.Service
	trail    *audit.Trail
	limiter  *ipLimiter
	logger   *zap.Logger

	http *http.Server
}

// New wires the server over the security core components.
func New(cfg *config.Config, st store.Store, guard *access.Guard, sessions *session.Registry, vault *mfa.Vault, resets *password.Service, trail *audit.Trail, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:    st,
		guard:    guard,
		sessions: sessions,
		vault:    vault,
		resets:   resets,
		trail:    trail,
		limiter:  newIPLimiter(cfg.Server.RateLimitPerSecond, cfg.Server.RateLimitBurst),
		logger:   logger,
	}
	s.http = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
	}
	return s
}

// Routes builds the router. Exposed for tests.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(s.RequestLogger)
	r.Use(s.RateLimit)

	r.Get("/health", s.handleHealth)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Get("/lock-status", s.handleLockStatus)
		r.Post("/password/reset/request", s.handleResetRequest)
		r.Post("/password/reset/confirm", s.handleResetConfirm)

		r.Group(func(r chi.Router) {
			r.Use(s.RequireSession)
			r.Post("/logout", s.handleLogout)
			r.Post("/password/change", s.handlePasswordChange)

			r.Route("/mfa", func(r chi.Router) {
				r.Get("/status", s.handleMFAStatus)
				r.Post("/enroll", s.handleMFAEnroll)
				r.Post("/confirm", s.handleMFAConfirm)
				r.Post("/verify", s.handleMFAVerify)
				r.Post("/disable", s.handleMFADisable)
				r.Post("/backup-codes", s.handleMFARegenerateCodes)
			})
		})
	})

	r.Route("/api/sessions", func(r chi.Router) {
		r.Use(s.RequireSession)
		r.Get("/", s.handleSessionList)
		r.Post("/revoke-others", s.handleRevokeOthers)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(s.RequireSession)
		r.Use(s.RequireAdmin)
		r.Get("/policy", s.handlePolicyGet)
		r.Put("/policy", s.handlePolicyUpdate)
		r.Post("/accounts/{accountID}/unlock", s.handleUnlock)
		r.Get("/audit/dashboard", s.handleAuditDashboard)
		r.Get("/audit/export", s.handleAuditExport)
		r.Post("/maintenance", s.handleMaintenance)
	})

	return r
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

type errorResponse struct {
	Error  string                `json:"error"`
	Code   string                `json:"code"`
	Fields []security.FieldError `json:"fields,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

// writeError maps a core error to its transport form. Unclassified errors
// surface as a generic 500 with no internal detail.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := security.StatusFor(err)
	code := security.CodeFor(err)
	resp := errorResponse{Code: code}

	var ve *security.ValidationError
	if errors.As(err, &ve) {
		resp.Error = ve.Message
		resp.Fields = ve.Fields
	} else if status < http.StatusInternalServerError {
		resp.Error = publicMessage(err)
	} else {
		s.logger.Error("internal error", zap.Error(err))
		resp.Error = "internal error"
		resp.Code = security.CodeInternal
	}
	s.writeJSON(w, status, resp)
}

// publicMessage extracts the caller-safe message from a typed rejection.
func publicMessage(err error) string {
	var se *security.SecurityError
	if errors.As(err, &se) {
		return se.Message
	}
	var ae *security.AuthenticationError
	if errors.As(err, &ae) {
		return ae.Message
	}
	var sse *security.SessionError
	if errors.As(err, &sse) {
		return sse.Message
	}
	var me *security.MFAError
	if errors.As(err, &me) {
		return me.Message
	}
	return "request rejected"
}

func (s *Server) writeGateError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, errorResponse{Error: message, Code: code})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeGateError(w, http.StatusBadRequest, security.CodeValidationFailed, "malformed request body")
		return false
	}
	return true
}
