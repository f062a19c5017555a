// Copyright (c) 2025 Meridian GRC
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the security core over HTTP and enforces the
// request gate every protected route passes through.
//
// # Endpoints
//
//   - POST /api/auth/login                   - authenticate, returns session token
//   - POST /api/auth/logout                  - end the current session
//   - GET  /api/auth/lock-status             - lockout state for an email + source IP
//   - POST /api/auth/password/change         - rotate password (authenticated)
//   - POST /api/auth/password/reset/request  - issue a reset token
//   - POST /api/auth/password/reset/confirm  - redeem a reset token
//   - /api/auth/mfa/*                        - enrollment, verification, backup codes
//   - GET  /api/sessions                     - list the caller's active sessions
//   - POST /api/sessions/revoke-others       - end every other session
//   - /api/admin/*                           - policy, unlock, audit, maintenance
//   - GET  /health                           - liveness check
//
// # Request Gate
//
// Protected routes reject with stable machine codes the surrounding
// platform branches on: AUTH_REQUIRED (no token), SESSION_INVALID (token
// resolves to no active session), REAUTH_REQUIRED (session risk too high),
// ADMIN_REQUIRED (non-administrator on an admin route), and
// RATE_LIMIT_EXCEEDED (per-IP budget exhausted).
package server
