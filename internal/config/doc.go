// Copyright (c) 2025 Meridian GRC
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads process configuration for the meridian security
// service.
//
// Configuration sources (in order of precedence):
//   - Environment variables (MERIDIAN_*)
//   - The TOML file named by MERIDIAN_CONFIG (default ./meridian.toml)
//   - Built-in defaults
//
// Durable security policy (lockout thresholds, password rules, session
// caps) is deliberately not part of this package: it lives in the store
// and is administered at runtime. Config covers only what the process
// needs before it can reach the store: listener address, database
// location, master key, logging.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Hot Reload
//
// Watcher reloads the file on change and hands the validated result to a
// callback. An invalid rewrite keeps the previous config:
//
//	w, err := config.NewWatcher(path, onReload, logger)
//	if err == nil {
//	    _ = w.Watch()
//	}
package config
