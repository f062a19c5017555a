// Copyright (c) 2025 Meridian GRC
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command server runs the meridian security service: the authentication,
// session, and audit core behind the compliance platform, exposed over
// HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/meridian-grc/meridian/internal/config"
	"github.com/meridian-grc/meridian/internal/security/access"
	"github.com/meridian-grc/meridian/internal/security/audit"
	"github.com/meridian-grc/meridian/internal/security/crypto"
	"github.com/meridian-grc/meridian/internal/security/mfa"
	"github.com/meridian-grc/meridian/internal/security/password"
	"github.com/meridian-grc/meridian/internal/security/session"
	"github.com/meridian-grc/meridian/internal/server"
	"github.com/meridian-grc/meridian/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "meridian: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	cipher, err := buildCipher(cfg, logger)
	if err != nil {
		return err
	}

	clock := clockwork.NewRealClock()
	trail := audit.NewTrail(st, clock, logger.Named("audit"))
	resets := password.NewService(st, cipher, clock, logger.Named("password"))
	vault := mfa.NewVault(st, cipher, trail, clock, logger.Named("mfa"), cfg.Security.MFAIssuer)
	sessions := session.NewRegistry(st, trail, clock, logger.Named("session"))
	guard := access.NewGuard(st, resets, vault, sessions, trail, clock, logger.Named("access"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := guard.EnsurePolicy(ctx); err != nil {
		return fmt.Errorf("failed to initialize security policy: %w", err)
	}

	srv := server.New(cfg, st, guard, sessions, vault, resets, trail, logger.Named("http"))

	// Config hot reload adjusts the log level and future listeners; the
	// running listener keeps its settings.
	watcher, err := config.NewWatcher(config.DefaultPath(), func(next *config.Config) {
		logger.Info("configuration updated", zap.String("environment", next.Environment))
	}, logger.Named("config"))
	if err == nil {
		if err := watcher.Watch(); err != nil {
			logger.Warn("config watcher disabled", zap.Error(err))
		}
		defer watcher.Close()
	} else {
		logger.Warn("config watcher unavailable", zap.Error(err))
	}

	go runMaintenance(ctx, guard, time.Duration(cfg.Security.MaintenanceIntervalMinutes)*time.Minute, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runMaintenance sweeps expired sessions, stale attempts, and audit rows
// on a fixed interval until the context ends.
func runMaintenance(ctx context.Context, guard *access.Guard, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := guard.RunMaintenanceTasks(ctx); err != nil {
				logger.Error("maintenance sweep failed", zap.Error(err))
			}
		}
	}
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Logging.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func openStore(cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Database.Driver {
	case "memory":
		return store.NewMemory(), func() {}, nil
	default:
		st, err := store.OpenSQLite(cfg.Database.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database %s: %w", cfg.Database.Path, err)
		}
		return st, func() { st.Close() }, nil
	}
}

// buildCipher sources the master key. Production refuses to start without
// one; development falls back to an ephemeral key that cannot decrypt
// data across restarts.
func buildCipher(cfg *config.Config, logger *zap.Logger) (*crypto.Cipher, error) {
	key, err := cfg.MasterKey()
	if err != nil {
		return nil, err
	}
	if key == nil {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("MERIDIAN_MASTER_KEY is required in production")
		}
		return crypto.NewEphemeral(logger.Named("crypto"))
	}
	defer crypto.ZeroBytes(key)
	return crypto.New(key, logger.Named("crypto"))
}
