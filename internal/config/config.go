// Copyright (c) 2025 Meridian GRC
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete process configuration. Durable security policy
// (lockout thresholds, password rules) lives in the store, not here; this
// covers only what the process needs before it can reach the store.
type Config struct {
	Environment string `toml:"environment"`

	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Security SecurityConfig `toml:"security"`
	Logging  LoggingConfig  `toml:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// Addr is the listen address, host:port.
	Addr string `toml:"addr"`
	// RateLimitPerSecond is the per-IP request budget for the gate.
	RateLimitPerSecond float64 `toml:"rate_limit_per_second"`
	// RateLimitBurst is the per-IP burst allowance.
	RateLimitBurst int `toml:"rate_limit_burst"`
	// ReadTimeoutSecs and WriteTimeoutSecs bound request handling.
	ReadTimeoutSecs  int `toml:"read_timeout_secs"`
	WriteTimeoutSecs int `toml:"write_timeout_secs"`
}

// DatabaseConfig selects and locates the backing store.
type DatabaseConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `toml:"driver"`
	// Path is the SQLite database file. Ignored for the memory driver.
	Path string `toml:"path"`
}

// SecurityConfig holds process-level security settings.
type SecurityConfig struct {
	// MasterKeyHex is the 64-hex-character AES-256 master key. Normally
	// supplied via MERIDIAN_MASTER_KEY rather than the file.
	MasterKeyHex string `toml:"master_key_hex"`
	// MFAIssuer labels TOTP provisioning URIs in authenticator apps.
	MFAIssuer string `toml:"mfa_issuer"`
	// MaintenanceIntervalMinutes is the period of the background sweep that
	// purges expired sessions, stale attempts, and old audit rows.
	MaintenanceIntervalMinutes int `toml:"maintenance_interval_minutes"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	// Level is "debug", "info", "warn", or "error".
	Level string `toml:"level"`
	// Format is "json" or "console".
	Format string `toml:"format"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with development defaults.
func Default() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Addr:               "127.0.0.1:8443",
			RateLimitPerSecond: 10,
			RateLimitBurst:     20,
			ReadTimeoutSecs:    15,
			WriteTimeoutSecs:   30,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "meridian.db",
		},
		Security: SecurityConfig{
			MFAIssuer:                  "Meridian GRC",
			MaintenanceIntervalMinutes: 15,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// =============================================================================
// LOADING
// =============================================================================

// DefaultPath returns the config file path: MERIDIAN_CONFIG if set, else
// ./meridian.toml.
func DefaultPath() string {
	if path := os.Getenv("MERIDIAN_CONFIG"); path != "" {
		return path
	}
	return "meridian.toml"
}

// Load reads the config file at the default path, applies environment
// overrides, and validates. A missing file is not an error; defaults plus
// environment are used.
func Load() (*Config, error) {
	return LoadFromPath(DefaultPath())
}

// LoadFromPath reads a specific config file. A missing file falls back to
// defaults; a present but malformed file is an error.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if err := ensureSecurePermissions(path); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not ensure secure permissions on %s: %v\n", path, err)
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ensureSecurePermissions tightens the config file to 0600 so the master
// key cannot be read by other users when it is stored in the file.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm() != 0600 {
		return os.Chmod(path, 0600)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies MERIDIAN_* environment variables on top of the
// loaded file.
//
// Supported variables:
//   - MERIDIAN_ENV: environment name ("production", "development")
//   - MERIDIAN_ADDR: server listen address
//   - MERIDIAN_DB_DRIVER: "sqlite" or "memory"
//   - MERIDIAN_DB_PATH: SQLite database file
//   - MERIDIAN_MASTER_KEY: 64-hex-character AES-256 master key
//   - MERIDIAN_MFA_ISSUER: TOTP issuer label
//   - MERIDIAN_LOG_LEVEL: logger level
//   - MERIDIAN_LOG_FORMAT: "json" or "console"
//   - MERIDIAN_RATE_LIMIT: per-IP requests per second
func (c *Config) ApplyEnvOverrides() {
	if env := os.Getenv("MERIDIAN_ENV"); env != "" {
		c.Environment = env
	}
	if addr := os.Getenv("MERIDIAN_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if driver := os.Getenv("MERIDIAN_DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if path := os.Getenv("MERIDIAN_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if key := os.Getenv("MERIDIAN_MASTER_KEY"); key != "" {
		c.Security.MasterKeyHex = key
	}
	if issuer := os.Getenv("MERIDIAN_MFA_ISSUER"); issuer != "" {
		c.Security.MFAIssuer = issuer
	}
	if level := os.Getenv("MERIDIAN_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("MERIDIAN_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}
	if rate := os.Getenv("MERIDIAN_RATE_LIMIT"); rate != "" {
		if parsed, err := strconv.ParseFloat(rate, 64); err == nil && parsed > 0 {
			c.Server.RateLimitPerSecond = parsed
		}
	}
}

// SetDefaults fills zero-value fields with defaults.
func (c *Config) SetDefaults() {
	defaults := Default()
	if c.Environment == "" {
		c.Environment = defaults.Environment
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Server.RateLimitPerSecond == 0 {
		c.Server.RateLimitPerSecond = defaults.Server.RateLimitPerSecond
	}
	if c.Server.RateLimitBurst == 0 {
		c.Server.RateLimitBurst = defaults.Server.RateLimitBurst
	}
	if c.Server.ReadTimeoutSecs == 0 {
		c.Server.ReadTimeoutSecs = defaults.Server.ReadTimeoutSecs
	}
	if c.Server.WriteTimeoutSecs == 0 {
		c.Server.WriteTimeoutSecs = defaults.Server.WriteTimeoutSecs
	}
	if c.Database.Driver == "" {
		c.Database.Driver = defaults.Database.Driver
	}
	if c.Database.Path == "" {
		c.Database.Path = defaults.Database.Path
	}
	if c.Security.MFAIssuer == "" {
		c.Security.MFAIssuer = defaults.Security.MFAIssuer
	}
	if c.Security.MaintenanceIntervalMinutes == 0 {
		c.Security.MaintenanceIntervalMinutes = defaults.Security.MaintenanceIntervalMinutes
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaults.Logging.Format
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError names one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every validation failure so the operator sees
// all problems at once.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration. Production environments additionally
// require a configured master key; development may fall back to an
// ephemeral one.
func (c *Config) Validate() error {
	var errs ValidateErrors

	validEnvs := map[string]bool{"production": true, "staging": true, "development": true, "test": true}
	if !validEnvs[strings.ToLower(c.Environment)] {
		errs = append(errs, ValidationError{
			Field:   "environment",
			Message: fmt.Sprintf("invalid environment %q, must be one of: production, staging, development, test", c.Environment),
		})
	}

	validDrivers := map[string]bool{"sqlite": true, "memory": true}
	if !validDrivers[strings.ToLower(c.Database.Driver)] {
		errs = append(errs, ValidationError{
			Field:   "database.driver",
			Message: fmt.Sprintf("invalid driver %q, must be sqlite or memory", c.Database.Driver),
		})
	}
	if strings.ToLower(c.Database.Driver) == "sqlite" && c.Database.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "database.path",
			Message: "required for the sqlite driver",
		})
	}

	if c.Server.RateLimitPerSecond <= 0 {
		errs = append(errs, ValidationError{
			Field:   "server.rate_limit_per_second",
			Message: "must be positive",
		})
	}
	if c.Server.RateLimitBurst < 1 {
		errs = append(errs, ValidationError{
			Field:   "server.rate_limit_burst",
			Message: "must be at least 1",
		})
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level %q, must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid format %q, must be json or console", c.Logging.Format),
		})
	}

	if c.Security.MasterKeyHex != "" {
		if _, err := decodeMasterKey(c.Security.MasterKeyHex); err != nil {
			errs = append(errs, ValidationError{
				Field:   "security.master_key_hex",
				Message: err.Error(),
			})
		}
	} else if c.IsProduction() {
		errs = append(errs, ValidationError{
			Field:   "security.master_key_hex",
			Message: "a master key is required in production; set MERIDIAN_MASTER_KEY",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// IsProduction reports whether the process runs with production settings.
func (c *Config) IsProduction() bool {
	return strings.ToLower(c.Environment) == "production"
}

// =============================================================================
// MASTER KEY
// =============================================================================

// MasterKey decodes the configured master key. Returns nil with no error
// when no key is configured; the caller decides whether an ephemeral key
// is acceptable.
func (c *Config) MasterKey() ([]byte, error) {
	if c.Security.MasterKeyHex == "" {
		return nil, nil
	}
	return decodeMasterKey(c.Security.MasterKeyHex)
}

func decodeMasterKey(hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("master key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes (64 hex characters), got %d bytes", len(key))
	}
	return key, nil
}

// String renders the config for logs with the master key redacted.
func (c *Config) String() string {
	safe := *c
	if safe.Security.MasterKeyHex != "" {
		safe.Security.MasterKeyHex = "[REDACTED]"
	}
	return fmt.Sprintf("%+v", safe)
}
