// Copyright (c) 2025 Meridian GRC
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// validKey is 64 hex characters, a 32-byte AES-256 key.
const validKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"MERIDIAN_CONFIG", "MERIDIAN_ENV", "MERIDIAN_ADDR",
		"MERIDIAN_DB_DRIVER", "MERIDIAN_DB_PATH", "MERIDIAN_MASTER_KEY",
		"MERIDIAN_MFA_ISSUER", "MERIDIAN_LOG_LEVEL", "MERIDIAN_LOG_FORMAT",
		"MERIDIAN_RATE_LIMIT",
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestLoadFromPathMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Environment != "development" {
		t.Errorf("environment %q", cfg.Environment)
	}
	if cfg.Server.Addr != "127.0.0.1:8443" {
		t.Errorf("addr %q", cfg.Server.Addr)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.Path != "meridian.db" {
		t.Errorf("database %+v", cfg.Database)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging %+v", cfg.Logging)
	}
}

func TestLoadFromPathReadsTOML(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "meridian.toml")
	body := `
environment = "staging"

[server]
addr = "0.0.0.0:9000"
rate_limit_per_second = 25.0

[database]
driver = "memory"

[logging]
level = "debug"
format = "console"
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Environment != "staging" {
		t.Errorf("environment %q", cfg.Environment)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" || cfg.Server.RateLimitPerSecond != 25 {
		t.Errorf("server %+v", cfg.Server)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("driver %q", cfg.Database.Driver)
	}
	// Unset fields still fall back to defaults.
	if cfg.Server.RateLimitBurst != 20 {
		t.Errorf("burst %d", cfg.Server.RateLimitBurst)
	}
	if cfg.Security.MFAIssuer != "Meridian GRC" {
		t.Errorf("issuer %q", cfg.Security.MFAIssuer)
	}
}

func TestLoadFromPathRejectsMalformedTOML(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "meridian.toml")
	if err := os.WriteFile(path, []byte("environment = [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromPath(path); err == nil {
		t.Fatal("malformed file accepted")
	}
}

func TestLoadFromPathTightensPermissions(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "meridian.toml")
	if err := os.WriteFile(path, []byte(`environment = "development"`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromPath(path); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("permissions %o, want 0600", info.Mode().Perm())
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("MERIDIAN_ENV", "production")
	t.Setenv("MERIDIAN_ADDR", "0.0.0.0:443")
	t.Setenv("MERIDIAN_DB_DRIVER", "memory")
	t.Setenv("MERIDIAN_MASTER_KEY", validKey)
	t.Setenv("MERIDIAN_LOG_LEVEL", "warn")
	t.Setenv("MERIDIAN_RATE_LIMIT", "50")

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Environment != "production" {
		t.Errorf("environment %q", cfg.Environment)
	}
	if cfg.Server.Addr != "0.0.0.0:443" {
		t.Errorf("addr %q", cfg.Server.Addr)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("driver %q", cfg.Database.Driver)
	}
	if cfg.Security.MasterKeyHex != validKey {
		t.Error("master key override lost")
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level %q", cfg.Logging.Level)
	}
	if cfg.Server.RateLimitPerSecond != 50 {
		t.Errorf("rate %v", cfg.Server.RateLimitPerSecond)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown environment", func(c *Config) { c.Environment = "qa" }, "environment"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "postgres" }, "database.driver"},
		{"negative rate", func(c *Config) { c.Server.RateLimitPerSecond = -1 }, "server.rate_limit_per_second"},
		{"negative burst", func(c *Config) { c.Server.RateLimitBurst = -1 }, "server.rate_limit_burst"},
		{"unknown level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"unknown format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"short master key", func(c *Config) { c.Security.MasterKeyHex = "abcd" }, "security.master_key_hex"},
		{"non-hex master key", func(c *Config) { c.Security.MasterKeyHex = strings.Repeat("zz", 32) }, "security.master_key_hex"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("invalid config accepted")
			}
			if !strings.Contains(err.Error(), tc.field) {
				t.Errorf("error %q does not name %s", err, tc.field)
			}
		})
	}
}

func TestValidateRequiresMasterKeyInProduction(t *testing.T) {
	cfg := Default()
	cfg.Environment = "production"
	if err := cfg.Validate(); err == nil {
		t.Fatal("production without master key accepted")
	}

	cfg.Security.MasterKeyHex = validKey
	if err := cfg.Validate(); err != nil {
		t.Fatalf("production with key rejected: %v", err)
	}
}

func TestMasterKey(t *testing.T) {
	cfg := Default()

	key, err := cfg.MasterKey()
	if err != nil {
		t.Fatal(err)
	}
	if key != nil {
		t.Error("unset key returned bytes")
	}

	cfg.Security.MasterKeyHex = validKey
	key, err = cfg.MasterKey()
	if err != nil {
		t.Fatal(err)
	}
	if len(key) != 32 {
		t.Errorf("key length %d", len(key))
	}
	if key[0] != 0x00 || key[31] != 0x1f {
		t.Error("key bytes do not match hex input")
	}
}

func TestStringRedactsMasterKey(t *testing.T) {
	cfg := Default()
	cfg.Security.MasterKeyHex = validKey

	out := cfg.String()
	if strings.Contains(out, validKey) {
		t.Error("String() leaks the master key")
	}
}
