// Copyright (c) 2025 Meridian GRC
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "meridian.toml")
	require.NoError(t, os.WriteFile(path, []byte(`environment = "development"`), 0600))

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	require.NoError(t, w.Watch())

	require.NoError(t, os.WriteFile(path, []byte("environment = \"staging\"\n\n[logging]\nlevel = \"debug\"\n"), 0600))

	select {
	case cfg := <-reloaded:
		if cfg.Environment != "staging" || cfg.Logging.Level != "debug" {
			t.Errorf("reloaded config: %+v", cfg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestWatcherKeepsPreviousConfigOnInvalidEdit(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "meridian.toml")
	require.NoError(t, os.WriteFile(path, []byte(`environment = "development"`), 0600))

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) { reloaded <- cfg }, nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	require.NoError(t, w.Watch())

	// A malformed edit must not reach the callback.
	require.NoError(t, os.WriteFile(path, []byte("environment = [unclosed"), 0600))

	select {
	case cfg := <-reloaded:
		t.Fatalf("invalid config delivered: %+v", cfg)
	case <-time.After(2 * time.Second):
	}
}
