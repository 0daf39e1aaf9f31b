// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

// Package config implements ConfigManager: loading the on-disk TOML
// configuration file, applying GESTVENV_* environment variable overrides,
// and handing callers an immutable snapshot so concurrent goroutines never
// race on a mutable global. Grounded on the original implementation's
// ConfigManager (JSON-backed, defaulted-on-missing-file) reworked into the
// teacher's own TOML-via-BurntSushi convention used for manifest parsing.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"

	"github.com/gestvenv/gestvenv/internal/backend"
	"github.com/gestvenv/gestvenv/internal/coreerrors"
	"github.com/gestvenv/gestvenv/internal/ephemeral/models"
)

const currentVersion = "1.1.0"

// Snapshot is an immutable configuration value. Manager.Current always
// returns a fresh copy, so a caller holding one is unaffected by a
// later Update.
type Snapshot struct {
	Version              string       `toml:"version"`
	DefaultPythonVersion  string       `toml:"default_python_version"`
	DefaultBackend        backend.Name `toml:"default_backend"`
	EnvironmentsPath      string       `toml:"environments_path"`
	CacheEnabled          bool         `toml:"cache_enabled"`
	CacheSizeMB           int64        `toml:"cache_size_mb"`
	CacheCompression      bool         `toml:"cache_compression"`
	OfflineMode           bool         `toml:"offline_mode"`
	AutoMigrate           bool         `toml:"auto_migrate"`

	// Ephemeral.* fields from spec.md §6's configuration surface table.
	EphemeralMaxConcurrent     int    `toml:"ephemeral_max_concurrent"`
	EphemeralMaxTotalMemoryMB  int64  `toml:"ephemeral_max_total_memory_mb"`
	EphemeralMaxTotalDiskMB    int64  `toml:"ephemeral_max_total_disk_mb"`
	EphemeralStorageBackend    string `toml:"ephemeral_storage_backend"`
	EphemeralDefaultIsolation  string `toml:"ephemeral_default_isolation"`
	EphemeralCleanupIntervalS  int    `toml:"ephemeral_cleanup_interval"`
	EphemeralForceCleanupAfterS int   `toml:"ephemeral_force_cleanup_after"`
}

// EphemeralConfig bridges the general Snapshot into the ephemeral
// subsystem's own Config shape, so EphemeralManager is constructed from
// the same configuration surface as every other component instead of a
// second, disconnected set of knobs.
func (s Snapshot) EphemeralConfig() models.Config {
	cfg := models.DefaultConfig()
	if s.EphemeralMaxConcurrent > 0 {
		cfg.MaxConcurrent = s.EphemeralMaxConcurrent
	}
	if s.EphemeralMaxTotalMemoryMB > 0 {
		cfg.MaxTotalMemoryMB = s.EphemeralMaxTotalMemoryMB
	}
	if s.EphemeralMaxTotalDiskMB > 0 {
		cfg.MaxTotalDiskMB = s.EphemeralMaxTotalDiskMB
	}
	if s.EphemeralStorageBackend != "" {
		cfg.StorageBackend = models.StorageBackend(s.EphemeralStorageBackend)
	}
	if s.EphemeralDefaultIsolation != "" {
		cfg.DefaultIsolation = models.IsolationLevel(s.EphemeralDefaultIsolation)
	}
	if s.EphemeralCleanupIntervalS > 0 {
		cfg.CleanupInterval = time.Duration(s.EphemeralCleanupIntervalS) * time.Second
	}
	if s.EphemeralForceCleanupAfterS > 0 {
		cfg.ForceCleanupAfter = time.Duration(s.EphemeralForceCleanupAfterS) * time.Second
	}
	return cfg
}

func defaults() Snapshot {
	home, _ := os.UserHomeDir()
	return Snapshot{
		Version:              currentVersion,
		DefaultPythonVersion: "3.11",
		DefaultBackend:       "",
		EnvironmentsPath:     filepath.Join(home, ".gestvenv", "environments"),
		CacheEnabled:         true,
		CacheSizeMB:          2048,
		OfflineMode:          false,
		AutoMigrate:          true,
	}
}

// Manager owns the on-disk configuration path and the current Snapshot.
type Manager struct {
	path string
	cur  Snapshot
}

// New loads configuration from path, falling back to defaults when the
// file is missing or unparseable - the original implementation's own
// "invalid config yields the default config" behavior, preserved here
// rather than treated as fatal.
func New(path string) (*Manager, *coreerrors.CoreError) {
	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, ".gestvenv", "config.toml")
	}

	cur := defaults()
	if b, errGo := os.ReadFile(path); errGo == nil {
		fileCfg := cur
		if _, errGo := toml.Decode(string(b), &fileCfg); errGo == nil {
			cur = mergeNonZero(cur, fileCfg)
		}
	}

	m := &Manager{path: path, cur: cur}
	m.applyEnvOverrides()
	return m, nil
}

// Current returns a copy of the active configuration.
func (m *Manager) Current() Snapshot { return m.cur }

// Save persists the current snapshot back to disk via a temp-file-then-
// rename, the same durability habit used throughout the core.
func (m *Manager) Save() *coreerrors.CoreError {
	if errGo := os.MkdirAll(filepath.Dir(m.path), 0o755); errGo != nil {
		return coreerrors.Wrap(coreerrors.ValidationFailure, errGo, "path", m.path)
	}

	f, errGo := os.CreateTemp(filepath.Dir(m.path), ".config-*.tmp")
	if errGo != nil {
		return coreerrors.Wrap(coreerrors.ValidationFailure, errGo, "path", m.path)
	}
	defer os.Remove(f.Name())

	if errGo := toml.NewEncoder(f).Encode(m.cur); errGo != nil {
		f.Close()
		return coreerrors.Wrap(coreerrors.ValidationFailure, errGo, "path", m.path)
	}
	f.Close()

	if errGo := os.Rename(f.Name(), m.path); errGo != nil {
		return coreerrors.Wrap(coreerrors.ValidationFailure, errGo, "path", m.path)
	}
	return nil
}

// Update replaces the current snapshot with next and persists it.
func (m *Manager) Update(next Snapshot) *coreerrors.CoreError {
	m.cur = next
	return m.Save()
}

// applyEnvOverrides layers GESTVENV_* environment variables on top of
// whatever was loaded from disk, so a CI job can override cache size or
// offline mode without touching the file.
func (m *Manager) applyEnvOverrides() {
	if v := os.Getenv("GESTVENV_BACKEND"); v != "" {
		m.cur.DefaultBackend = backend.Name(v)
	}
	if v := os.Getenv("GESTVENV_PYTHON_VERSION"); v != "" {
		m.cur.DefaultPythonVersion = v
	}
	if v := os.Getenv("GESTVENV_CACHE_ENABLED"); v != "" {
		if b, ok := parseBool(v); ok {
			m.cur.CacheEnabled = b
		}
	}
	if v := os.Getenv("GESTVENV_CACHE_SIZE_MB"); v != "" {
		// humanize.ParseBytes accepts both a bare number and a suffixed
		// size ("512MB", "2GB"), so GESTVENV_CACHE_SIZE_MB tolerates
		// either a plain megabyte count or a human-readable size.
		if n, errGo := strconv.ParseInt(v, 10, 64); errGo == nil {
			m.cur.CacheSizeMB = n
		} else if bytes, errGo := humanize.ParseBytes(v); errGo == nil {
			m.cur.CacheSizeMB = int64(bytes / humanize.MByte)
		}
	}
	if v := os.Getenv("GESTVENV_OFFLINE_MODE"); v != "" {
		if b, ok := parseBool(v); ok {
			m.cur.OfflineMode = b
		}
	}
	if v := os.Getenv("GESTVENV_ENVIRONMENTS_PATH"); v != "" {
		m.cur.EnvironmentsPath = v
	}
}

// parseBool accepts spec.md §6's boolean vocabulary
// (true|1|yes|on, case-insensitive) rather than strconv.ParseBool's
// narrower Go-literal set.
func parseBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	default:
		return false, false
	}
}

// mergeNonZero overlays file's explicitly-set fields onto base, so a
// config.toml that only sets one key doesn't zero out the rest.
func mergeNonZero(base, file Snapshot) Snapshot {
	if file.Version != "" {
		base.Version = file.Version
	}
	if file.DefaultPythonVersion != "" {
		base.DefaultPythonVersion = file.DefaultPythonVersion
	}
	if file.DefaultBackend != "" {
		base.DefaultBackend = file.DefaultBackend
	}
	if file.EnvironmentsPath != "" {
		base.EnvironmentsPath = file.EnvironmentsPath
	}
	if file.CacheSizeMB != 0 {
		base.CacheSizeMB = file.CacheSizeMB
	}
	base.CacheEnabled = file.CacheEnabled
	base.CacheCompression = file.CacheCompression
	base.OfflineMode = file.OfflineMode
	base.AutoMigrate = file.AutoMigrate

	if file.EphemeralMaxConcurrent != 0 {
		base.EphemeralMaxConcurrent = file.EphemeralMaxConcurrent
	}
	if file.EphemeralMaxTotalMemoryMB != 0 {
		base.EphemeralMaxTotalMemoryMB = file.EphemeralMaxTotalMemoryMB
	}
	if file.EphemeralMaxTotalDiskMB != 0 {
		base.EphemeralMaxTotalDiskMB = file.EphemeralMaxTotalDiskMB
	}
	if file.EphemeralStorageBackend != "" {
		base.EphemeralStorageBackend = file.EphemeralStorageBackend
	}
	if file.EphemeralDefaultIsolation != "" {
		base.EphemeralDefaultIsolation = file.EphemeralDefaultIsolation
	}
	if file.EphemeralCleanupIntervalS != 0 {
		base.EphemeralCleanupIntervalS = file.EphemeralCleanupIntervalS
	}
	if file.EphemeralForceCleanupAfterS != 0 {
		base.EphemeralForceCleanupAfterS = file.EphemeralForceCleanupAfterS
	}
	return base
}
