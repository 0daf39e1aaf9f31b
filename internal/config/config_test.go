// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewDefaultsWhenFileMissing(t *testing.T) {
	m, errC := New(filepath.Join(t.TempDir(), "config.toml"))
	if errC != nil {
		t.Fatalf("new: %v", errC)
	}
	cur := m.Current()
	if cur.Version != currentVersion {
		t.Fatalf("expected default version %s, got %s", currentVersion, cur.Version)
	}
	if cur.DefaultPythonVersion != "3.11" {
		t.Fatalf("expected default python version 3.11, got %s", cur.DefaultPythonVersion)
	}
}

func TestEnvOverrideWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if errGo := os.WriteFile(path, []byte("default_python_version = \"3.9\"\n"), 0o644); errGo != nil {
		t.Fatalf("write fixture: %v", errGo)
	}

	t.Setenv("GESTVENV_PYTHON_VERSION", "3.12")
	m, errC := New(path)
	if errC != nil {
		t.Fatalf("new: %v", errC)
	}
	if got := m.Current().DefaultPythonVersion; got != "3.12" {
		t.Fatalf("expected env override 3.12, got %s", got)
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	m, errC := New(path)
	if errC != nil {
		t.Fatalf("new: %v", errC)
	}
	next := m.Current()
	next.CacheSizeMB = 4096
	if errC := m.Update(next); errC != nil {
		t.Fatalf("update: %v", errC)
	}

	reloaded, errC := New(path)
	if errC != nil {
		t.Fatalf("reload: %v", errC)
	}
	if got := reloaded.Current().CacheSizeMB; got != 4096 {
		t.Fatalf("expected persisted cache size 4096, got %d", got)
	}
}

func TestOfflineModeAcceptsYesOnVocabulary(t *testing.T) {
	t.Setenv("GESTVENV_OFFLINE_MODE", "yes")
	m, errC := New(filepath.Join(t.TempDir(), "config.toml"))
	if errC != nil {
		t.Fatalf("new: %v", errC)
	}
	if !m.Current().OfflineMode {
		t.Fatalf("expected \"yes\" to enable offline mode")
	}
}

func TestEphemeralConfigBridgeAppliesOverrides(t *testing.T) {
	s := Snapshot{EphemeralMaxConcurrent: 7}
	cfg := s.EphemeralConfig()
	if cfg.MaxConcurrent != 7 {
		t.Fatalf("expected overridden MaxConcurrent 7, got %d", cfg.MaxConcurrent)
	}
	if cfg.MaxTotalMemoryMB == 0 {
		t.Fatalf("expected unset fields to retain DefaultConfig values")
	}
}
