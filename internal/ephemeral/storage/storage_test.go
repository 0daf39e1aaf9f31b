// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gestvenv/gestvenv/internal/ephemeral/models"
)

func newTestConfig(t *testing.T) models.Config {
	cfg := models.DefaultConfig()
	cfg.StorageBackend = models.StorageDisk
	cfg.BaseStoragePath = filepath.Join(t.TempDir(), "ephemeral")
	return cfg
}

func TestAllocateCreatesRestrictedDirectory(t *testing.T) {
	a := New(newTestConfig(t))

	path, errC := a.Allocate("env-1")
	if errC != nil {
		t.Fatalf("allocate: %v", errC)
	}

	info, errGo := os.Stat(path)
	if errGo != nil {
		t.Fatalf("stat: %v", errGo)
	}
	if info.Mode().Perm() != 0o700 {
		t.Fatalf("expected mode 0700, got %o", info.Mode().Perm())
	}
	for _, sub := range []string{"tmp", "logs", "cache"} {
		if _, errGo := os.Stat(filepath.Join(path, sub)); errGo != nil {
			t.Fatalf("expected %s subdirectory: %v", sub, errGo)
		}
	}
}

func TestReleaseRemovesDirectory(t *testing.T) {
	a := New(newTestConfig(t))
	path, errC := a.Allocate("env-2")
	if errC != nil {
		t.Fatalf("allocate: %v", errC)
	}

	a.Release(path)
	if _, errGo := os.Stat(path); !os.IsNotExist(errGo) {
		t.Fatalf("expected directory to be removed after release")
	}
}

func TestReleaseOnMissingPathIsNoop(t *testing.T) {
	a := New(newTestConfig(t))
	a.Release(filepath.Join(t.TempDir(), "does-not-exist"))
}
