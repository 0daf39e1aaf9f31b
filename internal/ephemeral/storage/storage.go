// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

// Package storage allocates and releases the on-disk footprint of an
// ephemeral environment, grounded on the original implementation's
// StorageManager.
package storage

import (
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gestvenv/gestvenv/internal/coreerrors"
	"github.com/gestvenv/gestvenv/internal/corelog"
	"github.com/gestvenv/gestvenv/internal/ephemeral/models"
)

var logger = corelog.New("ephemeral/storage")

// Usage reports the filesystem's overall capacity beneath an allocator's
// base path.
type Usage struct {
	TotalMB     float64
	UsedMB      float64
	AvailableMB float64
}

// Allocator owns the base directory beneath which every ephemeral
// environment gets its own subdirectory.
type Allocator struct {
	cfg         models.Config
	basePath    string
	initialized bool
}

// New returns an Allocator for cfg, not yet initialized on disk.
func New(cfg models.Config) *Allocator {
	return &Allocator{cfg: cfg, basePath: cfg.BaseStoragePath}
}

// Initialize prepares the base directory per the configured
// StorageBackend. Idempotent.
func (a *Allocator) Initialize() *coreerrors.CoreError {
	if a.initialized {
		return nil
	}
	logger.Info("initializing ephemeral storage", "backend", string(a.cfg.StorageBackend), "path", a.basePath)

	switch a.cfg.StorageBackend {
	case models.StorageMemory:
		shmPath := "/dev/shm/gestvenv-ephemeral"
		if _, errGo := os.Stat("/dev/shm"); errGo != nil {
			return coreerrors.Wrap(coreerrors.IsolationUnavailable, errGo, "reason", "/dev/shm not available for memory storage")
		}
		if errGo := os.MkdirAll(shmPath, 0o755); errGo != nil {
			return coreerrors.Wrap(coreerrors.ValidationFailure, errGo, "path", shmPath)
		}
		a.basePath = shmPath
	case models.StorageTmpfs:
		if errGo := os.MkdirAll(a.basePath, 0o755); errGo != nil {
			return coreerrors.Wrap(coreerrors.ValidationFailure, errGo, "path", a.basePath)
		}
		if u, errC := a.UsageStats(); errC == nil && u.AvailableMB < 1024 {
			logger.Warn("low tmpfs space available", "available_mb", u.AvailableMB)
		}
	default:
		if errGo := os.MkdirAll(a.basePath, 0o755); errGo != nil {
			return coreerrors.Wrap(coreerrors.ValidationFailure, errGo, "path", a.basePath)
		}
	}

	a.initialized = true
	return nil
}

// Allocate creates and returns the per-environment directory, with
// restrictive permissions and the tmp/logs/cache substructure the
// lifecycle controller expects.
func (a *Allocator) Allocate(envID string) (string, *coreerrors.CoreError) {
	if errC := a.Initialize(); errC != nil {
		return "", errC
	}

	envPath := filepath.Join(a.basePath, envID)
	if errGo := os.MkdirAll(envPath, 0o700); errGo != nil {
		return "", coreerrors.Wrap(coreerrors.ValidationFailure, errGo, "path", envPath)
	}
	if errGo := os.Chmod(envPath, 0o700); errGo != nil {
		return "", coreerrors.Wrap(coreerrors.ValidationFailure, errGo, "path", envPath)
	}
	for _, sub := range []string{"tmp", "logs", "cache"} {
		if errGo := os.MkdirAll(filepath.Join(envPath, sub), 0o755); errGo != nil {
			return "", coreerrors.Wrap(coreerrors.ValidationFailure, errGo, "path", envPath)
		}
	}

	logger.Debug("allocated ephemeral storage", "env_id", envID, "path", envPath)
	return envPath, nil
}

// Release removes an environment's directory tree. It never fails loudly:
// a stuck mount or permission quirk shouldn't block the caller from
// finishing cleanup of the rest of the environment.
func (a *Allocator) Release(envPath string) {
	if envPath == "" {
		return
	}
	if _, errGo := os.Stat(envPath); os.IsNotExist(errGo) {
		return
	}
	if errGo := os.RemoveAll(envPath); errGo != nil {
		logger.Warn("failed to release ephemeral storage", "path", envPath, "err", errGo.Error())
		return
	}
	logger.Debug("released ephemeral storage", "path", envPath)
}

// UsageStats reports disk capacity for the allocator's base path.
func (a *Allocator) UsageStats() (Usage, *coreerrors.CoreError) {
	var st syscall.Statfs_t
	if errGo := syscall.Statfs(a.basePath, &st); errGo != nil {
		return Usage{}, coreerrors.Wrap(coreerrors.ValidationFailure, errGo, "path", a.basePath)
	}
	total := float64(st.Blocks) * float64(st.Bsize) / (1024 * 1024)
	avail := float64(st.Bavail) * float64(st.Bsize) / (1024 * 1024)
	return Usage{TotalMB: total, UsedMB: total - avail, AvailableMB: avail}, nil
}

// CleanupOrphaned removes subdirectories of the base path older than
// orphanAge with no ".lock" file present, the same heuristic as the
// original's _is_orphaned_directory.
func (a *Allocator) CleanupOrphaned(orphanAge time.Duration) {
	entries, errGo := os.ReadDir(a.basePath)
	if errGo != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(a.basePath, e.Name())
		info, errGo := e.Info()
		if errGo != nil {
			continue
		}
		if time.Since(info.ModTime()) <= orphanAge {
			continue
		}
		locks, _ := filepath.Glob(filepath.Join(path, "*.lock"))
		if len(locks) > 0 {
			continue
		}
		logger.Info("removing orphaned ephemeral storage", "path", path)
		a.Release(path)
	}
}
