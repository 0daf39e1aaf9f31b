// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

// Package metadata implements MetadataStore: reading and writing the
// per-environment .gestvenv-metadata.json sidecar file, and reconstructing
// it from the filesystem when it is missing or unreadable, following the
// original implementation's EnvironmentManager._load_environment_metadata
// / _detect_existing_environment pair.
package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/gestvenv/gestvenv/internal/backend"
	"github.com/gestvenv/gestvenv/internal/coreerrors"
	"github.com/gestvenv/gestvenv/internal/manifest"
	"github.com/gestvenv/gestvenv/internal/pathresolver"
)

// Health is the last-known status of an environment, refreshed by
// doctor-style diagnostics. The six grades match spec.md §3 exactly.
// EnvironmentManager also sets it directly: Create records HealthHealthy
// and a record rebuilt by its detector starts as HealthUnknown.
type Health string

const (
	HealthHealthy     Health = "healthy"
	HealthNeedsUpdate Health = "needs_update"
	HealthHasWarnings Health = "has_warnings"
	HealthHasErrors   Health = "has_errors"
	HealthCorrupted   Health = "corrupted"
	HealthUnknown     Health = "unknown"
)

// Record is the persisted shape of one environment's metadata.
type Record struct {
	Name          string                 `json:"name"`
	Path          string                 `json:"path"`
	PythonVersion string                 `json:"python_version"`
	Backend       backend.Name           `json:"backend"`
	ManifestPath  string                 `json:"manifest_path,omitempty"`
	Packages      []manifest.Requirement `json:"packages"`
	// DependencyGroups maps a named group (dev, test, docs, ...) to the
	// requirement strings installed under it, per spec.md §3.
	DependencyGroups map[string][]string `json:"dependency_groups,omitempty"`
	LockFilePath     string              `json:"lock_file_path,omitempty"`
	Health           Health              `json:"health"`
	IsActive         bool                `json:"is_active"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
	LastUsed         time.Time           `json:"last_used"`
}

// Store reads and writes Record sidecar files under each environment's
// own root directory.
type Store struct{}

// New returns a metadata Store.
func New() *Store { return &Store{} }

func (s *Store) path(envRoot string) string {
	return pathresolver.Resolve(envRoot, pathresolver.HostFamily(), "").MetadataFile
}

// Load reads the Record for envRoot, reconstructing it via detect when the
// sidecar file is absent or corrupt, the same fallback the original
// implementation performs before giving up and reporting the environment
// unmanaged.
func (s *Store) Load(envRoot string, detect func() (*Record, *coreerrors.CoreError)) (*Record, *coreerrors.CoreError) {
	b, errGo := os.ReadFile(s.path(envRoot))
	if errGo != nil {
		if os.IsNotExist(errGo) {
			return s.loadOrDetect(envRoot, detect)
		}
		return nil, coreerrors.Wrap(coreerrors.MetadataCorruption, errGo, "env_root", envRoot)
	}

	var rec Record
	if errGo := json.Unmarshal(b, &rec); errGo != nil {
		return s.loadOrDetect(envRoot, detect)
	}
	return &rec, nil
}

func (s *Store) loadOrDetect(envRoot string, detect func() (*Record, *coreerrors.CoreError)) (*Record, *coreerrors.CoreError) {
	if detect == nil {
		return nil, coreerrors.New(coreerrors.MetadataCorruption, "metadata missing and no detector supplied", "env_root", envRoot)
	}
	rec, errC := detect()
	if errC != nil {
		return nil, errC
	}
	if errC := s.Save(envRoot, rec); errC != nil {
		return nil, errC
	}
	return rec, nil
}

// Save writes rec to envRoot's sidecar file via a write-to-temp-then-rename,
// so a crash mid-write never corrupts the previous good metadata.
func (s *Store) Save(envRoot string, rec *Record) *coreerrors.CoreError {
	rec.UpdatedAt = time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}

	path := s.path(envRoot)
	if errGo := os.MkdirAll(filepath.Dir(path), 0o755); errGo != nil {
		return coreerrors.Wrap(coreerrors.MetadataCorruption, errGo, "env_root", envRoot)
	}
	b, errGo := json.MarshalIndent(rec, "", "  ")
	if errGo != nil {
		return coreerrors.Wrap(coreerrors.MetadataCorruption, errGo, "env_root", envRoot)
	}
	tmp := path + ".tmp"
	if errGo := os.WriteFile(tmp, b, 0o644); errGo != nil {
		return coreerrors.Wrap(coreerrors.MetadataCorruption, errGo, "env_root", envRoot)
	}
	if errGo := os.Rename(tmp, path); errGo != nil {
		return coreerrors.Wrap(coreerrors.MetadataCorruption, errGo, "env_root", envRoot)
	}
	return nil
}

// Delete removes envRoot's sidecar file, if present.
func (s *Store) Delete(envRoot string) *coreerrors.CoreError {
	if errGo := os.Remove(s.path(envRoot)); errGo != nil && !os.IsNotExist(errGo) {
		return coreerrors.Wrap(coreerrors.MetadataCorruption, errGo, "env_root", envRoot)
	}
	return nil
}
