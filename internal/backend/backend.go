// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

// Package backend implements the BackendAdapter trait described by the
// core design: a uniform surface over pip, uv, poetry, and pdm so the
// environment and package services never branch on which tool they're
// talking to.
package backend

import (
	"context"

	"github.com/gestvenv/gestvenv/internal/manifest"
)

// Name identifies a concrete backend implementation.
type Name string

const (
	Pip    Name = "pip"
	UV     Name = "uv"
	Poetry Name = "poetry"
	PDM    Name = "pdm"
)

// Capabilities describes what a backend supports, used by Registry to
// score and select among available backends.
type Capabilities struct {
	SupportsLockFiles        bool
	SupportsDependencyGroups bool
	SupportsParallelInstall  bool
	SupportsEditableInstalls bool
	SupportsWorkspaces       bool
	SupportsPyprojectSync    bool
	MaxParallelJobs          int
	SupportedManifestFormats []manifest.SourceKind
}

// InstallOptions configures an Install call.
type InstallOptions struct {
	Editable        bool
	Upgrade         bool
	Group           string
	ExtraIndexURLs  []string
	NoDeps          bool
}

// FailedInstall records one requirement that could not be installed and
// why, so PackageService can report partial success instead of an
// all-or-nothing failure.
type FailedInstall struct {
	Requirement manifest.Requirement
	Reason      string
}

// InstallOutcome is the result of an Install call.
type InstallOutcome struct {
	Installed []manifest.Requirement
	Failed    []FailedInstall
	Conflicts []Conflict
	Stdout    string
	Stderr    string
}

// Conflict records a version conflict the backend's resolver reported
// between two requirements.
type Conflict struct {
	Package  string
	Wants    []string
	Resolved string
}

// ProbeResult is what Registry caches per backend after asking whether
// it's available on the host and what version it reports.
type ProbeResult struct {
	Available    bool
	Version      string
	Capabilities Capabilities
	Reason       string
}

// Backend is the trait every package manager integration implements.
// Every method takes a context so the caller can bound execution time;
// implementations invoke the underlying tool via os/exec and never a
// shell, per the teacher's RunScript/CmdRun precedent.
type Backend interface {
	Name() Name

	// Probe checks whether the backend binary is present and usable,
	// returning its reported version and capability set.
	Probe(ctx context.Context) ProbeResult

	CreateVenv(ctx context.Context, envRoot string, pythonVersion string) error

	Install(ctx context.Context, envRoot string, reqs []manifest.Requirement, opts InstallOptions) (InstallOutcome, error)

	Uninstall(ctx context.Context, envRoot string, names []string) error

	// List returns the packages actually installed in envRoot, independent
	// of what the manifest says should be there.
	List(ctx context.Context, envRoot string) ([]manifest.Requirement, error)

	// Freeze renders the installed set back out in the backend's own lock
	// or pinned-requirements format.
	Freeze(ctx context.Context, envRoot string) (string, error)

	// Check asks the backend to validate the installed set against its
	// own resolver, surfacing conflicts without installing anything.
	Check(ctx context.Context, envRoot string) ([]Conflict, error)

	// CreateLock asks the backend to (re)generate its native lock file,
	// returning coreerrors.BackendUnavailable-kinded errors for backends
	// whose Capabilities.SupportsLockFiles is false.
	CreateLock(ctx context.Context, envRoot string) error

	// DownloadArtifact fetches req's distributable bytes without
	// installing it, for PackageService to promote into PackageCache.
	// Backends with no standalone download verb return a
	// coreerrors.BackendUnavailable-kinded error.
	DownloadArtifact(ctx context.Context, req manifest.Requirement) ([]byte, error)
}
