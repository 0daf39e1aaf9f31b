// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package backend

import (
	"context"

	"github.com/gestvenv/gestvenv/internal/coreerrors"
	"github.com/gestvenv/gestvenv/internal/manifest"
)

// uvBackend drives Astral's uv. uv is the fastest of the four and the
// only one with a built-in parallel resolver worth exposing through
// Capabilities, so Registry's scoring favors it when available.
type uvBackend struct{}

// NewUV returns a Backend that shells out to the "uv" binary on PATH.
func NewUV() Backend { return &uvBackend{} }

func (b *uvBackend) Name() Name { return UV }

func (b *uvBackend) Probe(ctx context.Context) ProbeResult {
	res, err := run(ctx, "", TimeoutProbe, "uv", "--version")
	if err != nil {
		return ProbeResult{Available: false, Reason: err.Error()}
	}
	return ProbeResult{
		Available: true,
		Version:   firstLine(res.Stdout),
		Capabilities: Capabilities{
			SupportsLockFiles:        true,
			SupportsDependencyGroups: true,
			SupportsParallelInstall:  true,
			SupportsEditableInstalls: true,
			SupportsWorkspaces:       true,
			SupportsPyprojectSync:    true,
			MaxParallelJobs:          8,
			SupportedManifestFormats: []manifest.SourceKind{manifest.SourcePyproject, manifest.SourceRequirements},
		},
	}
}

func (b *uvBackend) CreateVenv(ctx context.Context, envRoot string, pythonVersion string) error {
	argv := []string{"uv", "venv", envRoot}
	if pythonVersion != "" {
		argv = append(argv, "--python", pythonVersion)
	}
	if _, err := run(ctx, "", TimeoutCreateVenv, argv...); err != nil {
		return coreerrors.Wrap(coreerrors.BackendExecutionFailed, err, "backend", string(UV), "env_root", envRoot)
	}
	return nil
}

func (b *uvBackend) Install(ctx context.Context, envRoot string, reqs []manifest.Requirement, opts InstallOptions) (InstallOutcome, error) {
	argv := []string{"uv", "pip", "install", "--python", envRoot}
	if opts.Upgrade {
		argv = append(argv, "--upgrade")
	}
	if opts.NoDeps {
		argv = append(argv, "--no-deps")
	}
	for _, idx := range opts.ExtraIndexURLs {
		argv = append(argv, "--extra-index-url", idx)
	}
	for _, r := range reqs {
		argv = append(argv, requirementArg(r, opts.Editable))
	}

	res, err := run(ctx, envRoot, TimeoutInstall, argv...)
	outcome := InstallOutcome{Stdout: res.Stdout, Stderr: res.Stderr}
	if err != nil {
		outcome.Failed = allFailed(reqs, err.Error())
		return outcome, err
	}
	outcome.Installed = resolveInstalled(ctx, b, envRoot, reqs)
	return outcome, nil
}

func (b *uvBackend) Uninstall(ctx context.Context, envRoot string, names []string) error {
	argv := append([]string{"uv", "pip", "uninstall", "--python", envRoot}, names...)
	if _, err := run(ctx, envRoot, TimeoutInstall, argv...); err != nil {
		return coreerrors.Wrap(coreerrors.BackendExecutionFailed, err, "backend", string(UV), "env_root", envRoot)
	}
	return nil
}

func (b *uvBackend) List(ctx context.Context, envRoot string) ([]manifest.Requirement, error) {
	res, err := run(ctx, envRoot, TimeoutQuick, "uv", "pip", "freeze", "--python", envRoot)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.BackendExecutionFailed, err, "backend", string(UV), "env_root", envRoot)
	}
	return parseFreezeOutput(res.Stdout), nil
}

func (b *uvBackend) Freeze(ctx context.Context, envRoot string) (string, error) {
	res, err := run(ctx, envRoot, TimeoutQuick, "uv", "pip", "freeze", "--python", envRoot)
	if err != nil {
		return "", coreerrors.Wrap(coreerrors.BackendExecutionFailed, err, "backend", string(UV), "env_root", envRoot)
	}
	return res.Stdout, nil
}

func (b *uvBackend) Check(ctx context.Context, envRoot string) ([]Conflict, error) {
	res, err := run(ctx, envRoot, TimeoutQuick, "uv", "pip", "check", "--python", envRoot)
	if err == nil {
		return nil, nil
	}
	return parsePipCheckConflicts(res.Stdout), nil
}

func (b *uvBackend) CreateLock(ctx context.Context, envRoot string) error {
	if _, err := run(ctx, envRoot, TimeoutInstall, "uv", "lock"); err != nil {
		return coreerrors.Wrap(coreerrors.BackendExecutionFailed, err, "backend", string(UV), "env_root", envRoot)
	}
	return nil
}

func (b *uvBackend) DownloadArtifact(ctx context.Context, req manifest.Requirement) ([]byte, error) {
	return downloadViaPip(ctx, "uv pip", []string{"uv", "pip"}, req)
}
