// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package backend

import (
	"context"

	"github.com/gestvenv/gestvenv/internal/coreerrors"
	"github.com/gestvenv/gestvenv/internal/manifest"
)

// poetryBackend drives Poetry. Poetry manages its own venv under its
// cache directory by default. Every command here runs with envRoot as its
// working directory; no virtualenv-path setting is passed to Poetry, so
// where it places the venv follows Poetry's own configuration.
type poetryBackend struct{}

// NewPoetry returns a Backend that shells out to the "poetry" binary.
func NewPoetry() Backend { return &poetryBackend{} }

func (b *poetryBackend) Name() Name { return Poetry }

func (b *poetryBackend) Probe(ctx context.Context) ProbeResult {
	res, err := run(ctx, "", TimeoutProbe, "poetry", "--version")
	if err != nil {
		return ProbeResult{Available: false, Reason: err.Error()}
	}
	return ProbeResult{
		Available: true,
		Version:   firstLine(res.Stdout),
		Capabilities: Capabilities{
			SupportsLockFiles:        true,
			SupportsDependencyGroups: true,
			SupportsParallelInstall:  false,
			SupportsEditableInstalls: true,
			SupportsWorkspaces:       false,
			SupportsPyprojectSync:    true,
			MaxParallelJobs:          1,
			SupportedManifestFormats: []manifest.SourceKind{manifest.SourcePyproject},
		},
	}
}

func (b *poetryBackend) CreateVenv(ctx context.Context, envRoot string, pythonVersion string) error {
	argv := []string{"poetry", "env", "use", "--"}
	if pythonVersion != "" {
		argv = append(argv, pythonVersion)
	} else {
		argv = append(argv, "python3")
	}
	if _, err := run(ctx, envRoot, TimeoutCreateVenv, argv...); err != nil {
		return coreerrors.Wrap(coreerrors.BackendExecutionFailed, err, "backend", string(Poetry), "env_root", envRoot)
	}
	return nil
}

func (b *poetryBackend) Install(ctx context.Context, envRoot string, reqs []manifest.Requirement, opts InstallOptions) (InstallOutcome, error) {
	argv := []string{"poetry", "add", "--lock"}
	if opts.Group != "" {
		argv = append(argv, "--group", opts.Group)
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

func (b *poetryBackend) Uninstall(ctx context.Context, envRoot string, names []string) error {
	argv := append([]string{"poetry", "remove"}, names...)
	if _, err := run(ctx, envRoot, TimeoutInstall, argv...); err != nil {
		return coreerrors.Wrap(coreerrors.BackendExecutionFailed, err, "backend", string(Poetry), "env_root", envRoot)
	}
	return nil
}

func (b *poetryBackend) List(ctx context.Context, envRoot string) ([]manifest.Requirement, error) {
	res, err := run(ctx, envRoot, TimeoutQuick, "poetry", "export", "--without-hashes")
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.BackendExecutionFailed, err, "backend", string(Poetry), "env_root", envRoot)
	}
	return parseFreezeOutput(res.Stdout), nil
}

func (b *poetryBackend) Freeze(ctx context.Context, envRoot string) (string, error) {
	res, err := run(ctx, envRoot, TimeoutQuick, "poetry", "export", "--without-hashes")
	if err != nil {
		return "", coreerrors.Wrap(coreerrors.BackendExecutionFailed, err, "backend", string(Poetry), "env_root", envRoot)
	}
	return res.Stdout, nil
}

func (b *poetryBackend) Check(ctx context.Context, envRoot string) ([]Conflict, error) {
	res, err := run(ctx, envRoot, TimeoutQuick, "poetry", "check")
	if err == nil {
		return nil, nil
	}
	return parsePipCheckConflicts(res.Stdout), nil
}

func (b *poetryBackend) CreateLock(ctx context.Context, envRoot string) error {
	if _, err := run(ctx, envRoot, TimeoutInstall, "poetry", "lock", "--no-update"); err != nil {
		return coreerrors.Wrap(coreerrors.BackendExecutionFailed, err, "backend", string(Poetry), "env_root", envRoot)
	}
	return nil
}

// DownloadArtifact has no direct equivalent in Poetry's CLI: it resolves
// and installs in one step rather than exposing a standalone fetch verb,
// so PackageService simply skips cache promotion for Poetry installs.
func (b *poetryBackend) DownloadArtifact(ctx context.Context, req manifest.Requirement) ([]byte, error) {
	return nil, coreerrors.New(coreerrors.BackendUnavailable, "poetry has no standalone artifact download command", "backend", string(Poetry), "package", req.Name)
}
