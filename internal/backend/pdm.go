// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package backend

import (
	"context"

	"github.com/gestvenv/gestvenv/internal/coreerrors"
	"github.com/gestvenv/gestvenv/internal/manifest"
)

// pdmBackend drives PDM. PDM supports PEP 582 __pypackages__ layouts as
// well as conventional venvs; the core always asks it to target envRoot
// explicitly rather than rely on its own project-local discovery.
type pdmBackend struct{}

// NewPDM returns a Backend that shells out to the "pdm" binary.
func NewPDM() Backend { return &pdmBackend{} }

func (b *pdmBackend) Name() Name { return PDM }

func (b *pdmBackend) Probe(ctx context.Context) ProbeResult {
	res, err := run(ctx, "", TimeoutProbe, "pdm", "--version")
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
			MaxParallelJobs:          4,
			SupportedManifestFormats: []manifest.SourceKind{manifest.SourcePyproject},
		},
	}
}

func (b *pdmBackend) CreateVenv(ctx context.Context, envRoot string, pythonVersion string) error {
	argv := []string{"pdm", "venv", "create", "--path", envRoot}
	if pythonVersion != "" {
		argv = append(argv, pythonVersion)
	}
	if _, err := run(ctx, "", TimeoutCreateVenv, argv...); err != nil {
		return coreerrors.Wrap(coreerrors.BackendExecutionFailed, err, "backend", string(PDM), "env_root", envRoot)
	}
	return nil
}

func (b *pdmBackend) Install(ctx context.Context, envRoot string, reqs []manifest.Requirement, opts InstallOptions) (InstallOutcome, error) {
	argv := []string{"pdm", "add", "--venv", envRoot}
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

func (b *pdmBackend) Uninstall(ctx context.Context, envRoot string, names []string) error {
	argv := append([]string{"pdm", "remove", "--venv", envRoot}, names...)
	if _, err := run(ctx, envRoot, TimeoutInstall, argv...); err != nil {
		return coreerrors.Wrap(coreerrors.BackendExecutionFailed, err, "backend", string(PDM), "env_root", envRoot)
	}
	return nil
}

func (b *pdmBackend) List(ctx context.Context, envRoot string) ([]manifest.Requirement, error) {
	res, err := run(ctx, envRoot, TimeoutQuick, "pdm", "export", "--without-hashes", "-f", "requirements")
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.BackendExecutionFailed, err, "backend", string(PDM), "env_root", envRoot)
	}
	return parseFreezeOutput(res.Stdout), nil
}

func (b *pdmBackend) Freeze(ctx context.Context, envRoot string) (string, error) {
	res, err := run(ctx, envRoot, TimeoutQuick, "pdm", "export", "--without-hashes", "-f", "requirements")
	if err != nil {
		return "", coreerrors.Wrap(coreerrors.BackendExecutionFailed, err, "backend", string(PDM), "env_root", envRoot)
	}
	return res.Stdout, nil
}

func (b *pdmBackend) Check(ctx context.Context, envRoot string) ([]Conflict, error) {
	res, err := run(ctx, envRoot, TimeoutQuick, "pdm", "list", "--freeze")
	if err == nil {
		return nil, nil
	}
	return parsePipCheckConflicts(res.Stdout), nil
}

func (b *pdmBackend) CreateLock(ctx context.Context, envRoot string) error {
	if _, err := run(ctx, envRoot, TimeoutInstall, "pdm", "lock"); err != nil {
		return coreerrors.Wrap(coreerrors.BackendExecutionFailed, err, "backend", string(PDM), "env_root", envRoot)
	}
	return nil
}

// DownloadArtifact is unsupported: PDM resolves and installs from its own
// lock file rather than exposing a standalone fetch verb.
func (b *pdmBackend) DownloadArtifact(ctx context.Context, req manifest.Requirement) ([]byte, error) {
	return nil, coreerrors.New(coreerrors.BackendUnavailable, "pdm has no standalone artifact download command", "backend", string(PDM), "package", req.Name)
}
