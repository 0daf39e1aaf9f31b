// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package backend

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/gestvenv/gestvenv/internal/coreerrors"
	"github.com/gestvenv/gestvenv/internal/manifest"
	"github.com/gestvenv/gestvenv/internal/pathresolver"
)

// pipBackend drives the stdlib venv module plus pip itself. It is the
// universal fallback: every Python install ships it, so Registry always
// has at least one available backend even when uv/poetry/pdm are absent.
type pipBackend struct {
	pythonBin string
}

// NewPip returns a Backend that shells out to the given python
// interpreter's venv and pip modules. pythonBin defaults to "python3".
func NewPip(pythonBin string) Backend {
	if pythonBin == "" {
		pythonBin = "python3"
	}
	return &pipBackend{pythonBin: pythonBin}
}

func (b *pipBackend) Name() Name { return Pip }

func (b *pipBackend) Probe(ctx context.Context) ProbeResult {
	res, err := run(ctx, "", TimeoutProbe, b.pythonBin, "-m", "pip", "--version")
	if err != nil {
		return ProbeResult{Available: false, Reason: err.Error()}
	}
	return ProbeResult{
		Available: true,
		Version:   firstLine(res.Stdout),
		Capabilities: Capabilities{
			SupportsLockFiles:        false,
			SupportsDependencyGroups: false,
			SupportsParallelInstall:  false,
			SupportsEditableInstalls: true,
			SupportsWorkspaces:       false,
			SupportsPyprojectSync:    false,
			MaxParallelJobs:          1,
			SupportedManifestFormats: []manifest.SourceKind{manifest.SourceRequirements, manifest.SourcePyproject},
		},
	}
}

func (b *pipBackend) CreateVenv(ctx context.Context, envRoot string, pythonVersion string) error {
	_, err := run(ctx, "", TimeoutCreateVenv, b.pythonBin, "-m", "venv", envRoot)
	if err != nil {
		return coreerrors.Wrap(coreerrors.BackendExecutionFailed, err, "backend", string(Pip), "env_root", envRoot)
	}
	return nil
}

func (b *pipBackend) Install(ctx context.Context, envRoot string, reqs []manifest.Requirement, opts InstallOptions) (InstallOutcome, error) {
	layout := pathresolver.Resolve(envRoot, pathresolver.HostFamily(), "pip")
	argv := []string{layout.Installer, "install"}
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

func (b *pipBackend) Uninstall(ctx context.Context, envRoot string, names []string) error {
	layout := pathresolver.Resolve(envRoot, pathresolver.HostFamily(), "pip")
	argv := append([]string{layout.Installer, "uninstall", "-y"}, names...)
	_, err := run(ctx, envRoot, TimeoutInstall, argv...)
	if err != nil {
		return coreerrors.Wrap(coreerrors.BackendExecutionFailed, err, "backend", string(Pip), "env_root", envRoot)
	}
	return nil
}

func (b *pipBackend) List(ctx context.Context, envRoot string) ([]manifest.Requirement, error) {
	layout := pathresolver.Resolve(envRoot, pathresolver.HostFamily(), "pip")
	res, err := run(ctx, envRoot, TimeoutQuick, layout.Installer, "freeze")
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.BackendExecutionFailed, err, "backend", string(Pip), "env_root", envRoot)
	}
	return parseFreezeOutput(res.Stdout), nil
}

func (b *pipBackend) Freeze(ctx context.Context, envRoot string) (string, error) {
	layout := pathresolver.Resolve(envRoot, pathresolver.HostFamily(), "pip")
	res, err := run(ctx, envRoot, TimeoutQuick, layout.Installer, "freeze")
	if err != nil {
		return "", coreerrors.Wrap(coreerrors.BackendExecutionFailed, err, "backend", string(Pip), "env_root", envRoot)
	}
	return res.Stdout, nil
}

func (b *pipBackend) Check(ctx context.Context, envRoot string) ([]Conflict, error) {
	layout := pathresolver.Resolve(envRoot, pathresolver.HostFamily(), "pip")
	res, err := run(ctx, envRoot, TimeoutQuick, layout.Installer, "check")
	if err == nil {
		return nil, nil
	}
	return parsePipCheckConflicts(res.Stdout), nil
}

func (b *pipBackend) CreateLock(ctx context.Context, envRoot string) error {
	return coreerrors.New(coreerrors.BackendUnavailable, "pip does not support native lock files", "backend", string(Pip))
}

func (b *pipBackend) DownloadArtifact(ctx context.Context, req manifest.Requirement) ([]byte, error) {
	return downloadViaPip(ctx, b.pythonBin+" -m pip", []string{b.pythonBin, "-m", "pip"}, req)
}

// downloadViaPip shells out to "<argv...> download -d <tmp> --no-deps <req>"
// and reads back whichever single file landed in the scratch directory.
// Both pip and uv's "pip download" subcommand share this shape.
func downloadViaPip(ctx context.Context, label string, argv []string, req manifest.Requirement) ([]byte, error) {
	tmp, errGo := os.MkdirTemp("", "gestvenv-dl-")
	if errGo != nil {
		return nil, coreerrors.Wrap(coreerrors.BackendExecutionFailed, errGo, "backend", label)
	}
	defer os.RemoveAll(tmp)

	full := append(append([]string{}, argv...), "download", "-d", tmp, "--no-deps", requirementArg(req, false))
	if _, err := run(ctx, "", TimeoutInstall, full...); err != nil {
		return nil, err
	}

	entries, errGo := os.ReadDir(tmp)
	if errGo != nil || len(entries) == 0 {
		return nil, coreerrors.New(coreerrors.BackendExecutionFailed, "download produced no artifact", "backend", label, "package", req.Name)
	}
	return os.ReadFile(filepath.Join(tmp, entries[0].Name()))
}

func requirementArg(r manifest.Requirement, editable bool) string {
	if r.Source == manifest.SrcEditablePath && editable {
		return "-e " + r.VersionSpec
	}
	if r.Source == manifest.SrcVCS || r.Source == manifest.SrcURL || r.Source == manifest.SrcEditablePath {
		return r.VersionSpec
	}
	spec := r.Name
	if len(r.Extras) > 0 {
		spec += "[" + strings.Join(r.Extras, ",") + "]"
	}
	return spec + r.VersionSpec
}

func allFailed(reqs []manifest.Requirement, reason string) []FailedInstall {
	out := make([]FailedInstall, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, FailedInstall{Requirement: r, Reason: reason})
	}
	return out
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// resolveInstalled reports what actually landed in envRoot after a
// successful install, instead of echoing back the caller's requested
// requirements verbatim - a requirement like "requests>=2.31" never names
// the version that was actually resolved, and the cache keys off the
// resolved version, not the constraint. Falls back to reqs unchanged for
// any name List's freeze/export output doesn't account for (editable,
// VCS and URL installs, or a List call that itself fails).
func resolveInstalled(ctx context.Context, b Backend, envRoot string, reqs []manifest.Requirement) []manifest.Requirement {
	installed, err := b.List(ctx, envRoot)
	if err != nil {
		return reqs
	}
	byName := make(map[string]manifest.Requirement, len(installed))
	for _, f := range installed {
		byName[strings.ToLower(f.Name)] = f
	}
	out := make([]manifest.Requirement, 0, len(reqs))
	for _, r := range reqs {
		if f, ok := byName[strings.ToLower(r.Name)]; ok {
			out = append(out, manifest.Requirement{Name: r.Name, VersionSpec: f.VersionSpec, Extras: r.Extras, Source: r.Source})
			continue
		}
		out = append(out, r)
	}
	return out
}

// parseFreezeOutput parses "name==version" lines from pip/uv freeze
// output into Requirements with a pinned version spec.
func parseFreezeOutput(out string) []manifest.Requirement {
	var reqs []manifest.Requirement
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "==")
		if idx < 0 {
			reqs = append(reqs, manifest.Requirement{Name: line, Source: manifest.SrcIndex})
			continue
		}
		reqs = append(reqs, manifest.Requirement{
			Name:        line[:idx],
			VersionSpec: line[idx:],
			Source:      manifest.SrcIndex,
		})
	}
	return reqs
}

// parsePipCheckConflicts extracts a coarse conflict record per non-empty
// line of check output, keyed by the line's first word; pip's text is not
// machine-structured so this is best-effort, matching the original
// implementation's own regex-based parsing of the same output.
func parsePipCheckConflicts(out string) []Conflict {
	var conflicts []Conflict
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		conflicts = append(conflicts, Conflict{Package: fields[0], Resolved: line})
	}
	return conflicts
}
