// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

// Package environment implements EnvironmentManager: the top-level
// lifecycle operations (create, activate, delete, list, sync, clone,
// export/import; doctor lives in package diagnostic) that compose
// BackendRegistry, PackageService,
// ManifestParser, and MetadataStore. Grounded on the original
// implementation's core/environment_manager.py, with the same
// rollback-on-failure discipline (a failed create always removes the
// half-built directory it started).
package environment

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/mholt/archiver/v3"

	"github.com/gestvenv/gestvenv/internal/backend"
	"github.com/gestvenv/gestvenv/internal/corelog"
	"github.com/gestvenv/gestvenv/internal/coreerrors"
	"github.com/gestvenv/gestvenv/internal/diffset"
	"github.com/gestvenv/gestvenv/internal/manifest"
	"github.com/gestvenv/gestvenv/internal/metadata"
	"github.com/gestvenv/gestvenv/internal/packageservice"
	"github.com/gestvenv/gestvenv/internal/pathresolver"
	"github.com/gestvenv/gestvenv/internal/validate"
)

var logger = corelog.New("environment")

// Manager is the top-level entry point for environment lifecycle
// operations.
type Manager struct {
	RootDir  string // parent directory under which every environment lives
	Registry *backend.Registry
	Packages *packageservice.Service
	Metadata *metadata.Store
}

// New returns a Manager rooted at rootDir.
func New(rootDir string, registry *backend.Registry, pkgSvc *packageservice.Service) *Manager {
	return &Manager{
		RootDir:  rootDir,
		Registry: registry,
		Packages: pkgSvc,
		Metadata: metadata.New(),
	}
}

// Result is the outcome of a single-environment operation, carrying
// warnings for partial success the same way the original implementation's
// EnvironmentResult does.
type Result struct {
	Success  bool
	Message  string
	Record   *metadata.Record
	Warnings []string

	// PackagesAdded, PackagesRemoved, and PackagesUpdated are populated by
	// Sync to report what changed, by name.
	PackagesAdded   []string
	PackagesRemoved []string
	PackagesUpdated []string
}

// SyncOptions controls how Sync reconciles an environment against its
// manifest.
type SyncOptions struct {
	// Clean also uninstalls packages present in the environment but no
	// longer declared in the manifest.
	Clean bool
	// Upgrade re-installs every declared package, not just ones whose
	// version spec changed, letting a sync also pick up new releases
	// within an already-satisfied range constraint.
	Upgrade bool
}

func (m *Manager) envRoot(name string) string {
	return filepath.Join(m.RootDir, name)
}

func (m *Manager) exists(name string) bool {
	_, errGo := os.Stat(m.envRoot(name))
	return errGo == nil
}

// CreateOptions configures Create.
type CreateOptions struct {
	PythonVersion    string
	Backend          backend.Name // empty selects automatically via Registry
	InitialPackages  []manifest.Requirement
}

// Create provisions a new environment: validates the name, picks a
// backend, creates the venv, installs any initial packages, and persists
// metadata. Any failure after the venv directory is created rolls the
// directory back, matching the original's try/except-then-rmtree shape.
func (m *Manager) Create(ctx context.Context, name string, opts CreateOptions) Result {
	if verr := validate.EnvironmentName(name); verr != nil {
		return Result{Success: false, Message: verr.Error()}
	}
	if m.exists(name) {
		return Result{Success: false, Message: "environment '" + name + "' already exists"}
	}

	b, probe, errC := m.Registry.Select(ctx, opts.Backend)
	if errC != nil {
		return Result{Success: false, Message: errC.Error()}
	}

	envRoot := m.envRoot(name)
	if errGo := os.MkdirAll(envRoot, 0o755); errGo != nil {
		return Result{Success: false, Message: errGo.Error()}
	}

	if errGo := b.CreateVenv(ctx, envRoot, opts.PythonVersion); errGo != nil {
		os.RemoveAll(envRoot)
		return Result{Success: false, Message: errGo.Error()}
	}

	rec := &metadata.Record{
		Name:          name,
		Path:          envRoot,
		PythonVersion: opts.PythonVersion,
		Backend:       b.Name(),
		Health:        metadata.HealthHealthy,
		CreatedAt:     time.Now().UTC(),
	}

	var warnings []string
	if len(opts.InitialPackages) > 0 {
		instResult, errC := m.Packages.Install(ctx, b, envRoot, opts.InitialPackages, backend.InstallOptions{})
		if errC != nil {
			warnings = append(warnings, "initial package install: "+errC.Error())
		}
		rec.Packages = append(instResult.FromCache, instResult.FromBackend...)
		for _, f := range instResult.Failed {
			warnings = append(warnings, "failed to install "+f.Requirement.Name+": "+f.Reason)
		}
	}

	if errC := m.Metadata.Save(envRoot, rec); errC != nil {
		os.RemoveAll(envRoot)
		return Result{Success: false, Message: errC.Error()}
	}

	logger.Info("environment created", "name", name, "backend", string(b.Name()), "probe_version", probe.Version)
	return Result{Success: true, Message: "environment '" + name + "' created", Record: rec, Warnings: warnings}
}

// CreateFromManifest parses manifestPath and creates an environment whose
// initial packages come from the manifest's Main requirement set.
func (m *Manager) CreateFromManifest(ctx context.Context, name string, manifestPath string, opts CreateOptions) Result {
	ds, errC := parseManifestByExtension(manifestPath)
	if errC != nil {
		return Result{Success: false, Message: errC.Error()}
	}

	if opts.PythonVersion == "" {
		opts.PythonVersion = ds.PythonVersionConstraint
	}
	opts.InitialPackages = ds.Main

	res := m.Create(ctx, name, opts)
	if res.Success && res.Record != nil {
		res.Record.ManifestPath = manifestPath
		if len(ds.Optional) > 0 {
			res.Record.DependencyGroups = make(map[string][]string, len(ds.Optional))
			for group, reqs := range ds.Optional {
				specs := make([]string, len(reqs))
				for i, r := range reqs {
					specs[i] = r.Name + r.VersionSpec
				}
				res.Record.DependencyGroups[group] = specs
			}
		}
		if errC := m.Metadata.Save(res.Record.Path, res.Record); errC != nil {
			res.Warnings = append(res.Warnings, "manifest path not persisted: "+errC.Error())
		}
	}
	for _, w := range ds.Warnings {
		res.Warnings = append(res.Warnings, "manifest: "+w)
	}
	return res
}

// Activate loads name's record, deactivates whatever environment was
// previously active (at most one is_active=true at a time, per spec.md
// §3), stamps is_active/last_used, persists, and returns the
// environment-variable set a shell needs to enter envRoot — the Go
// equivalent of sourcing bin/activate. The core never mutates the calling
// process's own environment, it only computes what a caller (a shell
// wrapper, an ephemeral runtime) should apply.
func (m *Manager) Activate(ctx context.Context, name string) (map[string]string, *coreerrors.CoreError) {
	if !m.exists(name) {
		return nil, coreerrors.New(coreerrors.NotFound, "environment not found", "name", name)
	}
	envRoot := m.envRoot(name)
	layout := pathresolver.Resolve(envRoot, pathresolver.HostFamily(), "pip")
	if errC := pathresolver.MustExist(layout.Python); errC != nil {
		return nil, errC
	}

	if errC := m.Deactivate(ctx); errC != nil {
		return nil, errC
	}

	rec, errC := m.Metadata.Load(envRoot, m.detector(ctx, name, envRoot))
	if errC != nil {
		return nil, errC
	}
	rec.IsActive = true
	rec.LastUsed = time.Now().UTC()
	if errC := m.Metadata.Save(envRoot, rec); errC != nil {
		return nil, errC
	}

	return pathresolver.ActivationEnv(envRoot, name, layout, os.Getenv("PATH")), nil
}

// Deactivate clears IsActive on every environment under RootDir, the
// counterpart spec.md §4.8 requires activate() to invoke on whatever was
// previously active.
func (m *Manager) Deactivate(ctx context.Context) *coreerrors.CoreError {
	recs, errC := m.List(ctx, ListFilters{})
	if errC != nil {
		return errC
	}
	for _, rec := range recs {
		if !rec.IsActive {
			continue
		}
		rec.IsActive = false
		if errC := m.Metadata.Save(rec.Path, rec); errC != nil {
			return errC
		}
	}
	return nil
}

// Delete removes an environment's directory and metadata entirely. An
// active environment refuses deletion unless force is set, matching
// spec.md §4.8; repeat calls return NotFound rather than re-deleting.
func (m *Manager) Delete(ctx context.Context, name string, force bool) Result {
	if !m.exists(name) {
		return Result{Success: false, Message: "environment not found"}
	}
	envRoot := m.envRoot(name)

	rec, errC := m.Metadata.Load(envRoot, m.detector(ctx, name, envRoot))
	if errC == nil && rec.IsActive && !force {
		return Result{Success: false, Message: "environment '" + name + "' is active; pass force to delete anyway"}
	}

	if errGo := os.RemoveAll(envRoot); errGo != nil {
		return Result{Success: false, Message: errGo.Error()}
	}
	return Result{Success: true, Message: "environment '" + name + "' deleted"}
}

// ListFilters narrows List's output; a zero-value ListFilters matches
// every environment.
type ListFilters struct {
	ActiveOnly    bool
	Backend       backend.Name
	Health        metadata.Health
	PythonVersion string
}

func (f ListFilters) matches(rec *metadata.Record) bool {
	if f.ActiveOnly && !rec.IsActive {
		return false
	}
	if f.Backend != "" && rec.Backend != f.Backend {
		return false
	}
	if f.Health != "" && rec.Health != f.Health {
		return false
	}
	if f.PythonVersion != "" && rec.PythonVersion != f.PythonVersion {
		return false
	}
	return true
}

// List enumerates every environment under RootDir matching filters,
// reconstructing metadata for any that are missing their sidecar file,
// and sorts by LastUsed descending (spec.md §4.8 default order).
func (m *Manager) List(ctx context.Context, filters ListFilters) ([]*metadata.Record, *coreerrors.CoreError) {
	entries, errGo := os.ReadDir(m.RootDir)
	if errGo != nil {
		if os.IsNotExist(errGo) {
			return nil, nil
		}
		return nil, coreerrors.Wrap(coreerrors.NotFound, errGo, "root", m.RootDir)
	}

	var out []*metadata.Record
	for _, de := range entries {
		if !de.IsDir() {
			continue
		}
		envRoot := m.envRoot(de.Name())
		rec, errC := m.Metadata.Load(envRoot, m.detector(ctx, de.Name(), envRoot))
		if errC != nil {
			logger.Warn("skipping unreadable environment", "name", de.Name(), "error", errC.Error())
			continue
		}
		if !filters.matches(rec) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsed.After(out[j].LastUsed) })
	return out, nil
}

// Info returns the metadata Record for a single named environment.
func (m *Manager) Info(ctx context.Context, name string) (*metadata.Record, *coreerrors.CoreError) {
	if !m.exists(name) {
		return nil, coreerrors.New(coreerrors.NotFound, "environment not found", "name", name)
	}
	envRoot := m.envRoot(name)
	return m.Metadata.Load(envRoot, m.detector(ctx, name, envRoot))
}

// detector builds the fallback used by MetadataStore when a sidecar file
// is missing, mirroring _detect_existing_environment: ask the pip backend
// what's installed and record a pip-backed environment of unknown health.
// The interpreter is not probed, so PythonVersion is left empty.
func (m *Manager) detector(ctx context.Context, name, envRoot string) func() (*metadata.Record, *coreerrors.CoreError) {
	return func() (*metadata.Record, *coreerrors.CoreError) {
		b, ok := m.Registry.Get(backend.Pip)
		if !ok {
			return nil, coreerrors.New(coreerrors.NotFound, "no fallback backend to detect environment", "name", name)
		}
		pkgs, errGo := b.List(ctx, envRoot)
		if errGo != nil {
			pkgs = nil
		}
		rec := &metadata.Record{
			Name:      name,
			Path:      envRoot,
			Backend:   backend.Pip,
			Packages:  pkgs,
			Health:    metadata.HealthUnknown,
			CreatedAt: time.Now().UTC(),
		}
		return rec, nil
	}
}

// Sync reconciles an environment's installed packages against its
// associated manifest file: installing what's missing, and - when
// opts.Clean is set - uninstalling whatever the environment has that the
// manifest no longer declares. Without Clean, undeclared packages survive
// a sync untouched, leaving that drift to Doctor's explicit report.
// opts.Upgrade folds every declared package into the update set, not just
// the ones whose version spec literally changed, so a sync can also pick
// up a newer release still within an already-satisfied range.
func (m *Manager) Sync(ctx context.Context, name string, opts SyncOptions) Result {
	rec, errC := m.Info(ctx, name)
	if errC != nil {
		return Result{Success: false, Message: errC.Error()}
	}
	if rec.ManifestPath == "" {
		return Result{Success: false, Message: "no manifest associated with this environment"}
	}

	ds, errC := parseManifestByExtension(rec.ManifestPath)
	if errC != nil {
		return Result{Success: false, Message: errC.Error()}
	}

	b, ok := m.Registry.Get(rec.Backend)
	if !ok {
		return Result{Success: false, Message: "environment's backend is no longer available"}
	}

	installed, errGo := b.List(ctx, rec.Path)
	if errGo != nil {
		return Result{Success: false, Message: errGo.Error()}
	}

	diff := diffset.Compute(ds.Main, installed, opts.Clean)
	toUpdate := diff.ToUpdate
	if opts.Upgrade {
		toUpdate = append(append([]manifest.Requirement{}, toUpdate...), diff.Unchanged...)
	}
	if diff.Empty() && len(toUpdate) == 0 {
		return Result{Success: true, Message: "already in sync", Record: rec}
	}

	var warnings []string
	var added, removed, updated []string

	if len(diff.ToInstall) > 0 {
		instResult, errC := m.Packages.Install(ctx, b, rec.Path, diff.ToInstall, backend.InstallOptions{})
		if errC != nil {
			warnings = append(warnings, errC.Error())
		}
		rec.Packages = append(rec.Packages, instResult.FromCache...)
		rec.Packages = append(rec.Packages, instResult.FromBackend...)
		added = append(added, requirementNames(instResult.FromCache)...)
		added = append(added, requirementNames(instResult.FromBackend)...)
	}
	if len(toUpdate) > 0 {
		instResult, errC := m.Packages.Install(ctx, b, rec.Path, toUpdate, backend.InstallOptions{Upgrade: true})
		if errC != nil {
			warnings = append(warnings, errC.Error())
		}
		rec.Packages = mergeInstalled(rec.Packages, instResult.FromCache)
		rec.Packages = mergeInstalled(rec.Packages, instResult.FromBackend)
		updated = append(updated, requirementNames(instResult.FromCache)...)
		updated = append(updated, requirementNames(instResult.FromBackend)...)
	}
	if opts.Clean && len(diff.ToRemove) > 0 {
		names := requirementNames(diff.ToRemove)
		if errGo := b.Uninstall(ctx, rec.Path, names); errGo != nil {
			warnings = append(warnings, errGo.Error())
		} else {
			rec.Packages = removePackages(rec.Packages, names)
			removed = append(removed, names...)
		}
	}

	if errC := m.Metadata.Save(rec.Path, rec); errC != nil {
		warnings = append(warnings, errC.Error())
	}
	return Result{
		Success:         true,
		Message:         "environment synchronized",
		Record:          rec,
		Warnings:        warnings,
		PackagesAdded:   added,
		PackagesRemoved: removed,
		PackagesUpdated: updated,
	}
}

func requirementNames(reqs []manifest.Requirement) []string {
	names := make([]string, 0, len(reqs))
	for _, r := range reqs {
		names = append(names, r.Name)
	}
	return names
}

// removePackages drops every requirement whose name (case-insensitively)
// appears in names.
func removePackages(pkgs []manifest.Requirement, names []string) []manifest.Requirement {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[strings.ToLower(n)] = true
	}
	out := make([]manifest.Requirement, 0, len(pkgs))
	for _, p := range pkgs {
		if !drop[strings.ToLower(p.Name)] {
			out = append(out, p)
		}
	}
	return out
}

// mergeInstalled folds updated into pkgs, replacing any existing entry
// with the same name rather than appending a duplicate.
func mergeInstalled(pkgs []manifest.Requirement, updated []manifest.Requirement) []manifest.Requirement {
	if len(updated) == 0 {
		return pkgs
	}
	byName := make(map[string]int, len(pkgs))
	for i, p := range pkgs {
		byName[strings.ToLower(p.Name)] = i
	}
	for _, u := range updated {
		if i, ok := byName[strings.ToLower(u.Name)]; ok {
			pkgs[i] = u
			continue
		}
		pkgs = append(pkgs, u)
		byName[strings.ToLower(u.Name)] = len(pkgs) - 1
	}
	return pkgs
}

// Clone copies source's directory tree into a new environment target and
// rewrites its metadata to the new name and path.
func (m *Manager) Clone(ctx context.Context, source, target string) Result {
	if !m.exists(source) {
		return Result{Success: false, Message: "source environment not found"}
	}
	if m.exists(target) {
		return Result{Success: false, Message: "target environment already exists"}
	}
	if verr := validate.EnvironmentName(target); verr != nil {
		return Result{Success: false, Message: verr.Error()}
	}

	if errGo := copyTree(m.envRoot(source), m.envRoot(target)); errGo != nil {
		os.RemoveAll(m.envRoot(target))
		return Result{Success: false, Message: errGo.Error()}
	}

	rec, errC := m.Metadata.Load(m.envRoot(target), nil)
	if errC != nil {
		rec = &metadata.Record{Name: target, Path: m.envRoot(target)}
	}
	rec.Name = target
	rec.Path = m.envRoot(target)
	if errC := m.Metadata.Save(rec.Path, rec); errC != nil {
		return Result{Success: false, Message: errC.Error()}
	}
	return Result{Success: true, Message: "environment cloned", Record: rec}
}

// ExportFormat selects the shape Export writes, per spec.md §4.8.
type ExportFormat string

const (
	ExportJSON         ExportFormat = "json"
	ExportRequirements ExportFormat = "requirements"
	ExportPyproject    ExportFormat = "pyproject"
	ExportArchive      ExportFormat = "archive"
)

const pyprojectExportTemplate = `[project]
name = "{{ .Name | kebabcase }}"
requires-python = ">={{ .PythonVersion }}"
dependencies = [
{{- range .Packages }}
    "{{ .Name }}{{ if .VersionSpec }}{{ .VersionSpec }}{{ end }}",
{{- end }}
]
`

// Export writes name's record out in one of four shapes. json dumps the
// full Record; requirements renders one pinned spec per line; pyproject
// reconstructs a minimal [project] table via text/template (sprig
// supplies the name-casing helper); archive gzip-tars the sidecar
// metadata and manifest file together, for a full round-trip import.
func (m *Manager) Export(ctx context.Context, name string, format ExportFormat, destPath string) *coreerrors.CoreError {
	rec, errC := m.Info(ctx, name)
	if errC != nil {
		return errC
	}

	switch format {
	case ExportArchive, "":
		sources := []string{filepath.Join(rec.Path, ".gestvenv-metadata.json")}
		if rec.ManifestPath != "" {
			sources = append(sources, rec.ManifestPath)
		}
		if errGo := archiver.Archive(sources, destPath); errGo != nil {
			return coreerrors.Wrap(coreerrors.CleanupFailure, errGo, "dest", destPath)
		}
		return nil

	case ExportJSON:
		b, errGo := json.MarshalIndent(rec, "", "  ")
		if errGo != nil {
			return coreerrors.Wrap(coreerrors.ValidationFailure, errGo, "name", name)
		}
		return writeFile(destPath, b)

	case ExportRequirements:
		var sb strings.Builder
		for _, pkg := range rec.Packages {
			sb.WriteString(pkg.Name)
			sb.WriteString(pkg.VersionSpec)
			sb.WriteString("\n")
		}
		return writeFile(destPath, []byte(sb.String()))

	case ExportPyproject:
		tmpl, errGo := template.New("pyproject").Funcs(sprig.TxtFuncMap()).Parse(pyprojectExportTemplate)
		if errGo != nil {
			return coreerrors.Wrap(coreerrors.ValidationFailure, errGo, "name", name)
		}
		var sb strings.Builder
		if errGo := tmpl.Execute(&sb, rec); errGo != nil {
			return coreerrors.Wrap(coreerrors.ValidationFailure, errGo, "name", name)
		}
		return writeFile(destPath, []byte(sb.String()))

	default:
		return coreerrors.New(coreerrors.ValidationFailure, "unknown export format", "format", string(format))
	}
}

func writeFile(path string, b []byte) *coreerrors.CoreError {
	if errGo := os.WriteFile(path, b, 0o644); errGo != nil {
		return coreerrors.Wrap(coreerrors.CleanupFailure, errGo, "path", path)
	}
	return nil
}

// Import detects an exported file by extension and recreates the
// environment it describes. The json and archive shapes recreate it from
// the exported Record's name, Python version, backend and package list
// (manifest path and dependency groups are not restored); any other
// extension is parsed as a manifest and treated as a manifest-driven create.
func (m *Manager) Import(ctx context.Context, path string) Result {
	switch filepath.Ext(path) {
	case ".json":
		b, errGo := os.ReadFile(path)
		if errGo != nil {
			return Result{Success: false, Message: errGo.Error()}
		}
		var rec metadata.Record
		if errGo := json.Unmarshal(b, &rec); errGo != nil {
			return Result{Success: false, Message: errGo.Error()}
		}
		return m.Create(ctx, rec.Name, CreateOptions{
			PythonVersion: rec.PythonVersion,
			Backend:       rec.Backend,
			InitialPackages: func() []manifest.Requirement {
				reqs := make([]manifest.Requirement, len(rec.Packages))
				copy(reqs, rec.Packages)
				return reqs
			}(),
		})
	case ".gz", ".tar":
		tmpDir, errGo := os.MkdirTemp("", "gestvenv-import-*")
		if errGo != nil {
			return Result{Success: false, Message: errGo.Error()}
		}
		defer os.RemoveAll(tmpDir)
		if errGo := archiver.Unarchive(path, tmpDir); errGo != nil {
			return Result{Success: false, Message: errGo.Error()}
		}
		b, errGo := os.ReadFile(filepath.Join(tmpDir, ".gestvenv-metadata.json"))
		if errGo != nil {
			return Result{Success: false, Message: errGo.Error()}
		}
		var rec metadata.Record
		if errGo := json.Unmarshal(b, &rec); errGo != nil {
			return Result{Success: false, Message: errGo.Error()}
		}
		return m.Create(ctx, rec.Name, CreateOptions{PythonVersion: rec.PythonVersion, Backend: rec.Backend, InitialPackages: rec.Packages})
	default:
		ds, errC := parseManifestByExtension(path)
		if errC != nil {
			return Result{Success: false, Message: errC.Error()}
		}
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		return m.Create(ctx, name, CreateOptions{PythonVersion: ds.PythonVersionConstraint, InitialPackages: ds.Main})
	}
}

// copyTree recursively copies src onto dst, used by Clone to duplicate an
// environment's venv directory without re-running backend installs.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, errGo error) error {
		if errGo != nil {
			return errGo
		}
		rel, errGo := filepath.Rel(src, path)
		if errGo != nil {
			return errGo
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		if info.Mode()&os.ModeSymlink != 0 {
			linkTarget, errGo := os.Readlink(path)
			if errGo != nil {
				return errGo
			}
			return os.Symlink(linkTarget, target)
		}
		in, errGo := os.Open(path)
		if errGo != nil {
			return errGo
		}
		defer in.Close()
		out, errGo := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
		if errGo != nil {
			return errGo
		}
		defer out.Close()
		_, errGo = io.Copy(out, in)
		return errGo
	})
}

func parseManifestByExtension(path string) (*manifest.DependencySet, *coreerrors.CoreError) {
	if filepath.Base(path) == "Pipfile" {
		return manifest.ParsePipfile(path)
	}
	switch filepath.Ext(path) {
	case ".toml":
		return manifest.ParsePyproject(path)
	case ".yml", ".yaml":
		return manifest.ParseCondaYAML(path)
	default:
		return manifest.ParseRequirements(path)
	}
}
