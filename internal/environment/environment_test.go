// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package environment

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gestvenv/gestvenv/internal/backend"
	"github.com/gestvenv/gestvenv/internal/cache"
	"github.com/gestvenv/gestvenv/internal/manifest"
	"github.com/gestvenv/gestvenv/internal/packageservice"
)

// fakeBackend is a minimal in-memory Backend used to exercise Manager
// without shelling out to a real interpreter.
type fakeBackend struct {
	venvsCreated []string
	installed    []manifest.Requirement
	failCreate   bool
}

func (f *fakeBackend) Name() backend.Name { return backend.Pip }
func (f *fakeBackend) Probe(ctx context.Context) backend.ProbeResult {
	return backend.ProbeResult{Available: true, Version: "fake-1.0"}
}
func (f *fakeBackend) CreateVenv(ctx context.Context, envRoot, pythonVersion string) error {
	if f.failCreate {
		return errString("create failed")
	}
	f.venvsCreated = append(f.venvsCreated, envRoot)
	if errGo := os.MkdirAll(filepath.Join(envRoot, "bin"), 0o755); errGo != nil {
		return errGo
	}
	return os.WriteFile(filepath.Join(envRoot, "bin", "python"), nil, 0o755)
}
func (f *fakeBackend) Install(ctx context.Context, envRoot string, reqs []manifest.Requirement, opts backend.InstallOptions) (backend.InstallOutcome, error) {
	f.installed = append(f.installed, reqs...)
	return backend.InstallOutcome{Installed: reqs}, nil
}
func (f *fakeBackend) Uninstall(ctx context.Context, envRoot string, names []string) error {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	var kept []manifest.Requirement
	for _, r := range f.installed {
		if !drop[r.Name] {
			kept = append(kept, r)
		}
	}
	f.installed = kept
	return nil
}
func (f *fakeBackend) List(ctx context.Context, envRoot string) ([]manifest.Requirement, error) {
	return f.installed, nil
}
func (f *fakeBackend) Freeze(ctx context.Context, envRoot string) (string, error) { return "", nil }
func (f *fakeBackend) Check(ctx context.Context, envRoot string) ([]backend.Conflict, error) {
	return nil, nil
}
func (f *fakeBackend) CreateLock(ctx context.Context, envRoot string) error { return nil }
func (f *fakeBackend) DownloadArtifact(ctx context.Context, req manifest.Requirement) ([]byte, error) {
	return nil, errString("not supported")
}

type errString string

func (e errString) Error() string { return string(e) }

func newTestManager(t *testing.T, fb *fakeBackend) *Manager {
	t.Helper()
	root := t.TempDir()
	registry := backend.NewRegistryWithBackends(map[backend.Name]backend.Backend{backend.Pip: fb})

	c, errC := cache.Open(filepath.Join(root, "cache"), 1<<20, false)
	if errC != nil {
		t.Fatalf("open cache: %v", errC)
	}
	svc := packageservice.New(c, false)
	return New(filepath.Join(root, "envs"), registry, svc)
}

func TestCreateRollsBackOnVenvFailure(t *testing.T) {
	fb := &fakeBackend{failCreate: true}
	mgr := newTestManager(t, fb)

	res := mgr.Create(context.Background(), "broken-env", CreateOptions{PythonVersion: "3.11"})
	if res.Success {
		t.Fatalf("expected create to fail")
	}
	if _, errGo := os.Stat(filepath.Join(mgr.RootDir, "broken-env")); !os.IsNotExist(errGo) {
		t.Fatalf("expected environment directory to be rolled back after failure")
	}
}

func TestCreateSucceedsAndPersistsMetadata(t *testing.T) {
	fb := &fakeBackend{}
	mgr := newTestManager(t, fb)

	res := mgr.Create(context.Background(), "demo", CreateOptions{PythonVersion: "3.11"})
	if !res.Success {
		t.Fatalf("expected create to succeed, got: %s", res.Message)
	}

	rec, errC := mgr.Info(context.Background(), "demo")
	if errC != nil {
		t.Fatalf("info: %v", errC)
	}
	if rec.PythonVersion != "3.11" {
		t.Fatalf("expected python version 3.11, got %s", rec.PythonVersion)
	}
}

func TestEnvironmentNameValidationRejected(t *testing.T) {
	mgr := newTestManager(t, &fakeBackend{})
	res := mgr.Create(context.Background(), "", CreateOptions{})
	if res.Success {
		t.Fatalf("expected empty name to be rejected")
	}
}

func TestActivateIsExclusive(t *testing.T) {
	mgr := newTestManager(t, &fakeBackend{})
	ctx := context.Background()
	mgr.Create(ctx, "a", CreateOptions{PythonVersion: "3.11"})
	mgr.Create(ctx, "b", CreateOptions{PythonVersion: "3.11"})

	if _, errC := mgr.Activate(ctx, "a"); errC != nil {
		t.Fatalf("activate a: %v", errC)
	}
	if _, errC := mgr.Activate(ctx, "b"); errC != nil {
		t.Fatalf("activate b: %v", errC)
	}

	recA, _ := mgr.Info(ctx, "a")
	recB, _ := mgr.Info(ctx, "b")
	if recA.IsActive {
		t.Fatalf("expected a to be deactivated once b is activated")
	}
	if !recB.IsActive {
		t.Fatalf("expected b to be active")
	}
}

func TestDeleteRefusesActiveWithoutForce(t *testing.T) {
	mgr := newTestManager(t, &fakeBackend{})
	ctx := context.Background()
	mgr.Create(ctx, "live", CreateOptions{PythonVersion: "3.11"})
	mgr.Activate(ctx, "live")

	if res := mgr.Delete(ctx, "live", false); res.Success {
		t.Fatalf("expected delete without force to be refused on an active environment")
	}
	if res := mgr.Delete(ctx, "live", true); !res.Success {
		t.Fatalf("expected forced delete to succeed, got: %s", res.Message)
	}
}

func TestDeleteTwiceReturnsNotFoundSecondTime(t *testing.T) {
	mgr := newTestManager(t, &fakeBackend{})
	ctx := context.Background()
	mgr.Create(ctx, "once", CreateOptions{PythonVersion: "3.11"})

	if res := mgr.Delete(ctx, "once", false); !res.Success {
		t.Fatalf("expected first delete to succeed")
	}
	if res := mgr.Delete(ctx, "once", false); res.Success {
		t.Fatalf("expected second delete to fail")
	}
}

func TestListFiltersByActiveOnly(t *testing.T) {
	mgr := newTestManager(t, &fakeBackend{})
	ctx := context.Background()
	mgr.Create(ctx, "a", CreateOptions{PythonVersion: "3.11"})
	mgr.Create(ctx, "b", CreateOptions{PythonVersion: "3.11"})
	mgr.Activate(ctx, "a")

	recs, errC := mgr.List(ctx, ListFilters{ActiveOnly: true})
	if errC != nil {
		t.Fatalf("list: %v", errC)
	}
	if len(recs) != 1 || recs[0].Name != "a" {
		t.Fatalf("expected exactly [a] active, got %+v", recs)
	}
}

func TestSyncCleanRemovesDroppedPackages(t *testing.T) {
	fb := &fakeBackend{installed: []manifest.Requirement{
		{Name: "requests", VersionSpec: "==2.31.0"},
		{Name: "click", VersionSpec: "==8.1.0"},
	}}
	mgr := newTestManager(t, fb)
	ctx := context.Background()

	manifestPath := filepath.Join(t.TempDir(), "requirements.txt")
	if errGo := os.WriteFile(manifestPath, []byte("requests==2.31.0\nclick==8.1.0\n"), 0o644); errGo != nil {
		t.Fatalf("write manifest: %v", errGo)
	}
	res := mgr.CreateFromManifest(ctx, "demo", manifestPath, CreateOptions{PythonVersion: "3.11"})
	if !res.Success {
		t.Fatalf("expected create to succeed, got: %s", res.Message)
	}

	if errGo := os.WriteFile(manifestPath, []byte("requests==2.31.0\nrich==13.0.0\n"), 0o644); errGo != nil {
		t.Fatalf("rewrite manifest: %v", errGo)
	}

	syncRes := mgr.Sync(ctx, "demo", SyncOptions{Clean: true})
	if !syncRes.Success {
		t.Fatalf("expected sync to succeed, got: %s", syncRes.Message)
	}
	if !containsName(syncRes.PackagesRemoved, "click") {
		t.Fatalf("expected click to be reported removed, got: %+v", syncRes.PackagesRemoved)
	}
	for _, p := range syncRes.Record.Packages {
		if p.Name == "click" {
			t.Fatalf("expected click to be gone from the environment's package list")
		}
	}
}

func containsName(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}

func TestExportRequirementsFormat(t *testing.T) {
	fb := &fakeBackend{}
	mgr := newTestManager(t, fb)
	ctx := context.Background()
	mgr.Create(ctx, "demo", CreateOptions{
		PythonVersion:   "3.11",
		InitialPackages: []manifest.Requirement{{Name: "requests", VersionSpec: "==2.31.0"}},
	})

	dest := filepath.Join(t.TempDir(), "requirements.txt")
	if errC := mgr.Export(ctx, "demo", ExportRequirements, dest); errC != nil {
		t.Fatalf("export: %v", errC)
	}
	b, errGo := os.ReadFile(dest)
	if errGo != nil {
		t.Fatalf("read exported file: %v", errGo)
	}
	if string(b) != "requests==2.31.0\n" {
		t.Fatalf("unexpected requirements export: %q", string(b))
	}
}
