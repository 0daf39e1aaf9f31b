// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

// Package ephemeral implements EphemeralManager: the registry, admission
// control, and scoped-guard contract for short-lived sandboxed
// environments, grounded on the original implementation's
// EphemeralManager.
package ephemeral

import (
	"context"
	"sync"
	"time"

	"github.com/karlmutch/go-shortid"
	"github.com/tebeka/atexit"

	"github.com/gestvenv/gestvenv/internal/backend"
	"github.com/gestvenv/gestvenv/internal/coreerrors"
	"github.com/gestvenv/gestvenv/internal/corelog"
	"github.com/gestvenv/gestvenv/internal/ephemeral/cgroups"
	"github.com/gestvenv/gestvenv/internal/ephemeral/cleanup"
	"github.com/gestvenv/gestvenv/internal/ephemeral/lifecycle"
	"github.com/gestvenv/gestvenv/internal/ephemeral/models"
	"github.com/gestvenv/gestvenv/internal/ephemeral/storage"
)

var logger = corelog.New("ephemeral")

// entry pairs one active environment with the Controller driving it.
type entry struct {
	env  *models.Environment
	ctrl *lifecycle.Controller
}

// Manager is the process-wide registry of active ephemeral environments.
// Exactly one Manager should exist per process: it registers an atexit
// hook that tears down every environment still active on shutdown.
type Manager struct {
	cfg        models.Config
	registry   *backend.Registry
	storage    *storage.Allocator
	cgroups    *cgroups.Manager
	scheduler  *cleanup.Scheduler
	dockerHost string

	mu     sync.Mutex
	active map[string]*entry
}

// New builds a Manager, starts its CleanupScheduler, and registers its
// emergency-cleanup atexit hook.
func New(cfg models.Config, registry *backend.Registry, dockerHost string) *Manager {
	m := &Manager{
		cfg:        cfg,
		registry:   registry,
		storage:    storage.New(cfg),
		cgroups:    cgroups.NewManager(),
		dockerHost: dockerHost,
		active:     map[string]*entry{},
	}
	m.scheduler = cleanup.New(m, cfg)
	m.scheduler.Start()
	atexit.Register(m.emergencyCleanupAll)
	return m
}

// Shutdown stops the cleanup scheduler and reaps every active
// environment; call this from the hosting process's own shutdown path
// rather than relying solely on the atexit hook.
func (m *Manager) Shutdown(ctx context.Context) {
	m.scheduler.Stop()
	m.scheduler.EmergencyCleanupAll(ctx)
}

// Create admits, allocates, and brings one ephemeral environment to
// READY. On any failure the environment is torn down and removed before
// Create returns an error.
//
// Admission is reserved - the count/memory/disk check and the
// registration of a placeholder entry happen under one lock acquisition
// (reserveSlot) - before backend selection, storage allocation, or venv
// creation run unlocked, so concurrent callers can never all observe the
// same pre-admission count and all pass it. The placeholder is either
// replaced with the real entry on success or removed on any failure.
func (m *Manager) Create(ctx context.Context, pythonVersion string, backendPref backend.Name, opts ...func(*models.Environment)) (*models.Environment, *coreerrors.CoreError) {
	id, errC := m.reserveSlot(ctx)
	if errC != nil {
		return nil, errC
	}
	committed := false
	defer func() {
		if !committed {
			m.mu.Lock()
			delete(m.active, id)
			m.mu.Unlock()
		}
	}()

	b, _, errC := m.registry.Select(ctx, backendPref)
	if errC != nil {
		return nil, errC
	}

	env := models.New(pythonVersion, b.Name())
	env.ID = id
	for _, opt := range opts {
		opt(env)
	}
	env.Status = models.Creating

	storagePath, errC := m.storage.Allocate(env.ID)
	if errC != nil {
		env.Status = models.Failed
		return nil, errC
	}
	env.StoragePath = storagePath

	ctrl := &lifecycle.Controller{Cgroups: m.cgroups, DockerHost: m.dockerHost}
	if errC := ctrl.Create(ctx, env, b); errC != nil {
		env.Status = models.Failed
		_ = ctrl.Cleanup(ctx, env, true)
		m.storage.Release(storagePath)
		return nil, errC
	}

	m.mu.Lock()
	m.active[env.ID] = &entry{env: env, ctrl: ctrl}
	committed = true
	m.mu.Unlock()

	logger.Info("ephemeral environment ready", "env_id", env.ID, "isolation", string(env.Isolation))
	return env, nil
}

// Get returns the active environment with the given id.
func (m *Manager) Get(id string) (*models.Environment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.active[id]
	if !ok {
		return nil, false
	}
	return e.env, true
}

// List returns every currently active environment.
func (m *Manager) List() []*models.Environment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Environment, 0, len(m.active))
	for _, e := range m.active {
		out = append(out, e.env)
	}
	return out
}

// Execute runs argv inside the environment's venv.
func (m *Manager) Execute(ctx context.Context, id string, argv []string, timeout time.Duration) (models.OperationResult, *coreerrors.CoreError) {
	m.mu.Lock()
	e, ok := m.active[id]
	m.mu.Unlock()
	if !ok {
		return models.OperationResult{}, coreerrors.New(coreerrors.NotFound, "ephemeral environment not found", "env_id", id)
	}
	return e.ctrl.Execute(ctx, e.env, argv, timeout)
}

// Cleanup destroys one environment, releasing storage, cgroup, and
// isolation resources, and removes it from the registry.
func (m *Manager) Cleanup(ctx context.Context, id string, force bool) *coreerrors.CoreError {
	m.mu.Lock()
	e, ok := m.active[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.cleanupEntry(ctx, e, force)
}

func (m *Manager) cleanupEntry(ctx context.Context, e *entry, force bool) *coreerrors.CoreError {
	e.env.Status = models.CleaningUp
	var errC *coreerrors.CoreError
	if e.ctrl != nil {
		errC = e.ctrl.Cleanup(ctx, e.env, force)
	}
	m.storage.Release(e.env.StoragePath)

	m.mu.Lock()
	delete(m.active, e.env.ID)
	m.mu.Unlock()

	if errC != nil && !force {
		e.env.Status = models.Failed
		return errC
	}
	e.env.Status = models.Destroyed
	return nil
}

// WithEphemeral is the scoped-guard contract: it creates an environment,
// runs fn, and guarantees Cleanup runs afterward regardless of how fn
// returns, matching the original's create_ephemeral context manager.
func (m *Manager) WithEphemeral(ctx context.Context, pythonVersion string, backendPref backend.Name, fn func(*models.Environment) error) error {
	env, errC := m.Create(ctx, pythonVersion, backendPref)
	if errC != nil {
		return errC
	}

	fnErr := fn(env)
	force := fnErr != nil
	if errC := m.Cleanup(ctx, env.ID, force); errC != nil {
		logger.Warn("scoped guard cleanup failed", "env_id", env.ID, "err", errC.Error())
	}
	return fnErr
}

// reserveSlot enforces the global caps - active count, aggregate memory,
// aggregate disk - and, if they pass, reserves a slot for the new
// environment by registering a Pending placeholder entry, all within the
// same lock acquisition (admitLocked). This closes the gap the old
// check-then-register split left open: a pending reservation counts
// toward the active count immediately, so a second concurrent caller
// blocked on the same mutex sees it. On first breach it reaps inactive
// environments once (best effort) and runs the check a second time
// before failing.
func (m *Manager) reserveSlot(ctx context.Context) (string, *coreerrors.CoreError) {
	id, errC := m.admitLocked()
	if errC == nil {
		return id, nil
	}

	m.reapInactiveOnce(ctx)

	return m.admitLocked()
}

func (m *Manager) admitLocked() (string, *coreerrors.CoreError) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.active) >= m.cfg.MaxConcurrent {
		return "", coreerrors.New(coreerrors.ResourceExhausted, "maximum concurrent ephemeral environments reached", "max_concurrent", m.cfg.MaxConcurrent)
	}

	var totalMemory, totalDisk float64
	for _, e := range m.active {
		if e.env.IsActive() {
			totalMemory += e.env.PeakMemoryMB
			totalDisk += e.env.PeakDiskMB
		}
	}
	if totalMemory > float64(m.cfg.MaxTotalMemoryMB) {
		return "", coreerrors.New(coreerrors.ResourceExhausted, "total ephemeral memory limit exceeded", "limit_mb", m.cfg.MaxTotalMemoryMB)
	}
	if totalDisk > float64(m.cfg.MaxTotalDiskMB) {
		return "", coreerrors.New(coreerrors.ResourceExhausted, "total ephemeral disk limit exceeded", "limit_mb", m.cfg.MaxTotalDiskMB)
	}

	id, errGo := shortid.Generate()
	if errGo != nil {
		id = time.Now().UTC().Format("20060102T150405.000000000")
	}
	m.active[id] = &entry{env: &models.Environment{ID: id, Status: models.Pending}}
	return id, nil
}

func (m *Manager) reapInactiveOnce(ctx context.Context) {
	m.scheduler.CleanupInactive(ctx)
}

// emergencyCleanupAll tears down every active environment; registered as
// an atexit hook so a SIGTERM to the host process never leaks storage,
// cgroups, or containers. Errors are logged, never propagated.
func (m *Manager) emergencyCleanupAll() {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.active))
	for _, e := range m.active {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	if len(entries) == 0 {
		return
	}
	logger.Info("emergency cleanup of ephemeral environments", "count", len(entries))
	ctx := context.Background()
	for _, e := range entries {
		if errC := m.cleanupEntry(ctx, e, true); errC != nil {
			logger.Error("emergency cleanup failed", "env_id", e.env.ID, "err", errC.Error())
		}
	}
}
