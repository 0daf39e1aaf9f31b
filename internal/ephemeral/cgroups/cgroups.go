// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

// Package cgroups applies resource limits to ephemeral environments via
// the cgroups v2 filesystem, grounded on the original implementation's
// CgroupManager.
package cgroups

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gestvenv/gestvenv/internal/coreerrors"
	"github.com/gestvenv/gestvenv/internal/corelog"
	"github.com/gestvenv/gestvenv/internal/ephemeral/models"
)

var logger = corelog.New("ephemeral/cgroups")

const cgroupRoot = "/sys/fs/cgroup"

// Manager creates and tears down one cgroup per ephemeral environment
// under a gestvenv parent cgroup.
type Manager struct {
	parentPath   string
	available    bool
	controllers  map[string]bool
}

// NewManager probes for cgroups v2 support and the set of controllers
// delegated to the caller's cgroup.
func NewManager() *Manager {
	m := &Manager{parentPath: filepath.Join(cgroupRoot, "gestvenv")}
	m.available = m.checkV2()
	if m.available {
		m.controllers = m.availableControllers()
		_ = os.MkdirAll(m.parentPath, 0o755)
		m.enableControllers(cgroupRoot)
	}
	return m
}

// Available reports whether cgroups v2 is usable on this host.
func (m *Manager) Available() bool { return m.available }

func (m *Manager) checkV2() bool {
	var st syscall.Statfs_t
	if errGo := syscall.Statfs(cgroupRoot, &st); errGo != nil {
		return false
	}
	// cgroup2 filesystem magic number.
	const cgroup2SuperMagic = 0x63677270
	return int64(st.Type) == cgroup2SuperMagic
}

func (m *Manager) availableControllers() map[string]bool {
	out := map[string]bool{}
	b, errGo := os.ReadFile(filepath.Join(cgroupRoot, "cgroup.controllers"))
	if errGo != nil {
		return out
	}
	for _, c := range strings.Fields(string(b)) {
		out[c] = true
	}
	return out
}

func (m *Manager) enableControllers(parent string) {
	subtree := filepath.Join(parent, "cgroup.subtree_control")
	if _, errGo := os.Stat(subtree); errGo != nil {
		return
	}
	var toEnable []string
	for _, c := range []string{"memory", "cpu", "io", "pids"} {
		if m.controllers[c] {
			toEnable = append(toEnable, "+"+c)
		}
	}
	if len(toEnable) == 0 {
		return
	}
	if errGo := os.WriteFile(subtree, []byte(strings.Join(toEnable, " ")), 0o644); errGo != nil {
		logger.Debug("failed to enable cgroup controllers", "path", subtree, "err", errGo.Error())
	}
}

// Create makes the cgroup for envID and applies limits, returning the
// cgroup's path for later use by add-process/delete. If cgroups v2 is
// unavailable it returns IsolationUnavailable rather than failing the
// whole environment creation - callers treat this as a soft dependency.
func (m *Manager) Create(envID string, limits models.ResourceLimits) (string, *coreerrors.CoreError) {
	if !m.available {
		return "", coreerrors.New(coreerrors.IsolationUnavailable, "cgroups v2 not available on this host")
	}

	path := filepath.Join(m.parentPath, envID)
	if errGo := os.MkdirAll(path, 0o755); errGo != nil {
		return "", coreerrors.Wrap(coreerrors.CgroupOperationFailed, errGo, "path", path)
	}
	m.applyLimits(path, limits)
	return path, nil
}

func (m *Manager) applyLimits(cgroupPath string, limits models.ResourceLimits) {
	if limits.MaxMemoryMB > 0 && m.controllers["memory"] {
		maxBytes := limits.MaxMemoryMB * 1024 * 1024
		m.writeFile(filepath.Join(cgroupPath, "memory.max"), fmt.Sprintf("%d", maxBytes))
		m.writeFile(filepath.Join(cgroupPath, "memory.high"), fmt.Sprintf("%d", maxBytes*80/100))
		m.writeFile(filepath.Join(cgroupPath, "memory.swap.max"), "0")
	}
	if limits.MaxCPUPercent > 0 && m.controllers["cpu"] {
		const period = 100000
		quota := int(period * limits.MaxCPUPercent / 100)
		m.writeFile(filepath.Join(cgroupPath, "cpu.max"), fmt.Sprintf("%d %d", quota, period))
	}
	if limits.MaxProcesses > 0 && m.controllers["pids"] {
		m.writeFile(filepath.Join(cgroupPath, "pids.max"), fmt.Sprintf("%d", limits.MaxProcesses))
	}
}

func (m *Manager) writeFile(path, content string) {
	if errGo := os.WriteFile(path, []byte(content), 0o644); errGo != nil {
		logger.Warn("failed to write cgroup file", "path", path, "err", errGo.Error())
	}
}

// AddProcess moves pid into the environment's cgroup.
func (m *Manager) AddProcess(envID string, pid int) *coreerrors.CoreError {
	if !m.available {
		return coreerrors.New(coreerrors.IsolationUnavailable, "cgroups v2 not available on this host")
	}
	path := filepath.Join(m.parentPath, envID, "cgroup.procs")
	if errGo := os.WriteFile(path, []byte(fmt.Sprintf("%d", pid)), 0o644); errGo != nil {
		return coreerrors.Wrap(coreerrors.CgroupOperationFailed, errGo, "path", path, "pid", pid)
	}
	return nil
}

// Stats is a coarse snapshot of a cgroup's current usage.
type Stats struct {
	MemoryCurrentMB float64
	PIDsCurrent     int
}

// Read returns the environment's current memory.current and pids.current,
// treating any read failure as zero rather than propagating an error -
// these are best-effort metrics, not control decisions.
func (m *Manager) Read(envID string) Stats {
	path := filepath.Join(m.parentPath, envID)
	var s Stats
	if b, errGo := os.ReadFile(filepath.Join(path, "memory.current")); errGo == nil {
		fmt.Sscanf(strings.TrimSpace(string(b)), "%f", &s.MemoryCurrentMB)
		s.MemoryCurrentMB /= 1024 * 1024
	}
	if b, errGo := os.ReadFile(filepath.Join(path, "pids.current")); errGo == nil {
		fmt.Sscanf(strings.TrimSpace(string(b)), "%d", &s.PIDsCurrent)
	}
	return s
}

// Delete removes the environment's cgroup, killing any process still
// inside it first since a non-empty cgroup directory cannot be removed.
func (m *Manager) Delete(envID string) *coreerrors.CoreError {
	if !m.available {
		return nil
	}
	path := filepath.Join(m.parentPath, envID)
	m.killAll(path)
	if errGo := os.Remove(path); errGo != nil && !os.IsNotExist(errGo) {
		return coreerrors.Wrap(coreerrors.CgroupOperationFailed, errGo, "path", path)
	}
	return nil
}

// killAll signals every pid still resident in the cgroup with SIGTERM,
// waits briefly, then SIGKILLs whatever survives, mirroring the design's
// "SIGTERM, wait <= 5s, SIGKILL" destruction order.
func (m *Manager) killAll(cgroupPath string) {
	pids := m.residentPIDs(cgroupPath)
	if len(pids) == 0 {
		return
	}
	for _, pid := range pids {
		if p, errGo := os.FindProcess(pid); errGo == nil {
			_ = p.Signal(syscall.SIGTERM)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(m.residentPIDs(cgroupPath)) == 0 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	for _, pid := range m.residentPIDs(cgroupPath) {
		if p, errGo := os.FindProcess(pid); errGo == nil {
			_ = p.Kill()
		}
	}
}

func (m *Manager) residentPIDs(cgroupPath string) []int {
	b, errGo := os.ReadFile(filepath.Join(cgroupPath, "cgroup.procs"))
	if errGo != nil {
		return nil
	}
	var pids []int
	for _, line := range strings.Fields(string(b)) {
		var pid int
		if _, errGo := fmt.Sscanf(line, "%d", &pid); errGo == nil && pid > 0 {
			pids = append(pids, pid)
		}
	}
	return pids
}
