// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

// Package models defines the data shapes shared across the ephemeral
// runtime subsystem, grounded directly on the original
// core/ephemeral/models.py dataclasses.
package models

import (
	"time"

	"github.com/karlmutch/go-shortid"

	"github.com/gestvenv/gestvenv/internal/backend"
)

// Status is the lifecycle state of an ephemeral environment. Transitions
// are enforced by the ephemeral manager, not by this package: PENDING ->
// CREATING -> READY <-> RUNNING -> CLEANING_UP -> DESTROYED, with FAILED
// reachable from CREATING or RUNNING.
type Status string

const (
	Pending    Status = "pending"
	Creating   Status = "creating"
	Ready      Status = "ready"
	Running    Status = "running"
	CleaningUp Status = "cleaning_up"
	Destroyed  Status = "destroyed"
	Failed     Status = "failed"
)

// IsolationLevel is how strongly an ephemeral environment is sandboxed
// from the host.
type IsolationLevel string

const (
	IsolationProcess   IsolationLevel = "process"
	IsolationNamespace IsolationLevel = "namespace"
	IsolationContainer IsolationLevel = "container"
	IsolationChroot    IsolationLevel = "chroot"
)

// StorageBackend is where an ephemeral environment's files live.
type StorageBackend string

const (
	StorageDisk   StorageBackend = "disk"
	StorageTmpfs  StorageBackend = "tmpfs"
	StorageMemory StorageBackend = "memory"
)

// SecurityMode is the coarse network/filesystem access policy applied on
// top of IsolationLevel.
type SecurityMode string

const (
	SecurityPermissive SecurityMode = "permissive"
	SecurityRestricted SecurityMode = "restricted"
	SecuritySandboxed  SecurityMode = "sandboxed"
)

// ResourceLimits bounds what an ephemeral environment may consume; zero
// values mean "use the cgroup controller's own default", not "unlimited".
type ResourceLimits struct {
	MaxMemoryMB    int64
	MaxDiskMB      int64
	MaxProcesses   int
	MaxCPUPercent  float64
	NetworkAccess  bool
}

// DefaultResourceLimits mirrors the original's dataclass defaults.
var DefaultResourceLimits = ResourceLimits{MaxProcesses: 10, NetworkAccess: true}

// Environment is one ephemeral environment's full state.
type Environment struct {
	ID   string
	Name string

	Backend       backend.Name
	PythonVersion string

	TTL         time.Duration // 0 means no expiry
	MaxIdleTime time.Duration
	AutoCleanup bool

	ResourceLimits ResourceLimits
	Isolation      IsolationLevel
	Security       SecurityMode

	Status         Status
	CreatedAt      time.Time
	LastActivityAt time.Time

	StoragePath string
	VenvPath    string
	PID         int
	ContainerID string
	ChrootPath  string

	Tags          map[string]string
	ParentSession string
	Packages      []string

	CreationDuration time.Duration
	CleanupDuration  time.Duration
	PeakMemoryMB     float64
	PeakDiskMB       float64
}

// New constructs a pending Environment with a generated ID and a
// default name derived from it, the Go counterpart to the dataclass's
// __post_init__ defaulting.
func New(pythonVersion string, b backend.Name) *Environment {
	id, errGo := shortid.Generate()
	if errGo != nil {
		id = time.Now().UTC().Format("20060102T150405.000000000")
	}
	now := time.Now().UTC()
	return &Environment{
		ID:             id,
		Name:           "ephemeral-" + id,
		Backend:        b,
		PythonVersion:  pythonVersion,
		MaxIdleTime:    5 * time.Minute,
		AutoCleanup:    true,
		ResourceLimits: DefaultResourceLimits,
		Isolation:      IsolationProcess,
		Security:       SecurityRestricted,
		Status:         Pending,
		CreatedAt:      now,
		LastActivityAt: now,
		Tags:           map[string]string{},
	}
}

// IsActive reports whether the environment is usable right now.
func (e *Environment) IsActive() bool {
	return e.Status == Ready || e.Status == Running
}

// Age returns how long ago the environment was created.
func (e *Environment) Age() time.Duration { return time.Since(e.CreatedAt) }

// Idle returns how long the environment has gone without recorded
// activity.
func (e *Environment) Idle() time.Duration { return time.Since(e.LastActivityAt) }

// Touch records activity now, resetting the idle clock.
func (e *Environment) Touch() { e.LastActivityAt = time.Now().UTC() }

// IsExpired reports whether the environment has outlived its TTL.
func (e *Environment) IsExpired() bool {
	if e.TTL <= 0 {
		return false
	}
	return e.Age() > e.TTL
}

// IsIdleExpired reports whether the environment has been idle past its
// MaxIdleTime.
func (e *Environment) IsIdleExpired() bool {
	return e.Idle() > e.MaxIdleTime
}

// Config is process-wide tuning for the ephemeral subsystem.
type Config struct {
	DefaultTTL        time.Duration
	MaxConcurrent     int
	MaxTotalMemoryMB  int64
	MaxTotalDiskMB    int64

	CleanupInterval  time.Duration
	ForceCleanupAfter time.Duration

	StorageBackend  StorageBackend
	BaseStoragePath string

	DefaultSecurity  SecurityMode
	DefaultIsolation IsolationLevel

	EnableMonitoring   bool
	MonitoringInterval time.Duration
}

// DefaultConfig mirrors the original's EphemeralConfig defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:         time.Hour,
		MaxConcurrent:      50,
		MaxTotalMemoryMB:   8192,
		MaxTotalDiskMB:     20480,
		CleanupInterval:    time.Minute,
		ForceCleanupAfter:  2 * time.Hour,
		StorageBackend:     StorageTmpfs,
		BaseStoragePath:    "/tmp/gestvenv-ephemeral",
		DefaultSecurity:    SecurityRestricted,
		DefaultIsolation:   IsolationProcess,
		EnableMonitoring:   true,
		MonitoringInterval: 5 * time.Second,
	}
}

// OperationResult is the outcome of running one command inside an
// ephemeral environment.
type OperationResult struct {
	ReturnCode int
	Stdout     string
	Stderr     string
	Duration   time.Duration
	Command    string
}

// Success reports whether the command exited zero.
func (r OperationResult) Success() bool { return r.ReturnCode == 0 }

// ResourceUsage is a point-in-time sample of an ephemeral environment's
// consumption, read back from its cgroup.
type ResourceUsage struct {
	MemoryMB          float64
	DiskMB            float64
	CPUPercent        float64
	ActiveProcesses   int
	NetworkBytesSent  int64
	NetworkBytesRecv  int64
	SampledAt         time.Time
}

// CleanupReason records why a cleanup happened, for the reaper's audit
// log and for CleanupScheduler's categorized counters.
type CleanupReason struct {
	Reason      string
	TriggeredBy string
	Forced      bool
	Err         error
	At          time.Time
}
