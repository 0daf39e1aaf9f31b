// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

// Package lifecycle drives a single ephemeral environment through
// create -> ready -> running -> cleanup, grounded on the original
// implementation's LifecycleController and ProcessManager.
package lifecycle

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gestvenv/gestvenv/internal/backend"
	"github.com/gestvenv/gestvenv/internal/coreerrors"
	"github.com/gestvenv/gestvenv/internal/corelog"
	"github.com/gestvenv/gestvenv/internal/ephemeral/cgroups"
	"github.com/gestvenv/gestvenv/internal/ephemeral/isolation"
	"github.com/gestvenv/gestvenv/internal/ephemeral/models"
)

var logger = corelog.New("ephemeral/lifecycle")

// downgradeOrder is the fallback chain applied when a requested isolation
// level's prerequisites are absent, per the design's "graceful downgrade"
// requirement.
var downgradeOrder = map[models.IsolationLevel]models.IsolationLevel{
	models.IsolationContainer: models.IsolationNamespace,
	models.IsolationNamespace: models.IsolationChroot,
	models.IsolationChroot:    models.IsolationProcess,
}

// Controller owns the create/execute/cleanup sequence for one environment
// at a time; EphemeralManager holds one Controller per active environment.
type Controller struct {
	Cgroups    *cgroups.Manager
	DockerHost string

	isolationHandle isolation.Handle
}

// Create runs storage-already-allocated setup: builds the venv, configures
// isolation (downgrading on unavailability), and installs a cgroup. The
// storage directory itself is allocated by the caller before Create runs.
func (c *Controller) Create(ctx context.Context, env *models.Environment, b backend.Backend) *coreerrors.CoreError {
	logger.Info("creating ephemeral environment", "env_id", env.ID, "backend", string(env.Backend))

	venvPath := filepath.Join(env.StoragePath, "venv")
	if errGo := b.CreateVenv(ctx, venvPath, env.PythonVersion); errGo != nil {
		return coreerrors.Wrap(coreerrors.BackendExecutionFailed, errGo, "env_id", env.ID)
	}
	env.VenvPath = venvPath

	level := env.Isolation
	var handle isolation.Handle
	var errC *coreerrors.CoreError
	for {
		provider := isolation.Select(level, c.DockerHost)
		handle, errC = provider.Setup(ctx, env)
		if errC == nil {
			break
		}
		next, ok := downgradeOrder[level]
		if !ok {
			return errC
		}
		logger.Warn("isolation level unavailable, downgrading", "env_id", env.ID, "from", string(level), "to", string(next))
		level = next
	}
	env.Isolation = level
	env.ContainerID = handle.ContainerID
	env.ChrootPath = handle.ChrootPath
	c.isolationHandle = handle

	if c.Cgroups != nil {
		if path, errC := c.Cgroups.Create(env.ID, env.ResourceLimits); errC == nil {
			env.Tags["cgroup_path"] = path
		} else if !coreerrors.Is(errC, coreerrors.IsolationUnavailable) {
			return errC
		}
	}

	env.Status = models.Ready
	return nil
}

// Cleanup tears down processes, then isolation, then the cgroup. Storage
// release is the caller's responsibility (EphemeralManager owns storage
// exclusively). With force, errors are not returned, matching the
// emergency-cleanup contract: an isolation teardown error is logged, and
// process and cgroup errors are ignored.
func (c *Controller) Cleanup(ctx context.Context, env *models.Environment, force bool) *coreerrors.CoreError {
	logger.Info("cleaning up ephemeral environment", "env_id", env.ID, "force", force)

	if errC := c.stopProcesses(env); errC != nil && !force {
		return errC
	}

	provider := isolation.Select(env.Isolation, c.DockerHost)
	if errC := provider.Teardown(ctx, c.isolationHandle); errC != nil {
		if !force {
			return errC
		}
		logger.Warn("force cleanup: isolation teardown error ignored", "env_id", env.ID, "err", errC.Error())
	}

	if c.Cgroups != nil {
		if errC := c.Cgroups.Delete(env.ID); errC != nil && !force {
			return errC
		}
	}

	return nil
}

func (c *Controller) stopProcesses(env *models.Environment) *coreerrors.CoreError {
	if env.PID == 0 {
		return nil
	}
	p, errGo := os.FindProcess(env.PID)
	if errGo != nil {
		return nil
	}
	_ = p.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_, _ = p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = p.Kill()
	}
	env.PID = 0
	return nil
}

// Execute runs command inside the environment's venv, activating it via
// the same PATH/VIRTUAL_ENV env-var scoping as the original's
// _build_execution_environment rather than sourcing activate scripts,
// since Go invokes argv directly instead of shelling through bash.
func (c *Controller) Execute(ctx context.Context, env *models.Environment, argv []string, timeout time.Duration) (models.OperationResult, *coreerrors.CoreError) {
	if !env.IsActive() {
		return models.OperationResult{}, coreerrors.New(coreerrors.ValidationFailure, "environment is not active", "env_id", env.ID)
	}

	env.Touch()
	env.Status = models.Running
	defer func() {
		if env.Status == models.Running {
			env.Status = models.Ready
		}
	}()

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = env.StoragePath
	cmd.Env = c.buildExecEnv(env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if errGo := cmd.Start(); errGo != nil {
		return models.OperationResult{}, coreerrors.Wrap(coreerrors.BackendExecutionFailed, errGo, "env_id", env.ID)
	}
	env.PID = cmd.Process.Pid
	if c.Cgroups != nil {
		_ = c.Cgroups.AddProcess(env.ID, env.PID)
	}

	errGo := cmd.Wait()
	env.PID = 0
	result := models.OperationResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		Command:  fmt.Sprintf("%v", argv),
	}
	if cmd.ProcessState != nil {
		result.ReturnCode = cmd.ProcessState.ExitCode()
	}
	if runCtx.Err() != nil {
		result.ReturnCode = -1
		result.Stderr = "command timed out"
	} else if errGo != nil && result.ReturnCode == 0 {
		result.ReturnCode = -1
	}
	return result, nil
}

func (c *Controller) buildExecEnv(env *models.Environment) []string {
	base := os.Environ()
	out := make([]string, 0, len(base)+8)
	for _, kv := range base {
		if env.VenvPath != "" && hasPrefix(kv, "PYTHONHOME=") {
			continue
		}
		out = append(out, kv)
	}
	if env.VenvPath != "" {
		out = append(out, "VIRTUAL_ENV="+env.VenvPath)
		out = append(out, "PATH="+filepath.Join(env.VenvPath, "bin")+":"+os.Getenv("PATH"))
	}
	out = append(out,
		"PYTHONDONTWRITEBYTECODE=1",
		"PYTHONUNBUFFERED=1",
		"PIP_CACHE_DIR="+filepath.Join(env.StoragePath, "cache", "pip"),
		"UV_CACHE_DIR="+filepath.Join(env.StoragePath, "cache", "uv"),
	)
	if env.Security == models.SecurityRestricted || env.Security == models.SecuritySandboxed {
		out = append(out, "HOME="+env.StoragePath)
		out = append(out, "TMPDIR="+filepath.Join(env.StoragePath, "tmp"))
	}
	return out
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
