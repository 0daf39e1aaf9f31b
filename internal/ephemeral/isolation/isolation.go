// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

// Package isolation configures the sandbox boundary around an ephemeral
// environment's process, grounded on the original implementation's
// LifecycleController isolation setup and, for the container level, on
// teradata-labs-loom's DockerExecutor container lifecycle.
package isolation

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/gestvenv/gestvenv/internal/coreerrors"
	"github.com/gestvenv/gestvenv/internal/corelog"
	"github.com/gestvenv/gestvenv/internal/ephemeral/models"
)

var logger = corelog.New("ephemeral/isolation")

// Handle is whatever a Provider needs later to tear the isolation back
// down: a container ID, a chroot path, or nothing for process isolation.
type Handle struct {
	Level       models.IsolationLevel
	ContainerID string
	ChrootPath  string
}

// Provider sets up and tears down one IsolationLevel's sandbox boundary
// for an environment.
type Provider interface {
	Setup(ctx context.Context, env *models.Environment) (Handle, *coreerrors.CoreError)
	Teardown(ctx context.Context, h Handle) *coreerrors.CoreError
}

// Select returns the Provider for an isolation level.
func Select(level models.IsolationLevel, dockerHost string) Provider {
	switch level {
	case models.IsolationContainer:
		return &containerProvider{dockerHost: dockerHost}
	case models.IsolationChroot:
		return &chrootProvider{}
	case models.IsolationNamespace:
		return &namespaceProvider{}
	default:
		return &processProvider{}
	}
}

// processProvider is the base level: the environment runs as a plain
// child process under the controlling user, relying on cgroups and
// working-directory confinement rather than kernel namespaces.
type processProvider struct{}

func (processProvider) Setup(ctx context.Context, env *models.Environment) (Handle, *coreerrors.CoreError) {
	return Handle{Level: models.IsolationProcess}, nil
}

func (processProvider) Teardown(ctx context.Context, h Handle) *coreerrors.CoreError { return nil }

// namespaceProvider checks that unshare(1) is on PATH rather than assuming
// it, since namespace isolation requires either root or user namespaces
// enabled on the kernel. Setup creates no namespaces, and
// Controller.Execute does not wrap commands in unshare: at this level
// commands run as plain host processes.
type namespaceProvider struct{}

func (namespaceProvider) Setup(ctx context.Context, env *models.Environment) (Handle, *coreerrors.CoreError) {
	if _, errGo := exec.LookPath("unshare"); errGo != nil {
		return Handle{}, coreerrors.Wrap(coreerrors.IsolationUnavailable, errGo, "reason", "unshare binary not found")
	}
	return Handle{Level: models.IsolationNamespace}, nil
}

func (namespaceProvider) Teardown(ctx context.Context, h Handle) *coreerrors.CoreError { return nil }

// chrootProvider creates an empty bin/lib/lib64/usr/tmp/proc directory
// skeleton under the environment's storage path and records its path on
// the Handle. No binaries, libraries or device nodes are copied in, and
// Controller.Execute does not chroot into it.
type chrootProvider struct{}

func (chrootProvider) Setup(ctx context.Context, env *models.Environment) (Handle, *coreerrors.CoreError) {
	if os.Geteuid() != 0 {
		return Handle{}, coreerrors.New(coreerrors.IsolationUnavailable, "chroot isolation requires root privileges")
	}
	chrootPath := filepath.Join(env.StoragePath, "chroot")
	for _, dir := range []string{"bin", "lib", "lib64", "usr", "tmp", "proc"} {
		if errGo := os.MkdirAll(filepath.Join(chrootPath, dir), 0o755); errGo != nil {
			return Handle{}, coreerrors.Wrap(coreerrors.ValidationFailure, errGo, "path", chrootPath)
		}
	}
	return Handle{Level: models.IsolationChroot, ChrootPath: chrootPath}, nil
}

func (chrootProvider) Teardown(ctx context.Context, h Handle) *coreerrors.CoreError {
	if h.ChrootPath == "" {
		return nil
	}
	if errGo := os.RemoveAll(h.ChrootPath); errGo != nil {
		return coreerrors.Wrap(coreerrors.CleanupFailure, errGo, "path", h.ChrootPath)
	}
	return nil
}

// containerProvider starts a long-running Docker container with the
// environment's storage path bind-mounted at /workspace, grounded on the
// client wiring in DockerExecutor.CreateContainer. Controller.Execute runs
// commands on the host, not inside this container.
type containerProvider struct {
	dockerHost string
	cli        *client.Client
}

func (p *containerProvider) client() (*client.Client, *coreerrors.CoreError) {
	if p.cli != nil {
		return p.cli, nil
	}
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if p.dockerHost != "" {
		opts = append(opts, client.WithHost(p.dockerHost))
	}
	cli, errGo := client.NewClientWithOpts(opts...)
	if errGo != nil {
		return nil, coreerrors.Wrap(coreerrors.IsolationUnavailable, errGo, "reason", "docker client init failed")
	}
	p.cli = cli
	return cli, nil
}

func (p *containerProvider) Setup(ctx context.Context, env *models.Environment) (Handle, *coreerrors.CoreError) {
	cli, errC := p.client()
	if errC != nil {
		return Handle{}, errC
	}

	image := fmt.Sprintf("python:%s-slim", env.PythonVersion)
	name := "gestvenv-" + env.ID

	containerCfg := &container.Config{
		Image:      image,
		Cmd:        []string{"sleep", "infinity"},
		WorkingDir: "/workspace",
		Tty:        false,
	}
	hostCfg := &container.HostConfig{
		Binds:       []string{env.StoragePath + ":/workspace"},
		NetworkMode: networkMode(env.ResourceLimits.NetworkAccess),
		Resources: container.Resources{
			Memory:    env.ResourceLimits.MaxMemoryMB * 1024 * 1024,
			PidsLimit: pidsLimit(env.ResourceLimits.MaxProcesses),
		},
	}

	resp, errGo := cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if errGo != nil {
		return Handle{}, coreerrors.Wrap(coreerrors.IsolationUnavailable, errGo, "image", image)
	}
	if errGo := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); errGo != nil {
		return Handle{}, coreerrors.Wrap(coreerrors.IsolationUnavailable, errGo, "container_id", resp.ID)
	}

	logger.Info("started ephemeral container", "env_id", env.ID, "container_id", resp.ID, "image", image)
	return Handle{Level: models.IsolationContainer, ContainerID: resp.ID}, nil
}

func (p *containerProvider) Teardown(ctx context.Context, h Handle) *coreerrors.CoreError {
	if h.ContainerID == "" {
		return nil
	}
	cli, errC := p.client()
	if errC != nil {
		return errC
	}
	if errGo := cli.ContainerRemove(ctx, h.ContainerID, container.RemoveOptions{Force: true}); errGo != nil {
		return coreerrors.Wrap(coreerrors.CleanupFailure, errGo, "container_id", h.ContainerID)
	}
	return nil
}

func networkMode(allowed bool) container.NetworkMode {
	if allowed {
		return "bridge"
	}
	return "none"
}

func pidsLimit(max int) *int64 {
	if max <= 0 {
		return nil
	}
	v := int64(max)
	return &v
}
