// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

// Package packageservice implements PackageService: the install
// orchestration layer sitting between EnvironmentManager and both
// BackendRegistry and PackageCache. It tries the cache first, falls back
// to a live backend install on a miss, and best-effort promotes whatever
// the backend produced back into the cache for next time.
package packageservice

import (
	"context"
	"os"
	"path/filepath"

	"github.com/gestvenv/gestvenv/internal/backend"
	"github.com/gestvenv/gestvenv/internal/cache"
	"github.com/gestvenv/gestvenv/internal/corelog"
	"github.com/gestvenv/gestvenv/internal/coreerrors"
	"github.com/gestvenv/gestvenv/internal/manifest"
	"github.com/gestvenv/gestvenv/internal/pathresolver"
)

var logger = corelog.New("packageservice")

// Service orchestrates package installation across a cache and a
// concrete Backend.
type Service struct {
	Cache   *cache.PackageCache
	Offline bool
}

// New returns a Service backed by c. When offline is true, a cache miss
// is a hard failure (coreerrors.OfflineMiss) instead of falling through
// to a live backend install.
func New(c *cache.PackageCache, offline bool) *Service {
	return &Service{Cache: c, Offline: offline}
}

// InstallResult reports what happened for each requirement plus the
// cache-vs-backend split, so callers can show "3 from cache, 1 downloaded".
type InstallResult struct {
	FromCache  []manifest.Requirement
	FromBackend []manifest.Requirement
	Failed     []backend.FailedInstall
	Conflicts  []backend.Conflict
}

// Install satisfies reqs against envRoot using b, consulting the cache
// for each requirement before falling back to a live backend install,
// and promoting newly-installed artifacts into the cache afterward.
//
// The cache is keyed by resolved version, not by a requirement's raw
// constraint string, so a hit is looked up via Get(name, version?,
// platform)'s own contract: an exact pin (e.g. "==2.31.0") asks for that
// version precisely, anything else (a range, or no constraint) asks for
// the PEP-440-latest cached entry for the platform, which is then
// checked against the original constraint before being accepted.
func (s *Service) Install(ctx context.Context, b backend.Backend, envRoot string, reqs []manifest.Requirement, opts backend.InstallOptions) (InstallResult, *coreerrors.CoreError) {
	var result InstallResult
	var needBackend []manifest.Requirement

	platform := pathresolver.PlatformTag()

	for _, r := range reqs {
		lookupVersion, _ := cache.PinnedVersion(r.VersionSpec)
		artifact, entry, errC := s.Cache.InstallFromCache(r.Name, lookupVersion, platform)
		if errC == nil && cache.Satisfies(r.VersionSpec, entry.ResolvedVer) {
			if errC := installFromArtifact(ctx, b, envRoot, r, artifact, opts); errC == nil {
				result.FromCache = append(result.FromCache, manifest.Requirement{
					Name: r.Name, VersionSpec: "==" + entry.ResolvedVer, Extras: r.Extras, Source: r.Source,
				})
				continue
			}
			logger.Warn("cached artifact failed to install, falling back to backend", "package", r.Name)
		}
		needBackend = append(needBackend, r)
	}

	if len(needBackend) == 0 {
		return result, nil
	}

	if s.Offline {
		return result, coreerrors.New(coreerrors.OfflineMiss, "required packages are not cached and offline mode is enabled",
			"count", len(needBackend))
	}

	outcome, errGo := b.Install(ctx, envRoot, needBackend, opts)
	result.FromBackend = outcome.Installed
	result.Failed = outcome.Failed
	result.Conflicts = outcome.Conflicts
	if errGo != nil {
		return result, coreerrors.Wrap(coreerrors.BackendExecutionFailed, errGo, "backend", string(b.Name()))
	}

	s.promoteToCache(ctx, b, envRoot, outcome.Installed, platform)
	return result, nil
}

// promoteToCache best-effort asks the backend to fetch each newly
// installed package's artifact bytes independently (without reinstalling)
// and stores it under the cache's content-addressed key, keyed by the
// version the backend actually resolved rather than whatever constraint
// the caller asked for. Failures here are logged, not propagated: a cache
// miss is a performance cost, not a correctness one. Backends with no
// standalone download verb (Poetry, PDM) always report
// coreerrors.BackendUnavailable here and are simply skipped, and a
// requirement whose installed version can't be read back out of the
// Backend's outcome (editable/VCS/URL sources) is skipped the same way.
func (s *Service) promoteToCache(ctx context.Context, b backend.Backend, envRoot string, installed []manifest.Requirement, platform string) {
	for _, r := range installed {
		resolvedVer, ok := cache.PinnedVersion(r.VersionSpec)
		if !ok {
			logger.Debug("skipping cache promotion, version not resolved", "package", r.Name)
			continue
		}
		artifact, errGo := b.DownloadArtifact(ctx, r)
		if errGo != nil {
			logger.Debug("skipping cache promotion, artifact unavailable", "package", r.Name, "reason", errGo.Error())
			continue
		}
		if _, errC := s.Cache.Cache(string(b.Name()), r.Name, resolvedVer, platform, r.VersionSpec, artifact); errC != nil {
			logger.Warn("cache promotion failed", "package", r.Name, "error", errC.Error())
		}
	}
}

// installFromArtifact writes a cached artifact to a scratch file and asks
// the backend to install directly from that local path, avoiding a
// redundant network fetch for a package the cache already holds.
func installFromArtifact(ctx context.Context, b backend.Backend, envRoot string, r manifest.Requirement, artifact []byte, opts backend.InstallOptions) *coreerrors.CoreError {
	tmp, errGo := os.MkdirTemp("", "gestvenv-cache-install-")
	if errGo != nil {
		return coreerrors.Wrap(coreerrors.CacheIntegrityError, errGo)
	}
	defer os.RemoveAll(tmp)

	artifactPath := filepath.Join(tmp, r.Name+".whl")
	if errGo := os.WriteFile(artifactPath, artifact, 0o644); errGo != nil {
		return coreerrors.Wrap(coreerrors.CacheIntegrityError, errGo)
	}

	local := manifest.Requirement{Name: r.Name, VersionSpec: artifactPath, Source: manifest.SrcURL}
	if _, errGo := b.Install(ctx, envRoot, []manifest.Requirement{local}, opts); errGo != nil {
		return coreerrors.Wrap(coreerrors.BackendExecutionFailed, errGo, "backend", string(b.Name()), "package", r.Name)
	}
	return nil
}
