// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package cache

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/gestvenv/gestvenv/internal/coreerrors"
)

func mustJSON(v interface{}) []byte {
	b, _ := json.MarshalIndent(v, "", "  ")
	return b
}

// getByKey looks up an entry by its exact Key. It checks the in-memory hot
// tier before falling back to the index, promoting hits back into the hot
// tier so a busy install loop doesn't pay the index lock on every lookup.
func (c *PackageCache) getByKey(key Key) (*Entry, bool) {
	if v, ok := c.hot.Get(string(key)); ok {
		return v.(*Entry), true
	}

	c.indexMu.Lock()
	e, ok := c.index[key]
	c.indexMu.Unlock()
	if !ok {
		return nil, false
	}
	c.hot.Set(string(key), e, hotTierTTL)
	return e, true
}

// Get implements the spec's get(package, version?, platform?): an exact
// lookup when version is given, otherwise the PEP-440-latest entry for
// (name, platform).
func (c *PackageCache) Get(name, version, platform string) (*Entry, bool) {
	if version != "" {
		return c.getByKey(KeyFor(name, version, platform))
	}
	return c.latestForPlatform(name, platform)
}

// latestForPlatform scans the index for every entry matching (name,
// platform) and returns the one LatestVersion picks as newest.
func (c *PackageCache) latestForPlatform(name, platform string) (*Entry, bool) {
	c.indexMu.Lock()
	var candidates []string
	byVersion := make(map[string]*Entry)
	for _, e := range c.index {
		if e.Name == name && e.Platform == platform {
			candidates = append(candidates, e.ResolvedVer)
			byVersion[e.ResolvedVer] = e
		}
	}
	c.indexMu.Unlock()

	best := LatestVersion(candidates)
	if best == "" {
		return nil, false
	}
	return c.getByKey(byVersion[best].Key)
}

// Cache stores artifact under the key derived from (name, resolvedVer,
// platform), writing it gzip-compressed to disk and recording an Entry.
// artifact is consumed in full; callers pass the raw wheel/sdist bytes
// already read from the backend's install output. versionSpec is kept on
// the Entry only as the original constraint that triggered the promotion,
// not as part of the key - two different constraints resolving to the
// same version share one cache entry.
func (c *PackageCache) Cache(backendName, name, resolvedVer, platform, versionSpec string, artifact []byte) (*Entry, *coreerrors.CoreError) {
	key := KeyFor(name, resolvedVer, platform)
	lock := c.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	// Make room before storing, so the LRU pass never picks the entry
	// being added: groom when adding the artifact would exceed the limit.
	c.indexMu.Lock()
	over := c.LimitBytes > 0 && c.stats.TotalSizeBytes+int64(len(artifact)) > c.LimitBytes
	c.indexMu.Unlock()
	if over {
		if errC := c.Optimize(); errC != nil {
			logger.Warn("eviction before cache store failed", "error", errC.Error())
		}
	}

	e := &Entry{
		Key:         key,
		Backend:     backendName,
		Name:        name,
		ResolvedVer: resolvedVer,
		Platform:    platform,
		VersionSpec: versionSpec,
		SHA256:      Integrity(artifact),
		CreatedAt:   time.Now().UTC(),
		LastUsedAt:  time.Now().UTC(),
	}

	path := c.artifactPath(e)
	if errGo := os.MkdirAll(filepath.Dir(path), 0o755); errGo != nil {
		return nil, coreerrors.Wrap(coreerrors.CacheIntegrityError, errGo, "path", path)
	}
	size, errC := writeCompressed(path, artifact)
	if errC != nil {
		return nil, errC
	}
	e.SizeBytes = size

	if errGo := os.WriteFile(c.metadataPath(key), mustJSON(e), 0o644); errGo != nil {
		return nil, coreerrors.Wrap(coreerrors.CacheIntegrityError, errGo, "key", string(key))
	}

	c.indexMu.Lock()
	c.index[key] = e
	errC = c.persistIndexLocked()
	c.indexMu.Unlock()
	if errC != nil {
		return nil, errC
	}

	c.hot.Set(string(key), e, hotTierTTL)
	return e, nil
}

// InstallFromCache resolves (name, version, platform) via Get and reads
// the matched artifact back out, verifying its SHA-256 against the
// recorded Entry before returning it, and bumps the entry's usage stats
// so LRU eviction in Optimize favors recently used packages. version may
// be empty to request the PEP-440-latest match, per Get's contract; the
// resolved Entry is returned alongside the bytes so callers can confirm
// it actually satisfies whatever constraint they started from.
func (c *PackageCache) InstallFromCache(name, version, platform string) ([]byte, *Entry, *coreerrors.CoreError) {
	e, ok := c.Get(name, version, platform)
	if !ok {
		c.indexMu.Lock()
		c.stats.Misses++
		c.indexMu.Unlock()
		return nil, nil, coreerrors.New(coreerrors.NotFound, "package not present in cache", "name", name, "platform", platform)
	}

	lock := c.keyLock(e.Key)
	lock.Lock()
	defer lock.Unlock()

	b, errC := readCompressed(c.artifactPath(e))
	if errC != nil {
		return nil, nil, errC
	}
	if Integrity(b) != e.SHA256 {
		return nil, nil, coreerrors.New(coreerrors.CacheIntegrityError, "cached artifact failed integrity check", "key", string(e.Key))
	}

	e.LastUsedAt = time.Now().UTC()
	e.HitCount++
	c.indexMu.Lock()
	c.stats.Hits++
	c.indexMu.Unlock()
	_ = os.WriteFile(c.metadataPath(e.Key), mustJSON(e), 0o644)

	return b, e, nil
}

// Clear removes every cached artifact and resets the index, used by a
// full cache reset request or by Doctor's repair path when the index is
// unrecoverably corrupt.
func (c *PackageCache) Clear() *coreerrors.CoreError {
	c.indexMu.Lock()
	defer c.indexMu.Unlock()

	if errGo := os.RemoveAll(filepath.Join(c.Root, "packages")); errGo != nil {
		return coreerrors.Wrap(coreerrors.CleanupFailure, errGo)
	}
	if errGo := os.RemoveAll(filepath.Join(c.Root, "metadata")); errGo != nil {
		return coreerrors.Wrap(coreerrors.CleanupFailure, errGo)
	}
	for _, dir := range []string{filepath.Join(c.Root, "packages"), filepath.Join(c.Root, "metadata")} {
		if errGo := os.MkdirAll(dir, 0o755); errGo != nil {
			return coreerrors.Wrap(coreerrors.CleanupFailure, errGo)
		}
	}
	c.index = map[Key]*Entry{}
	c.stats = Stats{LimitBytes: c.LimitBytes}
	c.hot.Flush()
	return c.persistIndexLocked()
}

// Optimize evicts least-recently-used entries until total size is back
// under evictTargetFraction of LimitBytes, following the same "groom down
// to a target, not just under the ceiling" policy as the teacher's
// objectstore directory groomer.
func (c *PackageCache) Optimize() *coreerrors.CoreError {
	c.indexMu.Lock()
	defer c.indexMu.Unlock()

	if c.LimitBytes <= 0 {
		return nil
	}
	target := int64(float64(c.LimitBytes) * evictTargetFraction)

	entries := make([]*Entry, 0, len(c.index))
	for _, e := range c.index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].LastUsedAt.Before(entries[j].LastUsedAt) })

	var total int64
	for _, e := range entries {
		total += e.SizeBytes
	}

	for _, e := range entries {
		if total <= target {
			break
		}
		if errGo := os.Remove(c.artifactPath(e)); errGo != nil && !os.IsNotExist(errGo) {
			return coreerrors.Wrap(coreerrors.CleanupFailure, errGo, "key", string(e.Key))
		}
		_ = os.Remove(c.metadataPath(e.Key))
		delete(c.index, e.Key)
		c.hot.Delete(string(e.Key))
		total -= e.SizeBytes
	}

	c.stats.LastOptimizeAt = time.Now().UTC()
	return c.persistIndexLocked()
}

func writeCompressed(path string, data []byte) (int64, *coreerrors.CoreError) {
	f, errGo := os.Create(path)
	if errGo != nil {
		return 0, coreerrors.Wrap(coreerrors.CacheIntegrityError, errGo, "path", path)
	}
	defer f.Close()

	gw := gzip.NewWriter(f)
	if _, errGo := gw.Write(data); errGo != nil {
		return 0, coreerrors.Wrap(coreerrors.CacheIntegrityError, errGo, "path", path)
	}
	if errGo := gw.Close(); errGo != nil {
		return 0, coreerrors.Wrap(coreerrors.CacheIntegrityError, errGo, "path", path)
	}
	info, errGo := f.Stat()
	if errGo != nil {
		return 0, coreerrors.Wrap(coreerrors.CacheIntegrityError, errGo, "path", path)
	}
	return info.Size(), nil
}

func readCompressed(path string) ([]byte, *coreerrors.CoreError) {
	f, errGo := os.Open(path)
	if errGo != nil {
		return nil, coreerrors.Wrap(coreerrors.NotFound, errGo, "path", path)
	}
	defer f.Close()

	gr, errGo := gzip.NewReader(f)
	if errGo != nil {
		return nil, coreerrors.Wrap(coreerrors.CacheIntegrityError, errGo, "path", path)
	}
	defer gr.Close()

	b, errGo := io.ReadAll(gr)
	if errGo != nil {
		return nil, coreerrors.Wrap(coreerrors.CacheIntegrityError, errGo, "path", path)
	}
	return b, nil
}
