// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	ttlCache "github.com/karlmutch/go-cache"

	"github.com/gestvenv/gestvenv/internal/corelog"
	"github.com/gestvenv/gestvenv/internal/coreerrors"
)

var logger = corelog.New("cache")

const (
	// evictTargetFraction is the utilization Optimize grooms down to, so a
	// cache that just tipped over its limit doesn't immediately refill and
	// re-trigger grooming on the next install.
	evictTargetFraction = 0.8

	hotTierTTL         = 30 * time.Minute
	hotTierSweepPeriod = 5 * time.Minute
)

// PackageCache is the content-addressed on-disk package artifact store.
// Directory layout under Root:
//
//	packages/<backend>/<key>.whl   the artifact itself (gzip-compressed)
//	metadata/<key>.json            one Entry per artifact
//	index.json                     the full Entry set, for fast listing
//	stats.json                     cumulative Stats
//
// A single indexMu guards index.json and stats.json; per-key file I/O
// additionally takes a key-scoped lock from keyLocks so concurrent
// installs of different packages never block each other.
type PackageCache struct {
	Root       string
	LimitBytes int64
	Offline    bool

	indexMu sync.Mutex
	index   map[Key]*Entry
	stats   Stats

	keyLocks   sync.Map // Key -> *sync.Mutex
	hot        *ttlCache.Cache
}

// Open loads (or initializes) a PackageCache rooted at root.
func Open(root string, limitBytes int64, offline bool) (*PackageCache, *coreerrors.CoreError) {
	for _, dir := range []string{root, filepath.Join(root, "packages"), filepath.Join(root, "metadata")} {
		if errGo := os.MkdirAll(dir, 0o755); errGo != nil {
			return nil, coreerrors.Wrap(coreerrors.CacheIntegrityError, errGo, "dir", dir)
		}
	}

	c := &PackageCache{
		Root:       root,
		LimitBytes: limitBytes,
		Offline:    offline,
		index:      map[Key]*Entry{},
		hot:        ttlCache.New(hotTierTTL, hotTierSweepPeriod),
	}

	if errC := c.loadIndex(); errC != nil {
		return nil, errC
	}
	return c, nil
}

func (c *PackageCache) indexPath() string { return filepath.Join(c.Root, "index.json") }
func (c *PackageCache) statsPath() string { return filepath.Join(c.Root, "stats.json") }

func (c *PackageCache) artifactPath(e *Entry) string {
	return filepath.Join(c.Root, "packages", e.Backend, string(e.Key)+".whl")
}

func (c *PackageCache) metadataPath(key Key) string {
	return filepath.Join(c.Root, "metadata", string(key)+".json")
}

func (c *PackageCache) keyLock(key Key) *sync.Mutex {
	l, _ := c.keyLocks.LoadOrStore(key, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func (c *PackageCache) loadIndex() *coreerrors.CoreError {
	c.indexMu.Lock()
	defer c.indexMu.Unlock()

	if b, errGo := os.ReadFile(c.indexPath()); errGo == nil {
		var entries []*Entry
		if errGo := json.Unmarshal(b, &entries); errGo != nil {
			logger.Warn("cache index corrupt, rebuilding from metadata", "error", errGo.Error())
		} else {
			for _, e := range entries {
				c.index[e.Key] = e
			}
		}
	}

	if len(c.index) == 0 {
		c.rebuildIndexFromMetadataLocked()
	}

	if b, errGo := os.ReadFile(c.statsPath()); errGo == nil {
		_ = json.Unmarshal(b, &c.stats)
	}
	c.stats.LimitBytes = c.LimitBytes
	return nil
}

// rebuildIndexFromMetadataLocked reconstructs the index from the
// per-artifact metadata/*.json files when index.json is missing or
// unreadable, mirroring the teacher's cache-priming loop over the backing
// directory's existing files in objectstore.go's EnsureCache.
func (c *PackageCache) rebuildIndexFromMetadataLocked() {
	dir := filepath.Join(c.Root, "metadata")
	entries, errGo := os.ReadDir(dir)
	if errGo != nil {
		return
	}
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		b, errGo := os.ReadFile(filepath.Join(dir, de.Name()))
		if errGo != nil {
			continue
		}
		var e Entry
		if errGo := json.Unmarshal(b, &e); errGo != nil {
			continue
		}
		c.index[e.Key] = &e
	}
}

func (c *PackageCache) persistIndexLocked() *coreerrors.CoreError {
	entries := make([]*Entry, 0, len(c.index))
	var total int64
	for _, e := range c.index {
		entries = append(entries, e)
		total += e.SizeBytes
	}
	c.stats.EntryCount = len(entries)
	c.stats.TotalSizeBytes = total

	if errC := writeJSONAtomic(c.indexPath(), entries); errC != nil {
		return errC
	}
	return writeJSONAtomic(c.statsPath(), c.stats)
}

// writeJSONAtomic writes to a temp file in the same directory and renames
// over the destination, so a crash mid-write never leaves a half-written
// index.json behind, matching the teacher's atomic-rename habit used for
// its own metadata persistence.
func writeJSONAtomic(path string, v interface{}) *coreerrors.CoreError {
	b, errGo := json.MarshalIndent(v, "", "  ")
	if errGo != nil {
		return coreerrors.Wrap(coreerrors.CacheIntegrityError, errGo, "path", path)
	}
	tmp := path + ".tmp"
	if errGo := os.WriteFile(tmp, b, 0o644); errGo != nil {
		return coreerrors.Wrap(coreerrors.CacheIntegrityError, errGo, "path", path)
	}
	if errGo := os.Rename(tmp, path); errGo != nil {
		return coreerrors.Wrap(coreerrors.CacheIntegrityError, errGo, "path", path)
	}
	return nil
}

// Stats returns a snapshot of the cache's current statistics.
func (c *PackageCache) Stats() Stats {
	c.indexMu.Lock()
	defer c.indexMu.Unlock()
	return c.stats
}
