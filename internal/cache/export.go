// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package cache

import (
	"os"
	"path/filepath"

	"github.com/mholt/archiver/v3"

	"github.com/gestvenv/gestvenv/internal/coreerrors"
)

// Export packages the entire cache directory (index, metadata, and
// artifacts) into a single gzipped tarball at destPath, so a cache warmed
// on one host can be shipped to an offline one.
func (c *PackageCache) Export(destPath string) *coreerrors.CoreError {
	c.indexMu.Lock()
	if errC := c.persistIndexLocked(); errC != nil {
		c.indexMu.Unlock()
		return errC
	}
	c.indexMu.Unlock()

	if errGo := os.MkdirAll(filepath.Dir(destPath), 0o755); errGo != nil {
		return coreerrors.Wrap(coreerrors.CacheIntegrityError, errGo, "dest", destPath)
	}

	sources := []string{
		filepath.Join(c.Root, "packages"),
		filepath.Join(c.Root, "metadata"),
		c.indexPath(),
		c.statsPath(),
	}
	if errGo := archiver.Archive(sources, destPath); errGo != nil {
		return coreerrors.Wrap(coreerrors.CacheIntegrityError, errGo, "dest", destPath)
	}
	return nil
}

// Import unpacks an archive produced by Export into c.Root and reloads
// the index, merging the imported entries with whatever is already
// present (import wins on key collision, since it reflects the more
// recently exported state).
func (c *PackageCache) Import(archivePath string) *coreerrors.CoreError {
	if errGo := archiver.Unarchive(archivePath, c.Root); errGo != nil {
		return coreerrors.Wrap(coreerrors.CacheIntegrityError, errGo, "archive", archivePath)
	}

	c.indexMu.Lock()
	defer c.indexMu.Unlock()
	c.rebuildIndexFromMetadataLocked()
	return c.persistIndexLocked()
}
