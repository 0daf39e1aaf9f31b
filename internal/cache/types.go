// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

// Package cache implements PackageCache: a content-addressed, on-disk
// store of backend-installed package artifacts, so repeated installs of
// the same package/version/platform combination never touch the network
// twice. It follows the teacher's objectstore.go cache layout (a lookaside
// in-memory index backed by files on disk, LRU-groomed to a size cap) but
// keys entries by install identity instead of upstream storage hash.
package cache

import (
	"crypto/md5" // #nosec - identity key, not a security boundary
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Key identifies one cached artifact: the same package name, version, and
// platform tag always resolve to the same Key.
type Key string

// KeyFor computes the content-addressed Key identifying one cached
// artifact: hex md5 of "name-version-platform". The backend that produced
// the artifact is deliberately not part of the identity - it is already a
// directory-level discriminator in the on-disk layout
// (packages/<backend>/<key>.whl) - so the key itself matches the spec's
// name/version/platform triple exactly.
func KeyFor(name, version, platform string) Key {
	sum := md5.Sum([]byte(name + "-" + version + "-" + platform)) // #nosec - identity key, not a security boundary
	return Key(hex.EncodeToString(sum[:]))
}

// Integrity computes the SHA-256 digest used to detect corruption of a
// cached artifact, independent of the identity Key above.
func Integrity(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Entry is one cached artifact's metadata, persisted as
// metadata/<key>.json alongside the artifact itself.
type Entry struct {
	Key         Key       `json:"key"`
	Backend     string    `json:"backend"`
	Name        string    `json:"name"`
	ResolvedVer string    `json:"resolved_version"`
	Platform    string    `json:"platform"`
	VersionSpec string    `json:"version_spec,omitempty"`
	SHA256      string    `json:"sha256"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsedAt  time.Time `json:"last_used_at"`
	HitCount    int64     `json:"hit_count"`
}

// Stats summarizes the cache for reporting, persisted as stats.json.
type Stats struct {
	EntryCount     int       `json:"entry_count"`
	TotalSizeBytes int64     `json:"total_size_bytes"`
	LimitBytes     int64     `json:"limit_bytes"`
	Hits           int64     `json:"hits"`
	Misses         int64     `json:"misses"`
	LastOptimizeAt time.Time `json:"last_optimize_at"`
}
