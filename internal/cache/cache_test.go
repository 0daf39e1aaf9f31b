// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package cache

import (
	"testing"

	"github.com/go-test/deep"
)

func TestCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, errC := Open(dir, 10*1024*1024, false)
	if errC != nil {
		t.Fatalf("open: %v", errC)
	}

	payload := []byte("fake wheel bytes for requests 2.31.0")

	if _, errC := c.Cache("pip", "requests", "2.31.0", "linux_amd64", "==2.31.0", payload); errC != nil {
		t.Fatalf("cache: %v", errC)
	}

	got, _, errC := c.InstallFromCache("requests", "2.31.0", "linux_amd64")
	if errC != nil {
		t.Fatalf("install from cache: %v", errC)
	}
	if diff := deep.Equal(got, payload); diff != nil {
		t.Fatalf("round-tripped artifact differs: %v", diff)
	}

	if _, ok := c.Get("requests", "2.31.0", "linux_amd64"); !ok {
		t.Fatalf("expected entry to be present after caching")
	}
}

func TestCacheGetLatestMatchesPlatformAndPicksNewest(t *testing.T) {
	dir := t.TempDir()
	c, errC := Open(dir, 10*1024*1024, false)
	if errC != nil {
		t.Fatalf("open: %v", errC)
	}

	if _, errC := c.Cache("pip", "requests", "2.30.0", "linux_amd64", "", []byte("old")); errC != nil {
		t.Fatalf("cache 2.30.0: %v", errC)
	}
	if _, errC := c.Cache("pip", "requests", "2.31.0", "linux_amd64", "", []byte("new")); errC != nil {
		t.Fatalf("cache 2.31.0: %v", errC)
	}
	if _, errC := c.Cache("pip", "requests", "9.9.9", "macosx_arm64", "", []byte("wrong platform")); errC != nil {
		t.Fatalf("cache other platform: %v", errC)
	}

	e, ok := c.Get("requests", "", "linux_amd64")
	if !ok {
		t.Fatalf("expected a latest-match hit")
	}
	if e.ResolvedVer != "2.31.0" {
		t.Fatalf("expected latest version 2.31.0 for the platform, got %s", e.ResolvedVer)
	}
}

func TestCacheMiss(t *testing.T) {
	dir := t.TempDir()
	c, errC := Open(dir, 10*1024*1024, false)
	if errC != nil {
		t.Fatalf("open: %v", errC)
	}

	if _, _, errC := c.InstallFromCache("nope", "", "linux_amd64"); errC == nil {
		t.Fatalf("expected a miss for an uncached package")
	}
}

func TestOptimizeEvictsLRU(t *testing.T) {
	dir := t.TempDir()
	c, errC := Open(dir, 300, false) // tiny limit forces eviction
	if errC != nil {
		t.Fatalf("open: %v", errC)
	}

	randomish := func(seed byte, n int) []byte {
		b := make([]byte, n)
		for i := range b {
			b[i] = byte(i)*31 + seed
		}
		return b
	}

	if _, errC := c.Cache("pip", "old", "1.0", "linux_amd64", "==1.0", randomish(1, 512)); errC != nil {
		t.Fatalf("cache old: %v", errC)
	}
	if _, errC := c.Cache("pip", "new", "1.0", "linux_amd64", "==1.0", randomish(2, 512)); errC != nil {
		t.Fatalf("cache new: %v", errC)
	}

	if _, ok := c.Get("old", "1.0", "linux_amd64"); ok {
		t.Fatalf("expected older entry to have been evicted")
	}
	if _, ok := c.Get("new", "1.0", "linux_amd64"); !ok {
		t.Fatalf("expected newer entry to survive eviction")
	}
}

func TestLatestVersionPrefersHigherRelease(t *testing.T) {
	got := LatestVersion([]string{"1.2.0", "1.10.0", "1.9.5"})
	if got != "1.10.0" {
		t.Fatalf("expected 1.10.0, got %s", got)
	}
}
