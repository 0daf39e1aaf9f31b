// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package cache

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// pep440Simple matches the common PEP 440 release segment (e.g. "2.31.0",
// "1.0.0rc1" stripped of its pre-release tag below). Anything after the
// matched release segment (post-release or local tags) is ignored, and a
// string with no leading release digits is never picked over one that has
// them.
var pep440Simple = regexp.MustCompile(`^[0-9]+(\.[0-9]+){0,3}`)

// LatestVersion picks the newest version string out of candidates using
// semver ordering once each has been coerced into a semver-comparable
// form. PEP 440 and SemVer disagree on pre-release and local-version
// syntax, so this is an approximation documented as an open decision: good
// enough to pick among already-resolved candidate strings a backend
// reports, not a replacement for the backend's own resolver.
func LatestVersion(candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	best := candidates[0]
	bestVer := coerce(best)
	for _, c := range candidates[1:] {
		v := coerce(c)
		if bestVer == nil || (v != nil && v.GreaterThan(bestVer)) {
			best, bestVer = c, v
		}
	}
	return best
}

func coerce(raw string) *semver.Version {
	m := pep440Simple.FindString(strings.TrimSpace(raw))
	if m == "" {
		return nil
	}
	v, errGo := semver.NewVersion(m)
	if errGo != nil {
		return nil
	}
	return v
}

// constraintOps lists comparison prefixes longest-first within each pair
// (">=" before ">", "<=" before "<") so HasPrefix matching never mistakes
// a two-character operator for its one-character cousin.
var constraintOps = []string{">=", "<=", "==", "!=", "~=", ">", "<"}

// PinnedVersion reports whether versionSpec names an exact version - a
// bare "==X" or a version string with no comparison operator at all - and
// if so returns X. A range constraint (">=", "<", etc.) returns ("", false)
// since no single version can be read off it.
func PinnedVersion(versionSpec string) (string, bool) {
	spec := strings.TrimSpace(versionSpec)
	if spec == "" {
		return "", false
	}
	if strings.HasPrefix(spec, "==") {
		return strings.TrimSpace(strings.TrimPrefix(spec, "==")), true
	}
	for _, op := range constraintOps {
		if strings.HasPrefix(spec, op) {
			return "", false
		}
	}
	return spec, true
}

// Satisfies reports whether resolvedVer matches versionSpec's constraint,
// approximated over the same PEP 440 coercion LatestVersion uses: good
// enough to confirm a cache hit picked for a bare "get the latest"
// request still honors the caller's original range, not a full resolver.
func Satisfies(versionSpec, resolvedVer string) bool {
	spec := strings.TrimSpace(versionSpec)
	if spec == "" {
		return true
	}
	rv := coerce(resolvedVer)
	if rv == nil {
		return false
	}
	for _, op := range constraintOps {
		if !strings.HasPrefix(spec, op) {
			continue
		}
		cv := coerce(strings.TrimPrefix(spec, op))
		if cv == nil {
			return true
		}
		switch op {
		case "==":
			return rv.Equal(cv)
		case "!=":
			return !rv.Equal(cv)
		case ">=", "~=":
			return rv.GreaterThan(cv) || rv.Equal(cv)
		case "<=":
			return rv.LessThan(cv) || rv.Equal(cv)
		case ">":
			return rv.GreaterThan(cv)
		case "<":
			return rv.LessThan(cv)
		}
	}
	cv := coerce(spec)
	return cv != nil && rv.Equal(cv)
}
