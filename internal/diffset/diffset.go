// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

// Package diffset computes the difference between what a manifest
// declares and what is actually installed in an environment, the
// computation behind both the sync operation and doctor's drift check,
// grounded on the original implementation's
// EnvironmentManager.sync_environment / PackageService sync path.
package diffset

import (
	"strings"

	"github.com/gestvenv/gestvenv/internal/manifest"
)

// Diff is the result of comparing a DependencySet's declared requirements
// against an environment's actually-installed set.
type Diff struct {
	ToInstall []manifest.Requirement
	ToUpdate  []manifest.Requirement
	ToRemove  []manifest.Requirement
	Unchanged []manifest.Requirement
}

// Empty reports whether the environment already matches the manifest.
func (d Diff) Empty() bool {
	return len(d.ToInstall) == 0 && len(d.ToUpdate) == 0 && len(d.ToRemove) == 0
}

// Compute diffs declared against installed. A declared requirement absent
// from installed is ToInstall; present but not Equal to the installed
// entry is ToUpdate when the declared requirement carries a version spec;
// anything else present is Unchanged. An installed package with
// no corresponding declared requirement is ToRemove only when
// pruneUndeclared is true - sync defaults this to false so packages a
// developer pip-installed by hand for local experimentation survive a
// sync, while doctor's drift report always asks with it true.
func Compute(declared []manifest.Requirement, installed []manifest.Requirement, pruneUndeclared bool) Diff {
	installedByName := map[string]manifest.Requirement{}
	for _, r := range installed {
		installedByName[strings.ToLower(r.Name)] = r
	}

	var d Diff
	seen := map[string]bool{}

	for _, want := range declared {
		key := strings.ToLower(want.Name)
		seen[key] = true

		have, ok := installedByName[key]
		switch {
		case !ok:
			d.ToInstall = append(d.ToInstall, want)
		case !have.Equal(want) && want.VersionSpec != "":
			d.ToUpdate = append(d.ToUpdate, want)
		default:
			d.Unchanged = append(d.Unchanged, want)
		}
	}

	if pruneUndeclared {
		for _, have := range installed {
			if !seen[strings.ToLower(have.Name)] {
				d.ToRemove = append(d.ToRemove, have)
			}
		}
	}
	return d
}
