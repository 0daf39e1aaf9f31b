// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

// Package manifest implements ManifestParser: normalizing pyproject.toml,
// requirements lists, Pipfile, and conda environment.yml into a common
// DependencySet, per spec.md §4.2.
package manifest

import "strings"

// SourceKind identifies which manifest format a DependencySet was parsed
// from.
type SourceKind string

const (
	SourcePyproject    SourceKind = "pyproject"
	SourceRequirements SourceKind = "requirements"
	SourcePipfile      SourceKind = "pipfile"
	SourceConda        SourceKind = "conda"
)

// RequirementSource identifies where a Requirement's artifact comes from.
type RequirementSource string

const (
	SrcIndex         RequirementSource = "index"
	SrcVCS           RequirementSource = "vcs"
	SrcURL           RequirementSource = "url"
	SrcEditablePath  RequirementSource = "editable-path"
)

// Requirement is one normalized dependency line.
type Requirement struct {
	Name        string
	VersionSpec string
	Extras      []string
	Source      RequirementSource
}

// Equal reports field equality with the name case-folded, per spec.md §3.
func (r Requirement) Equal(o Requirement) bool {
	if !strings.EqualFold(r.Name, o.Name) {
		return false
	}
	if r.VersionSpec != o.VersionSpec || r.Source != o.Source {
		return false
	}
	if len(r.Extras) != len(o.Extras) {
		return false
	}
	for i := range r.Extras {
		if r.Extras[i] != o.Extras[i] {
			return false
		}
	}
	return true
}

// DependencySet is the normalized result of parsing one manifest file.
type DependencySet struct {
	Main                    []Requirement
	Optional                map[string][]Requirement
	PythonVersionConstraint string
	SourceKind              SourceKind

	// Warnings collects non-fatal RequirementRejected findings; fatal
	// ManifestSyntax errors are returned directly instead.
	Warnings []string

	// CondaOnly holds packages the conda parser recognized as conda-only
	// (no pip equivalent); they are tracked separately rather than folded
	// into Main, per spec.md §9's open question on conda-only handling.
	CondaOnly []string
}

func newDependencySet(kind SourceKind) *DependencySet {
	return &DependencySet{
		Optional:   map[string][]Requirement{},
		SourceKind: kind,
	}
}
