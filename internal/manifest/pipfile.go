// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package manifest

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/gestvenv/gestvenv/internal/coreerrors"
)

// pipfileDoc models the subset of Pipfile (itself TOML) that the core
// needs: the default and develop dependency tables and the Python version
// pin.
type pipfileDoc struct {
	Packages    map[string]interface{} `toml:"packages"`
	DevPackages map[string]interface{} `toml:"dev-packages"`
	Requires    struct {
		PythonVersion string `toml:"python_version"`
	} `toml:"requires"`
}

// ParsePipfile normalizes a Pipfile into a DependencySet, with [dev-packages]
// landing in the "dev" optional group.
func ParsePipfile(path string) (*DependencySet, *coreerrors.CoreError) {
	b, errGo := os.ReadFile(path)
	if errGo != nil {
		return nil, coreerrors.Wrap(coreerrors.NotFound, errGo, "path", path)
	}

	var doc pipfileDoc
	if _, errGo := toml.Decode(string(b), &doc); errGo != nil {
		return nil, coreerrors.Wrap(coreerrors.ValidationFailure, errGo, "path", path, "reason", "manifest_syntax")
	}

	ds := newDependencySet(SourcePipfile)
	ds.PythonVersionConstraint = doc.Requires.PythonVersion

	for name, spec := range doc.Packages {
		ds.Main = append(ds.Main, poetryRequirement(name, normalizePipfileSpec(spec)))
	}
	for name, spec := range doc.DevPackages {
		ds.Optional["dev"] = append(ds.Optional["dev"], poetryRequirement(name, normalizePipfileSpec(spec)))
	}
	return ds, nil
}

// normalizePipfileSpec maps Pipfile's "*" wildcard (meaning "any version")
// onto the empty version spec poetryRequirement already understands.
func normalizePipfileSpec(spec interface{}) interface{} {
	if s, ok := spec.(string); ok && s == "*" {
		return ""
	}
	return spec
}
