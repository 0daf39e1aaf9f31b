// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package manifest

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/gestvenv/gestvenv/internal/coreerrors"
)

// pyprojectDoc mirrors the [project] table; Poetry-only installs fall back
// to [tool.poetry.dependencies], per spec.md §4.2.
type pyprojectDoc struct {
	Project struct {
		Name                 string              `toml:"name"`
		Version              string              `toml:"version"`
		Dependencies         []string            `toml:"dependencies"`
		OptionalDependencies map[string][]string `toml:"optional-dependencies"`
		RequiresPython       string              `toml:"requires-python"`
	} `toml:"project"`
	Tool struct {
		Poetry struct {
			Dependencies map[string]interface{} `toml:"dependencies"`
			Group        map[string]struct {
				Dependencies map[string]interface{} `toml:"dependencies"`
			} `toml:"group"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

// ParsePyproject reads pyproject.toml, preferring the PEP 621 [project]
// table and falling back to [tool.poetry.dependencies] if [project] is
// absent.
func ParsePyproject(path string) (*DependencySet, *coreerrors.CoreError) {
	b, errGo := os.ReadFile(path)
	if errGo != nil {
		return nil, coreerrors.Wrap(coreerrors.NotFound, errGo, "path", path)
	}

	var doc pyprojectDoc
	if _, errGo := toml.Decode(string(b), &doc); errGo != nil {
		return nil, coreerrors.Wrap(coreerrors.ValidationFailure, errGo, "path", path, "reason", "manifest_syntax")
	}

	ds := newDependencySet(SourcePyproject)
	ds.PythonVersionConstraint = doc.Project.RequiresPython

	if len(doc.Project.Dependencies) > 0 || doc.Project.Name != "" {
		for _, line := range doc.Project.Dependencies {
			req, reason := parseRequirementLine(line)
			if reason != "" {
				ds.Warnings = append(ds.Warnings, line+": "+reason)
				continue
			}
			ds.Main = append(ds.Main, req)
		}
		for group, lines := range doc.Project.OptionalDependencies {
			for _, line := range lines {
				req, reason := parseRequirementLine(line)
				if reason != "" {
					ds.Warnings = append(ds.Warnings, line+": "+reason)
					continue
				}
				ds.Optional[group] = append(ds.Optional[group], req)
			}
		}
		return ds, nil
	}

	// No [project] table: fall back to Poetry's own dependency table.
	for name, spec := range doc.Tool.Poetry.Dependencies {
		if name == "python" {
			ds.PythonVersionConstraint = stringOrEmpty(spec)
			continue
		}
		ds.Main = append(ds.Main, poetryRequirement(name, spec))
	}
	for group, g := range doc.Tool.Poetry.Group {
		for name, spec := range g.Dependencies {
			ds.Optional[group] = append(ds.Optional[group], poetryRequirement(name, spec))
		}
	}
	return ds, nil
}

func poetryRequirement(name string, spec interface{}) Requirement {
	switch v := spec.(type) {
	case string:
		return Requirement{Name: name, VersionSpec: v, Source: SrcIndex}
	case map[string]interface{}:
		req := Requirement{Name: name, Source: SrcIndex}
		if ver, ok := v["version"].(string); ok {
			req.VersionSpec = ver
		}
		if extras, ok := v["extras"].([]interface{}); ok {
			for _, e := range extras {
				if s, ok := e.(string); ok {
					req.Extras = append(req.Extras, s)
				}
			}
		}
		return req
	default:
		return Requirement{Name: name, Source: SrcIndex}
	}
}

func stringOrEmpty(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
