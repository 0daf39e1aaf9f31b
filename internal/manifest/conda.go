// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package manifest

import (
	"os"
	"strings"

	"github.com/go-yaml/yaml"

	"github.com/gestvenv/gestvenv/internal/coreerrors"
)

// condaDoc models a conda environment.yml: a name, a channel list, and a
// dependencies list mixing plain conda specs with a nested "pip" list.
type condaDoc struct {
	Name         string        `yaml:"name"`
	Channels     []string      `yaml:"channels"`
	Dependencies []interface{} `yaml:"dependencies"`
}

// ParseCondaYAML normalizes a conda environment.yml. Pip-only entries
// (under the nested "pip:" list) land in Main; conda-only packages are
// recorded in CondaOnly, which nothing in the core installs, per spec.md
// §4.2 and the §9 open question on conda-only
// handling: the split between "installed" and "skipped-from-manifest" is
// preserved explicitly rather than silently dropped.
func ParseCondaYAML(path string) (*DependencySet, *coreerrors.CoreError) {
	b, errGo := os.ReadFile(path)
	if errGo != nil {
		return nil, coreerrors.Wrap(coreerrors.NotFound, errGo, "path", path)
	}

	var doc condaDoc
	if errGo := yaml.Unmarshal(b, &doc); errGo != nil {
		return nil, coreerrors.Wrap(coreerrors.ValidationFailure, errGo, "path", path, "reason", "manifest_syntax")
	}

	ds := newDependencySet(SourceConda)

	for _, entry := range doc.Dependencies {
		switch v := entry.(type) {
		case string:
			name, version := splitCondaSpec(v)
			if strings.EqualFold(name, "python") {
				ds.PythonVersionConstraint = version
				continue
			}
			ds.CondaOnly = append(ds.CondaOnly, v)
		case map[interface{}]interface{}:
			if pipList, ok := v["pip"].([]interface{}); ok {
				for _, p := range pipList {
					line, ok := p.(string)
					if !ok {
						continue
					}
					req, reason := parseRequirementLine(line)
					if reason != "" {
						ds.Warnings = append(ds.Warnings, line+": "+reason)
						continue
					}
					ds.Main = append(ds.Main, req)
				}
			}
		}
	}
	return ds, nil
}

func splitCondaSpec(spec string) (name, version string) {
	for _, sep := range []string{"=", "<", ">"} {
		if idx := strings.Index(spec, sep); idx >= 0 {
			return strings.TrimSpace(spec[:idx]), strings.TrimSpace(spec[idx:])
		}
	}
	return strings.TrimSpace(spec), ""
}
