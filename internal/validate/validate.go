// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

// Package validate implements the validation rules the original Python
// implementation's ValidationUtils/Validators modules enforced: environment
// names, Python version bounds, and requirement-line safety. Ported to Go
// idiom rather than translated line for line.
package validate

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/gestvenv/gestvenv/internal/coreerrors"
)

var (
	envNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,98}[A-Za-z0-9]$`)

	reservedDeviceNames = map[string]bool{
		"con": true, "prn": true, "aux": true, "nul": true,
		"com1": true, "com2": true, "com3": true, "com4": true, "com5": true,
		"com6": true, "com7": true, "com8": true, "com9": true,
		"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true, "lpt5": true,
		"lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
	}

	// Shell metacharacters disallowed in requirement lines, per spec §4.2.
	shellMetaChars = []string{";", "|", "&", "`", "$", "(", ")"}

	indexAlteringFlags = []string{
		"--index-url", "-i ", "--extra-index-url", "--trusted-host", "--no-index",
	}

	schemeOnlyPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://\s*$`)
)

// EnvironmentName validates a long-lived or ephemeral environment name
// against the pattern and reserved-device-name rule from §3.
func EnvironmentName(name string) *coreerrors.CoreError {
	if len(name) < 2 || len(name) > 100 {
		return coreerrors.New(coreerrors.ValidationFailure, "environment name must be 2-100 characters", "name", name)
	}
	if reservedDeviceNames[strings.ToLower(name)] {
		return coreerrors.New(coreerrors.ValidationFailure, "environment name is a reserved device name", "name", name)
	}
	if !envNamePattern.MatchString(name) {
		return coreerrors.New(coreerrors.ValidationFailure, "environment name has invalid characters", "name", name)
	}
	return nil
}

// PythonVersionBounds are the floor and ceiling from the configuration
// surface (§6): 3.9 <= X.Y <= 3.20 by default.
type PythonVersionBounds struct {
	MinMajor, MinMinor int
	MaxMajor, MaxMinor int
}

// DefaultPythonVersionBounds matches spec.md's stated floor/ceiling.
var DefaultPythonVersionBounds = PythonVersionBounds{MinMajor: 3, MinMinor: 9, MaxMajor: 3, MaxMinor: 20}

// PythonVersion validates a "MAJOR.MINOR" (optionally ".PATCH") string
// against the configured bounds.
func PythonVersion(version string, bounds PythonVersionBounds) *coreerrors.CoreError {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return coreerrors.New(coreerrors.ValidationFailure, "python version must be at least MAJOR.MINOR", "version", version)
	}
	major, errGo := strconv.Atoi(parts[0])
	if errGo != nil {
		return coreerrors.Wrap(coreerrors.ValidationFailure, errGo, "version", version)
	}
	minor, errGo := strconv.Atoi(parts[1])
	if errGo != nil {
		return coreerrors.Wrap(coreerrors.ValidationFailure, errGo, "version", version)
	}
	if lt(major, minor, bounds.MinMajor, bounds.MinMinor) {
		return coreerrors.New(coreerrors.ValidationFailure, "python version below configured floor", "version", version, "floor", versionStr(bounds.MinMajor, bounds.MinMinor))
	}
	if lt(bounds.MaxMajor, bounds.MaxMinor, major, minor) {
		return coreerrors.New(coreerrors.ValidationFailure, "python version above configured ceiling", "version", version, "ceiling", versionStr(bounds.MaxMajor, bounds.MaxMinor))
	}
	return nil
}

func lt(aMajor, aMinor, bMajor, bMinor int) bool {
	if aMajor != bMajor {
		return aMajor < bMajor
	}
	return aMinor < bMinor
}

func versionStr(major, minor int) string {
	return strconv.Itoa(major) + "." + strconv.Itoa(minor)
}

// RequirementLine rejects requirement lines that carry shell metacharacters,
// scheme-only URLs, or pip flags that alter the index, per §4.2. It does not
// attempt to fully parse the line - that's ManifestParser's job - only to
// flag lines that must never reach a subprocess argv unexamined.
func RequirementLine(line string) *coreerrors.CoreError {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return coreerrors.New(coreerrors.ValidationFailure, "empty requirement line")
	}
	for _, meta := range shellMetaChars {
		if strings.Contains(trimmed, meta) {
			return coreerrors.New(coreerrors.ValidationFailure, "requirement line contains a shell metacharacter", "line", line, "char", meta)
		}
	}
	if schemeOnlyPattern.MatchString(trimmed) {
		return coreerrors.New(coreerrors.ValidationFailure, "requirement line is a scheme-only URL", "line", line)
	}
	for _, flag := range indexAlteringFlags {
		if strings.HasPrefix(trimmed, flag) {
			return coreerrors.New(coreerrors.ValidationFailure, "requirement line carries a disallowed index-altering flag", "line", line, "flag", flag)
		}
	}
	return nil
}
