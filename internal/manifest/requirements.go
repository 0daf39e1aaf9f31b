// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package manifest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gestvenv/gestvenv/internal/coreerrors"
	"github.com/gestvenv/gestvenv/internal/validate"
)

var (
	pinnedOps = []string{"==", ">=", "<=", "~=", "!=", ">", "<"}

	extrasPattern = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)\[([^\]]*)\](.*)$`)

	devFilePattern  = regexp.MustCompile(`(?i)-dev\.`)
	testFilePattern = regexp.MustCompile(`(?i)-test\.`)
	docsFilePattern = regexp.MustCompile(`(?i)-docs\.`)
)

// ParseRequirements parses one or more requirements-style files into a
// single DependencySet. Multiple paths let the caller classify groups by
// filename pattern (*-dev.*, *-test.*, *-docs.*) as spec.md §4.2 describes;
// a single path always lands in Main.
func ParseRequirements(paths ...string) (*DependencySet, *coreerrors.CoreError) {
	if len(paths) == 0 {
		return nil, coreerrors.New(coreerrors.NotFound, "no requirements files given")
	}

	ds := newDependencySet(SourceRequirements)

	for _, path := range paths {
		group := groupForFilename(path, len(paths) > 1)
		reqs, warnings, err := parseOneRequirementsFile(path)
		if err != nil {
			return nil, err
		}
		ds.Warnings = append(ds.Warnings, warnings...)
		if group == "" {
			ds.Main = append(ds.Main, reqs...)
		} else {
			ds.Optional[group] = append(ds.Optional[group], reqs...)
		}
	}
	return ds, nil
}

func groupForFilename(path string, multiFile bool) string {
	if !multiFile {
		return ""
	}
	base := filepath.Base(path)
	switch {
	case devFilePattern.MatchString(base):
		return "dev"
	case testFilePattern.MatchString(base):
		return "test"
	case docsFilePattern.MatchString(base):
		return "docs"
	default:
		return ""
	}
}

func parseOneRequirementsFile(path string) (reqs []Requirement, warnings []string, err *coreerrors.CoreError) {
	f, errGo := os.Open(path)
	if errGo != nil {
		return nil, nil, coreerrors.Wrap(coreerrors.NotFound, errGo, "path", path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()

		if idx := strings.Index(raw, "#"); idx >= 0 {
			raw = raw[:idx]
		}
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		req, rejectReason := parseRequirementLine(line)
		if rejectReason != "" {
			warnings = append(warnings, fmt.Sprintf("line %d: %s: %q", lineNo, rejectReason, line))
			continue
		}
		reqs = append(reqs, req)
	}
	if errGo := scanner.Err(); errGo != nil {
		return nil, nil, coreerrors.Wrap(coreerrors.ValidationFailure, errGo, "path", path, "line", lineNo)
	}
	return reqs, warnings, nil
}

// parseRequirementLine parses a single non-comment, non-blank requirements
// line. It returns a non-empty rejectReason instead of an error for
// RequirementRejected findings, which are non-fatal per spec.md §4.2.
func parseRequirementLine(line string) (req Requirement, rejectReason string) {
	if verr := validate.RequirementLine(line); verr != nil {
		return Requirement{}, verr.Error()
	}

	if strings.HasPrefix(line, "-e ") || strings.HasPrefix(line, "--editable ") {
		target := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(line, "--editable"), "-e"))
		if strings.HasPrefix(target, "git+https://") || strings.HasPrefix(target, "git+ssh://") {
			return Requirement{Name: nameFromVCSURL(target), Source: SrcEditablePath, VersionSpec: target}, ""
		}
		return Requirement{Name: filepathBase(target), Source: SrcEditablePath, VersionSpec: target}, ""
	}

	if strings.HasPrefix(line, "git+https://") || strings.HasPrefix(line, "git+ssh://") {
		return Requirement{Name: nameFromVCSURL(line), Source: SrcVCS, VersionSpec: line}, ""
	}

	if strings.HasPrefix(line, "https://") {
		return Requirement{Name: nameFromVCSURL(line), Source: SrcURL, VersionSpec: line}, ""
	}
	if strings.HasPrefix(line, "http://") {
		return Requirement{}, "insecure direct URL (https-only)"
	}

	if strings.HasPrefix(line, "-") {
		return Requirement{}, "unsupported pip flag"
	}

	name := line
	extras := []string{}
	if m := extrasPattern.FindStringSubmatch(line); m != nil {
		name = m[1]
		for _, e := range strings.Split(m[2], ",") {
			if e = strings.TrimSpace(e); e != "" {
				extras = append(extras, e)
			}
		}
		name = name + m[3]
	}

	spec := ""
	for _, op := range pinnedOps {
		if idx := strings.Index(name, op); idx >= 0 {
			spec = name[idx:]
			name = strings.TrimSpace(name[:idx])
			break
		}
	}

	return Requirement{Name: strings.TrimSpace(name), VersionSpec: strings.TrimSpace(spec), Extras: extras, Source: SrcIndex}, ""
}

func nameFromVCSURL(url string) string {
	base := filepathBase(strings.TrimSuffix(url, ".git"))
	if idx := strings.IndexAny(base, "@#"); idx >= 0 {
		base = base[:idx]
	}
	return base
}

func filepathBase(path string) string {
	for _, sep := range []string{"/", "\\"} {
		if idx := strings.LastIndex(path, sep); idx >= 0 {
			path = path[idx+len(sep):]
		}
	}
	return path
}
