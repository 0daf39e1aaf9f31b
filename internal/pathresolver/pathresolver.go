// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

// Package pathresolver centralizes every platform-conditional filename
// decision in the core. No other package should branch on OS family: the
// rest of the core asks this package for a path and gets back the
// Unix-or-Windows-correct answer.
package pathresolver

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/gestvenv/gestvenv/internal/coreerrors"
)

// OSFamily identifies the layout convention an environment root follows.
type OSFamily string

const (
	Unix    OSFamily = "unix"
	Windows OSFamily = "windows"
)

// HostFamily returns the OSFamily of the process's own runtime, used when
// callers don't need to resolve paths for a foreign platform.
func HostFamily() OSFamily {
	if runtime.GOOS == "windows" {
		return Windows
	}
	return Unix
}

// Layout is the set of paths resolved for one environment root on one
// platform family.
type Layout struct {
	BinDir       string // "bin" on Unix, "Scripts" on Windows
	Python       string
	Installer    string // path to the backend's own executable, e.g. pip/uv/poetry/pdm
	Activate     string
	PyvenvCfg    string
	MetadataFile string
}

const metadataFileName = ".gestvenv-metadata.json"

// Resolve computes the Layout for envRoot under the given family. It does
// not require the paths to exist; existence checks are the caller's
// responsibility (see MustExist).
func Resolve(envRoot string, family OSFamily, installerName string) Layout {
	if family == Windows {
		bin := filepath.Join(envRoot, "Scripts")
		return Layout{
			BinDir:       bin,
			Python:       filepath.Join(bin, "python.exe"),
			Installer:    filepath.Join(bin, installerName+".exe"),
			Activate:     filepath.Join(bin, "activate.bat"),
			PyvenvCfg:    filepath.Join(envRoot, "pyvenv.cfg"),
			MetadataFile: filepath.Join(envRoot, metadataFileName),
		}
	}

	bin := filepath.Join(envRoot, "bin")
	return Layout{
		BinDir:       bin,
		Python:       filepath.Join(bin, "python"),
		Installer:    filepath.Join(bin, installerName),
		Activate:     filepath.Join(bin, "activate"),
		PyvenvCfg:    filepath.Join(envRoot, "pyvenv.cfg"),
		MetadataFile: filepath.Join(envRoot, metadataFileName),
	}
}

// MustExist checks that path is present on disk, returning a
// NotFound-kind error otherwise. Used by doctor-style diagnostics that need
// to distinguish "not yet created" from "resolvable but missing".
func MustExist(path string) (err *coreerrors.CoreError) {
	if _, errGo := os.Stat(path); errGo != nil {
		return coreerrors.Wrap(coreerrors.NotFound, errGo, "path", path)
	}
	return nil
}

// PlatformTag returns the package cache's platform identifier: OS family
// plus machine architecture, lowercase, e.g. "linux_amd64" or
// "macosx_arm64". An approximation of the wheel platform tags Python
// packaging uses (GOARCH rather than uname -m spelling) good enough to
// shard cache entries that are never shared across machines.
func PlatformTag() string {
	arch := strings.ToLower(runtime.GOARCH)
	switch runtime.GOOS {
	case "darwin":
		return "macosx_" + arch
	case "windows":
		return "win_" + arch
	default:
		return "linux_" + arch
	}
}

// ActivationEnv builds the environment-variable set a shell would need to
// "activate" envRoot: VIRTUAL_ENV, VIRTUAL_ENV_PROMPT, and a PATH with the
// env's bin directory prepended.
func ActivationEnv(envRoot, promptName string, layout Layout, currentPath string) map[string]string {
	sep := string(os.PathListSeparator)
	return map[string]string{
		"VIRTUAL_ENV":        envRoot,
		"VIRTUAL_ENV_PROMPT": "(" + promptName + ") ",
		"PATH":               layout.BinDir + sep + currentPath,
	}
}
