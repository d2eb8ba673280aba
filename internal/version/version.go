// Package version supplies the build version cmd/coreschedsim reports
// in its --version output.
package version

import (
	"embed"
	"strings"

	"github.com/blang/semver/v4"
)

// Using `//go:embed data/VERSION` (similarly for `data/COMMIT` and `data/BRANCH`) will
// fail at build time if the files don't exist, which will break existing build workflows.
//
// Alternatively, committing those files in git will cause problems as they will be constantly
// updated and overwitten if devs update them locally and commit the changes.
//
// Therefore, we embed a (non-empty) directory and look up the files at run-time so builds
// succeed regardless of whether the files are exist or not.
// `data/.gitignore` is our fallback file, which keeps `data/` non-empty and prevents [embed]
// from failing.

// Using a dedicated `data` directory allows us to separate out what files to embed.
// (Writing `//go:embed *` would include everything in this directory, including this file.)

//go:embed data/*
var data embed.FS

var (
	// Branch is the git branch the binary was built from.
	Branch = readDataFile("BRANCH")

	// Commit is the git commit the binary was built from.
	Commit = readDataFile("COMMIT")

	// Version is the complete semver.
	Version = readDataFile("VERSION")
)

func readDataFile(f string) string {
	b, _ := data.ReadFile("data/" + f)
	return strings.TrimSpace(string(b))
}

// devVersion is what Parsed falls back to on a checkout that never had
// release tooling stamp data/VERSION.
var devVersion = semver.MustParse("0.0.0-dev")

// Parsed returns Version as a semver.Version, or devVersion if Version
// is empty or not valid semver.
func Parsed() semver.Version {
	if Version == "" {
		return devVersion
	}
	v, err := semver.ParseTolerant(Version)
	if err != nil {
		return devVersion
	}
	return v
}

// String is the human-facing version line CLI --version output
// reports: "<version> (<branch>@<commit>)", or
// just "<version>" when branch/commit were never stamped.
func String() string {
	v := Parsed().String()
	if Branch == "" && Commit == "" {
		return v
	}
	return v + " (" + Branch + "@" + Commit + ")"
}
