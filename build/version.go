// Package build holds the version information of the wallet backup tools and
// the logging backend shared by all of their packages.
package build

import (
	"fmt"
	"strings"
)

// Commit stores the current commit of this build, which includes the most
// recent tag, the number of commits since that tag (if non-zero), the commit
// hash, and a dirty marker. This should be set using the -ldflags during
// compilation.
var Commit string

const (
	// AppMajor defines the major version of this binary.
	AppMajor uint = 0

	// AppMinor defines the minor version of this binary.
	AppMinor uint = 2

	// AppPatch defines the application patch for this binary.
	AppPatch uint = 0

	// AppPreRelease MUST only contain characters from semanticAlphabet per
	// the semantic versioning spec.
	AppPreRelease = "beta"
)

// semanticAlphabet is the set of characters that are permitted for use in an
// AppPreRelease.
const semanticAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-."

func init() {
	for _, r := range AppPreRelease {
		if !strings.ContainsRune(semanticAlphabet, r) {
			panic(fmt.Errorf("rune: %v is not in the semantic "+
				"alphabet", r))
		}
	}
}

// Version returns the application version as a properly formed string per the
// semantic versioning 2.0.0 spec (http://semver.org/).
func Version() string {
	version := fmt.Sprintf("%d.%d.%d", AppMajor, AppMinor, AppPatch)

	if AppPreRelease != "" {
		version = fmt.Sprintf("%s-%s", version, AppPreRelease)
	}

	return version
}

// FullVersion returns Version with the build commit appended, if known.
func FullVersion() string {
	if Commit == "" {
		return Version()
	}

	return fmt.Sprintf("%s commit=%s", Version(), Commit)
}
