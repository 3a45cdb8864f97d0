/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package libinfo

import (
	"runtime/debug"
	"strings"
	"sync"
)

const LibName = "discoenv-authkit"

const libPath = "github.com/discoenv/go-authkit"

const unknownVersion = "v0.0.0"

var (
	libVersion     string
	libVersionOnce sync.Once
)

// GetLibVersion returns the version of the module as it was resolved by the main binary.
func GetLibVersion() string {
	libVersionOnce.Do(func() {
		buildInfo, _ := debug.ReadBuildInfo()
		if libVersion = extractLibVersion(buildInfo, libPath); libVersion == "" {
			libVersion = unknownVersion
		}
	})
	return libVersion
}

// extractLibVersion also matches major version suffixes (e.g. "/v2") of the module path.
func extractLibVersion(buildInfo *debug.BuildInfo, modulePath string) string {
	if buildInfo == nil {
		return ""
	}
	for _, dep := range buildInfo.Deps {
		if dep.Path == modulePath {
			return dep.Version
		}
		if suffix, ok := strings.CutPrefix(dep.Path, modulePath+"/v"); ok && isDigits(suffix) {
			return dep.Version
		}
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
