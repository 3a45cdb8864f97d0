/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package libinfo

import (
	"runtime/debug"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractLibVersion(t *testing.T) {
	tests := []struct {
		name        string
		buildInfo   *debug.BuildInfo
		expectedVer string
	}{
		{
			name: "module found",
			buildInfo: &debug.BuildInfo{Deps: []*debug.Module{
				{Path: "github.com/other/module", Version: "v1.0.0"},
				{Path: libPath, Version: "v0.4.1"},
			}},
			expectedVer: "v0.4.1",
		},
		{
			name: "major version suffix",
			buildInfo: &debug.BuildInfo{Deps: []*debug.Module{
				{Path: libPath + "/v3", Version: "v3.1.0"},
			}},
			expectedVer: "v3.1.0",
		},
		{
			name: "nested package path is not a version suffix",
			buildInfo: &debug.BuildInfo{Deps: []*debug.Module{
				{Path: libPath + "/vendored", Version: "v9.9.9"},
			}},
			expectedVer: "",
		},
		{
			name:        "empty deps",
			buildInfo:   &debug.BuildInfo{},
			expectedVer: "",
		},
		{
			name:        "nil build info",
			expectedVer: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expectedVer, extractLibVersion(tt.buildInfo, libPath))
		})
	}
}

func TestUserAgent(t *testing.T) {
	ua := UserAgent()
	require.True(t, strings.HasPrefix(ua, LibName+"/v"), "unexpected user agent %q", ua)
	require.True(t, strings.HasSuffix(LogPrefix(), "] "))
}
