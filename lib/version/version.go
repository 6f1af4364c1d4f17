// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build version of the running binary.
package version

import "runtime/debug"

// Info returns a human-readable version string derived from module
// build information: the module version when built from a tagged
// release, or the VCS revision for development builds.
func Info() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	if buildInfo.Main.Version != "" && buildInfo.Main.Version != "(devel)" {
		return buildInfo.Main.Version
	}

	revision := ""
	dirty := false
	for _, setting := range buildInfo.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	if revision == "" {
		return "devel"
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	if dirty {
		return revision + "-dirty"
	}
	return revision
}
