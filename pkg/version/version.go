// Package version holds build metadata injected via -ldflags.
package version

import (
	"runtime/debug"
)

// Build metadata, overridden at link time:
//
//	-ldflags "-X github.com/Sumatoshi-tech/duvet/pkg/version.Version=v1.2.3"
var (
	Version = "dev"
	Commit  = "<unknown>"
	Date    = "<unknown>"
)

// InitBinaryVersion fills unset metadata from the module build info embedded
// by the go tool.
func InitBinaryVersion() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}

	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if Commit == "<unknown>" {
				Commit = setting.Value
			}
		case "vcs.time":
			if Date == "<unknown>" {
				Date = setting.Value
			}
		}
	}
}

// String formats the metadata for display.
func String() string {
	return Version + " (commit: " + Commit + ", built: " + Date + ")"
}
