// Package version exposes build information.
//
// Version, Commit, and BuildTime can be injected via ldflags:
//
//	go build -ldflags "-X github.com/hannesnortje/memlink/internal/version.Version=1.0.0"
//
// Fields not injected fall back to the VCS metadata Go embeds in the
// binary, so a plain `go build` of a git checkout still reports a commit.
package version

import "runtime/debug"

var (
	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

// String returns a human-readable build description.
func String() string {
	commit, built := Commit, BuildTime
	if commit == "" || built == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					if commit == "" && len(s.Value) >= 7 {
						commit = s.Value[:7]
					}
				case "vcs.time":
					if built == "" {
						built = s.Value
					}
				}
			}
		}
	}
	if commit == "" {
		commit = "unknown"
	}
	if built == "" {
		built = "unknown"
	}
	return Version + " (" + commit + ") built " + built
}
