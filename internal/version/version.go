// Package version holds build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/smazurov/camgraph/internal/version.Version=v0.3.0"
package version

import (
	"runtime"
	"runtime/debug"
)

// Name is the program name used in banners and the API title.
const Name = "camgraph"

// Set via ldflags.
var (
	Version   = "dev"
	GitCommit = ""
	BuildDate = ""
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version" example:"v0.3.0"`
	GitCommit string `json:"git_commit" example:"4f2a9c1"`
	BuildDate string `json:"build_date,omitempty" example:"2025-01-27T10:30:00Z"`
	Modified  bool   `json:"modified" doc:"Built from a dirty work tree"`
	GoVersion string `json:"go_version" example:"go1.24.11"`
	Platform  string `json:"platform" example:"linux/arm64"`
}

// Get returns the build metadata. Values missing from ldflags fall back to
// the VCS stamp the go tool embeds.
func Get() Info {
	info := Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.GitCommit == "" {
					info.GitCommit = s.Value
				}
			case "vcs.time":
				if info.BuildDate == "" {
					info.BuildDate = s.Value
				}
			case "vcs.modified":
				info.Modified = s.Value == "true"
			}
		}
	}
	if info.GitCommit == "" {
		info.GitCommit = "unknown"
	}
	if len(info.GitCommit) > 7 {
		info.GitCommit = info.GitCommit[:7]
	}
	return info
}

// String formats the version as "camgraph v0.3.0 (4f2a9c1)".
func (i Info) String() string {
	s := Name + " " + i.Version + " (" + i.GitCommit
	if i.Modified {
		s += "-dirty"
	}
	return s + ")"
}
