package version

import (
	"fmt"
	"runtime"
)

// Build information, injected via ldflags at build time:
//
//	go build -ldflags "-X github.com/pscheid92/sensorrelay/internal/platform/version.Version=v1.2.0"
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info holds complete build information
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

// String renders the build info on one line for start-up logs.
func (i Info) String() string {
	commit := i.Commit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return fmt.Sprintf("%s (%s, built %s, %s)", i.Version, commit, i.BuildTime, i.GoVersion)
}
