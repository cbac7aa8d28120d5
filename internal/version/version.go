// Package version provides build metadata for the rate limiter.
//
// Release builds stamp the variables below with -ldflags. A plain
// `go build` leaves them unset, in which case the VCS data recorded by the
// Go toolchain is used instead.
package version

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
)

const unknown = "unknown"

var (
	// Set via: -ldflags "-X ratelimiter/internal/version.Version=..."
	Version = unknown

	// ISO 8601 UTC. Set via: -ldflags "-X ratelimiter/internal/version.BuildDate=..."
	BuildDate = unknown

	// Set via: -ldflags "-X ratelimiter/internal/version.GitCommit=..."
	GitCommit = unknown
)

// Info describes the running binary and this process instance.
type Info struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	GoVersion  string `json:"go_version"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname"`
}

var (
	once sync.Once
	info Info
)

// GetInfo returns the build metadata. The instance ID is a fresh UUID per
// process; it tells apart replicas that share a version in logs and traces.
func GetInfo() Info {
	once.Do(func() {
		info = Info{
			Version:    Version,
			GitCommit:  GitCommit,
			BuildDate:  BuildDate,
			GoVersion:  runtime.Version(),
			InstanceID: uuid.NewString(),
			Hostname:   hostname(),
		}
		if bi, ok := debug.ReadBuildInfo(); ok {
			info = withBuildInfo(info, bi)
		}
	})
	return info
}

// withBuildInfo fills fields the linker left unset from the toolchain's
// build record.
func withBuildInfo(i Info, bi *debug.BuildInfo) Info {
	if i.Version == unknown && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		i.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if i.GitCommit == unknown && s.Value != "" {
				i.GitCommit = shortCommit(s.Value)
			}
		case "vcs.time":
			if i.BuildDate == unknown && s.Value != "" {
				i.BuildDate = s.Value
			}
		}
	}
	return i
}

func shortCommit(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return unknown
	}
	return name
}

// String formats version info for CLI display.
func (i Info) String() string {
	return fmt.Sprintf("ratelimiter version %s (commit: %s, built: %s)", i.Version, i.GitCommit, i.BuildDate)
}
