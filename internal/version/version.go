// Package version reports what keepalive binary is running. The release
// pipeline stamps the variables below with -ldflags; plain `go build` falls
// back to the VCS data the toolchain embeds.
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

// Stamped with -ldflags "-X keepalive/internal/version.<Name>=...".
var (
	Version   = unknown
	GitCommit = unknown
	BuildDate = unknown
)

// Info describes the build and this process instance.
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

// GetInfo returns the process-wide Info. The instance ID is generated once.
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
			info = withBuildSettings(info, bi.Settings)
		}
	})
	return info
}

// withBuildSettings fills fields the linker left unstamped from the
// toolchain's vcs.* build settings.
func withBuildSettings(i Info, settings []debug.BuildSetting) Info {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if i.GitCommit == unknown && s.Value != "" {
				i.GitCommit = s.Value[:min(len(s.Value), 7)]
			}
		case "vcs.time":
			if i.BuildDate == unknown && s.Value != "" {
				i.BuildDate = s.Value
			}
		}
	}
	return i
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return unknown
	}
	return name
}

// UserAgent is sent on every outbound request.
func (i Info) UserAgent() string {
	return "keepalive/" + i.Version
}

func (i Info) String() string {
	return fmt.Sprintf("keepalive version %s (commit: %s, built: %s)", i.Version, i.GitCommit, i.BuildDate)
}
