// Package buildinfo reports what binary is running.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Name is the program name used in messages and the user agent.
const Name = "gitk-sync"

// Info is the subset of debug.BuildInfo shown to users.
type Info struct {
	Version  string `yaml:"version"`
	Revision string `yaml:"revision,omitempty"`
	Dirty    bool   `yaml:"dirty,omitempty"`
	Tags     string `yaml:"tags,omitempty"`
}

// Read returns the embedded build information. Binaries built outside a
// module report version "dev".
func Read() Info {
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return Info{Version: "dev"}
	}
	return fromBuildInfo(info)
}

func fromBuildInfo(info *debug.BuildInfo) Info {
	out := Info{Version: info.Main.Version}
	if out.Version == "" || out.Version == "(devel)" {
		out.Version = "dev"
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "-tags":
			out.Tags = s.Value
		case "vcs.revision":
			out.Revision = s.Value
		case "vcs.modified":
			out.Dirty = s.Value == "true"
		}
	}
	return out
}

// String renders e.g. "v1.2.0 (3f2a1c9d0e1f, dirty, tags: netgo)".
func (i Info) String() string {
	var extra []string
	if i.Revision != "" {
		rev := i.Revision
		if len(rev) > 12 {
			rev = rev[:12]
		}
		extra = append(extra, rev)
	}
	if i.Dirty {
		extra = append(extra, "dirty")
	}
	if i.Tags != "" {
		extra = append(extra, "tags: "+i.Tags)
	}
	if len(extra) == 0 {
		return i.Version
	}
	return fmt.Sprintf("%s (%s)", i.Version, strings.Join(extra, ", "))
}

// UserAgent identifies HTTP requests, e.g. "gitk-sync/v1.2.0 (linux; amd64)".
func UserAgent() string {
	return fmt.Sprintf("%s/%s (%s; %s)", Name, Read().Version, runtime.GOOS, runtime.GOARCH)
}
