// Package buildinfo exposes the version stamped into the salelink binary.
package buildinfo

import (
	"encoding/json"
	"net/http"
	"runtime"
	"runtime/debug"
)

// These vars are set at build time via ldflags:
// -X github.com/otherjamesbrown/salelink/pkg/buildinfo.Version=v0.3.0
// -X github.com/otherjamesbrown/salelink/pkg/buildinfo.Commit=1a2b3c4
// -X github.com/otherjamesbrown/salelink/pkg/buildinfo.BuildTime=2026-02-07T10:30:00Z
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info holds build information for a service.
type Info struct {
	ServiceName string `json:"service_name"`
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	BuildTime   string `json:"build_time"`
	Modified    bool   `json:"modified,omitempty"`
	GoVersion   string `json:"go_version"`
	Platform    string `json:"platform"`
}

// Get returns build info for the named service. Without ldflags the commit
// and build time fall back to the VCS stamp of `go build`.
func Get(serviceName string) Info {
	info := Info{
		ServiceName: serviceName,
		Version:     Version,
		Commit:      Commit,
		BuildTime:   BuildTime,
		GoVersion:   runtime.Version(),
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		applyVCS(&info, bi.Settings)
	}
	return info
}

func applyVCS(info *Info, settings []debug.BuildSetting) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "unknown" && s.Value != "" {
				info.Commit = s.Value
				if len(info.Commit) > 7 {
					info.Commit = info.Commit[:7]
				}
			}
		case "vcs.time":
			if info.BuildTime == "unknown" && s.Value != "" {
				info.BuildTime = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
}

// String returns a one-liner like "v0.3.0 (1a2b3c4, 2026-02-07T10:30:00Z)".
func (i Info) String() string {
	s := i.Version + " (" + i.Commit + ", " + i.BuildTime + ")"
	if i.Modified {
		s += " dirty"
	}
	return s
}

// String returns the one-liner for the running binary.
func String() string {
	return Get("").String()
}

// Handler responds with build info JSON.
func Handler(serviceName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Get(serviceName))
	}
}
