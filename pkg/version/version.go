package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set with -ldflags "-X github.com/qaenablers/qautils/pkg/version.Version=v1.2.0".
var (
	Version    = "dev"
	CommitHash = ""
	BuildDate  = ""
)

// Info describes the running binary.
type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit_hash,omitempty"`
	BuildDate  string `json:"build_date,omitempty"`
	GoVersion  string `json:"go_version"`
}

// Get returns the build information. Values not injected at link time are
// taken from the module build info when available.
func Get() Info {
	info := Info{
		Version:    Version,
		CommitHash: CommitHash,
		BuildDate:  BuildDate,
		GoVersion:  runtime.Version(),
	}
	build, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == "dev" && build.Main.Version != "" && build.Main.Version != "(devel)" {
		info.Version = build.Main.Version
	}
	for _, setting := range build.Settings {
		switch setting.Key {
		case "vcs.revision":
			if info.CommitHash == "" {
				info.CommitHash = setting.Value
			}
		case "vcs.time":
			if info.BuildDate == "" {
				info.BuildDate = setting.Value
			}
		}
	}
	return info
}

func (i Info) String() string {
	out := "qautils " + i.Version
	if i.CommitHash != "" {
		out += fmt.Sprintf(" (%s)", shortHash(i.CommitHash))
	}
	if i.BuildDate != "" {
		out += " built " + i.BuildDate
	}
	return out + " " + i.GoVersion
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
