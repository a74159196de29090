package ver

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

// Load reads the module version and VCS stamp of the running binary.
func Load() Version {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Version{
			Version:   "devel",
			GoVersion: runtime.Version(),
			Revision:  "unknown",
			BuildTime: "unknown",
		}
	}

	v := Version{
		Version:   info.Main.Version,
		GoVersion: info.GoVersion,
		Revision:  "unknown",
		BuildTime: "unknown",
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			v.Revision = setting.Value
		case "vcs.time":
			v.BuildTime = setting.Value
		case "vcs.modified":
			v.Dirty = setting.Value == "true"
		}
	}
	if v.Version == "" || v.Version == "(devel)" {
		v.Version = "devel"
	}
	return v
}

type Version struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Revision  string `json:"revision"`
	BuildTime string `json:"build_time"`
	Dirty     bool   `json:"dirty"`
}

// Short is the version with the abbreviated commit, used as the service version.
func (v Version) Short() string {
	commit := v.Revision
	if len(commit) > 7 {
		commit = commit[:7]
	}
	if v.Dirty {
		commit += "-dirty"
	}
	return v.Version + "+" + commit
}

func (v Version) Format() string {
	commit := v.Revision
	if len(commit) > 7 {
		commit = commit[:7]
	}

	buildTimeStr := "unknown"
	if buildTime, err := time.Parse(time.RFC3339, v.BuildTime); err == nil {
		buildTimeStr = buildTime.Format(time.ANSIC)
	}

	return fmt.Sprintf("Go Version: %s\nVersion: %s\nCommit: %s\nDirty: %t\nBuild Time: %s\nOS/Arch: %s/%s\n", v.GoVersion, v.Version, commit, v.Dirty, buildTimeStr, runtime.GOOS, runtime.GOARCH)
}
