// Package version хранит сведения о сборке, которые подставляются через -ldflags.
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build — сведения о бинарнике маркетплейса.
type Build struct {
	Version   string
	Commit    string
	Date      string
	GoVersion string
}

// Current возвращает сведения о сборке. Если -ldflags не задавались,
// коммит и дата берутся из VCS-меток go build.
func Current() Build {
	return resolve(debug.ReadBuildInfo())
}

func resolve(info *debug.BuildInfo, ok bool) Build {
	b := Build{Version: version, Commit: commit, Date: date}
	if !ok || info == nil {
		return b
	}

	b.GoVersion = info.GoVersion
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if b.Commit == "unknown" && s.Value != "" {
				b.Commit = s.Value
			}
		case "vcs.time":
			if b.Date == "unknown" && s.Value != "" {
				b.Date = s.Value
			}
		}
	}
	return b
}

// Fields возвращает сведения в виде полей для структурированного лога.
func (b Build) Fields() map[string]any {
	return map[string]any{
		"version": b.Version,
		"commit":  b.Commit,
		"built":   b.Date,
	}
}

func (b Build) String() string {
	return fmt.Sprintf("vendormarket %s (commit %s, built %s)", b.Version, b.Commit, b.Date)
}
