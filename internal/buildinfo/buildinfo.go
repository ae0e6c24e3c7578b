// Package buildinfo exposes the version metadata stamped into the
// binary at link time, surfaced by the version subcommand.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Overridden at link time, e.g.
// -ldflags "-X github.com/mailtask/mailtask/internal/buildinfo.Version=v1.2.0".
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

// Info returns build and runtime metadata, keyed for the version
// subcommand's JSON output.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// Uptime reports how long this process has been running, truncated to
// whole seconds.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// String formats the stamped metadata as the single line printed by
// "mailtask version".
func String() string {
	return fmt.Sprintf("mailtask %s (%s@%s) built %s", Version, GitCommit, GitBranch, BuildTime)
}
