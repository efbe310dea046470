// Package version exposes the build identity stamped into the binary via
// -ldflags, e.g.
//
//	go build -ldflags "-X github.com/weavel-fastllm/fastllm/version.Version=v0.3.0"
package version

import (
	"fmt"
	"runtime"
)

// Overridden at build time. Unstamped builds identify as dev.
var (
	Version    = "dev"
	CommitHash = "none"
	BuildTime  = "unknown"
)

// Info is the full build identity, JSON-ready for the version command.
type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit_hash"`
	BuildTime  string `json:"build_time"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

// Get assembles the build identity of the running binary.
func Get() Info {
	return Info{
		Version:    Version,
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String renders the one-line form the version command prints.
func (i Info) String() string {
	return fmt.Sprintf("fastllm %s (commit %s, built %s)", i.Version, i.Short(), i.BuildTime)
}

// Short returns the abbreviated commit hash.
func (i Info) Short() string {
	if len(i.CommitHash) > 7 {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}
