// Package version carries build metadata injected with -ldflags.
package version

import "runtime"

// Set at build time:
//
//	go build -ldflags "-X github.com/HerbHall/nepenthes/internal/version.Version=v1.2.3"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Short returns the version string.
func Short() string {
	return Version
}

// Map returns version details for structured output.
func Map() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
	}
}
