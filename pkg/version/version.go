// Package version holds build-time version information for hdlsim.
package version

import (
	"fmt"
	"runtime"
	"time"
)

// Version information set at build time via ldflags.
var (
	// Version from git tag (e.g. "v0.3.0").
	Version = "dev"

	// GitCommit is the git commit hash.
	GitCommit = "unknown"

	// GitTag is the git tag if on a tag.
	GitTag = ""

	// BuildDate is when the binary was built.
	BuildDate = "unknown"

	// GoVersion is the Go version used to build.
	GoVersion = runtime.Version()

	// Platform is the target platform.
	Platform = fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
)

// GetVersion returns the short version string.
func GetVersion() string {
	if Version == "dev" {
		if GitTag != "" {
			Version = GitTag
		} else if GitCommit != "unknown" && len(GitCommit) >= 7 {
			Version = fmt.Sprintf("dev-%s", GitCommit[:7])
		}
	}
	return Version
}

// GetFullVersion returns detailed version information.
func GetFullVersion() string {
	return fmt.Sprintf(`hdlsim %s
Commit:   %s
Date:     %s
Go:       %s
Platform: %s`,
		GetVersion(),
		GitCommit,
		BuildDate,
		GoVersion,
		Platform)
}

func init() {
	if BuildDate == "unknown" {
		BuildDate = time.Now().Format("2006-01-02T15:04:05Z")
	}
}
