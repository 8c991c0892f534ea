package version

import "fmt"

// Version is the release of this build.
const Version = "0.1.1"

// These variables are set at build time via ldflags
var (
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String returns the version line printed by --version.
func String() string {
	return "ecs-manage " + Version
}

// Detailed returns the version with build metadata, for debug logs.
func Detailed() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", String(), shortCommit(), BuildTime)
}

func shortCommit() string {
	if len(Commit) > 7 {
		return Commit[:7]
	}
	return Commit
}
