// Package version holds build metadata injected with -ldflags -X.
package version

import "fmt"

var (
	// Version is the release tag.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the build metadata for -version output.
func String(program string) string {
	return fmt.Sprintf("%s %s (%s, built %s)", program, Version, GitSHA, BuildTime)
}
