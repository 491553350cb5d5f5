// Package version carries build metadata injected at link time.
package version

var (
	// Version is the release version, overridden via -ldflags.
	Version = "dev"

	// Commit is the source revision the binary was built from.
	Commit = "unknown"
)
