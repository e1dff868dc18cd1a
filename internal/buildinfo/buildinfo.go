// Package buildinfo holds version metadata stamped at link time via
// -ldflags, the way the teacher's own cobra root command reports its
// version string.
package buildinfo

var (
	// Version is the daemon's release version, set via:
	//   -ldflags "-X github.com/kpreload/preloadd/internal/buildinfo.Version=..."
	Version = "dev"

	// Commit is the VCS revision the binary was built from.
	Commit = "unknown"
)

// String renders a one-line version banner for --version output.
func String() string {
	return "preloadd " + Version + " (" + Commit + ")"
}
