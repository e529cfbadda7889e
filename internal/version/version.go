// Package version is the single source of build version information.
package version

// Overridable at build time:
// go build -ldflags "-X ckg/internal/version.Version=1.3.0 -X ckg/internal/version.Commit=$(git rev-parse HEAD)"
var (
	// Version is the semantic version of CKG.
	Version = "1.2.0"

	// Commit is the git commit hash, set at build time.
	Commit = "unknown"

	// BuildDate is the build timestamp, set at build time.
	BuildDate = "unknown"
)

// Info returns the version, with an abbreviated commit when one was
// stamped in.
func Info() string {
	if Commit != "unknown" && len(Commit) > 7 {
		return Version + " (" + Commit[:7] + ")"
	}
	return Version
}
