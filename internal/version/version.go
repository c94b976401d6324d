package version

import "fmt"

// Name identifies the packager in version output and HTTP requests.
const Name = "ocp-packager"

// Build metadata, stamped with -ldflags "-X github.com/oshokin/ocp-packager/internal/version.Version=...".
var (
	Version   = "0.1.0"
	Commit    = "none"
	BuildTime = "unknown"
)

// Short returns the bare release number.
func Short() string {
	return Version
}

// Full returns the release with the commit and build time it came from.
func Full() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", Name, Version, Commit, BuildTime)
}

// UserAgent is sent to the release API, the nightly index and the download hosts.
func UserAgent() string {
	return Name + "/" + Version
}
