package lib

var (
	// Version is the current version.
	Version = "(untracked)"
	// CommitSHA is the commit sha.
	CommitSHA = "(unknown)"
)
