// Package build carries metadata stamped into the docmodel binary at link time.
package build

var (
	// ProjectName is the name used in log fields and trace resources.
	ProjectName = "docmodel"

	// Version is the released version, set with -ldflags.
	Version = "dev"

	// Commit is the git commit the binary was built from.
	Commit = "none"

	// Date is the build date in RFC3339.
	Date = "unknown"
)
