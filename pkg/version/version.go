// Package version carries the release version string.
package version

// V is the current version, overridden at build time via
// -ldflags "-X nwcp.dev/pkg/version.V=...".
var V = "v0.3.1"
