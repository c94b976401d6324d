// Package version exposes build metadata for the packager.
//
// Variables Version, Commit, and BuildTime are injected at build time via
// Go ldflags. UserAgent identifies the packager to the release forge and to
// the download mirrors.
package version
