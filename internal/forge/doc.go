// Package forge resolves the latest releases of upstream projects through the
// GitHub REST API.
//
// A Release carries the version (the release tag) and the URL of the archive
// to download, either a release asset picked by name or an external URL built
// from a template.
package forge
