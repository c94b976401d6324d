// Package fetch downloads release archives to the scratch directory.
//
// Every download remembers the Last-Modified date announced by the server:
// the bundles built from an archive inherit it, so a bundle is dated like the
// release it packages rather than like the packaging run.
package fetch
