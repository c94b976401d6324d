// Package packager runs the one-click packaging pipeline.
//
// It locates the local KFMon package, resolves the latest NickelMenu, Plato
// and KOReader releases (or the latest KOReader nightly), downloads them to
// the scratch directory, builds every bundle variant and optionally publishes
// them, with a checksum manifest, to an output directory.
package packager
