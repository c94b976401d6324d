// Package config defines the packager settings and provides helpers to load,
// validate and save them in YAML format.
//
// The Config type locates the local KFMon package, the NickelMenu config
// shards and the scratch directory, and describes the upstream projects whose
// releases end up in the one-click bundles.
package config
