// Package bundle assembles one-click install packages.
//
// Every bundle starts from the KFMon install package. Files for the readers
// it does not ship are filtered out, the KoboRoot tarball is replaced by the
// one merged with NickelMenu, the matching NickelMenu config shards are added
// and the reader archives are unpacked on top. The result is zipped and dated
// like the release it packages.
package bundle
