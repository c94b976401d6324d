// Package archive unpacks and creates the zip and tarball formats used by
// Kobo install packages.
//
// Unpacking refuses entries that would land outside of the destination
// directory, following the symlinks unpacked before them. Tarballs are further
// restricted to regular files, directories and links that stay inside the
// tree, with setuid/setgid/sticky and group/other write bits masked away.
// Created tarballs are owned by root, as the device extracts them as-is on top
// of its root filesystem.
package archive
