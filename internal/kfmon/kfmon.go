// Package kfmon locates the locally built KFMon install package every
// one-click bundle starts from.
package kfmon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"github.com/maruel/natural"
)

// PackagePattern matches KFMon install packages.
const PackagePattern = "KFMon-v*.zip"

// ErrPackageNotFound is returned when no KFMon install package exists.
var ErrPackageNotFound = errors.New("couldn't find a KFMon install package")

var versionRe = regexp.MustCompile(`KFMon-v(.+?)\.zip`) //nolint:gochecknoglobals // Compiled once.

// Package is a KFMon install package found on disk.
type Package struct {
	// Path is the absolute path of the archive.
	Path string
	// Version is the version embedded in the file name.
	Version string
	// ModTime is the archive mtime, reused for the bundles built around it.
	ModTime time.Time
}

// Find looks for KFMon-v*.zip in dir.
// There should be exactly one, if several are present the naturally highest version wins.
func Find(dir string) (*Package, error) {
	matches, err := filepath.Glob(filepath.Join(dir, PackagePattern))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", dir, err)
	}

	candidates := make([]*Package, 0, len(matches))

	for _, match := range matches {
		found := versionRe.FindStringSubmatch(filepath.Base(match))
		if found == nil {
			continue
		}

		info, statErr := os.Stat(match)
		if statErr != nil {
			return nil, fmt.Errorf("stat %s: %w", match, statErr)
		}

		if !info.Mode().IsRegular() {
			continue
		}

		path, absErr := filepath.Abs(match)
		if absErr != nil {
			return nil, absErr
		}

		candidates = append(candidates, &Package{
			Path:    path,
			Version: found[1],
			ModTime: info.ModTime(),
		})
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrPackageNotFound)
	}

	return slices.MaxFunc(candidates, func(a, b *Package) int {
		switch {
		case natural.Less(a.Version, b.Version):
			return -1
		case natural.Less(b.Version, a.Version):
			return 1
		default:
			return 0
		}
	}), nil
}
