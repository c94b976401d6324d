package archive

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

var (
	// ErrPathTraversal is returned when an entry would be written outside of the destination.
	ErrPathTraversal = errors.New("path traversal in archive")
	// ErrUnsupportedEntry is returned for device nodes, fifos and other special tar entries.
	ErrUnsupportedEntry = errors.New("unsupported archive entry")
)

const (
	// DefaultDirMode is used for directories implied by entry paths.
	DefaultDirMode fs.FileMode = 0o755

	// maskedBits are stripped from every unpacked tar entry.
	maskedBits fs.FileMode = fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky | 0o022
)

// gzipMagic starts every gzip stream.
var gzipMagic = []byte{0x1f, 0x8b} //nolint:gochecknoglobals // Read-only lookup value.

// dirTime remembers a directory mtime to restore once its children are written.
type dirTime struct {
	path    string
	modTime time.Time
}

// Unpack extracts the archive at path into dir, creating dir if needed.
// Files ending in .zip are read as zip archives, anything else as a tarball,
// gzip-compressed or not.
func Unpack(ctx context.Context, path, dir string) error {
	if err := os.MkdirAll(dir, DefaultDirMode); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	root, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dir, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".zip") {
		return unpackZip(ctx, path, root)
	}

	return unpackTar(ctx, path, root)
}

// resolve maps an entry name to its location under root, following the
// symlinks unpacked so far. The last element of name is not followed.
func resolve(root, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("%s: %w", name, ErrPathTraversal)
	}

	parent, err := walk(root, filepath.Dir(clean))
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}

	if !within(root, parent) {
		return "", fmt.Errorf("%s: %w", name, ErrPathTraversal)
	}

	return filepath.Join(parent, filepath.Base(clean)), nil
}

// walk follows name from base one element at a time, resolving the
// elements that already exist on disk, and returns where it lands.
func walk(base, name string) (string, error) {
	current := base
	if filepath.IsAbs(name) {
		current = filepath.VolumeName(name) + string(filepath.Separator)
	}

	for _, element := range strings.Split(filepath.ToSlash(name), "/") {
		switch element {
		case "", ".":
			continue
		case "..":
			current = filepath.Dir(current)

			continue
		}

		next := filepath.Join(current, element)
		if _, err := os.Lstat(next); err != nil {
			current = next

			continue
		}

		resolved, err := filepath.EvalSymlinks(next)
		if err != nil {
			return "", err
		}

		current = resolved
	}

	return current, nil
}

// within reports whether path is root or lies below it.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)

	return err == nil && filepath.IsLocal(rel)
}

func unpackZip(ctx context.Context, path, dir string) error {
	reader, err := zip.OpenReader(path)
	if errors.Is(err, zip.ErrInsecurePath) {
		_ = reader.Close()

		return fmt.Errorf("open zip %s: %w", path, ErrPathTraversal)
	}

	if err != nil {
		return fmt.Errorf("open zip %s: %w", path, err)
	}

	defer func() {
		_ = reader.Close()
	}()

	var dirs []dirTime

	for _, file := range reader.File {
		if err = ctx.Err(); err != nil {
			return err
		}

		var target string

		target, err = resolve(dir, file.Name)
		if err != nil {
			return err
		}

		if file.FileInfo().IsDir() {
			if err = os.MkdirAll(target, DefaultDirMode); err != nil {
				return err
			}

			dirs = append(dirs, dirTime{target, file.Modified})

			continue
		}

		if err = extractZipFile(file, target); err != nil {
			return fmt.Errorf("extract %s: %w", file.Name, err)
		}
	}

	return restoreDirTimes(dirs)
}

// extractZipFile writes a zip member as a regular file.
// Symlink members are written with their link text as content.
func extractZipFile(file *zip.File, target string) error {
	src, err := file.Open()
	if err != nil {
		return err
	}

	defer func() {
		_ = src.Close()
	}()

	mode := file.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}

	if err = writeFile(target, src, mode); err != nil {
		return err
	}

	if file.Modified.IsZero() {
		return nil
	}

	return os.Chtimes(target, file.Modified, file.Modified)
}

func unpackTar(ctx context.Context, path, dir string) error {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("open tarball %s: %w", path, err)
	}

	defer func() {
		_ = file.Close()
	}()

	buffered := bufio.NewReader(file)

	var stream io.Reader = buffered

	if magic, _ := buffered.Peek(len(gzipMagic)); slices.Equal(magic, gzipMagic) {
		var gz *gzip.Reader

		gz, err = gzip.NewReader(buffered)
		if err != nil {
			return fmt.Errorf("open gzip stream %s: %w", path, err)
		}

		defer func() {
			_ = gz.Close()
		}()

		stream = gz
	}

	tarReader := tar.NewReader(stream)

	var dirs []dirTime

	for {
		if err = ctx.Err(); err != nil {
			return err
		}

		var header *tar.Header

		header, err = tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if errors.Is(err, tar.ErrInsecurePath) {
			// The header is still returned, resolve decides.
			err = nil
		}

		if err != nil {
			return fmt.Errorf("read tarball %s: %w", path, err)
		}

		var dirEntry *dirTime

		dirEntry, err = extractTarEntry(dir, header, tarReader)
		if err != nil {
			return fmt.Errorf("extract %s: %w", header.Name, err)
		}

		if dirEntry != nil {
			dirs = append(dirs, *dirEntry)
		}
	}

	return restoreDirTimes(dirs)
}

//nolint:cyclop // One branch per tar entry type reads best as a flat switch.
func extractTarEntry(dir string, header *tar.Header, content io.Reader) (*dirTime, error) {
	if header.Typeflag == tar.TypeXGlobalHeader {
		return nil, nil
	}

	target, err := resolve(dir, header.Name)
	if err != nil {
		return nil, err
	}

	mode := header.FileInfo().Mode() &^ maskedBits

	switch header.Typeflag {
	case tar.TypeDir:
		// An existing symlink is followed by MkdirAll.
		if landed, walkErr := walk(filepath.Dir(target), filepath.Base(target)); walkErr != nil || !within(dir, landed) {
			return nil, fmt.Errorf("directory through symlink: %w", ErrPathTraversal)
		}

		if err = os.MkdirAll(target, mode.Perm()|0o700); err != nil {
			return nil, err
		}

		return &dirTime{target, header.ModTime}, nil
	case tar.TypeReg:
		if err = writeFile(target, content, mode.Perm()|0o600); err != nil {
			return nil, err
		}
	case tar.TypeSymlink:
		// Relative links are resolved from the directory holding the link.
		landed, walkErr := walk(filepath.Dir(target), header.Linkname)
		if walkErr != nil || !within(dir, landed) {
			return nil, fmt.Errorf("symlink to %s: %w", header.Linkname, ErrPathTraversal)
		}

		if err = replaceWith(target, func() error { return os.Symlink(header.Linkname, target) }); err != nil {
			return nil, err
		}

		return nil, nil
	case tar.TypeLink:
		var source string

		source, err = resolve(dir, header.Linkname)
		if err != nil {
			return nil, err
		}

		if err = replaceWith(target, func() error { return os.Link(source, target) }); err != nil {
			return nil, err
		}

		return nil, nil
	default:
		return nil, fmt.Errorf("type %q: %w", header.Typeflag, ErrUnsupportedEntry)
	}

	return nil, os.Chtimes(target, header.ModTime, header.ModTime)
}

// writeFile replaces target with the content of src.
func writeFile(target string, src io.Reader, mode fs.FileMode) error {
	return replaceWith(target, func() error {
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
		if err != nil {
			return err
		}

		if _, err = io.Copy(out, src); err != nil {
			_ = out.Close()

			return err
		}

		return out.Close()
	})
}

// replaceWith makes room for target, then runs create.
func replaceWith(target string, create func() error) error {
	if err := os.MkdirAll(filepath.Dir(target), DefaultDirMode); err != nil {
		return err
	}

	if info, err := os.Lstat(target); err == nil && !info.IsDir() {
		if err = os.Remove(target); err != nil {
			return err
		}
	}

	return create()
}

// restoreDirTimes applies directory mtimes deepest first.
func restoreDirTimes(dirs []dirTime) error {
	for i := len(dirs) - 1; i >= 0; i-- {
		if dirs[i].modTime.IsZero() {
			continue
		}

		if err := os.Chtimes(dirs[i].path, dirs[i].modTime, dirs[i].modTime); err != nil {
			return err
		}
	}

	return nil
}
