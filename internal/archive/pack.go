package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	// rootOwner owns every entry of created tarballs.
	rootOwner = "root"

	// DefaultFileMode is used for created archives.
	DefaultFileMode fs.FileMode = 0o644
)

// Zip stores the content of srcDir into a new zip archive at dest.
// Entry names are relative to srcDir and directories get their own entries.
// Symlinks are followed.
func Zip(ctx context.Context, srcDir, dest string) (err error) {
	out, err := os.OpenFile(filepath.Clean(dest), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, DefaultFileMode)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}

	defer func() {
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
	}()

	writer := zip.NewWriter(out)

	err = filepath.WalkDir(srcDir, func(path string, _ fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, relErr := filepath.Rel(srcDir, path)
		if relErr != nil || rel == "." {
			return relErr
		}

		return addZipEntry(writer, path, filepath.ToSlash(rel))
	})
	if err != nil {
		return fmt.Errorf("zip %s: %w", srcDir, err)
	}

	return writer.Close()
}

func addZipEntry(writer *zip.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}

	header.Name = name

	if info.IsDir() {
		header.Name += "/"
		_, err = writer.CreateHeader(header)

		return err
	}

	header.Method = zip.Deflate

	entry, err := writer.CreateHeader(header)
	if err != nil {
		return err
	}

	return copyFrom(entry, path)
}

// TarGz stores the content of srcDir into a gzip-compressed tarball at dest.
// Entry names are prefixed with "./", owner and group are root.
func TarGz(ctx context.Context, srcDir, dest string) (err error) {
	out, err := os.OpenFile(filepath.Clean(dest), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, DefaultFileMode)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}

	defer func() {
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
	}()

	gz := gzip.NewWriter(out)
	writer := tar.NewWriter(gz)

	err = filepath.WalkDir(srcDir, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, relErr := filepath.Rel(srcDir, path)
		if relErr != nil {
			return relErr
		}

		return addTarEntry(writer, path, filepath.ToSlash(rel), entry)
	})
	if err != nil {
		return fmt.Errorf("tar %s: %w", srcDir, err)
	}

	if err = writer.Close(); err != nil {
		return err
	}

	return gz.Close()
}

func addTarEntry(writer *tar.Writer, path, name string, entry fs.DirEntry) error {
	info, err := entry.Info()
	if err != nil {
		return err
	}

	var link string

	if info.Mode()&fs.ModeSymlink != 0 {
		if link, err = os.Readlink(path); err != nil {
			return err
		}
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}

	header.Name = "."
	if name != "." {
		header.Name = "./" + name
	}

	if info.IsDir() {
		header.Name += "/"
	}

	header.Uid, header.Gid = 0, 0
	header.Uname, header.Gname = rootOwner, rootOwner

	if err = writer.WriteHeader(header); err != nil {
		return err
	}

	if !info.Mode().IsRegular() {
		return nil
	}

	return copyFrom(writer, path)
}

func copyFrom(dst io.Writer, path string) error {
	src, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}

	defer func() {
		_ = src.Close()
	}()

	_, err = io.Copy(dst, src)

	return err
}
