package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stamp is a second-aligned mtime that survives both archive formats.
var stamp = time.Date(2024, time.March, 2, 10, 20, 30, 0, time.UTC) //nolint:gochecknoglobals // Test fixture.

// writeTree creates a small KFMon-like tree under dir.
func writeTree(t *testing.T, dir string) {
	t.Helper()

	files := map[string]string{
		".kobo/KoboRoot.tgz":              "koboroot",
		".adds/kfmon/config/kfmon.ini":    "[global]\n",
		".adds/kfmon/config/plato.ini":    "[watch]\n",
		"icons/plato.png":                 "png",
		"kfmon.png":                       "png",
		".adds/kfmon/bin/kfmon-update.sh": "#!/bin/sh\n",
	}

	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		require.NoError(t, os.Chtimes(path, stamp, stamp))
	}

	require.NoError(t, os.Chmod(filepath.Join(dir, ".adds/kfmon/bin/kfmon-update.sh"), 0o755))
}

// TestZipRoundtrip packs a tree into a zip and unpacks it elsewhere.
func TestZipRoundtrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := filepath.Join(t.TempDir(), "src")
	writeTree(t, src)

	dest := filepath.Join(t.TempDir(), "bundle.zip")
	require.NoError(t, Zip(ctx, src, dest))

	reader, err := zip.OpenReader(dest)
	require.NoError(t, err)

	names := make([]string, 0, len(reader.File))
	for _, f := range reader.File {
		names = append(names, f.Name)
	}

	require.NoError(t, reader.Close())
	require.Contains(t, names, ".adds/")
	require.Contains(t, names, ".adds/kfmon/config/kfmon.ini")
	require.NotContains(t, names, "./.adds/kfmon/config/kfmon.ini")

	out := t.TempDir()
	require.NoError(t, Unpack(ctx, dest, out))

	content, err := os.ReadFile(filepath.Join(out, ".adds/kfmon/config/plato.ini"))
	require.NoError(t, err)
	require.Equal(t, "[watch]\n", string(content))

	info, err := os.Stat(filepath.Join(out, "kfmon.png"))
	require.NoError(t, err)
	require.True(t, stamp.Equal(info.ModTime()), info.ModTime())

	info, err = os.Stat(filepath.Join(out, ".adds/kfmon/bin/kfmon-update.sh"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

// TestTarGzRoundtrip checks entry naming, ownership and extraction of tarballs.
func TestTarGzRoundtrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := filepath.Join(t.TempDir(), "src")
	writeTree(t, src)
	require.NoError(t, os.Symlink("kfmon.png", filepath.Join(src, "alias.png")))

	dest := filepath.Join(t.TempDir(), "KoboRoot.tar.gz")
	require.NoError(t, TarGz(ctx, src, dest))

	file, err := os.Open(dest)
	require.NoError(t, err)

	defer file.Close()

	gz, err := gzip.NewReader(file)
	require.NoError(t, err)

	tarReader := tar.NewReader(gz)
	headers := make(map[string]*tar.Header)

	for {
		header, nextErr := tarReader.Next()
		if nextErr == io.EOF {
			break
		}

		require.NoError(t, nextErr)
		require.Equal(t, 0, header.Uid)
		require.Equal(t, "root", header.Uname)
		require.Equal(t, "root", header.Gname)
		headers[header.Name] = header
	}

	require.Contains(t, headers, "./")
	require.Contains(t, headers, "./.kobo/")
	require.Contains(t, headers, "./.kobo/KoboRoot.tgz")
	require.Equal(t, byte(tar.TypeSymlink), headers["./alias.png"].Typeflag)

	out := t.TempDir()
	require.NoError(t, Unpack(ctx, dest, out))

	link, err := os.Readlink(filepath.Join(out, "alias.png"))
	require.NoError(t, err)
	require.Equal(t, "kfmon.png", link)

	content, err := os.ReadFile(filepath.Join(out, ".kobo/KoboRoot.tgz"))
	require.NoError(t, err)
	require.Equal(t, "koboroot", string(content))
}

// TestUnpackOverwrites merges a second archive on top of an existing tree.
func TestUnpackOverwrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	out := t.TempDir()

	first := writeTar(t, false, &tar.Header{Name: "./usr/local/kfmon/bin/kfmon", Mode: 0o755}, "old")
	second := writeTar(t, true, &tar.Header{Name: "./usr/local/kfmon/bin/kfmon", Mode: 0o4755}, "new")

	require.NoError(t, Unpack(ctx, first, out))
	require.NoError(t, Unpack(ctx, second, out))

	path := filepath.Join(out, "usr/local/kfmon/bin/kfmon")
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "new", string(content))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Zero(t, info.Mode()&os.ModeSetuid)
}

// TestUnpackRejectsEscapes covers traversal attempts and special files.
func TestUnpackRejectsEscapes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	cases := map[string]struct {
		archive string
		wantErr error
	}{
		"tar parent": {
			archive: writeTar(t, true, &tar.Header{Name: "../evil", Mode: 0o644}, "x"),
			wantErr: ErrPathTraversal,
		},
		"tar absolute": {
			archive: writeTar(t, true, &tar.Header{Name: "/etc/evil", Mode: 0o644}, "x"),
			wantErr: ErrPathTraversal,
		},
		"tar symlink out": {
			archive: writeTar(t, true, &tar.Header{
				Name: "./link", Typeflag: tar.TypeSymlink, Linkname: "../../etc/passwd",
			}, ""),
			wantErr: ErrPathTraversal,
		},
		"tar device": {
			archive: writeTar(t, true, &tar.Header{Name: "./null", Typeflag: tar.TypeChar, Mode: 0o666}, ""),
			wantErr: ErrUnsupportedEntry,
		},
		"zip parent": {
			archive: writeZip(t, "../../evil.txt"),
			wantErr: ErrPathTraversal,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			err := Unpack(ctx, tc.archive, filepath.Join(t.TempDir(), "out"))
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

// TestUnpackRejectsSymlinkChains covers links that only escape once the
// symlinks unpacked before them are followed.
func TestUnpackRejectsSymlinkChains(t *testing.T) {
	t.Parallel()

	cases := map[string][]tarEntry{
		"link below a self link": {
			{header: &tar.Header{Name: "a", Typeflag: tar.TypeSymlink, Linkname: "."}},
			{header: &tar.Header{Name: "a/b", Typeflag: tar.TypeSymlink, Linkname: "../outside"}},
			{header: &tar.Header{Name: "b/evil", Mode: 0o644}, content: "pwnd"},
		},
		"dangling link resolved later": {
			{header: &tar.Header{Name: "c", Typeflag: tar.TypeSymlink, Linkname: "x/../outside"}},
			{header: &tar.Header{Name: "x", Typeflag: tar.TypeSymlink, Linkname: "."}},
			{header: &tar.Header{Name: "c/evil", Mode: 0o644}, content: "pwnd"},
		},
		"directory through a link": {
			{header: &tar.Header{Name: "c", Typeflag: tar.TypeSymlink, Linkname: "x/../outside"}},
			{header: &tar.Header{Name: "x", Typeflag: tar.TypeSymlink, Linkname: "."}},
			{header: &tar.Header{Name: "c", Typeflag: tar.TypeDir, Mode: 0o755}},
		},
	}

	for name, entries := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			root := t.TempDir()
			outside := filepath.Join(root, "outside")
			require.NoError(t, os.Mkdir(outside, 0o755))

			err := Unpack(context.Background(), writeTarEntries(t, entries...), filepath.Join(root, "stage"))
			require.ErrorIs(t, err, ErrPathTraversal)
			require.NoFileExists(t, filepath.Join(outside, "evil"))

			info, err := os.Stat(outside)
			require.NoError(t, err)
			require.False(t, info.ModTime().Equal(stamp))
		})
	}
}

// TestUnpackFollowsInnerSymlinks keeps links that stay inside the tree.
func TestUnpackFollowsInnerSymlinks(t *testing.T) {
	t.Parallel()

	out := t.TempDir()

	require.NoError(t, Unpack(context.Background(), writeTarEntries(t,
		tarEntry{header: &tar.Header{Name: "lib", Typeflag: tar.TypeDir, Mode: 0o755}},
		tarEntry{header: &tar.Header{Name: "current", Typeflag: tar.TypeSymlink, Linkname: "lib"}},
		tarEntry{header: &tar.Header{Name: "current/libnm.so", Mode: 0o644}, content: "nm"},
		tarEntry{header: &tar.Header{Name: "lib/alias", Typeflag: tar.TypeSymlink, Linkname: "../current/libnm.so"}},
	), out))

	content, err := os.ReadFile(filepath.Join(out, "lib", "libnm.so"))
	require.NoError(t, err)
	require.Equal(t, "nm", string(content))

	content, err = os.ReadFile(filepath.Join(out, "lib", "alias"))
	require.NoError(t, err)
	require.Equal(t, "nm", string(content))
}

// TestUnpackCanceled ensures a canceled context stops extraction.
func TestUnpackCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	archive := writeTar(t, true, &tar.Header{Name: "./a", Mode: 0o644}, "a")
	require.ErrorIs(t, Unpack(ctx, archive, t.TempDir()), context.Canceled)
}

// tarEntry is one member of a test tarball.
type tarEntry struct {
	header  *tar.Header
	content string
}

// writeTar writes a single-entry tarball and returns its path.
func writeTar(t *testing.T, compress bool, header *tar.Header, content string) string {
	t.Helper()

	return writeTarball(t, compress, tarEntry{header: header, content: content})
}

// writeTarEntries writes a gzipped tarball holding entries in order.
func writeTarEntries(t *testing.T, entries ...tarEntry) string {
	t.Helper()

	return writeTarball(t, true, entries...)
}

func writeTarball(t *testing.T, compress bool, entries ...tarEntry) string {
	t.Helper()

	var buf bytes.Buffer

	var sink io.Writer = &buf

	var gz *gzip.Writer

	if compress {
		gz = gzip.NewWriter(&buf)
		sink = gz
	}

	writer := tar.NewWriter(sink)

	for _, entry := range entries {
		header := entry.header
		if header.Typeflag == 0 {
			header.Typeflag = tar.TypeReg
		}

		header.Size = int64(len(entry.content))
		header.ModTime = stamp
		require.NoError(t, writer.WriteHeader(header))

		_, err := writer.Write([]byte(entry.content))
		require.NoError(t, err)
	}

	require.NoError(t, writer.Close())

	if gz != nil {
		require.NoError(t, gz.Close())
	}

	path := filepath.Join(t.TempDir(), "entry.tgz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	return path
}

// writeZip writes a single-entry zip archive and returns its path.
func writeZip(t *testing.T, name string) string {
	t.Helper()

	var buf bytes.Buffer

	writer := zip.NewWriter(&buf)

	entry, err := writer.Create(name)
	require.NoError(t, err)

	_, err = entry.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	path := filepath.Join(t.TempDir(), "entry.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	return path
}
