package kfmon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestFind_NotFound verifies an empty directory is reported.
func TestFind_NotFound(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "KFMon-1.4.6.zip"), nil, 0o644))

	pkg, err := Find(dir)
	require.ErrorIs(t, err, ErrPackageNotFound)
	require.Nil(t, pkg)
}

// TestFind_PicksLatest checks version extraction, mtime and natural ordering.
func TestFind_PicksLatest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	stamp := time.Date(2023, time.July, 1, 12, 0, 0, 0, time.UTC)

	for _, name := range []string{"KFMon-v1.4.6-9-gabcdef.zip", "KFMon-v1.4.10.zip", "KFMon-v1.4.9.zip"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(name), 0o644))
		require.NoError(t, os.Chtimes(path, stamp, stamp))
	}

	pkg, err := Find(dir)
	require.NoError(t, err)
	require.Equal(t, "1.4.10", pkg.Version)
	require.True(t, filepath.IsAbs(pkg.Path))
	require.Equal(t, "KFMon-v1.4.10.zip", filepath.Base(pkg.Path))
	require.True(t, stamp.Equal(pkg.ModTime))
}
