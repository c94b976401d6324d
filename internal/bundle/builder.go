package bundle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/oshokin/ocp-packager/internal/archive"
	"github.com/oshokin/ocp-packager/internal/logger"
)

// errNotEmpty is returned when a directory scheduled for removal still has content.
var errNotEmpty = errors.New("directory is not empty")

// Payload is an archive unpacked into the staged tree.
type Payload struct {
	// Archive is the path of the archive.
	Archive string
	// Into is the destination, relative to the staged tree root.
	Into string
}

// Recipe describes how to derive a bundle from the KFMon package.
// Paths are slash-separated and relative to the staged tree root.
type Recipe struct {
	// Name is the bundle file name, without the .zip extension.
	Name string
	// Remove lists KFMon files deleted before anything is added.
	Remove []string
	// RemoveDirs lists directories deleted after Remove, they must be empty by then.
	RemoveDirs []string
	// NMShards lists NickelMenu config shards copied into .adds/nm.
	NMShards []string
	// Payloads are unpacked in order on top of the tree.
	Payloads []Payload
	// Cleanup lists files deleted once payloads are unpacked.
	Cleanup []string
	// ModTime is applied to the finished bundle.
	ModTime time.Time
}

// Artifact is a finished bundle.
type Artifact struct {
	// Name is the bundle file name, without the .zip extension.
	Name string
	// Path is the location of the zip.
	Path string
	// ModTime is the date the bundle carries.
	ModTime time.Time
}

// Builder stages and zips bundles in a work directory.
type Builder struct {
	// workDir receives staging trees and finished bundles.
	workDir string
	// kfmonPackage is the KFMon install package every bundle starts from.
	kfmonPackage string
	// koboRoot is the KoboRoot tarball merged with NickelMenu.
	koboRoot string
	// nmConfigDir holds the NickelMenu config shards.
	nmConfigDir string
}

// NewBuilder creates a Builder.
func NewBuilder(workDir, kfmonPackage, koboRoot, nmConfigDir string) *Builder {
	return &Builder{
		workDir:      workDir,
		kfmonPackage: kfmonPackage,
		koboRoot:     koboRoot,
		nmConfigDir:  nmConfigDir,
	}
}

// Build stages recipe and zips it into <workDir>/<Name>.zip.
// The staging tree is removed afterwards, even on failure.
func (b *Builder) Build(ctx context.Context, recipe *Recipe) (*Artifact, error) {
	ctx = logger.WithKV(ctx, "bundle", recipe.Name)
	stage := filepath.Join(b.workDir, recipe.Name+".stage")

	if err := os.RemoveAll(stage); err != nil {
		return nil, fmt.Errorf("clear staging tree: %w", err)
	}

	defer func() {
		if err := os.RemoveAll(stage); err != nil {
			logger.WarnKV(ctx, "Staging tree left behind", "path", stage, "error", err)
		}
	}()

	logger.Info(ctx, "Staging it")

	if err := b.stage(ctx, stage, recipe); err != nil {
		return nil, fmt.Errorf("stage %s: %w", recipe.Name, err)
	}

	logger.Info(ctx, "Bundling it")

	artifact := &Artifact{
		Name:    recipe.Name,
		Path:    filepath.Join(b.workDir, recipe.Name+".zip"),
		ModTime: recipe.ModTime,
	}

	if err := archive.Zip(ctx, stage, artifact.Path); err != nil {
		return nil, err
	}

	if !recipe.ModTime.IsZero() {
		if err := os.Chtimes(artifact.Path, recipe.ModTime, recipe.ModTime); err != nil {
			return nil, fmt.Errorf("restore mtime: %w", err)
		}
	}

	return artifact, nil
}

func (b *Builder) stage(ctx context.Context, stage string, recipe *Recipe) error {
	if err := archive.Unpack(ctx, b.kfmonPackage, stage); err != nil {
		return fmt.Errorf("unpack KFMon: %w", err)
	}

	if err := removeFiles(stage, recipe.Remove); err != nil {
		return err
	}

	for _, dir := range recipe.RemoveDirs {
		if err := removeEmptyDir(filepath.Join(stage, filepath.FromSlash(dir))); err != nil {
			return err
		}
	}

	if err := copyFile(b.koboRoot, filepath.Join(stage, filepath.FromSlash(koboRootPath)), false); err != nil {
		return fmt.Errorf("install merged KoboRoot: %w", err)
	}

	if len(recipe.NMShards) > 0 {
		shardDir := filepath.Join(stage, filepath.FromSlash(nmShardDir))

		for _, shard := range recipe.NMShards {
			if err := copyFile(filepath.Join(b.nmConfigDir, shard), filepath.Join(shardDir, shard), true); err != nil {
				return fmt.Errorf("add NickelMenu shard %s: %w", shard, err)
			}
		}
	}

	for _, payload := range recipe.Payloads {
		logger.DebugKV(ctx, "Unpacking payload", "archive", payload.Archive, "into", payload.Into)

		if err := archive.Unpack(ctx, payload.Archive, filepath.Join(stage, filepath.FromSlash(payload.Into))); err != nil {
			return fmt.Errorf("unpack %s: %w", filepath.Base(payload.Archive), err)
		}
	}

	return removeFiles(stage, recipe.Cleanup)
}

// MergeKoboRoot unpacks the KoboRoot tarball shipped in the KFMon package and
// the NickelMenu one into a single tree under dir, and tars it back as
// <dir>/KoboRoot.tar.gz. NickelMenu files win on conflicts.
func MergeKoboRoot(ctx context.Context, kfmonPackage, nickelMenu, dir string) (string, error) {
	logger.Info(ctx, "Merging NickelMenu with KFMon")

	if err := archive.Unpack(ctx, kfmonPackage, dir); err != nil {
		return "", fmt.Errorf("unpack KFMon: %w", err)
	}

	tree := filepath.Join(dir, mergedKoboRootDir)

	if err := archive.Unpack(ctx, filepath.Join(dir, filepath.FromSlash(koboRootPath)), tree); err != nil {
		return "", fmt.Errorf("unpack KFMon KoboRoot: %w", err)
	}

	if err := archive.Unpack(ctx, nickelMenu, tree); err != nil {
		return "", fmt.Errorf("unpack NickelMenu KoboRoot: %w", err)
	}

	merged := filepath.Join(dir, mergedKoboRoot)
	if err := archive.TarGz(ctx, tree, merged); err != nil {
		return "", err
	}

	return merged, nil
}

// removeFiles deletes files that must exist.
func removeFiles(root string, names []string) error {
	for _, name := range names {
		if err := os.Remove(filepath.Join(root, filepath.FromSlash(name))); err != nil {
			return fmt.Errorf("filter out %s: %w", name, err)
		}
	}

	return nil
}

// removeEmptyDir deletes a directory that must exist and be empty.
func removeEmptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("filter out %s: %w", dir, err)
	}

	if len(entries) > 0 {
		return fmt.Errorf("filter out %s: %w", dir, errNotEmpty)
	}

	return os.Remove(dir)
}

// copyFile copies src to dst, creating parent directories.
// With preserve the mode and mtime of src are applied to dst.
func copyFile(src, dst string, preserve bool) (err error) {
	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}

	defer func() {
		_ = in.Close()
	}()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	if err = os.MkdirAll(filepath.Dir(dst), archive.DefaultDirMode); err != nil {
		return err
	}

	mode := archive.DefaultFileMode
	if preserve {
		mode = info.Mode().Perm()
	}

	out, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()

		return err
	}

	if err = out.Close(); err != nil {
		return err
	}

	if !preserve {
		return nil
	}

	if err = os.Chmod(dst, mode); err != nil {
		return err
	}

	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
