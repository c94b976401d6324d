package packager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/ocp-packager/internal/archive"
	"github.com/oshokin/ocp-packager/internal/bundle"
	"github.com/oshokin/ocp-packager/internal/logger"
	"github.com/oshokin/ocp-packager/internal/manifest"
)

// publish checksums every bundle, copies them to the output directory when
// one is configured, and writes the manifest next to them.
func (r *runner) publish(ctx context.Context) error {
	catalog := manifest.New(r.versions())

	if r.cfg.OutputDir != "" {
		if err := os.MkdirAll(r.cfg.OutputDir, archive.DefaultDirMode); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	for _, artifact := range r.artifacts {
		checksum, err := catalog.Add(artifact.Path, artifact.ModTime)
		if err != nil {
			return fmt.Errorf("checksum %s: %w", artifact.Name, err)
		}

		if r.cfg.OutputDir == "" {
			continue
		}

		target := filepath.Join(r.cfg.OutputDir, filepath.Base(artifact.Path))
		if err = publishArtifact(ctx, artifact, target, checksum); err != nil {
			return err
		}

		artifact.Path = target
	}

	logger.InfoKV(ctx, "Saving the bundle manifest", "path", r.manifestPath())

	return manifest.Save(r.manifestPath(), catalog)
}

// publishArtifact atomically replaces target with the bundle, verifying the
// written bytes against checksum, then restores the bundle date.
func publishArtifact(ctx context.Context, artifact *bundle.Artifact, target string, checksum []byte) error {
	logger.InfoKV(ctx, "Publishing bundle", "bundle", artifact.Name, "path", target)

	// The target must exist to be replaced.
	if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
		placeholder, createErr := os.Create(filepath.Clean(target))
		if createErr != nil {
			return createErr
		}

		if createErr = placeholder.Close(); createErr != nil {
			return createErr
		}
	}

	source, err := os.Open(filepath.Clean(artifact.Path))
	if err != nil {
		return err
	}

	defer func() {
		_ = source.Close()
	}()

	options := goupdate.Options{
		TargetPath: target,
		TargetMode: archive.DefaultFileMode,
		Checksum:   checksum,
		Hash:       manifest.ChecksumFunction,
	}

	if err = goupdate.Apply(source, options); err != nil {
		return fmt.Errorf("publish %s: %w", artifact.Name, err)
	}

	if artifact.ModTime.IsZero() {
		return nil
	}

	return os.Chtimes(target, artifact.ModTime, artifact.ModTime)
}
