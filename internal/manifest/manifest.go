// Package manifest records the published bundles with their checksums, so
// mirrors and users can verify what they download.
package manifest

import (
	"crypto"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/ocp-packager/internal/version"

	// Ensure SHA512 available for checksum calculation.
	_ "crypto/sha512"
)

const (
	// Filename is the manifest written next to the published bundles.
	Filename = "ocp-manifest.yaml"

	// ChecksumFunction hashes bundles.
	ChecksumFunction crypto.Hash = crypto.SHA512

	// fileMode is used for the manifest file.
	fileMode os.FileMode = 0o644
)

var errHashUnavailable = errors.New("hash function unavailable")

// Entry describes a single bundle.
type Entry struct {
	// Checksum is the base64-encoded SHA-512 of the bundle.
	Checksum string `yaml:"sha512"`
	// Size is the bundle size in bytes.
	Size int64 `yaml:"size"`
	// ModTime is the date the bundle carries.
	ModTime time.Time `yaml:"mtime"`
}

// Manifest lists the bundles of a packaging run.
type Manifest struct {
	// Packager is the packager version that produced the bundles.
	Packager string `yaml:"packager"`
	// Versions maps bundled projects to their versions.
	Versions map[string]string `yaml:"versions"`
	// Bundles maps bundle file names to their description.
	Bundles map[string]Entry `yaml:"bundles"`
}

// New creates an empty manifest for the given project versions.
func New(versions map[string]string) *Manifest {
	return &Manifest{
		Packager: version.Short(),
		Versions: versions,
		Bundles:  make(map[string]Entry),
	}
}

// Add records the bundle at path under its base name.
func (m *Manifest) Add(path string, modTime time.Time) ([]byte, error) {
	checksum, err := Checksum(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	m.Bundles[filepath.Base(path)] = Entry{
		Checksum: base64.StdEncoding.EncodeToString(checksum),
		Size:     info.Size(),
		ModTime:  modTime.UTC(),
	}

	return checksum, nil
}

// Checksum streams the file at path through ChecksumFunction.
func Checksum(path string) ([]byte, error) {
	if !ChecksumFunction.Available() {
		return nil, fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = file.Close()
	}()

	hasher := ChecksumFunction.New()
	if _, err = io.Copy(hasher, file); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}

// Save writes the manifest as YAML.
func Save(path string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), data, fileMode); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	return nil
}

// Load reads a manifest written by Save.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err = yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}

	return &m, nil
}
