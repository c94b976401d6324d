package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/ocp-packager/internal/logger"
)

// MarkerFilename is the lock marker created in the guarded directory.
const MarkerFilename = "ocp-packager.lock"

// markerMode restricts the marker to its owner.
const markerMode os.FileMode = 0o600

// ErrLocked is returned when a live process owns the directory.
var ErrLocked = errors.New("another packaging run is in progress")

// ProcessFinder reports whether a PID belongs to a running process.
type ProcessFinder func(pid int) (bool, error)

// FileLock is a PID marker file.
type FileLock struct {
	// path is the marker location.
	path string
	// alive checks marker owners.
	alive ProcessFinder
}

// NewFileLock creates a lock for dir. A nil finder uses the process table.
func NewFileLock(dir string, alive ProcessFinder) *FileLock {
	if alive == nil {
		alive = processAlive
	}

	return &FileLock{
		path:  filepath.Join(filepath.Clean(dir), MarkerFilename),
		alive: alive,
	}
}

// Path returns the marker location.
func (l *FileLock) Path() string {
	return l.path
}

// Acquire creates the marker, taking over stale ones.
func (l *FileLock) Acquire(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil { //nolint:mnd // Plain directory mode.
		return fmt.Errorf("create lock directory: %w", err)
	}

	for range 2 {
		err := l.create()
		if err == nil {
			logger.DebugKV(ctx, "Lock acquired", "path", l.path)
			return nil
		}

		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create lock marker: %w", err)
		}

		if err = l.takeOverStale(ctx); err != nil {
			return err
		}
	}

	return fmt.Errorf("%s: %w", l.path, ErrLocked)
}

// Release removes the marker.
func (l *FileLock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock marker: %w", err)
	}

	return nil
}

func (l *FileLock) create() error {
	marker, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, markerMode)
	if err != nil {
		return err
	}

	if _, err = marker.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		_ = marker.Close()

		return err
	}

	return marker.Close()
}

// takeOverStale removes the marker unless its owner still runs.
func (l *FileLock) takeOverStale(ctx context.Context) error {
	contents, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("read lock marker: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err == nil {
		var alive bool

		alive, err = l.alive(pid)
		if err != nil {
			return fmt.Errorf("look up lock owner %d: %w", pid, err)
		}

		if alive {
			return fmt.Errorf("%s held by pid %d: %w", l.path, pid, ErrLocked)
		}
	}

	logger.InfoKV(ctx, "The lock marker is stale, taking it over", "path", l.path)

	if err = os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale lock marker: %w", err)
	}

	return nil
}

// processAlive looks pid up in the process table.
func processAlive(pid int) (bool, error) {
	process, err := ps.FindProcess(pid)
	if err != nil {
		return false, err
	}

	return process != nil, nil
}
