// Package bundle provides optional file-backed tracking of a policy
// document on disk, for deployments that want Policy Store Reload() to
// mean "re-read the file" rather than "no-op against the database".
package bundle

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
)

// ErrNotBound is returned by Read when no file path has been configured.
var ErrNotBound = errors.New("bundle: no file bound")

// FileBundle tracks a single on-disk policy document. It provides atomic
// writes (write-tmp-then-rename), cross-process locking via flock, and a
// permission warning identical in spirit to a state-file store, scaled
// down to the one artifact this module needs to survive a restart without
// a database round trip: the text of the active policy bundle.
type FileBundle struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// New creates a FileBundle bound to path. An empty path means Reload()
// from file is disabled; Read always returns ErrNotBound in that case.
func New(path string, logger *slog.Logger) *FileBundle {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileBundle{path: path, logger: logger}
}

// Bound reports whether this bundle is tied to a file path.
func (b *FileBundle) Bound() bool {
	return b.path != ""
}

// Read returns the current file contents.
func (b *FileBundle) Read() ([]byte, error) {
	if b.path == "" {
		return nil, ErrNotBound
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.path)
	if err != nil {
		return nil, fmt.Errorf("read policy bundle: %w", err)
	}

	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(b.path); statErr == nil {
			if mode := info.Mode().Perm(); mode&0077 != 0 {
				b.logger.Warn("policy bundle file has too-open permissions, should be 0600",
					"path", b.path, "current_mode", fmt.Sprintf("%04o", mode))
			}
		}
	}
	return data, nil
}

// Write persists data atomically: write to a temp file, fsync, rename
// over the target, guarded by an exclusive flock so two processes never
// interleave writes.
func (b *FileBundle) Write(data []byte) error {
	if b.path == "" {
		return ErrNotBound
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	lockPath := b.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open bundle lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return fmt.Errorf("acquire bundle lock: %w", err)
	}
	defer flockUnlock(lockFile.Fd()) //nolint:errcheck

	tmpPath := b.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp bundle file: %w", err)
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}
	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp bundle file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp bundle file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp bundle file: %w", err)
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp bundle file: %w", err)
	}
	if err := os.Chmod(b.path, 0600); err != nil {
		b.logger.Warn("failed to set permissions on policy bundle", "error", err)
	}
	b.logger.Debug("policy bundle written", "path", b.path)
	return nil
}

// Path returns the configured file path.
func (b *FileBundle) Path() string {
	return b.path
}
