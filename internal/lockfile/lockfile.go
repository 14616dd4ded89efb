// Package lockfile guards the data directory against accidental
// concurrent server starts. This is an exclusivity check, not
// cross-process coordination: a second rlm-mcp process pointed at the
// same data directory refuses to start instead of corrupting state.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Lock is a file lock over a data directory.
type Lock struct {
	path  string
	flock *flock.Flock
}

// New creates a lock for the given data directory. The lock file lives
// at <dir>/.rlm-mcp.lock.
func New(dir string) *Lock {
	path := filepath.Join(dir, ".rlm-mcp.lock")
	return &Lock{path: path, flock: flock.New(path)}
}

// Acquire takes the lock without blocking. It fails when another
// process already holds the data directory.
func (l *Lock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire data dir lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("data directory is locked by another rlm-mcp process (%s)", l.path)
	}
	return nil
}

// Release drops the lock and removes the lock file.
func (l *Lock) Release() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release data dir lock: %w", err)
	}
	_ = os.Remove(l.path)
	return nil
}
