// Package lock provides cross-process advisory file locking, used to
// enforce the chunk store's single-writer contract across concurrent
// codelens processes touching the same workspace.
package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileLock wraps gofrs/flock's advisory locking. It works across platforms
// (Unix, Linux, macOS, Windows) and degrades gracefully if the underlying
// filesystem doesn't support locking.
type FileLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// New creates a file lock at the given path (e.g.
// ".codelens-context/codelens.lock"). The lock file is created lazily on
// first Lock/TryLock call.
func New(path string) *FileLock {
	return &FileLock{path: path, flock: flock.New(path)}
}

// Lock acquires an exclusive lock, blocking until it is available.
func (l *FileLock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	l.locked = true
	return nil
}

// TryLock attempts to acquire the lock without blocking.
func (l *FileLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the lock. Safe to call multiple times or when unlocked.
func (l *FileLock) Unlock() error {
	if !l.locked {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	l.locked = false
	return nil
}

// Path returns the lock file's path.
func (l *FileLock) Path() string {
	return l.path
}

// IsLocked reports whether this instance currently holds the lock.
func (l *FileLock) IsLocked() bool {
	return l.locked
}
