// Package lock serializes shuttle invocations that share a state directory
// with an advisory flock on a lock file.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned by TryLock when another invocation holds the lock.
var ErrLocked = errors.New("another invocation is already running")

// File is an exclusive, non-blocking lock on a file. The lock is released
// by Unlock or when the process exits.
type File struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// New returns an unlocked lock on path. The file is created on first use.
func New(path string) *File {
	return &File{path: path}
}

// Path returns the lock file path.
func (l *File) Path() string {
	return l.path
}

// TryLock takes the lock or fails with ErrLocked without waiting.
func (l *File) TryLock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f != nil {
		return ErrLocked
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return ErrLocked
		}
		return fmt.Errorf("flock %s: %w", l.path, err)
	}

	// Record the holder for operators inspecting the file.
	_ = f.Truncate(0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())

	l.f = f
	return nil
}

// Unlock releases the lock. Unlocking an unlocked File is a no-op.
func (l *File) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil

	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		f.Close()
		return fmt.Errorf("unlock %s: %w", l.path, err)
	}
	return f.Close()
}

// Held reports whether any invocation, this one included, holds the lock.
func (l *File) Held() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f != nil {
		return true, nil
	}

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close()

	err = unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("probe %s: %w", l.path, err)
	}
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return false, nil
}
