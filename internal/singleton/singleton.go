// SPDX-License-Identifier: MPL-2.0

// Package singleton provides named locks that are exclusive across every
// process on the machine.
//
// Each name maps to a zero-byte lock file locked with the OS advisory lock
// (flock on Unix, LockFileEx on Windows). The kernel drops the lock when the
// holding descriptor is closed, including on a crash, so an abandoned lock is
// simply available to the next acquirer. The lock files are harmless if
// orphaned and are never deleted.
package singleton

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/voxstrap/voxstrap/internal/issue"
)

const (
	// Acquired means the caller holds the lock.
	Acquired Result = iota
	// TimedOut means the timeout elapsed while another holder kept the lock.
	TimedOut
	// Cancelled means the caller's context ended before the lock was free.
	Cancelled
)

const lockFilePrefix = "voxstrap-"

type (
	// Result is the outcome of an acquisition attempt.
	Result int

	// Coordinator hands out leases on named locks kept under one directory.
	Coordinator struct {
		dir    string
		logger *log.Logger
	}

	// Lease is a held lock. Release is idempotent and safe on a nil Lease.
	Lease struct {
		name   string
		mu     sync.Mutex
		file   *os.File
		logger *log.Logger
	}
)

// String returns the result's name.
func (r Result) String() string {
	switch r {
	case Acquired:
		return "acquired"
	case TimedOut:
		return "timed-out"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Err maps a non-Acquired result to the taxonomy, for callers that want an
// error value: TimedOut wraps issue.ErrLockTimeout, Cancelled wraps
// context.Canceled.
func (r Result) Err(name string) error {
	switch r {
	case Acquired:
		return nil
	case TimedOut:
		return fmt.Errorf("lock %q: %w", name, issue.ErrLockTimeout)
	case Cancelled:
		return fmt.Errorf("lock %q: %w", name, context.Canceled)
	}
	return fmt.Errorf("lock %q: unknown result %d", name, int(r))
}

// New creates a Coordinator keeping lock files in dir. An empty dir selects
// DefaultDir().
func New(dir string, logger *log.Logger) *Coordinator {
	if dir == "" {
		dir = DefaultDir()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{dir: dir, logger: logger.WithPrefix("singleton")}
}

// DefaultDir prefers $XDG_RUNTIME_DIR (per-user tmpfs) and falls back to
// os.TempDir().
func DefaultDir() string {
	return defaultDirWith(os.Getenv)
}

func defaultDirWith(getenv func(string) string) string {
	dir := getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return dir
}

// Path returns the lock file used for name.
func (c *Coordinator) Path(name string) string {
	return filepath.Join(c.dir, lockFilePrefix+sanitize(name)+".lock")
}

// Acquire waits until the named lock is free, timeout elapses, or ctx ends.
// A timeout <= 0 waits for ctx alone. The returned error is non-nil only
// when the lock file itself cannot be opened; contention is reported through
// Result.
//
// The blocking OS call runs on its own goroutine. If the caller gives up and
// that goroutine later obtains the lock, it releases it straight away.
func (c *Coordinator) Acquire(ctx context.Context, name string, timeout time.Duration) (*Lease, Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, Cancelled, nil
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return nil, TimedOut, fmt.Errorf("creating lock dir %s: %w", c.dir, err)
	}

	path := c.Path(name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, TimedOut, fmt.Errorf("open lock file %s: %w", path, err)
	}

	ok, err := tryLock(f)
	if err != nil {
		_ = f.Close()
		return nil, TimedOut, fmt.Errorf("lock %s: %w", path, err)
	}
	if ok {
		c.logger.Debug("lock acquired", "name", name)
		return &Lease{name: name, file: f, logger: c.logger}, Acquired, nil
	}

	c.logger.Debug("lock busy, waiting", "name", name, "timeout", timeout)

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- lockBlocking(f) }()

	select {
	case err := <-done:
		if err != nil {
			_ = f.Close()
			return nil, TimedOut, fmt.Errorf("lock %s: %w", path, err)
		}
		c.logger.Debug("lock acquired after wait", "name", name)
		return &Lease{name: name, file: f, logger: c.logger}, Acquired, nil

	case <-waitCtx.Done():
		go func() {
			if err := <-done; err == nil {
				_ = unlock(f)
			}
			_ = f.Close()
		}()
		if ctx.Err() != nil {
			return nil, Cancelled, nil
		}
		return nil, TimedOut, nil
	}
}

// Name returns the lock name the lease was acquired for.
func (l *Lease) Name() string {
	if l == nil {
		return ""
	}
	return l.name
}

// Held reports whether the lease still holds its lock.
func (l *Lease) Held() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file != nil
}

// Release unlocks and closes the lock file. Subsequent calls are no-ops.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	// Unlock before Close for explicitness; Close also drops the lock.
	if err := unlock(l.file); err != nil {
		l.logger.Debug("lock unlock failed", "name", l.name, "error", err)
	}
	if err := l.file.Close(); err != nil {
		l.logger.Debug("lock file close failed", "name", l.name, "error", err)
	}
	l.file = nil
}

// sanitize keeps lock names to a portable file-name alphabet.
func sanitize(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "default"
	}
	return b.String()
}
