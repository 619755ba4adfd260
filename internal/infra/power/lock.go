// Package power keeps the host from running two monitors at once and marks
// the process as busy while a session is active.
package power

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/rescuewatch/rescue-monitor/internal/biz/repo"
)

// ErrLocked means another process holds the lock.
var ErrLocked = errors.New("wake lock held by another process")

// FileLock is an exclusive advisory lock on a file, held for the life of a
// session.
type FileLock struct {
	path string
	log  *zap.Logger

	mu sync.Mutex
	f  *os.File
}

var _ repo.ResourceSupervisor = (*FileLock)(nil)

// NewFileLock creates a lock backed by path.
func NewFileLock(path string, log *zap.Logger) *FileLock {
	return &FileLock{path: path, log: log.Named("power")}
}

// Acquire takes the lock without blocking.
func (l *FileLock) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
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

	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)

	l.f = f
	l.log.Info("wake lock acquired", zap.String("path", l.path))
	return nil
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (l *FileLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}

	f := l.f
	l.f = nil
	unlockErr := unix.Flock(int(f.Fd()), unix.LOCK_UN)
	closeErr := f.Close()
	l.log.Info("wake lock released", zap.String("path", l.path))
	return errors.Join(unlockErr, closeErr)
}

// Held reports whether this process holds the lock.
func (l *FileLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f != nil
}

// Nop never blocks; used when no lock path is configured.
type Nop struct{}

var _ repo.ResourceSupervisor = Nop{}

func (Nop) Acquire(context.Context) error { return nil }
func (Nop) Release() error                { return nil }
