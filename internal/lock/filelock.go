package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// staleAfter is the age at which an existing lock file is presumed abandoned
// by a crashed process and forcibly removed.
const staleAfter = 5 * time.Minute

// FileLocker implements Locker using exclusive lock-file creation. It
// coordinates any set of processes that share the lock directory: creation
// with O_EXCL is atomic on all supported platforms and network filesystems
// that honour it.
type FileLocker struct {
	dir        string
	retryDelay time.Duration
	retryCount int
}

// NewFileLocker creates a locker that places lock files in dir. A zero
// retryDelay or retryCount selects the package defaults.
func NewFileLocker(dir string, retryDelay time.Duration, retryCount int) (*FileLocker, error) {
	if dir == "" {
		return nil, fmt.Errorf("lock directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	if retryCount <= 0 {
		retryCount = DefaultRetryCount
	}
	return &FileLocker{dir: dir, retryDelay: retryDelay, retryCount: retryCount}, nil
}

// Acquire attempts to create the lock file exclusively, retrying with a fixed
// delay until the retry budget is exhausted or ctx is cancelled.
func (l *FileLocker) Acquire(ctx context.Context, resource string) (Handle, error) {
	path := filepath.Join(l.dir, ResourceKey(resource)+".lock")

	for attempt := 0; attempt < l.retryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", ErrNotAcquired, ctx.Err())
			case <-time.After(l.retryDelay):
			}
		}

		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			// Content is informational only: it identifies the holder when
			// operators inspect a contended lock.
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
			_ = f.Close()
			return &fileHandle{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("%w: creating lock file %s: %w", ErrNotAcquired, path, err)
		}

		l.reclaimStale(path)
	}

	return nil, fmt.Errorf("%w: %s held after %d attempts", ErrNotAcquired, path, l.retryCount)
}

// reclaimStale removes a lock file whose holder appears to have died without
// releasing it. Age is the only portable signal available.
//
// The candidate is renamed aside before removal: rename is atomic, so a lock
// acquired by another process between the age check and the rename is moved
// intact, re-checked, and put back rather than deleted.
func (l *FileLocker) reclaimStale(path string) {
	info, err := os.Stat(path)
	if err != nil || time.Since(info.ModTime()) < staleAfter {
		return
	}
	l.removeAside(path)
}

// removeAside moves the reclaim candidate to a process-unique name, re-checks
// its age there, and deletes it only when it is still stale. A fresh file
// means the rename raced with a new acquisition, so it is put back.
func (l *FileLocker) removeAside(path string) {
	aside := fmt.Sprintf("%s.reclaim-%d", path, os.Getpid())
	if err := os.Rename(path, aside); err != nil {
		return
	}

	moved, err := os.Stat(aside)
	if err == nil && time.Since(moved.ModTime()) < staleAfter {
		_ = os.Rename(aside, path)
		return
	}

	if err := os.Remove(aside); err == nil {
		log.Warn().Str("path", path).Msg("removed stale lock file")
	}
}

type fileHandle struct {
	mu       sync.Mutex
	path     string
	released bool
}

func (h *fileHandle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}
