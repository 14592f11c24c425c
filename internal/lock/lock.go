// Package lock provides scoped, cross-process mutual exclusion over a named
// resource. A lock is acquired with bounded retries before a synchronized
// cache access begins, and released when the access completes.
package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

const (
	// DefaultRetryDelay is the pause between acquisition attempts.
	DefaultRetryDelay = 100 * time.Millisecond

	// DefaultRetryCount is the number of acquisition attempts before giving up.
	DefaultRetryCount = 60
)

// ErrNotAcquired is returned when a lock could not be acquired within the
// configured retry budget. It indicates that another process is holding the
// lock for too long, or that the locking primitive itself is unavailable.
var ErrNotAcquired = errors.New("lock not acquired within retry budget")

// Locker acquires exclusive cross-process locks on named resources.
type Locker interface {
	// Acquire blocks until the lock on resource is held, the retry budget is
	// exhausted, or ctx is cancelled. On success the returned Handle must be
	// released by the caller.
	Acquire(ctx context.Context, resource string) (Handle, error)
}

// Handle represents ownership of an acquired lock. Release is idempotent:
// only the first call has any effect.
type Handle interface {
	Release() error
}

// ResourceKey derives a filesystem- and keyspace-safe lock resource name from
// an arbitrary identity string, such as a cache file path.
func ResourceKey(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:8])
}
