package lockbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chinmina/lockbox/internal/lock"
	"github.com/chinmina/lockbox/internal/store"
)

var (
	// ErrLockTimeout indicates that the cross-process lock could not be
	// acquired within the retry budget. Another process is holding the lock
	// for too long, or the locking primitive is unavailable.
	ErrLockTimeout = errors.New("cache lock not acquired")

	// ErrCorrupt indicates that a persisted blob could not be decoded into a
	// valid cache. The in-memory cache has been reset to empty and the store
	// cleared by the time this error is observed.
	ErrCorrupt = errors.New("persisted cache cannot be decoded")

	// ErrWriteFailed indicates that the cache could not be durably written.
	// The in-memory cache has been reset to empty and the store cleared: a
	// cache that cannot be committed must not be trusted, and a stale partial
	// write must not be left behind.
	ErrWriteFailed = errors.New("persisted cache write failed")
)

// Options tunes a Synchronizer. The zero value selects a file lock beside
// the store (for file stores) and the JSON codec.
type Options struct {
	// Locker coordinates access across processes. When nil, a FileLocker in
	// LockDir (or the system temp directory) is used with default retries.
	Locker lock.Locker

	// LockDir is where the default file locker places its lock files.
	// Ignored when Locker is set.
	LockDir string

	// Codec converts the cache to and from the persisted blob. Defaults to
	// JSONCodec.
	Codec Codec

	// Logger overrides the global zerolog logger.
	Logger *zerolog.Logger
}

// Synchronizer owns an in-memory token cache and keeps it consistent with a
// shared persistent store. Callers bracket every use of the cache with
// BeforeAccess and AfterAccess; BeforeAccess acquires the cross-process lock
// and reloads the cache, AfterAccess flushes it when dirty and releases the
// lock.
//
// A Synchronizer assumes one access cycle at a time: the process-level lock
// serializes cycles across processes, and the caller is expected to drive
// cycles from a single goroutine (or provide its own serialization).
type Synchronizer struct {
	store    store.Store
	locker   lock.Locker
	codec    Codec
	logger   zerolog.Logger
	resource string
	cache    *Cache
}

// Cycle is the token for one BeforeAccess/AfterAccess pairing. It carries
// the process-lock handle from the before hook to the after hook, so no
// shared mutable lock reference exists between cycles.
type Cycle struct {
	handle lock.Handle
}

// New creates a Synchronizer over st and performs the initial load. A blob
// that cannot be decoded is absorbed here rather than returned: the error is
// logged, the cache starts empty, and the store is cleared. There is no
// in-flight caller operation to fail at construction time.
func New(ctx context.Context, st store.Store, opts Options) (*Synchronizer, error) {
	if st == nil {
		return nil, fmt.Errorf("lockbox: store is required")
	}

	codec := opts.Codec
	if codec == nil {
		codec = JSONCodec{}
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	locker := opts.Locker
	if locker == nil {
		dir := opts.LockDir
		if dir == "" {
			dir = defaultLockDir()
		}
		fl, err := lock.NewFileLocker(dir, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("lockbox: configuring default lock: %w", err)
		}
		locker = fl
	}

	s := &Synchronizer{
		store:    st,
		locker:   locker,
		codec:    codec,
		logger:   logger,
		resource: st.ID(),
		cache:    NewCache(),
	}

	if err := s.reload(ctx); err != nil {
		s.logger.Error().
			Err(err).
			Str("store", s.resource).
			Msg("persisted cache unreadable, starting empty")
	}

	return s, nil
}

// Cache returns the in-memory cache. It is only valid to read or mutate it
// between a BeforeAccess/AfterAccess pair.
func (s *Synchronizer) Cache() *Cache {
	return s.cache
}

// Store returns the identity of the persistent store being synchronized.
func (s *Synchronizer) Store() string {
	return s.resource
}

// BeforeAccess must be called immediately before any read or write of the
// cache. It acquires the cross-process lock and reloads the cache from the
// store, so the caller observes the latest persisted state.
//
// On success the returned Cycle must be passed to AfterAccess. On failure no
// Cycle is returned and the lock is not held: if the persisted blob was
// corrupt, the cache has been reset to empty and the store cleared before
// the error is returned.
func (s *Synchronizer) BeforeAccess(ctx context.Context) (*Cycle, error) {
	handle, err := s.locker.Acquire(ctx, s.resource)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, fmt.Errorf("%w: %v", ErrLockTimeout, err)
		}
		return nil, fmt.Errorf("acquiring cache lock: %w", err)
	}

	if err := s.reload(ctx); err != nil {
		s.logger.Error().
			Err(err).
			Str("store", s.resource).
			Msg("reload before cache access failed")
		if rerr := handle.Release(); rerr != nil {
			s.logger.Warn().Err(rerr).Msg("releasing cache lock after failed reload")
		}
		return nil, err
	}

	return &Cycle{handle: handle}, nil
}

// AfterAccess must be called when the caller is finished with the cache for
// this cycle. When the cache is dirty it is serialized and written back, and
// the dirty flag cleared; otherwise no write occurs. The lock handle is
// released exactly once on every path.
//
// A serialization or write failure resets the cache to empty, clears the
// store, and is returned to the caller.
func (s *Synchronizer) AfterAccess(ctx context.Context, c *Cycle) (err error) {
	if c == nil {
		return fmt.Errorf("lockbox: nil cycle")
	}

	defer func() {
		// Detach the handle before releasing so a second AfterAccess with
		// the same cycle cannot release twice.
		handle := c.handle
		c.handle = nil
		if handle == nil {
			return
		}
		if rerr := handle.Release(); rerr != nil {
			s.logger.Warn().Err(rerr).Str("store", s.resource).Msg("releasing cache lock")
			if err == nil {
				err = fmt.Errorf("releasing cache lock: %w", rerr)
			}
		}
	}()

	if !s.cache.Dirty() {
		return nil
	}

	data, err := s.codec.Encode(s.cache)
	if err != nil {
		s.discard(ctx)
		return fmt.Errorf("%w: encoding: %v", ErrWriteFailed, err)
	}

	if werr := s.store.Write(ctx, data); werr != nil {
		s.discard(ctx)
		return fmt.Errorf("%w: %v", ErrWriteFailed, werr)
	}

	s.cache.dirty = false

	s.logger.Debug().
		Str("store", s.resource).
		Int("entries", s.cache.Len()).
		Msg("cache flushed")

	return nil
}

// Do runs fn as a complete access cycle: reload, invoke, flush. AfterAccess
// runs even when fn fails, so mutations made before the failure are still
// flushed, mirroring the behaviour of a caller that always pairs the hooks.
func (s *Synchronizer) Do(ctx context.Context, fn func(*Cache) error) error {
	cycle, err := s.BeforeAccess(ctx)
	if err != nil {
		return err
	}

	fnErr := fn(s.cache)
	afterErr := s.AfterAccess(ctx, cycle)

	if fnErr != nil {
		return fnErr
	}
	return afterErr
}

// Close closes the underlying store.
func (s *Synchronizer) Close() error {
	return s.store.Close()
}

// reload replaces the in-memory cache with the persisted state. An empty or
// absent blob is authoritative: the cache is reset rather than retaining
// stale entries from a previous cycle. An unreadable blob resets the cache,
// clears the store and returns an error matching ErrCorrupt.
func (s *Synchronizer) reload(ctx context.Context) error {
	data, err := s.store.Read(ctx)
	if err != nil {
		s.discard(ctx)
		return fmt.Errorf("%w: reading store: %v", ErrCorrupt, err)
	}

	if len(data) == 0 {
		s.cache.reset()
		return nil
	}

	if err := s.codec.Decode(data, s.cache); err != nil {
		s.discard(ctx)
		if !errors.Is(err, ErrCorrupt) {
			err = fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return err
	}

	return nil
}

// discard transitions to the empty, known-good state: in-memory entries are
// dropped and the persisted blob is cleared.
func (s *Synchronizer) discard(ctx context.Context) {
	s.cache.reset()
	if err := s.store.Clear(ctx); err != nil {
		s.logger.Warn().
			Err(err).
			Str("store", s.resource).
			Msg("clearing persisted cache")
	}
}
