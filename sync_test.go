package lockbox

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chinmina/lockbox/internal/lock"
)

// fakeStore is an in-memory store with injectable failures and operation
// counters.
type fakeStore struct {
	mu   sync.Mutex
	data []byte

	reads, writes, clears int

	readErr  error
	writeErr error
	clearErr error
}

func (f *fakeStore) Read(_ context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out, nil
}

func (f *fakeStore) Write(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.writeErr != nil {
		return f.writeErr
	}
	f.data = make([]byte, len(data))
	copy(f.data, data)
	return nil
}

func (f *fakeStore) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	if f.clearErr != nil {
		return f.clearErr
	}
	f.data = nil
	return nil
}

func (f *fakeStore) ID() string { return "fake" }

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) setReadErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}

func (f *fakeStore) setWriteErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

func (f *fakeStore) counts() (reads, writes, clears int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads, f.writes, f.clears
}

// countingLocker tracks acquisitions and releases, and fails the test on an
// overlapping acquisition.
type countingLocker struct {
	t  *testing.T
	mu sync.Mutex

	acquired, released int
	held               bool
}

func (l *countingLocker) Acquire(_ context.Context, _ string) (lock.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		l.t.Error("lock acquired while already held")
	}
	l.held = true
	l.acquired++
	return &countingHandle{locker: l}, nil
}

type countingHandle struct {
	locker   *countingLocker
	released bool
}

func (h *countingHandle) Release() error {
	h.locker.mu.Lock()
	defer h.locker.mu.Unlock()
	if h.released {
		h.locker.t.Error("handle released twice")
		return nil
	}
	h.released = true
	h.locker.held = false
	h.locker.released++
	return nil
}

func newTestSynchronizer(t *testing.T, st *fakeStore) (*Synchronizer, *countingLocker) {
	t.Helper()
	locker := &countingLocker{t: t}
	s, err := New(context.Background(), st, Options{Locker: locker})
	require.NoError(t, err)
	return s, locker
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(context.Background(), nil, Options{})
	require.Error(t, err)
}

func TestNew_StartsEmpty(t *testing.T) {
	s, _ := newTestSynchronizer(t, &fakeStore{})
	assert.Equal(t, 0, s.Cache().Len())
	assert.False(t, s.Cache().Dirty())
}

func TestNew_AbsorbsCorruptBlob(t *testing.T) {
	st := &fakeStore{data: []byte("not json")}

	s, err := New(context.Background(), st, Options{Locker: &countingLocker{t: t}})
	require.NoError(t, err, "corruption at construction must not fail")

	assert.Equal(t, 0, s.Cache().Len())

	_, _, clears := st.counts()
	assert.Equal(t, 1, clears, "corrupt blob should be cleared")
}

func TestAccessCycle_FlushesAndReloads(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}

	s, locker := newTestSynchronizer(t, st)

	cycle, err := s.BeforeAccess(ctx)
	require.NoError(t, err)
	s.Cache().Put("account-1", []byte("token-data"))
	require.NoError(t, s.AfterAccess(ctx, cycle))

	assert.False(t, s.Cache().Dirty(), "dirty flag cleared after flush")
	assert.Equal(t, locker.acquired, locker.released)

	// a second synchronizer over the same store observes the write
	other, _ := newTestSynchronizer(t, st)
	cycle, err = other.BeforeAccess(ctx)
	require.NoError(t, err)
	data, ok := other.Cache().Get("account-1")
	require.True(t, ok)
	assert.Equal(t, []byte("token-data"), data)
	require.NoError(t, other.AfterAccess(ctx, cycle))
}

func TestAfterAccess_SkipsWriteWhenClean(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}

	s, _ := newTestSynchronizer(t, st)

	cycle, err := s.BeforeAccess(ctx)
	require.NoError(t, err)
	_, _ = s.Cache().Get("missing")
	require.NoError(t, s.AfterAccess(ctx, cycle))

	_, writes, _ := st.counts()
	assert.Equal(t, 0, writes, "clean cache must not be written")
}

func TestAfterAccess_SecondCycleDoesNotRewrite(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}

	s, _ := newTestSynchronizer(t, st)

	require.NoError(t, s.Do(ctx, func(c *Cache) error {
		c.Put("k", []byte("v"))
		return nil
	}))
	require.NoError(t, s.Do(ctx, func(c *Cache) error {
		_, _ = c.Get("k")
		return nil
	}))

	_, writes, _ := st.counts()
	assert.Equal(t, 1, writes, "only the mutating cycle writes")
}

func TestBeforeAccess_CorruptReload(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}

	s, locker := newTestSynchronizer(t, st)

	// persist valid state, then corrupt it behind the synchronizer's back
	require.NoError(t, s.Do(ctx, func(c *Cache) error {
		c.Put("k", []byte("v"))
		return nil
	}))
	st.mu.Lock()
	st.data = []byte("{garbage")
	st.clears = 0
	st.mu.Unlock()

	_, err := s.BeforeAccess(ctx)
	require.ErrorIs(t, err, ErrCorrupt)

	assert.Equal(t, 0, s.Cache().Len(), "cache reset on corruption")
	assert.False(t, s.Cache().Dirty())

	_, _, clears := st.counts()
	assert.Equal(t, 1, clears, "store cleared exactly once")

	assert.Equal(t, locker.acquired, locker.released, "lock released on the failure path")
}

func TestBeforeAccess_ReadFailure(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}

	s, locker := newTestSynchronizer(t, st)
	st.setReadErr(errors.New("disk gone"))

	_, err := s.BeforeAccess(ctx)
	require.ErrorIs(t, err, ErrCorrupt)
	assert.Equal(t, locker.acquired, locker.released)
}

func TestAfterAccess_WriteFailure(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}

	s, locker := newTestSynchronizer(t, st)

	cycle, err := s.BeforeAccess(ctx)
	require.NoError(t, err)
	s.Cache().Put("k", []byte("v"))

	st.setWriteErr(errors.New("disk full"))
	err = s.AfterAccess(ctx, cycle)
	require.ErrorIs(t, err, ErrWriteFailed)

	assert.Equal(t, 0, s.Cache().Len(), "cache reset after failed write")
	assert.False(t, s.Cache().Dirty())

	_, _, clears := st.counts()
	assert.Equal(t, 1, clears, "partial state cleared")

	assert.Equal(t, locker.acquired, locker.released, "lock released despite write failure")
}

func TestBeforeAccess_LockTimeout(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}
	lockDir := t.TempDir()

	mkLocker := func() *lock.FileLocker {
		l, err := lock.NewFileLocker(lockDir, time.Millisecond, 3)
		require.NoError(t, err)
		return l
	}

	holder, err := New(ctx, st, Options{Locker: mkLocker()})
	require.NoError(t, err)
	waiter, err := New(ctx, st, Options{Locker: mkLocker()})
	require.NoError(t, err)

	cycle, err := holder.BeforeAccess(ctx)
	require.NoError(t, err)

	_, err = waiter.BeforeAccess(ctx)
	require.ErrorIs(t, err, ErrLockTimeout)

	require.NoError(t, holder.AfterAccess(ctx, cycle))
}

func TestAfterAccess_NilCycle(t *testing.T) {
	s, _ := newTestSynchronizer(t, &fakeStore{})
	require.Error(t, s.AfterAccess(context.Background(), nil))
}

func TestAfterAccess_RepeatedCallReleasesOnce(t *testing.T) {
	ctx := context.Background()
	s, locker := newTestSynchronizer(t, &fakeStore{})

	cycle, err := s.BeforeAccess(ctx)
	require.NoError(t, err)
	require.NoError(t, s.AfterAccess(ctx, cycle))
	require.NoError(t, s.AfterAccess(ctx, cycle))

	assert.Equal(t, 1, locker.released)
}

func TestDo_FlushesWhenCallbackFails(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}
	s, _ := newTestSynchronizer(t, st)

	sentinel := errors.New("callback failed")
	err := s.Do(ctx, func(c *Cache) error {
		c.Put("k", []byte("v"))
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	_, writes, _ := st.counts()
	assert.Equal(t, 1, writes, "mutations before the failure are still flushed")
}

func TestDo_ClearPersists(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}
	s, _ := newTestSynchronizer(t, st)

	require.NoError(t, s.Do(ctx, func(c *Cache) error {
		c.Put("k", []byte("v"))
		return nil
	}))
	require.NoError(t, s.Do(ctx, func(c *Cache) error {
		c.Clear()
		return nil
	}))

	other, _ := newTestSynchronizer(t, st)
	require.NoError(t, other.Do(ctx, func(c *Cache) error {
		assert.Equal(t, 0, c.Len())
		return nil
	}))
}

// TestConcurrentCycles drives several synchronizers over the same store with
// a shared file lock, as separate processes would, and checks that access
// cycles never overlap and no increment is lost.
func TestConcurrentCycles(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}
	lockDir := t.TempDir()

	const (
		workers    = 8
		iterations = 10
	)

	var inCycle atomic.Int32

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		locker, err := lock.NewFileLocker(lockDir, 2*time.Millisecond, 5000)
		require.NoError(t, err)

		s, err := New(ctx, st, Options{Locker: locker})
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				err := s.Do(ctx, func(c *Cache) error {
					if inCycle.Add(1) != 1 {
						t.Error("overlapping access cycles")
					}
					defer inCycle.Add(-1)

					n := 0
					if data, ok := c.Get("counter"); ok {
						n, _ = strconv.Atoi(string(data))
					}
					c.Put("counter", []byte(strconv.Itoa(n+1)))
					return nil
				})
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	final, _ := newTestSynchronizer(t, st)
	require.NoError(t, final.Do(ctx, func(c *Cache) error {
		data, ok := c.Get("counter")
		require.True(t, ok)
		assert.Equal(t, strconv.Itoa(workers*iterations), string(data))
		return nil
	}))
}
