package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/valkey-io/valkey-go"
)

const lockKeyPrefix = "lockbox:lock:"

// releaseScript deletes the lock key only when it still holds this handle's
// token, so an expired lock reacquired by another process is never deleted.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// ValkeyLocker implements Locker with a SET NX PX lease on a Valkey server.
// The lease TTL bounds how long a crashed holder can block other processes.
type ValkeyLocker struct {
	client     valkey.Client
	ttl        time.Duration
	retryDelay time.Duration
	retryCount int
}

// NewValkeyLocker creates a locker that leases keys on the given client. Zero
// retry tuning selects the package defaults; a zero ttl defaults to 30s.
func NewValkeyLocker(client valkey.Client, ttl, retryDelay time.Duration, retryCount int) (*ValkeyLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("valkey client is required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	if retryCount <= 0 {
		retryCount = DefaultRetryCount
	}
	return &ValkeyLocker{client: client, ttl: ttl, retryDelay: retryDelay, retryCount: retryCount}, nil
}

// Acquire attempts the lease until the retry budget is exhausted or ctx is
// cancelled.
func (l *ValkeyLocker) Acquire(ctx context.Context, resource string) (Handle, error) {
	key := lockKeyPrefix + ResourceKey(resource)
	token := newToken()

	for attempt := 0; attempt < l.retryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", ErrNotAcquired, ctx.Err())
			case <-time.After(l.retryDelay):
			}
		}

		cmd := l.client.B().Set().Key(key).Value(token).Nx().Px(l.ttl).Build()
		resp := l.client.Do(ctx, cmd)
		if err := resp.Error(); err != nil {
			if valkey.IsValkeyNil(err) {
				// Lease held elsewhere.
				continue
			}
			return nil, fmt.Errorf("%w: leasing %s: %w", ErrNotAcquired, key, err)
		}
		return &valkeyHandle{client: l.client, key: key, token: token}, nil
	}

	return nil, fmt.Errorf("%w: %s held after %d attempts", ErrNotAcquired, key, l.retryCount)
}

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

type valkeyHandle struct {
	mu       sync.Mutex
	client   valkey.Client
	key      string
	token    string
	released bool
}

func (h *valkeyHandle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := h.client.B().Eval().Script(releaseScript).Numkeys(1).Key(h.key).Arg(h.token).Build()
	if err := h.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("releasing lease %s: %w", h.key, err)
	}
	return nil
}
