package encryption

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tink-crypto/tink-go/v2/tink"
)

// refreshInterval is how often the keyset protecting the persisted cache is
// reloaded from its source.
const refreshInterval = 15 * time.Minute

// aeadLoader loads an AEAD from external key material. This abstraction allows
// testing without real KMS/Secrets Manager dependencies.
type aeadLoader func(ctx context.Context) (tink.AEAD, error)

// RefreshableAEAD wraps the AEAD protecting the persisted cache with periodic
// keyset reload, so a rotated key reaches long-lived processes without a
// restart. A failed reload is logged and the current keyset stays in service.
type RefreshableAEAD struct {
	mu     sync.RWMutex
	aead   tink.AEAD
	loader aeadLoader
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewRefreshableAEAD creates a refreshing AEAD whose keyset lives in AWS
// Secrets Manager under a KMS envelope key. The initial keyset is loaded
// synchronously; if that fails the error is returned and no reload goroutine
// is started. Call Close to stop the reload loop.
func NewRefreshableAEAD(ctx context.Context, keysetURI, kmsEnvelopeKeyURI string) (*RefreshableAEAD, error) {
	loader := func(ctx context.Context) (tink.AEAD, error) {
		return NewAEADFromKMS(ctx, keysetURI, kmsEnvelopeKeyURI)
	}

	return newRefreshableAEAD(ctx, loader, refreshInterval)
}

// NewRefreshableAEADFromFile creates a refreshing AEAD backed by a cleartext
// keyset file, reloaded on the same interval. Local development only.
func NewRefreshableAEADFromFile(ctx context.Context, path string) (*RefreshableAEAD, error) {
	loader := func(ctx context.Context) (tink.AEAD, error) {
		return NewAEADFromFile(path)
	}

	return newRefreshableAEAD(ctx, loader, refreshInterval)
}

// newRefreshableAEAD is the internal constructor that accepts a loader and
// interval, enabling testing with short intervals and fake AEADs.
func newRefreshableAEAD(ctx context.Context, loader aeadLoader, interval time.Duration) (*RefreshableAEAD, error) {
	initial, err := loader(ctx)
	if err != nil {
		return nil, err
	}

	r := &RefreshableAEAD{
		aead:   initial,
		loader: loader,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	go r.reloadLoop(ctx, interval)

	return r, nil
}

// Encrypt delegates to the current keyset's AEAD under a read lock.
func (r *RefreshableAEAD) Encrypt(plaintext, associatedData []byte) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.aead.Encrypt(plaintext, associatedData)
}

// Decrypt delegates to the current keyset's AEAD under a read lock.
func (r *RefreshableAEAD) Decrypt(ciphertext, associatedData []byte) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.aead.Decrypt(ciphertext, associatedData)
}

// Close stops the reload goroutine and waits for it to exit.
func (r *RefreshableAEAD) Close() error {
	close(r.stopCh)
	<-r.doneCh
	return nil
}

func (r *RefreshableAEAD) reloadLoop(ctx context.Context, interval time.Duration) {
	defer close(r.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reload(ctx)
		}
	}
}

// reload swaps in a freshly loaded keyset. A load failure leaves the current
// keyset in service: cache encryption must not stop working because the key
// source had an outage.
func (r *RefreshableAEAD) reload(ctx context.Context) {
	log.Info().Msg("refreshing cache encryption keyset")

	replacement, err := r.loader(ctx)
	if err != nil {
		log.Warn().
			Err(err).
			Msg("keyset refresh failed, keeping current keyset")
		return
	}

	r.mu.Lock()
	r.aead = replacement
	r.mu.Unlock()

	log.Info().Msg("cache encryption keyset refreshed")
}
