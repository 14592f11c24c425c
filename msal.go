package lockbox

import (
	"bytes"
	"context"
	"time"

	msalcache "github.com/AzureAD/microsoft-authentication-library-for-go/apps/cache"
)

// defaultHookTimeout bounds the Replace/Export variants that cannot accept a
// caller context, as the MSAL contract requires.
const defaultHookTimeout = 30 * time.Second

// MSALCache adapts a Synchronizer to MSAL's cache export/replace contract,
// partitioning the synchronized cache by the key MSAL suggests. Register it
// with WithCache when constructing an MSAL client; every token operation
// then reloads from and flushes to the shared store under the cross-process
// lock.
type MSALCache struct {
	sync *Synchronizer
}

// NewMSALCache wraps s for use as an MSAL persistence extension.
func NewMSALCache(s *Synchronizer) *MSALCache {
	return &MSALCache{sync: s}
}

// ReplaceCtx reloads the shared cache and feeds the entry for key into the
// caller's cache. An absent entry leaves the caller's cache untouched.
func (m *MSALCache) ReplaceCtx(ctx context.Context, cache msalcache.Unmarshaler, key string) error {
	cycle, err := m.sync.BeforeAccess(ctx)
	if err != nil {
		return err
	}

	var uerr error
	if data, ok := m.sync.Cache().Get(key); ok {
		uerr = cache.Unmarshal(data)
	}

	aerr := m.sync.AfterAccess(ctx, cycle)
	if uerr != nil {
		return uerr
	}
	return aerr
}

// ExportCtx stores the caller's marshalled cache under key and flushes. The
// entry is only rewritten when the bytes differ from what is already held,
// so an unchanged cache does not dirty the store.
func (m *MSALCache) ExportCtx(ctx context.Context, cache msalcache.Marshaler, key string) error {
	cycle, err := m.sync.BeforeAccess(ctx)
	if err != nil {
		return err
	}

	data, merr := cache.Marshal()
	if merr == nil {
		if existing, ok := m.sync.Cache().Get(key); !ok || !bytes.Equal(existing, data) {
			m.sync.Cache().Put(key, data)
		}
	}

	aerr := m.sync.AfterAccess(ctx, cycle)
	if merr != nil {
		return merr
	}
	return aerr
}

// Replace implements the contextless contract with the default timeout.
// Errors cannot be surfaced through this interface, so they are logged.
func (m *MSALCache) Replace(cache msalcache.Unmarshaler, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultHookTimeout)
	defer cancel()

	if err := m.ReplaceCtx(ctx, cache, key); err != nil {
		m.sync.logger.Warn().Err(err).Str("key", key).Msg("cache replace failed")
	}
}

// Export implements the contextless contract with the default timeout.
// Errors cannot be surfaced through this interface, so they are logged.
func (m *MSALCache) Export(cache msalcache.Marshaler, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultHookTimeout)
	defer cancel()

	if err := m.ExportCtx(ctx, cache, key); err != nil {
		m.sync.logger.Warn().Err(err).Str("key", key).Msg("cache export failed")
	}
}
