package store

import (
	"context"
	"fmt"

	"github.com/valkey-io/valkey-go"
)

const valkeyKeyPrefix = "lockbox:cache:"

// Valkey is a Store backed by a Valkey server, for fleets of processes that
// share a cache over the network rather than a filesystem.
type Valkey struct {
	client valkey.Client
	key    string
}

// NewValkey creates a store persisting the blob under a key derived from
// name. The store takes ownership of the client: Close closes it.
func NewValkey(client valkey.Client, name string) (*Valkey, error) {
	if client == nil {
		return nil, fmt.Errorf("valkey client is required")
	}
	if name == "" {
		return nil, fmt.Errorf("cache name is required")
	}
	return &Valkey{client: client, key: valkeyKeyPrefix + name}, nil
}

// Read returns the stored blob, or empty when the key is absent.
func (v *Valkey) Read(ctx context.Context) ([]byte, error) {
	resp := v.client.Do(ctx, v.client.B().Get().Key(v.key).Build())
	if err := resp.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache key %s: %w", v.key, err)
	}
	data, err := resp.AsBytes()
	if err != nil {
		return nil, fmt.Errorf("decoding cache key %s: %w", v.key, err)
	}
	return data, nil
}

// Write replaces the stored blob. No TTL is applied: token lifetimes are
// managed by the cache contents, not the store.
func (v *Valkey) Write(ctx context.Context, data []byte) error {
	cmd := v.client.B().Set().Key(v.key).Value(valkey.BinaryString(data)).Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("writing cache key %s: %w", v.key, err)
	}
	return nil
}

// Clear removes the stored blob.
func (v *Valkey) Clear(ctx context.Context) error {
	cmd := v.client.B().Del().Key(v.key).Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("clearing cache key %s: %w", v.key, err)
	}
	return nil
}

// ID returns the keyspace identity of the store.
func (v *Valkey) ID() string {
	return "valkey:" + v.key
}

// Close closes the underlying client.
func (v *Valkey) Close() error {
	v.client.Close()
	return nil
}

// Client exposes the underlying client so a Valkey-based lock can share the
// store's connection.
func (v *Valkey) Client() valkey.Client {
	return v.client
}
