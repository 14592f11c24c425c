// Package store provides durable, shared storage for the serialized token
// cache. Implementations persist a single opaque blob and expose an identity
// string used to derive the name of the cross-process lock guarding it.
package store

import "context"

// Store reads and writes the persisted cache blob.
type Store interface {
	// Read returns the current blob, or an empty slice when no cache has been
	// persisted yet.
	Read(ctx context.Context) ([]byte, error)

	// Write replaces the persisted blob.
	Write(ctx context.Context, data []byte) error

	// Clear removes the persisted blob. Clearing an already-empty store is
	// not an error.
	Clear(ctx context.Context) error

	// ID identifies the storage location. Two stores with the same ID refer
	// to the same persisted cache, and contend for the same lock.
	ID() string

	// Close releases any resources held by the store.
	Close() error
}
