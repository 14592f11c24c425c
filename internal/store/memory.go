package store

import (
	"context"
	"time"

	"github.com/maypok86/otter/v2"
)

const memoryBlobKey = "blob"

// Memory is an in-process Store, used in tests and in single-process
// deployments that want cache-access semantics without durability. An
// optional TTL expires the stored blob, which the synchronizer treats the
// same as an absent cache.
type Memory struct {
	name  string
	cache *otter.Cache[string, []byte]
}

// NewMemory creates a memory store. A zero ttl disables expiry.
func NewMemory(name string, ttl time.Duration) (*Memory, error) {
	opts := &otter.Options[string, []byte]{
		MaximumSize: 16,
	}
	if ttl > 0 {
		opts.ExpiryCalculator = otter.ExpiryCreating[string, []byte](ttl)
	}

	return &Memory{
		name:  name,
		cache: otter.Must(opts),
	}, nil
}

// Read returns the stored blob, or empty when absent or expired.
func (m *Memory) Read(ctx context.Context) ([]byte, error) {
	entry, ok := m.cache.GetEntry(memoryBlobKey)
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(entry.Value))
	copy(out, entry.Value)
	return out, nil
}

// Write replaces the stored blob.
func (m *Memory) Write(ctx context.Context, data []byte) error {
	stored := make([]byte, len(data))
	copy(stored, data)
	m.cache.Set(memoryBlobKey, stored)
	return nil
}

// Clear removes the stored blob.
func (m *Memory) Clear(ctx context.Context) error {
	m.cache.Invalidate(memoryBlobKey)
	return nil
}

// ID returns the configured store name.
func (m *Memory) ID() string {
	return "memory:" + m.name
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
