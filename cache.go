// Package lockbox keeps an in-memory authentication-token cache consistent
// with a durable representation shared by multiple processes. Every cache
// access is bracketed by a reload under a cross-process lock, and the cache
// is flushed back only when its contents actually changed.
package lockbox

import "sort"

// Cache is the live, in-memory collection of cached credential entries. Each
// entry is an opaque byte payload under a caller-chosen key (for MSAL usage,
// the partition key suggested by the library).
//
// A Cache is owned by a single Synchronizer for the life of the process. It
// is refreshed in place at the start of every access cycle, and must only be
// read or mutated between a BeforeAccess/AfterAccess pair. Mutation marks
// the cache dirty; the dirty flag is cleared only once the contents have
// been durably written.
type Cache struct {
	entries map[string][]byte
	dirty   bool
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: map[string][]byte{}}
}

// Get returns a copy of the entry stored under key.
func (c *Cache) Get(key string) ([]byte, bool) {
	data, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// Put stores a copy of value under key and marks the cache dirty.
func (c *Cache) Put(key string, value []byte) {
	stored := make([]byte, len(value))
	copy(stored, value)
	c.entries[key] = stored
	c.dirty = true
}

// Delete removes the entry under key. Deleting an absent key is a no-op and
// does not dirty the cache.
func (c *Cache) Delete(key string) {
	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	c.dirty = true
}

// Clear removes all entries and marks the cache dirty, so the next flush
// clears the persisted representation too.
func (c *Cache) Clear() {
	c.entries = map[string][]byte{}
	c.dirty = true
}

// Keys returns the entry keys in sorted order.
func (c *Cache) Keys() []string {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Dirty reports whether the cache has been mutated since the last successful
// flush.
func (c *Cache) Dirty() bool {
	return c.dirty
}

// reset returns the cache to the empty, known-good state that matches a
// cleared store. Unlike Clear, it does not dirty the cache.
func (c *Cache) reset() {
	c.entries = map[string][]byte{}
	c.dirty = false
}

// replace swaps in a freshly decoded entry set and establishes it as the
// flushed baseline.
func (c *Cache) replace(entries map[string][]byte) {
	if entries == nil {
		entries = map[string][]byte{}
	}
	c.entries = entries
	c.dirty = false
}
