package lockbox

import (
	"encoding/json"
	"fmt"
)

// Codec converts the in-memory cache to and from the opaque blob held by the
// persistent store.
type Codec interface {
	Encode(c *Cache) ([]byte, error)

	// Decode replaces c's contents with the decoded entries. Malformed input
	// must return an error matching ErrCorrupt with errors.Is.
	Decode(data []byte, c *Cache) error
}

const envelopeVersion = 1

// envelope is the persisted JSON form of the cache. Entry values are opaque
// and round-trip through the standard base64 encoding of []byte.
type envelope struct {
	Version int               `json:"version"`
	Entries map[string][]byte `json:"entries"`
}

// JSONCodec is the default Codec: a small versioned JSON envelope.
type JSONCodec struct{}

// Encode serializes the cache.
func (JSONCodec) Encode(c *Cache) ([]byte, error) {
	data, err := json.Marshal(envelope{
		Version: envelopeVersion,
		Entries: c.entries,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding cache: %w", err)
	}
	return data, nil
}

// Decode deserializes data into c, replacing its contents.
func (JSONCodec) Decode(data []byte, c *Cache) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if env.Version != envelopeVersion {
		return fmt.Errorf("%w: unsupported cache version %d", ErrCorrupt, env.Version)
	}
	c.replace(env.Entries)
	return nil
}
