package store

import (
	"bytes"
	"context"
	"fmt"

	"github.com/tink-crypto/tink-go/v2/tink"
)

// blobPrefix marks an encrypted blob so that an unencrypted cache written by
// an earlier configuration is detected rather than fed to the AEAD.
var blobPrefix = []byte("lockbox-enc:v1:")

// Encrypted wraps a Store, encrypting the blob at rest with a Tink AEAD. The
// inner store's identity is used as associated data, binding a ciphertext to
// the location it was written for.
type Encrypted struct {
	inner Store
	aead  tink.AEAD
}

// NewEncrypted creates an encrypting wrapper around inner.
func NewEncrypted(inner Store, aead tink.AEAD) (*Encrypted, error) {
	if inner == nil {
		return nil, fmt.Errorf("inner store is required")
	}
	if aead == nil {
		return nil, fmt.Errorf("aead is required")
	}
	return &Encrypted{inner: inner, aead: aead}, nil
}

// Read decrypts the stored blob. A blob without the encryption marker, or one
// that fails authenticated decryption, is reported as an error; the
// synchronizer treats this as corruption and clears the store.
func (e *Encrypted) Read(ctx context.Context) ([]byte, error) {
	data, err := e.inner.Read(ctx)
	if err != nil || len(data) == 0 {
		return data, err
	}

	if !bytes.HasPrefix(data, blobPrefix) {
		return nil, fmt.Errorf("stored cache is missing the %q marker: written without encryption, or corrupted", blobPrefix)
	}

	plaintext, err := e.aead.Decrypt(data[len(blobPrefix):], e.associatedData())
	if err != nil {
		return nil, fmt.Errorf("decrypting stored cache: %w", err)
	}
	return plaintext, nil
}

// Write encrypts and stores the blob.
func (e *Encrypted) Write(ctx context.Context, data []byte) error {
	ciphertext, err := e.aead.Encrypt(data, e.associatedData())
	if err != nil {
		return fmt.Errorf("encrypting cache: %w", err)
	}
	return e.inner.Write(ctx, append(append([]byte{}, blobPrefix...), ciphertext...))
}

// Clear clears the inner store.
func (e *Encrypted) Clear(ctx context.Context) error {
	return e.inner.Clear(ctx)
}

// ID returns the inner store's identity: encryption does not change the
// storage location or the lock that guards it.
func (e *Encrypted) ID() string {
	return e.inner.ID()
}

// Close closes the AEAD (when it holds resources, such as a refreshing
// keyset) and then the inner store.
func (e *Encrypted) Close() error {
	if closer, ok := e.aead.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			return err
		}
	}
	return e.inner.Close()
}

func (e *Encrypted) associatedData() []byte {
	return []byte(e.inner.ID())
}
