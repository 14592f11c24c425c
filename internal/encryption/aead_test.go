package encryption

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tink-crypto/tink-go/v2/tink"
)

// brokenAEAD fails encrypt or decrypt on demand; with neither error set it
// passes data through unchanged, and with garble set it decrypts to the wrong
// plaintext.
type brokenAEAD struct {
	encryptErr error
	decryptErr error
	garble     bool
}

func (b *brokenAEAD) Encrypt(plaintext, associatedData []byte) ([]byte, error) {
	if b.encryptErr != nil {
		return nil, b.encryptErr
	}
	return plaintext, nil
}

func (b *brokenAEAD) Decrypt(ciphertext, associatedData []byte) ([]byte, error) {
	if b.decryptErr != nil {
		return nil, b.decryptErr
	}
	if b.garble {
		return []byte("garbled"), nil
	}
	return ciphertext, nil
}

func TestValidate(t *testing.T) {
	working, err := NewTestAEAD()
	require.NoError(t, err)

	tests := []struct {
		name        string
		aead        tink.AEAD
		errContains string
	}{
		{
			name: "working keyset passes",
			aead: working,
		},
		{
			name:        "encrypt failure reported",
			aead:        &brokenAEAD{encryptErr: errors.New("no key material")},
			errContains: "validation encrypt failed",
		},
		{
			name:        "decrypt failure reported",
			aead:        &brokenAEAD{decryptErr: errors.New("no key material")},
			errContains: "validation decrypt failed",
		},
		{
			name:        "wrong plaintext reported",
			aead:        &brokenAEAD{garble: true},
			errContains: "validation round-trip failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.aead)
			if tt.errContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestReadKeysetFromSecretsManager_RejectsBadURIs(t *testing.T) {
	tests := []struct {
		name        string
		uri         string
		errContains string
	}{
		{
			name:        "plain https uri",
			uri:         "https://secrets.invalid/cache-keyset",
			errContains: "must start with aws-secretsmanager://",
		},
		{
			name:        "kms scheme",
			uri:         "aws-kms://alias/cache-key",
			errContains: "must start with aws-secretsmanager://",
		},
		{
			name:        "empty uri",
			uri:         "",
			errContains: "must start with aws-secretsmanager://",
		},
		{
			name:        "scheme without a secret name",
			uri:         "aws-secretsmanager://",
			errContains: "secret name is empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readKeysetFromSecretsManager(context.Background(), tt.uri)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestNewAEADFromFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyset.json")
	require.NoError(t, WriteTestKeysetFile(path))

	primitive, err := NewAEADFromFile(path)
	require.NoError(t, err)

	ct, err := primitive.Encrypt([]byte("cache blob"), []byte("store-id"))
	require.NoError(t, err)

	pt, err := primitive.Decrypt(ct, []byte("store-id"))
	require.NoError(t, err)
	assert.Equal(t, []byte("cache blob"), pt)
}

func TestNewAEADFromFile_MissingFile(t *testing.T) {
	_, err := NewAEADFromFile(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading keyset file")
}

func TestNewAEADFromFile_MalformedKeyset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyset.json")
	require.NoError(t, os.WriteFile(path, []byte("not a keyset"), 0o600))

	_, err := NewAEADFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing keyset file")
}

func TestWriteTestKeysetFile_GeneratesDistinctKeysets(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.json")
	pathB := filepath.Join(dir, "b.json")

	require.NoError(t, WriteTestKeysetFile(pathA))
	require.NoError(t, WriteTestKeysetFile(pathB))

	aeadA, err := NewAEADFromFile(pathA)
	require.NoError(t, err)
	aeadB, err := NewAEADFromFile(pathB)
	require.NoError(t, err)

	ct, err := aeadA.Encrypt([]byte("cache blob"), []byte("store-id"))
	require.NoError(t, err)

	_, err = aeadB.Decrypt(ct, []byte("store-id"))
	require.Error(t, err, "each generated keyset holds fresh key material")
}
