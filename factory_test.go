package lockbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chinmina/lockbox/internal/config"
	"github.com/chinmina/lockbox/internal/encryption"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Store: config.StoreConfig{
			Type: "memory",
			Name: "factory-test",
		},
		Lock: config.LockConfig{
			Type:             "file",
			Dir:              t.TempDir(),
			RetryDelayMillis: 10,
			RetryCount:       10,
		},
	}
}

func TestNewFromConfig_Memory(t *testing.T) {
	ctx := context.Background()

	sync, err := NewFromConfig(ctx, testConfig(t))
	require.NoError(t, err)
	defer sync.Close()

	require.NoError(t, sync.Do(ctx, func(c *Cache) error {
		c.Put("k", []byte("v"))
		return nil
	}))
	require.NoError(t, sync.Do(ctx, func(c *Cache) error {
		data, ok := c.Get("k")
		require.True(t, ok)
		assert.Equal(t, []byte("v"), data)
		return nil
	}))
}

func TestNewFromConfig_File(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(t)
	cfg.Store.Type = "file"
	cfg.Store.Dir = t.TempDir()
	cfg.Store.Name = "cache.json"

	sync, err := NewFromConfig(ctx, cfg)
	require.NoError(t, err)
	defer sync.Close()

	assert.Contains(t, sync.Store(), "cache.json")

	require.NoError(t, sync.Do(ctx, func(c *Cache) error {
		c.Put("k", []byte("v"))
		return nil
	}))

	// a fresh synchronizer over the same configuration reads the same file
	again, err := NewFromConfig(ctx, cfg)
	require.NoError(t, err)
	defer again.Close()

	require.NoError(t, again.Do(ctx, func(c *Cache) error {
		data, ok := c.Get("k")
		require.True(t, ok)
		assert.Equal(t, []byte("v"), data)
		return nil
	}))
}

func TestNewFromConfig_Encrypted(t *testing.T) {
	ctx := context.Background()

	keysetFile := filepath.Join(t.TempDir(), "keyset.json")
	require.NoError(t, encryption.WriteTestKeysetFile(keysetFile))

	cfg := testConfig(t)
	cfg.Store.Type = "file"
	cfg.Store.Dir = t.TempDir()
	cfg.Store.Name = "cache.enc"
	cfg.Encryption = config.EncryptionConfig{
		Enabled:    true,
		KeysetFile: keysetFile,
	}

	sync, err := NewFromConfig(ctx, cfg)
	require.NoError(t, err)
	defer sync.Close()

	require.NoError(t, sync.Do(ctx, func(c *Cache) error {
		c.Put("k", []byte("plaintext value"))
		return nil
	}))

	// the blob on disk must not contain the plaintext
	data, err := os.ReadFile(filepath.Join(cfg.Store.Dir, cfg.Store.Name))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "plaintext value")
}

func TestNewFromConfig_DefaultLockDir(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(t)
	cfg.Lock.Dir = ""

	sync, err := NewFromConfig(ctx, cfg)
	require.NoError(t, err)
	defer sync.Close()

	require.NoError(t, sync.Do(ctx, func(c *Cache) error { return nil }))

	// the documented default: a shared directory under the system temp dir
	info, err := os.Stat(filepath.Join(os.TempDir(), "lockbox"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewFromConfig_InvalidStoreType(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Type = "redis"

	_, err := NewFromConfig(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid store type")
}

func TestNewFromConfig_InvalidLockType(t *testing.T) {
	cfg := testConfig(t)
	cfg.Lock.Type = "flock"

	_, err := NewFromConfig(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid lock type")
}

func TestNewFromConfig_ValkeyLockNeedsValkeyStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Lock.Type = "valkey"

	_, err := NewFromConfig(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "valkey lock requires the valkey store")
}
