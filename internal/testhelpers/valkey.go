//go:build integration

// Package testhelpers provides shared infrastructure for integration tests.
package testhelpers

import (
	"context"
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/log"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/chinmina/lockbox/internal/config"
	"github.com/chinmina/lockbox/internal/encryption"
)

// RunValkeyContainer starts a Valkey container and returns store configuration
// pointing at it, including an ephemeral password and a cleartext keyset file
// enabling encryption. Cleanup is handled automatically via t.Cleanup().
func RunValkeyContainer(t *testing.T) config.Config {
	t.Helper()
	ctx := context.Background()

	valkeyPort := "6379"
	valkeyProtocolPort := valkeyPort + "/tcp"

	password := rand.Text()

	req := testcontainers.ContainerRequest{
		Image: "valkey/valkey:9-alpine",
		Env: map[string]string{
			"VALKEY_EXTRA_FLAGS": "--requirepass " + password,
		},
		ExposedPorts: []string{valkeyProtocolPort},
		WaitingFor: wait.ForAll(
			wait.ForLog("Ready to accept connections"),
			wait.ForListeningPort(nat.Port(valkeyProtocolPort)),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
		Logger:           log.TestLogger(t),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	port, err := container.MappedPort(ctx, nat.Port(valkeyPort))
	require.NoError(t, err)

	// Use 127.0.0.1 explicitly to avoid IPv6 issues
	endpoint := "127.0.0.1:" + port.Port()

	// Generate a cleartext keyset file for integration test encryption.
	keysetFile := writeTestKeyset(t)

	return config.Config{
		Store: config.StoreConfig{
			Type: "valkey",
			Name: "integration.cache",
			Valkey: config.ValkeyConfig{
				TLS:      false,
				Address:  endpoint,
				Username: "default",
				Password: password,
			},
		},
		Lock: config.LockConfig{
			Type:             "valkey",
			RetryDelayMillis: 20,
			RetryCount:       100,
			TTLSeconds:       10,
		},
		Encryption: config.EncryptionConfig{
			Enabled:    true,
			KeysetFile: keysetFile,
		},
	}
}

// writeTestKeyset generates an AES256-GCM Tink keyset and writes it as
// cleartext JSON to a temp file. The file is cleaned up automatically via
// t.TempDir().
func writeTestKeyset(t *testing.T) string {
	t.Helper()

	keysetPath := filepath.Join(t.TempDir(), "test-keyset.json")
	require.NoError(t, encryption.WriteTestKeysetFile(keysetPath))

	return keysetPath
}
