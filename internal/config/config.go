package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Store      StoreConfig
	Lock       LockConfig
	Encryption EncryptionConfig
}

// StoreConfig selects and configures the persistent store holding the shared
// token cache.
type StoreConfig struct {
	// Type selects the store implementation: "file" (default), "memory" or
	// "valkey".
	Type string `env:"LOCKBOX_STORE_TYPE, default=file"`

	// Name identifies the cache. For the file store it is the file name
	// inside Dir; for valkey it is the keyspace name.
	Name string `env:"LOCKBOX_CACHE_NAME, default=msal.cache.json"`

	// Dir is the directory holding the cache file. Defaults to the user
	// cache directory when empty.
	Dir string `env:"LOCKBOX_CACHE_DIR"`

	// Valkey holds distributed store settings.
	Valkey ValkeyConfig
}

// ValkeyConfig specifies the Valkey connection.
type ValkeyConfig struct {
	// Address is the Valkey server address (host:port).
	Address string `env:"LOCKBOX_VALKEY_ADDRESS"`

	// TLS enables TLS connection to Valkey. Defaults to true so the secure
	// option is the default.
	TLS bool `env:"LOCKBOX_VALKEY_TLS, default=true"`

	// Username for Valkey authentication.
	Username string `env:"LOCKBOX_VALKEY_USERNAME"`

	// Password for Valkey authentication.
	Password string `env:"LOCKBOX_VALKEY_PASSWORD"`

	// IAMEnabled switches authentication to ElastiCache IAM tokens.
	IAMEnabled bool `env:"LOCKBOX_VALKEY_IAM_ENABLED, default=false"`

	// IAMCacheName is the ElastiCache replication group or serverless cache
	// name used when minting IAM tokens.
	IAMCacheName string `env:"LOCKBOX_VALKEY_IAM_CACHE_NAME"`

	// IAMServerless marks the target as an ElastiCache serverless cache.
	IAMServerless bool `env:"LOCKBOX_VALKEY_IAM_SERVERLESS, default=false"`
}

// LockConfig tunes the cross-process lock guarding cache access.
type LockConfig struct {
	// Type selects the lock implementation: "file" (default) or "valkey".
	// The valkey lock requires the valkey store, whose client it shares.
	Type string `env:"LOCKBOX_LOCK_TYPE, default=file"`

	// Dir is where the file lock places its lock files. Defaults to a
	// lockbox directory under the system temp directory, so processes with
	// the same configuration contend for the same lock files.
	Dir string `env:"LOCKBOX_LOCK_DIR"`

	// RetryDelayMillis is the pause between lock acquisition attempts.
	RetryDelayMillis int `env:"LOCKBOX_LOCK_RETRY_DELAY_MS, default=100"`

	// RetryCount is the number of acquisition attempts before a cycle fails.
	RetryCount int `env:"LOCKBOX_LOCK_RETRY_COUNT, default=60"`

	// TTLSeconds bounds a valkey lock lease, limiting how long a crashed
	// holder can block other processes.
	TTLSeconds int `env:"LOCKBOX_LOCK_TTL_SECS, default=30"`
}

// EncryptionConfig holds settings for encrypting the persisted cache.
type EncryptionConfig struct {
	// Enabled turns on encryption of the stored blob.
	Enabled bool `env:"LOCKBOX_ENCRYPTION_ENABLED, default=false"`

	// KeysetURI is the URI to the encrypted Tink keyset.
	// Format: aws-secretsmanager://secret-name
	KeysetURI string `env:"LOCKBOX_ENCRYPTION_KEYSET_URI"`

	// KMSEnvelopeKeyURI is the AWS KMS key URI for envelope encryption.
	// Format: aws-kms://arn:aws:kms:region:account:key/key-id
	KMSEnvelopeKeyURI string `env:"LOCKBOX_ENCRYPTION_KMS_ENVELOPE_KEY_URI"`

	// KeysetFile is a cleartext JSON keyset on disk, for local development
	// where KMS is unavailable. Takes precedence over KeysetURI.
	KeysetFile string `env:"LOCKBOX_ENCRYPTION_KEYSET_FILE"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "file", "memory":
	case "valkey":
		if c.Store.Valkey.Address == "" {
			return fmt.Errorf("LOCKBOX_VALKEY_ADDRESS required when LOCKBOX_STORE_TYPE=valkey")
		}
		if c.Store.Valkey.IAMEnabled && c.Store.Valkey.IAMCacheName == "" {
			return fmt.Errorf("LOCKBOX_VALKEY_IAM_CACHE_NAME required when IAM auth enabled")
		}
	default:
		return fmt.Errorf("invalid store type %q: must be \"file\", \"memory\" or \"valkey\"", c.Store.Type)
	}

	switch c.Lock.Type {
	case "file":
	case "valkey":
		if c.Store.Type != "valkey" {
			return fmt.Errorf("LOCKBOX_LOCK_TYPE=valkey requires LOCKBOX_STORE_TYPE=valkey")
		}
	default:
		return fmt.Errorf("invalid lock type %q: must be \"file\" or \"valkey\"", c.Lock.Type)
	}

	if c.Encryption.Enabled && c.Encryption.KeysetFile == "" {
		if c.Encryption.KeysetURI == "" {
			return fmt.Errorf("LOCKBOX_ENCRYPTION_KEYSET_URI required when encryption enabled")
		}
		if c.Encryption.KMSEnvelopeKeyURI == "" {
			return fmt.Errorf("LOCKBOX_ENCRYPTION_KMS_ENVELOPE_KEY_URI required when encryption enabled")
		}
	}

	return nil
}
