package lockbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/rs/zerolog/log"
	"github.com/tink-crypto/tink-go/v2/tink"
	"github.com/valkey-io/valkey-go"

	"github.com/chinmina/lockbox/internal/config"
	"github.com/chinmina/lockbox/internal/encryption"
	"github.com/chinmina/lockbox/internal/lock"
	"github.com/chinmina/lockbox/internal/store"
)

// NewFromConfig builds a Synchronizer from environment-driven configuration:
// store selection, optional encryption at rest, operation metrics, and the
// cross-process lock. Close the Synchronizer to release store resources.
func NewFromConfig(ctx context.Context, cfg config.Config) (*Synchronizer, error) {
	st, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// The valkey lock shares the raw store's client, so the locker is built
	// before the store is wrapped.
	locker, err := newLocker(cfg, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	if cfg.Encryption.Enabled {
		aead, err := newAEAD(ctx, cfg.Encryption)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("initializing encryption: %w", err)
		}

		encrypted, err := store.NewEncrypted(st, aead)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("wrapping store with encryption: %w", err)
		}
		st = encrypted

		log.Info().Msg("cache encryption enabled")
	}

	instrumented := store.NewInstrumented(st, cfg.Store.Type)

	sync, err := New(ctx, instrumented, Options{Locker: locker})
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return sync, nil
}

func newStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Store.Type {
	case "file":
		dir := cfg.Store.Dir
		if dir == "" {
			base, err := os.UserCacheDir()
			if err != nil {
				return nil, fmt.Errorf("resolving user cache directory: %w", err)
			}
			dir = filepath.Join(base, "lockbox")
		}

		log.Info().
			Str("store_type", "file").
			Str("dir", dir).
			Str("name", cfg.Store.Name).
			Msg("initializing file store")

		return store.NewFile(filepath.Join(dir, cfg.Store.Name))

	case "memory":
		log.Info().
			Str("store_type", "memory").
			Msg("initializing in-memory store")

		return store.NewMemory(cfg.Store.Name, 0)

	case "valkey":
		log.Info().
			Str("store_type", "valkey").
			Str("address", cfg.Store.Valkey.Address).
			Bool("tls", cfg.Store.Valkey.TLS).
			Bool("iam_enabled", cfg.Store.Valkey.IAMEnabled).
			Msg("initializing valkey store")

		client, err := newValkeyClient(ctx, cfg.Store.Valkey)
		if err != nil {
			return nil, err
		}

		st, err := store.NewValkey(client, cfg.Store.Name)
		if err != nil {
			client.Close()
			return nil, err
		}
		return st, nil

	default:
		return nil, fmt.Errorf("invalid store type %q", cfg.Store.Type)
	}
}

func newValkeyClient(ctx context.Context, cfg config.ValkeyConfig) (valkey.Client, error) {
	opts := valkey.ClientOption{
		InitAddress: []string{cfg.Address},
	}

	if cfg.IAMEnabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config for IAM auth: %w", err)
		}

		credsFn, err := store.IAMCredentialsFn(cfg.Username, cfg.IAMCacheName, cfg.IAMServerless, awsCfg)
		if err != nil {
			return nil, fmt.Errorf("configuring IAM credentials: %w", err)
		}
		opts.AuthCredentialsFn = credsFn
		opts.ConnLifetime = 11 * time.Hour
	} else {
		opts.AuthCredentialsFn = store.StaticCredentialsFn(cfg.Username, cfg.Password)
	}

	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	client, err := valkey.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("creating valkey client: %w", err)
	}
	return client, nil
}

func newAEAD(ctx context.Context, cfg config.EncryptionConfig) (tink.AEAD, error) {
	if cfg.KeysetFile != "" {
		return encryption.NewRefreshableAEADFromFile(ctx, cfg.KeysetFile)
	}
	return encryption.NewRefreshableAEAD(ctx, cfg.KeysetURI, cfg.KMSEnvelopeKeyURI)
}

func newLocker(cfg config.Config, st store.Store) (lock.Locker, error) {
	retryDelay := time.Duration(cfg.Lock.RetryDelayMillis) * time.Millisecond
	retryCount := cfg.Lock.RetryCount

	switch cfg.Lock.Type {
	case "file":
		dir := cfg.Lock.Dir
		if dir == "" {
			dir = defaultLockDir()
		}
		return lock.NewFileLocker(dir, retryDelay, retryCount)

	case "valkey":
		vs, ok := st.(interface{ Client() valkey.Client })
		if !ok {
			return nil, fmt.Errorf("valkey lock requires the valkey store")
		}
		ttl := time.Duration(cfg.Lock.TTLSeconds) * time.Second
		return lock.NewValkeyLocker(vs.Client(), ttl, retryDelay, retryCount)

	default:
		return nil, fmt.Errorf("invalid lock type %q", cfg.Lock.Type)
	}
}

func defaultLockDir() string {
	return filepath.Join(os.TempDir(), "lockbox")
}
