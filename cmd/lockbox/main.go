// Operator utility for the shared token cache: inspect or clear the persisted
// cache, and probe the cross-process lock, using the same configuration as
// the embedding application.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chinmina/lockbox"
	"github.com/chinmina/lockbox/internal/config"
)

func main() {
	configureLogging()
	logBuildInfo()

	if err := run(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func run(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: lockbox <show|clear|probe>")
	}

	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	sync, err := lockbox.NewFromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("cache configuration failed: %w", err)
	}
	defer sync.Close()

	switch args[0] {
	case "show":
		return show(ctx, sync)
	case "clear":
		return clear(ctx, sync)
	case "probe":
		return probe(ctx, sync)
	default:
		return fmt.Errorf("unknown command %q: expected show, clear or probe", args[0])
	}
}

// show lists the cache entries without printing their contents: the values
// are credentials.
func show(ctx context.Context, sync *lockbox.Synchronizer) error {
	return sync.Do(ctx, func(c *lockbox.Cache) error {
		fmt.Printf("store: %s\n", sync.Store())
		fmt.Printf("entries: %d\n", c.Len())
		for _, key := range c.Keys() {
			data, _ := c.Get(key)
			fmt.Printf("  %s (%d bytes)\n", key, len(data))
		}
		return nil
	})
}

func clear(ctx context.Context, sync *lockbox.Synchronizer) error {
	return sync.Do(ctx, func(c *lockbox.Cache) error {
		n := c.Len()
		c.Clear()
		fmt.Printf("cleared %d entries from %s\n", n, sync.Store())
		return nil
	})
}

// probe runs an empty access cycle, verifying that the lock can be acquired
// and the persisted cache decoded.
func probe(ctx context.Context, sync *lockbox.Synchronizer) error {
	err := sync.Do(ctx, func(c *lockbox.Cache) error {
		fmt.Printf("ok: %s (%d entries)\n", sync.Store(), c.Len())
		return nil
	})
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	return nil
}

func configureLogging() {
	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Debug()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}
	ev.Msg("build information")
}
