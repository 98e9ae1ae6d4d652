// Package main provides the CLI entry point for the lunodog Discord bot.
//
// lunodog keeps per-guild settings in a SQL database and lets server
// administrators change them with the /config slash command.
//
// # Basic Usage
//
// Start the bot:
//
//	lunodog serve --config lunodog.yaml
//
// Manage database migrations:
//
//	lunodog migrate up
//	lunodog migrate status
//
// Inspect or change a guild's settings from a shell:
//
//	lunodog guild show 123456789012345678
//	lunodog guild set 123456789012345678 prefix ?
//
// # Environment Variables
//
//   - LUNODOG_CONFIG: Path to configuration file (default: lunodog.yaml)
//   - DISCORD_BOT_TOKEN: Discord bot token
//   - LUNODOG_DATABASE_URL: Database connection string
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Leshaka/lunodog-bot/internal/config"
	"github.com/Leshaka/lunodog-bot/internal/events"
	"github.com/Leshaka/lunodog-bot/internal/observability"
	"github.com/Leshaka/lunodog-bot/internal/storage"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lunodog",
		Short: "lunodog - per-guild settings for a Discord bot",
		Long: `lunodog is a Discord bot whose behaviour is configured per guild.

Administrators change settings with the /config slash command; operators
can inspect and edit the same settings from this CLI.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildGuildCmd(),
		buildSchemaCmd(),
		buildConfigSchemaCmd(),
	)
	return rootCmd
}

// loadConfig resolves and loads the configuration file.
func loadConfig(path string) (*config.Config, error) {
	path = config.ResolvePath(path)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    os.Stderr,
		AddSource: cfg.Logging.AddSource,
	})
}

func poolConfig(db config.DatabaseConfig) *storage.PostgresConfig {
	return &storage.PostgresConfig{
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
		ConnMaxIdleTime: db.ConnMaxIdleTime,
		ConnectTimeout:  db.ConnectTimeout,
	}
}

// openStore opens the configured record store, instrumented and, when Redis
// is configured, cached. observer may be nil.
func openStore(ctx context.Context, cfg *config.Config, observer storage.QueryObserver, migrate bool) (storage.RecordStore, error) {
	db := cfg.Database
	base, err := storage.Open(ctx, db.Driver, db.URL, poolConfig(db), migrate)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", db.Driver, err)
	}

	var store storage.RecordStore = storage.Instrument(base, observer)
	if db.Cache.Enabled() {
		cached, err := storage.NewCachedRecordStore(ctx, store, storage.CacheConfig{
			URL:       db.Cache.URL,
			Addr:      db.Cache.Addr,
			Password:  db.Cache.Password,
			DB:        db.Cache.DB,
			TTL:       db.Cache.TTL,
			KeyPrefix: db.Cache.KeyPrefix,
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("open record cache: %w", err)
		}
		store = cached
	}
	return store, nil
}

// openPublisher returns a NATS publisher when events are configured and a
// no-op publisher otherwise.
func openPublisher(cfg *config.Config) (events.Publisher, error) {
	if cfg.Events.NATSURL == "" {
		return &events.NoopPublisher{}, nil
	}
	return events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
}
