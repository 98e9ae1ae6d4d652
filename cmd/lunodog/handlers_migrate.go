package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	"github.com/Leshaka/lunodog-bot/internal/config"
	"github.com/Leshaka/lunodog-bot/internal/storage"
)

// =============================================================================
// Migration Command Handlers
// =============================================================================

// openMigrator opens the configured SQL store without migrating it.
func openMigrator(ctx context.Context, cfg *config.Config) (*storage.Migrator, func() error, error) {
	db := cfg.Database
	store, err := storage.Open(ctx, db.Driver, db.URL, poolConfig(db), false)
	if err != nil {
		return nil, nil, err
	}
	sqlStore, ok := store.(*storage.SQLRecordStore)
	if !ok {
		_ = store.Close()
		return nil, nil, fmt.Errorf("database driver %q has no migrations", db.Driver)
	}
	migrator, err := storage.NewMigrator(sqlStore.DB(), sqlStore.Dialect())
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to initialize migrator: %w", err)
	}
	return migrator, store.Close, nil
}

// runMigrateUp handles the migrate up command.
func runMigrateUp(cmd *cobra.Command, configPath string, steps int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	slog.Info("running database migrations",
		"driver", cfg.Database.Driver,
		"steps", steps,
	)
	migrator, closeStore, err := openMigrator(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	applied, err := migrator.Up(cmd.Context(), steps)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations.")
		return nil
	}
	for _, id := range applied {
		slog.Info("applied migration", "id", id)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", len(applied))
	return nil
}

// runMigrateDown handles the migrate down command.
func runMigrateDown(cmd *cobra.Command, configPath string, steps int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	slog.Warn("rolling back migrations",
		"driver", cfg.Database.Driver,
		"steps", steps,
	)
	migrator, closeStore, err := openMigrator(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	rolled, err := migrator.Down(cmd.Context(), steps)
	if err != nil {
		return err
	}
	if len(rolled) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No migrations to roll back.")
		return nil
	}
	for _, id := range rolled {
		slog.Info("rolled back migration", "id", id)
	}
	return nil
}

// runMigrateStatus handles the migrate status command.
func runMigrateStatus(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	migrator, closeStore, err := openMigrator(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	applied, pending, err := migrator.Status(cmd.Context())
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Options(
		tablewriter.WithHeader([]string{"Migration", "Status", "Applied At"}),
		tablewriter.WithAlignment(tw.MakeAlign(3, tw.AlignLeft)),
	)
	for _, entry := range applied {
		if err := table.Append([]string{entry.ID, "applied", entry.AppliedAt.Format(time.RFC3339)}); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}
	for _, entry := range pending {
		if err := table.Append([]string{entry.ID, "pending", ""}); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	return nil
}
