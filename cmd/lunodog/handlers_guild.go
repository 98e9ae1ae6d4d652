package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/bwmarrin/discordgo"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	"github.com/Leshaka/lunodog-bot/internal/bot"
	"github.com/Leshaka/lunodog-bot/internal/discord"
	"github.com/Leshaka/lunodog-bot/internal/guildconfig"
)

// =============================================================================
// Guild Settings Command Handlers
// =============================================================================

// guildTool bundles what the guild commands need for one guild.
type guildTool struct {
	service *bot.Service
	scope   guildconfig.Scope
	guildID int64
	close   func()
}

func openGuildTool(ctx context.Context, configPath, guild string) (*guildTool, error) {
	guildID, err := strconv.ParseInt(guild, 10, 64)
	if err != nil || guildID <= 0 {
		return nil, fmt.Errorf("invalid guild id %q", guild)
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireDiscord(); err != nil {
		return nil, err
	}
	logger := newLogger(cfg)
	if cfg.Database.Driver == "memory" {
		logger.Warn("database driver is memory, changes will not persist")
	}

	dg, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord client: %w", err)
	}
	scope, err := discord.FetchSnapshot(ctx, dg, guild)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg, nil, cfg.Database.MigrateOnStart())
	if err != nil {
		return nil, err
	}
	publisher, err := openPublisher(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	cleanup := func() {
		if err := publisher.Close(); err != nil {
			slog.Warn("failed to close event publisher", "error", err)
		}
		if err := store.Close(); err != nil {
			slog.Warn("failed to close store", "error", err)
		}
	}

	factory, err := bot.NewGuildSettings(nil,
		guildconfig.WithStore(store),
		guildconfig.WithLogger(logger),
	)
	if err != nil {
		cleanup()
		return nil, err
	}
	svc, err := bot.NewService(factory, bot.Options{Publisher: publisher, Logger: logger})
	if err != nil {
		cleanup()
		return nil, err
	}
	return &guildTool{service: svc, scope: scope, guildID: guildID, close: cleanup}, nil
}

// runGuildShow handles the guild show command.
func runGuildShow(cmd *cobra.Command, configPath, guild, only string, asJSON bool) error {
	tool, err := openGuildTool(cmd.Context(), configPath, guild)
	if err != nil {
		return err
	}
	defer tool.close()

	rendered, err := tool.service.Render(cmd.Context(), tool.guildID, tool.scope)
	if err != nil {
		return err
	}
	factory := tool.service.Factory()
	if only != "" {
		if _, ok := factory.Variable(only); !ok {
			return fmt.Errorf("unknown variable %q", only)
		}
	}

	if asJSON {
		out := rendered
		if only != "" {
			out = map[string]any{only: rendered[only]}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	return renderSettingsTable(cmd.OutOrStdout(), factory, rendered, only)
}

// runGuildSet handles the guild set command.
func runGuildSet(cmd *cobra.Command, configPath, guild, variable, value string) error {
	tool, err := openGuildTool(cmd.Context(), configPath, guild)
	if err != nil {
		return err
	}
	defer tool.close()

	factory := tool.service.Factory()
	if _, ok := factory.Variable(variable); !ok {
		return fmt.Errorf("unknown variable %q", variable)
	}
	err = tool.service.Update(cmd.Context(), tool.guildID, tool.scope, map[string]any{variable: value})
	if msg, ok := guildconfig.UserMessage(err); ok {
		return fmt.Errorf("rejected: %s", msg)
	}
	if err != nil {
		return err
	}

	rendered, err := tool.service.Render(cmd.Context(), tool.guildID, tool.scope)
	if err != nil {
		return err
	}
	return renderSettingsTable(cmd.OutOrStdout(), factory, rendered, variable)
}

// runGuildReset handles the guild reset command.
func runGuildReset(cmd *cobra.Command, configPath, guild string) error {
	tool, err := openGuildTool(cmd.Context(), configPath, guild)
	if err != nil {
		return err
	}
	defer tool.close()

	if err := tool.service.Reset(cmd.Context(), tool.guildID, tool.scope); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Settings of guild %s were reset to defaults.\n", guild)
	return nil
}

// renderSettingsTable prints settings in schema order. A non-empty only
// limits the output to one variable.
func renderSettingsTable(w io.Writer, factory *guildconfig.Factory, rendered map[string]any, only string) error {
	table := tablewriter.NewWriter(w)
	table.Options(
		tablewriter.WithHeader([]string{"Section", "Variable", "Value"}),
		tablewriter.WithAlignment(tw.MakeAlign(3, tw.AlignLeft)),
	)
	for _, v := range factory.Variables() {
		desc := v.Descriptor()
		if only != "" && desc.Name != only {
			continue
		}
		value := "-"
		if s, ok := rendered[desc.Name].(string); ok && s != "" {
			value = s
		}
		if err := table.Append([]string{desc.Section, desc.Name, value}); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	return nil
}
