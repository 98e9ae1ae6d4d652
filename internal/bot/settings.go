// Package bot holds the guild settings schema of the lunodog bot and the
// service that keeps live guild configs in memory.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/Leshaka/lunodog-bot/internal/guildconfig"
)

// SettingsSchema is the factory name of the guild settings schema.
const SettingsSchema = "guild"

// SettingsVersion is stored in every settings record.
const SettingsVersion = 1

// MaxMuteDuration matches the longest timeout Discord accepts.
const MaxMuteDuration = 28 * 24 * time.Hour

// Languages the bot can answer in.
var Languages = []string{"English", "Русский", "Українська", "Deutsch"}

// Notifier posts a message to a guild text channel.
type Notifier interface {
	Announce(ctx context.Context, channelID, message string) error
}

// NewGuildSettings builds the guild settings factory. notifier may be nil,
// in which case change announcements are skipped.
func NewGuildSettings(notifier Notifier, opts ...guildconfig.FactoryOption) (*guildconfig.Factory, error) {
	h := &settingsHooks{notifier: notifier}
	prefixHook := guildconfig.NewHook("announce-prefix", h.prefixChanged)
	rolesHook := guildconfig.NewHook("announce-roles", h.rolesChanged)

	vars := []guildconfig.Variable{
		guildconfig.NewStrVar("prefix",
			guildconfig.WithDefault("!"),
			guildconfig.NotNull(),
			guildconfig.WithDisplay("Command prefix"),
			guildconfig.WithDescription("Characters that start a text command."),
			guildconfig.WithSection("general"),
			guildconfig.OnChange(prefixHook),
			guildconfig.WithVerify(func(v any) bool {
				s, _ := v.(string)
				return utf8.RuneCountInString(s) <= 3 && !strings.ContainsAny(s, " \t\n")
			}, "Prefix must be at most 3 characters without spaces."),
		),
		guildconfig.NewOptionVar("language", Languages,
			guildconfig.WithDefault("English"),
			guildconfig.NotNull(),
			guildconfig.WithDisplay("Language"),
			guildconfig.WithSection("general"),
		),
		guildconfig.NewBoolVar("announcements",
			guildconfig.WithDefault(true),
			guildconfig.WithDisplay("Announce setting changes"),
			guildconfig.WithDescription("Post a note to the log channel when moderation settings change."),
			guildconfig.WithSection("general"),
		),
		guildconfig.NewEmojiVar("reaction_emoji",
			guildconfig.WithDefault("👍"),
			guildconfig.WithDisplay("Reaction emoji"),
			guildconfig.WithSection("general"),
		),
		guildconfig.NewRoleVar("admin_role",
			guildconfig.WithDisplay("Admin role"),
			guildconfig.WithDescription("Members with this role can change every setting."),
			guildconfig.WithSection("moderation"),
			guildconfig.OnChange(rolesHook),
		),
		guildconfig.NewRoleVar("moderator_role",
			guildconfig.WithDisplay("Moderator role"),
			guildconfig.WithSection("moderation"),
			guildconfig.OnChange(rolesHook),
		),
		guildconfig.NewTextChannelVar("log_channel",
			guildconfig.WithDisplay("Log channel"),
			guildconfig.WithSection("moderation"),
		),
		guildconfig.NewDurationVar("mute_duration",
			guildconfig.WithDefault(3600),
			guildconfig.NotNull(),
			guildconfig.WithDisplay("Default mute duration"),
			guildconfig.WithSection("moderation"),
			guildconfig.WithVerify(func(v any) bool {
				d, _ := v.(time.Duration)
				return d > 0 && d <= MaxMuteDuration
			}, "Mute duration must be between 1 second and 28 days."),
		),
		guildconfig.NewSliderVar("volume", 0, 100, "%",
			guildconfig.WithDefault(50),
			guildconfig.WithDisplay("Voice volume"),
			guildconfig.WithSection("voice"),
		),
		guildconfig.NewDurationVar("reminder_delay",
			guildconfig.WithDefault(900),
			guildconfig.WithDisplay("Reminder delay"),
			guildconfig.WithDescription("How long to wait before repeating an unanswered reminder."),
			guildconfig.WithSection("voice"),
		),
		guildconfig.NewTable("auto_roles", []guildconfig.Variable{
			guildconfig.NewRoleVar("role", guildconfig.NotNull(), guildconfig.WithDisplay("Role")),
			guildconfig.NewDurationVar("delay", guildconfig.WithDefault(0), guildconfig.WithDisplay("Delay")),
		},
			guildconfig.WithDisplay("Auto roles"),
			guildconfig.WithDescription("Roles given to new members, optionally after a delay."),
			guildconfig.WithSection("moderation"),
		).WithBlankRow(map[string]any{"role": nil, "delay": "0s"}),
	}

	opts = append([]guildconfig.FactoryOption{
		guildconfig.WithFactoryDisplay("Guild settings"),
		guildconfig.WithIcon("settings"),
		guildconfig.WithVersion(SettingsVersion),
	}, opts...)
	return guildconfig.NewFactory(SettingsSchema, vars, opts...)
}

type settingsHooks struct {
	notifier Notifier
}

func (h *settingsHooks) prefixChanged(ctx context.Context, cfg *guildconfig.Config) error {
	return h.announce(ctx, cfg, fmt.Sprintf("Command prefix is now `%s`.", cfg.String("prefix")))
}

func (h *settingsHooks) rolesChanged(ctx context.Context, cfg *guildconfig.Config) error {
	msg := fmt.Sprintf("Moderation roles updated: admin %s, moderator %s.",
		roleMention(cfg.Role("admin_role")),
		roleMention(cfg.Role("moderator_role")),
	)
	return h.announce(ctx, cfg, msg)
}

func (h *settingsHooks) announce(ctx context.Context, cfg *guildconfig.Config, msg string) error {
	if h.notifier == nil || !cfg.Bool("announcements") {
		return nil
	}
	ch := cfg.Channel("log_channel")
	if ch == nil {
		return nil
	}
	return h.notifier.Announce(ctx, ch.ID, msg)
}

func roleMention(role *discordgo.Role) string {
	if role == nil {
		return "none"
	}
	return role.Mention()
}
