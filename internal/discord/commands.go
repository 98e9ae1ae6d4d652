package discord

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/Leshaka/lunodog-bot/internal/guildconfig"
	"github.com/Leshaka/lunodog-bot/internal/observability"
	"github.com/Leshaka/lunodog-bot/internal/ratelimit"
)

const (
	maxMessageLength = 2000
	maxChoices       = 25

	replyConnecting = "The bot is still connecting to Discord, try again in a moment."
	replyFailed     = "Something went wrong while handling the command. The error has been logged."
	replyGuildOnly  = "This command can only be used in a server."
	replyThrottled  = "You are changing settings too quickly, try again in %s."
)

// Subcommands of the config command.
const (
	subShow  = "show"
	subSet   = "set"
	subReset = "reset"
)

// configCommand builds the slash command. Variable names are offered as
// choices so administrators cannot mistype them.
func configCommand(name string, factory *guildconfig.Factory) *discordgo.ApplicationCommand {
	var choices []*discordgo.ApplicationCommandOptionChoice
	for _, v := range factory.Variables() {
		if len(choices) == maxChoices {
			break
		}
		desc := v.Descriptor()
		label := desc.Name
		if desc.Display != "" {
			label = desc.Display
		}
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: label, Value: desc.Name})
	}

	manageGuild := int64(discordgo.PermissionManageGuild)
	dmPermission := false
	title := factory.Display()
	if title == "" {
		title = factory.Name()
	}
	return &discordgo.ApplicationCommand{
		Name:                     name,
		Description:              "View or change " + strings.ToLower(title),
		DefaultMemberPermissions: &manageGuild,
		DMPermission:             &dmPermission,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subShow,
				Description: "Show current settings",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "variable",
						Description: "Only show this setting",
						Choices:     choices,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subSet,
				Description: "Change a setting",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "variable",
						Description: "Setting to change",
						Required:    true,
						Choices:     choices,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "value",
						Description: "New value, or none to clear it",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subReset,
				Description: "Restore every setting to its default",
			},
		},
	}
}

// handleConfigCommand runs one invocation of the config command and replies
// ephemerally. Validation failures are shown to the caller as-is; anything
// else is logged and answered with a generic message.
func (a *Adapter) handleConfigCommand(i *discordgo.Interaction) {
	start := time.Now()
	data := i.ApplicationCommandData()
	sub, opts := subcommand(data)
	command := data.Name + " " + sub
	userID := ""
	if user := interactionUser(i); user != nil {
		userID = user.ID
	}

	ctx := observability.AddRequestID(a.baseContext(), uuid.NewString())
	ctx = observability.AddGuildID(ctx, i.GuildID)
	ctx = observability.AddUserID(ctx, userID)
	ctx, span := a.tracer.TraceCommand(ctx, command, i.GuildID)
	defer span.End()

	content, status, err := a.runConfigCommand(ctx, i.GuildID, userID, sub, opts)
	if err != nil {
		a.tracer.RecordError(span, err)
		a.logger.ErrorContext(ctx, "config command failed",
			"command", command,
			"trace_id", observability.GetTraceID(ctx),
			"error", err)
	}
	if respondErr := a.respond(i, content); respondErr != nil {
		a.metrics.RecordError("discord", "respond_failed")
		a.logger.ErrorContext(ctx, "failed to respond to interaction",
			"command", command,
			"error", respondErr)
	}
	a.metrics.RecordCommand(command, status, time.Since(start).Seconds())
}

// runConfigCommand returns the reply, a status label for metrics, and any
// error that should be logged.
func (a *Adapter) runConfigCommand(ctx context.Context, guild, userID, sub string, opts map[string]string) (string, string, error) {
	a.mu.RLock()
	configs := a.configs
	a.mu.RUnlock()

	if configs == nil || !a.Ready() {
		return replyConnecting, "unavailable", nil
	}
	if guild == "" {
		return replyGuildOnly, "rejected", nil
	}
	guildID, err := strconv.ParseInt(guild, 10, 64)
	if err != nil {
		return replyFailed, "error", fmt.Errorf("invalid guild id %q: %w", guild, err)
	}
	if sub == subSet || sub == subReset {
		if ok, wait := a.limiter.Allow(ratelimit.Key(guild, userID)); !ok {
			return fmt.Sprintf(replyThrottled, guildconfig.FormatDuration(wait.Truncate(time.Second)+time.Second)), "throttled", nil
		}
	}
	scope := a.scope(guild)
	factory := configs.Factory()

	switch sub {
	case subShow:
		rendered, err := configs.Render(ctx, guildID, scope)
		if err != nil {
			return replyFailed, "error", err
		}
		return formatSettings(factory, rendered, opts["variable"]), "success", nil

	case subSet:
		name := opts["variable"]
		err := configs.Update(ctx, guildID, scope, map[string]any{name: opts["value"]})
		if msg, ok := guildconfig.UserMessage(err); ok {
			return msg, "rejected", nil
		}
		if err != nil {
			return replyFailed, "error", err
		}
		rendered, err := configs.Render(ctx, guildID, scope)
		if err != nil {
			return replyFailed, "error", err
		}
		return "Updated.\n" + formatSettings(factory, rendered, name), "success", nil

	case subReset:
		if err := configs.Reset(ctx, guildID, scope); err != nil {
			return replyFailed, "error", err
		}
		return "All settings were reset to their defaults.", "success", nil
	}
	return replyFailed, "error", fmt.Errorf("unknown subcommand %q", sub)
}

func (a *Adapter) respond(i *discordgo.Interaction, content string) error {
	a.mu.RLock()
	session := a.session
	a.mu.RUnlock()
	if session == nil {
		return fmt.Errorf("discord: no session")
	}
	return session.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: truncate(content, maxMessageLength),
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

func subcommand(data discordgo.ApplicationCommandInteractionData) (string, map[string]string) {
	opts := map[string]string{}
	if len(data.Options) == 0 {
		return "", opts
	}
	sub := data.Options[0]
	for _, opt := range sub.Options {
		if opt.Type == discordgo.ApplicationCommandOptionString {
			opts[opt.Name] = opt.StringValue()
		}
	}
	return sub.Name, opts
}

func interactionUser(i *discordgo.Interaction) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

// formatSettings renders settings grouped by section, sections in order of
// first appearance. With only set, just that variable is shown along with
// its description.
func formatSettings(factory *guildconfig.Factory, rendered map[string]any, only string) string {
	var sections []string
	grouped := map[string][]guildconfig.Variable{}
	for _, v := range factory.Variables() {
		desc := v.Descriptor()
		if only != "" && desc.Name != only {
			continue
		}
		if _, seen := grouped[desc.Section]; !seen {
			sections = append(sections, desc.Section)
		}
		grouped[desc.Section] = append(grouped[desc.Section], v)
	}
	if len(sections) == 0 {
		return fmt.Sprintf("Unknown variable '%s'.", only)
	}

	var b strings.Builder
	for _, section := range sections {
		if only == "" && section != "" {
			fmt.Fprintf(&b, "__%s__\n", strings.ToUpper(section[:1])+section[1:])
		}
		for _, v := range grouped[section] {
			writeSetting(&b, v, rendered[v.Descriptor().Name], only != "")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeSetting(b *strings.Builder, v guildconfig.Variable, rendered any, detailed bool) {
	desc := v.Descriptor()
	label := desc.Display
	if label == "" {
		label = desc.Name
	}
	value, _ := rendered.(string)
	switch {
	case value == "":
		fmt.Fprintf(b, "**%s** (`%s`): *not set*\n", label, desc.Name)
	case v.Kind() == guildconfig.KindTable:
		fmt.Fprintf(b, "**%s** (`%s`):\n```json\n%s\n```\n", label, desc.Name, value)
	default:
		fmt.Fprintf(b, "**%s** (`%s`): %s\n", label, desc.Name, value)
	}
	if detailed && desc.Description != "" {
		fmt.Fprintf(b, "%s\n", desc.Description)
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - len("…")
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
