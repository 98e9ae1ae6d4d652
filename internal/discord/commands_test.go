package discord

import (
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/Leshaka/lunodog-bot/internal/guildconfig"
	"github.com/Leshaka/lunodog-bot/internal/ratelimit"
)

const testGuild = "4242"

func testSnapshot() *guildconfig.Snapshot {
	return guildconfig.NewSnapshot(
		[]*discordgo.Role{{ID: "10", Name: "Admins"}, {ID: "11", Name: "Mods"}},
		[]*discordgo.Channel{{ID: "20", Name: "mod-log", Type: discordgo.ChannelTypeGuildText}},
		[]*discordgo.Emoji{{ID: "30", Name: "lunodog"}},
	)
}

func commandInteraction(guildID, sub string, opts map[string]string) *discordgo.Interaction {
	var options []*discordgo.ApplicationCommandInteractionDataOption
	for name, value := range opts {
		options = append(options, &discordgo.ApplicationCommandInteractionDataOption{
			Name:  name,
			Type:  discordgo.ApplicationCommandOptionString,
			Value: value,
		})
	}
	return &discordgo.Interaction{
		ID:      "interaction-1",
		Type:    discordgo.InteractionApplicationCommand,
		GuildID: guildID,
		Member:  &discordgo.Member{User: &discordgo.User{ID: "7", Username: "admin"}},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: "config",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{{
				Name:    sub,
				Type:    discordgo.ApplicationCommandOptionSubCommand,
				Options: options,
			}},
		},
	}
}

type commandFixture struct {
	adapter *Adapter
	session *mockDiscordSession
	metrics *recordingMetrics
}

func newCommandFixture(t *testing.T) *commandFixture {
	t.Helper()
	mock := &mockDiscordSession{}
	metrics := &recordingMetrics{}
	adapter := newTestAdapter(t, mock, metrics)
	adapter.scopeFor = func(string) guildconfig.Scope { return testSnapshot() }
	adapter.SetConfigService(newTestService(t))
	adapter.handleReady(nil, &discordgo.Ready{User: &discordgo.User{ID: "app"}})
	return &commandFixture{adapter: adapter, session: mock, metrics: metrics}
}

func (f *commandFixture) run(t *testing.T, guildID, sub string, opts map[string]string) *discordgo.InteractionResponseData {
	t.Helper()
	f.adapter.handleInteractionCreate(nil, &discordgo.InteractionCreate{Interaction: commandInteraction(guildID, sub, opts)})
	resp := f.session.lastResponse(t)
	if resp.Flags&discordgo.MessageFlagsEphemeral == 0 {
		t.Errorf("response is not ephemeral")
	}
	return resp
}

func TestConfigCommandDefinition(t *testing.T) {
	svc := newTestService(t)
	cmd := configCommand("config", svc.Factory())

	if cmd.Name != "config" {
		t.Fatalf("Name = %q", cmd.Name)
	}
	if cmd.DefaultMemberPermissions == nil || *cmd.DefaultMemberPermissions != discordgo.PermissionManageGuild {
		t.Errorf("DefaultMemberPermissions = %v", cmd.DefaultMemberPermissions)
	}
	if cmd.DMPermission == nil || *cmd.DMPermission {
		t.Error("command should not be usable in DMs")
	}

	subs := map[string]*discordgo.ApplicationCommandOption{}
	for _, opt := range cmd.Options {
		subs[opt.Name] = opt
	}
	for _, name := range []string{subShow, subSet, subReset} {
		if subs[name] == nil || subs[name].Type != discordgo.ApplicationCommandOptionSubCommand {
			t.Fatalf("missing subcommand %q", name)
		}
	}

	variable := subs[subSet].Options[0]
	if !variable.Required || len(variable.Choices) != len(svc.Factory().Variables()) {
		t.Errorf("set variable option = %+v", variable)
	}
	if variable.Choices[0].Name != "Command prefix" || variable.Choices[0].Value != "prefix" {
		t.Errorf("first choice = %+v", variable.Choices[0])
	}
}

func TestConfigCommandShow(t *testing.T) {
	f := newCommandFixture(t)

	resp := f.run(t, testGuild, subShow, nil)
	for _, want := range []string{
		"__General__",
		"**Command prefix** (`prefix`): !",
		"**Admin role** (`admin_role`): *not set*",
		"**Voice volume** (`volume`): 50",
	} {
		if !strings.Contains(resp.Content, want) {
			t.Errorf("show output missing %q:\n%s", want, resp.Content)
		}
	}
	if strings.Count(resp.Content, "__Moderation__") != 1 {
		t.Errorf("moderation section should appear once:\n%s", resp.Content)
	}

	resp = f.run(t, testGuild, subShow, map[string]string{"variable": "language"})
	if resp.Content != "**Language** (`language`): English" && !strings.HasPrefix(resp.Content, "**Language** (`language`): English\n") {
		t.Errorf("show language = %q", resp.Content)
	}
	if f.metrics.commands["config show"] != "success" {
		t.Errorf("command metrics = %v", f.metrics.commands)
	}
}

func TestConfigCommandSet(t *testing.T) {
	f := newCommandFixture(t)

	resp := f.run(t, testGuild, subSet, map[string]string{"variable": "admin_role", "value": "admins"})
	if !strings.HasPrefix(resp.Content, "Updated.") || !strings.Contains(resp.Content, "Admins") {
		t.Fatalf("set response = %q", resp.Content)
	}
	if f.metrics.commands["config set"] != "success" {
		t.Errorf("command metrics = %v", f.metrics.commands)
	}

	resp = f.run(t, testGuild, subShow, map[string]string{"variable": "admin_role"})
	if !strings.Contains(resp.Content, "Admins") {
		t.Errorf("update not visible in show: %q", resp.Content)
	}

	resp = f.run(t, testGuild, subSet, map[string]string{"variable": "volume", "value": "500"})
	if !strings.Contains(resp.Content, "between 0 and 100") {
		t.Errorf("validation reply = %q", resp.Content)
	}
	if f.metrics.commands["config set"] != "rejected" {
		t.Errorf("command metrics = %v", f.metrics.commands)
	}
}

func TestConfigCommandReset(t *testing.T) {
	f := newCommandFixture(t)

	f.run(t, testGuild, subSet, map[string]string{"variable": "prefix", "value": "?"})
	resp := f.run(t, testGuild, subReset, nil)
	if !strings.Contains(resp.Content, "reset") {
		t.Fatalf("reset response = %q", resp.Content)
	}
	resp = f.run(t, testGuild, subShow, map[string]string{"variable": "prefix"})
	if !strings.Contains(resp.Content, "(`prefix`): !") {
		t.Errorf("prefix after reset = %q", resp.Content)
	}
}

func TestConfigCommandUnavailable(t *testing.T) {
	tests := []struct {
		name     string
		prepare  func(a *Adapter)
		guildID  string
		want     string
		wantStat string
	}{
		{
			name:     "not connected",
			prepare:  func(a *Adapter) { a.handleDisconnect(nil, &discordgo.Disconnect{}) },
			guildID:  testGuild,
			want:     replyConnecting,
			wantStat: "unavailable",
		},
		{
			name:     "direct message",
			prepare:  func(a *Adapter) {},
			guildID:  "",
			want:     replyGuildOnly,
			wantStat: "rejected",
		},
		{
			name:     "malformed guild id",
			prepare:  func(a *Adapter) {},
			guildID:  "not-a-snowflake",
			want:     replyFailed,
			wantStat: "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCommandFixture(t)
			tt.prepare(f.adapter)
			resp := f.run(t, tt.guildID, subShow, nil)
			if resp.Content != tt.want {
				t.Errorf("reply = %q, want %q", resp.Content, tt.want)
			}
			if f.metrics.commands["config show"] != tt.wantStat {
				t.Errorf("status = %q, want %q", f.metrics.commands["config show"], tt.wantStat)
			}
		})
	}
}

func TestConfigCommandIgnoresOtherCommands(t *testing.T) {
	f := newCommandFixture(t)
	i := commandInteraction(testGuild, subShow, nil)
	i.Data = discordgo.ApplicationCommandInteractionData{Name: "ping"}

	f.adapter.handleInteractionCreate(nil, &discordgo.InteractionCreate{Interaction: i})
	if len(f.session.responses) != 0 {
		t.Fatalf("responded to an unrelated command")
	}
}

func TestFormatSettingsUnknownVariable(t *testing.T) {
	svc := newTestService(t)
	got := formatSettings(svc.Factory(), map[string]any{}, "nope")
	if got != "Unknown variable 'nope'." {
		t.Errorf("formatSettings() = %q", got)
	}
}

func TestConfigCommandThrottlesChanges(t *testing.T) {
	f := newCommandFixture(t)
	f.adapter.limiter = ratelimit.NewLimiter(ratelimit.Config{PerMinute: 1, Burst: 1})

	f.run(t, testGuild, subSet, map[string]string{"variable": "prefix", "value": "?"})
	if f.metrics.commands["config set"] != "success" {
		t.Fatalf("first change status = %q", f.metrics.commands["config set"])
	}

	resp := f.run(t, testGuild, subSet, map[string]string{"variable": "prefix", "value": "$"})
	if !strings.HasPrefix(resp.Content, "You are changing settings too quickly") {
		t.Errorf("throttled reply = %q", resp.Content)
	}
	if f.metrics.commands["config set"] != "throttled" {
		t.Errorf("status = %q, want throttled", f.metrics.commands["config set"])
	}

	// Reading is never throttled.
	resp = f.run(t, testGuild, subShow, map[string]string{"variable": "prefix"})
	if !strings.Contains(resp.Content, "(`prefix`): ?") {
		t.Errorf("show after throttle = %q", resp.Content)
	}
}
