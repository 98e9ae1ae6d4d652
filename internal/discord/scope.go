package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/Leshaka/lunodog-bot/internal/guildconfig"
)

// StateScope resolves config variables against a guild held in the gateway
// state cache. Every call copies the current lists under the state's read
// lock, so results track role and channel changes without blocking writers.
type StateScope struct {
	state   *discordgo.State
	guildID string
}

// NewStateScope returns a scope over one guild of state.
func NewStateScope(state *discordgo.State, guildID string) *StateScope {
	return &StateScope{state: state, guildID: guildID}
}

func (s *StateScope) guild() *discordgo.Guild {
	if s == nil || s.state == nil {
		return nil
	}
	g, err := s.state.Guild(s.guildID)
	if err != nil {
		return nil
	}
	return g
}

func (s *StateScope) Roles() []*discordgo.Role {
	g := s.guild()
	if g == nil {
		return nil
	}
	s.state.RLock()
	defer s.state.RUnlock()
	return append([]*discordgo.Role(nil), g.Roles...)
}

func (s *StateScope) Channels() []*discordgo.Channel {
	g := s.guild()
	if g == nil {
		return nil
	}
	s.state.RLock()
	defer s.state.RUnlock()
	return append([]*discordgo.Channel(nil), g.Channels...)
}

func (s *StateScope) Emojis() []*discordgo.Emoji {
	g := s.guild()
	if g == nil {
		return nil
	}
	s.state.RLock()
	defer s.state.RUnlock()
	return append([]*discordgo.Emoji(nil), g.Emojis...)
}

var _ guildconfig.Scope = (*StateScope)(nil)

// GuildFetcher is the REST subset of *discordgo.Session FetchSnapshot uses.
type GuildFetcher interface {
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	GuildEmojis(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Emoji, error)
}

// FetchSnapshot reads a guild's roles, channels and emoji over REST. It is
// used by tools that run without a gateway connection.
func FetchSnapshot(ctx context.Context, client GuildFetcher, guildID string) (*guildconfig.Snapshot, error) {
	opt := discordgo.WithContext(ctx)
	roles, err := client.GuildRoles(guildID, opt)
	if err != nil {
		return nil, fmt.Errorf("fetch roles of guild %s: %w", guildID, err)
	}
	channels, err := client.GuildChannels(guildID, opt)
	if err != nil {
		return nil, fmt.Errorf("fetch channels of guild %s: %w", guildID, err)
	}
	emojis, err := client.GuildEmojis(guildID, opt)
	if err != nil {
		return nil, fmt.Errorf("fetch emojis of guild %s: %w", guildID, err)
	}
	return guildconfig.NewSnapshot(roles, channels, emojis), nil
}
