package guildconfig

import (
	"strconv"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/text/cases"
)

// Scope exposes the guild objects variables resolve against. Implementations
// must return in-memory snapshots; lookups never block.
type Scope interface {
	Roles() []*discordgo.Role
	Channels() []*discordgo.Channel
	Emojis() []*discordgo.Emoji
}

// Snapshot is a static Scope.
type Snapshot struct {
	roles    []*discordgo.Role
	channels []*discordgo.Channel
	emojis   []*discordgo.Emoji
}

// NewSnapshot creates a Scope over fixed role, channel and emoji lists.
func NewSnapshot(roles []*discordgo.Role, channels []*discordgo.Channel, emojis []*discordgo.Emoji) *Snapshot {
	return &Snapshot{roles: roles, channels: channels, emojis: emojis}
}

func (s *Snapshot) Roles() []*discordgo.Role {
	if s == nil {
		return nil
	}
	return s.roles
}

func (s *Snapshot) Channels() []*discordgo.Channel {
	if s == nil {
		return nil
	}
	return s.channels
}

func (s *Snapshot) Emojis() []*discordgo.Emoji {
	if s == nil {
		return nil
	}
	return s.emojis
}

// emptyScope stands in for a nil Scope.
type emptyScope struct{}

func (emptyScope) Roles() []*discordgo.Role       { return nil }
func (emptyScope) Channels() []*discordgo.Channel { return nil }
func (emptyScope) Emojis() []*discordgo.Emoji     { return nil }

func orEmpty(scope Scope) Scope {
	if scope == nil {
		return emptyScope{}
	}
	return scope
}

// foldEqual compares names with Unicode case folding. A Caser keeps state,
// so each call gets its own.
func foldEqual(a, b string) bool {
	caser := cases.Fold()
	return caser.String(a) == caser.String(b)
}

func roleByID(scope Scope, id string) *discordgo.Role {
	for _, role := range orEmpty(scope).Roles() {
		if role != nil && role.ID == id {
			return role
		}
	}
	return nil
}

func roleByName(scope Scope, name string) *discordgo.Role {
	for _, role := range orEmpty(scope).Roles() {
		if role != nil && foldEqual(role.Name, name) {
			return role
		}
	}
	return nil
}

func channelByID(scope Scope, id string) *discordgo.Channel {
	for _, ch := range orEmpty(scope).Channels() {
		if ch != nil && ch.ID == id {
			return ch
		}
	}
	return nil
}

func channelByName(scope Scope, name string) *discordgo.Channel {
	for _, ch := range orEmpty(scope).Channels() {
		if ch != nil && foldEqual(ch.Name, name) {
			return ch
		}
	}
	return nil
}

func emojiByName(scope Scope, name string) *discordgo.Emoji {
	for _, e := range orEmpty(scope).Emojis() {
		if e != nil && e.Name == name {
			return e
		}
	}
	return nil
}

func emojiByID(scope Scope, id string) *discordgo.Emoji {
	for _, e := range orEmpty(scope).Emojis() {
		if e != nil && e.ID == id {
			return e
		}
	}
	return nil
}

// isTextChannel reports whether messages can be posted to ch.
func isTextChannel(ch *discordgo.Channel) bool {
	if ch == nil {
		return false
	}
	return ch.Type == discordgo.ChannelTypeGuildText || ch.Type == discordgo.ChannelTypeGuildNews
}

func parseSnowflake(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func formatSnowflake(id int64) string {
	return strconv.FormatInt(id, 10)
}
