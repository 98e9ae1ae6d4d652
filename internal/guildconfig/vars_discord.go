package guildconfig

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"
)

var (
	roleMentionPattern    = regexp.MustCompile(`^<@&([0-9]+)>$`)
	channelMentionPattern = regexp.MustCompile(`^<#([0-9]+)>$`)
)

// RoleVar references a guild role. It resolves to *discordgo.Role and is
// stored as the role's snowflake id.
type RoleVar struct {
	Base
}

func NewRoleVar(name string, opts ...Option) *RoleVar {
	return &RoleVar{Base: newBase(name, opts)}
}

func (v *RoleVar) Kind() Kind { return KindRole }

// Parse accepts a role mention or a role name.
func (v *RoleVar) Parse(input any, scope Scope) (any, error) {
	text, null, err := v.parseNull(input)
	if err != nil || null {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if m := roleMentionPattern.FindStringSubmatch(text); m != nil {
		if role := roleByID(scope, m[1]); role != nil {
			return role, nil
		}
		return nil, validationf(v.Name, "Role '%s' not found on the guild.", text)
	}
	if role := roleByName(scope, text); role != nil {
		return role, nil
	}
	return nil, validationf(v.Name, "Role '%s' not found on the guild.", text)
}

func (v *RoleVar) FromJSON(raw json.RawMessage, scope Scope) (any, error) {
	id, null, err := decodeInt(v.Name, raw)
	if err != nil {
		return nil, err
	}
	if null || id == 0 {
		return nil, nil
	}
	role := roleByID(scope, formatSnowflake(id))
	if role == nil {
		return nil, resolutionf(v.Name, "role %d not found on the guild", id)
	}
	return role, nil
}

func (v *RoleVar) Readable(value any) (string, bool) {
	role, ok := value.(*discordgo.Role)
	if !ok || role == nil {
		return "", false
	}
	return role.Name, true
}

func (v *RoleVar) JSON(value any) (any, error) {
	switch role := value.(type) {
	case nil:
		return nil, nil
	case *discordgo.Role:
		if role == nil {
			return nil, nil
		}
		return snowflakeJSON(&v.Base, role.ID)
	default:
		return nil, v.typeError(value)
	}
}

// TextChannelVar references a channel messages can be posted to. It
// resolves to *discordgo.Channel and is stored as the channel's snowflake id.
type TextChannelVar struct {
	Base
}

func NewTextChannelVar(name string, opts ...Option) *TextChannelVar {
	return &TextChannelVar{Base: newBase(name, opts)}
}

func (v *TextChannelVar) Kind() Kind { return KindTextChannel }

// Parse accepts a channel mention or a channel name with or without the
// leading '#'.
func (v *TextChannelVar) Parse(input any, scope Scope) (any, error) {
	text, null, err := v.parseNull(input)
	if err != nil || null {
		return nil, err
	}
	text = strings.TrimSpace(text)
	var ch *discordgo.Channel
	if m := channelMentionPattern.FindStringSubmatch(text); m != nil {
		ch = channelByID(scope, m[1])
	} else {
		ch = channelByName(scope, strings.TrimLeft(text, "#"))
	}
	if !isTextChannel(ch) {
		return nil, validationf(v.Name, "Channel '%s' not found on the guild.", text)
	}
	return ch, nil
}

func (v *TextChannelVar) FromJSON(raw json.RawMessage, scope Scope) (any, error) {
	id, null, err := decodeInt(v.Name, raw)
	if err != nil {
		return nil, err
	}
	if null || id == 0 {
		return nil, nil
	}
	ch := channelByID(scope, formatSnowflake(id))
	if ch == nil {
		return nil, resolutionf(v.Name, "channel %d not found on the guild", id)
	}
	if !isTextChannel(ch) {
		return nil, resolutionf(v.Name, "channel %d is not a text channel", id)
	}
	return ch, nil
}

func (v *TextChannelVar) Readable(value any) (string, bool) {
	ch, ok := value.(*discordgo.Channel)
	if !ok || ch == nil {
		return "", false
	}
	return "#" + ch.Name, true
}

func (v *TextChannelVar) JSON(value any) (any, error) {
	switch ch := value.(type) {
	case nil:
		return nil, nil
	case *discordgo.Channel:
		if ch == nil {
			return nil, nil
		}
		return snowflakeJSON(&v.Base, ch.ID)
	default:
		return nil, v.typeError(value)
	}
}

func snowflakeJSON(b *Base, id string) (any, error) {
	n, err := parseSnowflake(id)
	if err != nil {
		return nil, b.typeError(id)
	}
	return n, nil
}
