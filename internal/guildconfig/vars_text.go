package guildconfig

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kyokomi/emoji/v2"
)

// StrVar is a single-line string.
type StrVar struct {
	Base
}

func NewStrVar(name string, opts ...Option) *StrVar {
	return &StrVar{Base: newBase(name, opts)}
}

func (v *StrVar) Kind() Kind { return KindStr }

func (v *StrVar) Parse(input any, _ Scope) (any, error) {
	text, null, err := v.parseNull(input)
	if err != nil || null {
		return nil, err
	}
	return text, nil
}

func (v *StrVar) FromJSON(raw json.RawMessage, _ Scope) (any, error) {
	return decodeString(v.Name, raw)
}

func (v *StrVar) Readable(value any) (string, bool) {
	return stringReadable(value)
}

func (v *StrVar) JSON(value any) (any, error) {
	return stringJSON(&v.Base, value)
}

// TextVar is a multi-line string. It differs from StrVar only in how UIs
// present it.
type TextVar struct {
	StrVar
}

func NewTextVar(name string, opts ...Option) *TextVar {
	return &TextVar{StrVar: StrVar{Base: newBase(name, opts)}}
}

func (v *TextVar) Kind() Kind { return KindText }

var (
	emojiAliasPattern  = regexp.MustCompile(`^:[^ ]*:$`)
	emojiMarkupPattern = regexp.MustCompile(`^<(a?):([^:>]+):([0-9]+)>$`)
)

// EmojiVar holds a unicode emoji or a guild custom emoji in message markup
// form (<:name:id>).
type EmojiVar struct {
	Base
}

func NewEmojiVar(name string, opts ...Option) *EmojiVar {
	return &EmojiVar{Base: newBase(name, opts)}
}

func (v *EmojiVar) Kind() Kind { return KindEmoji }

// Parse resolves :alias: input against the guild's custom emoji first, then
// the unicode alias table. Anything else is kept as typed.
func (v *EmojiVar) Parse(input any, scope Scope) (any, error) {
	text, null, err := v.parseNull(input)
	if err != nil || null {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if !emojiAliasPattern.MatchString(text) {
		return text, nil
	}
	if custom := emojiByName(scope, strings.Trim(text, ":")); custom != nil {
		return emojiMarkup(custom.Name, custom.ID, custom.Animated), nil
	}
	if unicode, ok := emoji.CodeMap()[text]; ok {
		return strings.TrimSpace(unicode), nil
	}
	return text, nil
}

// FromJSON fails for custom emoji that are no longer on the guild. Unicode
// emoji always resolve.
func (v *EmojiVar) FromJSON(raw json.RawMessage, scope Scope) (any, error) {
	value, err := decodeString(v.Name, raw)
	if err != nil || value == nil {
		return value, err
	}
	s := value.(string)
	if scope == nil {
		return s, nil
	}
	if m := emojiMarkupPattern.FindStringSubmatch(s); m != nil {
		if emojiByID(scope, m[3]) == nil {
			return nil, resolutionf(v.Name, "custom emoji %s not found on the guild", s)
		}
	}
	return s, nil
}

func (v *EmojiVar) Readable(value any) (string, bool) {
	return stringReadable(value)
}

func (v *EmojiVar) JSON(value any) (any, error) {
	return stringJSON(&v.Base, value)
}

func emojiMarkup(name, id string, animated bool) string {
	if animated {
		return fmt.Sprintf("<a:%s:%s>", name, id)
	}
	return fmt.Sprintf("<:%s:%s>", name, id)
}

// OptionVar picks one entry from a fixed list. Matching ignores case and the
// canonical spelling from the list is stored.
type OptionVar struct {
	Base
	Options []string
}

func NewOptionVar(name string, options []string, opts ...Option) *OptionVar {
	return &OptionVar{Base: newBase(name, opts), Options: options}
}

func (v *OptionVar) Kind() Kind { return KindOption }

func (v *OptionVar) match(s string) (string, bool) {
	for _, option := range v.Options {
		if foldEqual(option, s) {
			return option, true
		}
	}
	return "", false
}

func (v *OptionVar) Parse(input any, _ Scope) (any, error) {
	text, null, err := v.parseNull(input)
	if err != nil || null {
		return nil, err
	}
	option, ok := v.match(strings.TrimSpace(text))
	if !ok {
		return nil, validationf(v.Name, "Specified value not in options list.")
	}
	return option, nil
}

func (v *OptionVar) FromJSON(raw json.RawMessage, _ Scope) (any, error) {
	value, err := decodeString(v.Name, raw)
	if err != nil || value == nil {
		return value, err
	}
	option, ok := v.match(value.(string))
	if !ok {
		return nil, resolutionf(v.Name, "stored option %q is no longer available", value)
	}
	return option, nil
}

func (v *OptionVar) Readable(value any) (string, bool) {
	return stringReadable(value)
}

func (v *OptionVar) JSON(value any) (any, error) {
	return stringJSON(&v.Base, value)
}

// BoolVar is an on/off switch.
type BoolVar struct {
	Base
}

func NewBoolVar(name string, opts ...Option) *BoolVar {
	return &BoolVar{Base: newBase(name, opts)}
}

func (v *BoolVar) Kind() Kind { return KindBool }

func (v *BoolVar) Parse(input any, _ Scope) (any, error) {
	text, null, err := v.parseNull(input)
	if err != nil || null {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "1", "on", "true":
		return true, nil
	case "0", "off", "false":
		return false, nil
	default:
		return nil, validationf(v.Name, "%s value must be set to on or off.", v.Name)
	}
}

func (v *BoolVar) FromJSON(raw json.RawMessage, _ Scope) (any, error) {
	if isNullRaw(raw) {
		return nil, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, resolutionf(v.Name, "stored value %s is not a boolean", raw)
	}
	return b, nil
}

// Readable renders null as "null" so UIs can show a third state.
func (v *BoolVar) Readable(value any) (string, bool) {
	b, ok := value.(bool)
	if !ok {
		return "null", true
	}
	if b {
		return "on", true
	}
	return "off", true
}

func (v *BoolVar) JSON(value any) (any, error) {
	switch b := value.(type) {
	case nil:
		return nil, nil
	case bool:
		return b, nil
	default:
		return nil, v.typeError(value)
	}
}
