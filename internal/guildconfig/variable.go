package guildconfig

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind names a variable variant. It is part of the schema description
// served to UIs.
type Kind string

const (
	KindStr         Kind = "str"
	KindText        Kind = "text"
	KindEmoji       Kind = "emoji"
	KindOption      Kind = "option"
	KindBool        Kind = "bool"
	KindInt         Kind = "int"
	KindSlider      Kind = "slider"
	KindRole        Kind = "role"
	KindTextChannel Kind = "text_channel"
	KindDuration    Kind = "duration"
	KindTable       Kind = "table"
)

// Variable is one typed setting in a schema.
//
// Parse turns administrator input into a resolved value, FromJSON turns a
// stored value back into a resolved value, and JSON is the inverse of
// FromJSON. A nil resolved value means the variable is unset.
type Variable interface {
	Descriptor() *Base
	Kind() Kind
	Parse(input any, scope Scope) (any, error)
	FromJSON(raw json.RawMessage, scope Scope) (any, error)
	Readable(value any) (string, bool)
	Check(value any) error
	JSON(value any) (any, error)
}

// HookFunc runs after a committed update that changed a variable carrying
// the hook.
type HookFunc func(ctx context.Context, cfg *Config) error

// Hook is a named on-change callback. Hooks are compared by identity: two
// variables sharing one *Hook trigger it once per update.
type Hook struct {
	name string
	fn   HookFunc
}

// NewHook creates a hook.
func NewHook(name string, fn HookFunc) *Hook {
	return &Hook{name: name, fn: fn}
}

func (h *Hook) Name() string {
	return h.name
}

// Base holds the descriptor fields shared by every variant. Default is kept
// in serialized form, the same shape FromJSON accepts.
type Base struct {
	Name          string
	Default       any
	Display       string
	Description   string
	Section       string
	NotNull       bool
	OnChange      *Hook
	Verify        func(value any) bool
	VerifyMessage string
}

// Option configures a variable descriptor.
type Option func(*Base)

// WithDefault sets the default in serialized form (for example a role id
// for a role variable or seconds for a duration).
func WithDefault(value any) Option {
	return func(b *Base) { b.Default = value }
}

func WithDisplay(display string) Option {
	return func(b *Base) { b.Display = display }
}

func WithDescription(description string) Option {
	return func(b *Base) { b.Description = description }
}

func WithSection(section string) Option {
	return func(b *Base) { b.Section = section }
}

// NotNull rejects null input.
func NotNull() Option {
	return func(b *Base) { b.NotNull = true }
}

// OnChange attaches a hook fired after updates that touch the variable.
func OnChange(hook *Hook) Option {
	return func(b *Base) { b.OnChange = hook }
}

// WithVerify adds a predicate run against non-null resolved values. message
// is returned to the administrator when it fails.
func WithVerify(fn func(value any) bool, message string) Option {
	return func(b *Base) {
		b.Verify = fn
		b.VerifyMessage = message
	}
}

func newBase(name string, opts []Option) Base {
	b := Base{Name: name}
	for _, opt := range opts {
		if opt != nil {
			opt(&b)
		}
	}
	if b.Display == "" {
		b.Display = name
	}
	return b
}

func (b *Base) Descriptor() *Base {
	return b
}

// Check runs the verify predicate.
func (b *Base) Check(value any) error {
	if value == nil || b.Verify == nil {
		return nil
	}
	if b.Verify(value) {
		return nil
	}
	msg := b.VerifyMessage
	if msg == "" {
		msg = fmt.Sprintf("%s failed verification.", b.Name)
	}
	return &ValidationError{Variable: b.Name, Message: msg}
}

// parseNull converts input to text and applies the null spellings. The
// returned text is untrimmed.
func (b *Base) parseNull(input any) (text string, null bool, err error) {
	text, err = b.inputText(input)
	if err != nil {
		return "", false, err
	}
	if isNullSpelling(text) {
		if b.NotNull {
			return "", true, validationf(b.Name, "%s can't be null.", b.Name)
		}
		return "", true, nil
	}
	return text, false, nil
}

func isNullSpelling(text string) bool {
	trimmed := strings.TrimSpace(text)
	return trimmed == "" || strings.EqualFold(trimmed, "none") || strings.EqualFold(trimmed, "null")
}

// inputText accepts strings and the scalar shapes JSON decoding produces, so
// table cells submitted as structured JSON parse like typed text.
func (b *Base) inputText(input any) (string, error) {
	switch v := input.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return "", validationf(b.Name, "%s value must be text.", b.Name)
	}
}

func (b *Base) typeError(value any) error {
	return fmt.Errorf("variable %s: unexpected value type %T", b.Name, value)
}

func isNullRaw(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// decodeRaw decodes a stored value keeping numbers as json.Number.
func decodeRaw(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeString(name string, raw json.RawMessage) (any, error) {
	if isNullRaw(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, resolutionf(name, "stored value %s is not a string", raw)
	}
	return s, nil
}

// decodeInt reads a stored integer. Whole floats are accepted since other
// writers of the same record may have stored them that way.
func decodeInt(name string, raw json.RawMessage) (int64, bool, error) {
	if isNullRaw(raw) {
		return 0, true, nil
	}
	decoded, err := decodeRaw(raw)
	if err != nil {
		return 0, false, resolutionf(name, "decode stored value: %v", err)
	}
	switch v := decoded.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, false, nil
		}
		f, err := v.Float64()
		if err != nil || f != float64(int64(f)) {
			return 0, false, resolutionf(name, "stored value %s is not an integer", raw)
		}
		return int64(f), false, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false, resolutionf(name, "stored value %s is not an integer", raw)
		}
		return n, false, nil
	default:
		return 0, false, resolutionf(name, "stored value %s is not an integer", raw)
	}
}

func stringJSON(b *Base, value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return v, nil
	default:
		return nil, b.typeError(value)
	}
}

func stringReadable(value any) (string, bool) {
	s, ok := value.(string)
	if !ok {
		return "", false
	}
	return s, true
}
