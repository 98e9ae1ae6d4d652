package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"
)

// LogConfig configures NewLogger.
type LogConfig struct {
	// Level is debug, info, warn or error. Anything else means info.
	Level string
	// Format is "json" (default) or "text".
	Format string
	// Output defaults to os.Stdout.
	Output    io.Writer
	AddSource bool
	// RedactPatterns are regular expressions masked in addition to
	// DefaultRedactPatterns. Invalid patterns are ignored.
	RedactPatterns []string
}

// ContextKey is the type for context keys used in logging.
type ContextKey string

const (
	// RequestIDKey identifies one interaction or CLI invocation.
	RequestIDKey ContextKey = "request_id"
	GuildIDKey   ContextKey = "guild_id"
	UserIDKey    ContextKey = "user_id"
)

var contextKeys = []ContextKey{RequestIDKey, GuildIDKey, UserIDKey}

// DefaultRedactPatterns match bot tokens and key=value secrets.
var DefaultRedactPatterns = []string{
	`[MNO][A-Za-z0-9_-]{23,27}\.[A-Za-z0-9_-]{6}\.[A-Za-z0-9_-]{27,40}`,
	`(?i)(bot|bearer)\s+[A-Za-z0-9_\-\.]{30,}`,
	`(?i)(api[_-]?key|apikey|token|secret|password|passwd|pwd)[\s:=]+["']?([^\s"']{8,})["']?`,
}

// dsnPattern masks the password of a URL-style DSN and keeps the user.
var dsnPattern = regexp.MustCompile(`(?i)\b(postgres(?:ql)?|redis|rediss|nats)://([^:/@\s]+):([^@\s]+)@`)

// NewLogger returns a slog logger whose handler copies the request, guild
// and user ids from the context onto each record and masks secrets in
// messages and attribute values.
func NewLogger(config LogConfig) *slog.Logger {
	out := config.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{
		Level:     LogLevelFromString(config.Level),
		AddSource: config.AddSource,
	}
	var base slog.Handler = slog.NewJSONHandler(out, opts)
	if strings.EqualFold(config.Format, "text") {
		base = slog.NewTextHandler(out, opts)
	}

	var redacts []*regexp.Regexp
	for _, pattern := range slices.Concat(DefaultRedactPatterns, config.RedactPatterns) {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}
	return slog.New(&redactingHandler{next: base, redacts: redacts})
}

// redactingHandler adds context fields and scrubs string values before
// passing records on.
type redactingHandler struct {
	next    slog.Handler
	redacts []*regexp.Regexp
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, record slog.Record) error {
	out := slog.NewRecord(record.Time, record.Level, h.redactString(record.Message), record.PC)
	if ctx != nil {
		for _, key := range contextKeys {
			if value := contextValue(ctx, key); value != "" {
				out.AddAttrs(slog.String(string(key), value))
			}
		}
	}
	record.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(h.redactAttr(attr))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		redacted[i] = h.redactAttr(attr)
	}
	return &redactingHandler{next: h.next.WithAttrs(redacted), redacts: h.redacts}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{next: h.next.WithGroup(name), redacts: h.redacts}
}

func (h *redactingHandler) redactAttr(attr slog.Attr) slog.Attr {
	if isSensitiveKey(attr.Key) {
		return slog.String(attr.Key, "[REDACTED]")
	}
	value := attr.Value.Resolve()
	switch value.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, h.redactString(value.String()))
	case slog.KindGroup:
		group := value.Group()
		redacted := make([]any, len(group))
		for i, member := range group {
			redacted[i] = h.redactAttr(member)
		}
		return slog.Group(attr.Key, redacted...)
	case slog.KindAny:
		switch v := value.Any().(type) {
		case error:
			return slog.String(attr.Key, h.redactString(v.Error()))
		case []byte:
			return slog.String(attr.Key, h.redactString(string(v)))
		case map[string]string:
			m := make(map[string]any, len(v))
			for k, val := range v {
				m[k] = val
			}
			return slog.Any(attr.Key, h.redactMap(m))
		case map[string]any:
			return slog.Any(attr.Key, h.redactMap(v))
		}
	}
	return slog.Attr{Key: attr.Key, Value: value}
}

func (h *redactingHandler) redactString(s string) string {
	s = dsnPattern.ReplaceAllString(s, "$1://$2:[REDACTED]@")
	for _, re := range h.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

func (h *redactingHandler) redactMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			result[k] = "[REDACTED]"
			continue
		}
		if str, ok := v.(string); ok {
			result[k] = h.redactString(str)
			continue
		}
		result[k] = v
	}
	return result
}

var sensitiveKeys = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"bot_token":     true,
	"api_key":       true,
	"apikey":        true,
	"authorization": true,
}

func isSensitiveKey(key string) bool {
	return sensitiveKeys[strings.ToLower(strings.ReplaceAll(key, "-", "_"))]
}

func contextValue(ctx context.Context, key ContextKey) string {
	switch v := ctx.Value(key).(type) {
	case string:
		return v
	case interface{ String() string }:
		return v.String()
	default:
		return ""
	}
}

// AddRequestID adds a request ID to the context.
func AddRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// AddGuildID adds the guild being configured to the context.
func AddGuildID(ctx context.Context, guildID string) context.Context {
	return context.WithValue(ctx, GuildIDKey, guildID)
}

// AddUserID adds the acting Discord user to the context.
func AddUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// LogLevelFromString converts a string to a slog.Level.
// Returns LevelInfo if the string is not recognized.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
