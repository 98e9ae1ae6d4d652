package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config LogConfig
	}{
		{name: "json format", config: LogConfig{Level: "info", Format: "json"}},
		{name: "text format", config: LogConfig{Level: "debug", Format: "text"}},
		{name: "defaults", config: LogConfig{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Fatal("NewLogger() returned an unusable logger")
			}
		})
	}
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		level string
		want  int
	}{
		{"debug", 4},
		{"info", 3},
		{"warn", 2},
		{"warning", 2},
		{"error", 1},
		{"invalid", 3},
		{"", 3},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(LogConfig{Level: tt.level, Format: "json", Output: &buf})

			ctx := context.Background()
			logger.DebugContext(ctx, "debug message")
			logger.InfoContext(ctx, "info message")
			logger.WarnContext(ctx, "warn message")
			logger.ErrorContext(ctx, "error message")

			if got := len(decodeLines(t, &buf)); got != tt.want {
				t.Fatalf("level %q wrote %d lines, want %d", tt.level, got, tt.want)
			}
		})
	}
}

func TestLoggerContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})

	ctx := AddRequestID(context.Background(), "req-1")
	ctx = AddGuildID(ctx, "42")
	ctx = AddUserID(ctx, "7")

	logger.InfoContext(ctx, "config updated", "changed", 2)
	logger.With("component", "bot").InfoContext(ctx, "derived logger")

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for _, entry := range entries {
		if entry["request_id"] != "req-1" || entry["guild_id"] != "42" ||
			entry["user_id"] != "7" {
			t.Errorf("context fields missing: %v", entry)
		}
	}
	if entries[0]["changed"] != float64(2) {
		t.Errorf("changed = %v", entries[0]["changed"])
	}
	if entries[1]["component"] != "bot" {
		t.Errorf("component = %v", entries[1]["component"])
	}
}

func TestLoggerRedaction(t *testing.T) {
	token := "MTA4NzY1NDMyMTA5ODc2NTQzMg.GaBcDe.abcdefghijklmnopqrstuvwxyz0123"

	tests := []struct {
		name    string
		log     func(*slog.Logger)
		secret  string
		keep    string
		attrKey string
	}{
		{
			name:   "bot token in message",
			log:    func(l *slog.Logger) { l.Info("connecting with " + token) },
			secret: token,
		},
		{
			name:    "bot token attribute",
			log:     func(l *slog.Logger) { l.Info("start", "token", "anything") },
			secret:  "anything",
			attrKey: "token",
		},
		{
			name: "dsn password",
			log: func(l *slog.Logger) {
				l.Info("opening store", "dsn", "postgres://lunodog:hunter2secret@db:5432/lunodog")
			},
			secret: "hunter2secret",
			keep:   "postgres://lunodog:[REDACTED]@db",
		},
		{
			name: "error value",
			log: func(l *slog.Logger) {
				l.Error("login failed", "error", errors.New("authentication failed for Bot "+token))
			},
			secret: token,
		},
		{
			name: "map value",
			log: func(l *slog.Logger) {
				l.Info("settings", "values", map[string]any{"password": "p4ssw0rd!", "prefix": "!"})
			},
			secret: "p4ssw0rd!",
			keep:   `"prefix":"!"`,
		},
		{
			name: "with fields",
			log: func(l *slog.Logger) {
				l.With("bot_token", token).Info("ready")
			},
			secret: token,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(NewLogger(LogConfig{Output: &buf}))
			out := buf.String()
			if strings.Contains(out, tt.secret) {
				t.Fatalf("secret leaked: %s", out)
			}
			if !strings.Contains(out, "[REDACTED]") {
				t.Fatalf("no redaction marker: %s", out)
			}
			if tt.keep != "" && !strings.Contains(out, tt.keep) {
				t.Fatalf("expected %q in %s", tt.keep, out)
			}
		})
	}
}

func TestLoggerCustomRedactPattern(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf, RedactPatterns: []string{`guild-secret-[0-9]+`}})
	logger.Info("value guild-secret-1234 seen")
	if strings.Contains(buf.String(), "guild-secret-1234") {
		t.Fatalf("custom pattern not applied: %s", buf.String())
	}
}

func TestLoggerGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})
	logger.WithGroup("discord").Info("ready", slog.Group("auth", slog.String("password", "letmein123")))

	entries := decodeLines(t, &buf)
	discord, ok := entries[0]["discord"].(map[string]any)
	if !ok {
		t.Fatalf("group missing: %v", entries[0])
	}
	auth, ok := discord["auth"].(map[string]any)
	if !ok || auth["password"] != "[REDACTED]" {
		t.Fatalf("nested attr not redacted: %v", discord)
	}
}

func TestLogLevelFromString(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"trace":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := LogLevelFromString(in); got != want {
			t.Errorf("LogLevelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}
