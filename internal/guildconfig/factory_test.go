package guildconfig

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Leshaka/lunodog-bot/internal/storage"
)

func TestNewFactorySchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		vars []Variable
		opts []FactoryOption
		want string
	}{
		{
			name: "duplicate names",
			vars: []Variable{NewStrVar("prefix"), NewBoolVar("prefix")},
			want: "duplicate variable name",
		},
		{
			name: "empty name",
			vars: []Variable{NewStrVar(" ")},
			want: "has no name",
		},
		{
			name: "nil variable",
			vars: []Variable{nil},
			want: "is nil",
		},
		{
			name: "inverted slider",
			vars: []Variable{NewSliderVar("volume", 10, 0, "")},
			want: "greater than max",
		},
		{
			name: "empty options",
			vars: []Variable{NewOptionVar("language", nil)},
			want: "option list is empty",
		},
		{
			name: "table without columns",
			vars: []Variable{NewTable("rows", nil)},
			want: "no columns",
		},
		{
			name: "duplicate columns",
			vars: []Variable{NewTable("rows", []Variable{NewStrVar("a"), NewStrVar("a")})},
			want: "duplicate column",
		},
		{
			name: "nested table",
			vars: []Variable{NewTable("rows", []Variable{NewTable("inner", []Variable{NewStrVar("a")})})},
			want: "nested",
		},
		{
			name: "unserializable default",
			vars: []Variable{NewStrVar("broken", WithDefault(make(chan int)))},
			want: "not serializable",
		},
		{
			name: "empty table name",
			vars: []Variable{NewStrVar("prefix")},
			opts: []FactoryOption{WithTableName("")},
			want: "table name is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFactory("guild", tt.vars, tt.opts...)
			var schemaErr *SchemaError
			if !errors.As(err, &schemaErr) {
				t.Fatalf("NewFactory() error = %v, want SchemaError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("NewFactory() error = %q, want it to mention %q", err.Error(), tt.want)
			}
		})
	}
}

func TestMustFactoryPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("MustFactory() did not panic on duplicate names")
		}
	}()
	MustFactory("guild", []Variable{NewStrVar("a"), NewStrVar("a")})
}

func TestFactoryDefaults(t *testing.T) {
	f := MustFactory("guild", []Variable{NewStrVar("prefix")})
	if f.Icon() != "default" || f.Display() != "guild" || f.Table() != "guild" || f.Version() != 1 {
		t.Fatalf("defaults = icon %q display %q table %q version %d", f.Icon(), f.Display(), f.Table(), f.Version())
	}
	if _, ok := f.Variable("prefix"); !ok {
		t.Fatalf("Variable(prefix) not found")
	}
	if _, ok := f.Variable("missing"); ok {
		t.Fatalf("Variable(missing) found")
	}
}

func TestSpawnFresh(t *testing.T) {
	store := newFlakyStore()
	observer := &recordingObserver{}
	f := MustFactory("guild", []Variable{
		NewStrVar("prefix", WithDefault("!")),
		NewDurationVar("mute_time", WithDefault(600)),
		NewRoleVar("admin_role"),
		NewTable("auto_roles", []Variable{NewRoleVar("role")}),
	}, WithStore(store), WithObserver(observer), WithVersion(3))

	cfg := mustSpawn(t, f, testScope(), 42)
	if cfg.String("prefix") != "!" {
		t.Fatalf("prefix = %q, want default", cfg.String("prefix"))
	}
	if cfg.Duration("mute_time") != 10*time.Minute {
		t.Fatalf("mute_time = %v", cfg.Duration("mute_time"))
	}
	if cfg.Role("admin_role") != nil {
		t.Fatalf("admin_role = %v, want nil", cfg.Role("admin_role"))
	}
	if rows := cfg.Rows("auto_roles"); rows == nil || len(rows) != 0 {
		t.Fatalf("auto_roles = %#v, want empty table", rows)
	}
	if cfg.ID() != 42 || cfg.Info()[InfoSchemaVersion] != 3 {
		t.Fatalf("id %d info %v", cfg.ID(), cfg.Info())
	}
	if store.Len() != 0 {
		t.Fatalf("Spawn() wrote %d records, fresh configs are not persisted", store.Len())
	}
	if observer.loaded != 1 || observer.fresh != 1 {
		t.Fatalf("observer loaded=%d fresh=%d", observer.loaded, observer.fresh)
	}
}

func TestSpawnStoredValues(t *testing.T) {
	store := newFlakyStore()
	err := store.Put(context.Background(), &storage.Record{
		Table: "guild",
		Name:  "guild",
		ID:    7,
		Data: map[string]json.RawMessage{
			"prefix":     json.RawMessage(`"?"`),
			"admin_role": json.RawMessage(`100`),
		},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	f := MustFactory("guild", []Variable{
		NewStrVar("prefix", WithDefault("!")),
		NewRoleVar("admin_role"),
		NewBoolVar("announce", WithDefault(true)),
	}, WithStore(store))

	cfg := mustSpawn(t, f, testScope(), 7)
	if cfg.String("prefix") != "?" {
		t.Fatalf("prefix = %q", cfg.String("prefix"))
	}
	if role := cfg.Role("admin_role"); role == nil || role.Name != "Admin" {
		t.Fatalf("admin_role = %v", role)
	}
	if !cfg.Bool("announce") {
		t.Fatalf("announce missing from record should use default true")
	}
}

func TestSpawnFallsBackOnStaleReference(t *testing.T) {
	store := newFlakyStore()
	_ = store.Put(context.Background(), &storage.Record{
		Table: "guild",
		Name:  "guild",
		ID:    7,
		Data: map[string]json.RawMessage{
			"admin_role": json.RawMessage(`555`),
			"log":        json.RawMessage(`200`),
		},
	})
	logger, logs := bufferLogger()
	observer := &recordingObserver{}
	f := MustFactory("guild", []Variable{
		NewRoleVar("admin_role", WithDefault(101)),
		NewTextChannelVar("log"),
	}, WithStore(store), WithLogger(logger), WithObserver(observer))

	cfg, err := f.Spawn(context.Background(), testScope(), 7)
	if err != nil {
		t.Fatalf("Spawn() error = %v, stale references must not fail the load", err)
	}
	if role := cfg.Role("admin_role"); role == nil || role.ID != "101" {
		t.Fatalf("admin_role = %v, want default role 101", role)
	}
	if ch := cfg.Channel("log"); ch == nil || ch.ID != "200" {
		t.Fatalf("log = %v, unaffected variable changed", ch)
	}
	out := logs.String()
	if !strings.Contains(out, "config variable fell back to default") || !strings.Contains(out, "admin_role") {
		t.Fatalf("fallback was not logged: %s", out)
	}
	if len(observer.fallbacks) != 1 || observer.fallbacks[0] != "admin_role" {
		t.Fatalf("observer fallbacks = %v", observer.fallbacks)
	}
}

func TestSpawnUnresolvableDefault(t *testing.T) {
	logger, logs := bufferLogger()
	f := MustFactory("guild", []Variable{
		NewRoleVar("admin_role", WithDefault(999)),
	}, WithStore(newFlakyStore()), WithLogger(logger))

	cfg := mustSpawn(t, f, testScope(), 1)
	if cfg.Role("admin_role") != nil {
		t.Fatalf("admin_role = %v, want nil", cfg.Role("admin_role"))
	}
	if !strings.Contains(logs.String(), "config variable default did not resolve") {
		t.Fatalf("missing default log: %s", logs.String())
	}
}

func TestSpawnErrors(t *testing.T) {
	noStore := MustFactory("guild", []Variable{NewStrVar("prefix")})
	if _, err := noStore.Spawn(context.Background(), nil, 1); !errors.Is(err, ErrNoStore) {
		t.Fatalf("Spawn() without store error = %v, want ErrNoStore", err)
	}

	store := newFlakyStore()
	boom := errors.New("connection refused")
	store.getErr = boom
	f := MustFactory("guild", []Variable{NewStrVar("prefix")}, WithStore(store))
	if _, err := f.Spawn(context.Background(), nil, 1); !errors.Is(err, boom) {
		t.Fatalf("Spawn() error = %v, want store error", err)
	}
}

func TestSpawnUsesTableName(t *testing.T) {
	store := newFlakyStore()
	f := MustFactory("music", []Variable{NewSliderVar("volume", 0, 100, "", WithDefault(50))},
		WithStore(store), WithTableName("guild_settings"))
	cfg := mustSpawn(t, f, nil, 9)
	if err := cfg.Update(context.Background(), nil, map[string]any{"volume": "70"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	record, err := store.Get(context.Background(), "guild_settings", "music", 9)
	if err != nil {
		t.Fatalf("record not stored under table name: %v", err)
	}
	if string(record.Data["volume"]) != "70" {
		t.Fatalf("stored volume = %s", record.Data["volume"])
	}
}

func TestDescribe(t *testing.T) {
	f := MustFactory("guild", []Variable{
		NewStrVar("prefix", WithDefault("!"), WithDisplay("Command prefix"), WithSection("General"), NotNull()),
		NewOptionVar("language", []string{"en", "ru"}, WithDefault("en")),
		NewSliderVar("volume", 0, 150, "dB"),
		autoRoleTable(),
	}, WithFactoryDisplay("Guild settings"), WithIcon("gear"))

	schema := f.Describe()
	if schema.Display != "Guild settings" || schema.Icon != "gear" || len(schema.Variables) != 4 {
		t.Fatalf("Describe() = %+v", schema)
	}
	prefix := schema.Variables[0]
	if prefix.Kind != KindStr || prefix.Display != "Command prefix" || !prefix.NotNull || prefix.Default != "!" {
		t.Fatalf("prefix = %+v", prefix)
	}
	if got := schema.Variables[1].Options; len(got) != 2 || got[1] != "ru" {
		t.Fatalf("language options = %v", got)
	}
	volume := schema.Variables[2]
	if volume.Min == nil || *volume.Min != 0 || *volume.Max != 150 || volume.Unit != "dB" {
		t.Fatalf("volume = %+v", volume)
	}
	table := schema.Variables[3]
	if table.Kind != KindTable || len(table.Columns) != 2 || table.Blank["delay"] != "10m" {
		t.Fatalf("auto_roles = %+v", table)
	}
	if _, err := json.Marshal(schema); err != nil {
		t.Fatalf("schema is not serializable: %v", err)
	}
}
