package guildconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Leshaka/lunodog-bot/internal/storage"
)

const tracerName = "github.com/Leshaka/lunodog-bot/internal/guildconfig"

// InfoSchemaVersion is the record info key holding the schema version the
// record was last written with.
const InfoSchemaVersion = "schema_version"

// RecordStore is the persistence capability a Factory needs. Every store in
// internal/storage satisfies it.
type RecordStore interface {
	Get(ctx context.Context, table, name string, id int64) (*storage.Record, error)
	Put(ctx context.Context, record *storage.Record) error
	Delete(ctx context.Context, table, name string, id int64) error
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithFactoryDisplay sets the schema's display name.
func WithFactoryDisplay(display string) FactoryOption {
	return func(f *Factory) { f.display = display }
}

// WithIcon sets the icon name UIs show next to the schema.
func WithIcon(icon string) FactoryOption {
	return func(f *Factory) { f.icon = icon }
}

// WithTableName stores records in a different partition than the schema
// name.
func WithTableName(table string) FactoryOption {
	return func(f *Factory) { f.table = table }
}

// WithVersion sets the schema version written to record info.
func WithVersion(version int) FactoryOption {
	return func(f *Factory) { f.version = version }
}

func WithStore(store RecordStore) FactoryOption {
	return func(f *Factory) { f.store = store }
}

func WithLogger(logger *slog.Logger) FactoryOption {
	return func(f *Factory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

func WithObserver(observer Observer) FactoryOption {
	return func(f *Factory) {
		if observer != nil {
			f.observer = observer
		}
	}
}

// Factory is a named, ordered schema of variables. It holds no per-guild
// state and is safe for concurrent use.
type Factory struct {
	name     string
	display  string
	icon     string
	table    string
	version  int
	vars     []Variable
	index    map[string]Variable
	defaults map[string]json.RawMessage
	store    RecordStore
	logger   *slog.Logger
	observer Observer
	tracer   trace.Tracer
}

// NewFactory builds a schema. Variable names must be unique and non-empty.
func NewFactory(name string, vars []Variable, opts ...FactoryOption) (*Factory, error) {
	f := &Factory{
		name:     name,
		display:  name,
		icon:     "default",
		table:    name,
		version:  1,
		index:    make(map[string]Variable, len(vars)),
		defaults: make(map[string]json.RawMessage, len(vars)),
		logger:   slog.Default(),
		observer: nopObserver{},
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(f)
	}
	if strings.TrimSpace(f.name) == "" {
		return nil, &SchemaError{Message: "schema name is required"}
	}
	if strings.TrimSpace(f.table) == "" {
		return nil, &SchemaError{Schema: f.name, Message: "table name is required"}
	}
	for i, v := range vars {
		if v == nil {
			return nil, &SchemaError{Schema: f.name, Message: fmt.Sprintf("variable %d is nil", i)}
		}
		desc := v.Descriptor()
		if strings.TrimSpace(desc.Name) == "" {
			return nil, &SchemaError{Schema: f.name, Message: fmt.Sprintf("variable %d has no name", i)}
		}
		if _, dup := f.index[desc.Name]; dup {
			return nil, &SchemaError{Schema: f.name, Variable: desc.Name, Message: "duplicate variable name"}
		}
		if err := validateVariable(v); err != nil {
			return nil, &SchemaError{Schema: f.name, Variable: desc.Name, Message: err.Error()}
		}
		def, err := json.Marshal(desc.Default)
		if err != nil {
			return nil, &SchemaError{Schema: f.name, Variable: desc.Name, Message: fmt.Sprintf("default is not serializable: %v", err)}
		}
		f.index[desc.Name] = v
		f.defaults[desc.Name] = def
		f.vars = append(f.vars, v)
	}
	return f, nil
}

// MustFactory is NewFactory for schemas defined at package level.
func MustFactory(name string, vars []Variable, opts ...FactoryOption) *Factory {
	f, err := NewFactory(name, vars, opts...)
	if err != nil {
		panic(err)
	}
	return f
}

func validateVariable(v Variable) error {
	switch vv := v.(type) {
	case *SliderVar:
		if vv.Min > vv.Max {
			return fmt.Errorf("slider min %d is greater than max %d", vv.Min, vv.Max)
		}
	case *OptionVar:
		if len(vv.Options) == 0 {
			return errors.New("option list is empty")
		}
	case *Table:
		if len(vv.columns) == 0 {
			return errors.New("table has no columns")
		}
		if len(vv.index) != len(vv.columns) {
			return errors.New("duplicate column name")
		}
		for _, col := range vv.columns {
			if _, nested := col.(*Table); nested {
				return errors.New("tables cannot be nested")
			}
			if strings.TrimSpace(col.Descriptor().Name) == "" {
				return errors.New("column has no name")
			}
			if err := validateVariable(col); err != nil {
				return fmt.Errorf("column %s: %w", col.Descriptor().Name, err)
			}
			if _, err := json.Marshal(col.Descriptor().Default); err != nil {
				return fmt.Errorf("column %s default is not serializable: %w", col.Descriptor().Name, err)
			}
		}
		for key := range vv.blank {
			if _, ok := vv.index[key]; !ok {
				return fmt.Errorf("blank row names unknown column %q", key)
			}
		}
	}
	return nil
}

func (f *Factory) Name() string    { return f.name }
func (f *Factory) Display() string { return f.display }
func (f *Factory) Icon() string    { return f.icon }
func (f *Factory) Table() string   { return f.table }
func (f *Factory) Version() int    { return f.version }

// Variables returns the schema in order.
func (f *Factory) Variables() []Variable {
	out := make([]Variable, len(f.vars))
	copy(out, f.vars)
	return out
}

// Variable looks up a variable by name.
func (f *Factory) Variable(name string) (Variable, bool) {
	v, ok := f.index[name]
	return v, ok
}

// Spawn loads the config stored for id, or a fresh one with defaults when
// nothing is stored. Stored values that no longer resolve against scope
// fall back to their defaults and are logged; only store errors are
// returned.
func (f *Factory) Spawn(ctx context.Context, scope Scope, id int64) (*Config, error) {
	ctx, span := f.tracer.Start(ctx, "guildconfig.Spawn",
		trace.WithAttributes(
			attribute.String("config.schema", f.name),
			attribute.Int64("config.id", id),
		))
	defer span.End()

	if f.store == nil {
		return nil, ErrNoStore
	}
	record, err := f.store.Get(ctx, f.table, f.name, id)
	fresh := false
	switch {
	case errors.Is(err, storage.ErrNotFound):
		fresh = true
		record = &storage.Record{
			Table: f.table,
			Name:  f.name,
			ID:    id,
			Data:  map[string]json.RawMessage{},
			Info:  map[string]any{InfoSchemaVersion: f.version},
		}
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load config %s/%d: %w", f.name, id, err)
	}
	if record.Data == nil {
		record.Data = map[string]json.RawMessage{}
	}
	if record.Info == nil {
		record.Info = map[string]any{}
	}

	cfg := &Config{factory: f, record: record, values: make(map[string]any, len(f.vars))}
	fallbacks := cfg.resolve(ctx, scope)
	span.SetAttributes(
		attribute.Bool("config.fresh", fresh),
		attribute.Int("config.fallbacks", fallbacks),
	)
	f.observer.ConfigLoaded(f.name, fresh)
	return cfg, nil
}

// serialize converts resolved values to the stored form for every variable
// in the schema.
func (f *Factory) serialize(values map[string]any) (map[string]json.RawMessage, error) {
	data := make(map[string]json.RawMessage, len(f.vars))
	for _, v := range f.vars {
		name := v.Descriptor().Name
		stored, err := v.JSON(values[name])
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(stored)
		if err != nil {
			return nil, fmt.Errorf("marshal variable %s: %w", name, err)
		}
		data[name] = raw
	}
	return data, nil
}
