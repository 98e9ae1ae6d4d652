package guildconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Leshaka/lunodog-bot/internal/storage"
)

// Config is the resolved configuration of one schema for one id. It is not
// safe for concurrent updates; callers serialize writers.
type Config struct {
	factory *Factory
	record  *storage.Record
	values  map[string]any
	deleted bool
}

// resolve fills values from the record, falling back to the default for
// any variable whose stored value no longer resolves. It returns the number
// of fallbacks.
func (c *Config) resolve(ctx context.Context, scope Scope) int {
	f := c.factory
	fallbacks := 0
	for _, v := range f.vars {
		name := v.Descriptor().Name
		raw, ok := c.record.Data[name]
		if !ok {
			raw = f.defaults[name]
		}
		value, err := v.FromJSON(raw, scope)
		if err != nil {
			fallbacks++
			f.logger.ErrorContext(ctx, "config variable fell back to default",
				"schema", f.name,
				"id", c.record.ID,
				"variable", name,
				"error", err,
			)
			f.observer.VariableFallback(f.name, name)
			value, err = v.FromJSON(f.defaults[name], scope)
			if err != nil {
				f.logger.ErrorContext(ctx, "config variable default did not resolve",
					"schema", f.name,
					"id", c.record.ID,
					"variable", name,
					"error", err,
				)
				value = nil
			}
		}
		c.values[name] = value
	}
	return fallbacks
}

// Update validates every change, then commits them together. Changes map
// variable names to administrator input. Any validation failure leaves the
// config and its record untouched. After a successful write each distinct
// hook of the changed variables runs once, in schema order.
func (c *Config) Update(ctx context.Context, scope Scope, changes map[string]any) error {
	f := c.factory
	ctx, span := f.tracer.Start(ctx, "guildconfig.Update",
		trace.WithAttributes(
			attribute.String("config.schema", f.name),
			attribute.Int64("config.id", c.record.ID),
			attribute.Int("config.changes", len(changes)),
		))
	defer span.End()

	if c.deleted {
		return ErrDeleted
	}

	pending, err := c.validate(changes, scope)
	if err != nil {
		f.observer.UpdateRejected(f.name, GetErrorCode(err))
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	merged := make(map[string]any, len(c.values))
	for name, value := range c.values {
		merged[name] = value
	}
	for name, value := range pending {
		merged[name] = value
	}
	data, err := f.serialize(merged)
	if err != nil {
		span.RecordError(err)
		return err
	}
	next := c.record.Clone()
	next.Data = data
	next.Info[InfoSchemaVersion] = f.version
	if err := f.store.Put(ctx, next); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		f.observer.UpdateRejected(f.name, CodeInternal)
		return err
	}
	c.values = merged
	c.record = next

	changed := c.changedNames(pending)
	f.logger.InfoContext(ctx, "config updated",
		"schema", f.name,
		"id", c.record.ID,
		"variables", changed,
	)
	f.observer.UpdateCommitted(f.name, len(pending))
	c.runHooks(ctx, pending)
	return nil
}

// validate parses and checks the batch in schema order into a side buffer.
func (c *Config) validate(changes map[string]any, scope Scope) (map[string]any, error) {
	f := c.factory
	unknown := make([]string, 0)
	for name := range changes {
		if _, ok := f.index[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &UnknownVariableError{Schema: f.name, Variable: unknown[0]}
	}

	pending := make(map[string]any, len(changes))
	for _, v := range f.vars {
		name := v.Descriptor().Name
		input, ok := changes[name]
		if !ok {
			continue
		}
		value, err := v.Parse(input, scope)
		if err != nil {
			return nil, err
		}
		if err := v.Check(value); err != nil {
			return nil, err
		}
		pending[name] = value
	}
	return pending, nil
}

func (c *Config) changedNames(pending map[string]any) []string {
	names := make([]string, 0, len(pending))
	for _, v := range c.factory.vars {
		if _, ok := pending[v.Descriptor().Name]; ok {
			names = append(names, v.Descriptor().Name)
		}
	}
	return names
}

// runHooks invokes each distinct hook once. Hook errors are logged; the
// update is already committed.
func (c *Config) runHooks(ctx context.Context, pending map[string]any) {
	f := c.factory
	seen := make(map[*Hook]bool)
	for _, v := range f.vars {
		desc := v.Descriptor()
		if _, ok := pending[desc.Name]; !ok || desc.OnChange == nil || seen[desc.OnChange] {
			continue
		}
		hook := desc.OnChange
		seen[hook] = true
		if hook.fn == nil {
			continue
		}
		if err := hook.fn(ctx, c); err != nil {
			f.logger.ErrorContext(ctx, "config hook failed",
				"schema", f.name,
				"id", c.record.ID,
				"hook", hook.name,
				"error", err,
			)
			f.observer.HookFailed(f.name, hook.name)
		}
	}
}

// Delete removes the stored record. The config cannot be used afterwards.
func (c *Config) Delete(ctx context.Context) error {
	f := c.factory
	ctx, span := f.tracer.Start(ctx, "guildconfig.Delete",
		trace.WithAttributes(
			attribute.String("config.schema", f.name),
			attribute.Int64("config.id", c.record.ID),
		))
	defer span.End()

	if c.deleted {
		return ErrDeleted
	}
	err := f.store.Delete(ctx, f.table, f.name, c.record.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	c.deleted = true
	f.logger.InfoContext(ctx, "config deleted", "schema", f.name, "id", c.record.ID)
	f.observer.ConfigDeleted(f.name)
	return nil
}

// Render returns the display form of every variable: a string, or nil for
// unset values.
func (c *Config) Render() map[string]any {
	out := make(map[string]any, len(c.factory.vars))
	for _, v := range c.factory.vars {
		name := v.Descriptor().Name
		if s, ok := v.Readable(c.values[name]); ok {
			out[name] = s
		} else {
			out[name] = nil
		}
	}
	return out
}

// JSON returns the stored form of every variable.
func (c *Config) JSON() (map[string]json.RawMessage, error) {
	return c.factory.serialize(c.values)
}

// Values returns a copy of the resolved values.
func (c *Config) Values() map[string]any {
	out := make(map[string]any, len(c.values))
	for name, value := range c.values {
		out[name] = value
	}
	return out
}

// Get returns the resolved value of a variable. ok is false for names
// outside the schema.
func (c *Config) Get(name string) (value any, ok bool) {
	if _, known := c.factory.index[name]; !known {
		return nil, false
	}
	return c.values[name], true
}

// MustGet is Get for names known to be in the schema.
func (c *Config) MustGet(name string) any {
	value, ok := c.Get(name)
	if !ok {
		panic(fmt.Sprintf("guildconfig: %s has no variable %q", c.factory.name, name))
	}
	return value
}

func (c *Config) String(name string) string {
	s, _ := c.values[name].(string)
	return s
}

func (c *Config) Bool(name string) bool {
	b, _ := c.values[name].(bool)
	return b
}

func (c *Config) Int(name string) int64 {
	n, _ := c.values[name].(int64)
	return n
}

func (c *Config) Duration(name string) time.Duration {
	d, _ := c.values[name].(time.Duration)
	return d
}

func (c *Config) Role(name string) *discordgo.Role {
	role, _ := c.values[name].(*discordgo.Role)
	return role
}

func (c *Config) Channel(name string) *discordgo.Channel {
	ch, _ := c.values[name].(*discordgo.Channel)
	return ch
}

func (c *Config) Rows(name string) []Row {
	rows, _ := c.values[name].([]Row)
	return rows
}

func (c *Config) ID() int64            { return c.record.ID }
func (c *Config) Factory() *Factory    { return c.factory }
func (c *Config) Deleted() bool        { return c.deleted }
func (c *Config) UpdatedAt() time.Time { return c.record.UpdatedAt }

// Info returns a copy of the record metadata.
func (c *Config) Info() map[string]any {
	out := make(map[string]any, len(c.record.Info))
	for k, v := range c.record.Info {
		out[k] = v
	}
	return out
}
