package guildconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Row is one table row keyed by column name. Values are resolved column
// values.
type Row map[string]any

// Table is a variable holding an ordered list of rows whose cells are
// validated by column variables. It resolves to []Row and is stored as an
// array of objects.
type Table struct {
	Base
	columns []Variable
	index   map[string]Variable
	blank   map[string]any
}

// NewTable creates a table over the given columns. The default is an empty
// table unless WithDefault says otherwise.
func NewTable(name string, columns []Variable, opts ...Option) *Table {
	t := &Table{
		Base:  newBase(name, append([]Option{WithDefault([]any{})}, opts...)),
		index: make(map[string]Variable, len(columns)),
	}
	for _, col := range columns {
		if col == nil {
			continue
		}
		t.columns = append(t.columns, col)
		t.index[col.Descriptor().Name] = col
	}
	return t
}

// WithBlankRow sets the cell inputs UIs use when adding a row. Columns
// missing from blank start out null.
func (t *Table) WithBlankRow(blank map[string]any) *Table {
	t.blank = blank
	return t
}

func (t *Table) Kind() Kind { return KindTable }

// Columns returns the column variables in order.
func (t *Table) Columns() []Variable {
	out := make([]Variable, len(t.columns))
	copy(out, t.columns)
	return out
}

// BlankRow returns the row UIs insert when a row is added.
func (t *Table) BlankRow() map[string]any {
	out := make(map[string]any, len(t.columns))
	for _, col := range t.columns {
		name := col.Descriptor().Name
		out[name] = t.blank[name]
	}
	return out
}

// Parse accepts a JSON-encoded array of row objects or an already decoded
// array. Every row must name exactly the table's columns.
func (t *Table) Parse(input any, scope Scope) (any, error) {
	rows, err := t.inputRows(input)
	if err != nil {
		return nil, err
	}
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		if !t.sameColumns(row) {
			return nil, validationf(t.Name, "Incorrect columns for table %s.", t.Name)
		}
		parsed := make(Row, len(t.columns))
		for _, col := range t.columns {
			name := col.Descriptor().Name
			value, err := col.Parse(row[name], scope)
			if err != nil {
				return nil, err
			}
			parsed[name] = value
		}
		out = append(out, parsed)
	}
	return out, nil
}

func (t *Table) inputRows(input any) ([]map[string]any, error) {
	switch v := input.(type) {
	case nil:
		_, _, err := t.parseNull(nil)
		return nil, err
	case string:
		if isNullSpelling(v) {
			_, _, err := t.parseNull(v)
			return nil, err
		}
		dec := json.NewDecoder(strings.NewReader(v))
		dec.UseNumber()
		var decoded any
		if err := dec.Decode(&decoded); err != nil {
			return nil, validationf(t.Name, "%s value must be a JSON list of rows.", t.Name)
		}
		return t.inputRows(decoded)
	case []Row:
		out := make([]map[string]any, len(v))
		for i, row := range v {
			out[i] = row
		}
		return out, nil
	case []map[string]any:
		return v, nil
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			switch row := item.(type) {
			case map[string]any:
				out = append(out, row)
			case Row:
				out = append(out, row)
			default:
				return nil, validationf(t.Name, "Incorrect columns for table %s.", t.Name)
			}
		}
		return out, nil
	default:
		return nil, validationf(t.Name, "%s value must be a JSON list of rows.", t.Name)
	}
}

func (t *Table) sameColumns(row map[string]any) bool {
	if len(row) != len(t.columns) {
		return false
	}
	for key := range row {
		if _, ok := t.index[key]; !ok {
			return false
		}
	}
	return true
}

// FromJSON resolves every stored cell with its column. Columns absent from a
// stored row take the column default; unknown keys fail the whole table.
func (t *Table) FromJSON(raw json.RawMessage, scope Scope) (any, error) {
	if isNullRaw(raw) {
		return []Row{}, nil
	}
	var stored []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, resolutionf(t.Name, "stored value is not a list of rows: %v", err)
	}
	out := make([]Row, 0, len(stored))
	for i, cells := range stored {
		for key := range cells {
			if _, ok := t.index[key]; !ok {
				return nil, resolutionf(t.Name, "row %d has unknown column %q", i, key)
			}
		}
		row := make(Row, len(t.columns))
		for _, col := range t.columns {
			desc := col.Descriptor()
			cell, ok := cells[desc.Name]
			if !ok {
				def, err := json.Marshal(desc.Default)
				if err != nil {
					return nil, resolutionf(t.Name, "column %s default: %v", desc.Name, err)
				}
				cell = def
			}
			value, err := col.FromJSON(cell, scope)
			if err != nil {
				return nil, &ResolutionError{Variable: t.Name, Err: fmt.Errorf("row %d: %w", i, err)}
			}
			row[desc.Name] = value
		}
		out = append(out, row)
	}
	return out, nil
}

func toRows(value any) ([]Row, bool) {
	switch v := value.(type) {
	case nil:
		return nil, true
	case []Row:
		return v, true
	default:
		return nil, false
	}
}

// Readable renders the table as indented JSON with cells in column order.
func (t *Table) Readable(value any) (string, bool) {
	rows, ok := toRows(value)
	if !ok {
		return "", false
	}
	ordered := make([]orderedRow, 0, len(rows))
	for _, row := range rows {
		or := orderedRow{keys: make([]string, 0, len(t.columns)), values: make([]any, 0, len(t.columns))}
		for _, col := range t.columns {
			name := col.Descriptor().Name
			or.keys = append(or.keys, name)
			if s, ok := col.Readable(row[name]); ok {
				or.values = append(or.values, s)
			} else {
				or.values = append(or.values, nil)
			}
		}
		ordered = append(ordered, or)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ordered); err != nil {
		return "", false
	}
	return strings.TrimRight(buf.String(), "\n"), true
}

// Check verifies every cell with its column, then the table predicate.
func (t *Table) Check(value any) error {
	rows, ok := toRows(value)
	if !ok {
		return t.typeError(value)
	}
	for _, row := range rows {
		for _, col := range t.columns {
			if err := col.Check(row[col.Descriptor().Name]); err != nil {
				return err
			}
		}
	}
	return t.Base.Check(value)
}

func (t *Table) JSON(value any) (any, error) {
	rows, ok := toRows(value)
	if !ok {
		return nil, t.typeError(value)
	}
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		stored := make(map[string]any, len(t.columns))
		for _, col := range t.columns {
			name := col.Descriptor().Name
			cell, err := col.JSON(row[name])
			if err != nil {
				return nil, fmt.Errorf("table %s: %w", t.Name, err)
			}
			stored[name] = cell
		}
		out = append(out, stored)
	}
	return out, nil
}

// orderedRow marshals as a JSON object with keys in column order.
type orderedRow struct {
	keys   []string
	values []any
}

func (r orderedRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := marshalNoEscape(key)
		if err != nil {
			return nil, err
		}
		v, err := marshalNoEscape(r.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
