package guildconfig

// Schema describes a factory for UIs and the CLI.
type Schema struct {
	Name      string         `json:"name"`
	Display   string         `json:"display"`
	Icon      string         `json:"icon"`
	Table     string         `json:"table"`
	Version   int            `json:"version"`
	Variables []VariableInfo `json:"variables"`
}

// VariableInfo describes one variable. Default is in stored form.
type VariableInfo struct {
	Name        string         `json:"name"`
	Kind        Kind           `json:"kind"`
	Display     string         `json:"display"`
	Description string         `json:"description,omitempty"`
	Section     string         `json:"section,omitempty"`
	NotNull     bool           `json:"notnull,omitempty"`
	Default     any            `json:"default"`
	Options     []string       `json:"options,omitempty"`
	Min         *int64         `json:"min,omitempty"`
	Max         *int64         `json:"max,omitempty"`
	Unit        string         `json:"unit,omitempty"`
	Columns     []VariableInfo `json:"columns,omitempty"`
	Blank       map[string]any `json:"blank,omitempty"`
}

// Describe returns the schema description.
func (f *Factory) Describe() Schema {
	schema := Schema{
		Name:      f.name,
		Display:   f.display,
		Icon:      f.icon,
		Table:     f.table,
		Version:   f.version,
		Variables: make([]VariableInfo, 0, len(f.vars)),
	}
	for _, v := range f.vars {
		schema.Variables = append(schema.Variables, describeVariable(v))
	}
	return schema
}

func describeVariable(v Variable) VariableInfo {
	desc := v.Descriptor()
	info := VariableInfo{
		Name:        desc.Name,
		Kind:        v.Kind(),
		Display:     desc.Display,
		Description: desc.Description,
		Section:     desc.Section,
		NotNull:     desc.NotNull,
		Default:     desc.Default,
	}
	switch vv := v.(type) {
	case *OptionVar:
		info.Options = append([]string(nil), vv.Options...)
	case *SliderVar:
		lo, hi := vv.Min, vv.Max
		info.Min, info.Max, info.Unit = &lo, &hi, vv.Unit
	case *Table:
		for _, col := range vv.columns {
			info.Columns = append(info.Columns, describeVariable(col))
		}
		info.Blank = vv.BlankRow()
	}
	return info
}
