package guildconfig

import (
	"encoding/json"
	"strconv"
	"strings"
)

// IntVar is a base-10 integer.
type IntVar struct {
	Base
}

func NewIntVar(name string, opts ...Option) *IntVar {
	return &IntVar{Base: newBase(name, opts)}
}

func (v *IntVar) Kind() Kind { return KindInt }

func (v *IntVar) Parse(input any, _ Scope) (any, error) {
	text, null, err := v.parseNull(input)
	if err != nil || null {
		return nil, err
	}
	return parseInt(&v.Base, text)
}

func (v *IntVar) FromJSON(raw json.RawMessage, _ Scope) (any, error) {
	n, null, err := decodeInt(v.Name, raw)
	if err != nil || null {
		return nil, err
	}
	return n, nil
}

func (v *IntVar) Readable(value any) (string, bool) {
	return intReadable(value)
}

func (v *IntVar) JSON(value any) (any, error) {
	return intJSON(&v.Base, value)
}

// SliderVar is an integer bounded by an inclusive range. Unit is display
// only.
type SliderVar struct {
	Base
	Min  int64
	Max  int64
	Unit string
}

// NewSliderVar creates a bounded integer variable. An empty unit means "%".
func NewSliderVar(name string, min, max int64, unit string, opts ...Option) *SliderVar {
	if unit == "" {
		unit = "%"
	}
	return &SliderVar{Base: newBase(name, opts), Min: min, Max: max, Unit: unit}
}

func (v *SliderVar) Kind() Kind { return KindSlider }

func (v *SliderVar) Parse(input any, _ Scope) (any, error) {
	text, null, err := v.parseNull(input)
	if err != nil || null {
		return nil, err
	}
	parsed, err := parseInt(&v.Base, text)
	if err != nil {
		return nil, err
	}
	n := parsed.(int64)
	if n < v.Min || n > v.Max {
		return nil, validationf(v.Name, "%s value must be between %d and %d.", v.Name, v.Min, v.Max)
	}
	return n, nil
}

// FromJSON fails for stored values outside the current bounds.
func (v *SliderVar) FromJSON(raw json.RawMessage, _ Scope) (any, error) {
	n, null, err := decodeInt(v.Name, raw)
	if err != nil || null {
		return nil, err
	}
	if n < v.Min || n > v.Max {
		return nil, resolutionf(v.Name, "stored value %d is outside [%d, %d]", n, v.Min, v.Max)
	}
	return n, nil
}

func (v *SliderVar) Readable(value any) (string, bool) {
	return intReadable(value)
}

func (v *SliderVar) JSON(value any) (any, error) {
	return intJSON(&v.Base, value)
}

func parseInt(b *Base, text string) (any, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil {
		return nil, validationf(b.Name, "%s value must be an integer.", b.Name)
	}
	return n, nil
}

func intReadable(value any) (string, bool) {
	n, ok := value.(int64)
	if !ok {
		return "", false
	}
	return strconv.FormatInt(n, 10), true
}

func intJSON(b *Base, value any) (any, error) {
	switch n := value.(type) {
	case nil:
		return nil, nil
	case int64:
		return n, nil
	default:
		return nil, b.typeError(value)
	}
}
