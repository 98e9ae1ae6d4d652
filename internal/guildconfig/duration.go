package guildconfig

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	day   = 24 * time.Hour
	week  = 7 * day
	month = 30 * day
	year  = 365 * day
)

var (
	clockPattern         = regexp.MustCompile(`^([0-9]+):([0-9]{2}):([0-9]{2})$`)
	durationPattern      = regexp.MustCompile(`^([0-9]+[A-Za-z] ?)+$`)
	durationTokenPattern = regexp.MustCompile(`([0-9]+)([A-Za-z])`)
)

// durationUnits is case sensitive: "m" is minutes and "M" is 30-day months.
var durationUnits = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": day,
	"W": week,
	"M": month,
	"Y": year,
}

// ParseDuration parses HH:MM:SS or a sequence of <number><unit> tokens such
// as "1h 30m". Units are s, m, h, d, W (week), M (30 days) and Y (365 days).
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if m := clockPattern.FindStringSubmatch(s); m != nil {
		var total time.Duration
		var ok bool
		for i, unit := range []time.Duration{time.Hour, time.Minute, time.Second} {
			n, err := strconv.ParseInt(m[i+1], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("Invalid time duration format %s", s)
			}
			if total, ok = addUnits(total, n, unit); !ok {
				return 0, fmt.Errorf("Invalid time duration format %s", s)
			}
		}
		return total, nil
	}
	if !durationPattern.MatchString(s) {
		return 0, fmt.Errorf("Invalid time duration format %s", s)
	}
	var total time.Duration
	for _, token := range durationTokenPattern.FindAllStringSubmatch(s, -1) {
		unit, ok := durationUnits[token[2]]
		if !ok {
			return 0, fmt.Errorf("Invalid time duration format %s", s)
		}
		n, err := strconv.ParseInt(token[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("Invalid time duration format %s", s)
		}
		if total, ok = addUnits(total, n, unit); !ok {
			return 0, fmt.Errorf("Invalid time duration format %s", s)
		}
	}
	return total, nil
}

// addUnits returns total + n*unit, or false if the result would not fit in
// a time.Duration. n and total are never negative here.
func addUnits(total time.Duration, n int64, unit time.Duration) (time.Duration, bool) {
	if n > int64(math.MaxInt64/unit) {
		return 0, false
	}
	step := time.Duration(n) * unit
	if total > math.MaxInt64-step {
		return 0, false
	}
	return total + step, true
}

// FormatDuration renders d as tokens ParseDuration accepts, largest unit
// first, for example "1d 2h 30m". Weeks, months and years are not used.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	seconds := int64(d / time.Second)
	parts := make([]string, 0, 4)
	for _, u := range []struct {
		suffix string
		size   int64
	}{
		{"d", int64(day / time.Second)},
		{"h", 3600},
		{"m", 60},
		{"s", 1},
	} {
		if seconds >= u.size {
			parts = append(parts, fmt.Sprintf("%d%s", seconds/u.size, u.suffix))
			seconds %= u.size
		}
	}
	return strings.Join(parts, " ")
}

// DurationVar is a time span stored as whole seconds.
type DurationVar struct {
	Base
}

func NewDurationVar(name string, opts ...Option) *DurationVar {
	return &DurationVar{Base: newBase(name, opts)}
}

func (v *DurationVar) Kind() Kind { return KindDuration }

func (v *DurationVar) Parse(input any, _ Scope) (any, error) {
	text, null, err := v.parseNull(input)
	if err != nil || null {
		return nil, err
	}
	d, err := ParseDuration(text)
	if err != nil {
		return nil, &ValidationError{Variable: v.Name, Message: err.Error()}
	}
	return d, nil
}

// FromJSON keeps a stored zero as a zero duration; only null is unset.
func (v *DurationVar) FromJSON(raw json.RawMessage, _ Scope) (any, error) {
	n, null, err := decodeInt(v.Name, raw)
	if err != nil || null {
		return nil, err
	}
	if n < 0 || n > int64(math.MaxInt64/time.Second) {
		return nil, resolutionf(v.Name, "stored duration %d seconds is out of range", n)
	}
	return time.Duration(n) * time.Second, nil
}

func (v *DurationVar) Readable(value any) (string, bool) {
	d, ok := value.(time.Duration)
	if !ok {
		return "", false
	}
	return FormatDuration(d), true
}

func (v *DurationVar) JSON(value any) (any, error) {
	switch d := value.(type) {
	case nil:
		return nil, nil
	case time.Duration:
		return int64(d / time.Second), nil
	default:
		return nil, v.typeError(value)
	}
}
