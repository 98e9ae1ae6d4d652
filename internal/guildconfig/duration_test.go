package guildconfig

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{input: "14:00:15", want: 14*time.Hour + 15*time.Second},
		{input: "00:30:00", want: 30 * time.Minute},
		{input: "120:00:00", want: 120 * time.Hour},
		{input: "1h 30m", want: 5400 * time.Second},
		{input: "1h30m", want: 5400 * time.Second},
		{input: "45s", want: 45 * time.Second},
		{input: "2d", want: 48 * time.Hour},
		{input: "1W", want: 7 * 24 * time.Hour},
		{input: "1M", want: 30 * 24 * time.Hour},
		{input: "1Y", want: 365 * 24 * time.Hour},
		{input: "1m", want: time.Minute},
		{input: "  10m  ", want: 10 * time.Minute},
		{input: "0s", want: 0},
		{input: "1x", wantErr: true},
		{input: "soon", wantErr: true},
		{input: "1:2:3", wantErr: true},
		{input: "h1", wantErr: true},
		{input: "300Y", wantErr: true},
		{input: "3000000h", wantErr: true},
		{input: "200Y 200Y", wantErr: true},
		{input: "9999999999:00:00", wantErr: true},
		{input: "292Y", want: 292 * 365 * 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDuration(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDuration() = %v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDuration() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatDurationParses(t *testing.T) {
	for _, d := range []time.Duration{0, time.Second, 90 * time.Minute, 26*time.Hour + 5*time.Second, 400 * 24 * time.Hour} {
		s := FormatDuration(d)
		got, err := ParseDuration(s)
		if err != nil {
			t.Fatalf("ParseDuration(%q) error = %v", s, err)
		}
		if got != d {
			t.Fatalf("ParseDuration(FormatDuration(%v)) = %v via %q", d, got, s)
		}
	}
	if got := FormatDuration(90 * time.Minute); got != "1h 30m" {
		t.Fatalf("FormatDuration(90m) = %q", got)
	}
}

func TestDurationVarParseMessage(t *testing.T) {
	v := NewDurationVar("mute_time")
	_, err := v.Parse("forever", nil)
	if !IsValidation(err) {
		t.Fatalf("Parse() error = %v, want validation error", err)
	}
	if err.Error() != "Invalid time duration format forever" {
		t.Fatalf("Parse() message = %q", err.Error())
	}
}

func TestDurationVarRejectsOverflow(t *testing.T) {
	v := NewDurationVar("mute_time")
	got, err := v.Parse("300Y", nil)
	if !IsValidation(err) || err.Error() != "Invalid time duration format 300Y" {
		t.Fatalf("Parse(300Y) = %v, %v; want validation error", got, err)
	}

	for _, raw := range []string{`9300000000`, `-5`} {
		got, err := v.FromJSON(json.RawMessage(raw), nil)
		var resErr *ResolutionError
		if !errors.As(err, &resErr) {
			t.Errorf("FromJSON(%s) = %v, %v; want resolution error", raw, got, err)
		}
	}

	limit := json.RawMessage(`9223372036`)
	got, err = v.FromJSON(limit, nil)
	if err != nil {
		t.Fatalf("FromJSON(%s) error = %v", limit, err)
	}
	out, err := v.JSON(got)
	if err != nil || out != int64(9223372036) {
		t.Fatalf("JSON() = %v, %v", out, err)
	}
}
