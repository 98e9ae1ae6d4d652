package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// includeKey lists files merged underneath the file that names them.
const includeKey = "$include"

// maxIncludeDepth bounds include chains.
const maxIncludeDepth = 8

type rawDecoder func(data []byte) (map[string]any, error)

// decoders by file extension. Anything else is read as YAML.
var decoders = map[string]rawDecoder{
	".json":  decodeJSON5,
	".json5": decodeJSON5,
	".toml":  decodeTOML,
}

// LoadRaw reads a configuration file into one raw map. ${VAR} and
// ${VAR:-fallback} references are expanded before parsing, and files named
// by $include are merged underneath the including file. Included files may
// use a different format than their parent.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is required")
	}
	l := &rawLoader{active: map[string]bool{}}
	return l.load(path, 0)
}

type rawLoader struct {
	active map[string]bool
}

func (l *rawLoader) load(path string, depth int) (map[string]any, error) {
	if depth > maxIncludeDepth {
		return nil, fmt.Errorf("config includes nested deeper than %d at %s", maxIncludeDepth, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if l.active[abs] {
		return nil, fmt.Errorf("config include cycle detected at %s", abs)
	}
	l.active[abs] = true
	defer delete(l.active, abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	decode, ok := decoders[strings.ToLower(filepath.Ext(abs))]
	if !ok {
		decode = decodeYAML
	}
	raw, err := decode([]byte(expandEnv(string(data))))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}

	includes, err := popIncludes(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}
	base := map[string]any{}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		included, err := l.load(inc, depth+1)
		if err != nil {
			return nil, err
		}
		base = overlay(base, included)
	}
	return overlay(base, raw), nil
}

// expandEnv replaces ${VAR} and ${VAR:-fallback}. A bare $ not followed by
// a brace is kept, so values such as the $include key survive.
func expandEnv(s string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:start])
		ref := s[start+2 : start+end]
		name, fallback, hasFallback := strings.Cut(ref, ":-")
		value, set := os.LookupEnv(name)
		if (!set || value == "") && hasFallback {
			value = fallback
		}
		b.WriteString(value)
		s = s[start+end+1:]
	}
}

func decodeYAML(data []byte) (map[string]any, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	raw := map[string]any{}
	if err := decoder.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("expected a single YAML document")
	}
	return raw, nil
}

func decodeJSON5(data []byte) (map[string]any, error) {
	raw := map[string]any{}
	if err := json5.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func decodeTOML(data []byte) (map[string]any, error) {
	raw := map[string]any{}
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// popIncludes removes and returns the $include entry, which may be a single
// path or a list.
func popIncludes(raw map[string]any) ([]string, error) {
	value, ok := raw[includeKey]
	if !ok {
		return nil, nil
	}
	delete(raw, includeKey)

	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		return []string{v}, nil
	case []any:
		paths := make([]string, 0, len(v))
		for _, entry := range v {
			path, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("%s entries must be strings", includeKey)
			}
			if strings.TrimSpace(path) != "" {
				paths = append(paths, path)
			}
		}
		return paths, nil
	}
	return nil, fmt.Errorf("%s must be a path or a list of paths", includeKey)
}

// overlay returns base with top laid over it. Nested maps merge key by key;
// any other value in top replaces the one in base.
func overlay(base, top map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(top))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range top {
		if topMap, ok := v.(map[string]any); ok {
			if baseMap, ok := out[k].(map[string]any); ok {
				out[k] = overlay(baseMap, topMap)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// decodeRawConfig maps the merged raw tree onto Config, rejecting unknown
// keys.
func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
