package config

import (
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/openfilter/openfilter/cmn/nlog"
	"github.com/openfilter/openfilter/endpoint"
	"github.com/openfilter/openfilter/xerr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Resolved is a fully resolved, frozen per-filter config (spec §4.7's
// normalize() contract): a defensive copy of its backing values map, so
// callers can never mutate a Resolved's fields out from under the
// supervisor that holds it.
type Resolved struct {
	schema *Schema
	values map[string]any
}

func (r *Resolved) Bool(name string) bool     { v, _ := r.values[name].(bool); return v }
func (r *Resolved) Float(name string) float64 { v, _ := r.values[name].(float64); return v }
func (r *Resolved) Int(name string) int       { v, _ := r.values[name].(float64); return int(v) }
func (r *Resolved) String(name string) string { v, _ := r.values[name].(string); return v }
func (r *Resolved) List(name string) []string { v, _ := r.values[name].([]string); return v }

// Serialize renders a Resolved's values as JSON, the wire form used when a
// normalized config is persisted or shipped to another process.
func (r *Resolved) Serialize() ([]byte, error) {
	return json.Marshal(r.values)
}

// Parse reconstructs a Resolved from Serialize's output against the same
// schema: parse(serialize(cfg)) == cfg for any normalized config (spec §8).
func Parse(schema *Schema, data []byte) (*Resolved, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, xerr.Config("<config>", err.Error())
	}
	values := make(map[string]any, len(schema.Fields))
	for _, f := range schema.Fields {
		v, ok := raw[f.Name]
		if !ok {
			return nil, xerr.Config(f.Name, "missing field in serialized config")
		}
		coerced, err := coerceAny(f, v)
		if err != nil {
			return nil, xerr.Config(f.Name, err.Error())
		}
		values[f.Name] = coerced
	}
	return &Resolved{schema: schema, values: values}, nil
}

// Normalize overlays, in increasing precedence: schema defaults ->
// environment variables -> userDict -> per-endpoint option overrides
// (spec §4.7). It returns a Resolved or a *xerr.Record{Kind:ConfigError}
// naming the offending field.
func Normalize(schema *Schema, env map[string]string, userDict map[string]any, opts endpoint.Options) (*Resolved, error) {
	values := make(map[string]any, len(schema.Fields))
	for _, f := range schema.Fields {
		values[f.Name] = f.Default
	}

	for _, f := range schema.Fields {
		if raw, ok := env[schema.EnvKey(f.Name)]; ok {
			v, err := coerce(f, raw)
			if err != nil {
				return nil, xerr.Config(f.Name, err.Error())
			}
			values[f.Name] = v
		}
	}

	for k, v := range userDict {
		f, known := schema.field(k)
		if !known {
			if schema.Strict {
				return nil, xerr.Config(k, "unknown field in strict schema")
			}
			nlog.Warningf("config: unknown field %q ignored", k)
			continue
		}
		coerced, err := coerceAny(f, v)
		if err != nil {
			return nil, xerr.Config(k, err.Error())
		}
		values[k] = coerced
	}

	for _, opt := range opts {
		f, known := schema.field(opt.Key)
		if !known {
			if schema.Strict {
				return nil, xerr.Config(opt.Key, "unknown endpoint option in strict schema")
			}
			nlog.Warningf("config: unknown endpoint option %q ignored", opt.Key)
			continue
		}
		raw := opt.Value
		if !opt.HasValue {
			raw = "true" // bare flag option implies boolean true
		}
		v, err := coerce(f, raw)
		if err != nil {
			return nil, xerr.Config(opt.Key, err.Error())
		}
		values[opt.Key] = v
	}

	return &Resolved{schema: schema, values: values}, nil
}

// coerce applies spec §4.7's type coercion rules to a raw string value
// (env vars and endpoint options always arrive as strings).
func coerce(f Field, raw string) (any, error) {
	switch f.Kind {
	case KindBool:
		return coerceBool(raw)
	case KindNumeric:
		return coerceNumeric(raw)
	case KindString:
		return raw, nil
	case KindEnum:
		return coerceEnum(f, raw)
	case KindList:
		return coerceList(raw), nil
	default:
		return nil, fmt.Errorf("unknown field kind for %q", f.Name)
	}
}

// coerceAny applies the same rules to an already-typed value (user dicts
// arrive as Go values, e.g. from a parsed JSON/YAML document).
func coerceAny(f Field, v any) (any, error) {
	if s, ok := v.(string); ok {
		return coerce(f, s)
	}
	switch f.Kind {
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindNumeric:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		}
	case KindList:
		if l, ok := v.([]string); ok {
			return l, nil
		}
		if l, ok := v.([]any); ok {
			out := make([]string, 0, len(l))
			for _, e := range l {
				out = append(out, fmt.Sprintf("%v", e))
			}
			return out, nil
		}
	case KindEnum:
		return coerceEnum(f, fmt.Sprintf("%v", v))
	}
	return nil, fmt.Errorf("field %q: cannot coerce %T to kind %v", f.Name, v, f.Kind)
}

func coerceBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("not a boolean: %q", s)
	}
}

// coerceNumeric parses a decimal/float, accepting trailing unit suffixes
// "k" (x1e3) and "M" (x1e6) for bitrate-style fields (spec §4.7).
func coerceNumeric(s string) (float64, error) {
	s = strings.TrimSpace(s)
	mult := 1.0
	if n := len(s); n > 0 {
		switch s[n-1] {
		case 'k', 'K':
			mult, s = 1e3, s[:n-1]
		case 'M':
			mult, s = 1e6, s[:n-1]
		}
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("not numeric: %q", s)
	}
	return v * mult, nil
}

func coerceEnum(f Field, s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, v := range f.EnumValues {
		if strings.EqualFold(v, s) {
			return v, nil
		}
	}
	return "", fmt.Errorf("field %q: %q is not one of %v", f.Name, s, f.EnumValues)
}

func coerceList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
