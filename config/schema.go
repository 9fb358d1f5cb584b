// Package config implements OpenFilter's per-filter-kind config schema and
// the four-layer normalization overlay (spec §4.7): defaults -> environment
// -> user-supplied dictionary -> per-endpoint option overrides parsed by
// the endpoint package. Grounded on cmn.GCO's "fully resolved, frozen
// Config" posture (no aistore config-schema file survived the retrieval
// pack, so the field-kind/coercion shape here generalizes endpoint.go's
// own Option.Bool/Int/Float/List coercion helpers up to a declarative
// per-field schema).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package config

// FieldKind names a config field's coercion rule (spec §4.7).
type FieldKind int

const (
	KindBool FieldKind = iota
	KindNumeric
	KindString
	KindEnum
	KindList
)

// Field declares one config field's name, kind, default, and (for enums)
// its valid variants.
type Field struct {
	Name       string
	Kind       FieldKind
	Default    any
	EnumValues []string // KindEnum only, matched case-insensitively
}

// Schema is one filter kind's typed config schema (spec §4.7: "Each
// filter kind defines a typed config schema with defaults").
type Schema struct {
	Kind   string // filter kind name, e.g. "Detector"
	Fields []Field
	Strict bool // unknown keys fail instead of warn
}

func (s *Schema) field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// EnvKey is the environment variable name a field is read from: the
// FILTER_ prefix, the filter kind, then the field name, all upper-cased
// (spec §4.7: "prefix FILTER_ and kind-specific prefixes").
func (s *Schema) EnvKey(fieldName string) string {
	return "FILTER_" + upperSnake(s.Kind) + "_" + upperSnake(fieldName)
}

func upperSnake(s string) string {
	out := make([]byte, 0, len(s)+4)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		} else if c == '-' || c == ' ' {
			c = '_'
		}
		out = append(out, c)
	}
	return string(out)
}
