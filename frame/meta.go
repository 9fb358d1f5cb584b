// Package frame implements OpenFilter's frame data model and wire codec
// (spec §3, §4.2): an optional image payload plus an ordered metadata
// mapping, encoded on the wire as a two-part message (JSON header, raw
// image bytes) so a consumer can decode the header without copying the
// pixel buffer.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package frame

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/openfilter/openfilter/cmn/debug"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Meta is an ordered string-keyed mapping of JSON-shaped values (spec's
// {null, bool, int, float, string, byte-string, list, nested mapping}
// sum type). Go has no native "JSON value" sum type, so Meta is a thin
// ordered wrapper over map[string]any that preserves insertion order on
// marshal, which the spec's round-trip law (decode(encode(F)) == F with an
// equal "canonical form") requires for reproducible header bytes.
type Meta struct {
	keys   []string
	values map[string]any
}

func NewMeta() *Meta {
	return &Meta{values: make(map[string]any)}
}

func (m *Meta) Set(key string, val any) {
	if m.values == nil {
		m.values = make(map[string]any)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = val
}

func (m *Meta) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *Meta) Delete(key string) {
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

func (m *Meta) Keys() []string { return m.keys }
func (m *Meta) Len() int       { return len(m.keys) }

// Values returns the underlying key->value mapping, for callers (telemetry's
// Registry.Observe) that extract a metric value straight out of a frame's
// metadata without walking Keys()/Get() one at a time. Callers must treat
// the result as read-only.
func (m *Meta) Values() map[string]any { return m.values }

// Clone returns a shallow copy: top-level keys are copied, nested
// map/slice values are shared. Sufficient for the copy-on-write semantics
// frame.Frame.Mutable() needs (nested metadata is rarely mutated in place
// by filters; filters that do must Clone again explicitly).
func (m *Meta) Clone() *Meta {
	cp := &Meta{
		keys:   append([]string(nil), m.keys...),
		values: make(map[string]any, len(m.values)),
	}
	for k, v := range m.values {
		cp.values[k] = v
	}
	return cp
}

// RuntimeFields holds the reserved "meta" sub-mapping spec §3 requires:
// runtime-inserted bookkeeping every frame carries once it leaves a
// producer.
type RuntimeFields struct {
	ID     int64   `json:"id"`
	TS     int64   `json:"ts"` // wall time, nanoseconds since epoch, UTC
	Src    string  `json:"src"`
	Topic  string  `json:"topic"`
	FPS    float64 `json:"fps,omitempty"`
	LatIn  float64 `json:"lat_in,omitempty"`
	LatOut float64 `json:"lat_out,omitempty"`
}

func (m *Meta) SetRuntime(rt RuntimeFields) { m.Set("meta", rt) }

func (m *Meta) Runtime() (RuntimeFields, bool) {
	v, ok := m.Get("meta")
	if !ok {
		return RuntimeFields{}, false
	}
	switch t := v.(type) {
	case RuntimeFields:
		return t, true
	case map[string]any:
		// frames that round-tripped through JSON decode land here
		var rt RuntimeFields
		b, err := json.Marshal(t)
		debug.AssertNoErr(err)
		if err := json.Unmarshal(b, &rt); err != nil {
			return RuntimeFields{}, false
		}
		return rt, true
	default:
		return RuntimeFields{}, false
	}
}

// MarshalJSON preserves insertion order, which a plain map[string]any
// cannot: encoding/json and jsoniter both sort map keys alphabetically.
func (m *Meta) MarshalJSON() ([]byte, error) {
	if m == nil || len(m.keys) == 0 {
		return []byte("{}"), nil
	}
	var buf []byte
	buf = append(buf, '{')
	for i, k := range m.keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}

func (m *Meta) UnmarshalJSON(b []byte) error {
	// jsoniter's streaming decoder reports object keys in wire order.
	iter := json.BorrowIterator(b)
	defer json.ReturnIterator(iter)
	m.values = make(map[string]any)
	m.keys = m.keys[:0]
	iter.ReadObjectCB(func(it *jsoniter.Iterator, field string) bool {
		var v any
		it.ReadVal(&v)
		m.Set(field, v)
		return true
	})
	return iter.Error
}
