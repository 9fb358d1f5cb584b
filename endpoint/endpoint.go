// Package endpoint tokenizes the source/output DSL strings (spec §4.1,
// §6) into structured Source/Output records: scheme://host:port URIs,
// optional topic remaps, ephemerality markers, and bang-delimited options.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package endpoint

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openfilter/openfilter/xerr"
)

type Ephemerality int

const (
	NotEphemeral Ephemerality = iota
	Ephemeral                 // trailing "?"
	DoublyEphemeral            // trailing "??"
)

// TopicMap maps a source-side topic name to the destination-side topic
// name a filter's process() should see it as. A mapping with no explicit
// "src>dst" and no wildcard implies the topic "main" (spec §4.1).
type TopicMap struct {
	SrcTopic string // empty means wildcard "*" or unspecified-implies-main
	DstTopic string
	Wildcard bool
}

// Option is a single "key" or "key=value" endpoint modifier, appended
// with "!" delimiters. The parser preserves unrecognized keys verbatim
// (permissive), and callers type-coerce recognized ones on demand.
type Option struct {
	Key   string
	Value string
	HasValue bool
}

func (o Option) Bool() (bool, error)  { return coerceBool(o.Value) }
func (o Option) Int() (int, error)    { return strconv.Atoi(o.Value) }
func (o Option) Float() (float64, error) { return strconv.ParseFloat(o.Value, 64) }
func (o Option) List() []string {
	parts := strings.Split(o.Value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

type Options []Option

func (opts Options) Get(key string) (Option, bool) {
	for _, o := range opts {
		if o.Key == key {
			return o, true
		}
	}
	return Option{}, false
}

// Source declares an inbound endpoint (spec §3 "Source").
type Source struct {
	URI         string
	Ephemeral   Ephemerality
	TopicMaps   []TopicMap
	Options     Options
	Raw         string
}

// Output declares an outbound endpoint (spec §3 "Output").
type Output struct {
	URI       string
	TopicMaps []TopicMap
	Options   Options
	Raw       string
}

const topicNameChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_"

func isValidTopicName(s string) bool {
	if s == "*" {
		return true
	}
	if s == "" {
		return false
	}
	if !isTopicStartChar(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if strings.IndexByte(topicNameChars, s[i]) < 0 {
			return false
		}
	}
	return true
}

func isTopicStartChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

// splitEndpoints splits a comma-separated endpoints DSL string, honoring
// the fact that commas never appear unescaped inside a single endpoint
// (URIs, topic maps, and options use reserved characters ':' ';' '!' '>'
// instead).
func splitEndpoints(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParseSources parses a source DSL string or pre-split list into ordered
// Source records (spec §4.1). Order is preserved and duplicate URIs with
// distinct options remain distinct sources.
func ParseSources(in any) ([]Source, error) {
	raws, err := toRawList(in)
	if err != nil {
		return nil, err
	}
	out := make([]Source, 0, len(raws))
	for _, raw := range raws {
		src, err := parseOneSource(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

// ParseOutputs parses an output DSL string or pre-split list into ordered
// Output records.
func ParseOutputs(in any) ([]Output, error) {
	raws, err := toRawList(in)
	if err != nil {
		return nil, err
	}
	out := make([]Output, 0, len(raws))
	for _, raw := range raws {
		o, err := parseOneOutput(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func toRawList(in any) ([]string, error) {
	switch v := in.(type) {
	case string:
		return splitEndpoints(v), nil
	case []string:
		var out []string
		for _, s := range v {
			out = append(out, splitEndpoints(s)...)
		}
		return out, nil
	default:
		return nil, xerr.Config("endpoints", fmt.Sprintf("unsupported input type %T, want string or []string", in))
	}
}

// endpointParts is the shared (uri, topicSpecPart, options) decomposition
// for both Source and Output grammars:
//
//	endpoint = uri [";" topic_map] ("!" option)*
func endpointParts(raw string) (uri string, topicPart string, opts Options, err error) {
	rest := raw
	var optParts []string
	for {
		idx := strings.LastIndexByte(rest, '!')
		if idx < 0 {
			break
		}
		optParts = append([]string{rest[idx+1:]}, optParts...)
		rest = rest[:idx]
	}
	for _, op := range optParts {
		if op == "" {
			continue
		}
		k, v, has := strings.Cut(op, "=")
		opts = append(opts, Option{Key: k, Value: v, HasValue: has})
	}

	uriAndTopic := rest
	if idx := strings.IndexByte(uriAndTopic, ';'); idx >= 0 {
		uri = uriAndTopic[:idx]
		topicPart = uriAndTopic[idx+1:]
	} else {
		uri = uriAndTopic
	}
	if uri == "" {
		return "", "", nil, xerr.Config("endpoint", "malformed-endpoint: missing URI in "+raw).With("pos", 0)
	}
	return uri, topicPart, opts, nil
}

func parseTopicMaps(topicPart string) ([]TopicMap, error) {
	if topicPart == "" {
		return []TopicMap{{DstTopic: "main"}}, nil
	}
	var maps []TopicMap
	for _, spec := range strings.Split(topicPart, ";") {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		if spec == "*" {
			maps = append(maps, TopicMap{Wildcard: true})
			continue
		}
		var tm TopicMap
		if idx := strings.IndexByte(spec, '>'); idx >= 0 {
			tm.SrcTopic = spec[:idx]
			tm.DstTopic = spec[idx+1:]
		} else {
			tm.DstTopic = spec
		}
		if tm.SrcTopic != "" && !isValidTopicName(tm.SrcTopic) {
			return nil, xerr.Config("topic", "malformed-endpoint: invalid source topic name "+tm.SrcTopic)
		}
		if !isValidTopicName(tm.DstTopic) {
			return nil, xerr.Config("topic", "malformed-endpoint: invalid destination topic name "+tm.DstTopic)
		}
		maps = append(maps, tm)
	}
	if len(maps) == 0 {
		maps = []TopicMap{{DstTopic: "main"}}
	}
	return maps, nil
}

// splitEphemeral strips a trailing "?" or "??" ephemerality marker from the
// end of the URI (spec §6: the marker is appended to the scheme
// authority, e.g. "tcp://host:port??").
func splitEphemeral(uri string) (string, Ephemerality) {
	if strings.HasSuffix(uri, "??") {
		return strings.TrimSuffix(uri, "??"), DoublyEphemeral
	}
	if strings.HasSuffix(uri, "?") && !strings.Contains(uri, "?=") {
		// distinguish a bare trailing "?" marker from a real query string;
		// query strings are only meaningful to external-scheme plugins, which
		// this parser treats opaquely, so a trailing "?" with no following
		// key=value content is always the ephemerality marker.
		trimmed := strings.TrimSuffix(uri, "?")
		if !strings.Contains(trimmed, "?") {
			return trimmed, Ephemeral
		}
	}
	return uri, NotEphemeral
}

func validateURI(uri string) error {
	idx := strings.Index(uri, "://")
	if idx <= 0 {
		return xerr.Config("uri", "malformed-endpoint: missing scheme in "+uri)
	}
	return nil
}

func parseOneSource(raw string) (Source, error) {
	uri, topicPart, opts, err := endpointParts(raw)
	if err != nil {
		return Source{}, err
	}
	uri, eph := splitEphemeral(uri)
	if err := validateURI(uri); err != nil {
		return Source{}, err
	}
	maps, err := parseTopicMaps(topicPart)
	if err != nil {
		return Source{}, err
	}
	return Source{URI: uri, Ephemeral: eph, TopicMaps: maps, Options: opts, Raw: raw}, nil
}

func parseOneOutput(raw string) (Output, error) {
	uri, topicPart, opts, err := endpointParts(raw)
	if err != nil {
		return Output{}, err
	}
	if err := validateURI(uri); err != nil {
		return Output{}, err
	}
	maps, err := parseTopicMaps(topicPart)
	if err != nil {
		return Output{}, err
	}
	return Output{URI: uri, TopicMaps: maps, Options: opts, Raw: raw}, nil
}

func coerceBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no", "":
		return false, nil
	default:
		return false, fmt.Errorf("not a boolean: %q", s)
	}
}
