// Package telemetry implements OpenFilter's observability substrate (spec
// §4.8): a per-filter MetricRegistry aggregating declared MetricSpecs plus
// system metrics, gated by a glob allowlist, exported periodically by a
// pluggable Exporter and mirrored into a lineage heartbeat. Grounded on
// aistore's stats package (common_statsd.go): the same declarative
// Kind-enum + atomic accumulator + periodic-flush shape, generalized from
// StatsD counters/latencies to OpenFilter's counter/histogram/gauge model.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package telemetry

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/openfilter/openfilter/cmn/nlog"
)

type Kind string

const (
	KindCounter   Kind = "counter"
	KindHistogram Kind = "histogram"
	KindGauge     Kind = "gauge"
)

// MetricSpec declares one metric a filter wants recorded every tick (spec
// §4.8): ExtractFn pulls a value out of the per-topic metadata bundle, a
// false second result meaning "do not record this tick".
type MetricSpec struct {
	Name      string
	Kind      Kind
	ExtractFn func(meta map[string]any) (float64, bool)
	Buckets   []float64 // histogram only; auto-generated if empty
}

// instrument is the live aggregation state behind one MetricSpec, the
// analogue of aistore's statsValue.
type instrument struct {
	spec MetricSpec

	// counter
	sum atomic.Uint64 // float64 bits, monotonic accumulator

	// gauge
	gaugeBits atomic.Uint64

	// histogram
	mu     sync.Mutex
	bounds []float64
	counts []int64
	hsum   float64
	hcount int64
}

func newInstrument(spec MetricSpec) *instrument {
	inst := &instrument{spec: spec}
	if spec.Kind == KindHistogram {
		inst.bounds = spec.Buckets
		if len(inst.bounds) == 0 {
			inst.bounds = defaultBuckets(spec.Name)
		}
		inst.counts = make([]int64, len(inst.bounds)+1)
	}
	return inst
}

// defaultBuckets auto-generates logarithmic bucket boundaries (spec §4.8),
// with a semantic override for metric names that look like confidence
// scores (bounded [0,1]).
func defaultBuckets(name string) []float64 {
	if containsFold(name, "confidence") {
		return []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0}
	}
	const (
		min   = 1e-3
		max   = 1e3
		count = 10
	)
	bounds := make([]float64, count)
	logMin, logMax := math.Log(min), math.Log(max)
	step := (logMax - logMin) / float64(count-1)
	for i := range bounds {
		bounds[i] = math.Exp(logMin + step*float64(i))
	}
	return bounds
}

func containsFold(s, substr string) bool {
	ls, lsub := toLower(s), toLower(substr)
	for i := 0; i+len(lsub) <= len(ls); i++ {
		if ls[i:i+len(lsub)] == lsub {
			return true
		}
	}
	return false
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func (inst *instrument) record(v float64) {
	switch inst.spec.Kind {
	case KindCounter:
		for {
			old := inst.sum.Load()
			nv := math.Float64frombits(old) + v
			if inst.sum.CompareAndSwap(old, math.Float64bits(nv)) {
				return
			}
		}
	case KindGauge:
		inst.gaugeBits.Store(math.Float64bits(v))
	case KindHistogram:
		inst.mu.Lock()
		idx := len(inst.bounds)
		for i, b := range inst.bounds {
			if v <= b {
				idx = i
				break
			}
		}
		inst.counts[idx]++
		inst.hsum += v
		inst.hcount++
		inst.mu.Unlock()
	}
}

// Sample is one exported data point: the Registry's bridge format handed to
// Exporter.Export and to the lineage heartbeat.
type Sample struct {
	Name    string
	Kind    Kind
	Value   float64   // counter sum or gauge latest
	Bounds  []float64 // histogram only
	Counts  []int64   // histogram only; len(Counts) == len(Bounds)+1
	Sum     float64   // histogram only
	Count   int64     // histogram only
}

// Registry owns one filter's declared metrics plus its system-metric
// instruments, and produces Samples for export (spec §4.8).
type Registry struct {
	mu          sync.RWMutex
	instruments map[string]*instrument
	allow       *Allowlist
}

func NewRegistry(specs []MetricSpec, allow *Allowlist) *Registry {
	r := &Registry{instruments: make(map[string]*instrument, len(specs)), allow: allow}
	for _, s := range specs {
		r.instruments[s.Name] = newInstrument(s)
	}
	return r
}

// Declare adds a system metric instrument (CPU, memory, fps, lat_in,
// lat_out) at runtime; these flow through the same allowlist as user
// MetricSpecs (spec §4.8 item 5).
func (r *Registry) Declare(spec MetricSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instruments[spec.Name]; !ok {
		r.instruments[spec.Name] = newInstrument(spec)
	}
}

// Observe runs every MetricSpec's ExtractFn against one tick's metadata
// bundle and folds the result into its instrument.
func (r *Registry) Observe(meta map[string]any) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, inst := range r.instruments {
		if inst.spec.ExtractFn == nil {
			continue
		}
		if v, ok := inst.spec.ExtractFn(meta); ok {
			inst.record(v)
		}
	}
}

// Record directly updates a system metric instrument previously added via
// Declare, bypassing the per-tick ExtractFn dispatch.
func (r *Registry) Record(name string, v float64) {
	r.mu.RLock()
	inst := r.instruments[name]
	r.mu.RUnlock()
	if inst != nil {
		inst.record(v)
	}
}

// Snapshot produces one Sample per instrument that survives allowlist
// gating, logging a one-per-name warning for every metric dropped (spec
// §4.8 item 4).
func (r *Registry) Snapshot() []Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Sample, 0, len(r.instruments))
	for name, inst := range r.instruments {
		if r.allow != nil && !r.allow.Allowed(name) {
			r.allow.warnOnce(name, func() {
				nlog.Warningf("telemetry: metric %q dropped: not in allowlist", name)
			})
			continue
		}
		out = append(out, inst.snapshot())
	}
	return out
}

func (inst *instrument) snapshot() Sample {
	s := Sample{Name: inst.spec.Name, Kind: inst.spec.Kind}
	switch inst.spec.Kind {
	case KindCounter:
		s.Value = math.Float64frombits(inst.sum.Load())
	case KindGauge:
		s.Value = math.Float64frombits(inst.gaugeBits.Load())
	case KindHistogram:
		inst.mu.Lock()
		s.Bounds = append([]float64(nil), inst.bounds...)
		s.Counts = append([]int64(nil), inst.counts...)
		s.Sum = inst.hsum
		s.Count = inst.hcount
		inst.mu.Unlock()
		if len(s.Counts) != len(s.Bounds)+1 {
			nlog.Warningf("telemetry: histogram %q bucket arithmetic inconsistent: %d counts, %d bounds",
				s.Name, len(s.Counts), len(s.Bounds))
		}
	}
	return s
}
