package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounterAccumulates(t *testing.T) {
	allow := NewAllowlist([]string{"detections_total"})
	reg := NewRegistry([]MetricSpec{
		{Name: "detections_total", Kind: KindCounter, ExtractFn: func(m map[string]any) (float64, bool) {
			n, ok := m["count"].(float64)
			return n, ok
		}},
	}, allow)

	reg.Observe(map[string]any{"count": 3.0})
	reg.Observe(map[string]any{"count": 4.0})

	samples := reg.Snapshot()
	require.Len(t, samples, 1)
	require.Equal(t, 7.0, samples[0].Value)
}

func TestGaugeOverwritesLatest(t *testing.T) {
	allow := NewAllowlist([]string{"fps"})
	reg := NewRegistry([]MetricSpec{
		{Name: "fps", Kind: KindGauge, ExtractFn: func(m map[string]any) (float64, bool) {
			v, ok := m["fps"].(float64)
			return v, ok
		}},
	}, allow)
	reg.Observe(map[string]any{"fps": 12.0})
	reg.Observe(map[string]any{"fps": 30.0})

	samples := reg.Snapshot()
	require.Equal(t, 30.0, samples[0].Value)
}

func TestHistogramBucketConsistency(t *testing.T) {
	allow := NewAllowlist([]string{"confidence"})
	reg := NewRegistry([]MetricSpec{
		{Name: "confidence", Kind: KindHistogram, ExtractFn: func(m map[string]any) (float64, bool) {
			v, ok := m["confidence"].(float64)
			return v, ok
		}},
	}, allow)
	reg.Observe(map[string]any{"confidence": 0.95})
	reg.Observe(map[string]any{"confidence": 0.42})

	samples := reg.Snapshot()
	require.Len(t, samples, 1)
	s := samples[0]
	require.Equal(t, len(s.Bounds)+1, len(s.Counts))
	require.Equal(t, int64(2), s.Count)
	require.InDelta(t, 1.37, s.Sum, 1e-9)
}

func TestAllowlistDropsUnlistedMetrics(t *testing.T) {
	allow := NewAllowlist([]string{"allowed_*"})
	reg := NewRegistry([]MetricSpec{
		{Name: "allowed_count", Kind: KindCounter, ExtractFn: func(m map[string]any) (float64, bool) { return 1, true }},
		{Name: "secret_count", Kind: KindCounter, ExtractFn: func(m map[string]any) (float64, bool) { return 1, true }},
	}, allow)
	reg.Observe(map[string]any{})

	samples := reg.Snapshot()
	require.Len(t, samples, 1)
	require.Equal(t, "allowed_count", samples[0].Name)
}

// S5: MetricSpecs foo_counter/bar_histogram, allowlist ["foo_*"] — only
// foo_counter survives Snapshot across repeated calls, and the blocked
// metric's warning fires only once (one warning per distinct blocked
// metric name, not once per Snapshot call).
func TestAllowlistEnforcementScenarioS5(t *testing.T) {
	allow := NewAllowlist([]string{"foo_*"})
	reg := NewRegistry([]MetricSpec{
		{Name: "foo_counter", Kind: KindCounter, ExtractFn: func(m map[string]any) (float64, bool) { return 1, true }},
		{Name: "bar_histogram", Kind: KindHistogram, ExtractFn: func(m map[string]any) (float64, bool) { return 1, true }},
	}, allow)
	reg.Observe(map[string]any{})

	for i := 0; i < 3; i++ {
		samples := reg.Snapshot()
		require.Len(t, samples, 1)
		require.Equal(t, "foo_counter", samples[0].Name)
	}

	require.True(t, allow.Allowed("foo_counter"))
	require.False(t, allow.Allowed("bar_histogram"))

	calls := 0
	for i := 0; i < 5; i++ {
		allow.warnOnce("bar_histogram", func() { calls++ })
	}
	require.Equal(t, 1, calls, "exactly one warning per distinct blocked metric name")
}

func TestEmptyAllowlistExportsNothing(t *testing.T) {
	reg := NewRegistry([]MetricSpec{
		{Name: "anything", Kind: KindGauge, ExtractFn: func(m map[string]any) (float64, bool) { return 1, true }},
	}, NewAllowlist(nil))
	reg.Observe(map[string]any{})
	require.Empty(t, reg.Snapshot())
}

func TestConsoleExporterNeverErrors(t *testing.T) {
	exp := &consoleExporter{}
	err := exp.Export(context.Background(), []Sample{{Name: "x", Kind: KindGauge, Value: 1}})
	require.NoError(t, err)
}
