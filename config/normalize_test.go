package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openfilter/openfilter/endpoint"
)

func testSchema() *Schema {
	return &Schema{
		Kind: "Detector",
		Fields: []Field{
			{Name: "threshold", Kind: KindNumeric, Default: 0.5},
			{Name: "enabled", Kind: KindBool, Default: true},
			{Name: "mode", Kind: KindEnum, Default: "fast", EnumValues: []string{"fast", "accurate"}},
			{Name: "labels", Kind: KindList, Default: []string{}},
			{Name: "bitrate", Kind: KindNumeric, Default: 0.0},
		},
	}
}

func TestNormalizeDefaultsOnly(t *testing.T) {
	r, err := Normalize(testSchema(), nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 0.5, r.Float("threshold"))
	require.True(t, r.Bool("enabled"))
	require.Equal(t, "fast", r.String("mode"))
}

func TestNormalizeEnvOverridesDefaults(t *testing.T) {
	env := map[string]string{"FILTER_DETECTOR_THRESHOLD": "0.9"}
	r, err := Normalize(testSchema(), env, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 0.9, r.Float("threshold"))
}

func TestNormalizeUserDictOverridesEnv(t *testing.T) {
	env := map[string]string{"FILTER_DETECTOR_THRESHOLD": "0.9"}
	user := map[string]any{"threshold": 0.75}
	r, err := Normalize(testSchema(), env, user, nil)
	require.NoError(t, err)
	require.Equal(t, 0.75, r.Float("threshold"))
}

func TestNormalizeEndpointOptionHasHighestPrecedence(t *testing.T) {
	env := map[string]string{"FILTER_DETECTOR_THRESHOLD": "0.9"}
	user := map[string]any{"threshold": 0.75}
	opts := endpoint.Options{{Key: "threshold", Value: "0.33", HasValue: true}}
	r, err := Normalize(testSchema(), env, user, opts)
	require.NoError(t, err)
	require.Equal(t, 0.33, r.Float("threshold"))
}

func TestNormalizeBareOptionImpliesBoolTrue(t *testing.T) {
	opts := endpoint.Options{{Key: "enabled", HasValue: false}}
	r, err := Normalize(testSchema(), nil, nil, opts)
	require.NoError(t, err)
	require.True(t, r.Bool("enabled"))
}

func TestNormalizeNumericUnitSuffix(t *testing.T) {
	env := map[string]string{"FILTER_DETECTOR_BITRATE": "2M"}
	r, err := Normalize(testSchema(), env, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 2e6, r.Float("bitrate"))
}

func TestNormalizeEnumCaseInsensitive(t *testing.T) {
	user := map[string]any{"mode": "ACCURATE"}
	r, err := Normalize(testSchema(), nil, user, nil)
	require.NoError(t, err)
	require.Equal(t, "accurate", r.String("mode"))
}

func TestNormalizeInvalidEnumFails(t *testing.T) {
	user := map[string]any{"mode": "blazing"}
	_, err := Normalize(testSchema(), nil, user, nil)
	require.Error(t, err)
}

func TestNormalizeUnknownKeyWarnsNotFailsByDefault(t *testing.T) {
	user := map[string]any{"unknown_field": "x"}
	_, err := Normalize(testSchema(), nil, user, nil)
	require.NoError(t, err)
}

func TestNormalizeUnknownKeyFailsInStrictSchema(t *testing.T) {
	schema := testSchema()
	schema.Strict = true
	user := map[string]any{"unknown_field": "x"}
	_, err := Normalize(schema, nil, user, nil)
	require.Error(t, err)
}

func TestNormalizeListTrimsAndSplits(t *testing.T) {
	opts := endpoint.Options{{Key: "labels", Value: "a, b ,c", HasValue: true}}
	r, err := Normalize(testSchema(), nil, nil, opts)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, r.List("labels"))
}

// parse(serialize(cfg)) == cfg for any normalized config.
func TestSerializeParseRoundTrips(t *testing.T) {
	schema := testSchema()
	user := map[string]any{"threshold": 0.75, "mode": "accurate", "labels": "x,y"}
	original, err := Normalize(schema, nil, user, nil)
	require.NoError(t, err)

	data, err := original.Serialize()
	require.NoError(t, err)

	roundTripped, err := Parse(schema, data)
	require.NoError(t, err)

	require.Equal(t, original.Float("threshold"), roundTripped.Float("threshold"))
	require.Equal(t, original.Bool("enabled"), roundTripped.Bool("enabled"))
	require.Equal(t, original.String("mode"), roundTripped.String("mode"))
	require.Equal(t, original.List("labels"), roundTripped.List("labels"))
	require.Equal(t, original.Float("bitrate"), roundTripped.Float("bitrate"))
}
