package endpoint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSourcesBasic(t *testing.T) {
	srcs, err := ParseSources("tcp://localhost:5550;main")
	require.NoError(t, err)
	require.Len(t, srcs, 1)
	require.Equal(t, "tcp://localhost:5550", srcs[0].URI)
	require.Equal(t, NotEphemeral, srcs[0].Ephemeral)
	require.Equal(t, []TopicMap{{DstTopic: "main"}}, srcs[0].TopicMaps)
}

func TestParseSourcesImplicitMain(t *testing.T) {
	srcs, err := ParseSources("tcp://localhost:5550")
	require.NoError(t, err)
	require.Equal(t, "main", srcs[0].TopicMaps[0].DstTopic)
}

func TestParseSourcesEphemeral(t *testing.T) {
	srcs, err := ParseSources("tcp://localhost:5550?")
	require.NoError(t, err)
	require.Equal(t, Ephemeral, srcs[0].Ephemeral)
	require.Equal(t, "tcp://localhost:5550", srcs[0].URI)
}

func TestParseSourcesDoublyEphemeral(t *testing.T) {
	srcs, err := ParseSources("tcp://localhost:5550??")
	require.NoError(t, err)
	require.Equal(t, DoublyEphemeral, srcs[0].Ephemeral)
}

func TestParseSourcesTopicRemapAndOptions(t *testing.T) {
	srcs, err := ParseSources("tcp://localhost:5550;a>b!opt1=val1!opt2")
	require.NoError(t, err)
	require.Equal(t, "a", srcs[0].TopicMaps[0].SrcTopic)
	require.Equal(t, "b", srcs[0].TopicMaps[0].DstTopic)

	o1, ok := srcs[0].Options.Get("opt1")
	require.True(t, ok)
	require.Equal(t, "val1", o1.Value)

	o2, ok := srcs[0].Options.Get("opt2")
	require.True(t, ok)
	require.False(t, o2.HasValue)
}

func TestParseSourcesWildcardTopic(t *testing.T) {
	srcs, err := ParseSources("tcp://localhost:5550;*")
	require.NoError(t, err)
	require.True(t, srcs[0].TopicMaps[0].Wildcard)
}

func TestParseSourcesMultiple(t *testing.T) {
	srcs, err := ParseSources("tcp://a:1;main,tcp://b:2;other")
	require.NoError(t, err)
	require.Len(t, srcs, 2)
	require.Equal(t, "tcp://a:1", srcs[0].URI)
	require.Equal(t, "tcp://b:2", srcs[1].URI)
}

func TestParseSourcesMalformedMissingScheme(t *testing.T) {
	_, err := ParseSources("localhost:5550")
	require.Error(t, err)
}

func TestParseOutputsBasic(t *testing.T) {
	outs, err := ParseOutputs("tcp://*:5550;a>main")
	require.NoError(t, err)
	require.Len(t, outs, 1)
	require.Equal(t, "main", outs[0].TopicMaps[0].DstTopic)
	require.Equal(t, "a", outs[0].TopicMaps[0].SrcTopic)
}

func TestParseSourcesDuplicateURIDistinctOptions(t *testing.T) {
	srcs, err := ParseSources("tcp://a:1!x=1,tcp://a:1!x=2")
	require.NoError(t, err)
	require.Len(t, srcs, 2)
	o0, _ := srcs[0].Options.Get("x")
	o1, _ := srcs[1].Options.Get("x")
	require.NotEqual(t, o0.Value, o1.Value)
}
