package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openfilter/openfilter/endpoint"
	"github.com/openfilter/openfilter/frame"
	"github.com/openfilter/openfilter/transport"
)

func TestRemapTopicWildcardPassthrough(t *testing.T) {
	maps := []endpoint.TopicMap{{Wildcard: true}}
	dst, ok := RemapTopic(maps, "anything")
	require.True(t, ok)
	require.Equal(t, "anything", dst)
}

func TestRemapTopicExplicitMatch(t *testing.T) {
	maps := []endpoint.TopicMap{{SrcTopic: "detections", DstTopic: "events"}}
	dst, ok := RemapTopic(maps, "detections")
	require.True(t, ok)
	require.Equal(t, "events", dst)

	_, ok = RemapTopic(maps, "other")
	require.False(t, ok)
}

func TestRemapTopicImplicitMain(t *testing.T) {
	maps := []endpoint.TopicMap{{DstTopic: "main"}}
	dst, ok := RemapTopic(maps, "main")
	require.True(t, ok)
	require.Equal(t, "main", dst)

	dst, ok = RemapTopic(maps, "")
	require.True(t, ok)
	require.Equal(t, "main", dst)

	_, ok = RemapTopic(maps, "side")
	require.False(t, ok)
}

func TestRemapTopicNoMatch(t *testing.T) {
	maps := []endpoint.TopicMap{{SrcTopic: "a", DstTopic: "b"}}
	_, ok := RemapTopic(maps, "c")
	require.False(t, ok)
}

func newTestProducer(t *testing.T) *transport.Producer {
	t.Helper()
	p, err := transport.NewProducer("p1", "run1", "tcp://127.0.0.1:0", []string{"main"}, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go p.Serve(ctx)
	t.Cleanup(cancel)
	return p
}

func TestRouterPublishMatchedOutput(t *testing.T) {
	r := NewRouter()
	p := newTestProducer(t)
	r.AddOutput(p, []endpoint.TopicMap{{Wildcard: true}})

	err := r.Publish(context.Background(), []*frame.Frame{mkFrame(1, "main")})
	require.NoError(t, err)
}

func TestRouterPublishNoMatchingOutputDoesNotError(t *testing.T) {
	r := NewRouter()
	p := newTestProducer(t)
	r.AddOutput(p, []endpoint.TopicMap{{SrcTopic: "other", DstTopic: "other"}})

	err := r.Publish(context.Background(), []*frame.Frame{mkFrame(1, "main")})
	require.NoError(t, err)
}
