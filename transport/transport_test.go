package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openfilter/openfilter/frame"
)

func mkFrame(id int64, topic string) *frame.Frame {
	meta := frame.NewMeta()
	meta.SetRuntime(frame.RuntimeFields{ID: id, Topic: topic})
	return frame.New(nil, meta)
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	p, err := NewProducer("Prod[0001]", "run-1", "tcp://127.0.0.1:0", []string{"main"}, nil)
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Serve(ctx)

	c := NewConsumer("tcp://"+p.Addr().String(), []string{"main"}, false, false, false, "run-1", nil)
	go c.Run(ctx)

	require.Eventually(t, func() bool { return c.Connected() }, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		publishOnce(t, p, "main")
		select {
		case fr := <-c.Frames():
			rt, ok := fr.RuntimeFields()
			return ok && rt.Topic == "main"
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 50*time.Millisecond)
}

// S1: A publishes three frames with meta.id in {1,2,3}, a 2x2x3 BGR image;
// B subscribes and observes meta.id exactly [1,2,3] in order with
// identical image bytes (spec §8's suffix-subsequence ordering invariant,
// exercised end to end over a real loopback socket).
func TestOneHopPublishSubscribeScenarioS1(t *testing.T) {
	p, err := NewProducer("Prod[0003]", "run-1", "tcp://127.0.0.1:0", []string{"main"}, nil)
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Serve(ctx)

	c := NewConsumer("tcp://"+p.Addr().String(), []string{"main"}, false, false, false, "run-1", nil)
	go c.Run(ctx)
	require.Eventually(t, func() bool { return c.Connected() }, 2*time.Second, 10*time.Millisecond)

	img := &frame.Image{
		H: 2, W: 2, C: 3, Format: frame.FormatBGR,
		Bytes: []byte{0x00, 0x00, 0xFF, 0x00, 0xFF, 0x00, 0xFF, 0x00, 0x00, 0xFF, 0xFF, 0xFF},
	}

	for _, id := range []int64{1, 2, 3} {
		meta := frame.NewMeta()
		meta.SetRuntime(frame.RuntimeFields{ID: id, Topic: "main"})
		fr := frame.New(img, meta)
		pctx, pcancel := context.WithTimeout(context.Background(), time.Second)
		require.NoError(t, p.Publish(pctx, "main", fr))
		pcancel()
	}

	var gotIDs []int64
	for i := 0; i < 3; i++ {
		select {
		case fr := <-c.Frames():
			rt, ok := fr.RuntimeFields()
			require.True(t, ok)
			gotIDs = append(gotIDs, rt.ID)
			require.Equal(t, img.Bytes, fr.Image.Bytes)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for frame")
		}
	}
	require.Equal(t, []int64{1, 2, 3}, gotIDs)
}

func publishOnce(t *testing.T, p *Producer, topic string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = p.Publish(ctx, topic, mkFrame(1, topic))
}

func TestEphemeralConsumerDropsInsteadOfBlocking(t *testing.T) {
	p, err := NewProducer("Prod[0002]", "run-1", "tcp://127.0.0.1:0", []string{"main"}, nil)
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Serve(ctx)

	c := NewConsumer("tcp://"+p.Addr().String(), []string{"main"}, false, true, false, "run-1", nil)
	go c.Run(ctx)
	require.Eventually(t, func() bool { return c.Connected() }, 2*time.Second, 10*time.Millisecond)

	// publish faster than the ephemeral consumer drains; Publish must never
	// block regardless of how far behind the consumer falls.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			pctx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = p.Publish(pctx, "main", mkFrame(int64(i), "main"))
			cancel()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Publish blocked on ephemeral consumer")
	}
}

func TestJitterStaysWithinBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 100; i++ {
		d := jitter(base, 0.2)
		require.GreaterOrEqual(t, d, 80*time.Millisecond)
		require.LessOrEqual(t, d, 120*time.Millisecond)
	}
}
