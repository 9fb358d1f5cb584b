package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openfilter/openfilter/frame"
	"github.com/openfilter/openfilter/xerr"
)

func mkFrame(id int64, topic string) *frame.Frame {
	meta := frame.NewMeta()
	meta.SetRuntime(frame.RuntimeFields{ID: id, Topic: topic})
	return frame.New(nil, meta)
}

func TestLooseModeFiresOnAnyArrival(t *testing.T) {
	s := NewSynchronizer(ModeLoose, 0, map[string]bool{"a": false, "b": false})
	s.Feed("a", mkFrame(1, "a"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	tick, err := s.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, tick["a"])
	require.Nil(t, tick["b"])
}

func TestStrictModeWaitsForAllTopics(t *testing.T) {
	s := NewSynchronizer(ModeStrict, 0, map[string]bool{"a": false, "b": false})
	s.Feed("a", mkFrame(1, "a"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := s.Next(ctx)
	require.Error(t, err, "strict mode must not fire until every topic has a pending frame")
}

func TestStrictModeDeliversMatchedIDs(t *testing.T) {
	s := NewSynchronizer(ModeStrict, 0, map[string]bool{"a": false, "b": false})
	s.Feed("a", mkFrame(1, "a"))
	s.Feed("b", mkFrame(1, "b"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	tick, err := s.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, tick["a"])
	require.NotNil(t, tick["b"])
}

func TestStrictModeDropsStaleHead(t *testing.T) {
	s := NewSynchronizer(ModeStrict, 0, map[string]bool{"a": false, "b": false})
	s.Feed("a", mkFrame(1, "a")) // stale, will be dropped once b's head (id=2) arrives
	s.Feed("a", mkFrame(2, "a"))
	s.Feed("b", mkFrame(2, "b"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	tick, err := s.Next(ctx)
	require.NoError(t, err)
	rtA, _ := tick["a"].RuntimeFields()
	rtB, _ := tick["b"].RuntimeFields()
	require.Equal(t, int64(2), rtA.ID)
	require.Equal(t, int64(2), rtB.ID)
	require.Equal(t, int64(1), *s.Drops["a"])
}

func TestByIDModeDeliversOrphanAfterWindow(t *testing.T) {
	s := NewSynchronizer(ModeByID, 50*time.Millisecond, map[string]bool{"a": false, "b": false})
	s.Feed("a", mkFrame(1, "a"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	tick, err := s.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, tick["a"])
	require.Nil(t, tick["b"])
	require.Equal(t, int64(1), *s.Orphans["a"])
}

// S3: two sources l=[1,2,3,5], r=[1,3,4,5], window 1s, strict mode
// delivers ticks [{l.1,r.1}, {l.3,r.3}, {l.5,r.5}] with drops l=1 (id 2),
// r=1 (id 4).
func TestStrictByIDTickAssemblyScenarioS3(t *testing.T) {
	s := NewSynchronizer(ModeStrict, time.Second, map[string]bool{"l": false, "r": false})
	for _, id := range []int64{1, 2, 3, 5} {
		s.Feed("l", mkFrame(id, "l"))
	}
	for _, id := range []int64{1, 3, 4, 5} {
		s.Feed("r", mkFrame(id, "r"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var gotIDs []int64
	for i := 0; i < 3; i++ {
		tick, err := s.Next(ctx)
		require.NoError(t, err)
		rtL, _ := tick["l"].RuntimeFields()
		rtR, _ := tick["r"].RuntimeFields()
		require.Equal(t, rtL.ID, rtR.ID)
		gotIDs = append(gotIDs, rtL.ID)
	}
	require.Equal(t, []int64{1, 3, 5}, gotIDs)
	require.Equal(t, int64(1), *s.Drops["l"])
	require.Equal(t, int64(1), *s.Drops["r"])
}

// Boundary behavior (spec §8): a source with zero frames available lets
// strict mode block until W expires, then it reports a SyncError rather
// than blocking forever.
func TestStrictModeReportsSyncErrorAfterWindow(t *testing.T) {
	s := NewSynchronizer(ModeStrict, 30*time.Millisecond, map[string]bool{"a": false, "b": false})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := s.Next(ctx)
	require.Error(t, err)
	require.True(t, xerr.IsKind(err, xerr.KindSync))
}

func TestEphemeralTopicNeverBlocksTick(t *testing.T) {
	s := NewSynchronizer(ModeStrict, 0, map[string]bool{"a": false, "e": true})
	s.Feed("e", mkFrame(9, "e"))
	s.Feed("a", mkFrame(1, "a"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	tick, err := s.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, tick["a"])
	require.NotNil(t, tick["e"])
}
