package filter

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openfilter/openfilter/cmn"
	"github.com/openfilter/openfilter/frame"
	"github.com/openfilter/openfilter/router"
	"github.com/openfilter/openfilter/telemetry"
)

type fakeFilter struct {
	setupErr    error
	processErr  error
	processed   atomic.Int64
	shutdownArg atomic.Bool
	shutdownHit atomic.Bool
}

func (f *fakeFilter) Setup(context.Context, *cmn.Config) error { return f.setupErr }

func (f *fakeFilter) Process(context.Context, router.Tick) ([]*frame.Frame, error) {
	f.processed.Add(1)
	if f.processErr != nil {
		return nil, f.processErr
	}
	return nil, nil
}

func (f *fakeFilter) Shutdown(_ context.Context, wasKilled bool) error {
	f.shutdownHit.Store(true)
	f.shutdownArg.Store(wasKilled)
	return nil
}

func (f *fakeFilter) MetricSpecs() []telemetry.MetricSpec { return nil }

func testConfig() *cmn.Config {
	cfg := cmn.DefaultConfig()
	cfg.Lifecycle.DrainDeadline = 20 * time.Millisecond
	return cfg
}

func TestSupervisorSetupFailureGoesStraightToShutdown(t *testing.T) {
	ff := &fakeFilter{}
	ff.setupErr = errSetupFailed
	sync := router.NewSynchronizer(router.ModeLoose, 0, map[string]bool{"main": false})
	sup := NewSupervisor("f1", ff, testConfig(), sync, router.NewRouter(), nil, nil)

	err := sup.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, StateTerminated, sup.State())
	require.True(t, ff.shutdownHit.Load())
}

func TestSupervisorRunsUntilStopped(t *testing.T) {
	ff := &fakeFilter{}
	sync := router.NewSynchronizer(router.ModeLoose, 0, map[string]bool{"main": false})
	sup := NewSupervisor("f2", ff, testConfig(), sync, router.NewRouter(), nil, nil)

	go func() {
		meta := frame.NewMeta()
		meta.SetRuntime(frame.RuntimeFields{ID: 1, Topic: "main"})
		fr := frame.New(nil, meta)
		for i := 0; i < 3; i++ {
			sync.Feed("main", fr)
			time.Sleep(5 * time.Millisecond)
		}
		time.Sleep(10 * time.Millisecond)
		sup.Stop()
	}()

	err := sup.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateTerminated, sup.State())
	require.GreaterOrEqual(t, ff.processed.Load(), int64(3))
	require.True(t, ff.shutdownHit.Load())
	require.False(t, ff.shutdownArg.Load())
}

func TestSupervisorDrainDeadlineMarksWasKilled(t *testing.T) {
	ff := &fakeFilter{}
	sync := router.NewSynchronizer(router.ModeLoose, 0, map[string]bool{"main": false})
	cfg := testConfig()
	sup := NewSupervisor("f3", ff, cfg, sync, router.NewRouter(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		sup.Stop()
		cancel() // simulate the drain's context also expiring
	}()

	_ = sup.Run(ctx)
	require.True(t, ff.shutdownHit.Load())
	require.True(t, ff.shutdownArg.Load())
}

var errSetupFailed = context.DeadlineExceeded

// S6: process() is still running (ignoring ctx) when stop arrives; drain
// deadline expires first. Supervisor must call shutdown(was_killed=true)
// and terminate without waiting for process() to return, rather than
// blocking on it indefinitely.
type slowFilter struct {
	processEntered chan struct{}
	release        chan struct{}
	shutdownArg    atomic.Bool
	shutdownHit    atomic.Bool
}

func (f *slowFilter) Setup(context.Context, *cmn.Config) error { return nil }

func (f *slowFilter) Process(context.Context, router.Tick) ([]*frame.Frame, error) {
	close(f.processEntered)
	<-f.release // ignores ctx cancellation entirely, like a misbehaving user callback
	return nil, nil
}

func (f *slowFilter) Shutdown(_ context.Context, wasKilled bool) error {
	f.shutdownHit.Store(true)
	f.shutdownArg.Store(wasKilled)
	return nil
}

func (f *slowFilter) MetricSpecs() []telemetry.MetricSpec { return nil }

func TestSupervisorDrainDeadlineScenarioS6(t *testing.T) {
	ff := &slowFilter{processEntered: make(chan struct{}), release: make(chan struct{})}
	defer close(ff.release) // let the leaked process() goroutine exit after the test

	sync := router.NewSynchronizer(router.ModeLoose, 0, map[string]bool{"main": false})
	cfg := cmn.DefaultConfig()
	cfg.Lifecycle.DrainDeadline = 20 * time.Millisecond
	sup := NewSupervisor("f4", ff, cfg, sync, router.NewRouter(), nil, nil)

	meta := frame.NewMeta()
	meta.SetRuntime(frame.RuntimeFields{ID: 1, Topic: "main"})
	sync.Feed("main", frame.New(nil, meta))

	start := time.Now()
	go func() {
		<-ff.processEntered
		sup.Stop()
	}()

	err := sup.Run(context.Background())
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.True(t, ff.shutdownHit.Load())
	require.True(t, ff.shutdownArg.Load())
	require.Less(t, elapsed, 500*time.Millisecond, "supervisor must not block on a stuck process() past drain_deadline")
}
