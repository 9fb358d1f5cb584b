// Package filter drives one filter's lifecycle state machine (spec §4.5):
// Init→SettingUp→Running→Draining→ShuttingDown→Terminated, with the
// setup_err/fatal shortcut back into ShuttingDown. Modeled on aistore's
// xact quiescence idiom (xact/qui.go's ref-counted drain-with-timeout
// poll) and on ais/earlystart.go's setup-then-ready handshake shape.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package filter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openfilter/openfilter/cmn"
	"github.com/openfilter/openfilter/cmn/mono"
	"github.com/openfilter/openfilter/cmn/nlog"
	"github.com/openfilter/openfilter/frame"
	"github.com/openfilter/openfilter/hk"
	"github.com/openfilter/openfilter/router"
	"github.com/openfilter/openfilter/telemetry"
	"github.com/openfilter/openfilter/xerr"
)

// Filter is the user-facing capability interface every filter kind
// implements (spec §4.5).
type Filter interface {
	Setup(ctx context.Context, cfg *cmn.Config) error
	Process(ctx context.Context, tick router.Tick) ([]*frame.Frame, error)
	Shutdown(ctx context.Context, wasKilled bool) error
	MetricSpecs() []telemetry.MetricSpec
}

type State int

const (
	StateInit State = iota
	StateSettingUp
	StateRunning
	StateDraining
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateSettingUp:
		return "SettingUp"
	case StateRunning:
		return "Running"
	case StateDraining:
		return "Draining"
	case StateShuttingDown:
		return "ShuttingDown"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// lineageStart and lineageComplete name spec §4.5's START/COMPLETE markers.
// Run does not post either of them: the only lineage traffic a Supervisor
// produces is telemetry.LineageHeartbeat's periodic fire(), whose event
// carries no marker field.
const (
	lineageStart    = "START"
	lineageComplete = "COMPLETE"
)

// errorStorm tracks repeated UserProcessError occurrences (spec §4.5):
// N=100 within a 10s sliding window escalates to a fatal LifecycleError.
type errorStorm struct {
	mu          sync.Mutex
	occurrences []int64 // mono.NanoTime() readings
	limit       int
	window      time.Duration
}

func newErrorStorm(limit int, window time.Duration) *errorStorm {
	return &errorStorm{limit: limit, window: window}
}

// note records one occurrence and reports whether the storm threshold has
// now been crossed.
func (es *errorStorm) note(now int64) bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	cutoff := now - es.window.Nanoseconds()
	kept := es.occurrences[:0]
	for _, t := range es.occurrences {
		if t > cutoff {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	es.occurrences = kept
	return len(es.occurrences) >= es.limit
}

// Supervisor owns one Filter value, drives its state machine, and wires
// its router.Synchronizer/router.Router pair plus a system-metric sampler
// into the shared telemetry.Registry.
type Supervisor struct {
	id     string
	filter Filter
	cfg    *cmn.Config
	sync   *router.Synchronizer
	rt     *router.Router
	reg    *telemetry.Registry
	lh     *telemetry.LineageHeartbeat

	storm *errorStorm
	ring  *telemetry.FrameRing

	mu    sync.Mutex
	state State

	stop  chan struct{}
	ready chan struct{}
	once  sync.Once

	pending <-chan processOutcome // set only if ctx cancelled mid-Process; drain waits on it
}

type processOutcome struct {
	out []*frame.Frame
	err error
}

// baselineMetrics are the five always-on system/timing metrics spec §4.8
// item 5 requires regardless of a filter's own MetricSpecs, recorded
// directly via Registry.Record/Observe rather than through a user
// ExtractFn.
var baselineMetrics = []telemetry.MetricSpec{
	{Name: "cpu_percent", Kind: telemetry.KindGauge},
	{Name: "mem_mib", Kind: telemetry.KindGauge},
	{Name: "fps", Kind: telemetry.KindGauge},
	{Name: "lat_in_seconds", Kind: telemetry.KindGauge},
	{Name: "lat_out_seconds", Kind: telemetry.KindGauge},
}

func NewSupervisor(id string, f Filter, cfg *cmn.Config, sync *router.Synchronizer, rt *router.Router, reg *telemetry.Registry, lh *telemetry.LineageHeartbeat) *Supervisor {
	s := &Supervisor{
		id:     id,
		filter: f,
		cfg:    cfg,
		sync:   sync,
		rt:     rt,
		reg:    reg,
		lh:     lh,
		storm:  newErrorStorm(100, 10*time.Second),
		ring:   telemetry.NewFrameRing(cfg.Telemetry.FrameRingSize),
		state:  StateInit,
		stop:   make(chan struct{}),
		ready:  make(chan struct{}),
	}
	if reg != nil {
		for _, spec := range baselineMetrics {
			reg.Declare(spec)
		}
		interval := cfg.Telemetry.ExportInterval
		if interval <= 0 {
			interval = 10 * time.Second
		}
		s.SampleSystemMetrics(interval, newSystemSampler().sample)
	}
	return s
}

// Ready closes once this filter's SettingUp->Running transition completes,
// the launcher's signal for "ready" in spec §4.6's sequential-startup wait.
func (s *Supervisor) Ready() <-chan struct{} { return s.ready }

// RecentFrames returns the last FrameRingSize frame headers seen across all
// subscribed topics (metadata only, never image bytes), for lineage/debug
// export (spec §9's "last 100 frames" Open Question).
func (s *Supervisor) RecentFrames() []telemetry.FrameRingEntry { return s.ring.Snapshot() }

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	nlog.Infof("filter %s: -> %s", s.id, st)
}

// Stop requests a graceful transition out of Running (spec §4.5's stop
// signals: OS signal, RPC, propagated EOS, or coordinated-exit).
func (s *Supervisor) Stop() {
	s.once.Do(func() { close(s.stop) })
}

// Run drives the full state machine to completion, returning only once
// Terminated. A setup error or a fatal lifecycle error short-circuits
// straight to ShuttingDown per the diagram's setup_err/fatal edges.
func (s *Supervisor) Run(ctx context.Context) error {
	s.setState(StateSettingUp)
	if err := s.filter.Setup(ctx, s.cfg); err != nil {
		s.setState(StateShuttingDown)
		_ = s.filter.Shutdown(ctx, false)
		s.setState(StateTerminated)
		return xerr.Lifecycle("setup-failed", err, "filter %s setup", s.id)
	}

	var exp telemetry.Exporter
	var expCancel context.CancelFunc
	if s.reg != nil && s.cfg.Telemetry.Enabled {
		var err error
		exp, err = telemetry.NewExporter(s.cfg.Telemetry.Exporter, s.cfg.Telemetry.Endpoint)
		if err != nil {
			nlog.Warningf("filter %s: telemetry exporter disabled: %v", s.id, err)
			exp = nil
		} else {
			interval := s.cfg.Telemetry.ExportInterval
			if interval <= 0 {
				interval = 10 * time.Second
			}
			var expCtx context.Context
			expCtx, expCancel = context.WithCancel(ctx)
			go telemetry.RunLoop(expCtx, s.reg, exp, interval)
		}
	}

	if s.lh != nil {
		s.lh.Start(s.cfg.Telemetry.LineageHeartbeat)
	}
	s.setState(StateRunning)
	close(s.ready)

	runErr := s.runLoop(ctx)

	s.setState(StateDraining)
	wasKilled := s.drain(ctx)

	s.setState(StateShuttingDown)
	shutdownErr := s.filter.Shutdown(ctx, wasKilled)
	if s.lh != nil {
		s.lh.Stop()
	}
	if expCancel != nil {
		expCancel()
	}
	if exp != nil {
		_ = exp.Close()
	}
	if s.reg != nil {
		hk.DefaultHK.Unreg(s.id + ".sysmetrics")
	}

	s.setState(StateTerminated)
	if runErr != nil {
		return runErr
	}
	return shutdownErr
}

// runLoop implements spec §4.5's Running-state body: tick = synchronizer
// .next(); out = user_process(tick); router.publish(out); metrics.observe.
// It returns when Stop is called, ctx is cancelled, or a fatal error
// (setup/storm/lifecycle) occurs.
func (s *Supervisor) runLoop(ctx context.Context) error {
	cancelCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		tick, err := s.sync.Next(cancelCtx)
		if err != nil {
			if xerr.IsKind(err, xerr.KindSync) {
				// strict mode's window-exceeded boundary case (spec §7/§8):
				// recoverable: log it and call Next again. Frames already
				// queued stay in their FIFOs; no topic is skipped.
				nlog.Warningf("filter %s: %v", s.id, err)
				continue
			}
			return nil // context cancellation is the normal Running->Draining trigger
		}

		for _, fr := range tick {
			if fr == nil {
				continue
			}
			if rt, ok := fr.RuntimeFields(); ok {
				s.ring.Add(telemetry.FrameRingEntry{ID: rt.ID, TS: rt.TS, Src: rt.Src, Topic: rt.Topic, FPS: rt.FPS})
				if s.reg != nil && rt.TS > 0 {
					s.reg.Record("lat_in_seconds", time.Since(time.Unix(0, rt.TS)).Seconds())
				}
			}
		}

		started := mono.NanoTime()
		done := make(chan processOutcome, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- processOutcome{nil, fmt.Errorf("process() panicked: %v", r)}
				}
			}()
			out, perr := s.filter.Process(cancelCtx, tick)
			done <- processOutcome{out, perr}
		}()

		select {
		case res := <-done:
			latency := mono.Since(started)
			if res.err != nil {
				storming := s.storm.note(mono.NanoTime())
				if storming {
					return xerr.Lifecycle("user-process-storm", res.err, "filter %s: repeated process() failures", s.id)
				}
				nlog.Warningf("filter %s: process() error: %v", s.id, xerr.UserProcess(res.err, true))
				continue
			}

			if len(res.out) > 0 {
				if pubErr := s.rt.Publish(cancelCtx, res.out); pubErr != nil {
					nlog.Warningf("filter %s: publish error: %v", s.id, pubErr)
				}
			}

			if s.reg != nil {
				for _, fr := range tick {
					if fr != nil {
						s.reg.Observe(fr.Meta.Values())
					}
				}
				for _, fr := range res.out {
					if fr != nil {
						s.reg.Observe(fr.Meta.Values())
					}
				}
				s.reg.Record("lat_out_seconds", latency.Seconds())
				s.reg.Record("fps", 1.0/maxDuration(latency, time.Microsecond).Seconds())
			}

		case <-cancelCtx.Done():
			// stop arrived while process() was still running; a goroutine
			// can't be force-cancelled, so leave it running and let drain
			// wait out drain_deadline for it (spec §4.5/§8 S6).
			s.pending = done
			return nil
		}
	}
}

func maxDuration(d, floor time.Duration) time.Duration {
	if d < floor {
		return floor
	}
	return d
}

// drain implements Running->Draining->ShuttingDown (spec §4.5): the input
// side has already stopped (runLoop returned), so drain just waits out
// the configured deadline to let any already-admitted frames finish
// publishing. Modeled on xact.RefcntQuiCB's poll-until-timeout shape,
// simplified since Supervisor has no separate in-flight refcount to
// track beyond the single-threaded runLoop having already returned. If
// runLoop exited with a Process call still in flight (s.pending set),
// drain instead waits for that call up to the same deadline — spec §8's
// S6: a stuck user_process must not block the supervisor past
// drain_deadline, even though the goroutine running it can't be killed.
func (s *Supervisor) drain(ctx context.Context) (wasKilled bool) {
	deadline := s.cfg.Lifecycle.DrainDeadline
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	if s.pending != nil {
		select {
		case <-s.pending:
			return false
		case <-ctx.Done():
			return true
		case <-time.After(deadline):
			nlog.Warningf("filter %s: %v", s.id,
				xerr.Lifecycle("drain-deadline", nil, "process() still running past drain_deadline %s", deadline))
			return true
		}
	}
	select {
	case <-ctx.Done():
		return true
	case <-time.After(deadline):
		return false
	}
}

// SampleSystemMetrics registers a periodic cpu/mem sampler against hk,
// feeding the same telemetry.Registry runLoop's per-tick lat_out/fps
// samples land in (spec §4.8's five always-on baseline metrics).
func (s *Supervisor) SampleSystemMetrics(interval time.Duration, sampler func() (cpu, memMiB float64)) {
	name := s.id + ".sysmetrics"
	hk.DefaultHK.Reg(name, func() time.Duration {
		cpu, mem := sampler()
		s.reg.Record("cpu_percent", cpu)
		s.reg.Record("mem_mib", mem)
		return interval
	}, interval)
}
