// Package launcher implements OpenFilter's multi-filter launcher (spec
// §4.6): it spawns one filter.Supervisor per declared filter, waits for a
// sequential-startup "ready" handshake when requested, and enforces the
// propagate_exit/obey_exit/stop_exit three-knob coordinated-exit protocol.
// Grounded on aistore's ais/earlystart.go (the "wait for each peer to
// register/ready before proceeding" shape, here collapsed from a
// cluster-join handshake to a single-process startup wait) and on
// transport/bundle's coordinated multi-peer resync idea applied to exit
// rather than data-stream coordination.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package launcher

import (
	"context"
	"time"

	"github.com/openfilter/openfilter/cmn"
	"github.com/openfilter/openfilter/cmn/cos"
	"github.com/openfilter/openfilter/cmn/nlog"
	"github.com/openfilter/openfilter/filter"
)

type ChildStatus string

const (
	ChildOK     ChildStatus = "ok"
	ChildFailed ChildStatus = "failed"
	ChildKilled ChildStatus = "killed" // cooperative-cancel deadline expired, see Open Questions
)

type Status string

const (
	OK             Status = "OK"
	PartialFailure Status = "PartialFailure"
)

// FilterSpec declares one child filter and its coordinated-exit knobs
// (spec §4.6). The caller is responsible for constructing the
// filter.Supervisor (its Filter, router.Synchronizer/Router, and
// telemetry.Registry are endpoint topology the launcher has no opinion
// on); the launcher only drives the lifecycle and exit protocol.
type FilterSpec struct {
	ID            string
	Supervisor    *filter.Supervisor
	PropagateExit bool
	ObeyExit      bool
	StopExit      bool
}

// Result is the launcher's aggregate outcome (spec §4.6 item 5). Err joins
// one representative error per distinct failing child via cos.Errs. It is
// set only when Status is PartialFailure, and stays nil when no child
// returned an error (a PartialFailure made up only of ChildKilled children).
type Result struct {
	RunID    string
	Status   Status
	PerChild map[string]ChildStatus
	Err      error
}

type Launcher struct {
	cfg *cmn.LauncherConfig
}

func New(cfg *cmn.LauncherConfig) *Launcher {
	if cfg == nil {
		cfg = &cmn.LauncherConfig{StartupTimeout: 30 * time.Second, ShutdownGrace: 15 * time.Second}
	}
	return &Launcher{cfg: cfg}
}

type childRun struct {
	spec FilterSpec
	ctx  context.Context
	done chan struct{}
	err  error
}

// RunMulti runs specs to completion per spec §4.6's algorithm, returning
// once every child has terminated (cleanly, by coordinated stop, or by the
// shutdown_grace deadline forcing a status of ChildKilled). run_id is
// generated once per call via cos.GenRunID and returned in Result.RunID; it
// is not passed to the children, whose Supervisors and Configs the caller
// builds before RunMulti runs.
func (l *Launcher) RunMulti(ctx context.Context, specs []FilterSpec) Result {
	runID := cos.GenRunID()
	res := Result{RunID: runID, PerChild: make(map[string]ChildStatus, len(specs))}

	runs := make([]*childRun, len(specs))
	timeout := l.cfg.StartupTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	for i, spec := range specs {
		cctx, cancel := context.WithCancel(ctx)
		rc := &childRun{spec: spec, ctx: cctx, done: make(chan struct{})}
		runs[i] = rc
		go func(rc *childRun, cancel context.CancelFunc) {
			defer close(rc.done)
			defer cancel()
			rc.err = rc.spec.Supervisor.Run(rc.ctx)
		}(rc, cancel)

		if l.cfg.SequentialStart {
			select {
			case <-rc.spec.Supervisor.Ready():
			case <-rc.done:
			case <-time.After(timeout):
				nlog.Warningf("launcher: child %s did not become ready within %s", rc.spec.ID, timeout)
			}
		}
	}
	if !l.cfg.SequentialStart {
		l.awaitStartup(runs)
	}

	quorum := 0
	for _, spec := range specs {
		if spec.StopExit {
			quorum++
		}
	}

	var errs cos.Errs
	remaining := len(runs)
	exited := make(chan *childRun, len(runs))

	for _, rc := range runs {
		go func(rc *childRun) {
			<-rc.done
			exited <- rc
		}(rc)
	}

	for remaining > 0 {
		rc := <-exited
		remaining--
		if rc.err != nil {
			errs.Add(rc.err)
			res.PerChild[rc.spec.ID] = ChildFailed
			nlog.Warningf("launcher: child %s exited with error: %v", rc.spec.ID, rc.err)
		} else {
			res.PerChild[rc.spec.ID] = ChildOK
		}
		if rc.spec.StopExit {
			quorum--
		}

		if rc.spec.PropagateExit {
			for _, sib := range runs {
				if sib.spec.ObeyExit && sib != rc {
					sib.spec.Supervisor.Stop()
				}
			}
		}
		if quorum <= 0 || remaining == 0 {
			break
		}
	}

	for _, rc := range runs {
		rc.spec.Supervisor.Stop()
	}
	l.awaitShutdown(runs, res.PerChild)
	// children that exited during the shutdown grace window, after the
	// monitoring loop stopped, are classified the same way
	for _, rc := range runs {
		if _, seen := res.PerChild[rc.spec.ID]; seen {
			continue
		}
		if rc.err != nil {
			errs.Add(rc.err)
			res.PerChild[rc.spec.ID] = ChildFailed
		} else {
			res.PerChild[rc.spec.ID] = ChildOK
		}
	}

	status := OK
	for _, st := range res.PerChild {
		if st != ChildOK {
			status = PartialFailure
			break
		}
	}
	res.Status = status
	if status == PartialFailure {
		_, res.Err = errs.JoinErr()
	}
	return res
}

// awaitStartup waits for each child's Ready() within startup_timeout, used
// for the parallel-start case (spec §4.6 item 2): every child is already
// running concurrently, so this just bounds how long RunMulti waits before
// treating "not ready yet" as a logged warning rather than a hard failure.
func (l *Launcher) awaitStartup(runs []*childRun) {
	timeout := l.cfg.StartupTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	for _, rc := range runs {
		select {
		case <-rc.spec.Supervisor.Ready():
		case <-rc.done:
		case <-time.After(timeout):
			nlog.Warningf("launcher: child %s did not become ready within %s", rc.spec.ID, timeout)
		}
	}
}

// awaitShutdown waits up to shutdown_grace for every remaining child to
// terminate after Stop() has been broadcast; any child still running past
// the deadline is marked ChildKilled. A stuck goroutine cannot be forced
// to exit the way an OS process can with SIGKILL (see DESIGN.md's Open
// Question on goroutine-per-filter isolation) — marking it Killed and
// moving on is what preserves the invariant that "a stuck child never
// prevents the launcher from exiting".
func (l *Launcher) awaitShutdown(runs []*childRun, perChild map[string]ChildStatus) {
	grace := l.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 15 * time.Second
	}
	deadline, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	for _, rc := range runs {
		select {
		case <-rc.done:
		case <-deadline.Done():
			if perChild[rc.spec.ID] == "" {
				perChild[rc.spec.ID] = ChildKilled
			}
		}
	}
}
