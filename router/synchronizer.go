// Package router implements OpenFilter's topic router & synchronizer (spec
// §4.4): it assembles the "tick" a filter's process() sees from however
// many subscribed topics are pending, then fans produced frames back out
// through transport.Producer with per-output topic rewrites.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package router

import (
	"context"
	"sync"
	"time"

	"github.com/openfilter/openfilter/cmn/mono"
	"github.com/openfilter/openfilter/frame"
	"github.com/openfilter/openfilter/xerr"
)

type Mode int

const (
	ModeLoose Mode = iota
	ModeStrict
	ModeByID
)

func ParseMode(s string) Mode {
	switch s {
	case "strict":
		return ModeStrict
	case "by_id":
		return ModeByID
	default:
		return ModeLoose
	}
}

// Tick is the set of frames a filter's process() call sees together (spec
// §4.4): keyed by the filter-local (post-remap) topic name, nil meaning
// "no frame pending for this topic this tick".
type Tick map[string]*frame.Frame

type topicState struct {
	ephemeral bool
	fifo      []*frame.Frame // non-ephemeral: FIFO of waiting frames
	latest    *frame.Frame   // ephemeral: most recent frame, may be stale
	waitSince int64          // by-id: mono.NanoTime() reading of when the current FIFO head started waiting
}

// Synchronizer assembles ticks per spec §4.4's three modes. Feed is called
// by one reader goroutine per subscribed topic; Next is called by the
// filter supervisor's single-threaded run loop.
type Synchronizer struct {
	mode   Mode
	window time.Duration

	mu     sync.Mutex
	wake   chan struct{}
	topics map[string]*topicState

	Drops   map[string]*int64
	Orphans map[string]*int64
}

func NewSynchronizer(mode Mode, window time.Duration, topics map[string]bool) *Synchronizer {
	s := &Synchronizer{
		mode:    mode,
		window:  window,
		topics:  make(map[string]*topicState, len(topics)),
		wake:    make(chan struct{}, 1),
		Drops:   make(map[string]*int64, len(topics)),
		Orphans: make(map[string]*int64, len(topics)),
	}
	for name, ephemeral := range topics {
		s.topics[name] = &topicState{ephemeral: ephemeral}
		var d, o int64
		s.Drops[name] = &d
		s.Orphans[name] = &o
	}
	return s
}

func (s *Synchronizer) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Feed delivers one frame arriving for topic into the synchronizer's
// pending state and wakes any blocked Next call.
func (s *Synchronizer) Feed(topic string, fr *frame.Frame) {
	s.mu.Lock()
	t, ok := s.topics[topic]
	if !ok {
		s.mu.Unlock()
		return
	}
	if t.ephemeral {
		t.latest = fr
	} else {
		if len(t.fifo) == 0 {
			t.waitSince = mono.NanoTime()
		}
		t.fifo = append(t.fifo, fr)
	}
	s.mu.Unlock()
	s.signal()
}

// Next blocks until a tick can be assembled or ctx is cancelled. In
// ModeByID, Next also wakes on the orphan window deadline even with no new
// arrivals, so a stalled topic's oldest frame is delivered alone once W
// elapses rather than waiting forever for a sibling that may never come.
// In ModeStrict with a positive window, a source with nothing pending at
// all makes Next give up after W and report a *xerr.Record{Kind:SyncError}
// rather than blocking forever (spec §8's boundary behavior).
func (s *Synchronizer) Next(ctx context.Context) (Tick, error) {
	started := mono.NanoTime()
	for {
		s.mu.Lock()
		tick, ok := s.tryAssemble()
		wait := s.nextDeadline()
		s.mu.Unlock()
		if ok {
			return tick, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if s.mode == ModeStrict && s.window > 0 {
			elapsed := mono.Since(started)
			if elapsed >= s.window {
				return nil, xerr.Sync("strict mode: tick not assembled within window %s", s.window)
			}
			if remaining := s.window - elapsed; wait <= 0 || remaining < wait {
				wait = remaining
			}
		}

		if wait <= 0 {
			select {
			case <-s.wake:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// nextDeadline returns how long until the oldest pending by-id head crosses
// the orphan window, or 0 if there is nothing to wait on a timer for.
func (s *Synchronizer) nextDeadline() time.Duration {
	if s.mode != ModeByID {
		return 0
	}
	var soonest time.Duration
	found := false
	for _, name := range s.nonEphemeralNames() {
		t := s.topics[name]
		if len(t.fifo) == 0 {
			continue
		}
		remaining := s.window - mono.Since(t.waitSince)
		if remaining < 0 {
			remaining = 0
		}
		if !found || remaining < soonest {
			soonest, found = remaining, true
		}
	}
	if !found {
		return 0
	}
	return soonest + time.Millisecond
}

func (s *Synchronizer) nonEphemeralNames() []string {
	var names []string
	for name, t := range s.topics {
		if !t.ephemeral {
			names = append(names, name)
		}
	}
	return names
}

func (s *Synchronizer) ephemeralSnapshot(tick Tick) {
	for name, t := range s.topics {
		if t.ephemeral {
			tick[name] = t.latest
		}
	}
}

func (s *Synchronizer) tryAssemble() (Tick, bool) {
	switch s.mode {
	case ModeStrict:
		return s.tryAssembleByID(false)
	case ModeByID:
		return s.tryAssembleByID(true)
	default:
		return s.tryAssembleLoose()
	}
}

// tryAssembleLoose: fire as soon as any non-ephemeral topic has a pending
// frame; missing topics pass nil (spec §4.4).
func (s *Synchronizer) tryAssembleLoose() (Tick, bool) {
	for _, name := range s.nonEphemeralNames() {
		t := s.topics[name]
		if len(t.fifo) == 0 {
			continue
		}
		tick := make(Tick, len(s.topics))
		tick[name] = t.fifo[0]
		t.fifo = t.fifo[1:]
		s.ephemeralSnapshot(tick)
		return tick, true
	}
	return nil, false
}

// tryAssembleByID implements the strict/by-id tick assembly algorithm (spec
// §4.4): advance past stale heads, deliver once every head matches.
// withWindow selects by-id's orphan-expiry behavior: strict drops a stale
// head immediately, by-id waits up to s.window before treating the oldest
// head as an orphan and delivering it alone (chosen over silently dropping
// it, so by-id never loses a frame purely to peer skew).
func (s *Synchronizer) tryAssembleByID(withWindow bool) (Tick, bool) {
	names := s.nonEphemeralNames()
	if len(names) == 0 {
		return nil, false
	}
	for {
		allNonEmpty := true
		for _, name := range names {
			if len(s.topics[name].fifo) == 0 {
				allNonEmpty = false
				break
			}
		}
		if !allNonEmpty {
			if withWindow {
				if oldest, ok := s.oldestWaitingPastWindow(names); ok {
					return s.deliverOrphan(oldest)
				}
			}
			return nil, false
		}

		// maxID is the furthest-ahead head across topics: every other topic's
		// head must advance to meet it before a tick can be assembled.
		maxID, first := int64(0), true
		for _, name := range names {
			rt, _ := s.topics[name].fifo[0].RuntimeFields()
			if first || rt.ID > maxID {
				maxID, first = rt.ID, false
			}
		}

		advancedAny, stalled := false, false
		for _, name := range names {
			t := s.topics[name]
			for len(t.fifo) > 0 {
				rt, _ := t.fifo[0].RuntimeFields()
				if rt.ID >= maxID {
					break
				}
				if !withWindow || mono.Since(t.waitSince) > s.window {
					t.fifo = t.fifo[1:]
					*s.Drops[name]++
					advancedAny = true
					if len(t.fifo) > 0 {
						t.waitSince = mono.NanoTime()
					}
				} else {
					stalled = true
					break
				}
			}
			if stalled {
				break
			}
		}
		if stalled {
			return nil, false
		}
		if advancedAny {
			continue // fifos changed; recompute max_id against the new heads
		}

		tick := make(Tick, len(s.topics))
		for _, name := range names {
			t := s.topics[name]
			tick[name] = t.fifo[0]
			t.fifo = t.fifo[1:]
			if len(t.fifo) > 0 {
				t.waitSince = mono.NanoTime()
			}
		}
		s.ephemeralSnapshot(tick)
		return tick, true
	}
}

func (s *Synchronizer) oldestWaitingPastWindow(names []string) (string, bool) {
	var oldestName string
	var oldestAge time.Duration
	found := false
	for _, name := range names {
		t := s.topics[name]
		if len(t.fifo) == 0 {
			continue
		}
		age := mono.Since(t.waitSince)
		if age > s.window && (!found || age > oldestAge) {
			oldestName, oldestAge, found = name, age, true
		}
	}
	return oldestName, found
}

func (s *Synchronizer) deliverOrphan(name string) (Tick, bool) {
	t := s.topics[name]
	if len(t.fifo) == 0 {
		return nil, false
	}
	*s.Orphans[name]++
	tick := make(Tick, len(s.topics))
	tick[name] = t.fifo[0]
	t.fifo = t.fifo[1:]
	if len(t.fifo) > 0 {
		t.waitSince = mono.NanoTime()
	}
	s.ephemeralSnapshot(tick)
	return tick, true
}
