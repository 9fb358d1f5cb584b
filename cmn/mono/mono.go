// Package mono provides a monotonic clock source used for tick timers,
// heartbeat intervals, and idle-teardown bookkeeping.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

// NanoTime returns a monotonically increasing count of nanoseconds. It is
// not wall-clock time and must never be serialized on the wire (use
// time.Now().UnixNano() for that - see frame.Meta.TS).
func NanoTime() int64 { return base.UnixNano() + int64(time.Since(base)) }

// base anchors NanoTime; time.Since reads its monotonic clock reading.
var base = time.Now()

// Since returns the duration elapsed since a NanoTime() reading.
func Since(start int64) time.Duration { return time.Duration(NanoTime() - start) }
