// Package cmn provides common constants, types, and utilities for the
// OpenFilter runtime.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"time"

	"github.com/openfilter/openfilter/cmn/nlog"
)

// read-mostly, most-often-used settings: assigned at startup and whenever
// GCO.Put installs a new Config, so hot paths (transport send loop,
// synchronizer tick assembly) don't pay for a config snapshot every call.

type readMostly struct {
	drainDeadline time.Duration
	logLevel      nlogSeverity
	testingEnv    bool
}

type nlogSeverity = int32 // keeps this file decoupled from nlog's severity type identity

var Rom readMostly

func (rom *readMostly) Set(cfg *Config) {
	rom.drainDeadline = cfg.Lifecycle.DrainDeadline
	if sev, ok := nlog.ParseLevel(cfg.LogLevel); ok {
		nlog.SetLevel(sev)
	}
}

func (rom *readMostly) DrainDeadline() time.Duration { return rom.drainDeadline }
func (rom *readMostly) TestingEnv() bool             { return rom.testingEnv }

func (rom *readMostly) SetTestingEnv(v bool) { rom.testingEnv = v }
