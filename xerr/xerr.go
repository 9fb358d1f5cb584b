// Package xerr implements OpenFilter's error taxonomy (spec §4.10/§7): a
// closed set of tagged record kinds threaded through every component
// instead of ad hoc error strings, so the supervisor and launcher can
// decide propagation policy (recoverable vs. fatal) by switching on Kind
// alone. Every record wraps its cause via github.com/pkg/errors
// (WithMessage) so the original cause, and any stack it already carries,
// survives the taxonomy boundary; no new stack is recorded here. This is
// the same posture aistore takes with its own wrapped cmn/cos errors.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package xerr

import (
	"fmt"

	"github.com/pkg/errors"
)

type Kind string

const (
	KindConfig      Kind = "ConfigError"
	KindFrame       Kind = "FrameError"
	KindTransport   Kind = "TransportError"
	KindSync        Kind = "SyncError"
	KindUserProcess Kind = "UserProcessError"
	KindLifecycle   Kind = "LifecycleError"
	KindTelemetry   Kind = "TelemetryError"
)

// Record is the common tagged-error shape spec §4.10 requires:
// {kind, message, context, recoverable}.
type Record struct {
	Kind        Kind
	Message     string
	Context     map[string]any
	Recoverable bool
	cause       error
}

func (r *Record) Error() string {
	if r.cause != nil {
		return fmt.Sprintf("%s: %s: %v", r.Kind, r.Message, r.cause)
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Message)
}

func (r *Record) Unwrap() error { return r.cause }

func new(kind Kind, recoverable bool, cause error, format string, args ...any) *Record {
	msg := fmt.Sprintf(format, args...)
	var wrapped error
	if cause != nil {
		wrapped = errors.WithMessage(cause, msg)
	}
	return &Record{Kind: kind, Message: msg, Recoverable: recoverable, cause: wrapped, Context: map[string]any{}}
}

// With attaches a context key/value and returns the same record, for
// call-site chaining: xerr.Transport("peer-gone", nil, "%s", id).With("peer", id).
func (r *Record) With(key string, val any) *Record {
	r.Context[key] = val
	return r
}

// Config errors are always fatal for the filter that raised them during
// SettingUp (spec §7).
func Config(field, reason string) *Record {
	return new(KindConfig, false, nil, "%s: %s", field, reason)
}

// Frame errors (shape-mismatch, header-too-large) are per-message and
// recoverable: the offending frame is dropped and processing continues.
func Frame(kind string, cause error, format string, args ...any) *Record {
	r := new(KindFrame, true, cause, format, args...)
	r.Context["frame_kind"] = kind
	return r
}

// Transport errors (peer-gone, handshake-failed, header-too-large,
// wire-decode) are per-peer and recoverable: the peer slot is recycled.
func Transport(kind string, cause error, format string, args ...any) *Record {
	r := new(KindTransport, true, cause, format, args...)
	r.Context["transport_kind"] = kind
	return r
}

// Sync errors (tick deadline exceeded) are recoverable: the caller logs
// them and asks the synchronizer for the next tick. Frames already queued
// are neither dropped nor delivered early.
func Sync(format string, args ...any) *Record {
	return new(KindSync, true, nil, format, args...)
}

// UserProcess wraps a panic/error escaping the user's process() callback.
// Recoverable unless the caller marks the escalation threshold exceeded.
func UserProcess(cause error, recoverable bool) *Record {
	r := new(KindUserProcess, recoverable, cause, "user process() failed")
	return r
}

// Lifecycle errors (setup/shutdown failure, drain-deadline exceeded) are
// fatal for the filter; the launcher observes a non-zero child exit.
func Lifecycle(kind string, cause error, format string, args ...any) *Record {
	r := new(KindLifecycle, false, cause, format, args...)
	r.Context["lifecycle_kind"] = kind
	return r
}

// Telemetry errors are always recoverable; they never degrade pipeline
// throughput (spec §7).
func Telemetry(cause error, format string, args ...any) *Record {
	return new(KindTelemetry, true, cause, format, args...)
}

func IsKind(err error, kind Kind) bool {
	var r *Record
	if errors.As(err, &r) {
		return r.Kind == kind
	}
	return false
}

func IsRecoverable(err error) bool {
	var r *Record
	if errors.As(err, &r) {
		return r.Recoverable
	}
	return true // unknown errors default to recoverable, never crash the pipeline
}
