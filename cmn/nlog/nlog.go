// Package nlog is OpenFilter's structured logger. It keeps the teacher's
// severity-leveled function surface (Infof/Warningf/Errorf, SetLevel,
// Flush) but, unlike aistore's file-rotating glog backend, writes one
// structured record per line: {ts, level, filter_id, run_id, kind?,
// message, fields...} straight to an io.Writer (stderr by default), per
// OpenFilter's own logging contract.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type severity int32

const (
	SevDebug severity = iota
	SevInfo
	SevWarn
	SevErr
)

func (s severity) String() string {
	switch s {
	case SevDebug:
		return "debug"
	case SevInfo:
		return "info"
	case SevWarn:
		return "warn"
	case SevErr:
		return "error"
	default:
		return "unknown"
	}
}

func ParseLevel(s string) (severity, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return SevDebug, true
	case "info":
		return SevInfo, true
	case "warn", "warning":
		return SevWarn, true
	case "error":
		return SevErr, true
	default:
		return SevInfo, false
	}
}

var (
	mu     sync.Mutex
	out    io.Writer = os.Stderr
	level  atomic.Int32
	fields struct {
		mu       sync.Mutex
		filterID string
		runID    string
	}
)

func init() { level.Store(int32(SevInfo)) }

// SetOutput redirects all log records (tests use this to capture output).
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	mu.Unlock()
}

// SetLevel sets the process-wide minimum severity that is emitted.
func SetLevel(s severity) { level.Store(int32(s)) }

// SetContext tags every subsequent record with the owning filter/run, mirroring
// aistore's SetLogDirRole/SetTitle context-tagging idiom.
func SetContext(filterID, runID string) {
	fields.mu.Lock()
	fields.filterID, fields.runID = filterID, runID
	fields.mu.Unlock()
}

type Fields map[string]any

func log(sev severity, kind, format string, fieldsArg Fields, args ...any) {
	if severity(level.Load()) > sev {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}

	fields.mu.Lock()
	filterID, runID := fields.filterID, fields.runID
	fields.mu.Unlock()

	var b strings.Builder
	b.WriteString(time.Now().UTC().Format(time.RFC3339Nano))
	b.WriteByte(' ')
	b.WriteString(strings.ToUpper(sev.String()))
	if filterID != "" {
		b.WriteString(" filter=")
		b.WriteString(filterID)
	}
	if runID != "" {
		b.WriteString(" run=")
		b.WriteString(runID)
	}
	if kind != "" {
		b.WriteString(" kind=")
		b.WriteString(kind)
	}
	b.WriteString(" msg=")
	b.WriteString(strconvQuote(msg))
	if len(fieldsArg) > 0 {
		keys := make([]string, 0, len(fieldsArg))
		for k := range fieldsArg {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fieldsArg[k])
		}
	}
	b.WriteByte('\n')

	mu.Lock()
	io.WriteString(out, b.String())
	mu.Unlock()
}

func strconvQuote(s string) string {
	if !strings.ContainsAny(s, " \t\"") {
		return s
	}
	return fmt.Sprintf("%q", s)
}

func Debugf(format string, args ...any) { log(SevDebug, "", format, nil, args...) }
func Infof(format string, args ...any)  { log(SevInfo, "", format, nil, args...) }
func Infoln(args ...any)                { log(SevInfo, "", fmt.Sprint(args...), nil) }
func Warningf(format string, args ...any) { log(SevWarn, "", format, nil, args...) }
func Warningln(args ...any)               { log(SevWarn, "", fmt.Sprint(args...), nil) }
func Errorf(format string, args ...any)   { log(SevErr, "", format, nil, args...) }
func Errorln(args ...any)                 { log(SevErr, "", fmt.Sprint(args...), nil) }

// WithFields logs a structured record carrying an error kind and extra
// key/value context, the shape spec's error taxonomy requires.
func WithFields(sev severity, kind, msg string, f Fields) { log(sev, kind, msg, f) }

// Flush is a no-op placeholder kept for API parity with the teacher's
// nlog.Flush: OpenFilter's writer has no internal buffering to drain.
func Flush(...bool) {}
