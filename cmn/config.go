// Package cmn holds the types and read-mostly global state threaded through
// every OpenFilter component: the resolved Config, and the process-wide
// config cache (Rom) that hot paths consult instead of re-resolving the
// full Config on every tick.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"sync/atomic"
	"time"
)

type (
	// TransportConfig governs the wire transport layer (C3).
	TransportConfig struct {
		Burst              int           `json:"burst"`                // SQ/outbox depth per non-ephemeral consumer
		HeartbeatInterval  time.Duration `json:"heartbeat_interval"`    // H, default 1s
		MaxMissedPongs     int           `json:"max_missed_pongs"`      // K, default 5
		ReconnectBaseDelay time.Duration `json:"reconnect_base_delay"`  // default 100ms
		ReconnectMaxDelay  time.Duration `json:"reconnect_max_delay"`   // default 5s
		ReconnectJitter    float64       `json:"reconnect_jitter"`      // default 0.2 (±20%)
		Compression        string        `json:"compression"`          // "", "lz4"
		MaxHeaderBytes     int           `json:"max_header_bytes"`      // default 1MiB
	}

	// SyncConfig governs the topic router & synchronizer (C4).
	SyncConfig struct {
		Mode   string        `json:"mode"`   // "loose" | "strict" | "by_id"
		Window time.Duration `json:"window"` // W, default 2s
	}

	// TelemetryConfig governs the observability substrate (C8).
	TelemetryConfig struct {
		Enabled            bool          `json:"enabled"`
		Exporter           string        `json:"exporter"` // console|otlp_grpc|otlp_http|prometheus|gcm
		Endpoint           string        `json:"endpoint"`
		ExportInterval     time.Duration `json:"export_interval"`     // E, default 10s
		SafeMetrics        []string      `json:"safe_metrics"`        // allowlist glob patterns
		SafeMetricsFile    string        `json:"safe_metrics_file"`   // YAML allowlist file
		LineageURL         string        `json:"lineage_url"`
		LineageAPIKey      string        `json:"lineage_api_key"`
		LineageEndpoint    string        `json:"lineage_endpoint"`
		LineageHeartbeat   time.Duration `json:"lineage_heartbeat"` // H_lineage, default 10s
		FlushTimeout       time.Duration `json:"flush_timeout"`     // default 2s
		FrameRingSize      int           `json:"frame_ring_size"`   // default 100
	}

	// LifecycleConfig governs the per-filter supervisor (C5).
	LifecycleConfig struct {
		DrainDeadline time.Duration `json:"drain_deadline"` // default 10s
	}

	// LauncherConfig governs the multi-filter launcher (C6).
	LauncherConfig struct {
		StartupTimeout   time.Duration `json:"startup_timeout"`   // default 30s
		ShutdownGrace    time.Duration `json:"shutdown_grace"`    // default 15s
		SequentialStart  bool          `json:"sequential_start"`
	}

	// Config is the fully resolved, frozen per-process configuration: the
	// product of C7's four-layer overlay (defaults -> env -> user dict ->
	// per-endpoint option overrides).
	Config struct {
		RunID     string           `json:"run_id"`
		LogLevel  string           `json:"log_level"`
		Transport TransportConfig  `json:"transport"`
		Sync      SyncConfig       `json:"sync"`
		Telemetry TelemetryConfig  `json:"telemetry"`
		Lifecycle LifecycleConfig  `json:"lifecycle"`
		Launcher  LauncherConfig   `json:"launcher"`
	}
)

// DefaultConfig returns the C7 "defaults" layer - the lowest-precedence
// overlay input.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Transport: TransportConfig{
			Burst:              256,
			HeartbeatInterval:  time.Second,
			MaxMissedPongs:     5,
			ReconnectBaseDelay: 100 * time.Millisecond,
			ReconnectMaxDelay:  5 * time.Second,
			ReconnectJitter:    0.2,
			MaxHeaderBytes:     1 << 20,
		},
		Sync: SyncConfig{
			Mode:   "loose",
			Window: 2 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Exporter:         "console",
			ExportInterval:   10 * time.Second,
			LineageHeartbeat: 10 * time.Second,
			FlushTimeout:     2 * time.Second,
			FrameRingSize:    100,
		},
		Lifecycle: LifecycleConfig{
			DrainDeadline: 10 * time.Second,
		},
		Launcher: LauncherConfig{
			StartupTimeout: 30 * time.Second,
			ShutdownGrace:  15 * time.Second,
		},
	}
}

// globalConfigObject is OpenFilter's analogue of aistore's cmn.GCO: an
// atomically-swappable pointer to the current Config, so that background
// goroutines (heartbeat, exporter, collector) always observe a consistent
// snapshot without locking.
type globalConfigObject struct {
	p atomic.Pointer[Config]
}

func (g *globalConfigObject) Get() *Config {
	if c := g.p.Load(); c != nil {
		return c
	}
	return DefaultConfig()
}

func (g *globalConfigObject) Put(c *Config) {
	g.p.Store(c)
	Rom.Set(c)
}

var GCO = &globalConfigObject{}
