package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openfilter/openfilter/cmn/nlog"
)

// Exporter ships a Registry snapshot somewhere: a local log, Prometheus'
// pull-based /metrics endpoint, an OTLP collector, or (documented stub) a
// cloud monitoring backend. All exporters share one failure posture (spec
// §4.8): export errors are logged and retried on the next tick with
// exponential backoff; the filter never blocks on telemetry.
type Exporter interface {
	Export(ctx context.Context, samples []Sample) error
	Close() error
}

// NewExporter constructs the Exporter named by kind (spec §6 FILTER_TELEMETRY_EXPORTER).
func NewExporter(kind, endpoint string) (Exporter, error) {
	switch kind {
	case "", "console":
		return &consoleExporter{}, nil
	case "prometheus":
		return newPrometheusExporter()
	case "otlp_grpc":
		return newOTLPExporter(context.Background(), endpoint, true)
	case "otlp_http":
		return newOTLPExporter(context.Background(), endpoint, false)
	case "gcm":
		return &gcmExporter{}, nil
	default:
		return nil, fmt.Errorf("telemetry: unknown exporter kind %q", kind)
	}
}

// consoleExporter dumps one nlog line per sample, the same posture
// aistore's coreStats.copyT takes when StatsD is disabled: log instead of
// silently drop.
type consoleExporter struct{}

func (*consoleExporter) Export(_ context.Context, samples []Sample) error {
	for _, s := range samples {
		switch s.Kind {
		case KindHistogram:
			nlog.Infof("telemetry %s: histogram sum=%.4f count=%d", s.Name, s.Sum, s.Count)
		default:
			nlog.Infof("telemetry %s: %s=%.4f", s.Name, s.Kind, s.Value)
		}
	}
	return nil
}

func (*consoleExporter) Close() error { return nil }

// gcmExporter is a documented stub: no Google Cloud Monitoring SDK is wired
// anywhere in this repo (see DESIGN.md — no other component needs a GCP
// client), so this satisfies the Exporter contract as a labeled no-op
// rather than silently dropping the configured kind.
type gcmExporter struct{ warnedOnce sync.Once }

func (g *gcmExporter) Export(_ context.Context, _ []Sample) error {
	g.warnedOnce.Do(func() {
		nlog.Warningln("telemetry: exporter kind \"gcm\" is a stub in this build; metrics are discarded")
	})
	return nil
}

func (*gcmExporter) Close() error { return nil }

// RunLoop drives periodic export on a ticker, the spec §4.8 item 3
// "background exporter on interval E"; retried with exponential backoff on
// failure (capped) so the filter keeps producing frames even if the
// telemetry endpoint is unreachable.
func RunLoop(ctx context.Context, reg *Registry, exp Exporter, interval time.Duration) {
	backoff := interval
	const maxBackoff = 2 * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			samples := reg.Snapshot()
			if err := exp.Export(ctx, samples); err != nil {
				nlog.Warningf("telemetry: export failed, backing off %s: %v", backoff, err)
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return
				}
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}
			backoff = interval
		}
	}
}
