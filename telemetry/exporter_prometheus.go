package telemetry

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// prometheusExporter republishes every Sample as a prometheus.Gauge, the
// pull-based model Prometheus requires: Export just overwrites gauge values
// ahead of the next scrape rather than pushing anywhere. Histograms are
// exposed as a prometheus.Histogram built from the sample's own bucket
// boundaries so the bucket-consistency invariant (len(counts)==len(bounds)+1)
// the registry already enforces carries straight through to /metrics.
type prometheusExporter struct {
	reg *prometheus.Registry
	srv *http.Server

	mu      sync.Mutex
	gauges  map[string]prometheus.Gauge
	histos  map[string]*promHistogram
}

// promHistogram mirrors prometheus.Histogram's exposition format using
// pre-computed bucket boundaries rather than client_golang's own bucketing,
// since OpenFilter buckets are chosen by telemetry.defaultBuckets, not by
// the prometheus client.
type promHistogram struct {
	desc   *prometheus.Desc
	bounds []float64
	counts []int64
	sum    float64
	count  int64
}

func (h *promHistogram) Describe(ch chan<- *prometheus.Desc) { ch <- h.desc }

func (h *promHistogram) Collect(ch chan<- prometheus.Metric) {
	buckets := make(map[float64]uint64, len(h.bounds))
	var cum uint64
	for i, b := range h.bounds {
		cum += uint64(h.counts[i])
		buckets[b] = cum
	}
	m, err := prometheus.NewConstHistogram(h.desc, uint64(h.count), h.sum, buckets)
	if err == nil {
		ch <- m
	}
}

func newPrometheusExporter() (*prometheusExporter, error) {
	reg := prometheus.NewRegistry()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: ":9464", Handler: mux}
	go srv.ListenAndServe()
	return &prometheusExporter{
		reg:    reg,
		srv:    srv,
		gauges: make(map[string]prometheus.Gauge),
		histos: make(map[string]*promHistogram),
	}, nil
}

func (p *prometheusExporter) Export(_ context.Context, samples []Sample) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range samples {
		switch s.Kind {
		case KindHistogram:
			h, ok := p.histos[s.Name]
			if !ok {
				h = &promHistogram{desc: prometheus.NewDesc(s.Name, "openfilter histogram metric", nil, nil), bounds: s.Bounds}
				p.histos[s.Name] = h
				p.reg.MustRegister(h)
			}
			h.counts, h.sum, h.count = s.Counts, s.Sum, s.Count
		default:
			g, ok := p.gauges[s.Name]
			if !ok {
				g = prometheus.NewGauge(prometheus.GaugeOpts{Name: s.Name, Help: "openfilter " + string(s.Kind) + " metric"})
				p.gauges[s.Name] = g
				p.reg.MustRegister(g)
			}
			g.Set(s.Value)
		}
	}
	return nil
}

func (p *prometheusExporter) Close() error { return p.srv.Close() }
