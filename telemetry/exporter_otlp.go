package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// otlpExporter bridges Registry snapshots into an OTel SDK MeterProvider
// backed by a PeriodicReader talking OTLP grpc or http, grounded on the
// otel-arrow collector example's metric.NewMeterProvider(metric.WithReader(...))
// construction. OTel's stable metric API has no simple "set value on
// demand" gauge/counter, so every sample name gets one observable
// instrument registered lazily with a callback that reads the latest
// snapshot Export was handed; the callback fires on the PeriodicReader's
// own collect cycle, not synchronously from Export.
type otlpExporter struct {
	provider *sdkmetric.MeterProvider
	meter    metric.Meter

	mu       sync.Mutex
	latest   map[string]Sample
	counters map[string]metric.Float64ObservableCounter
	gauges   map[string]metric.Float64ObservableGauge
}

func newOTLPExporter(ctx context.Context, endpoint string, grpcTransport bool) (Exporter, error) {
	var reader *sdkmetric.PeriodicReader
	if grpcTransport {
		var opts []otlpmetricgrpc.Option
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint), otlpmetricgrpc.WithInsecure())
		}
		exp, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		reader = sdkmetric.NewPeriodicReader(exp)
	} else {
		var opts []otlpmetrichttp.Option
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint), otlpmetrichttp.WithInsecure())
		}
		exp, err := otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		reader = sdkmetric.NewPeriodicReader(exp)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	o := &otlpExporter{
		provider: provider,
		meter:    provider.Meter("openfilter"),
		latest:   make(map[string]Sample),
		counters: make(map[string]metric.Float64ObservableCounter),
		gauges:   make(map[string]metric.Float64ObservableGauge),
	}
	return o, nil
}

func (o *otlpExporter) Export(_ context.Context, samples []Sample) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range samples {
		o.latest[s.Name] = s
		name := s.Name
		if s.Kind == KindCounter {
			if _, ok := o.counters[name]; !ok {
				ctr, err := o.meter.Float64ObservableCounter(name)
				if err != nil {
					continue
				}
				o.counters[name] = ctr
				_, _ = o.meter.RegisterCallback(o.observeCounter(name, ctr), ctr)
			}
			continue
		}
		if _, ok := o.gauges[name]; !ok {
			g, err := o.meter.Float64ObservableGauge(name)
			if err != nil {
				continue
			}
			o.gauges[name] = g
			_, _ = o.meter.RegisterCallback(o.observeGauge(name, g), g)
		}
	}
	return nil
}

func (o *otlpExporter) observeCounter(name string, ctr metric.Float64ObservableCounter) metric.Callback {
	return func(_ context.Context, obs metric.Observer) error {
		o.mu.Lock()
		v := o.latest[name].Value
		o.mu.Unlock()
		obs.ObserveFloat64(ctr, v, metric.WithAttributes(attribute.String("metric", name)))
		return nil
	}
}

func (o *otlpExporter) observeGauge(name string, g metric.Float64ObservableGauge) metric.Callback {
	return func(_ context.Context, obs metric.Observer) error {
		o.mu.Lock()
		v := o.latest[name].Value
		o.mu.Unlock()
		obs.ObserveFloat64(g, v, metric.WithAttributes(attribute.String("metric", name)))
		return nil
	}
}

func (o *otlpExporter) Close() error {
	return o.provider.Shutdown(context.Background())
}
