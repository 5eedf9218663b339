package runtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"

	"github.com/loqalabs/loqa-narrate/internal/config"
)

const (
	serviceNamespace = "loqa-narrate"
	metricsNamespace = "loqa_narrate"
	runtimeMeter     = "github.com/loqalabs/loqa-narrate/runtime"
)

// setupTelemetry installs global tracer and meter providers. The returned
// handler serves the Prometheus scrape endpoint and may be nil.
func setupTelemetry(cfg config.Config, logger *slog.Logger) (func(context.Context) error, http.Handler, error) {
	ctx := context.Background()
	res, err := narrationResource(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	traceProvider, err := newTraceProvider(ctx, cfg.Telemetry, res, logger)
	if err != nil {
		return nil, nil, err
	}
	otel.SetTracerProvider(traceProvider)

	meterProvider, metricHandler := newMeterProvider(res, logger)
	otel.SetMeterProvider(meterProvider)

	shutdown := func(ctx context.Context) error {
		return errors.Join(meterProvider.Shutdown(ctx), traceProvider.Shutdown(ctx))
	}
	return shutdown, metricHandler, nil
}

// narrationResource describes this process: which synthesizer feeds it and
// where refined timings are kept.
func narrationResource(ctx context.Context, cfg config.Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.RuntimeName),
			semconv.ServiceNamespace(serviceNamespace),
			attribute.String("deployment.environment", cfg.Environment),
			attribute.String("narrate.tts.mode", cfg.TTS.Mode),
			attribute.Bool("narrate.tts.serve", cfg.TTS.Serve),
			attribute.String("narrate.cache.mode", cfg.Cache.Mode),
			attribute.Bool("narrate.bus.enabled", cfg.Bus.Enabled),
		),
	)
}

// newTraceProvider exports spans over OTLP when an endpoint is configured,
// to stdout when asked to, and nowhere otherwise.
func newTraceProvider(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource, logger *slog.Logger) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	}

	var (
		exporter sdktrace.SpanExporter
		name     = "none"
		err      error
	)
	switch endpoint := strings.TrimSpace(cfg.OTLPEndpoint); {
	case endpoint != "":
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, grpcOpts...)
		name = "otlp"
	case cfg.StdoutTraces:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		name = "stdout"
	}
	if err != nil {
		return nil, err
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	logger.Info("tracing initialized", slog.String("exporter", name), slog.String("endpoint", cfg.OTLPEndpoint))
	return sdktrace.NewTracerProvider(opts...), nil
}

// newMeterProvider exposes narration metrics under the loqa_narrate
// Prometheus namespace. Without the exporter metrics are still recorded but
// not scraped.
func newMeterProvider(res *resource.Resource, logger *slog.Logger) (*sdkmetric.MeterProvider, http.Handler) {
	promExporter, err := prometheus.New(prometheus.WithNamespace(metricsNamespace))
	if err != nil {
		logger.Warn("failed to initialize prometheus exporter", slog.String("error", err.Error()))
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
	)
	return provider, promhttp.Handler()
}

// registerGauges reports the live fan-out of this runtime: websocket
// subscribers, audio listeners and clips still queued for rendering.
func (r *Runtime) registerGauges() {
	meter := otel.Meter(runtimeMeter)
	clients, err := meter.Int64ObservableGauge("narrate.ws.clients", metric.WithDescription("Connected websocket event subscribers"))
	if err != nil {
		r.logger.Warn("failed to register websocket gauge", slog.String("error", err.Error()))
		return
	}
	listeners, err := meter.Int64ObservableGauge("narrate.audio.listeners", metric.WithDescription("Clients streaming rendered PCM"))
	if err != nil {
		r.logger.Warn("failed to register audio gauge", slog.String("error", err.Error()))
		return
	}
	queued, err := meter.Int64ObservableGauge("narrate.queue.entries", metric.WithDescription("Clips scheduled on the gapless queue"))
	if err != nil {
		r.logger.Warn("failed to register queue gauge", slog.String("error", err.Error()))
		return
	}
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(clients, int64(r.hub.Len()))
		o.ObserveInt64(listeners, int64(r.tap.listeners()))
		o.ObserveInt64(queued, int64(r.queue.Len()))
		return nil
	}, clients, listeners, queued)
	if err != nil {
		r.logger.Warn("failed to register runtime gauges", slog.String("error", err.Error()))
	}
}
