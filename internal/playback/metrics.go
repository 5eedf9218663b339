package playback

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/loqalabs/loqa-narrate/playback"

type instruments struct {
	tracer      trace.Tracer
	synthesis   metric.Int64Counter
	refinements metric.Int64Counter
	analysis    metric.Float64Histogram
}

func newInstruments(log *slog.Logger) instruments {
	meter := otel.Meter(instrumentation)
	ins := instruments{tracer: otel.Tracer(instrumentation)}
	var err error
	if ins.synthesis, err = meter.Int64Counter("narrate.synthesis.requests", metric.WithDescription("Chunk synthesis requests by result")); err != nil {
		log.Warn("failed to register synthesis counter", slog.String("error", err.Error()))
	}
	if ins.refinements, err = meter.Int64Counter("narrate.refinements", metric.WithDescription("Timing refinements by outcome")); err != nil {
		log.Warn("failed to register refinement counter", slog.String("error", err.Error()))
	}
	if ins.analysis, err = meter.Float64Histogram("narrate.analysis.duration", metric.WithDescription("Acoustic analysis time"), metric.WithUnit("s")); err != nil {
		log.Warn("failed to register analysis histogram", slog.String("error", err.Error()))
	}
	return ins
}

func (i instruments) synthesized(ctx context.Context, result string) {
	if i.synthesis != nil {
		i.synthesis.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}
}

func (i instruments) refined(ctx context.Context, outcome, source string) {
	if i.refinements != nil {
		i.refinements.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("source", source)))
	}
}

func (i instruments) analysed(ctx context.Context, d time.Duration) {
	if i.analysis != nil {
		i.analysis.Record(ctx, d.Seconds())
	}
}
