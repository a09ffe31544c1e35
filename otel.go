package calllog

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/rbaliyan/calllog"
)

// otelInstrumentation holds OpenTelemetry instrumentation for the dispatcher.
type otelInstrumentation struct {
	enabled bool

	// Tracing
	tracingEnabled bool
	tracer         trace.Tracer

	// Metrics
	metricsEnabled bool

	operationLatency metric.Float64Histogram
	operationCount   metric.Int64Counter
	operationErrors  metric.Int64Counter
	storageFaults    metric.Int64Counter
	staleResults     metric.Int64Counter
	ignoredCriteria  metric.Int64Counter
}

// newOtelInstrumentation creates new OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		enabled:        opts.tracingEnabled || opts.metricsEnabled,
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if !o.enabled {
		return o, nil
	}

	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// initMetrics initializes all metric instruments.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error

	o.operationLatency, err = meter.Float64Histogram(
		"calllog.operation.duration",
		metric.WithDescription("Duration of storage operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.operationCount, err = meter.Int64Counter(
		"calllog.operation.count",
		metric.WithDescription("Number of storage operations executed"),
	)
	if err != nil {
		return err
	}

	o.operationErrors, err = meter.Int64Counter(
		"calllog.operation.errors",
		metric.WithDescription("Number of operations that failed with a non-storage error"),
	)
	if err != nil {
		return err
	}

	o.storageFaults, err = meter.Int64Counter(
		"calllog.storage.faults",
		metric.WithDescription("Number of suppressed storage faults"),
	)
	if err != nil {
		return err
	}

	o.staleResults, err = meter.Int64Counter(
		"calllog.operation.stale",
		metric.WithDescription("Number of results dropped because a newer operation superseded them"),
	)
	if err != nil {
		return err
	}

	o.ignoredCriteria, err = meter.Int64Counter(
		"calllog.criterion.ignored",
		metric.WithDescription("Number of filter criteria dropped because they resolved to nothing"),
	)
	return err
}

// startSpan starts a new span if tracing is enabled.
// Returns the context and a function to end the span.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// recordOperation records a completed storage operation. Storage faults
// are counted separately from errors.
func (o *otelInstrumentation) recordOperation(ctx context.Context, kind OperationKind, duration time.Duration, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(attribute.String("kind", kind.String()))

	o.operationLatency.Record(ctx, duration.Seconds(), attrs)
	o.operationCount.Add(ctx, 1, attrs)
	switch {
	case err == nil:
	case isSuppressed(err):
		o.storageFaults.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", kind.String()),
			attribute.String("fault", faultLabel(err)),
		))
	default:
		o.operationErrors.Add(ctx, 1, attrs)
	}
}

// recordStale records a result dropped for a superseded token.
func (o *otelInstrumentation) recordStale(ctx context.Context, kind OperationKind) {
	if !o.metricsEnabled {
		return
	}
	o.staleResults.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind.String())))
}

// recordIgnoredCriterion records a criterion left out of a predicate.
func (o *otelInstrumentation) recordIgnoredCriterion(ctx context.Context, criterion string) {
	if !o.metricsEnabled {
		return
	}
	o.ignoredCriteria.Add(ctx, 1, metric.WithAttributes(attribute.String("criterion", criterion)))
}
