package jobs

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/kiranshivaraju/automl/internal/jobs"

type instruments struct {
	tracer    trace.Tracer
	submitted metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
	duration  metric.Float64Histogram
}

// newInstruments binds to the global providers. Instruments that cannot be
// created fall back to no-ops.
func newInstruments() *instruments {
	meter := otel.Meter(instrumentationName)
	fallback := noop.NewMeterProvider().Meter(instrumentationName)

	inst := &instruments{tracer: otel.Tracer(instrumentationName)}

	var err error
	if inst.submitted, err = meter.Int64Counter("automl.jobs.submitted",
		metric.WithDescription("Jobs accepted by the API")); err != nil {
		inst.submitted, _ = fallback.Int64Counter("automl.jobs.submitted")
	}
	if inst.completed, err = meter.Int64Counter("automl.jobs.completed",
		metric.WithDescription("Jobs that finished training")); err != nil {
		inst.completed, _ = fallback.Int64Counter("automl.jobs.completed")
	}
	if inst.failed, err = meter.Int64Counter("automl.jobs.failed",
		metric.WithDescription("Jobs that ended in failure")); err != nil {
		inst.failed, _ = fallback.Int64Counter("automl.jobs.failed")
	}
	if inst.duration, err = meter.Float64Histogram("automl.job.duration",
		metric.WithDescription("Wall time of a job run"), metric.WithUnit("s")); err != nil {
		inst.duration, _ = fallback.Float64Histogram("automl.job.duration")
	}
	return inst
}

func (i *instruments) record(ctx context.Context, counter metric.Int64Counter, seconds float64, outcome string) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	counter.Add(ctx, 1)
	i.duration.Record(ctx, seconds, attrs)
}
