// Tracing for the orchestrator, grounded on the teacher's
// internal/telemetry/tracing.go span-per-phase pattern: one tracer, one
// attribute prefix, a named Start*Span helper per lifecycle phase. Renamed
// for this domain: StartRunSpan/StartAssemblySpan become
// StartApplySpan/StartPipelineStageSpan/StartCommitRevealSpan.
package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "agia-orchestrator/controller"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartApplySpan traces one JobCreated -> apply flow attempt.
func StartApplySpan(ctx context.Context, jobID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "orchestrator.apply",
		trace.WithAttributes(attribute.String("agia.job_id", jobID)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartPipelineStageSpan traces one job's full pipeline execution.
func StartPipelineStageSpan(ctx context.Context, jobID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "orchestrator.execute",
		trace.WithAttributes(attribute.String("agia.job_id", jobID)),
	)
}

// StartCommitRevealSpan traces one (job, validator) commit-reveal round.
func StartCommitRevealSpan(ctx context.Context, jobID, validator string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "orchestrator.commit_reveal",
		trace.WithAttributes(
			attribute.String("agia.job_id", jobID),
			attribute.String("agia.validator", validator),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}
