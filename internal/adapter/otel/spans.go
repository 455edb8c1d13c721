package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "jellyroute"

// StartTaskSpan starts a span covering one task.
func StartTaskSpan(ctx context.Context, taskID, sessionID string, interactive bool) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("session.id", sessionID),
			attribute.Bool("task.interactive", interactive),
		),
	)
}

// StartClassifySpan starts a span for one classification round.
func StartClassifySpan(ctx context.Context, taskID string, candidates int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "classify",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.Int("classify.candidates", candidates),
		),
	)
}

// StartDelegationSpan starts a span for a domain executor run.
func StartDelegationSpan(ctx context.Context, taskID, domain string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "delegate",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("domain", domain),
		),
	)
}

// StartToolCallSpan starts a span for a tool call within a task.
func StartToolCallSpan(ctx context.Context, tool, sideEffect string, sequence int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "toolcall",
		trace.WithAttributes(
			attribute.String("toolcall.tool", tool),
			attribute.String("toolcall.side_effect", sideEffect),
			attribute.Int("toolcall.sequence", sequence),
		),
	)
}
