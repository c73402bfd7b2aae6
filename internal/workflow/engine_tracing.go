package workflow

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/terminuslabs/terminus/internal/metrics"
	"github.com/terminuslabs/terminus/internal/sandbox"
	"github.com/terminuslabs/terminus/internal/telemetry"
)

// startRun opens the root span for one workflow run. Planner, translator
// and sandbox spans nest under it. With telemetry disabled the global
// provider is a no-op and these calls cost nothing.
func startRun(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return telemetry.Tracer().Start(ctx, "workflow.run",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
}

// timedPlan wraps one planner call with its latency histogram and span.
// Used for the initial plan and every revision.
func (e *Engine) timedPlan(ctx context.Context, goal, sessionID string) ([]string, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "planner.plan")
	defer span.End()

	start := time.Now()
	plan, err := e.planner.Plan(ctx, goal, sessionID, "")
	metrics.PlannerLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "plan request failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("plan.steps", len(plan)))
	return plan, nil
}

// timedTranslate wraps one translator call with its latency histogram
// and span.
func (e *Engine) timedTranslate(ctx context.Context, step, sessionID string) (string, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "translator.translate")
	defer span.End()

	start := time.Now()
	command, err := e.translator.Translate(ctx, step, sessionID, "")
	metrics.TranslatorLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "translate request failed")
		return "", err
	}
	return command, nil
}

// timedExecute runs one sandboxed command with its latency histogram and
// span. The elapsed duration feeds the step record for revision prompts.
func (e *Engine) timedExecute(ctx context.Context, step, command string) (sandbox.Result, time.Duration) {
	ctx, span := telemetry.Tracer().Start(ctx, "sandbox.execute",
		trace.WithAttributes(attribute.String("workflow.step", step)))
	defer span.End()

	start := time.Now()
	result := e.executor.Execute(ctx, command)
	elapsed := time.Since(start)
	metrics.SandboxLatency.Observe(elapsed.Seconds())

	span.SetAttributes(attribute.Int("exit.code", result.ExitCode))
	if result.ExitCode != 0 {
		span.SetStatus(codes.Error, "command failed")
	}
	return result, elapsed
}
