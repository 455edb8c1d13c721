package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "jellyroute"

// Metrics holds the router's metric instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	TasksStarted   metric.Int64Counter
	TasksCompleted metric.Int64Counter
	TasksFailed    metric.Int64Counter
	TasksSuspended metric.Int64Counter
	Reroutes       metric.Int64Counter
	ToolCalls      metric.Int64Counter
	ToolRetries    metric.Int64Counter
	TaskDuration   metric.Float64Histogram
	ToolLatency    metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.TasksStarted, "jellyroute.tasks.started", "Number of tasks accepted"},
		{&m.TasksCompleted, "jellyroute.tasks.completed", "Number of tasks finished with an answer"},
		{&m.TasksFailed, "jellyroute.tasks.failed", "Number of failed tasks by failure kind"},
		{&m.TasksSuspended, "jellyroute.tasks.suspended", "Number of tasks waiting for clarification or confirmation"},
		{&m.Reroutes, "jellyroute.reroutes", "Number of out-of-domain re-routes"},
		{&m.ToolCalls, "jellyroute.toolcalls", "Number of tool calls by tool and outcome"},
		{&m.ToolRetries, "jellyroute.toolcalls.retried", "Number of retried tool calls"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}

	m.TaskDuration, err = meter.Float64Histogram("jellyroute.task.duration_seconds",
		metric.WithDescription("Task duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.ToolLatency, err = meter.Float64Histogram("jellyroute.toolcall.latency_seconds",
		metric.WithDescription("Tool call latency in seconds, retries included"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// TaskStarted counts an accepted task.
func (m *Metrics) TaskStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.TasksStarted.Add(ctx, 1)
}

// TaskFinished records the end of a task. status is the response status;
// kind is the failure kind for failed tasks.
func (m *Metrics) TaskFinished(ctx context.Context, status, kind string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	switch status {
	case "done":
		m.TasksCompleted.Add(ctx, 1)
	case "failed":
		m.TasksFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	default:
		m.TasksSuspended.Add(ctx, 1, attrs)
	}
	m.TaskDuration.Record(ctx, d.Seconds(), attrs)
}

// Reroute counts a domain change after an out-of-domain signal.
func (m *Metrics) Reroute(ctx context.Context, from string) {
	if m == nil {
		return
	}
	m.Reroutes.Add(ctx, 1, metric.WithAttributes(attribute.String("from", from)))
}

// ToolCall records one dispatched call including its retries.
func (m *Metrics) ToolCall(ctx context.Context, tool, outcome string, attempts int, latency time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("tool", tool), attribute.String("outcome", outcome))
	m.ToolCalls.Add(ctx, 1, attrs)
	if attempts > 1 {
		m.ToolRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
	}
	m.ToolLatency.Record(ctx, latency.Seconds(), attrs)
}
