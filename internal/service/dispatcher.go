package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	cfotel "github.com/Strob0t/JellyRoute/internal/adapter/otel"
	"github.com/Strob0t/JellyRoute/internal/config"
	"github.com/Strob0t/JellyRoute/internal/domain/capability"
	"github.com/Strob0t/JellyRoute/internal/domain/trace"
	"github.com/Strob0t/JellyRoute/internal/port/toolexec"
)

// Dispatcher sends validated calls to the Tool Execution Layer and owns the
// retry policy. Calls run on a context detached from task cancellation so an
// in-flight call, destructive ones included, completes and is recorded.
type Dispatcher struct {
	exec    toolexec.Executor
	cfg     *config.Executor
	metrics *cfotel.Metrics
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(exec toolexec.Executor, cfg *config.Executor) *Dispatcher {
	return &Dispatcher{exec: exec, cfg: cfg}
}

// SetMetrics enables tool call metrics.
func (d *Dispatcher) SetMetrics(m *cfotel.Metrics) { d.metrics = m }

// Dispatch executes spec with canonical argument bytes. A retry reuses the
// same bytes. The returned result carries the total latency and attempts.
func (d *Dispatcher) Dispatch(ctx context.Context, spec capability.ToolSpec, canonical json.RawMessage, sequence int) trace.Result {
	callCtx, span := cfotel.StartToolCallSpan(context.WithoutCancel(ctx), spec.Name, string(spec.SideEffect), sequence)
	defer span.End()

	start := time.Now()
	res := d.exec.Execute(callCtx, spec.Name, canonical, d.cfg.CallTimeout)
	attempts := 1

	if d.shouldRetry(spec, res) {
		slog.WarnContext(ctx, "retrying tool call",
			"tool", spec.Name,
			"side_effect", spec.SideEffect,
			"kind", res.Kind,
			"network", res.Network,
		)
		res = d.exec.Execute(callCtx, spec.Name, canonical, d.cfg.CallTimeout)
		attempts++
	}

	res.Attempts = attempts
	res.Latency = time.Since(start)
	d.metrics.ToolCall(ctx, spec.Name, string(res.Outcome), attempts, res.Latency)
	return res
}

// shouldRetry reports whether a failed first attempt may be repeated:
// reads retry once after a timeout or remote error; mutating calls retry
// only for network-level failures and only when enabled.
func (d *Dispatcher) shouldRetry(spec capability.ToolSpec, res trace.Result) bool {
	if res.OK() {
		return false
	}
	if spec.SideEffect == capability.SideEffectRead {
		return res.Kind == trace.KindTimeout || res.Kind == trace.KindRemote
	}
	return d.cfg.RetryMutatingOnNetworkError && res.Network
}
