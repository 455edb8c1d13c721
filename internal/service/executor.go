package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Strob0t/JellyRoute/internal/config"
	"github.com/Strob0t/JellyRoute/internal/domain/capability"
	"github.com/Strob0t/JellyRoute/internal/domain/event"
	"github.com/Strob0t/JellyRoute/internal/domain/failure"
	"github.com/Strob0t/JellyRoute/internal/domain/policy"
	"github.com/Strob0t/JellyRoute/internal/domain/task"
	"github.com/Strob0t/JellyRoute/internal/domain/trace"
	"github.com/Strob0t/JellyRoute/internal/port/broadcast"
	"github.com/Strob0t/JellyRoute/internal/port/completion"
)

// ExecOutcome is how a delegation ended.
type ExecOutcome int

const (
	ExecAnswered ExecOutcome = iota
	ExecOutOfDomain
	ExecNeedsConfirmation
	ExecFailed
)

// ExecResult is returned by DomainExecutor.Run. LastAction is the human
// description of the last attempted call.
type ExecResult struct {
	Outcome      ExecOutcome
	Answer       string
	Reason       string
	Confirmation *task.ConfirmationRequest
	Err          *failure.Error
	LastAction   string
}

// DomainExecutor runs the bounded propose-validate-dispatch loop for the
// domain a task is delegated to. It sees only that domain's registry slice.
type DomainExecutor struct {
	registry   *capability.Registry
	provider   completion.Provider
	dispatcher *Dispatcher
	hub        broadcast.Broadcaster
	cfg        *config.Executor
	now        func() time.Time
}

// NewDomainExecutor creates a DomainExecutor. hub may be nil.
func NewDomainExecutor(
	registry *capability.Registry,
	provider completion.Provider,
	dispatcher *Dispatcher,
	hub broadcast.Broadcaster,
	cfg *config.Executor,
) *DomainExecutor {
	return &DomainExecutor{
		registry:   registry,
		provider:   provider,
		dispatcher: dispatcher,
		hub:        hub,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Run executes t in its delegated domain, appending every validation failure
// and dispatched call to tr.
func (e *DomainExecutor) Run(ctx context.Context, t *task.Task, tr *trace.Trace) ExecResult {
	tools := e.registry.Slice(t.Domain)
	lastAction := ""

	for iteration := 1; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return failed(failure.From(err, lastAction), lastAction)
		}
		if iteration > e.cfg.MaxIterations {
			return failed(failure.Errorf(failure.KindLoopBudgetExceeded, lastAction,
				"no answer after %d iterations", e.cfg.MaxIterations), lastAction)
		}

		corrections := 0
	slot:
		for {
			if err := ctx.Err(); err != nil {
				return failed(failure.From(err, lastAction), lastAction)
			}

			prop, err := e.propose(ctx, t, tools, tr)
			if err != nil {
				return failed(providerFailure(err, lastAction), lastAction)
			}

			switch prop.Kind {
			case completion.ProposalFinal:
				return ExecResult{Outcome: ExecAnswered, Answer: prop.Answer, LastAction: lastAction}
			case completion.ProposalOutOfDomain:
				slog.InfoContext(ctx, "out of domain", "domain", t.Domain, "reason", prop.Reason)
				return ExecResult{Outcome: ExecOutOfDomain, Reason: prop.Reason, LastAction: lastAction}
			case completion.ProposalCall:
			default:
				return failed(failure.Errorf(failure.KindRemoteError, lastAction,
					"provider returned unknown proposal kind %q", prop.Kind), lastAction)
			}

			spec, canonical, args, verr := e.validate(t.Domain, prop)
			lastAction = actionName(spec, prop.Tool)
			if verr != nil {
				corrections++
				e.recordRejected(ctx, t, tr, prop, verr)
				if corrections > e.cfg.MaxCorrections {
					return failed(failure.New(failure.KindToolValidationExhausted, lastAction, verr), lastAction)
				}
				continue
			}

			fingerprint := trace.Fingerprint(spec.Name, canonical)
			gate := policy.Evaluate(
				policy.Call{Spec: spec, Arguments: args, Fingerprint: fingerprint},
				policy.Context{Text: t.Text, Turns: t.Turns, Interactive: t.Interactive},
			)
			switch gate.Decision {
			case policy.DecisionDeny:
				slog.WarnContext(ctx, "destructive call refused", "tool", spec.Name, "reason", gate.Reason)
				return failed(failure.Errorf(failure.KindDestructiveRefused, lastAction,
					"%s: %s", spec.Name, gate.Reason), lastAction)
			case policy.DecisionAsk:
				req := confirmationRequest(spec, canonical, fingerprint)
				e.emit(ctx, event.PermissionRequest, event.PermissionRequestEvent{
					RunID:       t.ID,
					CallID:      prop.CallID,
					Tool:        spec.Name,
					Args:        string(canonical),
					Fingerprint: fingerprint,
					Prompt:      req.Prompt,
				})
				return ExecResult{Outcome: ExecNeedsConfirmation, Confirmation: req, LastAction: lastAction}
			}

			e.dispatch(ctx, t, tr, spec, canonical, fingerprint, prop.CallID)
			break slot
		}
	}
}

func (e *DomainExecutor) propose(ctx context.Context, t *task.Task, tools []capability.ToolSpec, tr *trace.Trace) (completion.Proposal, error) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CompletionTimeout)
	defer cancel()
	return e.provider.ProposeAction(pctx, completion.ActionRequest{
		TaskID:       t.ID,
		Domain:       t.Domain,
		Text:         t.Text,
		History:      t.Conversation(),
		Tools:        tools,
		Observations: tr.Entries(),
	})
}

// validate resolves the proposed tool within domain d and checks its
// arguments. On success it returns the canonical argument bytes and their
// decoded form.
func (e *DomainExecutor) validate(d capability.Domain, prop completion.Proposal) (capability.ToolSpec, json.RawMessage, map[string]any, error) {
	spec, err := e.registry.Lookup(prop.Tool)
	if err != nil || spec.Domain != d {
		return capability.ToolSpec{}, nil, nil, &capability.ValidationError{
			Tool:     prop.Tool,
			Problems: []string{fmt.Sprintf("tool %q is not available in the %s domain", prop.Tool, d)},
		}
	}

	raw := prop.Arguments
	if strings.TrimSpace(string(raw)) == "" {
		raw = json.RawMessage("{}")
	}
	if err := e.registry.Validate(spec.Name, raw); err != nil {
		return spec, nil, nil, err
	}

	canonical, err := trace.Canonicalize(raw)
	if err != nil {
		return spec, nil, nil, &capability.ValidationError{Tool: spec.Name, Problems: []string{err.Error()}}
	}
	var args map[string]any
	if err := json.Unmarshal(canonical, &args); err != nil {
		return spec, nil, nil, &capability.ValidationError{Tool: spec.Name, Problems: []string{"arguments must be a JSON object"}}
	}
	return spec, canonical, args, nil
}

// recordRejected appends a ValidationError entry for a proposal that was
// never dispatched so the provider sees it on the next attempt.
func (e *DomainExecutor) recordRejected(ctx context.Context, t *task.Task, tr *trace.Trace, prop completion.Proposal, verr error) {
	res := trace.Failure(trace.KindValidation, verr.Error())
	res.Attempts = 0
	entry := trace.Entry{
		Domain: string(t.Domain),
		Call: trace.ToolCall{
			Tool:      prop.Tool,
			Arguments: safeJSON(prop.Arguments),
			Sequence:  tr.NextSequence(),
		},
		Result: res,
		At:     e.now(),
	}
	if err := tr.Append(entry); err != nil {
		slog.ErrorContext(ctx, "trace append failed", "error", err)
	}
	slog.InfoContext(ctx, "tool call rejected", "tool", prop.Tool, "error", verr)
	e.emit(ctx, event.ToolResult, event.ToolResultEvent{
		RunID:    t.ID,
		CallID:   prop.CallID,
		Tool:     prop.Tool,
		Sequence: entry.Call.Sequence,
		Outcome:  string(res.Outcome),
		Kind:     string(res.Kind),
		Error:    verr.Error(),
	})
}

func (e *DomainExecutor) dispatch(ctx context.Context, t *task.Task, tr *trace.Trace, spec capability.ToolSpec, canonical json.RawMessage, fingerprint, callID string) {
	seq := tr.NextSequence()
	if callID == "" {
		callID = fmt.Sprintf("%s-%d", t.ID, seq)
	}
	e.emit(ctx, event.ToolCall, event.ToolCallEvent{
		RunID:  t.ID,
		CallID: callID,
		Name:   spec.Name,
		Args:   string(canonical),
	})

	res := e.dispatcher.Dispatch(ctx, spec, canonical, seq)

	entry := trace.Entry{
		Domain: string(t.Domain),
		Call: trace.ToolCall{
			Tool:        spec.Name,
			Arguments:   canonical,
			Sequence:    seq,
			Fingerprint: fingerprint,
		},
		Result: res,
		At:     e.now(),
	}
	if err := tr.Append(entry); err != nil {
		slog.ErrorContext(ctx, "trace append failed", "error", err)
	}

	slog.InfoContext(ctx, "tool call finished",
		"tool", spec.Name,
		"sequence", seq,
		"outcome", res.Outcome,
		"kind", res.Kind,
		"attempts", res.Attempts,
		"latency", res.Latency,
	)
	e.emit(ctx, event.ToolResult, event.ToolResultEvent{
		RunID:    t.ID,
		CallID:   callID,
		Tool:     spec.Name,
		Sequence: seq,
		Outcome:  string(res.Outcome),
		Kind:     string(res.Kind),
		Attempts: res.Attempts,
		Result:   res.Payload,
		Error:    res.Message,
	})
}

func (e *DomainExecutor) emit(ctx context.Context, typ event.Type, payload any) {
	if e.hub != nil {
		e.hub.BroadcastEvent(ctx, string(typ), payload)
	}
}

func failed(err *failure.Error, lastAction string) ExecResult {
	return ExecResult{Outcome: ExecFailed, Err: err, LastAction: lastAction}
}

// providerFailure classifies a completion provider error.
func providerFailure(err error, lastAction string) *failure.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return failure.New(failure.KindTimeout, lastAction, err)
	}
	var fe *failure.Error
	if errors.As(err, &fe) {
		return failure.From(fe, lastAction)
	}
	return failure.New(failure.KindRemoteError, lastAction, err)
}

func actionName(spec capability.ToolSpec, proposed string) string {
	if spec.Name != "" {
		return spec.Summary()
	}
	return proposed
}

func confirmationRequest(spec capability.ToolSpec, canonical json.RawMessage, fingerprint string) *task.ConfirmationRequest {
	return &task.ConfirmationRequest{
		Tool:        spec.Name,
		Description: spec.Summary(),
		Arguments:   string(canonical),
		Fingerprint: fingerprint,
		Prompt: fmt.Sprintf("This will %s (%s with %s) and cannot be undone. Reply yes to proceed or no to cancel.",
			lowerFirst(spec.Summary()), spec.Name, canonical),
	}
}

// safeJSON keeps valid argument documents and wraps anything else as a JSON
// string so the trace always serializes.
func safeJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	if json.Valid(raw) {
		return raw
	}
	b, _ := json.Marshal(string(raw))
	return b
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
