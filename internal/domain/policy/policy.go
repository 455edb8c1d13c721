// Package policy decides whether a validated tool call may be dispatched.
// Only destructive calls are gated: they need an explicit instruction in the
// original request or an approving confirmation turn.
package policy

import (
	"github.com/Strob0t/JellyRoute/internal/domain/capability"
	"github.com/Strob0t/JellyRoute/internal/domain/task"
)

// Decision is the result of evaluating a call.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
	DecisionAsk   Decision = "ask"
)

// Call is what the gate sees of a proposed call.
type Call struct {
	Spec        capability.ToolSpec
	Arguments   map[string]any
	Fingerprint string
}

// Context is the task state the gate evaluates against.
type Context struct {
	Text        string
	Turns       []task.Turn
	Interactive bool
}

// EvaluationResult records the decision and why it was made.
type EvaluationResult struct {
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason"`
}

// Evaluate applies the checks in order; the first that matches wins.
// Without an instruction or confirmation an interactive caller is asked,
// a non-interactive one is refused.
func Evaluate(call Call, ctx Context) EvaluationResult {
	if call.Spec.SideEffect != capability.SideEffectDestructive {
		return EvaluationResult{Decision: DecisionAllow, Reason: "not destructive"}
	}

	switch confirmationState(ctx.Turns, call.Spec.Name, call.Fingerprint) {
	case confirmed:
		return EvaluationResult{Decision: DecisionAllow, Reason: "confirmed by caller"}
	case declined:
		return EvaluationResult{Decision: DecisionDeny, Reason: "declined by caller"}
	}

	if ExplicitInstruction(ctx.Text, call.Spec, call.Arguments) {
		return EvaluationResult{Decision: DecisionAllow, Reason: "explicit instruction in request"}
	}

	if !ctx.Interactive {
		return EvaluationResult{Decision: DecisionDeny, Reason: "confirmation impossible in non-interactive mode"}
	}
	return EvaluationResult{Decision: DecisionAsk, Reason: "destructive call requires confirmation"}
}
