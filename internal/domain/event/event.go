// Package event defines the task lifecycle events streamed to observers.
// Names and payloads follow the AG-UI (Agent-User Interaction) protocol so
// that WebSocket clients can render a run without translation.
package event

// Type identifies the kind of task event.
type Type string

const (
	RunStarted        Type = "agui.run_started"
	RunFinished       Type = "agui.run_finished"
	StepStarted       Type = "agui.step_started"
	StepFinished      Type = "agui.step_finished"
	ToolCall          Type = "agui.tool_call"
	ToolResult        Type = "agui.tool_result"
	TextMessage       Type = "agui.text_message"
	PermissionRequest Type = "agui.permission_request"
	StateDelta        Type = "agui.state_delta"
)

// Steps reported through StepStarted and StepFinished.
const (
	StepClassify = "classify"
	StepExecute  = "execute"
	StepReroute  = "reroute"
)

// RunStartedEvent signals that a task has been accepted.
type RunStartedEvent struct {
	RunID     string `json:"run_id"`
	ThreadID  string `json:"thread_id,omitempty"`
	AgentName string `json:"agent_name,omitempty"`
}

// RunFinishedEvent signals that a task stopped, either terminally or
// suspended for caller input.
type RunFinishedEvent struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// StepStartedEvent signals the start of a named step within a run.
type StepStartedEvent struct {
	RunID  string `json:"run_id"`
	StepID string `json:"step_id"`
	Name   string `json:"name"`
	Domain string `json:"domain,omitempty"`
}

// StepFinishedEvent signals the completion of a named step.
type StepFinishedEvent struct {
	RunID  string `json:"run_id"`
	StepID string `json:"step_id"`
	Status string `json:"status"` // "completed", "failed"
}

// ToolCallEvent signals a dispatched tool invocation.
type ToolCallEvent struct {
	RunID  string `json:"run_id"`
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Args   string `json:"args"`
}

// ToolResultEvent carries the result of a tool invocation.
type ToolResultEvent struct {
	RunID    string `json:"run_id"`
	CallID   string `json:"call_id"`
	Tool     string `json:"tool,omitempty"`
	Sequence int    `json:"sequence,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
	Result   string `json:"result"`
	Error    string `json:"error,omitempty"`
}

// TextMessageEvent carries assistant text: answers, clarification questions
// and failure messages.
type TextMessageEvent struct {
	RunID   string `json:"run_id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PermissionRequestEvent signals that a destructive call awaits approval.
type PermissionRequestEvent struct {
	RunID       string `json:"run_id"`
	CallID      string `json:"call_id"`
	Tool        string `json:"tool"`
	Args        string `json:"args"`
	Fingerprint string `json:"fingerprint"`
	Prompt      string `json:"prompt"`
}

// StateDeltaEvent reports a task status transition.
type StateDeltaEvent struct {
	RunID string `json:"run_id"`
	Delta string `json:"delta"`
}
