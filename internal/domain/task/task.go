// Package task defines the Task domain entity and its state machine.
package task

import (
	"errors"
	"fmt"
	"time"

	"github.com/Strob0t/JellyRoute/internal/domain/capability"
)

// Status represents the current state of a task.
type Status string

const (
	StatusReceived       Status = "received"
	StatusClassifying    Status = "classifying"
	StatusDelegated      Status = "delegated"
	StatusAwaitingResult Status = "awaiting_result"
	StatusAggregating    Status = "aggregating"
	StatusDone           Status = "done"
	StatusFailed         Status = "failed"
)

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = errors.New("invalid task transition")

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// allowed lists the legal forward edges. Any non-terminal status may also
// move to failed. Returning to received suspends the task for caller input.
var allowed = map[Status][]Status{
	StatusReceived:       {StatusClassifying},
	StatusClassifying:    {StatusDelegated, StatusReceived},
	StatusDelegated:      {StatusAwaitingResult},
	StatusAwaitingResult: {StatusAggregating, StatusClassifying, StatusReceived},
	StatusAggregating:    {StatusDone},
}

func isAllowedTransition(from, to Status) bool {
	if to == StatusFailed {
		return !from.IsTerminal()
	}
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TurnKind distinguishes plain messages from routing control turns.
type TurnKind string

const (
	TurnMessage             TurnKind = "message"
	TurnClarification       TurnKind = "clarification"
	TurnConfirmationRequest TurnKind = "confirmation_request"
	TurnConfirmation        TurnKind = "confirmation"
)

// Turn is one entry of the conversation carried with a request.
type Turn struct {
	Role        Role     `json:"role"`
	Kind        TurnKind `json:"kind,omitempty"`
	Content     string   `json:"content"`
	Tool        string   `json:"tool,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	Approved    bool     `json:"approved,omitempty"`
}

// Delegation records one domain assignment.
type Delegation struct {
	TaskID     string            `json:"task_id"`
	Domain     capability.Domain `json:"domain"`
	Rationale  string            `json:"rationale,omitempty"`
	Confidence float64           `json:"confidence"`
	At         time.Time         `json:"at"`
}

// Task is one end-to-end handling of a request. It is mutated only by the
// Supervisor that owns it.
type Task struct {
	ID          string            `json:"id"`
	SessionID   string            `json:"session_id"`
	Text        string            `json:"text"`
	Turns       []Turn            `json:"turns,omitempty"`
	Domain      capability.Domain `json:"domain,omitempty"`
	Delegations []Delegation      `json:"delegations,omitempty"`
	Status      Status            `json:"status"`
	Interactive bool              `json:"interactive"`
	FollowUp    bool              `json:"follow_up,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// New creates a task in the received state.
// A request answering a pending clarification or confirmation is folded into
// the original request it answers.
func New(id string, req Request, now time.Time) *Task {
	text, turns, followUp := resolveFollowUp(req)
	return &Task{
		ID:          id,
		SessionID:   req.SessionID,
		Text:        text,
		Turns:       turns,
		Status:      StatusReceived,
		Interactive: req.IsInteractive(),
		FollowUp:    followUp,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// resolveFollowUp returns the effective request text and history. When the
// last turn is an assistant clarification or confirmation request, the new
// text is a reply: it is appended to the history and the task keeps working
// on the user message that preceded the question.
func resolveFollowUp(req Request) (string, []Turn, bool) {
	turns := make([]Turn, len(req.Turns), len(req.Turns)+1)
	copy(turns, req.Turns)

	n := len(turns)
	if n == 0 || turns[n-1].Role != RoleAssistant {
		return req.Text, turns, false
	}
	last := turns[n-1]
	if last.Kind != TurnClarification && last.Kind != TurnConfirmationRequest {
		return req.Text, turns, false
	}

	original := originalRequest(turns[:n-1])
	if original == "" {
		return req.Text, turns, false
	}

	turns = append(turns, Turn{Role: RoleUser, Kind: TurnMessage, Content: req.Text})
	if last.Kind == TurnClarification {
		return original + "\n" + req.Text, turns, true
	}
	return original, turns, true
}

// originalRequest returns the user message the pending question refers to.
// Earlier clarification answers in the same exchange are folded in, so a
// confirmation asked after a clarification still sees the whole request.
func originalRequest(turns []Turn) string {
	i := lastUserMessage(turns, len(turns)-1)
	if i < 0 {
		return ""
	}
	text := turns[i].Content
	for i > 0 && turns[i-1].Role == RoleAssistant && turns[i-1].Kind == TurnClarification {
		j := lastUserMessage(turns, i-2)
		if j < 0 {
			break
		}
		text = turns[j].Content + "\n" + text
		i = j
	}
	return text
}

func lastUserMessage(turns []Turn, from int) int {
	for i := from; i >= 0; i-- {
		if turns[i].Role == RoleUser && (turns[i].Kind == TurnMessage || turns[i].Kind == "") {
			return i
		}
	}
	return -1
}

// Transition moves the task to status to, validating the edge.
func (t *Task) Transition(to Status, now time.Time) error {
	if !isAllowedTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	t.Status = to
	t.UpdatedAt = now
	return nil
}

// Delegate assigns the task to a domain. Only one domain is active at a time;
// a new delegation replaces the previous assignment.
func (t *Task) Delegate(d Delegation) error {
	if !d.Domain.IsValid() {
		return fmt.Errorf("%w: delegate to unknown domain %q", ErrInvalidTransition, d.Domain)
	}
	d.TaskID = t.ID
	t.Domain = d.Domain
	t.Delegations = append(t.Delegations, d)
	return nil
}

// Reroutes returns how many times the domain assignment changed.
func (t *Task) Reroutes() int {
	if len(t.Delegations) == 0 {
		return 0
	}
	return len(t.Delegations) - 1
}

// Clarified reports whether a clarification was already asked in this
// conversation.
func (t *Task) Clarified() bool {
	for _, turn := range t.Turns {
		if turn.Role == RoleAssistant && turn.Kind == TurnClarification {
			return true
		}
	}
	return false
}

// Conversation returns the history as seen by the completion provider: the
// prior turns followed by the request, unless the request was a follow-up
// already recorded in the history.
func (t *Task) Conversation() []Turn {
	out := make([]Turn, 0, len(t.Turns)+1)
	out = append(out, t.Turns...)
	if !t.FollowUp {
		out = append(out, Turn{Role: RoleUser, Kind: TurnMessage, Content: t.Text})
	}
	return out
}
