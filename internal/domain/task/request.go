package task

import (
	"fmt"
	"strings"

	"github.com/Strob0t/JellyRoute/internal/domain"
	"github.com/Strob0t/JellyRoute/internal/domain/capability"
	"github.com/Strob0t/JellyRoute/internal/domain/failure"
	"github.com/Strob0t/JellyRoute/internal/domain/trace"
)

// MaxTextLength bounds the request text accepted from transports.
const MaxTextLength = 8000

// Request is an inbound task as produced by every transport.
type Request struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Turns     []Turn `json:"turns,omitempty"`
	// Interactive reports whether the caller can answer a follow-up turn.
	// Nil means interactive.
	Interactive *bool `json:"interactive,omitempty"`
}

// IsInteractive resolves the Interactive flag.
func (r Request) IsInteractive() bool {
	return r.Interactive == nil || *r.Interactive
}

// Validate checks the request shape.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("%w: text is required", domain.ErrValidation)
	}
	if len(r.Text) > MaxTextLength {
		return fmt.Errorf("%w: text exceeds %d characters", domain.ErrValidation, MaxTextLength)
	}
	for i, t := range r.Turns {
		if t.Role != RoleUser && t.Role != RoleAssistant {
			return fmt.Errorf("%w: turns[%d]: unknown role %q", domain.ErrValidation, i, t.Role)
		}
	}
	return nil
}

// ResponseStatus is the caller-visible outcome.
type ResponseStatus string

const (
	ResponseDone               ResponseStatus = "done"
	ResponseFailed             ResponseStatus = "failed"
	ResponseNeedsClarification ResponseStatus = "needs_clarification"
	ResponseNeedsConfirmation  ResponseStatus = "needs_confirmation"
)

// FailureInfo is the user-facing description of a failed task.
type FailureInfo struct {
	Kind       failure.Kind `json:"kind"`
	Message    string       `json:"message"`
	LastAction string       `json:"last_action,omitempty"`
}

// ConfirmationRequest asks the caller to approve a destructive call. The
// caller approves by sending a confirmation turn carrying Tool and
// Fingerprint.
type ConfirmationRequest struct {
	Tool        string `json:"tool"`
	Description string `json:"description"`
	Arguments   string `json:"arguments"`
	Fingerprint string `json:"fingerprint"`
	Prompt      string `json:"prompt"`
}

// Response is what every transport returns for one task.
type Response struct {
	TaskID        string               `json:"task_id"`
	SessionID     string               `json:"session_id"`
	Status        ResponseStatus       `json:"status"`
	TaskStatus    Status               `json:"task_status"`
	Domain        capability.Domain    `json:"domain,omitempty"`
	Answer        string               `json:"answer,omitempty"`
	Trace         []trace.Entry        `json:"trace"`
	Failure       *FailureInfo         `json:"failure,omitempty"`
	Clarification string               `json:"clarification,omitempty"`
	Confirmation  *ConfirmationRequest `json:"confirmation,omitempty"`
	Delegations   []Delegation         `json:"delegations,omitempty"`
}

// FollowUpTurn returns the assistant turn a conversational transport should
// append to its history after this response.
func (r *Response) FollowUpTurn() Turn {
	switch r.Status {
	case ResponseNeedsClarification:
		return Turn{Role: RoleAssistant, Kind: TurnClarification, Content: r.Clarification}
	case ResponseNeedsConfirmation:
		return Turn{
			Role:        RoleAssistant,
			Kind:        TurnConfirmationRequest,
			Content:     r.Confirmation.Prompt,
			Tool:        r.Confirmation.Tool,
			Fingerprint: r.Confirmation.Fingerprint,
		}
	case ResponseFailed:
		return Turn{Role: RoleAssistant, Kind: TurnMessage, Content: r.Failure.Message}
	default:
		return Turn{Role: RoleAssistant, Kind: TurnMessage, Content: r.Answer}
	}
}
