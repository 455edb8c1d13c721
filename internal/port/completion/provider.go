// Package completion defines the Completion Provider port used for domain
// classification and next-action proposals.
package completion

import (
	"context"
	"encoding/json"

	"github.com/Strob0t/JellyRoute/internal/domain/capability"
	"github.com/Strob0t/JellyRoute/internal/domain/task"
	"github.com/Strob0t/JellyRoute/internal/domain/trace"
)

// ClassifyRequest asks for the domain owning a request. Domains lists the
// candidates; rejected domains are already removed.
type ClassifyRequest struct {
	TaskID  string
	Text    string
	History []task.Turn
	Domains []capability.DomainInfo
}

// Classification is the provider's routing decision. Clarify is set when the
// provider itself asks for clarification instead of naming a domain.
type Classification struct {
	Domain     capability.Domain `json:"domain"`
	Confidence float64           `json:"confidence"`
	Clarify    bool              `json:"clarify,omitempty"`
	Question   string            `json:"question,omitempty"`
	Rationale  string            `json:"rationale,omitempty"`
}

// ProposalKind is the shape of a proposed next action.
type ProposalKind string

const (
	ProposalCall        ProposalKind = "call"
	ProposalFinal       ProposalKind = "final"
	ProposalOutOfDomain ProposalKind = "out_of_domain"
)

// ActionRequest carries the context for one proposal. Tools is the delegated
// domain's registry slice; Observations is the trace so far, including
// rejected proposals.
type ActionRequest struct {
	TaskID       string
	Domain       capability.Domain
	Text         string
	History      []task.Turn
	Tools        []capability.ToolSpec
	Observations []trace.Entry
}

// Proposal is the provider's next action.
type Proposal struct {
	Kind      ProposalKind
	Tool      string
	Arguments json.RawMessage
	CallID    string
	Answer    string
	Reason    string
}

// Provider is the Completion Provider port.
type Provider interface {
	Classify(ctx context.Context, req ClassifyRequest) (Classification, error)
	ProposeAction(ctx context.Context, req ActionRequest) (Proposal, error)
}
