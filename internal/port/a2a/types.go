package a2a

import (
	"time"

	"github.com/a2aproject/a2a-go/a2a"
)

// Part is a message or artifact part. Only text parts are produced and
// accepted.
type Part struct {
	Kind string `json:"kind"` // "text"
	Text string `json:"text"`
}

// Message is one A2A message.
type Message struct {
	Role      string `json:"role"` // "user" or "agent"
	Parts     []Part `json:"parts"`
	MessageID string `json:"messageId,omitempty"`
	ContextID string `json:"contextId,omitempty"`
	Kind      string `json:"kind,omitempty"`
}

// Text joins the message's text parts.
func (m Message) Text() string {
	out := ""
	for _, p := range m.Parts {
		if p.Kind != "" && p.Kind != "text" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p.Text
	}
	return out
}

// TaskRequest sends a message within a context. A reply to an
// input-required task uses the same contextId.
type TaskRequest struct {
	ContextID   string  `json:"contextId,omitempty"`
	Message     Message `json:"message"`
	Interactive *bool   `json:"interactive,omitempty"`
}

// TaskStatus is the A2A task state with the agent's latest message.
type TaskStatus struct {
	State     a2a.TaskState `json:"state"`
	Message   *Message      `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Artifact is a task output.
type Artifact struct {
	ArtifactID string `json:"artifactId"`
	Name       string `json:"name"`
	Parts      []Part `json:"parts"`
}

// Task is the A2A view of a handled task.
type Task struct {
	ID        string         `json:"id"`
	ContextID string         `json:"contextId"`
	Status    TaskStatus     `json:"status"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Kind      string         `json:"kind"`
}
