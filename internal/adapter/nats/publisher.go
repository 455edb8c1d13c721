package nats

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/Strob0t/JellyRoute/internal/domain/event"
	"github.com/Strob0t/JellyRoute/internal/port/messagequeue"
)

// Publisher turns task events into queue messages. It implements
// broadcast.Broadcaster. Lifecycle events with a schema go to their
// dedicated subject; every other event goes to tasks.events.<name>.
type Publisher struct {
	queue messagequeue.Queue
}

// NewPublisher creates a Publisher on q.
func NewPublisher(q messagequeue.Queue) *Publisher {
	return &Publisher{queue: q}
}

func (p *Publisher) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	subject, msg := toMessage(eventType, payload)
	data, err := json.Marshal(msg)
	if err != nil {
		slog.ErrorContext(ctx, "marshal event for nats", "event_type", eventType, "error", err)
		return
	}
	if err := p.queue.Publish(context.WithoutCancel(ctx), subject, data); err != nil {
		slog.WarnContext(ctx, "publish event failed", "subject", subject, "error", err)
	}
}

func toMessage(eventType string, payload any) (string, any) {
	switch ev := payload.(type) {
	case event.RunStartedEvent:
		return messagequeue.SubjectTaskStarted, messagequeue.TaskStartedPayload{TaskID: ev.RunID, SessionID: ev.ThreadID}
	case event.RunFinishedEvent:
		return messagequeue.SubjectTaskFinished, messagequeue.TaskFinishedPayload{TaskID: ev.RunID, Status: ev.Status, Failure: ev.Error}
	case event.ToolResultEvent:
		if ev.Tool != "" {
			return messagequeue.SubjectTaskToolCall, messagequeue.TaskToolCallPayload{
				TaskID: ev.RunID, Sequence: ev.Sequence, Tool: ev.Tool,
				Outcome: ev.Outcome, Kind: ev.Kind, Attempts: ev.Attempts,
			}
		}
	case event.PermissionRequestEvent:
		return messagequeue.SubjectTaskConfirmation, messagequeue.TaskConfirmationPayload{TaskID: ev.RunID, Tool: ev.Tool, Fingerprint: ev.Fingerprint}
	}
	name := strings.TrimPrefix(eventType, "agui.")
	return "tasks.events." + name, payload
}
