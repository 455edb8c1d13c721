package service

import (
	"fmt"

	"github.com/Strob0t/JellyRoute/internal/domain/failure"
	"github.com/Strob0t/JellyRoute/internal/domain/task"
	"github.com/Strob0t/JellyRoute/internal/domain/trace"
)

// Aggregate builds the caller-visible response for t. Exactly one of
// answer, question, confirmation or fail is expected to be set.
type Aggregate struct {
	Answer       string
	Question     string
	Confirmation *task.ConfirmationRequest
	Fail         *failure.Error
}

// BuildResponse turns a finished or suspended task into a Response. Failure
// messages are fixed per kind and never carry transport or schema details;
// the underlying error stays in the logs and the trace.
func BuildResponse(t *task.Task, tr *trace.Trace, agg Aggregate) *task.Response {
	resp := &task.Response{
		TaskID:      t.ID,
		SessionID:   t.SessionID,
		TaskStatus:  t.Status,
		Domain:      t.Domain,
		Trace:       tr.Entries(),
		Delegations: append([]task.Delegation(nil), t.Delegations...),
	}

	switch {
	case agg.Fail != nil:
		resp.Status = task.ResponseFailed
		resp.Failure = &task.FailureInfo{
			Kind:       agg.Fail.Kind,
			Message:    FailureMessage(agg.Fail.Kind, agg.Fail.LastAction),
			LastAction: agg.Fail.LastAction,
		}
	case agg.Confirmation != nil:
		resp.Status = task.ResponseNeedsConfirmation
		resp.Confirmation = agg.Confirmation
	case agg.Question != "":
		resp.Status = task.ResponseNeedsClarification
		resp.Clarification = agg.Question
	default:
		resp.Status = task.ResponseDone
		resp.Answer = agg.Answer
	}
	return resp
}

var failureMessages = map[failure.Kind]string{
	failure.KindConfiguration:           "The router is misconfigured and cannot handle requests right now",
	failure.KindAmbiguousIntent:         "I could not tell what you want to do. Please rephrase the request with more detail",
	failure.KindRoutingLoopExceeded:     "None of the available areas (media, system, users, live TV, devices) could handle this request",
	failure.KindToolValidationExhausted: "I could not build a valid request for the media server",
	failure.KindLoopBudgetExceeded:      "The request needed more steps than allowed",
	failure.KindDestructiveRefused:      "This request would change or delete data and needs explicit confirmation, which is not possible here",
	failure.KindTimeout:                 "The request took too long",
	failure.KindCancelled:               "The request was cancelled",
	failure.KindRemoteError:             "A backend service is unavailable",
	failure.KindInternal:                "Something went wrong while handling the request",
}

// FailureMessage returns the user-facing text for kind, naming the last
// attempted action when one exists.
func FailureMessage(kind failure.Kind, lastAction string) string {
	msg, ok := failureMessages[kind]
	if !ok {
		msg = failureMessages[failure.KindInternal]
	}
	if lastAction != "" {
		return fmt.Sprintf("%s (last action: %s).", msg, lastAction)
	}
	return msg + "."
}
