package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/JellyRoute/internal/config"
	"github.com/Strob0t/JellyRoute/internal/domain"
	"github.com/Strob0t/JellyRoute/internal/domain/capability"
	"github.com/Strob0t/JellyRoute/internal/domain/event"
	"github.com/Strob0t/JellyRoute/internal/domain/failure"
	"github.com/Strob0t/JellyRoute/internal/domain/task"
	"github.com/Strob0t/JellyRoute/internal/domain/trace"
	"github.com/Strob0t/JellyRoute/internal/port/completion"
)

const bobID = "5d1f3a2b-8c4e-4f6a-9b7d-1e2f3a4b5c6d"

func TestSupervisor_ChannelLookupRoutesToLiveTV(t *testing.T) {
	p := &scriptedProvider{
		classifications: []completion.Classification{classify(capability.DomainLiveTV, 0.92)},
		proposals: []completion.Proposal{
			call("get_channel", `{"channel_id":"5"}`),
			final("Channel 5 is BBC One."),
		},
	}
	exec := newRecordingExecutor().on("get_channel", trace.Success(`{"Name":"BBC One","Number":"5"}`))
	h := newHarness(t, p, exec)

	resp := h.handle(t, task.Request{SessionID: "s1", Text: "What's on channel 5?"})

	if resp.Status != task.ResponseDone {
		t.Fatalf("expected done, got %s (%+v)", resp.Status, resp.Failure)
	}
	if resp.TaskStatus != task.StatusDone {
		t.Errorf("expected task status done, got %s", resp.TaskStatus)
	}
	if resp.Domain != capability.DomainLiveTV {
		t.Errorf("expected livetv, got %s", resp.Domain)
	}
	if len(resp.Trace) != 1 {
		t.Fatalf("expected exactly one call, got %d", len(resp.Trace))
	}
	if resp.Trace[0].Call.Tool != "get_channel" || !resp.Trace[0].Result.OK() {
		t.Errorf("unexpected trace entry %+v", resp.Trace[0])
	}
	if resp.Answer != "Channel 5 is BBC One." {
		t.Errorf("unexpected answer %q", resp.Answer)
	}
	if len(resp.Delegations) != 1 {
		t.Errorf("expected one delegation, got %d", len(resp.Delegations))
	}

	// The executor only ever sees the livetv slice.
	for _, req := range p.actionReqs {
		for _, tool := range req.Tools {
			if tool.Domain != capability.DomainLiveTV {
				t.Fatalf("tool %s from %s leaked into livetv slice", tool.Name, tool.Domain)
			}
		}
	}

	for _, want := range []event.Type{event.RunStarted, event.ToolCall, event.ToolResult, event.RunFinished} {
		if !h.hub.has(string(want)) {
			t.Errorf("expected %s event", want)
		}
	}
	if _, err := h.sup.Get(context.Background(), resp.TaskID); err != nil {
		t.Errorf("expected archived response: %v", err)
	}
}

func deleteBobScript() *scriptedProvider {
	return &scriptedProvider{
		classifications: []completion.Classification{classify(capability.DomainUser, 0.95)},
		proposals: []completion.Proposal{
			call("get_users", `{}`),
			call("delete_user", `{"user_id":"`+bobID+`"}`),
			final("User Bob was deleted."),
		},
	}
}

func TestSupervisor_DeleteUserAsksForConfirmationFirst(t *testing.T) {
	exec := newRecordingExecutor().on("get_users", trace.Success(`[{"Name":"Bob","Id":"`+bobID+`"}]`))
	h := newHarness(t, deleteBobScript(), exec)

	resp := h.handle(t, task.Request{SessionID: "s1", Text: "Delete user Bob"})

	if resp.Status != task.ResponseNeedsConfirmation {
		t.Fatalf("expected needs_confirmation, got %s", resp.Status)
	}
	if resp.TaskStatus != task.StatusReceived {
		t.Errorf("expected suspended task in received, got %s", resp.TaskStatus)
	}
	if exec.count("delete_user") != 0 {
		t.Fatal("delete_user must not be dispatched before confirmation")
	}
	if resp.Confirmation == nil || resp.Confirmation.Tool != "delete_user" {
		t.Fatalf("expected delete_user confirmation, got %+v", resp.Confirmation)
	}
	if resp.Confirmation.Fingerprint == "" {
		t.Error("expected fingerprint on confirmation")
	}
	if !h.hub.has(string(event.PermissionRequest)) {
		t.Error("expected permission_request event")
	}

	// The caller approves; the new task re-derives the call and dispatches it.
	h2 := newHarness(t, deleteBobScript(), exec)
	follow := h2.handle(t, task.Request{
		SessionID: "s1",
		Text:      "yes",
		Turns: []task.Turn{
			{Role: task.RoleUser, Kind: task.TurnMessage, Content: "Delete user Bob"},
			resp.FollowUpTurn(),
		},
	})

	if follow.Status != task.ResponseDone {
		t.Fatalf("expected done after confirmation, got %s (%+v)", follow.Status, follow.Failure)
	}
	if exec.count("delete_user") != 1 {
		t.Fatalf("expected exactly one delete_user dispatch, got %d", exec.count("delete_user"))
	}
}

func TestSupervisor_DeclinedConfirmationRefuses(t *testing.T) {
	exec := newRecordingExecutor().on("get_users", trace.Success(`[{"Name":"Bob","Id":"`+bobID+`"}]`))
	h := newHarness(t, deleteBobScript(), exec)
	first := h.handle(t, task.Request{SessionID: "s1", Text: "Delete user Bob"})

	h2 := newHarness(t, deleteBobScript(), exec)
	resp := h2.handle(t, task.Request{
		SessionID: "s1",
		Text:      "no",
		Turns: []task.Turn{
			{Role: task.RoleUser, Content: "Delete user Bob"},
			first.FollowUpTurn(),
		},
	})

	if resp.Status != task.ResponseFailed || resp.Failure.Kind != failure.KindDestructiveRefused {
		t.Fatalf("expected DestructiveActionRefused, got %s %+v", resp.Status, resp.Failure)
	}
	if exec.count("delete_user") != 0 {
		t.Fatal("declined call must not be dispatched")
	}
}

func TestSupervisor_MissingRequiredFieldIsCorrected(t *testing.T) {
	p := &scriptedProvider{
		classifications: []completion.Classification{classify(capability.DomainLiveTV, 0.9)},
		proposals: []completion.Proposal{
			call("get_channel", `{}`),
			call("get_channel", `{"channel_id":"5"}`),
			final("Channel 5 found."),
		},
	}
	exec := newRecordingExecutor()
	h := newHarness(t, p, exec)

	resp := h.handle(t, task.Request{Text: "Show me channel five"})

	if resp.Status != task.ResponseDone {
		t.Fatalf("expected done, got %s (%+v)", resp.Status, resp.Failure)
	}
	if len(resp.Trace) != 2 {
		t.Fatalf("expected 2 trace entries, got %d", len(resp.Trace))
	}
	first := resp.Trace[0]
	if first.Result.Kind != trace.KindValidation {
		t.Errorf("expected ValidationError first, got %s", first.Result.Kind)
	}
	if !strings.Contains(first.Result.Message, "channel_id") {
		t.Errorf("validation message should name the missing field, got %q", first.Result.Message)
	}
	if first.Result.Attempts != 0 {
		t.Errorf("rejected proposal must not count as dispatched, got %d attempts", first.Result.Attempts)
	}
	if !resp.Trace[1].Result.OK() {
		t.Errorf("expected corrected call to succeed, got %+v", resp.Trace[1].Result)
	}
	if exec.total() != 1 {
		t.Errorf("only the valid call may reach the server, got %d", exec.total())
	}
	// The rejection is fed back to the provider.
	if got := len(p.actionReqs[1].Observations); got != 1 {
		t.Errorf("expected the rejection in the next proposal's observations, got %d", got)
	}
}

func TestSupervisor_LoopBudgetExceeded(t *testing.T) {
	p := &scriptedProvider{
		classifications: []completion.Classification{classify(capability.DomainLiveTV, 0.9)},
		proposeFn: func(completion.ActionRequest) (completion.Proposal, error) {
			return call("get_live_tv_channels", `{}`), nil
		},
	}
	exec := newRecordingExecutor()
	h := newHarness(t, p, exec)

	resp := h.handle(t, task.Request{Text: "List every channel forever"})

	if resp.Status != task.ResponseFailed || resp.Failure.Kind != failure.KindLoopBudgetExceeded {
		t.Fatalf("expected LoopBudgetExceeded, got %s %+v", resp.Status, resp.Failure)
	}
	if len(resp.Trace) != 8 {
		t.Errorf("expected 8 entries, got %d", len(resp.Trace))
	}
	if exec.total() != 8 {
		t.Errorf("expected 8 dispatched calls, got %d", exec.total())
	}
	if resp.TaskStatus != task.StatusFailed {
		t.Errorf("expected failed task, got %s", resp.TaskStatus)
	}
	if !strings.Contains(resp.Failure.Message, "Gets available live tv channels") {
		t.Errorf("failure message should name the last action, got %q", resp.Failure.Message)
	}
}

func TestSupervisor_VagueRequestAsksForClarification(t *testing.T) {
	p := &scriptedProvider{
		classifications: []completion.Classification{{Clarify: true, Confidence: 0.2, Question: "What should I fix?"}},
	}
	exec := newRecordingExecutor()
	h := newHarness(t, p, exec)

	resp := h.handle(t, task.Request{SessionID: "s1", Text: "fix it"})

	if resp.Status != task.ResponseNeedsClarification {
		t.Fatalf("expected needs_clarification, got %s", resp.Status)
	}
	if resp.TaskStatus != task.StatusReceived {
		t.Errorf("expected task status received, got %s", resp.TaskStatus)
	}
	if len(resp.Delegations) != 0 || resp.Domain != "" {
		t.Errorf("expected no delegation, got %+v", resp.Delegations)
	}
	if resp.Clarification != "What should I fix?" {
		t.Errorf("unexpected question %q", resp.Clarification)
	}
	if len(p.actionReqs) != 0 || exec.total() != 0 {
		t.Error("no domain work may happen before clarification")
	}

	// A second low-confidence result in the same conversation fails.
	again := h.handle(t, task.Request{
		SessionID: "s1",
		Text:      "the thing",
		Turns: []task.Turn{
			{Role: task.RoleUser, Content: "fix it"},
			resp.FollowUpTurn(),
		},
	})
	if again.Status != task.ResponseFailed || again.Failure.Kind != failure.KindAmbiguousIntent {
		t.Fatalf("expected AmbiguousIntent, got %s %+v", again.Status, again.Failure)
	}
}

func TestSupervisor_ClarificationAnswerContinues(t *testing.T) {
	p := &scriptedProvider{
		classifications: []completion.Classification{classify(capability.DomainDevice, 0.8)},
		proposals:       []completion.Proposal{call("get_devices", `{}`), final("Two devices.")},
	}
	h := newHarness(t, p, newRecordingExecutor())

	resp := h.handle(t, task.Request{
		Text: "my devices",
		Turns: []task.Turn{
			{Role: task.RoleUser, Content: "show me the list"},
			{Role: task.RoleAssistant, Kind: task.TurnClarification, Content: "A list of what?"},
		},
	})

	if resp.Status != task.ResponseDone {
		t.Fatalf("expected done, got %s %+v", resp.Status, resp.Failure)
	}
	req := p.classifyReqs[0]
	if req.Text != "show me the list\nmy devices" {
		t.Errorf("expected the answer folded into the request, got %q", req.Text)
	}
}

func TestSupervisor_NonInteractiveAmbiguityFailsImmediately(t *testing.T) {
	p := &scriptedProvider{classifications: []completion.Classification{classify(capability.DomainMedia, 0.3)}}
	h := newHarness(t, p, newRecordingExecutor())

	resp := h.handle(t, task.Request{Text: "fix it", Interactive: boolPtr(false)})

	if resp.Status != task.ResponseFailed || resp.Failure.Kind != failure.KindAmbiguousIntent {
		t.Fatalf("expected AmbiguousIntent, got %s %+v", resp.Status, resp.Failure)
	}
}

func TestSupervisor_RerouteExcludesRejectedDomains(t *testing.T) {
	p := &scriptedProvider{
		classifications: []completion.Classification{
			classify(capability.DomainMedia, 0.9),
			classify(capability.DomainLiveTV, 0.85),
		},
		proposals: []completion.Proposal{
			outOfDomain("channels are live tv"),
			call("get_live_tv_channels", `{}`),
			final("Here are your channels."),
		},
	}
	h := newHarness(t, p, newRecordingExecutor())

	resp := h.handle(t, task.Request{Text: "list my channels"})

	if resp.Status != task.ResponseDone {
		t.Fatalf("expected done, got %s %+v", resp.Status, resp.Failure)
	}
	if len(resp.Delegations) != 2 || resp.Domain != capability.DomainLiveTV {
		t.Fatalf("expected media then livetv, got %+v", resp.Delegations)
	}
	for _, info := range p.classifyReqs[1].Domains {
		if info.Name == capability.DomainMedia {
			t.Fatal("rejected domain offered again during re-route")
		}
	}
}

func TestSupervisor_RoutingLoopExceeded(t *testing.T) {
	p := &scriptedProvider{
		classifications: []completion.Classification{
			classify(capability.DomainMedia, 0.9),
			classify(capability.DomainSystem, 0.9),
			classify(capability.DomainUser, 0.9),
			classify(capability.DomainDevice, 0.9),
		},
		proposeFn: func(completion.ActionRequest) (completion.Proposal, error) {
			return outOfDomain("not mine"), nil
		},
	}
	h := newHarness(t, p, newRecordingExecutor())

	resp := h.handle(t, task.Request{Text: "do the impossible"})

	if resp.Status != task.ResponseFailed || resp.Failure.Kind != failure.KindRoutingLoopExceeded {
		t.Fatalf("expected RoutingLoopExceeded, got %s %+v", resp.Status, resp.Failure)
	}
	if len(resp.Delegations) != 3 {
		t.Errorf("expected initial delegation plus 2 re-routes, got %d", len(resp.Delegations))
	}
}

func TestSupervisor_ValidationExhausted(t *testing.T) {
	p := &scriptedProvider{
		classifications: []completion.Classification{classify(capability.DomainLiveTV, 0.9)},
		proposeFn: func(completion.ActionRequest) (completion.Proposal, error) {
			return call("get_channel", `{"channel":"5"}`), nil
		},
	}
	exec := newRecordingExecutor()
	h := newHarness(t, p, exec)

	resp := h.handle(t, task.Request{Text: "channel 5"})

	if resp.Status != task.ResponseFailed || resp.Failure.Kind != failure.KindToolValidationExhausted {
		t.Fatalf("expected ToolValidationExhausted, got %s %+v", resp.Status, resp.Failure)
	}
	if len(resp.Trace) != 3 {
		t.Errorf("expected first attempt plus 2 corrections, got %d", len(resp.Trace))
	}
	if exec.total() != 0 {
		t.Error("invalid calls must never be dispatched")
	}
	if strings.Contains(resp.Failure.Message, "additionalProperties") {
		t.Errorf("failure message leaks schema details: %q", resp.Failure.Message)
	}
}

func TestSupervisor_ToolFromAnotherDomainIsRejected(t *testing.T) {
	p := &scriptedProvider{
		classifications: []completion.Classification{classify(capability.DomainLiveTV, 0.9)},
		proposals: []completion.Proposal{
			call("get_users", `{}`),
			final("I can only see channels."),
		},
	}
	exec := newRecordingExecutor()
	h := newHarness(t, p, exec)

	resp := h.handle(t, task.Request{Text: "who is on channel 5"})

	if exec.count("get_users") != 0 {
		t.Fatal("tool outside the delegated slice was dispatched")
	}
	if len(resp.Trace) != 1 || resp.Trace[0].Result.Kind != trace.KindValidation {
		t.Fatalf("expected a ValidationError entry, got %+v", resp.Trace)
	}
}

func TestSupervisor_NonInteractiveDestructiveRefused(t *testing.T) {
	p := &scriptedProvider{
		classifications: []completion.Classification{classify(capability.DomainSystem, 0.9)},
		proposals:       []completion.Proposal{call("restart_application", `{}`)},
	}
	exec := newRecordingExecutor()
	h := newHarness(t, p, exec)

	resp := h.handle(t, task.Request{Text: "tell me about the server", Interactive: boolPtr(false)})

	if resp.Status != task.ResponseFailed || resp.Failure.Kind != failure.KindDestructiveRefused {
		t.Fatalf("expected DestructiveActionRefused, got %s %+v", resp.Status, resp.Failure)
	}
	if exec.count("restart_application") != 0 {
		t.Fatal("destructive call dispatched without instruction")
	}
}

func TestSupervisor_InformationalRequestNeverDispatchesDestructive(t *testing.T) {
	p := &scriptedProvider{
		classifications: []completion.Classification{classify(capability.DomainSystem, 0.9)},
		proposals:       []completion.Proposal{call("restart_application", `{}`)},
	}
	exec := newRecordingExecutor()
	h := newHarness(t, p, exec)

	resp := h.handle(t, task.Request{Text: "tell me about the server"})

	if resp.Status != task.ResponseNeedsConfirmation {
		t.Fatalf("expected confirmation request, got %s", resp.Status)
	}
	if exec.total() != 0 {
		t.Fatal("destructive call dispatched for an informational request")
	}
}

func TestSupervisor_VerbAsNounAsksForConfirmation(t *testing.T) {
	p := &scriptedProvider{
		classifications: []completion.Classification{classify(capability.DomainSystem, 0.9)},
		proposals:       []completion.Proposal{call("restart_application", `{}`)},
	}
	exec := newRecordingExecutor()
	h := newHarness(t, p, exec)

	resp := h.handle(t, task.Request{Text: "show me the restart history of the server"})

	if resp.Status != task.ResponseNeedsConfirmation {
		t.Fatalf("expected confirmation request, got %s %+v", resp.Status, resp.Failure)
	}
	if resp.Confirmation == nil || resp.Confirmation.Tool != "restart_application" {
		t.Fatalf("expected restart_application confirmation, got %+v", resp.Confirmation)
	}
	if exec.total() != 0 {
		t.Fatal("restart dispatched for a history request")
	}
}

func TestSupervisor_ExplicitInstructionRunsWithoutConfirmation(t *testing.T) {
	p := &scriptedProvider{
		classifications: []completion.Classification{classify(capability.DomainSystem, 0.9)},
		proposals:       []completion.Proposal{call("restart_application", `{}`), final("Restarting.")},
	}
	exec := newRecordingExecutor()
	h := newHarness(t, p, exec)

	resp := h.handle(t, task.Request{Text: "Restart the Jellyfin server now", Interactive: boolPtr(false)})

	if resp.Status != task.ResponseDone {
		t.Fatalf("expected done, got %s %+v", resp.Status, resp.Failure)
	}
	if exec.count("restart_application") != 1 {
		t.Fatal("expected the explicitly requested restart to run")
	}
}

func TestSupervisor_ProviderErrorIsRemoteError(t *testing.T) {
	p := &scriptedProvider{classifyErr: errors.New("connection refused")}
	h := newHarness(t, p, newRecordingExecutor())

	resp := h.handle(t, task.Request{Text: "play something"})

	if resp.Status != task.ResponseFailed || resp.Failure.Kind != failure.KindRemoteError {
		t.Fatalf("expected RemoteError, got %s %+v", resp.Status, resp.Failure)
	}
	if strings.Contains(resp.Failure.Message, "connection refused") {
		t.Error("failure message leaks transport details")
	}
}

func TestSupervisor_TaskTimeoutKeepsPartialTrace(t *testing.T) {
	p := &scriptedProvider{
		classifications: []completion.Classification{classify(capability.DomainLiveTV, 0.9)},
		proposeFn: func(completion.ActionRequest) (completion.Proposal, error) {
			time.Sleep(40 * time.Millisecond)
			return call("get_live_tv_channels", `{}`), nil
		},
	}
	h := newHarness(t, p, newRecordingExecutor(), func(c *config.Config) {
		c.Task.Timeout = 100 * time.Millisecond
		c.Executor.MaxIterations = 50
	})

	resp := h.handle(t, task.Request{Text: "list channels"})

	if resp.Status != task.ResponseFailed || resp.Failure.Kind != failure.KindTimeout {
		t.Fatalf("expected Timeout, got %s %+v", resp.Status, resp.Failure)
	}
	if len(resp.Trace) == 0 {
		t.Error("expected the partial trace to be kept")
	}
}

func TestSupervisor_CancelledContext(t *testing.T) {
	p := &scriptedProvider{classifications: []completion.Classification{classify(capability.DomainMedia, 0.9)}}
	h := newHarness(t, p, newRecordingExecutor())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp, err := h.sup.Handle(ctx, task.Request{Text: "play a movie"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.Status != task.ResponseFailed || resp.Failure.Kind != failure.KindCancelled {
		t.Fatalf("expected Cancelled, got %s %+v", resp.Status, resp.Failure)
	}
}

func TestSupervisor_InvalidRequest(t *testing.T) {
	h := newHarness(t, &scriptedProvider{}, newRecordingExecutor())
	_, err := h.sup.Handle(context.Background(), task.Request{Text: "   "})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSupervisor_GetUnknownTask(t *testing.T) {
	h := newHarness(t, &scriptedProvider{}, newRecordingExecutor())
	_, err := h.sup.Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSupervisor_DomainsCoverFixedSet(t *testing.T) {
	h := newHarness(t, &scriptedProvider{}, newRecordingExecutor())
	summaries := h.sup.Domains()
	if len(summaries) != len(capability.Domains()) {
		t.Fatalf("expected %d domains, got %d", len(capability.Domains()), len(summaries))
	}
	for _, s := range summaries {
		if s.Tools == 0 {
			t.Errorf("domain %s has no tools", s.Name)
		}
	}
}
