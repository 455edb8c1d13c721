package task

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/JellyRoute/internal/domain"
	"github.com/Strob0t/JellyRoute/internal/domain/capability"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"ok", Request{Text: "play music"}, false},
		{"blank", Request{Text: "  \n"}, true},
		{"too long", Request{Text: strings.Repeat("a", MaxTextLength+1)}, true},
		{"bad role", Request{Text: "hi", Turns: []Turn{{Role: "system", Content: "x"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestRequestInteractiveDefault(t *testing.T) {
	if !(Request{}).IsInteractive() {
		t.Error("nil Interactive should mean interactive")
	}
	off := false
	if (Request{Interactive: &off}).IsInteractive() {
		t.Error("explicit false ignored")
	}
}

func TestNew_PlainRequest(t *testing.T) {
	tk := New("t1", Request{SessionID: "s", Text: "list channels"}, now)
	if tk.Status != StatusReceived || tk.FollowUp {
		t.Fatalf("unexpected task %+v", tk)
	}
	conv := tk.Conversation()
	if len(conv) != 1 || conv[0].Content != "list channels" || conv[0].Role != RoleUser {
		t.Errorf("unexpected conversation %+v", conv)
	}
}

func TestNew_ClarificationReplyIsFolded(t *testing.T) {
	tk := New("t1", Request{
		Text: "the bedroom TV",
		Turns: []Turn{
			{Role: RoleUser, Kind: TurnMessage, Content: "turn it off"},
			{Role: RoleAssistant, Kind: TurnClarification, Content: "Which device?"},
		},
	}, now)

	if !tk.FollowUp {
		t.Fatal("expected a follow-up task")
	}
	if tk.Text != "turn it off\nthe bedroom TV" {
		t.Errorf("unexpected text %q", tk.Text)
	}
	if !tk.Clarified() {
		t.Error("expected Clarified")
	}
	conv := tk.Conversation()
	if len(conv) != 3 || conv[2].Content != "the bedroom TV" {
		t.Errorf("reply should close the history exactly once: %+v", conv)
	}
}

func TestNew_ConfirmationReplyKeepsOriginalText(t *testing.T) {
	tk := New("t1", Request{
		Text: "yes",
		Turns: []Turn{
			{Role: RoleUser, Content: "Delete user Bob"},
			{Role: RoleAssistant, Kind: TurnConfirmationRequest, Tool: "delete_user", Content: "Sure?"},
		},
	}, now)
	if tk.Text != "Delete user Bob" || !tk.FollowUp {
		t.Fatalf("unexpected task text %q follow-up %v", tk.Text, tk.FollowUp)
	}
	if tk.Clarified() {
		t.Error("a confirmation is not a clarification")
	}
}

func TestNew_ConfirmationAfterClarificationKeepsWholeRequest(t *testing.T) {
	tk := New("t1", Request{
		Text: "yes",
		Turns: []Turn{
			{Role: RoleAssistant, Kind: TurnMessage, Content: "earlier answer"},
			{Role: RoleUser, Kind: TurnMessage, Content: "delete the user"},
			{Role: RoleAssistant, Kind: TurnClarification, Content: "Which user?"},
			{Role: RoleUser, Kind: TurnMessage, Content: "Bob"},
			{Role: RoleAssistant, Kind: TurnConfirmationRequest, Tool: "delete_user", Content: "Delete Bob?"},
		},
	}, now)
	if tk.Text != "delete the user\nBob" {
		t.Fatalf("text = %q", tk.Text)
	}
	if !tk.Clarified() {
		t.Error("clarification in history not detected")
	}
}

func TestNew_ReplyWithoutOriginalIsPlain(t *testing.T) {
	tk := New("t1", Request{
		Text:  "hello",
		Turns: []Turn{{Role: RoleAssistant, Kind: TurnClarification, Content: "?"}},
	}, now)
	if tk.FollowUp || tk.Text != "hello" {
		t.Fatalf("unexpected task %+v", tk)
	}
}

func TestNew_DoesNotAliasRequestTurns(t *testing.T) {
	turns := []Turn{
		{Role: RoleUser, Content: "fix it"},
		{Role: RoleAssistant, Kind: TurnClarification, Content: "What?"},
	}
	req := Request{Text: "the lights", Turns: turns}
	_ = New("t1", req, now)
	if len(req.Turns) != 2 {
		t.Fatal("request turns modified")
	}
}

func TestTransition(t *testing.T) {
	tk := New("t1", Request{Text: "x"}, now)
	path := []Status{StatusClassifying, StatusDelegated, StatusAwaitingResult, StatusAggregating, StatusDone}
	for _, s := range path {
		if err := tk.Transition(s, now); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	if err := tk.Transition(StatusFailed, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("terminal task must not fail, got %v", err)
	}
}

func TestTransition_Invalid(t *testing.T) {
	tk := New("t1", Request{Text: "x"}, now)
	if err := tk.Transition(StatusDone, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := tk.Transition(StatusFailed, now); err != nil {
		t.Fatalf("any live task may fail: %v", err)
	}
}

func TestDelegateAndReroutes(t *testing.T) {
	tk := New("t1", Request{Text: "x"}, now)
	if tk.Reroutes() != 0 {
		t.Fatal("fresh task has no reroutes")
	}
	if err := tk.Delegate(Delegation{Domain: capability.DomainMedia}); err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	if err := tk.Delegate(Delegation{Domain: capability.DomainLiveTV}); err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	if tk.Domain != capability.DomainLiveTV || tk.Reroutes() != 1 {
		t.Errorf("unexpected domain %s reroutes %d", tk.Domain, tk.Reroutes())
	}
	if tk.Delegations[0].TaskID != "t1" {
		t.Error("delegation not stamped with task id")
	}
	if err := tk.Delegate(Delegation{Domain: "cooking"}); err == nil {
		t.Error("expected error for unknown domain")
	}
}

func TestFollowUpTurn(t *testing.T) {
	resp := &Response{
		Status:       ResponseNeedsConfirmation,
		Confirmation: &ConfirmationRequest{Tool: "delete_user", Fingerprint: "abc", Prompt: "Sure?"},
	}
	turn := resp.FollowUpTurn()
	if turn.Kind != TurnConfirmationRequest || turn.Tool != "delete_user" || turn.Fingerprint != "abc" {
		t.Errorf("unexpected turn %+v", turn)
	}
}
