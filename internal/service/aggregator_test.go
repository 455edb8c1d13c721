package service_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/JellyRoute/internal/domain/failure"
	"github.com/Strob0t/JellyRoute/internal/domain/task"
	"github.com/Strob0t/JellyRoute/internal/domain/trace"
	"github.com/Strob0t/JellyRoute/internal/service"
)

func TestFailureMessage(t *testing.T) {
	tests := []struct {
		name       string
		kind       failure.Kind
		lastAction string
		want       string
	}{
		{"with last action", failure.KindLoopBudgetExceeded, "Gets a live tv channel",
			"The request needed more steps than allowed (last action: Gets a live tv channel)."},
		{"without last action", failure.KindTimeout, "", "The request took too long."},
		{"ambiguous intent without action", failure.KindAmbiguousIntent, "",
			"I could not tell what you want to do. Please rephrase the request with more detail."},
		{"routing loop after dispatched calls", failure.KindRoutingLoopExceeded, "Gets live tv channels",
			"None of the available areas (media, system, users, live TV, devices) could handle this request (last action: Gets live tv channels)."},
		{"configuration with action", failure.KindConfiguration, "Gets users",
			"The router is misconfigured and cannot handle requests right now (last action: Gets users)."},
		{"unknown kind", failure.Kind("Bogus"), "", "Something went wrong while handling the request."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := service.FailureMessage(tt.kind, tt.lastAction); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildResponse_FailureHidesCause(t *testing.T) {
	tk := task.New("t1", task.Request{SessionID: "s", Text: "list users"}, time.Now())
	tr := &trace.Trace{}
	fe := failure.New(failure.KindRemoteError, "Gets users", errors.New("dial tcp 10.0.0.5:8096: connection refused"))

	resp := service.BuildResponse(tk, tr, service.Aggregate{Fail: fe})

	if resp.Status != task.ResponseFailed {
		t.Fatalf("expected failed, got %s", resp.Status)
	}
	if strings.Contains(resp.Failure.Message, "10.0.0.5") {
		t.Errorf("message leaks transport detail: %q", resp.Failure.Message)
	}
	if resp.Failure.LastAction != "Gets users" {
		t.Errorf("expected last action, got %q", resp.Failure.LastAction)
	}
}

func TestBuildResponse_Outcomes(t *testing.T) {
	tk := task.New("t2", task.Request{Text: "hi"}, time.Now())
	tr := &trace.Trace{}

	if r := service.BuildResponse(tk, tr, service.Aggregate{Answer: "hello"}); r.Status != task.ResponseDone || r.Answer != "hello" {
		t.Errorf("answer: got %+v", r)
	}
	if r := service.BuildResponse(tk, tr, service.Aggregate{Question: "which?"}); r.Status != task.ResponseNeedsClarification || r.Clarification != "which?" {
		t.Errorf("question: got %+v", r)
	}
	conf := &task.ConfirmationRequest{Tool: "delete_user", Prompt: "sure?"}
	if r := service.BuildResponse(tk, tr, service.Aggregate{Confirmation: conf}); r.Status != task.ResponseNeedsConfirmation || r.Confirmation != conf {
		t.Errorf("confirmation: got %+v", r)
	}
}
