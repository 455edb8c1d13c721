package failure_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Strob0t/JellyRoute/internal/domain/failure"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want failure.Kind
	}{
		{"nil", nil, ""},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), failure.KindTimeout},
		{"cancel", context.Canceled, failure.KindCancelled},
		{"wrapped failure", fmt.Errorf("outer: %w", failure.New(failure.KindRemoteError, "", nil)), failure.KindRemoteError},
		{"plain", errors.New("boom"), failure.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := failure.KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFrom_KeepsExistingFailure(t *testing.T) {
	orig := failure.New(failure.KindLoopBudgetExceeded, "Gets users", nil)
	if got := failure.From(orig, "Gets devices"); got != orig {
		t.Fatalf("expected the original failure, got %+v", got)
	}
}

func TestFrom_FillsMissingLastAction(t *testing.T) {
	orig := failure.New(failure.KindTimeout, "", context.DeadlineExceeded)
	got := failure.From(orig, "Gets devices")
	if got.LastAction != "Gets devices" || got.Kind != failure.KindTimeout {
		t.Fatalf("unexpected failure %+v", got)
	}
	if !errors.Is(got, context.DeadlineExceeded) {
		t.Error("cause lost")
	}
}

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("wrap: %w", failure.Errorf(failure.KindAmbiguousIntent, "", "no domain"))
	if !errors.Is(err, &failure.Error{Kind: failure.KindAmbiguousIntent}) {
		t.Error("expected kind match")
	}
	if errors.Is(err, &failure.Error{Kind: failure.KindTimeout}) {
		t.Error("unexpected kind match")
	}
}

func TestError_Message(t *testing.T) {
	err := failure.Errorf(failure.KindRemoteError, "Gets users", "status %d", 502)
	if got := err.Error(); got != "RemoteError after Gets users: status 502" {
		t.Errorf("unexpected message %q", got)
	}
}
