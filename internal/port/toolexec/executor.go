// Package toolexec defines the Tool Execution Layer port: the only way the
// router reaches the media server.
package toolexec

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Strob0t/JellyRoute/internal/domain/trace"
)

// Executor invokes one tool. Implementations never panic or return Go
// errors for remote failures: every outcome is a classified trace.Result.
// A call exceeding timeout yields a Timeout result.
type Executor interface {
	Execute(ctx context.Context, name string, args json.RawMessage, timeout time.Duration) trace.Result
}

// Func adapts a function to the Executor interface.
type Func func(ctx context.Context, name string, args json.RawMessage, timeout time.Duration) trace.Result

// Execute calls f.
func (f Func) Execute(ctx context.Context, name string, args json.RawMessage, timeout time.Duration) trace.Result {
	return f(ctx, name, args, timeout)
}
