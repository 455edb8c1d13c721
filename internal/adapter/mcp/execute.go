package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"syscall"
	"time"

	mcpprotocol "github.com/mark3labs/mcp-go/mcp"

	"github.com/Strob0t/JellyRoute/internal/domain/mcp"
	"github.com/Strob0t/JellyRoute/internal/domain/trace"
	"github.com/Strob0t/JellyRoute/internal/resilience"
)

// errToolFailed marks a tool error reported by a healthy server.
var errToolFailed = errors.New("tool returned an error")

// Execute calls the named tool with canonical JSON arguments and maps the
// outcome onto a ToolResult. It never returns a Go error: every failure is
// classified into a trace.ErrorKind.
func (c *Client) Execute(ctx context.Context, name string, args json.RawMessage, timeout time.Duration) trace.Result {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	arguments, err := c.encodeArguments(name, args)
	if err != nil {
		return trace.Failure(trace.KindValidation, err.Error())
	}

	req := mcpprotocol.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments

	var res *mcpprotocol.CallToolResult
	call := func() error {
		var callErr error
		res, callErr = c.mc.CallTool(ctx, req)
		if callErr != nil {
			return callErr
		}
		if res.IsError {
			return resilience.Healthy(errToolFailed)
		}
		return nil
	}
	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}

	switch {
	case err == nil:
		c.setStatus(mcp.ServerStatusConnected)
		return trace.Success(resultText(res))
	case errors.Is(err, errToolFailed):
		text := resultText(res)
		return trace.Failure(classifyToolError(text), text)
	default:
		out := classifyTransportError(err)
		if out.Network {
			c.setStatus(mcp.ServerStatusError)
		}
		slog.WarnContext(ctx, "mcp call failed", "tool", name, "kind", out.Kind, "network", out.Network, "error", err)
		return out
	}
}

// encodeArguments decodes canonical arguments and nests every body
// parameter of the tool under "body", the layout the Jellyfin MCP server
// expects for request bodies.
func (c *Client) encodeArguments(name string, args json.RawMessage) (map[string]any, error) {
	flat := map[string]any{}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &flat); err != nil {
			return nil, err
		}
	}
	if c.registry == nil {
		return flat, nil
	}
	spec, err := c.registry.Lookup(name)
	if err != nil {
		return flat, nil
	}

	out := make(map[string]any, len(flat))
	body := map[string]any{}
	for k, v := range flat {
		if p, ok := spec.Params[k]; ok && p.InBody() {
			body[k] = v
			continue
		}
		out[k] = v
	}
	if len(body) > 0 {
		out["body"] = body
	}
	return out, nil
}

// resultText concatenates the text content of a tool result. Structured
// content is used when the server sends no text.
func resultText(res *mcpprotocol.CallToolResult) string {
	if res == nil {
		return ""
	}
	var parts []string
	for _, content := range res.Content {
		if tc, ok := mcpprotocol.AsTextContent(content); ok {
			parts = append(parts, tc.Text)
		}
	}
	if len(parts) == 0 && res.StructuredContent != nil {
		b, err := json.Marshal(res.StructuredContent)
		if err == nil {
			return string(b)
		}
	}
	return strings.Join(parts, "\n")
}

var (
	reUnauthorized = regexp.MustCompile(`(?i)\b(401|403|unauthori[sz]ed|forbidden)\b`)
	reNotFound     = regexp.MustCompile(`(?i)\b(404|not found)\b`)
	reConflict     = regexp.MustCompile(`(?i)\b(409|conflict)\b`)
	reTimeout      = regexp.MustCompile(`(?i)\b(408|504|timeout|timed out)\b`)
	reValidation   = regexp.MustCompile(`(?i)\b(400|422|bad request|invalid|validation)\b`)
)

// classifyToolError maps the error text of a tool result onto a failure
// kind. The Jellyfin MCP server reports upstream HTTP failures as text.
func classifyToolError(text string) trace.ErrorKind {
	switch {
	case reUnauthorized.MatchString(text):
		return trace.KindUnauthorized
	case reNotFound.MatchString(text):
		return trace.KindNotFound
	case reConflict.MatchString(text):
		return trace.KindConflict
	case reTimeout.MatchString(text):
		return trace.KindTimeout
	case reValidation.MatchString(text):
		return trace.KindValidation
	default:
		return trace.KindRemote
	}
}

// classifyTransportError maps a client error. Network marks failures where
// the call may not have reached the server.
func classifyTransportError(err error) trace.Result {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		r := trace.Failure(trace.KindTimeout, "tool call timed out")
		r.Network = true
		return r
	case errors.Is(err, resilience.ErrCircuitOpen):
		return trace.Failure(trace.KindRemote, "tool server unavailable (circuit open)")
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.As(err, &netErr):
		r := trace.Failure(trace.KindRemote, "tool server connection failed")
		r.Network = true
		return r
	default:
		return trace.Failure(trace.KindRemote, err.Error())
	}
}
