// Package mcp describes the MCP tool server the Tool Execution Layer talks
// to, independent of the transport library.
package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Strob0t/JellyRoute/internal/domain"
)

// TransportType identifies the communication transport for an MCP server.
type TransportType string

const (
	TransportStdio          TransportType = "stdio"
	TransportSSE            TransportType = "sse"
	TransportStreamableHTTP TransportType = "http"
)

var validTransports = map[TransportType]bool{
	TransportStdio:          true,
	TransportSSE:            true,
	TransportStreamableHTTP: true,
}

// ServerStatus represents the connection state of the tool server.
type ServerStatus string

const (
	ServerStatusRegistered   ServerStatus = "registered"
	ServerStatusConnected    ServerStatus = "connected"
	ServerStatusDisconnected ServerStatus = "disconnected"
	ServerStatusError        ServerStatus = "error"
)

// ServerDef describes how to reach the tool server.
type ServerDef struct {
	Name      string            `json:"name"`
	Transport TransportType     `json:"transport"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	URL       string            `json:"url,omitempty"`
	Env       []string          `json:"env,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// ServerTool describes a tool exposed by the server.
type ServerTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ResolveTransport fills in an empty transport: a command means stdio, a URL
// mentioning "sse" means SSE, anything else streamable HTTP.
func (s *ServerDef) ResolveTransport() {
	if s.Transport != "" {
		return
	}
	switch {
	case s.Command != "" && s.URL == "":
		s.Transport = TransportStdio
	case strings.Contains(strings.ToLower(s.URL), "sse"):
		s.Transport = TransportSSE
	default:
		s.Transport = TransportStreamableHTTP
	}
}

// Validate checks that the ServerDef has all required fields and consistent
// transport-specific configuration. Returns a domain.ErrValidation-wrapped
// error on failure.
func (s *ServerDef) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	if s.Transport == "" {
		return fmt.Errorf("%w: transport is required", domain.ErrValidation)
	}
	if !validTransports[s.Transport] {
		return fmt.Errorf("%w: invalid transport %q (must be \"stdio\", \"sse\" or \"http\")", domain.ErrValidation, s.Transport)
	}

	switch s.Transport {
	case TransportStdio:
		if s.Command == "" {
			return fmt.Errorf("%w: command is required for stdio transport", domain.ErrValidation)
		}
	case TransportSSE, TransportStreamableHTTP:
		if s.URL == "" {
			return fmt.Errorf("%w: url is required for %s transport", domain.ErrValidation, s.Transport)
		}
	}
	return nil
}
