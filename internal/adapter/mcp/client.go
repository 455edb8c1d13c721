// Package mcp implements the Tool Execution Layer on top of a Jellyfin MCP
// server, using the mark3labs/mcp-go client.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Masterminds/semver/v3"
	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpprotocol "github.com/mark3labs/mcp-go/mcp"

	"github.com/Strob0t/JellyRoute/internal/config"
	"github.com/Strob0t/JellyRoute/internal/domain/capability"
	"github.com/Strob0t/JellyRoute/internal/domain/mcp"
	"github.com/Strob0t/JellyRoute/internal/resilience"
)

// TokenHeader carries the Jellyfin API token to the MCP server.
const TokenHeader = "X-Emby-Token"

// ErrIncompatibleServer is returned when the server version does not satisfy
// mcp.min_server_version.
var ErrIncompatibleServer = errors.New("incompatible mcp server")

// Client is a connected MCP session. It implements toolexec.Executor.
type Client struct {
	def      mcp.ServerDef
	mc       mcpclient.MCPClient
	registry *capability.Registry
	breaker  *resilience.Breaker

	mu     sync.Mutex
	status mcp.ServerStatus
	info   mcpprotocol.Implementation
}

// DefFromConfig builds the server definition for cfg.
func DefFromConfig(cfg *config.MCP) mcp.ServerDef {
	headers := make(map[string]string, len(cfg.Headers)+1)
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if cfg.Token != "" {
		headers[TokenHeader] = cfg.Token
	}
	def := mcp.ServerDef{
		Name:      "jellyfin",
		Transport: mcp.TransportType(cfg.Transport),
		Command:   cfg.Command,
		Args:      cfg.Args,
		URL:       cfg.URL,
		Env:       cfg.Env,
		Headers:   headers,
	}
	def.ResolveTransport()
	return def
}

// Connect opens the session, performs the initialize handshake and checks
// the server version. registry supplies parameter locations for argument
// encoding; breaker may be nil.
func Connect(
	ctx context.Context,
	cfg *config.MCP,
	registry *capability.Registry,
	breaker *resilience.Breaker,
	clientName, clientVersion string,
) (*Client, error) {
	def := DefFromConfig(cfg)
	if err := def.Validate(); err != nil {
		return nil, err
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	mc, err := createClient(&def)
	if err != nil {
		return nil, fmt.Errorf("create mcp client: %w", err)
	}
	if def.Transport == mcp.TransportSSE {
		if err := mc.Start(ctx); err != nil {
			_ = mc.Close()
			return nil, fmt.Errorf("start mcp transport: %w", err)
		}
	}

	initReq := mcpprotocol.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpprotocol.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpprotocol.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}
	initResult, err := mc.Initialize(ctx, initReq)
	if err != nil {
		_ = mc.Close()
		return nil, fmt.Errorf("mcp initialize: %w", err)
	}

	if err := checkVersion(cfg.MinServerVersion, initResult.ServerInfo.Version); err != nil {
		_ = mc.Close()
		return nil, err
	}

	slog.Info("mcp connected",
		"transport", def.Transport,
		"server", initResult.ServerInfo.Name,
		"version", initResult.ServerInfo.Version,
	)
	return &Client{
		def:      def,
		mc:       mc,
		registry: registry,
		breaker:  breaker,
		status:   mcp.ServerStatusConnected,
		info:     initResult.ServerInfo,
	}, nil
}

// createClient builds an mcp-go Client for the given server definition.
func createClient(def *mcp.ServerDef) (*mcpclient.Client, error) {
	switch def.Transport {
	case mcp.TransportStdio:
		return mcpclient.NewStdioMCPClient(def.Command, def.Env, def.Args...)

	case mcp.TransportSSE:
		var opts []transport.ClientOption
		if len(def.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(def.Headers))
		}
		return mcpclient.NewSSEMCPClient(def.URL, opts...)

	case mcp.TransportStreamableHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(def.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(def.Headers))
		}
		return mcpclient.NewStreamableHttpClient(def.URL, opts...)

	default:
		return nil, fmt.Errorf("unsupported transport: %s", def.Transport)
	}
}

// checkVersion enforces an optional semver constraint on the server version.
func checkVersion(constraint, version string) error {
	if constraint == "" {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("mcp.min_server_version %q: %w", constraint, err)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: server version %q is not semver", ErrIncompatibleServer, version)
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: server version %s does not satisfy %s", ErrIncompatibleServer, v, constraint)
	}
	return nil
}

// ServerInfo returns the name and version reported at initialize.
func (c *Client) ServerInfo() (name, version string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info.Name, c.info.Version
}

// Status reports the connection state.
func (c *Client) Status() mcp.ServerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) setStatus(s mcp.ServerStatus) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// ListTools returns the tools the server exposes.
func (c *Client) ListTools(ctx context.Context) ([]mcp.ServerTool, error) {
	res, err := c.mc.ListTools(ctx, mcpprotocol.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcp tools/list: %w", err)
	}
	out := make([]mcp.ServerTool, 0, len(res.Tools))
	for i := range res.Tools {
		schema, _ := json.Marshal(res.Tools[i].InputSchema)
		out = append(out, mcp.ServerTool{
			Name:        res.Tools[i].Name,
			Description: res.Tools[i].Description,
			InputSchema: schema,
		})
	}
	return out, nil
}

// Close ends the session.
func (c *Client) Close() error {
	c.setStatus(mcp.ServerStatusDisconnected)
	return c.mc.Close()
}
