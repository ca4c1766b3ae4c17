package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/logger"
)

// MCPClient is the subset of the mcp-go client this package uses.
type MCPClient interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// MCPTool adapts one tool discovered on an MCP server to the Tool interface.
type MCPTool struct {
	name        string
	description string
	schema      map[string]any
	client      MCPClient
}

func (t *MCPTool) Name() string           { return t.name }
func (t *MCPTool) Description() string    { return t.description }
func (t *MCPTool) Schema() map[string]any { return t.schema }

// Run forwards the call to the owning MCP server. Textual content is
// preferred; when it parses as JSON the decoded value is returned so results
// stay structured on the wire.
func (t *MCPTool) Run(ctx context.Context, args map[string]any) (any, error) {
	result, err := t.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: t.name, Arguments: args},
	})
	if err != nil {
		return nil, err
	}
	text := firstTextContent(result.Content)
	if result.IsError {
		if text == "" {
			text = "tool reported an error without details"
		}
		return nil, errors.New(text)
	}
	if text == "" {
		raw, merr := json.Marshal(result)
		if merr != nil {
			return nil, fmt.Errorf("format tool result: %w", merr)
		}
		return string(raw), nil
	}
	if json.Valid([]byte(text)) {
		var decoded any
		if err := json.Unmarshal([]byte(text), &decoded); err == nil {
			return decoded, nil
		}
	}
	return text, nil
}

func firstTextContent(content []mcp.Content) string {
	for _, item := range content {
		if tc, ok := item.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// RegisterMCPServers connects each configured server, discovers its tools and
// registers them on the manager. Unreachable servers are skipped with a log
// line; the returned closers shut the surviving connections down.
func RegisterMCPServers(ctx context.Context, m *Manager, servers []config.MCPServerConfig) []io.Closer {
	var closers []io.Closer
	for _, cfg := range servers {
		c, err := dialMCP(ctx, cfg)
		if err != nil {
			logger.L.Error("mcp server unavailable, skipping", "name", cfg.Name, "error", err)
			continue
		}
		n, err := RegisterMCPTools(ctx, m, c)
		if err != nil {
			logger.L.Warn("mcp tool discovery failed", "name", cfg.Name, "error", err)
		}
		logger.L.Info("mcp server connected", "name", cfg.Name, "tools", n)
		closers = append(closers, c)
	}
	return closers
}

// RegisterMCPTools lists the tools of one connected client and registers them.
func RegisterMCPTools(ctx context.Context, m *Manager, c MCPClient) (int, error) {
	listed, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return 0, err
	}
	registered := 0
	for _, t := range listed.Tools {
		m.Register(&MCPTool{
			name:        t.Name,
			description: t.Description,
			schema:      mcpToolSchema(t),
			client:      c,
		})
		registered++
	}
	return registered, nil
}

func dialMCP(ctx context.Context, cfg config.MCPServerConfig) (*client.Client, error) {
	var c *client.Client
	var err error
	switch cfg.Type {
	case config.ClientTypeSSE:
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(cfg.Headers))
		}
		c, err = client.NewSSEMCPClient(cfg.URL, opts...)
	case config.ClientTypeStreamableHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		c, err = client.NewStreamableHttpClient(cfg.URL, opts...)
	case config.ClientTypeStdio:
		var env []string
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		c, err = client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	default:
		return nil, fmt.Errorf("unsupported mcp server type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	// Stdio transports are started by their constructor.
	if cfg.Type != config.ClientTypeStdio {
		if err := c.Start(ctx); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("start transport: %w", err)
		}
	}
	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{Capabilities: mcp.ClientCapabilities{}},
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return c, nil
}

// mcpToolSchema extracts the advertised parameter schema, preferring the raw
// JSON form, and falls back to an empty object schema.
func mcpToolSchema(t mcp.Tool) map[string]any {
	raw := t.RawInputSchema
	if len(raw) == 0 || string(raw) == "null" {
		if b, err := json.Marshal(t.InputSchema); err == nil {
			raw = b
		}
	}
	var schema map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &schema); err != nil {
			logger.L.Warn("unparseable mcp tool schema, using empty object", "tool", t.Name, "error", err)
		}
	}
	if len(schema) == 0 {
		schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return schema
}
