// Package tools provides the tool registry used to answer model tool calls:
// a Tool interface, a Manager that registers and executes tools, and the
// built-in implementations (OpenMeteo weather, MCP-discovered tools).
package tools

import "context"

// Tool is the interface for all tools.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON-schema-like parameter description advertised
	// to the model provider.
	Schema() map[string]any
	// Run executes the tool with already-parsed arguments.
	Run(ctx context.Context, args map[string]any) (any, error)
}

// Definition is the provider-facing description of a registered tool.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}
