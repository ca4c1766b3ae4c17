package tools

import (
	"context"

	"github.com/parley-ai/parley/internal/domain"
	"github.com/parley-ai/parley/internal/logger"
)

// Manager manages the available tools.
type Manager struct {
	tools map[string]Tool
	order []string
}

// NewManager creates an empty tool registry.
func NewManager() *Manager {
	return &Manager{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering a name twice keeps the first tool, so
// tools from later sources (e.g. MCP servers) cannot shadow built-ins.
func (m *Manager) Register(tool Tool) {
	if _, exists := m.tools[tool.Name()]; exists {
		logger.L.Warn("tool already registered, skipping", "tool", tool.Name())
		return
	}
	m.tools[tool.Name()] = tool
	m.order = append(m.order, tool.Name())
}

// Has reports whether a tool is registered under name.
func (m *Manager) Has(name string) bool {
	_, ok := m.tools[name]
	return ok
}

// Execute runs the named tool. A missing tool yields a ToolNotFoundError;
// a failure inside the tool is wrapped in a ToolExecutionError.
func (m *Manager) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	tool, ok := m.tools[name]
	if !ok {
		return nil, &domain.ToolNotFoundError{Name: name}
	}
	result, err := tool.Run(ctx, args)
	if err != nil {
		return nil, &domain.ToolExecutionError{Tool: name, Err: err}
	}
	return result, nil
}

// Definitions returns provider-facing descriptions of all registered tools,
// in registration order.
func (m *Manager) Definitions() []Definition {
	defs := make([]Definition, 0, len(m.order))
	for _, name := range m.order {
		t := m.tools[name]
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return defs
}
