// Package llm defines the model-provider port and its OpenAI adapter.
package llm

import (
	"context"

	"github.com/parley-ai/parley/internal/domain"
	"github.com/parley-ai/parley/pkg/tools"
)

// ChunkKind classifies one unit of the provider stream.
type ChunkKind string

const (
	ChunkText     ChunkKind = "text"
	ChunkToolCall ChunkKind = "tool_call"
	ChunkUsage    ChunkKind = "usage"
	ChunkError    ChunkKind = "error"
)

// Chunk is one unit from the provider stream. Tool-call chunks carry the
// complete call: adapters accumulate partial argument deltas internally and
// emit a tool_call only once arguments are whole.
type Chunk struct {
	Kind         ChunkKind
	Text         string
	ToolCallID   string
	ToolName     string
	Args         map[string]any
	Usage        domain.TokenUsage
	FinishReason string
	ErrMessage   string
}

// ChunkStream is an ordered provider chunk sequence. Recv returns io.EOF
// after the final chunk.
type ChunkStream interface {
	Recv() (*Chunk, error)
	Close() error
}

// Provider is the abstract model-provider contract: given message history,
// tool catalog and model id, it produces an ordered chunk stream. It is a
// minimal surface that is easy to mock in tests.
type Provider interface {
	StreamCompletion(ctx context.Context, messages []*domain.Message, defs []tools.Definition, model string) (ChunkStream, error)
}
