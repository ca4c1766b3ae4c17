// Package service contains the streaming-completion use case: it drives a
// model-provider chunk stream through the conversation's entities, executes
// tools, and mirrors every event onto the wire.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/parley-ai/parley/internal/domain"
	"github.com/parley-ai/parley/internal/llm"
	"github.com/parley-ai/parley/internal/logger"
	"github.com/parley-ai/parley/internal/protocol"
	"github.com/parley-ai/parley/internal/store"
	"github.com/parley-ai/parley/pkg/tools"
)

// StreamingCompletionService orchestrates one streaming turn: load the
// conversation, stream provider chunks, fold the result back into the
// conversation, execute tool calls sequentially, and emit protocol frames.
//
// The conversation is persisted twice per tool-bearing turn — after the
// assistant message and after each tool result — so a crash mid-turn leaves
// an append-only-consistent history instead of losing the assistant's
// tool-call intent.
type StreamingCompletionService struct {
	store    store.ConversationStore
	provider llm.Provider
	registry *tools.Manager
	orch     domain.Orchestrator
	model    string
}

// NewStreamingCompletionService wires the use case.
func NewStreamingCompletionService(st store.ConversationStore, provider llm.Provider, registry *tools.Manager, model string) *StreamingCompletionService {
	return &StreamingCompletionService{store: st, provider: provider, registry: registry, model: model}
}

// Execute runs one streaming turn against the conversation and writes frames
// to the sink. The sink is always closed, whatever the outcome.
func (s *StreamingCompletionService) Execute(ctx context.Context, conversationID string, sink protocol.Sink) error {
	defer func() {
		if err := sink.Close(); err != nil {
			logger.L.Warn("sink close failed", "conversation", conversationID, "error", err)
		}
	}()

	conv, err := s.store.FindByID(ctx, conversationID)
	if err != nil {
		return err
	}
	sr, err := s.orch.PrepareForStreaming(conv)
	if err != nil {
		return err
	}
	if err := sr.Start(); err != nil {
		return err
	}
	logger.L.Debug("streaming turn started", "conversation", conversationID, "stream", sr.ID())

	stream, err := s.provider.StreamCompletion(ctx, conv.Messages(), s.registry.Definitions(), s.model)
	if err != nil {
		return s.failTurn(sr, sink, err)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			logger.L.Warn("provider stream close failed", "error", err)
		}
	}()

	var text strings.Builder
	var invocations []*domain.ToolInvocation

	for {
		chunk, rerr := stream.Recv()
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return s.failTurn(sr, sink, rerr)
		}

		switch chunk.Kind {
		case llm.ChunkText:
			text.WriteString(chunk.Text)
			if err := sr.AddTextChunk(chunk.Text); err != nil {
				return s.failTurn(sr, sink, err)
			}
			frame, err := protocol.EncodeText(chunk.Text)
			if err != nil {
				return s.failTurn(sr, sink, err)
			}
			if err := sink.Write(frame); err != nil {
				return s.failTurn(sr, sink, err)
			}

		case llm.ChunkToolCall:
			inv, err := domain.NewToolInvocation(chunk.ToolCallID, chunk.ToolName, chunk.Args)
			if err != nil {
				return s.failTurn(sr, sink, err)
			}
			if err := sr.AddToolCallChunk(inv); err != nil {
				return s.failTurn(sr, sink, err)
			}
			invocations = append(invocations, inv)
			frame, err := protocol.EncodeToolCall(inv.CallID(), inv.ToolName(), inv.Arguments())
			if err != nil {
				return s.failTurn(sr, sink, err)
			}
			if err := sink.Write(frame); err != nil {
				return s.failTurn(sr, sink, err)
			}

		case llm.ChunkUsage:
			if err := s.finalize(ctx, conv, sr, sink, text.String(), invocations, chunk.Usage, chunk.FinishReason); err != nil {
				return s.failTurn(sr, sink, err)
			}

		case llm.ChunkError:
			return s.failTurn(sr, sink, &domain.ProviderError{Message: chunk.ErrMessage})
		}
	}

	if sr.IsStreaming() {
		return s.failTurn(sr, sink, &domain.ProviderError{Message: "stream ended without a usage chunk"})
	}
	logger.L.Debug("streaming turn finished", "conversation", conversationID, "stream", sr.ID(), "state", sr.State())
	return nil
}

// finalize builds the assistant message from the accumulated text and
// not-yet-executed tool invocations, persists it, runs the invocations
// sequentially, and closes the turn with a finish frame.
func (s *StreamingCompletionService) finalize(ctx context.Context, conv *domain.Conversation, sr *domain.StreamingResponse, sink protocol.Sink, content string, invocations []*domain.ToolInvocation, usage domain.TokenUsage, finishReason string) error {
	// A text-only turn completes the streaming response before the assistant
	// message is appended; a tool-bearing turn stays active until every tool
	// result chunk has been accumulated.
	if len(invocations) == 0 {
		if err := sr.Complete(usage, finishReason); err != nil {
			return err
		}
	}

	msg, err := domain.NewAssistantMessage(content, invocations)
	if err != nil {
		return err
	}
	pending, err := s.orch.ProcessAssistantMessage(conv, msg, sr)
	if err != nil {
		return err
	}
	if err := s.store.Save(ctx, conv); err != nil {
		return err
	}

	// Sequential on purpose: tool-result frame order must match declaration
	// order, and each result is checkpointed before the next tool runs.
	for _, inv := range pending {
		if err := s.executeTool(ctx, conv, sr, sink, inv); err != nil {
			return err
		}
	}
	if len(pending) > 0 {
		if err := s.orch.ProcessToolResults(pending); err != nil {
			return err
		}
		if err := sr.Complete(usage, finishReason); err != nil {
			return err
		}
	}

	frame, err := protocol.EncodeFinish(usage, finishReason)
	if err != nil {
		return err
	}
	return sink.Write(frame)
}

// executeTool runs one invocation. A tool failure is captured as a
// structured error result and emitted as a regular tool-result frame; it
// never aborts the turn or its sibling executions.
func (s *StreamingCompletionService) executeTool(ctx context.Context, conv *domain.Conversation, sr *domain.StreamingResponse, sink protocol.Sink, inv *domain.ToolInvocation) error {
	if err := inv.MarkAsExecuting(); err != nil {
		return err
	}

	var payload any
	result, execErr := s.registry.Execute(ctx, inv.ToolName(), inv.Arguments())
	if execErr != nil {
		logger.L.Warn("tool execution failed", "tool", inv.ToolName(), "call", inv.CallID(), "error", execErr)
		if err := inv.Fail(execErr.Error()); err != nil {
			return err
		}
		payload = protocol.ErrorResult(execErr.Error())
	} else {
		if err := inv.Complete(result); err != nil {
			return err
		}
		payload = result
	}

	content, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	toolMsg, err := domain.NewToolMessage(string(content), inv.CallID())
	if err != nil {
		return err
	}
	if err := conv.AddMessage(toolMsg); err != nil {
		return err
	}
	if err := s.store.Save(ctx, conv); err != nil {
		return err
	}

	if err := sr.AddToolResultChunk(inv.CallID(), inv.ToolName(), payload); err != nil {
		return err
	}
	frame, err := protocol.EncodeToolResult(inv.CallID(), inv.ToolName(), payload)
	if err != nil {
		return err
	}
	return sink.Write(frame)
}

// failTurn fails the streaming response when mid-stream, emits a single
// error frame, and returns the cause to the caller.
func (s *StreamingCompletionService) failTurn(sr *domain.StreamingResponse, sink protocol.Sink, cause error) error {
	if sr.IsStreaming() {
		if err := sr.Fail(cause.Error()); err != nil {
			logger.L.Warn("failed to mark streaming response failed", "stream", sr.ID(), "error", err)
		}
	}
	if frame, err := protocol.EncodeError(cause.Error()); err == nil {
		if werr := sink.Write(frame); werr != nil {
			logger.L.Warn("error frame write failed", "stream", sr.ID(), "error", werr)
		}
	}
	return cause
}
