package service

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parley-ai/parley/internal/domain"
	"github.com/parley-ai/parley/internal/llm"
	"github.com/parley-ai/parley/internal/store"
	"github.com/parley-ai/parley/pkg/tools"
)

type scriptedStream struct {
	chunks []*llm.Chunk
	err    error
	closed bool
}

func (s *scriptedStream) Recv() (*llm.Chunk, error) {
	if len(s.chunks) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	next := s.chunks[0]
	s.chunks = s.chunks[1:]
	return next, nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

type scriptedProvider struct {
	stream  *scriptedStream
	openErr error
	defs    []tools.Definition
}

func (p *scriptedProvider) StreamCompletion(_ context.Context, _ []*domain.Message, defs []tools.Definition, _ string) (llm.ChunkStream, error) {
	p.defs = defs
	if p.openErr != nil {
		return nil, p.openErr
	}
	return p.stream, nil
}

type captureSink struct {
	frames []string
	closed bool
}

func (s *captureSink) Write(frame string) error {
	s.frames = append(s.frames, frame)
	return nil
}

func (s *captureSink) Close() error {
	s.closed = true
	return nil
}

type stubTool struct {
	name   string
	result any
	err    error
	args   map[string]any
}

func (t *stubTool) Name() string        { return t.name }
func (t *stubTool) Description() string { return "stub tool" }
func (t *stubTool) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *stubTool) Run(_ context.Context, args map[string]any) (any, error) {
	t.args = args
	return t.result, t.err
}

func seedConversation(t *testing.T, st store.ConversationStore) *domain.Conversation {
	t.Helper()
	conv := domain.NewConversation()
	msg, err := domain.NewUserMessage("What's the weather in Berlin?")
	require.NoError(t, err)
	require.NoError(t, conv.AddMessage(msg))
	require.NoError(t, st.Save(context.Background(), conv))
	return conv
}

func TestExecuteTextOnlyTurn(t *testing.T) {
	st := store.NewMemoryStore()
	conv := seedConversation(t, st)

	stream := &scriptedStream{chunks: []*llm.Chunk{
		{Kind: llm.ChunkText, Text: "Hello"},
		{Kind: llm.ChunkText, Text: " there"},
		{Kind: llm.ChunkUsage, Usage: domain.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, FinishReason: "stop"},
	}}
	provider := &scriptedProvider{stream: stream}
	sink := &captureSink{}
	svc := NewStreamingCompletionService(st, provider, tools.NewManager(), "gpt-4o")

	require.NoError(t, svc.Execute(context.Background(), conv.ID(), sink))

	require.Equal(t, []string{
		"0:\"Hello\"\n",
		"0:\" there\"\n",
		"e:{\"finishReason\":\"stop\",\"usage\":{\"promptTokens\":10,\"completionTokens\":5},\"isContinued\":false}\n",
	}, sink.frames)
	require.True(t, sink.closed)
	require.True(t, stream.closed)

	reloaded, err := st.FindByID(context.Background(), conv.ID())
	require.NoError(t, err)
	require.Equal(t, 2, reloaded.MessageCount())
	last := reloaded.GetLastMessage()
	require.Equal(t, domain.RoleAssistant, last.Role())
	require.Equal(t, "Hello there", last.Content())
	require.Equal(t, domain.StatusActive, reloaded.Status())
}

func TestExecuteToolCallTurn(t *testing.T) {
	st := store.NewMemoryStore()
	conv := seedConversation(t, st)

	weather := &stubTool{name: "get_current_weather", result: map[string]any{"temp": 20}}
	registry := tools.NewManager()
	registry.Register(weather)

	stream := &scriptedStream{chunks: []*llm.Chunk{
		{Kind: llm.ChunkText, Text: "Checking"},
		{Kind: llm.ChunkToolCall, ToolCallID: "c1", ToolName: "get_current_weather", Args: map[string]any{"latitude": 52.52, "longitude": 13.405}},
		{Kind: llm.ChunkUsage, Usage: domain.TokenUsage{PromptTokens: 20, CompletionTokens: 8, TotalTokens: 28}, FinishReason: "tool_calls"},
	}}
	provider := &scriptedProvider{stream: stream}
	sink := &captureSink{}
	svc := NewStreamingCompletionService(st, provider, registry, "gpt-4o")

	require.NoError(t, svc.Execute(context.Background(), conv.ID(), sink))

	require.Equal(t, []string{
		"0:\"Checking\"\n",
		"9:{\"toolCallId\":\"c1\",\"toolName\":\"get_current_weather\",\"args\":{\"latitude\":52.52,\"longitude\":13.405}}\n",
		"a:{\"toolCallId\":\"c1\",\"toolName\":\"get_current_weather\",\"result\":{\"temp\":20}}\n",
		"e:{\"finishReason\":\"tool_calls\",\"usage\":{\"promptTokens\":20,\"completionTokens\":8},\"isContinued\":false}\n",
	}, sink.frames)
	require.Equal(t, map[string]any{"latitude": 52.52, "longitude": 13.405}, weather.args)
	require.Len(t, provider.defs, 1)
	require.Equal(t, "get_current_weather", provider.defs[0].Name)

	reloaded, err := st.FindByID(context.Background(), conv.ID())
	require.NoError(t, err)
	require.Equal(t, 3, reloaded.MessageCount())

	assistant := reloaded.Messages()[1]
	require.Equal(t, domain.RoleAssistant, assistant.Role())
	require.Len(t, assistant.ToolInvocations(), 1)
	inv := assistant.ToolInvocations()[0]
	require.Equal(t, domain.ToolInvocationCompleted, inv.State())
	result, ok := inv.Result()
	require.True(t, ok)
	require.Equal(t, map[string]any{"temp": float64(20)}, result)

	toolMsg := reloaded.Messages()[2]
	require.Equal(t, domain.RoleTool, toolMsg.Role())
	require.Equal(t, "c1", toolMsg.ToolCallID())
	require.JSONEq(t, `{"temp":20}`, toolMsg.Content())
	require.Equal(t, domain.StatusActive, reloaded.Status())
}

func TestExecuteToolFailureStillFinishes(t *testing.T) {
	st := store.NewMemoryStore()
	conv := seedConversation(t, st)

	registry := tools.NewManager()
	registry.Register(&stubTool{name: "get_current_weather", err: errors.New("boom")})

	stream := &scriptedStream{chunks: []*llm.Chunk{
		{Kind: llm.ChunkToolCall, ToolCallID: "c1", ToolName: "get_current_weather", Args: map[string]any{}},
		{Kind: llm.ChunkUsage, Usage: domain.TokenUsage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15}, FinishReason: "tool_calls"},
	}}
	sink := &captureSink{}
	svc := NewStreamingCompletionService(st, &scriptedProvider{stream: stream}, registry, "gpt-4o")

	require.NoError(t, svc.Execute(context.Background(), conv.ID(), sink))

	require.Len(t, sink.frames, 3)
	require.Contains(t, sink.frames[1], `"error":true`)
	require.Contains(t, sink.frames[1], "boom")
	require.Contains(t, sink.frames[2], `"finishReason":"tool_calls"`)

	reloaded, err := st.FindByID(context.Background(), conv.ID())
	require.NoError(t, err)
	assistant := reloaded.Messages()[1]
	require.Equal(t, domain.ToolInvocationFailed, assistant.ToolInvocations()[0].State())
	toolMsg := reloaded.GetLastMessage()
	require.Equal(t, domain.RoleTool, toolMsg.Role())
	require.Contains(t, toolMsg.Content(), `"error":true`)
}

func TestExecuteConversationNotFound(t *testing.T) {
	sink := &captureSink{}
	svc := NewStreamingCompletionService(store.NewMemoryStore(), &scriptedProvider{}, tools.NewManager(), "gpt-4o")

	err := svc.Execute(context.Background(), "missing", sink)

	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Empty(t, sink.frames)
	require.True(t, sink.closed)
}

func TestExecuteRefusedOnCompletedConversation(t *testing.T) {
	st := store.NewMemoryStore()
	conv := seedConversation(t, st)
	require.NoError(t, conv.MarkAsCompleted())
	require.NoError(t, st.Save(context.Background(), conv))

	sink := &captureSink{}
	svc := NewStreamingCompletionService(st, &scriptedProvider{}, tools.NewManager(), "gpt-4o")

	err := svc.Execute(context.Background(), conv.ID(), sink)

	var stateErr *domain.ConversationStateError
	require.ErrorAs(t, err, &stateErr)
	require.Empty(t, sink.frames)
}

func TestExecuteProviderOpenError(t *testing.T) {
	st := store.NewMemoryStore()
	conv := seedConversation(t, st)

	provider := &scriptedProvider{openErr: &domain.ProviderError{Message: "connect refused"}}
	sink := &captureSink{}
	svc := NewStreamingCompletionService(st, provider, tools.NewManager(), "gpt-4o")

	err := svc.Execute(context.Background(), conv.ID(), sink)

	var provErr *domain.ProviderError
	require.ErrorAs(t, err, &provErr)
	require.Len(t, sink.frames, 1)
	require.Contains(t, sink.frames[0], "3:")
	require.Contains(t, sink.frames[0], "connect refused")
}

func TestExecuteMidStreamError(t *testing.T) {
	st := store.NewMemoryStore()
	conv := seedConversation(t, st)

	stream := &scriptedStream{
		chunks: []*llm.Chunk{{Kind: llm.ChunkText, Text: "partial"}},
		err:    &domain.ProviderError{Message: "stream reset"},
	}
	sink := &captureSink{}
	svc := NewStreamingCompletionService(st, &scriptedProvider{stream: stream}, tools.NewManager(), "gpt-4o")

	err := svc.Execute(context.Background(), conv.ID(), sink)

	require.Error(t, err)
	require.Len(t, sink.frames, 2)
	require.Equal(t, "0:\"partial\"\n", sink.frames[0])
	require.Contains(t, sink.frames[1], "stream reset")

	// The partial turn was never folded into the conversation.
	reloaded, ferr := st.FindByID(context.Background(), conv.ID())
	require.NoError(t, ferr)
	require.Equal(t, 1, reloaded.MessageCount())
}
