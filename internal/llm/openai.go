package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/domain"
	"github.com/parley-ai/parley/pkg/tools"
)

// StreamClient is the minimal subset of openai.Client used by the provider;
// it is easy to mock in tests.
type StreamClient interface {
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// NewClient creates an OpenAI client from configuration.
func NewClient(cfg config.LLMConfig) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientCfg)
}

// OpenAIProvider implements Provider on top of the OpenAI streaming API.
type OpenAIProvider struct {
	client StreamClient
}

// NewOpenAIProvider wraps a client (or a mock) as a Provider.
func NewOpenAIProvider(client StreamClient) *OpenAIProvider {
	return &OpenAIProvider{client: client}
}

// StreamCompletion converts the domain history and tool catalog to OpenAI
// request types and opens a completion stream with usage reporting enabled.
func (p *OpenAIProvider) StreamCompletion(ctx context.Context, messages []*domain.Message, defs []tools.Definition, model string) (ChunkStream, error) {
	req := openai.ChatCompletionRequest{
		Model:         model,
		Messages:      ConvertMessages(messages),
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if len(defs) > 0 {
		req.Tools = ConvertTools(defs)
	}
	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, mapProviderError(err)
	}
	return &openaiChunkStream{stream: stream, acc: &deltaAccumulator{}}, nil
}

type openaiChunkStream struct {
	stream *openai.ChatCompletionStream
	acc    *deltaAccumulator
	queue  []*Chunk
}

func (s *openaiChunkStream) Recv() (*Chunk, error) {
	for {
		if len(s.queue) > 0 {
			next := s.queue[0]
			s.queue = s.queue[1:]
			return next, nil
		}
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if err != nil {
			return nil, mapProviderError(err)
		}
		chunks, err := s.acc.feed(resp)
		if err != nil {
			return nil, err
		}
		s.queue = append(s.queue, chunks...)
	}
}

func (s *openaiChunkStream) Close() error {
	return s.stream.Close()
}

type partialToolCall struct {
	id   string
	name string
	args strings.Builder
}

// deltaAccumulator folds OpenAI stream deltas into whole chunks: text passes
// through, tool-call argument fragments accumulate per index and are flushed
// as complete tool_call chunks right before the usage chunk, matching the
// order the orchestration layer expects.
type deltaAccumulator struct {
	calls        []*partialToolCall
	byIndex      map[int]*partialToolCall
	finishReason string
}

func (a *deltaAccumulator) feed(resp openai.ChatCompletionStreamResponse) ([]*Chunk, error) {
	var out []*Chunk
	for _, choice := range resp.Choices {
		if choice.Delta.Content != "" {
			out = append(out, &Chunk{Kind: ChunkText, Text: choice.Delta.Content})
		}
		for _, tc := range choice.Delta.ToolCalls {
			a.feedToolCallDelta(tc)
		}
		if choice.FinishReason != "" {
			a.finishReason = string(choice.FinishReason)
		}
	}
	if resp.Usage != nil {
		flushed, err := a.flush()
		if err != nil {
			return nil, err
		}
		out = append(out, flushed...)
		finish := a.finishReason
		if finish == "" {
			finish = string(openai.FinishReasonStop)
		}
		out = append(out, &Chunk{
			Kind: ChunkUsage,
			Usage: domain.TokenUsage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
			FinishReason: finish,
		})
	}
	return out, nil
}

func (a *deltaAccumulator) feedToolCallDelta(tc openai.ToolCall) {
	if a.byIndex == nil {
		a.byIndex = map[int]*partialToolCall{}
	}
	idx := len(a.calls) - 1
	if tc.Index != nil {
		idx = *tc.Index
	}
	call, ok := a.byIndex[idx]
	if !ok {
		call = &partialToolCall{}
		a.byIndex[idx] = call
		a.calls = append(a.calls, call)
	}
	if tc.ID != "" {
		call.id = tc.ID
	}
	if tc.Function.Name != "" {
		call.name = tc.Function.Name
	}
	call.args.WriteString(tc.Function.Arguments)
}

func (a *deltaAccumulator) flush() ([]*Chunk, error) {
	var out []*Chunk
	for _, call := range a.calls {
		args := map[string]any{}
		if raw := call.args.String(); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return nil, &domain.ProviderError{Message: "malformed tool call arguments for " + call.name, Err: err}
			}
		}
		out = append(out, &Chunk{Kind: ChunkToolCall, ToolCallID: call.id, ToolName: call.name, Args: args})
	}
	a.calls = nil
	a.byIndex = nil
	return out, nil
}

// ConvertMessages maps domain messages to OpenAI chat messages. Tool messages
// carry their originating call id; assistant tool invocations are re-encoded
// as tool calls with JSON arguments; image attachments become image_url
// content parts.
func ConvertMessages(messages []*domain.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		switch {
		case m.Role() == domain.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content(),
				ToolCallID: m.ToolCallID(),
			})
		case m.Role() == domain.RoleAssistant && len(m.ToolInvocations()) > 0:
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: m.Content(),
			}
			for _, inv := range m.ToolInvocations() {
				argsJSON, err := json.Marshal(inv.Arguments())
				if err != nil {
					argsJSON = []byte("{}")
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   inv.CallID(),
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      inv.ToolName(),
						Arguments: string(argsJSON),
					},
				})
			}
			out = append(out, msg)
		case len(m.Attachments()) > 0:
			parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: m.Content()}}
			for _, att := range m.Attachments() {
				if strings.HasPrefix(att.ContentType, "image") {
					parts = append(parts, openai.ChatMessagePart{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: att.URL},
					})
				}
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:         string(m.Role()),
				MultiContent: parts,
			})
		default:
			out = append(out, openai.ChatCompletionMessage{
				Role:    string(m.Role()),
				Content: m.Content(),
			})
		}
	}
	return out
}

// ConvertTools maps registry definitions to OpenAI tool declarations.
func ConvertTools(defs []tools.Definition) []openai.Tool {
	out := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		params := def.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func mapProviderError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 429 {
		return &domain.RateLimitError{Message: apiErr.Message}
	}
	if strings.Contains(strings.ToLower(err.Error()), "rate_limit") {
		return &domain.RateLimitError{Message: err.Error()}
	}
	return &domain.ProviderError{Message: "openai stream", Err: err}
}
