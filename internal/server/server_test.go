package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/domain"
	"github.com/parley-ai/parley/internal/llm"
	"github.com/parley-ai/parley/internal/protocol"
	"github.com/parley-ai/parley/internal/service"
	"github.com/parley-ai/parley/internal/store"
	"github.com/parley-ai/parley/pkg/tools"
)

type fakeStream struct {
	chunks []*llm.Chunk
}

func (s *fakeStream) Recv() (*llm.Chunk, error) {
	if len(s.chunks) == 0 {
		return nil, io.EOF
	}
	next := s.chunks[0]
	s.chunks = s.chunks[1:]
	return next, nil
}

func (s *fakeStream) Close() error { return nil }

type fakeProvider struct {
	chunks []*llm.Chunk
}

func (p *fakeProvider) StreamCompletion(context.Context, []*domain.Message, []tools.Definition, string) (llm.ChunkStream, error) {
	return &fakeStream{chunks: append([]*llm.Chunk(nil), p.chunks...)}, nil
}

func textTurn(text string) []*llm.Chunk {
	return []*llm.Chunk{
		{Kind: llm.ChunkText, Text: text},
		{Kind: llm.ChunkUsage, Usage: domain.TokenUsage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7}, FinishReason: "stop"},
	}
}

func newTestServer(t *testing.T, st store.ConversationStore, chunks []*llm.Chunk) *Server {
	t.Helper()
	svc := service.NewStreamingCompletionService(st, &fakeProvider{chunks: chunks}, tools.NewManager(), "gpt-4o")
	return New(config.ServerConfig{Host: "127.0.0.1", Port: "0"}, st, svc)
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(raw)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestChatNewConversation(t *testing.T) {
	st := store.NewMemoryStore()
	srv := newTestServer(t, st, textTurn("Hello!"))

	rec := postJSON(t, srv.Handler(), "/api/chat", chatRequest{
		Messages: []ClientMessage{{Role: "user", Content: "Hi"}},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, protocol.ContentType, rec.Header().Get("Content-Type"))
	require.Equal(t, protocol.DataStreamVersion, rec.Header().Get(protocol.HeaderDataStream))
	convID := rec.Header().Get(HeaderConversationID)
	require.NotEmpty(t, convID)

	body := rec.Body.String()
	require.Contains(t, body, "0:\"Hello!\"\n")
	require.Contains(t, body, "e:{\"finishReason\":\"stop\"")

	conv, err := st.FindByID(context.Background(), convID)
	require.NoError(t, err)
	require.Equal(t, 2, conv.MessageCount())
	require.Equal(t, "Hi", conv.Title())
}

func TestChatExistingConversationAppendsOnlyNewestMessage(t *testing.T) {
	st := store.NewMemoryStore()
	conv := domain.NewConversation()
	user, err := domain.NewUserMessage("First question")
	require.NoError(t, err)
	require.NoError(t, conv.AddMessage(user))
	assistant, err := domain.NewAssistantMessage("First answer", nil)
	require.NoError(t, err)
	require.NoError(t, conv.AddMessage(assistant))
	require.NoError(t, st.Save(context.Background(), conv))

	srv := newTestServer(t, st, textTurn("Second answer"))
	rec := postJSON(t, srv.Handler(), "/api/chat", chatRequest{
		ID: conv.ID(),
		Messages: []ClientMessage{
			{Role: "user", Content: "First question"},
			{Role: "assistant", Content: "First answer"},
			{Role: "user", Content: "Second question"},
		},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	reloaded, err := st.FindByID(context.Background(), conv.ID())
	require.NoError(t, err)
	require.Equal(t, 4, reloaded.MessageCount())
	require.Equal(t, "Second answer", reloaded.GetLastMessage().Content())
}

func TestChatUnknownConversation(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryStore(), nil)
	rec := postJSON(t, srv.Handler(), "/api/chat", chatRequest{
		ID:       "missing",
		Messages: []ClientMessage{{Role: "user", Content: "Hi"}},
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatRejectsEmptyMessages(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryStore(), nil)
	rec := postJSON(t, srv.Handler(), "/api/chat", chatRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatExpandsResolvedToolInvocations(t *testing.T) {
	st := store.NewMemoryStore()
	srv := newTestServer(t, st, textTurn("It is warm."))

	rec := postJSON(t, srv.Handler(), "/api/chat", chatRequest{
		Messages: []ClientMessage{
			{Role: "user", Content: "Weather in Berlin?"},
			{Role: "assistant", Content: "", ToolInvocations: []ClientToolInvocation{{
				State:      invocationStateResult,
				ToolCallID: "c1",
				ToolName:   "get_current_weather",
				Args:       map[string]any{"latitude": 52.52, "longitude": 13.405},
				Result:     map[string]any{"temp": 20},
			}}},
			{Role: "user", Content: "And tomorrow?"},
		},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	conv, err := st.FindByID(context.Background(), rec.Header().Get(HeaderConversationID))
	require.NoError(t, err)
	// user, assistant, expanded tool message, user, streamed assistant reply
	require.Equal(t, 5, conv.MessageCount())
	require.Equal(t, domain.RoleTool, conv.Messages()[2].Role())
	require.Equal(t, "c1", conv.Messages()[2].ToolCallID())
}

func TestListConversationsFiltersByStatus(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	for _, archive := range []bool{false, true} {
		c := domain.NewConversation()
		m, err := domain.NewUserMessage("hello")
		require.NoError(t, err)
		require.NoError(t, c.AddMessage(m))
		if archive {
			require.NoError(t, c.Archive())
		}
		require.NoError(t, st.Save(ctx, c))
	}
	srv := newTestServer(t, st, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations?status=archived", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var summaries []conversationSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	require.Equal(t, string(domain.StatusArchived), summaries[0].Status)
}

func TestListConversationsRejectsUnknownStatus(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryStore(), nil)
	req := httptest.NewRequest(http.MethodGet, "/api/conversations?status=bogus", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetConversationDetailFoldsToolMessages(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	conv := domain.NewConversation()
	user, err := domain.NewUserMessage("Weather?")
	require.NoError(t, err)
	require.NoError(t, conv.AddMessage(user))
	inv, err := domain.NewToolInvocation("c1", "get_current_weather", map[string]any{"latitude": 1.0})
	require.NoError(t, err)
	require.NoError(t, inv.MarkAsExecuting())
	require.NoError(t, inv.Complete(map[string]any{"temp": 20}))
	assistant, err := domain.NewAssistantMessage("", []*domain.ToolInvocation{inv})
	require.NoError(t, err)
	require.NoError(t, conv.AddMessage(assistant))
	toolMsg, err := domain.NewToolMessage(`{"temp":20}`, "c1")
	require.NoError(t, err)
	require.NoError(t, conv.AddMessage(toolMsg))
	require.NoError(t, st.Save(ctx, conv))

	srv := newTestServer(t, st, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/conversations/"+conv.ID(), nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var d conversationDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	require.Equal(t, conv.ID(), d.ID)
	require.Len(t, d.Messages, 2)
	require.Equal(t, "assistant", d.Messages[1].Role)
	require.Len(t, d.Messages[1].ToolInvocations, 1)
	require.Equal(t, invocationStateResult, d.Messages[1].ToolInvocations[0].State)
}

func TestArchiveAndDeleteConversation(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	conv := domain.NewConversation()
	m, err := domain.NewUserMessage("hello")
	require.NoError(t, err)
	require.NoError(t, conv.AddMessage(m))
	require.NoError(t, st.Save(ctx, conv))

	srv := newTestServer(t, st, nil)

	rec := postJSON(t, srv.Handler(), "/api/conversations/"+conv.ID()+"/archive", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary conversationSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Equal(t, string(domain.StatusArchived), summary.Status)

	req := httptest.NewRequest(http.MethodDelete, "/api/conversations/"+conv.ID(), nil)
	del := httptest.NewRecorder()
	srv.Handler().ServeHTTP(del, req)
	require.Equal(t, http.StatusNoContent, del.Code)

	_, err = st.FindByID(ctx, conv.ID())
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestArchiveArchivedConversationConflicts(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	conv := domain.NewConversation()
	require.NoError(t, conv.Archive())
	require.NoError(t, st.Save(ctx, conv))

	srv := newTestServer(t, st, nil)
	rec := postJSON(t, srv.Handler(), "/api/conversations/"+conv.ID()+"/archive", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}
