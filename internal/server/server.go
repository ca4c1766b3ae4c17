// Package server exposes the conversation API over HTTP: the streaming chat
// endpoint plus conversation management (list, get, archive, delete).
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/domain"
	"github.com/parley-ai/parley/internal/logger"
	"github.com/parley-ai/parley/internal/protocol"
	"github.com/parley-ai/parley/internal/service"
	"github.com/parley-ai/parley/internal/store"
)

// HeaderConversationID carries the conversation id back to clients that
// started a conversation without one.
const HeaderConversationID = "x-conversation-id"

// Server is the HTTP front of the application.
type Server struct {
	store   store.ConversationStore
	svc     *service.StreamingCompletionService
	httpSrv *http.Server
}

// New builds a Server listening on the configured host and port.
func New(cfg config.ServerConfig, st store.ConversationStore, svc *service.StreamingCompletionService) *Server {
	s := &Server{store: st, svc: svc}
	s.httpSrv = &http.Server{
		Addr:    net.JoinHostPort(cfg.Host, cfg.Port),
		Handler: s.Handler(),
	}
	return s
}

// Handler returns the route table. Exposed separately so tests can drive the
// mux without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/conversations", s.handleList)
	mux.HandleFunc("GET /api/conversations/{id}", s.handleGet)
	mux.HandleFunc("DELETE /api/conversations/{id}", s.handleDelete)
	mux.HandleFunc("POST /api/conversations/{id}/archive", s.handleArchive)
	return mux
}

// ListenAndServe blocks serving HTTP until the server is shut down.
func (s *Server) ListenAndServe() error {
	logger.L.Info("http server listening", "addr", s.httpSrv.Addr)
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// handleChat appends the incoming messages to a new or existing conversation
// and streams the completion turn back as data stream frames.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &domain.ValidationError{Reason: "malformed request body"})
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, &domain.ValidationError{Reason: "messages must not be empty"})
		return
	}

	ctx := r.Context()
	var conv *domain.Conversation
	var toAppend []ClientMessage
	if req.ID == "" {
		conv = domain.NewConversation()
		toAppend = req.Messages
	} else {
		loaded, err := s.store.FindByID(ctx, req.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		conv = loaded
		// Existing conversations already hold the history; only the newest
		// client message is appended.
		toAppend = req.Messages[len(req.Messages)-1:]
	}

	for _, cm := range toAppend {
		msgs, err := cm.toDomain()
		if err != nil {
			writeError(w, err)
			return
		}
		for _, m := range msgs {
			if err := conv.AddMessage(m); err != nil {
				writeError(w, err)
				return
			}
		}
	}
	if err := s.store.Save(ctx, conv); err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", protocol.ContentType)
	w.Header().Set(protocol.HeaderDataStream, protocol.DataStreamVersion)
	w.Header().Set(HeaderConversationID, conv.ID())

	sink := newHTTPSink(w)
	if err := s.svc.Execute(ctx, conv.ID(), sink); err != nil {
		logger.L.Error("chat turn failed", "conversation", conv.ID(), "error", err)
		// Failures after the first frame already produced an error frame
		// inside the stream.
		if !sink.wrote {
			if frame, ferr := protocol.EncodeError(err.Error()); ferr == nil {
				_ = sink.Write(frame)
			}
		}
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	conversations, err := s.store.FindAll(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	summaries := make([]conversationSummary, 0, len(conversations))
	for _, c := range conversations {
		summaries = append(summaries, summarize(c))
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	conv, err := s.store.FindByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail(conv))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conv, err := s.store.FindByID(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := conv.Archive(); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.Save(ctx, conv); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(conv))
}

func parseFilter(r *http.Request) (store.Filter, error) {
	var filter store.Filter
	q := r.URL.Query()
	if raw := q.Get("status"); raw != "" {
		status := domain.ConversationStatus(raw)
		if !status.IsValid() {
			return filter, &domain.ValidationError{Reason: "unknown status: " + raw}
		}
		filter.Status = &status
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, &domain.ValidationError{Reason: name + " must be a non-negative integer"}
		}
		*dst = n
	}
	return filter, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.L.Warn("response encode failed", "error", err)
	}
}

// writeError maps domain error types to HTTP statuses and emits a JSON body.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var (
		notFound   *domain.NotFoundError
		validation *domain.ValidationError
		stateErr   *domain.ConversationStateError
		transition *domain.TransitionError
		rateLimit  *domain.RateLimitError
		provider   *domain.ProviderError
	)
	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &validation):
		status = http.StatusBadRequest
	case errors.As(err, &stateErr), errors.As(err, &transition):
		status = http.StatusConflict
	case errors.As(err, &rateLimit):
		status = http.StatusTooManyRequests
	case errors.As(err, &provider):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
