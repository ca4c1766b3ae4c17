package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/parley-ai/parley/internal/domain"
)

// MemoryStore is an in-memory ConversationStore. Conversations are held as
// marshalled snapshots, so reads always return independent clones and a
// caller mutating a returned aggregate cannot corrupt the stored copy.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*domain.Conversation, error) {
	s.mu.RLock()
	doc, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, &domain.NotFoundError{ConversationID: id}
	}
	return decodeConversation(doc)
}

func (s *MemoryStore) Save(_ context.Context, c *domain.Conversation) error {
	doc, err := json.Marshal(c.Snapshot())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.docs[c.ID()] = doc
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return &domain.NotFoundError{ConversationID: id}
	}
	delete(s.docs, id)
	return nil
}

func (s *MemoryStore) FindAll(_ context.Context, filter Filter) ([]*domain.Conversation, error) {
	s.mu.RLock()
	docs := make([][]byte, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, doc)
	}
	s.mu.RUnlock()

	conversations := make([]*domain.Conversation, 0, len(docs))
	for _, doc := range docs {
		c, err := decodeConversation(doc)
		if err != nil {
			return nil, err
		}
		if filter.Status != nil && c.Status() != *filter.Status {
			continue
		}
		conversations = append(conversations, c)
	}
	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].UpdatedAt().After(conversations[j].UpdatedAt())
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(conversations) {
			return nil, nil
		}
		conversations = conversations[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(conversations) {
		conversations = conversations[:filter.Limit]
	}
	return conversations, nil
}

func (s *MemoryStore) FindActive(ctx context.Context) ([]*domain.Conversation, error) {
	active := domain.StatusActive
	return s.FindAll(ctx, Filter{Status: &active})
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs), nil
}

func decodeConversation(doc []byte) (*domain.Conversation, error) {
	var snap domain.ConversationSnapshot
	if err := json.Unmarshal(doc, &snap); err != nil {
		return nil, err
	}
	return domain.RestoreConversation(snap)
}
