// Package store persists conversation aggregates. Implementations go through
// the domain snapshot codec so every backend shares one serialization shape.
// Saves are last-writer-wins; no optimistic versioning is provided.
package store

import (
	"context"

	"github.com/parley-ai/parley/internal/domain"
)

// Filter narrows FindAll results.
type Filter struct {
	Status *domain.ConversationStatus
	Limit  int
	Offset int
}

// ConversationStore is the abstract conversation repository.
type ConversationStore interface {
	FindByID(ctx context.Context, id string) (*domain.Conversation, error)
	// Save upserts the conversation.
	Save(ctx context.Context, c *domain.Conversation) error
	Delete(ctx context.Context, id string) error
	FindAll(ctx context.Context, filter Filter) ([]*domain.Conversation, error)
	FindActive(ctx context.Context) ([]*domain.Conversation, error)
	Count(ctx context.Context) (int, error)
}
