package domain

import "fmt"

// ValidationError reports an invalid message or entity at construction time.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// TransitionError reports an illegal state machine transition on an entity.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot %s from state %q", e.Entity, e.ID, e.Action, e.From)
}

// ConversationStateError reports an illegal mutation of a conversation,
// carrying enough context to log and to build client-visible error frames.
type ConversationStateError struct {
	ConversationID string
	Status         ConversationStatus
	Op             string
}

func (e *ConversationStateError) Error() string {
	return fmt.Sprintf("conversation %s: cannot %s in status %q", e.ConversationID, e.Op, e.Status)
}

// NotFoundError reports a missing conversation.
type NotFoundError struct {
	ConversationID string
}

func (e *NotFoundError) Error() string {
	return "conversation not found: " + e.ConversationID
}

// ProviderError wraps a model-provider failure.
type ProviderError struct {
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return "provider: " + e.Message + ": " + e.Err.Error()
	}
	return "provider: " + e.Message
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RateLimitError reports that the model provider rejected the request due to
// rate limiting.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string {
	return "provider rate limited: " + e.Message
}

// ToolNotFoundError reports a tool call naming an unregistered tool.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return "tool not found: " + e.Name
}

// ToolExecutionError wraps a failure inside a tool implementation.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }
