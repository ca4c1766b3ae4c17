package domain

import (
	"maps"
	"time"
)

// Snapshot types are the single explicit serialization of the aggregate.
// Stores marshal these to JSON rather than copying entities field by field,
// so the persistence shape is defined once, here.

// ToolInvocationSnapshot is the persisted form of a ToolInvocation.
type ToolInvocationSnapshot struct {
	CallID      string         `json:"call_id"`
	ToolName    string         `json:"tool_name"`
	Arguments   map[string]any `json:"arguments,omitempty"`
	State       string         `json:"state"`
	Result      any            `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// MessageSnapshot is the persisted form of a Message.
type MessageSnapshot struct {
	ID              string                   `json:"id"`
	Role            string                   `json:"role"`
	Content         string                   `json:"content"`
	Attachments     []Attachment             `json:"attachments,omitempty"`
	ToolInvocations []ToolInvocationSnapshot `json:"tool_invocations,omitempty"`
	Metadata        map[string]any           `json:"metadata,omitempty"`
	CreatedAt       time.Time                `json:"created_at"`
}

// ConversationSnapshot is the persisted form of a Conversation.
type ConversationSnapshot struct {
	ID        string            `json:"id"`
	Title     string            `json:"title,omitempty"`
	Status    string            `json:"status"`
	Messages  []MessageSnapshot `json:"messages"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Snapshot captures the conversation for persistence.
func (c *Conversation) Snapshot() ConversationSnapshot {
	snap := ConversationSnapshot{
		ID:        c.id,
		Title:     c.title,
		Status:    string(c.Status()),
		Messages:  make([]MessageSnapshot, 0, len(c.messages)),
		Metadata:  maps.Clone(c.metadata),
		CreatedAt: c.createdAt,
		UpdatedAt: c.updatedAt,
	}
	for _, m := range c.messages {
		snap.Messages = append(snap.Messages, m.snapshot())
	}
	return snap
}

func (m *Message) snapshot() MessageSnapshot {
	ms := MessageSnapshot{
		ID:          m.id,
		Role:        string(m.role),
		Content:     m.content,
		Attachments: append([]Attachment(nil), m.attachments...),
		Metadata:    maps.Clone(m.metadata),
		CreatedAt:   m.createdAt,
	}
	for _, inv := range m.toolInvocations {
		ms.ToolInvocations = append(ms.ToolInvocations, ToolInvocationSnapshot{
			CallID:      inv.callID,
			ToolName:    inv.toolName,
			Arguments:   maps.Clone(inv.args),
			State:       string(inv.State()),
			Result:      inv.result,
			Error:       inv.errMessage,
			CreatedAt:   inv.createdAt,
			CompletedAt: inv.completedAt,
		})
	}
	return ms
}

// RestoreConversation rebuilds a conversation from its snapshot. The history
// was validated when the messages were appended, so messages are restored
// directly rather than replayed through AddMessage.
func RestoreConversation(snap ConversationSnapshot) (*Conversation, error) {
	status := ConversationStatus(snap.Status)
	switch status {
	case StatusActive, StatusWaitingForResponse, StatusCompleted, StatusArchived:
	default:
		return nil, validationErrorf("unknown conversation status %q", snap.Status)
	}
	c := &Conversation{
		id:        snap.ID,
		title:     snap.Title,
		fsm:       newConversationFSM(status),
		metadata:  maps.Clone(snap.Metadata),
		createdAt: snap.CreatedAt,
		updatedAt: snap.UpdatedAt,
	}
	if c.metadata == nil {
		c.metadata = map[string]any{}
	}
	for _, ms := range snap.Messages {
		m, err := restoreMessage(ms)
		if err != nil {
			return nil, err
		}
		c.messages = append(c.messages, m)
	}
	return c, nil
}

func restoreMessage(ms MessageSnapshot) (*Message, error) {
	role := Role(ms.Role)
	if !role.IsValid() {
		return nil, validationErrorf("unknown role %q", ms.Role)
	}
	m := &Message{
		id:          ms.ID,
		role:        role,
		content:     ms.Content,
		attachments: append([]Attachment(nil), ms.Attachments...),
		metadata:    maps.Clone(ms.Metadata),
		createdAt:   ms.CreatedAt,
	}
	if m.metadata == nil {
		m.metadata = map[string]any{}
	}
	for _, is := range ms.ToolInvocations {
		inv, err := restoreInvocation(is)
		if err != nil {
			return nil, err
		}
		m.toolInvocations = append(m.toolInvocations, inv)
	}
	return m, nil
}

func restoreInvocation(is ToolInvocationSnapshot) (*ToolInvocation, error) {
	state := ToolInvocationState(is.State)
	switch state {
	case ToolInvocationPending, ToolInvocationExecuting, ToolInvocationCompleted, ToolInvocationFailed:
	default:
		return nil, validationErrorf("unknown tool invocation state %q", is.State)
	}
	return &ToolInvocation{
		callID:      is.CallID,
		toolName:    is.ToolName,
		args:        maps.Clone(is.Arguments),
		fsm:         newInvocationFSM(state),
		result:      is.Result,
		errMessage:  is.Error,
		createdAt:   is.CreatedAt,
		completedAt: is.CompletedAt,
	}, nil
}
