// Package domain holds the conversation aggregate and the entities it is
// built from: messages, tool invocations and per-turn streaming responses.
// All invariants over message ordering and entity state machines live here.
package domain

import (
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// IsValid reports whether r is one of the four known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// MetadataToolCallID is the metadata key carrying the originating tool call
// id on tool-role messages.
const MetadataToolCallID = "tool_call_id"

// Attachment is a file or image referenced by a message.
type Attachment struct {
	Name        string `json:"name,omitempty"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
}

// Message is a single conversation turn. It is immutable after construction;
// the metadata map is the only mutable field and is used strictly to attach
// the originating tool call id on tool messages.
type Message struct {
	id              string
	role            Role
	content         string
	attachments     []Attachment
	toolInvocations []*ToolInvocation
	metadata        map[string]any
	createdAt       time.Time
}

func newMessage(role Role, content string, attachments []Attachment, invocations []*ToolInvocation) (*Message, error) {
	m := &Message{
		id:              uuid.NewString(),
		role:            role,
		content:         content,
		attachments:     append([]Attachment(nil), attachments...),
		toolInvocations: append([]*ToolInvocation(nil), invocations...),
		metadata:        map[string]any{},
		createdAt:       time.Now().UTC(),
	}
	if err := (MessageValidator{}).Validate(m); err != nil {
		return nil, err
	}
	return m, nil
}

// NewUserMessage creates a user turn.
func NewUserMessage(content string, attachments ...Attachment) (*Message, error) {
	return newMessage(RoleUser, content, attachments, nil)
}

// NewSystemMessage creates a system turn.
func NewSystemMessage(content string) (*Message, error) {
	return newMessage(RoleSystem, content, nil, nil)
}

// NewAssistantMessage creates an assistant turn. Content may be empty only
// when the message declares tool invocations.
func NewAssistantMessage(content string, invocations []*ToolInvocation) (*Message, error) {
	return newMessage(RoleAssistant, content, nil, invocations)
}

// NewToolMessage creates a tool-result turn carrying the originating call id
// in its metadata.
func NewToolMessage(content, toolCallID string) (*Message, error) {
	if toolCallID == "" {
		return nil, validationErrorf("tool message requires a tool call id")
	}
	m, err := newMessage(RoleTool, content, nil, nil)
	if err != nil {
		return nil, err
	}
	m.metadata[MetadataToolCallID] = toolCallID
	return m, nil
}

func (m *Message) ID() string           { return m.id }
func (m *Message) Role() Role           { return m.role }
func (m *Message) Content() string      { return m.content }
func (m *Message) CreatedAt() time.Time { return m.createdAt }

// Attachments returns a defensive copy.
func (m *Message) Attachments() []Attachment {
	return append([]Attachment(nil), m.attachments...)
}

// ToolInvocations returns a copy of the invocation list. The invocations
// themselves are shared: they are live state machines owned by this message.
func (m *Message) ToolInvocations() []*ToolInvocation {
	return append([]*ToolInvocation(nil), m.toolInvocations...)
}

// Metadata returns a defensive copy of the metadata map.
func (m *Message) Metadata() map[string]any {
	return maps.Clone(m.metadata)
}

// SetMetadata attaches a metadata value. Reserved for boundary concerns such
// as the tool call id; domain content is never stored here.
func (m *Message) SetMetadata(key string, value any) {
	m.metadata[key] = value
}

// ToolCallID returns the originating tool call id of a tool message, or "".
func (m *Message) ToolCallID() string {
	if v, ok := m.metadata[MetadataToolCallID].(string); ok {
		return v
	}
	return ""
}

// IsValidAfter encodes the ordering rule used by Conversation.AddMessage and
// by integrity checks: two consecutive non-system messages may not share a
// role, except tool messages, which chain while a multi-tool assistant turn
// is being resolved. A tool message must directly follow the assistant
// message that declared its invocations, or a sibling tool result.
func (m *Message) IsValidAfter(prev *Message) bool {
	if prev == nil {
		return m.role != RoleTool
	}
	if m.role == RoleTool {
		if prev.role == RoleTool {
			return true
		}
		return prev.role == RoleAssistant && len(prev.toolInvocations) > 0
	}
	if m.role == prev.role {
		return m.role == RoleSystem
	}
	return true
}

// firstLine returns s up to the first newline.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
