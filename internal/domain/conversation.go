package domain

import (
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"
)

// ConversationStatus is the lifecycle status of a conversation.
type ConversationStatus string

const (
	StatusActive             ConversationStatus = "active"
	StatusWaitingForResponse ConversationStatus = "waiting_for_response"
	StatusCompleted          ConversationStatus = "completed"
	StatusArchived           ConversationStatus = "archived"
)

// IsValid reports whether s is one of the known statuses.
func (s ConversationStatus) IsValid() bool {
	switch s {
	case StatusActive, StatusWaitingForResponse, StatusCompleted, StatusArchived:
		return true
	}
	return false
}

const (
	triggerUserAppended      = "user_appended"
	triggerAssistantAppended = "assistant_appended"
	triggerArchive           = "archive"
	triggerReactivate        = "reactivate"
	triggerMarkCompleted     = "mark_completed"
)

const titleMaxLength = 50

// Conversation is the aggregate root: an append-only ordered message list
// plus a status state machine. All ordering and pending-tool invariants are
// enforced at AddMessage; nothing mutates the list from outside.
type Conversation struct {
	id        string
	title     string
	messages  []*Message
	fsm       *stateless.StateMachine
	metadata  map[string]any
	createdAt time.Time
	updatedAt time.Time
}

func newConversationFSM(initial ConversationStatus) *stateless.StateMachine {
	fsm := stateless.NewStateMachine(initial)
	fsm.Configure(StatusActive).
		Permit(triggerUserAppended, StatusWaitingForResponse).
		PermitReentry(triggerAssistantAppended).
		Permit(triggerArchive, StatusArchived).
		Permit(triggerMarkCompleted, StatusCompleted)
	fsm.Configure(StatusWaitingForResponse).
		Permit(triggerAssistantAppended, StatusActive).
		Permit(triggerArchive, StatusArchived).
		Permit(triggerMarkCompleted, StatusCompleted)
	fsm.Configure(StatusCompleted).
		Permit(triggerArchive, StatusArchived).
		Permit(triggerReactivate, StatusActive)
	fsm.Configure(StatusArchived).
		Permit(triggerReactivate, StatusActive)
	return fsm
}

// NewConversation creates an empty active conversation.
func NewConversation() *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		id:        uuid.NewString(),
		fsm:       newConversationFSM(StatusActive),
		metadata:  map[string]any{},
		createdAt: now,
		updatedAt: now,
	}
}

func (c *Conversation) ID() string           { return c.id }
func (c *Conversation) Title() string        { return c.title }
func (c *Conversation) CreatedAt() time.Time { return c.createdAt }
func (c *Conversation) UpdatedAt() time.Time { return c.updatedAt }

// Status returns the current lifecycle status.
func (c *Conversation) Status() ConversationStatus {
	return c.fsm.MustState().(ConversationStatus)
}

// Metadata returns a defensive copy of the metadata map.
func (c *Conversation) Metadata() map[string]any { return maps.Clone(c.metadata) }

// SetMetadata attaches a metadata value to the conversation.
func (c *Conversation) SetMetadata(key string, value any) {
	c.metadata[key] = value
	c.updatedAt = time.Now().UTC()
}

// Messages returns a defensive copy of the ordered message list.
func (c *Conversation) Messages() []*Message {
	return append([]*Message(nil), c.messages...)
}

func (c *Conversation) MessageCount() int { return len(c.messages) }

// GetLastMessage returns the newest message, or nil when empty.
func (c *Conversation) GetLastMessage() *Message {
	if len(c.messages) == 0 {
		return nil
	}
	return c.messages[len(c.messages)-1]
}

// GetLastUserMessage returns the newest user message, or nil.
func (c *Conversation) GetLastUserMessage() *Message {
	return c.lastWithRole(RoleUser)
}

// GetLastAssistantMessage returns the newest assistant message, or nil.
func (c *Conversation) GetLastAssistantMessage() *Message {
	return c.lastWithRole(RoleAssistant)
}

func (c *Conversation) lastWithRole(role Role) *Message {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].role == role {
			return c.messages[i]
		}
	}
	return nil
}

// CountByRole returns how many messages carry the given role.
func (c *Conversation) CountByRole(role Role) int {
	n := 0
	for _, m := range c.messages {
		if m.role == role {
			n++
		}
	}
	return n
}

// HasPendingToolInvocations reports whether the latest assistant message
// declared tool invocations for which fewer matching tool-result messages
// have been appended than invocations declared. The check deliberately
// compares counts, not call id sets: a partially resolved set still counts
// as pending, and duplicate ids are not deduplicated.
func (c *Conversation) HasPendingToolInvocations() bool {
	lastAssistantIdx := -1
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].role == RoleAssistant {
			lastAssistantIdx = i
			break
		}
	}
	if lastAssistantIdx < 0 {
		return false
	}
	declared := c.messages[lastAssistantIdx].toolInvocations
	if len(declared) == 0 {
		return false
	}
	ids := make(map[string]struct{}, len(declared))
	for _, inv := range declared {
		ids[inv.CallID()] = struct{}{}
	}
	resolved := 0
	for _, m := range c.messages[lastAssistantIdx+1:] {
		if m.role != RoleTool {
			continue
		}
		if _, ok := ids[m.ToolCallID()]; ok {
			resolved++
		}
	}
	return resolved < len(declared)
}

// resolvedToolResultCount counts tool-result messages recorded after the
// latest assistant message that match one of its declared call ids.
func (c *Conversation) resolvedToolResultCount() int {
	lastAssistantIdx := -1
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].role == RoleAssistant {
			lastAssistantIdx = i
			break
		}
	}
	if lastAssistantIdx < 0 {
		return 0
	}
	ids := make(map[string]struct{})
	for _, inv := range c.messages[lastAssistantIdx].toolInvocations {
		ids[inv.CallID()] = struct{}{}
	}
	resolved := 0
	for _, m := range c.messages[lastAssistantIdx+1:] {
		if m.role == RoleTool {
			if _, ok := ids[m.ToolCallID()]; ok {
				resolved++
			}
		}
	}
	return resolved
}

// AddMessage validates capacity, status, ordering and pending-tool rules
// before appending. On the first user message the title is derived; user and
// assistant appends drive the status machine.
func (c *Conversation) AddMessage(m *Message) error {
	status := c.Status()
	if status == StatusCompleted || status == StatusArchived {
		return &ConversationStateError{ConversationID: c.id, Status: status, Op: "add message"}
	}
	if len(c.messages) >= MaxMessagesPerConversation {
		return &ConversationStateError{ConversationID: c.id, Status: status, Op: "add message beyond capacity"}
	}
	if err := (MessageValidator{}).Validate(m); err != nil {
		return err
	}
	if !m.IsValidAfter(c.GetLastMessage()) {
		return validationErrorf("%s message cannot follow the current history", m.role)
	}
	if m.role != RoleTool && m.role != RoleAssistant && c.HasPendingToolInvocations() {
		return &ConversationStateError{ConversationID: c.id, Status: status, Op: "add " + string(m.role) + " message while tool invocations are pending"}
	}

	switch m.role {
	case RoleUser:
		if err := c.fsm.Fire(triggerUserAppended); err != nil {
			return &ConversationStateError{ConversationID: c.id, Status: status, Op: "append user message"}
		}
	case RoleAssistant:
		if err := c.fsm.Fire(triggerAssistantAppended); err != nil {
			return &ConversationStateError{ConversationID: c.id, Status: status, Op: "append assistant message"}
		}
	}

	c.messages = append(c.messages, m)
	if m.role == RoleUser && c.title == "" {
		c.title = deriveTitle(m.content)
	}
	c.updatedAt = time.Now().UTC()
	return nil
}

// Archive moves the conversation to archived.
func (c *Conversation) Archive() error {
	return c.fireStatus(triggerArchive, "archive")
}

// Reactivate returns an archived or completed conversation to active.
func (c *Conversation) Reactivate() error {
	return c.fireStatus(triggerReactivate, "reactivate")
}

// MarkAsCompleted closes the conversation.
func (c *Conversation) MarkAsCompleted() error {
	return c.fireStatus(triggerMarkCompleted, "complete")
}

func (c *Conversation) fireStatus(trigger, op string) error {
	status := c.Status()
	if err := c.fsm.Fire(trigger); err != nil {
		return &ConversationStateError{ConversationID: c.id, Status: status, Op: op}
	}
	c.updatedAt = time.Now().UTC()
	return nil
}

// deriveTitle takes the first line of the first user message, truncated to
// titleMaxLength runes with an ellipsis on overflow.
func deriveTitle(content string) string {
	line := firstLine(content)
	runes := []rune(line)
	if len(runes) <= titleMaxLength {
		return line
	}
	return string(runes[:titleMaxLength]) + "..."
}
