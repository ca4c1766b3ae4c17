package domain

// Per-message and per-conversation limits.
const (
	MaxMessagesPerConversation = 1000
	MaxContentLength           = 32000
	MaxAttachmentsPerMessage   = 10
	MaxToolInvocationsPerMsg   = 10
)

// MessageValidator enforces role-dependent structural rules and size limits.
// It runs at message construction and again on every append, so a message
// rehydrated from storage is held to the same rules as a fresh one.
type MessageValidator struct{}

// Validate returns a ValidationError describing the first violated rule.
func (MessageValidator) Validate(m *Message) error {
	if m == nil {
		return validationErrorf("message is nil")
	}
	if !m.role.IsValid() {
		return validationErrorf("unknown role %q", m.role)
	}

	if len(m.content) > MaxContentLength {
		return validationErrorf("content exceeds %d characters", MaxContentLength)
	}
	if m.content == "" {
		// Empty content is tolerated only on assistant turns that carry
		// tool invocations instead of text.
		if m.role != RoleAssistant || len(m.toolInvocations) == 0 {
			return validationErrorf("%s message content cannot be empty", m.role)
		}
	}

	if len(m.attachments) > MaxAttachmentsPerMessage {
		return validationErrorf("message has %d attachments, limit is %d", len(m.attachments), MaxAttachmentsPerMessage)
	}
	for _, a := range m.attachments {
		if a.ContentType == "" || a.URL == "" {
			return validationErrorf("attachment requires content_type and url")
		}
	}

	if m.role != RoleAssistant && len(m.toolInvocations) > 0 {
		return validationErrorf("only assistant messages may declare tool invocations")
	}
	if m.role == RoleSystem && len(m.attachments) > 0 {
		return validationErrorf("system messages may not carry attachments")
	}

	if len(m.toolInvocations) > MaxToolInvocationsPerMsg {
		return validationErrorf("message declares %d tool invocations, limit is %d", len(m.toolInvocations), MaxToolInvocationsPerMsg)
	}
	seen := make(map[string]struct{}, len(m.toolInvocations))
	for _, inv := range m.toolInvocations {
		if inv == nil {
			return validationErrorf("nil tool invocation")
		}
		if _, dup := seen[inv.CallID()]; dup {
			return validationErrorf("duplicate tool call id %q", inv.CallID())
		}
		seen[inv.CallID()] = struct{}{}
	}
	return nil
}
