package domain

import "fmt"

// NextAction is the orchestrator's suggestion for what a caller should do
// next with a conversation.
type NextAction string

const (
	ActionWaitForUser      NextAction = "wait_for_user"
	ActionProcessTools     NextAction = "process_tools"
	ActionGenerateResponse NextAction = "generate_response"
	ActionComplete         NextAction = "complete"
)

// ConversationMetrics summarizes a conversation for operational tooling.
type ConversationMetrics struct {
	MessageCount              int
	RoleCounts                map[Role]int
	ToolInvocationCount       int
	AvgAssistantContentLength float64
	HasPendingToolInvocations bool
}

// Orchestrator is a stateless domain service enforcing cross-entity rules:
// whether a stream may start, whether a message may be appended, and what
// should happen next. It holds no state of its own.
type Orchestrator struct{}

// PrepareForStreaming checks that a streaming turn may start and returns a
// fresh StreamingResponse bound to the conversation. Streaming is refused on
// completed or archived conversations, and when the latest assistant message
// declared tool invocations of which none have been resolved yet. A
// partially resolved set is tolerated so multi-tool turns can proceed
// incrementally.
func (Orchestrator) PrepareForStreaming(c *Conversation) (*StreamingResponse, error) {
	status := c.Status()
	if status == StatusCompleted || status == StatusArchived {
		return nil, &ConversationStateError{ConversationID: c.ID(), Status: status, Op: "start streaming"}
	}
	if c.HasPendingToolInvocations() && c.resolvedToolResultCount() == 0 {
		return nil, &ConversationStateError{ConversationID: c.ID(), Status: status, Op: "start streaming with unresolved tool invocations"}
	}
	return NewStreamingResponse(c.ID()), nil
}

// ProcessUserMessage validates and appends a user message.
func (Orchestrator) ProcessUserMessage(c *Conversation, m *Message) error {
	if m.Role() != RoleUser {
		return validationErrorf("expected user message, got %s", m.Role())
	}
	if err := (MessageValidator{}).Validate(m); err != nil {
		return err
	}
	return c.AddMessage(m)
}

// ProcessAssistantMessage validates and appends an assistant message and
// returns its tool invocations for execution by the caller. When a streaming
// response is attached it must either be completed already, or the message
// must itself declare tool invocations, so a turn that produced tool calls
// may be appended before the provider signals completion.
func (Orchestrator) ProcessAssistantMessage(c *Conversation, m *Message, sr *StreamingResponse) ([]*ToolInvocation, error) {
	if m.Role() != RoleAssistant {
		return nil, validationErrorf("expected assistant message, got %s", m.Role())
	}
	if err := (MessageValidator{}).Validate(m); err != nil {
		return nil, err
	}
	if sr != nil && !sr.IsCompleted() && len(m.ToolInvocations()) == 0 {
		return nil, &TransitionError{
			Entity: "streaming response",
			ID:     sr.ID(),
			From:   string(sr.State()),
			Action: "append assistant message without tool invocations",
		}
	}
	if err := c.AddMessage(m); err != nil {
		return nil, err
	}
	return m.ToolInvocations(), nil
}

// ProcessToolResults is a precondition check, not a state mutator: it fails
// if any passed invocation has not reached a finished state.
func (Orchestrator) ProcessToolResults(invocations []*ToolInvocation) error {
	for _, inv := range invocations {
		if !inv.IsFinished() {
			return &TransitionError{
				Entity: "tool invocation",
				ID:     inv.CallID(),
				From:   string(inv.State()),
				Action: "record result",
			}
		}
	}
	return nil
}

// CanContinue reports whether the conversation can accept further turns.
func (Orchestrator) CanContinue(c *Conversation) bool {
	status := c.Status()
	if status == StatusCompleted || status == StatusArchived {
		return false
	}
	return c.MessageCount() < MaxMessagesPerConversation
}

// SuggestNextAction inspects the conversation and proposes the next step.
func (o Orchestrator) SuggestNextAction(c *Conversation) NextAction {
	if !o.CanContinue(c) {
		return ActionComplete
	}
	if c.HasPendingToolInvocations() {
		return ActionProcessTools
	}
	last := c.GetLastMessage()
	if last == nil {
		return ActionWaitForUser
	}
	switch last.Role() {
	case RoleUser, RoleTool:
		return ActionGenerateResponse
	default:
		return ActionWaitForUser
	}
}

// ValidateConversationIntegrity re-checks the full history: pairwise ordering
// plus orphaned tool messages whose call id matches no invocation declared by
// the preceding assistant turn. It returns a list of human-readable issues;
// an empty list means the history is consistent.
func (Orchestrator) ValidateConversationIntegrity(c *Conversation) []string {
	var issues []string
	msgs := c.Messages()
	var prev *Message
	declaredIDs := map[string]struct{}{}
	for i, m := range msgs {
		if err := (MessageValidator{}).Validate(m); err != nil {
			issues = append(issues, fmt.Sprintf("message %d: %v", i, err))
		}
		if !m.IsValidAfter(prev) {
			issues = append(issues, fmt.Sprintf("message %d: %s may not follow %s", i, m.Role(), roleOf(prev)))
		}
		switch m.Role() {
		case RoleAssistant:
			declaredIDs = map[string]struct{}{}
			for _, inv := range m.ToolInvocations() {
				declaredIDs[inv.CallID()] = struct{}{}
			}
		case RoleTool:
			if _, ok := declaredIDs[m.ToolCallID()]; !ok {
				issues = append(issues, fmt.Sprintf("message %d: orphaned tool message with call id %q", i, m.ToolCallID()))
			}
		}
		prev = m
	}
	return issues
}

// CalculateMetrics computes message and role counts, the tool invocation
// total, and the mean assistant content length.
func (Orchestrator) CalculateMetrics(c *Conversation) ConversationMetrics {
	metrics := ConversationMetrics{
		MessageCount:              c.MessageCount(),
		RoleCounts:                map[Role]int{},
		HasPendingToolInvocations: c.HasPendingToolInvocations(),
	}
	assistantChars, assistantCount := 0, 0
	for _, m := range c.Messages() {
		metrics.RoleCounts[m.Role()]++
		metrics.ToolInvocationCount += len(m.ToolInvocations())
		if m.Role() == RoleAssistant {
			assistantChars += len(m.Content())
			assistantCount++
		}
	}
	if assistantCount > 0 {
		metrics.AvgAssistantContentLength = float64(assistantChars) / float64(assistantCount)
	}
	return metrics
}

func roleOf(m *Message) string {
	if m == nil {
		return "start of conversation"
	}
	return string(m.Role())
}
