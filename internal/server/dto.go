package server

import (
	"encoding/json"
	"time"

	"github.com/parley-ai/parley/internal/domain"
	"github.com/parley-ai/parley/internal/protocol"
)

// Tool invocation states used by the client-side message shape.
const (
	invocationStatePartialCall = "partial-call"
	invocationStateCall        = "call"
	invocationStateResult      = "result"
)

// ClientAttachment is the wire shape of a message attachment.
type ClientAttachment struct {
	Name        string `json:"name,omitempty"`
	ContentType string `json:"contentType"`
	URL         string `json:"url"`
}

// ClientToolInvocation is the wire shape of a tool invocation. State is
// "partial-call", "call" or "result"; Result is only meaningful for "result".
type ClientToolInvocation struct {
	State      string         `json:"state"`
	ToolCallID string         `json:"toolCallId"`
	ToolName   string         `json:"toolName"`
	Args       map[string]any `json:"args"`
	Result     any            `json:"result,omitempty"`
}

// ClientMessage is one message as sent by AI SDK clients. Resolved tool
// invocations are embedded in the assistant message rather than carried as
// separate tool-role messages.
type ClientMessage struct {
	Role                    string                 `json:"role"`
	Content                 string                 `json:"content"`
	ExperimentalAttachments []ClientAttachment     `json:"experimental_attachments,omitempty"`
	ToolInvocations         []ClientToolInvocation `json:"toolInvocations,omitempty"`
}

type chatRequest struct {
	ID       string          `json:"id,omitempty"`
	Messages []ClientMessage `json:"messages"`
}

type conversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Status       string    `json:"status"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type conversationDetail struct {
	conversationSummary
	Messages []ClientMessage `json:"messages"`
}

func summarize(c *domain.Conversation) conversationSummary {
	return conversationSummary{
		ID:           c.ID(),
		Title:        c.Title(),
		Status:       string(c.Status()),
		MessageCount: c.MessageCount(),
		CreatedAt:    c.CreatedAt(),
		UpdatedAt:    c.UpdatedAt(),
	}
}

func detail(c *domain.Conversation) conversationDetail {
	d := conversationDetail{conversationSummary: summarize(c)}
	for _, m := range c.Messages() {
		// Tool-role messages duplicate invocation results already embedded in
		// the preceding assistant message; the client shape folds them away.
		if m.Role() == domain.RoleTool {
			continue
		}
		d.Messages = append(d.Messages, messageToClient(m))
	}
	return d
}

func messageToClient(m *domain.Message) ClientMessage {
	cm := ClientMessage{Role: string(m.Role()), Content: m.Content()}
	for _, att := range m.Attachments() {
		cm.ExperimentalAttachments = append(cm.ExperimentalAttachments, ClientAttachment{
			Name:        att.Name,
			ContentType: att.ContentType,
			URL:         att.URL,
		})
	}
	for _, inv := range m.ToolInvocations() {
		ci := ClientToolInvocation{
			ToolCallID: inv.CallID(),
			ToolName:   inv.ToolName(),
			Args:       inv.Arguments(),
		}
		switch inv.State() {
		case domain.ToolInvocationCompleted:
			ci.State = invocationStateResult
			ci.Result, _ = inv.Result()
		case domain.ToolInvocationFailed:
			ci.State = invocationStateResult
			ci.Result = protocol.ErrorResult(inv.ErrMessage())
		default:
			ci.State = invocationStateCall
		}
		cm.ToolInvocations = append(cm.ToolInvocations, ci)
	}
	return cm
}

// toDomain expands one client message into domain messages. An assistant
// message whose invocations carry results expands into the assistant message
// followed by one tool message per resolved invocation, restoring the
// alternating history the domain model expects.
func (cm ClientMessage) toDomain() ([]*domain.Message, error) {
	switch domain.Role(cm.Role) {
	case domain.RoleUser:
		atts := make([]domain.Attachment, 0, len(cm.ExperimentalAttachments))
		for _, a := range cm.ExperimentalAttachments {
			atts = append(atts, domain.Attachment{Name: a.Name, ContentType: a.ContentType, URL: a.URL})
		}
		msg, err := domain.NewUserMessage(cm.Content, atts...)
		if err != nil {
			return nil, err
		}
		return []*domain.Message{msg}, nil

	case domain.RoleSystem:
		msg, err := domain.NewSystemMessage(cm.Content)
		if err != nil {
			return nil, err
		}
		return []*domain.Message{msg}, nil

	case domain.RoleAssistant:
		var invocations []*domain.ToolInvocation
		var resolved []ClientToolInvocation
		for _, ci := range cm.ToolInvocations {
			inv, err := domain.NewToolInvocation(ci.ToolCallID, ci.ToolName, ci.Args)
			if err != nil {
				return nil, err
			}
			if ci.State == invocationStateResult {
				if err := inv.MarkAsExecuting(); err != nil {
					return nil, err
				}
				if err := inv.Complete(ci.Result); err != nil {
					return nil, err
				}
				resolved = append(resolved, ci)
			}
			invocations = append(invocations, inv)
		}
		msg, err := domain.NewAssistantMessage(cm.Content, invocations)
		if err != nil {
			return nil, err
		}
		out := []*domain.Message{msg}
		for _, ci := range resolved {
			content, err := json.Marshal(ci.Result)
			if err != nil {
				return nil, err
			}
			toolMsg, err := domain.NewToolMessage(string(content), ci.ToolCallID)
			if err != nil {
				return nil, err
			}
			out = append(out, toolMsg)
		}
		return out, nil

	default:
		return nil, &domain.ValidationError{Reason: "unsupported message role: " + cm.Role}
	}
}
