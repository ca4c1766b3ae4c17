package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"
)

// StreamingState is the lifecycle state of one streaming turn.
type StreamingState string

const (
	StreamingIdle      StreamingState = "idle"
	StreamingActive    StreamingState = "streaming"
	StreamingCompleted StreamingState = "completed"
	StreamingFailed    StreamingState = "failed"
	StreamingCancelled StreamingState = "cancelled"
)

const (
	triggerStreamStart    = "start"
	triggerStreamComplete = "complete"
	triggerStreamFail     = "fail"
	triggerStreamCancel   = "cancel"
)

// ChunkKind classifies an accumulated protocol chunk.
type ChunkKind string

const (
	ChunkText       ChunkKind = "text"
	ChunkToolCall   ChunkKind = "tool_call"
	ChunkToolResult ChunkKind = "tool_result"
	ChunkFinish     ChunkKind = "finish"
	ChunkError      ChunkKind = "error"
)

// TokenUsage is the provider-reported token accounting for one turn.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// StreamChunk is one timestamped unit accumulated by a StreamingResponse.
// Only the fields relevant to Kind are populated.
type StreamChunk struct {
	Kind         ChunkKind
	Text         string
	ToolCallID   string
	ToolName     string
	Args         map[string]any
	Result       any
	Usage        *TokenUsage
	FinishReason string
	ErrMessage   string
	Timestamp    time.Time
}

// StreamingResponse is the per-turn state machine accumulating protocol
// chunks. It is a transient coordination object: never persisted, its
// terminal outcome is folded back into the conversation as an assistant
// message while its chunks are mirrored onto the wire.
type StreamingResponse struct {
	id             string
	conversationID string
	fsm            *stateless.StateMachine
	chunks         []StreamChunk
	usage          *TokenUsage
	finishReason   string
	startedAt      *time.Time
	completedAt    *time.Time
}

func newStreamingFSM(initial StreamingState) *stateless.StateMachine {
	fsm := stateless.NewStateMachine(initial)
	fsm.Configure(StreamingIdle).
		Permit(triggerStreamStart, StreamingActive)
	fsm.Configure(StreamingActive).
		Permit(triggerStreamComplete, StreamingCompleted).
		Permit(triggerStreamFail, StreamingFailed).
		Permit(triggerStreamCancel, StreamingCancelled)
	return fsm
}

// NewStreamingResponse creates an idle streaming response bound to a
// conversation.
func NewStreamingResponse(conversationID string) *StreamingResponse {
	return &StreamingResponse{
		id:             uuid.NewString(),
		conversationID: conversationID,
		fsm:            newStreamingFSM(StreamingIdle),
	}
}

func (sr *StreamingResponse) ID() string             { return sr.id }
func (sr *StreamingResponse) ConversationID() string { return sr.conversationID }

// State returns the current lifecycle state.
func (sr *StreamingResponse) State() StreamingState {
	return sr.fsm.MustState().(StreamingState)
}

func (sr *StreamingResponse) IsStreaming() bool { return sr.State() == StreamingActive }
func (sr *StreamingResponse) IsCompleted() bool { return sr.State() == StreamingCompleted }

// IsTerminal reports whether the turn reached completed, failed or cancelled.
func (sr *StreamingResponse) IsTerminal() bool {
	switch sr.State() {
	case StreamingCompleted, StreamingFailed, StreamingCancelled:
		return true
	}
	return false
}

// Chunks returns a defensive copy of the accumulated chunk list.
func (sr *StreamingResponse) Chunks() []StreamChunk {
	return append([]StreamChunk(nil), sr.chunks...)
}

func (sr *StreamingResponse) Usage() *TokenUsage    { return sr.usage }
func (sr *StreamingResponse) FinishReason() string  { return sr.finishReason }
func (sr *StreamingResponse) StartedAt() *time.Time { return sr.startedAt }

func (sr *StreamingResponse) fire(trigger, action string) error {
	from := sr.State()
	if err := sr.fsm.Fire(trigger); err != nil {
		return &TransitionError{Entity: "streaming response", ID: sr.id, From: string(from), Action: action}
	}
	return nil
}

// Start moves idle→streaming.
func (sr *StreamingResponse) Start() error {
	if err := sr.fire(triggerStreamStart, "start"); err != nil {
		return err
	}
	now := time.Now().UTC()
	sr.startedAt = &now
	return nil
}

func (sr *StreamingResponse) appendChunk(c StreamChunk) error {
	if sr.State() != StreamingActive {
		return &TransitionError{Entity: "streaming response", ID: sr.id, From: string(sr.State()), Action: "append " + string(c.Kind) + " chunk"}
	}
	c.Timestamp = time.Now().UTC()
	sr.chunks = append(sr.chunks, c)
	return nil
}

// AddTextChunk records an incremental text delta.
func (sr *StreamingResponse) AddTextChunk(text string) error {
	return sr.appendChunk(StreamChunk{Kind: ChunkText, Text: text})
}

// AddToolCallChunk records a materialized tool invocation.
func (sr *StreamingResponse) AddToolCallChunk(inv *ToolInvocation) error {
	return sr.appendChunk(StreamChunk{
		Kind:       ChunkToolCall,
		ToolCallID: inv.CallID(),
		ToolName:   inv.ToolName(),
		Args:       inv.Arguments(),
	})
}

// AddToolResultChunk records the outcome of one tool execution.
func (sr *StreamingResponse) AddToolResultChunk(callID, toolName string, result any) error {
	return sr.appendChunk(StreamChunk{
		Kind:       ChunkToolResult,
		ToolCallID: callID,
		ToolName:   toolName,
		Result:     result,
	})
}

// Complete appends a synthetic finish chunk and moves streaming→completed.
func (sr *StreamingResponse) Complete(usage TokenUsage, finishReason string) error {
	if err := sr.appendChunk(StreamChunk{Kind: ChunkFinish, Usage: &usage, FinishReason: finishReason}); err != nil {
		return err
	}
	if err := sr.fire(triggerStreamComplete, "complete"); err != nil {
		return err
	}
	now := time.Now().UTC()
	sr.usage = &usage
	sr.finishReason = finishReason
	sr.completedAt = &now
	return nil
}

// Fail appends an error chunk and moves streaming→failed.
func (sr *StreamingResponse) Fail(message string) error {
	if err := sr.appendChunk(StreamChunk{Kind: ChunkError, ErrMessage: message}); err != nil {
		return err
	}
	if err := sr.fire(triggerStreamFail, "fail"); err != nil {
		return err
	}
	now := time.Now().UTC()
	sr.completedAt = &now
	return nil
}

// Cancel moves streaming→cancelled without appending a chunk.
func (sr *StreamingResponse) Cancel() error {
	if err := sr.fire(triggerStreamCancel, "cancel"); err != nil {
		return err
	}
	now := time.Now().UTC()
	sr.completedAt = &now
	return nil
}

// StreamingDuration is defined only once a terminal state is reached.
func (sr *StreamingResponse) StreamingDuration() (time.Duration, error) {
	if !sr.IsTerminal() || sr.startedAt == nil || sr.completedAt == nil {
		return 0, &TransitionError{Entity: "streaming response", ID: sr.id, From: string(sr.State()), Action: "measure duration"}
	}
	return sr.completedAt.Sub(*sr.startedAt), nil
}
