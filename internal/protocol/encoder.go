// Package protocol encodes streaming turn events as Vercel data stream
// protocol v1 frames: newline-delimited `<prefix>:<json>` lines. Encoding is
// stateless and order-preserving; clients reconstruct the turn by
// concatenating text frames and indexing tool frames by call id.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/parley-ai/parley/internal/domain"
)

// Frame type prefixes.
const (
	PrefixText       = "0"
	PrefixError      = "3"
	PrefixToolCall   = "9"
	PrefixToolResult = "a"
	PrefixFinish     = "e"
)

// Response headers identifying this transport to clients.
const (
	ContentType       = "text/event-stream"
	HeaderDataStream  = "x-vercel-ai-data-stream"
	DataStreamVersion = "v1"
)

// Sink is the abstract destination for encoded frames.
type Sink interface {
	Write(frame string) error
	Close() error
}

type toolCallPayload struct {
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
	Args       any    `json:"args"`
}

type toolResultPayload struct {
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
	Result     any    `json:"result"`
}

type finishPayload struct {
	FinishReason string      `json:"finishReason"`
	Usage        finishUsage `json:"usage"`
	IsContinued  bool        `json:"isContinued"`
}

type finishUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

func frame(prefix string, payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s frame: %w", prefix, err)
	}
	return prefix + ":" + string(b) + "\n", nil
}

// EncodeText encodes a text delta, e.g. `0:"hello"`.
func EncodeText(text string) (string, error) {
	return frame(PrefixText, text)
}

// EncodeToolCall encodes a tool invocation frame.
func EncodeToolCall(callID, toolName string, args map[string]any) (string, error) {
	return frame(PrefixToolCall, toolCallPayload{ToolCallID: callID, ToolName: toolName, Args: args})
}

// EncodeToolResult encodes a tool result frame. Failures are encoded with a
// `{"error":true,"message":…}` result payload by the caller.
func EncodeToolResult(callID, toolName string, result any) (string, error) {
	return frame(PrefixToolResult, toolResultPayload{ToolCallID: callID, ToolName: toolName, Result: result})
}

// EncodeFinish encodes the terminal usage frame.
func EncodeFinish(usage domain.TokenUsage, finishReason string) (string, error) {
	return frame(PrefixFinish, finishPayload{
		FinishReason: finishReason,
		Usage:        finishUsage{PromptTokens: usage.PromptTokens, CompletionTokens: usage.CompletionTokens},
	})
}

// EncodeError encodes an error frame, e.g. `3:"boom"`.
func EncodeError(message string) (string, error) {
	return frame(PrefixError, message)
}

// ErrorResult is the tool-result payload used when a tool execution fails.
// The failure is surfaced inside a regular tool-result frame so the turn can
// continue.
func ErrorResult(message string) map[string]any {
	return map[string]any{"error": true, "message": message}
}
