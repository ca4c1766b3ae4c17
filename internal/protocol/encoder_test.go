package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parley-ai/parley/internal/domain"
)

func TestEncodeText(t *testing.T) {
	frame, err := EncodeText("hello")
	require.NoError(t, err)
	require.Equal(t, "0:\"hello\"\n", frame)

	// Newlines inside the payload stay escaped; the frame is one line.
	frame, err = EncodeText("a\nb")
	require.NoError(t, err)
	require.Equal(t, "0:\"a\\nb\"\n", frame)
}

func TestEncodeToolCall(t *testing.T) {
	frame, err := EncodeToolCall("c1", "get_current_weather", map[string]any{"latitude": 52.52})
	require.NoError(t, err)
	require.Equal(t, "9:{\"toolCallId\":\"c1\",\"toolName\":\"get_current_weather\",\"args\":{\"latitude\":52.52}}\n", frame)
}

func TestEncodeToolResult(t *testing.T) {
	frame, err := EncodeToolResult("c1", "get_current_weather", map[string]any{"temp": 20})
	require.NoError(t, err)
	require.Equal(t, "a:{\"toolCallId\":\"c1\",\"toolName\":\"get_current_weather\",\"result\":{\"temp\":20}}\n", frame)
}

func TestEncodeToolResultError(t *testing.T) {
	frame, err := EncodeToolResult("c1", "get_current_weather", ErrorResult("upstream down"))
	require.NoError(t, err)
	require.Contains(t, frame, "\"error\":true")
	require.Contains(t, frame, "\"message\":\"upstream down\"")
}

func TestEncodeFinish(t *testing.T) {
	frame, err := EncodeFinish(domain.TokenUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30}, "stop")
	require.NoError(t, err)
	require.Equal(t, "e:{\"finishReason\":\"stop\",\"usage\":{\"promptTokens\":10,\"completionTokens\":20},\"isContinued\":false}\n", frame)
}

func TestEncodeError(t *testing.T) {
	frame, err := EncodeError("boom")
	require.NoError(t, err)
	require.Equal(t, "3:\"boom\"\n", frame)
}
