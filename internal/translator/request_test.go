package translator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestToAnthropicDefaultsMaxTokens(t *testing.T) {
	in := OpenAIRequest{
		Model:    "sonnet",
		Messages: []OpenAIMessage{{Role: "user", Content: "hi"}},
	}
	out, err := RequestToAnthropic(in, "claude-3-5-sonnet")
	require.NoError(t, err)
	assert.Equal(t, defaultMaxTokens, out.MaxTokens)
	assert.Equal(t, "claude-3-5-sonnet", out.Model)
}

func TestRequestToAnthropicExtractsSystem(t *testing.T) {
	in := OpenAIRequest{
		Messages: []OpenAIMessage{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "hi"},
		},
	}
	out, err := RequestToAnthropic(in, "m")
	require.NoError(t, err)
	require.NotNil(t, out.System)
	assert.Equal(t, "be terse", out.System.Text)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "user", out.Messages[0].Role)
}

func TestRequestToAnthropicMergesAdjacentSameRole(t *testing.T) {
	in := OpenAIRequest{
		Messages: []OpenAIMessage{
			{Role: "user", Content: "first"},
			{Role: "tool", ToolCallID: "call_1", Content: "result"},
		},
	}
	out, err := RequestToAnthropic(in, "m")
	require.NoError(t, err)
	// "tool" becomes a "user" message containing tool_result; since the
	// prior message is also "user" role they should merge into one.
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "user", out.Messages[0].Role)
	require.Len(t, out.Messages[0].Content, 2)
	assert.Equal(t, "tool_result", out.Messages[0].Content[1].Type)
}

func TestRequestToAnthropicToolCallsBecomeToolUse(t *testing.T) {
	in := OpenAIRequest{
		Messages: []OpenAIMessage{
			{Role: "assistant", ToolCalls: []OpenAIToolCall{
				{ID: "call_1", Type: "function", Function: OpenAIFunctionCall{Name: "lookup", Arguments: `{"q":"x"}`}},
			}},
		},
	}
	out, err := RequestToAnthropic(in, "m")
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)
	require.Len(t, out.Messages[0].Content, 1)
	block := out.Messages[0].Content[0]
	assert.Equal(t, "tool_use", block.Type)
	assert.Equal(t, "lookup", block.Name)
}

func TestRequestToOpenAIRoundTripsSystem(t *testing.T) {
	in := AnthropicRequest{
		System:    &AnthropicSystem{Text: "be terse"},
		MaxTokens: 512,
		Messages: []AnthropicMessage{
			{Role: "user", Content: []AnthropicContent{{Type: "text", Text: "hi"}}},
		},
	}
	out, err := RequestToOpenAI(in, "gpt-4o")
	require.NoError(t, err)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, "system", out.Messages[0].Role)
	assert.Equal(t, "be terse", out.Messages[0].Content)
	assert.Equal(t, "user", out.Messages[1].Role)
	require.NotNil(t, out.MaxTokens)
	assert.Equal(t, 512, *out.MaxTokens)
}

func TestRequestToOpenAISplitsToolResult(t *testing.T) {
	in := AnthropicRequest{
		MaxTokens: 100,
		Messages: []AnthropicMessage{
			{Role: "user", Content: []AnthropicContent{
				{Type: "tool_result", ToolUseID: "call_1", Content: "42"},
			}},
		},
	}
	out, err := RequestToOpenAI(in, "gpt-4o")
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "tool", out.Messages[0].Role)
	assert.Equal(t, "call_1", out.Messages[0].ToolCallID)
}

func TestToolChoiceMapping(t *testing.T) {
	got := openAIToAnthropicToolChoice(OpenAIToolChoice{Mode: "function", FunctionName: "lookup"})
	assert.Equal(t, "tool", got.Type)
	assert.Equal(t, "lookup", got.Name)

	back := anthropicToOpenAIToolChoice(*got)
	assert.Equal(t, "function", back.Mode)
	assert.Equal(t, "lookup", back.FunctionName)
}
