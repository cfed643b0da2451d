package translator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIToAnthropicStreamTextFlow(t *testing.T) {
	s := NewOpenAIToAnthropicStream("sonnet")

	ev1 := s.Convert(OpenAIStreamChunk{
		ID:      "chatcmpl-1",
		Choices: []OpenAIStreamChoice{{Delta: OpenAIStreamDelta{Role: "assistant"}}},
	})
	require.Len(t, ev1, 1)
	assert.Equal(t, "message_start", ev1[0].Type)

	ev2 := s.Convert(OpenAIStreamChunk{
		Choices: []OpenAIStreamChoice{{Delta: OpenAIStreamDelta{Content: "hi"}}},
	})
	require.Len(t, ev2, 2)
	assert.Equal(t, "content_block_start", ev2[0].Type)
	assert.Equal(t, "content_block_delta", ev2[1].Type)
	assert.Equal(t, "hi", ev2[1].Delta.Text)

	reason := "stop"
	ev3 := s.Convert(OpenAIStreamChunk{
		Choices: []OpenAIStreamChoice{{FinishReason: &reason}},
		Usage:   &OpenAIUsage{PromptTokens: 3, CompletionTokens: 2},
	})
	require.Len(t, ev3, 3)
	assert.Equal(t, "content_block_stop", ev3[0].Type)
	assert.Equal(t, "message_delta", ev3[1].Type)
	assert.Equal(t, "end_turn", ev3[1].Delta.StopReason)
	assert.Equal(t, "message_stop", ev3[2].Type)
}

func TestOpenAIToAnthropicStreamToolCalls(t *testing.T) {
	s := NewOpenAIToAnthropicStream("sonnet")
	s.Convert(OpenAIStreamChunk{ID: "x", Choices: []OpenAIStreamChoice{{Delta: OpenAIStreamDelta{Role: "assistant"}}}})

	ev := s.Convert(OpenAIStreamChunk{
		Choices: []OpenAIStreamChoice{{Delta: OpenAIStreamDelta{
			ToolCalls: []OpenAIToolCallDelta{{Index: 0, ID: "call_1", Function: OpenAIFunctionCallDelta{Name: "lookup"}}},
		}}},
	})
	require.Len(t, ev, 1)
	assert.Equal(t, "content_block_start", ev[0].Type)
	assert.Equal(t, "tool_use", ev[0].ContentBlock.Type)

	ev2 := s.Convert(OpenAIStreamChunk{
		Choices: []OpenAIStreamChoice{{Delta: OpenAIStreamDelta{
			ToolCalls: []OpenAIToolCallDelta{{Index: 0, Function: OpenAIFunctionCallDelta{Arguments: `{"q":1}`}}},
		}}},
	})
	require.Len(t, ev2, 1)
	assert.Equal(t, "content_block_delta", ev2[0].Type)
	assert.Equal(t, `{"q":1}`, ev2[0].Delta.PartialJSON)
}

func TestAnthropicToOpenAIStreamTextFlow(t *testing.T) {
	s := NewAnthropicToOpenAIStream("sonnet")

	chunks, done := s.Convert(AnthropicStreamEvent{Type: "message_start", Message: &AnthropicResponse{ID: "msg_1"}})
	require.False(t, done)
	require.Len(t, chunks, 1)
	assert.Equal(t, "assistant", chunks[0].Choices[0].Delta.Role)

	chunks, done = s.Convert(AnthropicStreamEvent{Type: "content_block_start", Index: 0, ContentBlock: &AnthropicContent{Type: "text"}})
	require.False(t, done)
	assert.Empty(t, chunks)

	chunks, done = s.Convert(AnthropicStreamEvent{Type: "content_block_delta", Index: 0, Delta: &AnthropicDelta{Type: "text_delta", Text: "hi"}})
	require.False(t, done)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hi", chunks[0].Choices[0].Delta.Content)

	chunks, done = s.Convert(AnthropicStreamEvent{Type: "message_delta", Delta: &AnthropicDelta{StopReason: "end_turn"}})
	require.False(t, done)
	require.Len(t, chunks, 1)
	require.NotNil(t, chunks[0].Choices[0].FinishReason)
	assert.Equal(t, "stop", *chunks[0].Choices[0].FinishReason)

	_, done = s.Convert(AnthropicStreamEvent{Type: "message_stop"})
	assert.True(t, done)
}

func TestAnthropicToOpenAIStreamToolUse(t *testing.T) {
	s := NewAnthropicToOpenAIStream("sonnet")
	s.Convert(AnthropicStreamEvent{Type: "message_start", Message: &AnthropicResponse{ID: "msg_1"}})

	chunks, _ := s.Convert(AnthropicStreamEvent{
		Type:         "content_block_start",
		Index:        1,
		ContentBlock: &AnthropicContent{Type: "tool_use", ID: "toolu_1", Name: "lookup"},
	})
	require.Len(t, chunks, 1)
	require.Len(t, chunks[0].Choices[0].Delta.ToolCalls, 1)
	assert.Equal(t, "lookup", chunks[0].Choices[0].Delta.ToolCalls[0].Function.Name)

	chunks, _ = s.Convert(AnthropicStreamEvent{
		Type:  "content_block_delta",
		Index: 1,
		Delta: &AnthropicDelta{Type: "input_json_delta", PartialJSON: `{"q":1}`},
	})
	require.Len(t, chunks, 1)
	assert.Equal(t, `{"q":1}`, chunks[0].Choices[0].Delta.ToolCalls[0].Function.Arguments)
}
