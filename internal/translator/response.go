package translator

// finishReasonToAnthropic maps OpenAI finish_reason to Anthropic
// stop_reason, best-effort per spec.md §4.4.
func finishReasonToAnthropic(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	case "content_filter":
		return "stop_sequence"
	default:
		return "end_turn"
	}
}

func finishReasonToOpenAI(reason string) string {
	switch reason {
	case "end_turn":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	case "stop_sequence":
		return "content_filter"
	default:
		return "stop"
	}
}

// ResponseToAnthropic converts a non-streaming OpenAI response into
// Anthropic form, requestedModel becoming the response's model field
// (Anthropic echoes the virtual model, not the upstream one).
func ResponseToAnthropic(in OpenAIResponse, requestedModel string) AnthropicResponse {
	out := AnthropicResponse{
		ID:    in.ID,
		Type:  "message",
		Role:  "assistant",
		Model: requestedModel,
		Usage: AnthropicUsage{
			InputTokens:  in.Usage.PromptTokens,
			OutputTokens: in.Usage.CompletionTokens,
		},
	}
	if len(in.Choices) == 0 {
		return out
	}
	choice := in.Choices[0]
	out.StopReason = finishReasonToAnthropic(choice.FinishReason)

	if choice.Message.Content != "" {
		out.Content = append(out.Content, AnthropicContent{Type: "text", Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		out.Content = append(out.Content, AnthropicContent{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: rawJSONToInterface(tc.Function.Arguments),
		})
	}
	return out
}

// ResponseToOpenAI converts a non-streaming Anthropic response into
// OpenAI form.
func ResponseToOpenAI(in AnthropicResponse, requestedModel string) (OpenAIResponse, error) {
	out := OpenAIResponse{
		ID:     in.ID,
		Object: "chat.completion",
		Model:  requestedModel,
		Usage: OpenAIUsage{
			PromptTokens:     in.Usage.InputTokens,
			CompletionTokens: in.Usage.OutputTokens,
			TotalTokens:      in.Usage.InputTokens + in.Usage.OutputTokens,
		},
	}

	var text string
	var toolCalls []OpenAIToolCall
	for _, c := range in.Content {
		switch c.Type {
		case "text":
			text += c.Text
		case "tool_use":
			args, err := interfaceToRawJSON(c.Input)
			if err != nil {
				return OpenAIResponse{}, err
			}
			toolCalls = append(toolCalls, OpenAIToolCall{
				ID:   c.ID,
				Type: "function",
				Function: OpenAIFunctionCall{
					Name:      c.Name,
					Arguments: args,
				},
			})
		}
	}

	out.Choices = []OpenAIChoice{{
		Index: 0,
		Message: OpenAIMessage{
			Role:      "assistant",
			Content:   text,
			ToolCalls: toolCalls,
		},
		FinishReason: finishReasonToOpenAI(in.StopReason),
	}}
	return out, nil
}
