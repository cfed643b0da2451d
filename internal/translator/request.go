package translator

import "github.com/llmpool/gateway/internal/apperr"

// defaultMaxTokens is substituted for an OpenAI request that omits
// max_tokens, a field Anthropic requires, per spec.md §4.4.
const defaultMaxTokens = 4096

// RequestToAnthropic converts an inbound OpenAI request into Anthropic
// form, replacing the model with upstreamModel.
func RequestToAnthropic(in OpenAIRequest, upstreamModel string) (AnthropicRequest, error) {
	out := AnthropicRequest{
		Model:       upstreamModel,
		Temperature: in.Temperature,
		TopP:        in.TopP,
		Stream:      in.Stream,
	}

	if in.MaxTokens != nil {
		out.MaxTokens = *in.MaxTokens
	} else {
		out.MaxTokens = defaultMaxTokens
	}
	if in.Stop != nil {
		out.StopSequences = in.Stop.Values
	}

	system, messages, err := openAIMessagesToAnthropic(in.Messages)
	if err != nil {
		return AnthropicRequest{}, err
	}
	if system != "" {
		out.System = &AnthropicSystem{Text: system}
	}
	out.Messages = messages

	if len(in.Tools) > 0 {
		out.Tools = make([]AnthropicTool, len(in.Tools))
		for i, t := range in.Tools {
			out.Tools[i] = AnthropicTool{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				InputSchema: t.Function.Parameters,
			}
		}
	}
	if in.ToolChoice != nil {
		out.ToolChoice = openAIToAnthropicToolChoice(*in.ToolChoice)
	}
	return out, nil
}

func openAIMessagesToAnthropic(in []OpenAIMessage) (system string, out []AnthropicMessage, err error) {
	for _, m := range in {
		switch m.Role {
		case "system":
			if system != "" {
				system += "\n"
			}
			system += m.Content
		case "user", "assistant":
			content, cerr := openAIMessageContent(m)
			if cerr != nil {
				return "", nil, cerr
			}
			out = appendOrMerge(out, AnthropicMessage{Role: m.Role, Content: content})
		case "tool":
			content := []AnthropicContent{{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.Content,
			}}
			out = appendOrMerge(out, AnthropicMessage{Role: "user", Content: content})
		default:
			return "", nil, apperr.New(apperr.TypeTranslation, "unsupported message role: "+m.Role, nil)
		}
	}
	return system, out, nil
}

func openAIMessageContent(m OpenAIMessage) ([]AnthropicContent, error) {
	var blocks []AnthropicContent
	if m.Content != "" {
		blocks = append(blocks, AnthropicContent{Type: "text", Text: m.Content})
	}
	for _, tc := range m.ToolCalls {
		blocks = append(blocks, AnthropicContent{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: rawJSONToInterface(tc.Function.Arguments),
		})
	}
	return blocks, nil
}

// appendOrMerge merges a new message into the previous one in out if
// they share the same role, per spec.md §4.4's "adjacent same-role
// messages are merged" rule.
func appendOrMerge(out []AnthropicMessage, m AnthropicMessage) []AnthropicMessage {
	if len(out) > 0 && out[len(out)-1].Role == m.Role {
		out[len(out)-1].Content = append(out[len(out)-1].Content, m.Content...)
		return out
	}
	return append(out, m)
}

func openAIToAnthropicToolChoice(c OpenAIToolChoice) *AnthropicToolChoice {
	switch c.Mode {
	case "none":
		return &AnthropicToolChoice{Type: "none"}
	case "function":
		return &AnthropicToolChoice{Type: "tool", Name: c.FunctionName}
	default:
		return &AnthropicToolChoice{Type: "auto"}
	}
}

// RequestToOpenAI converts an inbound Anthropic request into OpenAI
// form, replacing the model with upstreamModel.
func RequestToOpenAI(in AnthropicRequest, upstreamModel string) (OpenAIRequest, error) {
	out := OpenAIRequest{
		Model:       upstreamModel,
		Temperature: in.Temperature,
		TopP:        in.TopP,
		Stream:      in.Stream,
	}
	maxTokens := in.MaxTokens
	out.MaxTokens = &maxTokens
	if len(in.StopSequences) > 0 {
		out.Stop = &OpenAIStop{Values: in.StopSequences}
	}

	var messages []OpenAIMessage
	if in.System != nil && in.System.Text != "" {
		messages = append(messages, OpenAIMessage{Role: "system", Content: in.System.Text})
	}
	for _, m := range in.Messages {
		converted, err := anthropicMessageToOpenAI(m)
		if err != nil {
			return OpenAIRequest{}, err
		}
		messages = append(messages, converted...)
	}
	out.Messages = messages

	if len(in.Tools) > 0 {
		out.Tools = make([]OpenAITool, len(in.Tools))
		for i, t := range in.Tools {
			out.Tools[i] = OpenAITool{
				Type: "function",
				Function: OpenAIToolFunction{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.InputSchema,
				},
			}
		}
	}
	if in.ToolChoice != nil {
		out.ToolChoice = anthropicToOpenAIToolChoice(*in.ToolChoice)
	}
	return out, nil
}

func anthropicMessageToOpenAI(m AnthropicMessage) ([]OpenAIMessage, error) {
	if m.Role == "user" {
		var toolResults []AnthropicContent
		var rest []AnthropicContent
		for _, c := range m.Content {
			if c.Type == "tool_result" {
				toolResults = append(toolResults, c)
			} else {
				rest = append(rest, c)
			}
		}
		var out []OpenAIMessage
		if len(rest) > 0 {
			out = append(out, OpenAIMessage{Role: "user", Content: joinText(rest)})
		}
		for _, tr := range toolResults {
			out = append(out, OpenAIMessage{Role: "tool", ToolCallID: tr.ToolUseID, Content: tr.Content})
		}
		return out, nil
	}

	// assistant
	var toolCalls []OpenAIToolCall
	var text string
	for _, c := range m.Content {
		switch c.Type {
		case "text":
			text += c.Text
		case "tool_use":
			args, err := interfaceToRawJSON(c.Input)
			if err != nil {
				return nil, apperr.New(apperr.TypeTranslation, "cannot encode tool_use input", err)
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
	return []OpenAIMessage{{Role: "assistant", Content: text, ToolCalls: toolCalls}}, nil
}

func anthropicToOpenAIToolChoice(c AnthropicToolChoice) *OpenAIToolChoice {
	switch c.Type {
	case "none":
		return &OpenAIToolChoice{Mode: "none"}
	case "tool":
		return &OpenAIToolChoice{Mode: "function", FunctionName: c.Name}
	default:
		return &OpenAIToolChoice{Mode: "auto"}
	}
}

func joinText(blocks []AnthropicContent) string {
	var out string
	for _, b := range blocks {
		out += b.Text
	}
	return out
}
