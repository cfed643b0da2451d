package translator

// OpenAIToAnthropicStream converts one upstream OpenAI SSE chunk into
// zero or more Anthropic SSE events, maintaining the running state a
// single translated stream needs across chunks (spec.md §4.4).
type OpenAIToAnthropicStream struct {
	requestedModel string
	started        bool
	textStarted    bool
	nextBlockIndex int
	toolBlockIndex map[int]int // openai tool_calls[].index -> anthropic content_block index
	inputTokens    int
	outputTokens   int
	msgID          string
}

// NewOpenAIToAnthropicStream starts a converter for one response,
// echoing requestedModel (the virtual model) in message_start.
func NewOpenAIToAnthropicStream(requestedModel string) *OpenAIToAnthropicStream {
	return &OpenAIToAnthropicStream{
		requestedModel: requestedModel,
		toolBlockIndex: make(map[int]int),
		nextBlockIndex: 0,
	}
}

// Convert consumes one OpenAI chunk and returns the Anthropic events it
// produces, in order.
func (s *OpenAIToAnthropicStream) Convert(chunk OpenAIStreamChunk) []AnthropicStreamEvent {
	var events []AnthropicStreamEvent

	if !s.started {
		s.started = true
		s.msgID = chunk.ID
		events = append(events, AnthropicStreamEvent{
			Type: "message_start",
			Message: &AnthropicResponse{
				ID:    chunk.ID,
				Type:  "message",
				Role:  "assistant",
				Model: s.requestedModel,
			},
		})
	}
	if chunk.Usage != nil {
		s.inputTokens = chunk.Usage.PromptTokens
		s.outputTokens = chunk.Usage.CompletionTokens
	}
	if len(chunk.Choices) == 0 {
		return events
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		if !s.textStarted {
			s.textStarted = true
			events = append(events, AnthropicStreamEvent{
				Type:         "content_block_start",
				Index:        s.nextBlockIndex,
				ContentBlock: &AnthropicContent{Type: "text"},
			})
		}
		events = append(events, AnthropicStreamEvent{
			Type:  "content_block_delta",
			Index: s.nextBlockIndex,
			Delta: &AnthropicDelta{Type: "text_delta", Text: choice.Delta.Content},
		})
	}

	for _, tc := range choice.Delta.ToolCalls {
		blockIndex, ok := s.toolBlockIndex[tc.Index]
		if !ok {
			if s.textStarted {
				events = append(events, AnthropicStreamEvent{Type: "content_block_stop", Index: s.nextBlockIndex})
				s.textStarted = false
			}
			s.nextBlockIndex++
			blockIndex = s.nextBlockIndex
			s.toolBlockIndex[tc.Index] = blockIndex
			events = append(events, AnthropicStreamEvent{
				Type:  "content_block_start",
				Index: blockIndex,
				ContentBlock: &AnthropicContent{
					Type: "tool_use",
					ID:   tc.ID,
					Name: tc.Function.Name,
				},
			})
		}
		if tc.Function.Arguments != "" {
			events = append(events, AnthropicStreamEvent{
				Type:  "content_block_delta",
				Index: blockIndex,
				Delta: &AnthropicDelta{Type: "input_json_delta", PartialJSON: tc.Function.Arguments},
			})
		}
	}

	if choice.FinishReason != nil {
		if s.textStarted {
			events = append(events, AnthropicStreamEvent{Type: "content_block_stop", Index: s.nextBlockIndex})
			s.textStarted = false
		}
		for _, idx := range s.toolBlockIndex {
			events = append(events, AnthropicStreamEvent{Type: "content_block_stop", Index: idx})
		}
		events = append(events, AnthropicStreamEvent{
			Type:  "message_delta",
			Delta: &AnthropicDelta{StopReason: finishReasonToAnthropic(*choice.FinishReason)},
			Usage: &AnthropicUsage{InputTokens: s.inputTokens, OutputTokens: s.outputTokens},
		})
		events = append(events, AnthropicStreamEvent{Type: "message_stop"})
	}

	return events
}

// AnthropicToOpenAIStream converts Anthropic SSE events into OpenAI SSE
// chunks, collapsing Anthropic's typed events into OpenAI's incremental
// choices[0].delta shape under a single stable chunk id.
type AnthropicToOpenAIStream struct {
	requestedModel string
	chunkID        string
	blockTypes     map[int]string // content_block index -> "text" | "tool_use"
	toolCallIndex  map[int]int    // content_block index -> openai tool_calls[].index
	nextToolIndex  int
}

// NewAnthropicToOpenAIStream starts a converter for one response.
func NewAnthropicToOpenAIStream(requestedModel string) *AnthropicToOpenAIStream {
	return &AnthropicToOpenAIStream{
		requestedModel: requestedModel,
		blockTypes:     make(map[int]string),
		toolCallIndex:  make(map[int]int),
	}
}

// Convert consumes one Anthropic event and returns the OpenAI chunks it
// produces (zero, one, or — on message_stop — the final chunk followed
// by a sentinel signaling [DONE]).
func (s *AnthropicToOpenAIStream) Convert(event AnthropicStreamEvent) (chunks []OpenAIStreamChunk, done bool) {
	switch event.Type {
	case "message_start":
		if event.Message != nil {
			s.chunkID = event.Message.ID
		}
		chunks = append(chunks, s.chunk(OpenAIStreamDelta{Role: "assistant"}, nil))

	case "content_block_start":
		if event.ContentBlock == nil {
			return nil, false
		}
		s.blockTypes[event.Index] = event.ContentBlock.Type
		if event.ContentBlock.Type == "tool_use" {
			idx := s.nextToolIndex
			s.nextToolIndex++
			s.toolCallIndex[event.Index] = idx
			chunks = append(chunks, s.chunk(OpenAIStreamDelta{
				ToolCalls: []OpenAIToolCallDelta{{
					Index:    idx,
					ID:       event.ContentBlock.ID,
					Type:     "function",
					Function: OpenAIFunctionCallDelta{Name: event.ContentBlock.Name},
				}},
			}, nil))
		}

	case "content_block_delta":
		if event.Delta == nil {
			return nil, false
		}
		switch s.blockTypes[event.Index] {
		case "text":
			chunks = append(chunks, s.chunk(OpenAIStreamDelta{Content: event.Delta.Text}, nil))
		case "tool_use":
			idx := s.toolCallIndex[event.Index]
			chunks = append(chunks, s.chunk(OpenAIStreamDelta{
				ToolCalls: []OpenAIToolCallDelta{{
					Index:    idx,
					Function: OpenAIFunctionCallDelta{Arguments: event.Delta.PartialJSON},
				}},
			}, nil))
		}

	case "message_delta":
		if event.Delta != nil && event.Delta.StopReason != "" {
			reason := finishReasonToOpenAI(event.Delta.StopReason)
			chunks = append(chunks, s.chunk(OpenAIStreamDelta{}, &reason))
		}

	case "message_stop":
		done = true
	}
	return chunks, done
}

func (s *AnthropicToOpenAIStream) chunk(delta OpenAIStreamDelta, finishReason *string) OpenAIStreamChunk {
	return OpenAIStreamChunk{
		ID:     s.chunkID,
		Object: "chat.completion.chunk",
		Model:  s.requestedModel,
		Choices: []OpenAIStreamChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finishReason,
		}},
	}
}
