// Package translator converts chat requests and responses between the
// OpenAI and Anthropic wire formats, both for single-shot JSON bodies
// and for server-sent-event streams.
//
// Grounded on the teacher's services/providers/openai/adapter.go, which
// establishes the typed-struct (never map[string]any) convention this
// package follows on both the OpenAI and Anthropic side, per spec.md
// §9's explicit rejection of untyped JSON round-tripping.
package translator

// Format names a wire format a client or upstream provider speaks.
type Format string

const (
	OpenAI    Format = "openai"
	Anthropic Format = "anthropic"
)

// --- OpenAI chat completion wire types ---

type OpenAIRequest struct {
	Model       string           `json:"model"`
	Messages    []OpenAIMessage  `json:"messages"`
	MaxTokens   *int             `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	TopP        *float64         `json:"top_p,omitempty"`
	Stop        *OpenAIStop      `json:"stop,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
	Tools       []OpenAITool     `json:"tools,omitempty"`
	ToolChoice  *OpenAIToolChoice `json:"tool_choice,omitempty"`
}

// OpenAIStop accepts either a single string or a list of strings on
// the wire; MarshalJSON/UnmarshalJSON normalize both to a []string.
type OpenAIStop struct {
	Values []string
}

type OpenAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	Name       string           `json:"name,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []OpenAIToolCall `json:"tool_calls,omitempty"`
}

type OpenAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function OpenAIFunctionCall `json:"function"`
}

type OpenAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type OpenAITool struct {
	Type     string             `json:"type"`
	Function OpenAIToolFunction `json:"function"`
}

type OpenAIToolFunction struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  interface{} `json:"parameters,omitempty"`
}

// OpenAIToolChoice accepts "auto", "none" or {"type":"function","function":{"name":...}}.
type OpenAIToolChoice struct {
	Mode         string // "auto" | "none" | "function"
	FunctionName string
}

type OpenAIResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   OpenAIUsage    `json:"usage"`
}

type OpenAIChoice struct {
	Index        int           `json:"index"`
	Message      OpenAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OpenAIStreamChunk is one `data: {...}` SSE payload on the OpenAI side.
type OpenAIStreamChunk struct {
	ID      string               `json:"id"`
	Object  string               `json:"object"`
	Model   string                `json:"model"`
	Choices []OpenAIStreamChoice `json:"choices"`
	Usage   *OpenAIUsage         `json:"usage,omitempty"`
}

type OpenAIStreamChoice struct {
	Index        int                `json:"index"`
	Delta        OpenAIStreamDelta  `json:"delta"`
	FinishReason *string            `json:"finish_reason"`
}

type OpenAIStreamDelta struct {
	Role      string                 `json:"role,omitempty"`
	Content   string                 `json:"content,omitempty"`
	ToolCalls []OpenAIToolCallDelta  `json:"tool_calls,omitempty"`
}

type OpenAIToolCallDelta struct {
	Index    int                     `json:"index"`
	ID       string                  `json:"id,omitempty"`
	Type     string                  `json:"type,omitempty"`
	Function OpenAIFunctionCallDelta `json:"function,omitempty"`
}

type OpenAIFunctionCallDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// --- Anthropic messages wire types ---

type AnthropicRequest struct {
	Model       string                `json:"model"`
	System      *AnthropicSystem      `json:"system,omitempty"`
	Messages    []AnthropicMessage    `json:"messages"`
	MaxTokens   int                   `json:"max_tokens"`
	Temperature *float64              `json:"temperature,omitempty"`
	TopP        *float64              `json:"top_p,omitempty"`
	StopSequences []string            `json:"stop_sequences,omitempty"`
	Stream      bool                  `json:"stream,omitempty"`
	Tools       []AnthropicTool       `json:"tools,omitempty"`
	ToolChoice  *AnthropicToolChoice  `json:"tool_choice,omitempty"`
}

// AnthropicSystem accepts either a plain string or a list of text
// blocks on the wire.
type AnthropicSystem struct {
	Text string
}

type AnthropicMessage struct {
	Role    string             `json:"role"`
	Content []AnthropicContent `json:"content"`
}

// AnthropicContent is a tagged union over text / tool_use / tool_result
// blocks; exactly the fields relevant to Type are populated.
type AnthropicContent struct {
	Type      string      `json:"type"`
	Text      string      `json:"text,omitempty"`
	ID        string      `json:"id,omitempty"`
	Name      string      `json:"name,omitempty"`
	Input     interface{} `json:"input,omitempty"`
	ToolUseID string      `json:"tool_use_id,omitempty"`
	Content   string      `json:"content,omitempty"`
	IsError   bool        `json:"is_error,omitempty"`
	PartialJSON string    `json:"partial_json,omitempty"`
}

type AnthropicTool struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema interface{} `json:"input_schema,omitempty"`
}

// AnthropicToolChoice accepts {"type":"auto"|"any"|"none"|"tool","name":...}.
type AnthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type AnthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Model      string             `json:"model"`
	Content    []AnthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      AnthropicUsage     `json:"usage"`
}

type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AnthropicStreamEvent is one typed SSE event on the Anthropic side.
// Only the fields relevant to Type are populated.
type AnthropicStreamEvent struct {
	Type         string              `json:"type"`
	Index        int                 `json:"index,omitempty"`
	Message      *AnthropicResponse  `json:"message,omitempty"`
	ContentBlock *AnthropicContent   `json:"content_block,omitempty"`
	Delta        *AnthropicDelta     `json:"delta,omitempty"`
	Usage        *AnthropicUsage     `json:"usage,omitempty"`
}

// AnthropicDelta carries both content_block_delta's text/partial_json
// payload and message_delta's stop_reason/usage payload; only the
// fields relevant to the enclosing event's context are populated.
type AnthropicDelta struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}
