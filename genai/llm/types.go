package llm

// MessageRole represents the role of the message sender.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

func (m MessageRole) String() string {
	return string(m)
}

// Message is a provider-agnostic chat message.
type Message struct {
	// Role of the sender (user, assistant, system, tool).
	Role MessageRole `json:"role"`

	// Name is the optional sender attribution (user id, agent id).
	Name string `json:"name,omitempty"`

	// Content is the textual payload of the message.
	Content string `json:"content,omitempty"`

	// ToolCalls holds structured tool invocations requested by the assistant.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-role message back to the originating call.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCall is a structured representation of a tool invocation.
type ToolCall struct {
	// ID is a unique identifier for the tool call.
	ID string `json:"id,omitempty"`

	// Name is the name of the tool to call.
	Name string `json:"name"`

	// Arguments contains the arguments to pass to the tool.
	Arguments map[string]interface{} `json:"arguments"`

	// Result holds the tool output once executed.
	Result string `json:"result,omitempty"`

	// Error holds a tool-level failure reported back to the model.
	Error string `json:"error,omitempty"`
}

// NewSystemMessage creates a system message with the supplied content.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message with the supplied content.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message with the supplied content.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewAssistantMessageWithToolCalls creates an assistant message carrying tool calls.
func NewAssistantMessageWithToolCalls(calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, ToolCalls: calls}
}

// NewToolResultMessage creates a tool-role message carrying the call result.
func NewToolResultMessage(call ToolCall) Message {
	content := call.Result
	if call.Error != "" {
		content = call.Error
	}
	return Message{Role: RoleTool, Name: call.Name, ToolCallID: call.ID, Content: content}
}

// FinishReason explains why a generation pass produced its last response.
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonToolCalls     FinishReason = "tool-calls"
	FinishReasonContentFilter FinishReason = "content-filter"
	FinishReasonError         FinishReason = "error"
	FinishReasonOther         FinishReason = "other"
	FinishReasonUnknown       FinishReason = "unknown"
)

// Terminal reports whether the reason ends a pass. Length and tool-calls
// allow further steps within the same pass.
func (r FinishReason) Terminal() bool {
	switch r {
	case FinishReasonStop, FinishReasonContentFilter, FinishReasonError:
		return true
	}
	return false
}

// GenerateRequest represents a request to a chat-based LLM.
type GenerateRequest struct {
	// Messages is the list of messages in the conversation.
	Messages []Message `json:"messages"`

	// Options contains additional options for the request.
	Options *Options `json:"options,omitempty"`
}

// Options carries per-request generation settings.
type Options struct {
	// Model selects the provider model for this request.
	Model string `json:"model,omitempty"`

	// Tools lists the tools the model may call during this request.
	Tools []Tool `json:"tools,omitempty"`

	// Temperature adjusts sampling; nil keeps the provider default.
	Temperature *float64 `json:"temperature,omitempty"`
}

// GenerateResponse represents a response from a chat-based LLM.
type GenerateResponse struct {
	// Choices contains the generated responses.
	Choices []Choice `json:"choices"`

	// Usage contains token usage information when reported by the provider.
	Usage *Usage `json:"usage,omitempty"`

	// Model identifies the model that produced the response.
	Model string `json:"model,omitempty"`
}

// Choice represents a single response choice from a chat-based LLM.
type Choice struct {
	// Index is the index of the choice.
	Index int `json:"index"`

	// Message is the generated message.
	Message Message `json:"message"`

	// FinishReason is the reason why the generation stopped.
	FinishReason FinishReason `json:"finish_reason,omitempty"`
}

// Usage contains token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
