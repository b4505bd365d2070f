package llm

import "context"

// Model is the minimal contract a chat-capable LLM provider must satisfy.
type Model interface {
	// Generate sends a chat request and returns the complete response.
	Generate(ctx context.Context, request *GenerateRequest) (*GenerateResponse, error)
}

// StreamEvent represents a partial or complete event in a streaming LLM response.
// Response holds the generated partial or final content, Err indicates a streaming error.
type StreamEvent struct {
	// Delta carries incremental text when the provider streams tokens.
	Delta string

	// Reasoning flags the delta as intermediate "thinking" content rather
	// than final answer text.
	Reasoning bool

	// Response is set on the final event and holds the complete response.
	Response *GenerateResponse

	// Err indicates a streaming error.
	Err error
}

// StreamingModel is an optional interface for LLM providers that support
// streaming responses.
type StreamingModel interface {
	Model

	// Stream sends a chat request with streaming enabled and returns a
	// channel of StreamEvent. The channel is closed after the final event.
	Stream(ctx context.Context, request *GenerateRequest) (<-chan StreamEvent, error)
}
