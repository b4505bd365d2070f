// Package streaming defines the outward stream contract between the
// multi-pass conversation driver and the client, and the multiplexing that
// folds several generation passes into one ordered frame sequence.
package streaming

import "encoding/json"

// FrameType discriminates outward stream frames. Consumers must treat
// unknown types as ignorable so the contract can be extended.
type FrameType string

const (
	FrameStart          FrameType = "start"
	FrameTextDelta      FrameType = "text-delta"
	FrameReasoningDelta FrameType = "reasoning-delta"
	FrameToolCall       FrameType = "tool-call"
	FrameToolResult     FrameType = "tool-result"
	FrameData           FrameType = "data"
	FrameError          FrameType = "error"
	FrameFinish         FrameType = "finish"
)

// Frame is one element of the outward stream.
type Frame struct {
	Type FrameType `json:"type"`

	// MessageID identifies the assistant message the frame contributes to.
	MessageID string `json:"messageId,omitempty"`

	// Delta carries incremental text for text-delta and reasoning-delta.
	Delta string `json:"delta,omitempty"`

	// ToolCallID, ToolName and Args describe a tool-call frame; Result is
	// set on tool-result frames.
	ToolCallID string                 `json:"toolCallId,omitempty"`
	ToolName   string                 `json:"toolName,omitempty"`
	Args       map[string]interface{} `json:"args,omitempty"`
	Result     json.RawMessage        `json:"result,omitempty"`

	// Data carries custom payloads (e.g. append-message on resume).
	Data json.RawMessage `json:"data,omitempty"`

	// Error carries a short human-readable message on error frames; never
	// stack traces.
	Error string `json:"error,omitempty"`
}

// Sink consumes outward frames. Implementations must be safe for use from a
// single producing goroutine.
type Sink interface {
	Write(frame Frame) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(frame Frame) error

func (f SinkFunc) Write(frame Frame) error { return f(frame) }

// TextFrame builds a text-delta frame.
func TextFrame(messageID, delta string) Frame {
	return Frame{Type: FrameTextDelta, MessageID: messageID, Delta: delta}
}

// ReasoningFrame builds a reasoning-delta frame, flagged distinctly so the
// client can render "thinking" apart from the answer.
func ReasoningFrame(messageID, delta string) Frame {
	return Frame{Type: FrameReasoningDelta, MessageID: messageID, Delta: delta}
}

// ErrorFrame builds an error frame with a short user-facing message.
func ErrorFrame(message string) Frame {
	return Frame{Type: FrameError, Error: message}
}

// DataFrame builds a data frame with a custom JSON payload.
func DataFrame(payload interface{}) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameData, Data: raw}, nil
}
