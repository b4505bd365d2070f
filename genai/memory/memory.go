package memory

import (
	"context"
	"time"
)

// ConversationIDKey is used to propagate the current conversation identifier
// via context so that downstream services (e.g. tool execution) can associate
// side-effects with the correct conversation without changing every function
// signature.
type conversationID string

var ConversationIDKey = conversationID("conversationID")

func ConversationIDFromContext(ctx context.Context) string {
	value := ctx.Value(ConversationIDKey)
	if value == nil {
		return ""
	}
	return value.(string)
}

// WithConversationID stores the conversation identifier on the context.
func WithConversationID(ctx context.Context, convID string) context.Context {
	return context.WithValue(ctx, ConversationIDKey, convID)
}

// PartType discriminates message content parts.
type PartType string

const (
	PartText       PartType = "text"
	PartToolCall   PartType = "tool-call"
	PartToolResult PartType = "tool-result"
	PartAttachment PartType = "attachment"
)

// Part is one element of a message's ordered content.
type Part struct {
	Type PartType `json:"type"`

	// Text is set for PartText parts.
	Text string `json:"text,omitempty"`

	// ToolCallID, ToolName and Args describe a tool invocation for
	// PartToolCall, ToolCallID and Result for PartToolResult.
	ToolCallID string                 `json:"toolCallId,omitempty"`
	ToolName   string                 `json:"toolName,omitempty"`
	Args       map[string]interface{} `json:"args,omitempty"`
	Result     string                 `json:"result,omitempty"`

	// Attachment is set for PartAttachment parts.
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Attachment describes a file linked to the message.
type Attachment struct {
	Name      string `json:"name,omitempty"`
	URL       string `json:"url,omitempty"`
	Size      int64  `json:"size,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
}

// Message represents a conversation message. Messages are immutable once
// persisted; the trailing assistant message of a turn is assembled in memory
// during streaming and saved once finalised.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"`
	Parts          []Part    `json:"parts"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Text concatenates the message's text parts.
func (m *Message) Text() string {
	out := ""
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// Visibility of a conversation.
const (
	VisibilityPrivate = "private"
	VisibilityPublic  = "public"
)

// ExposedToolRef identifies one indexed tool pinned on a conversation.
type ExposedToolRef struct {
	ID             string `json:"id"`
	IntegrationKey string `json:"integrationKey"`
	ToolKey        string `json:"toolKey"`
	Text           string `json:"text,omitempty"`
}

// ExposedTools is the coherent tool-app binding pinned on a conversation.
// It is written atomically after a full resolution, never partially.
type ExposedTools struct {
	App   string           `json:"app"`
	Tools []ExposedToolRef `json:"tools,omitempty"`
}

// ToolKeys returns the pinned tool keys in rank order.
func (e *ExposedTools) ToolKeys() []string {
	if e == nil {
		return nil
	}
	keys := make([]string, 0, len(e.Tools))
	for _, t := range e.Tools {
		keys = append(keys, t.ToolKey)
	}
	return keys
}

// Chat captures conversation-level metadata.
type Chat struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Title      string    `json:"title,omitempty"`
	Visibility string    `json:"visibility,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`

	// ExposedTools holds the tool set pinned by the last successful
	// exposure, nil when no app has been exposed yet.
	ExposedTools *ExposedTools `json:"exposedTools,omitempty"`
}
