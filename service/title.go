package service

import (
	"context"
	"strings"

	"github.com/membranehq/ai-agent-example/genai/llm"
)

// Titleizer derives a chat title from the first user message.
type Titleizer interface {
	Title(ctx context.Context, message string) (string, error)
}

const titleMaxLen = 80

const titleSystemPrompt = `You will generate a short title based on the first message a user begins a conversation with.
- ensure it is not more than 80 characters long
- the title should be a summary of the user's message
- do not use quotes or colons`

// ModelTitleizer asks the LLM for a title and falls back to trimming when
// generation fails or returns nothing usable.
type ModelTitleizer struct {
	model llm.Model
}

// NewModelTitleizer creates an LLM-backed titleizer.
func NewModelTitleizer(model llm.Model) *ModelTitleizer {
	return &ModelTitleizer{model: model}
}

func (t *ModelTitleizer) Title(ctx context.Context, message string) (string, error) {
	response, err := t.model.Generate(ctx, &llm.GenerateRequest{
		Messages: []llm.Message{
			llm.NewSystemMessage(titleSystemPrompt),
			llm.NewUserMessage(message),
		},
	})
	if err == nil && len(response.Choices) > 0 {
		if title := trimTitle(response.Choices[0].Message.Content); title != "" {
			return title, nil
		}
	}
	return trimTitle(message), nil
}

// TrimTitleizer is the deterministic fallback used in tests and local mode.
type TrimTitleizer struct{}

func (TrimTitleizer) Title(ctx context.Context, message string) (string, error) {
	return trimTitle(message), nil
}

// trimTitle collapses whitespace and caps the length on a word boundary
// where possible.
func trimTitle(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	if len(title) <= titleMaxLen {
		return title
	}
	cut := title[:titleMaxLen]
	if idx := strings.LastIndex(cut, " "); idx > titleMaxLen/2 {
		cut = cut[:idx]
	}
	return cut
}
