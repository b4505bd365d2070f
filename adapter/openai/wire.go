package openai

import (
	"encoding/json"
	"fmt"

	"github.com/membranehq/ai-agent-example/genai/llm"
)

// Wire types for the OpenAI-compatible chat completions API. The format is
// spoken by OpenAI, Azure OpenAI, OpenRouter, vLLM, Ollama and others, so
// one adapter covers them all.

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type wireToolCall struct {
	Index    *int             `json:"index,omitempty"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function wireFunctionCall `json:"function"`
}

type wireFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type wireResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

type wireStreamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Role      string         `json:"role"`
			Content   string         `json:"content"`
			Reasoning string         `json:"reasoning"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func toWireRequest(model string, request *llm.GenerateRequest, stream bool) (*wireRequest, error) {
	out := &wireRequest{Model: model, Stream: stream}
	if request.Options != nil {
		if request.Options.Model != "" {
			out.Model = request.Options.Model
		}
		out.Temperature = request.Options.Temperature
		for _, t := range request.Options.Tools {
			out.Tools = append(out.Tools, wireTool{
				Type: "function",
				Function: wireFunction{
					Name:        t.Definition.Name,
					Description: t.Definition.Description,
					Parameters:  t.Definition.Parameters,
				},
			})
		}
	}
	for _, msg := range request.Messages {
		wire, err := toWireMessage(msg)
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, wire)
	}
	return out, nil
}

func toWireMessage(msg llm.Message) (wireMessage, error) {
	out := wireMessage{
		Role:       string(msg.Role),
		Content:    msg.Content,
		Name:       msg.Name,
		ToolCallID: msg.ToolCallID,
	}
	for _, call := range msg.ToolCalls {
		args, err := json.Marshal(call.Arguments)
		if err != nil {
			return wireMessage{}, fmt.Errorf("failed to encode tool arguments: %w", err)
		}
		out.ToolCalls = append(out.ToolCalls, wireToolCall{
			ID:       call.ID,
			Type:     "function",
			Function: wireFunctionCall{Name: call.Name, Arguments: string(args)},
		})
	}
	return out, nil
}

func fromWireMessage(msg wireMessage) (llm.Message, error) {
	out := llm.Message{
		Role:       llm.MessageRole(msg.Role),
		Content:    msg.Content,
		Name:       msg.Name,
		ToolCallID: msg.ToolCallID,
	}
	for _, call := range msg.ToolCalls {
		parsed, err := parseToolCall(call)
		if err != nil {
			return llm.Message{}, err
		}
		out.ToolCalls = append(out.ToolCalls, parsed)
	}
	return out, nil
}

func parseToolCall(call wireToolCall) (llm.ToolCall, error) {
	args := map[string]interface{}{}
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return llm.ToolCall{}, fmt.Errorf("invalid arguments for tool %v: %w", call.Function.Name, err)
		}
	}
	return llm.ToolCall{ID: call.ID, Name: call.Function.Name, Arguments: args}, nil
}

func finishReason(reason string) llm.FinishReason {
	switch reason {
	case "stop":
		return llm.FinishReasonStop
	case "length":
		return llm.FinishReasonLength
	case "tool_calls":
		return llm.FinishReasonToolCalls
	case "content_filter":
		return llm.FinishReasonContentFilter
	case "error":
		return llm.FinishReasonError
	case "":
		return llm.FinishReasonUnknown
	}
	return llm.FinishReasonOther
}

func fromWireUsage(usage *wireUsage) *llm.Usage {
	if usage == nil {
		return nil
	}
	return &llm.Usage{
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
	}
}
