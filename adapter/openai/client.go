// Package openai adapts any OpenAI-compatible chat completions endpoint to
// the provider-agnostic llm.Model and llm.StreamingModel interfaces.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/membranehq/ai-agent-example/genai/llm"
)

// Config for the chat completions client.
type Config struct {
	// APIURL is the API root, e.g. https://api.openai.com/v1.
	APIURL string `yaml:"apiURL,omitempty"`

	// APIKey is sent as a bearer token when non-empty.
	APIKey string `yaml:"apiKey,omitempty"`

	// Model is the default model identifier.
	Model string `yaml:"model"`

	// Timeout bounds a single request, streaming included.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Client talks to an OpenAI-compatible chat completions API.
type Client struct {
	httpClient *http.Client
	apiURL     string
	apiKey     string
	model      string
}

// New creates a Client from config.
func New(cfg Config) *Client {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiURL:     apiURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
	}
}

var _ llm.StreamingModel = (*Client)(nil)

// Generate performs a blocking, non-streaming completion.
func (c *Client) Generate(ctx context.Context, request *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	wire, err := toWireRequest(c.model, request, false)
	if err != nil {
		return nil, err
	}
	body, err := c.post(ctx, wire)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var decoded wireResponse
	if err := json.NewDecoder(body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	response := &llm.GenerateResponse{Model: decoded.Model, Usage: fromWireUsage(decoded.Usage)}
	for _, choice := range decoded.Choices {
		msg, err := fromWireMessage(choice.Message)
		if err != nil {
			return nil, err
		}
		response.Choices = append(response.Choices, llm.Choice{
			Index:        choice.Index,
			Message:      msg,
			FinishReason: finishReason(choice.FinishReason),
		})
	}
	return response, nil
}

// Stream performs a streaming completion, emitting deltas as they arrive and
// a final aggregated response before the channel closes.
func (c *Client) Stream(ctx context.Context, request *llm.GenerateRequest) (<-chan llm.StreamEvent, error) {
	wire, err := toWireRequest(c.model, request, true)
	if err != nil {
		return nil, err
	}
	body, err := c.post(ctx, wire)
	if err != nil {
		return nil, err
	}
	events := make(chan llm.StreamEvent, 16)
	go c.consume(ctx, body, events)
	return events, nil
}

func (c *Client) post(ctx context.Context, wire *wireRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai: unexpected status %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}
	return resp.Body, nil
}

// consume parses SSE chunks, forwarding deltas and accumulating the final
// message. Tool-call fragments arrive split across chunks keyed by index.
// Every send honours ctx so an abandoned consumer cannot strand this
// goroutine with the response body open.
func (c *Client) consume(ctx context.Context, body io.ReadCloser, events chan<- llm.StreamEvent) {
	defer close(events)
	defer body.Close()

	emit := func(event llm.StreamEvent) bool {
		select {
		case events <- event:
			return true
		case <-ctx.Done():
			return false
		}
	}

	acc := newAccumulator(c.model)
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		var chunk wireStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			emit(llm.StreamEvent{Err: fmt.Errorf("openai: decode chunk: %w", err)})
			return
		}
		if !acc.apply(&chunk, emit) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		emit(llm.StreamEvent{Err: fmt.Errorf("openai: read stream: %w", err)})
		return
	}
	response, err := acc.response()
	if err != nil {
		emit(llm.StreamEvent{Err: err})
		return
	}
	emit(llm.StreamEvent{Response: response})
}

// accumulator folds stream chunks into the final response.
type accumulator struct {
	model     string
	content   strings.Builder
	reasoning strings.Builder
	finish    llm.FinishReason
	usage     *wireUsage
	calls     map[int]*wireToolCall
}

func newAccumulator(model string) *accumulator {
	return &accumulator{model: model, finish: llm.FinishReasonUnknown, calls: map[int]*wireToolCall{}}
}

// apply folds one chunk in, forwarding deltas through emit. It reports false
// when the consumer is gone and the stream should stop.
func (a *accumulator) apply(chunk *wireStreamChunk, emit func(llm.StreamEvent) bool) bool {
	if chunk.Model != "" {
		a.model = chunk.Model
	}
	if chunk.Usage != nil {
		a.usage = chunk.Usage
	}
	if len(chunk.Choices) == 0 {
		return true
	}
	choice := chunk.Choices[0]
	if choice.Delta.Content != "" {
		a.content.WriteString(choice.Delta.Content)
		if !emit(llm.StreamEvent{Delta: choice.Delta.Content}) {
			return false
		}
	}
	if choice.Delta.Reasoning != "" {
		a.reasoning.WriteString(choice.Delta.Reasoning)
		if !emit(llm.StreamEvent{Delta: choice.Delta.Reasoning, Reasoning: true}) {
			return false
		}
	}
	for _, fragment := range choice.Delta.ToolCalls {
		index := 0
		if fragment.Index != nil {
			index = *fragment.Index
		}
		call, ok := a.calls[index]
		if !ok {
			call = &wireToolCall{}
			a.calls[index] = call
		}
		if fragment.ID != "" {
			call.ID = fragment.ID
		}
		if fragment.Function.Name != "" {
			call.Function.Name = fragment.Function.Name
		}
		call.Function.Arguments += fragment.Function.Arguments
	}
	if choice.FinishReason != nil && *choice.FinishReason != "" {
		a.finish = finishReason(*choice.FinishReason)
	}
	return true
}

func (a *accumulator) response() (*llm.GenerateResponse, error) {
	msg := llm.Message{Role: llm.RoleAssistant, Content: a.content.String()}
	indexes := make([]int, 0, len(a.calls))
	for index := range a.calls {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)
	for _, index := range indexes {
		parsed, err := parseToolCall(*a.calls[index])
		if err != nil {
			return nil, err
		}
		msg.ToolCalls = append(msg.ToolCalls, parsed)
	}
	return &llm.GenerateResponse{
		Model: a.model,
		Usage: fromWireUsage(a.usage),
		Choices: []llm.Choice{{
			Message:      msg,
			FinishReason: a.finish,
		}},
	}, nil
}
