package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/membranehq/ai-agent-example/genai/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.False(t, req.Stream)
		require.Len(t, req.Tools, 1)
		assert.Equal(t, "notion_get-pages", req.Tools[0].Function.Name)

		fmt.Fprint(w, `{
			"model": "test-model",
			"choices": [{
				"index": 0,
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call-1",
						"type": "function",
						"function": {"name": "notion_get-pages", "arguments": "{\"limit\": 5}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 4, "total_tokens": 14}
		}`)
	}))
	defer server.Close()

	client := New(Config{APIURL: server.URL, APIKey: "secret", Model: "test-model"})
	response, err := client.Generate(context.Background(), &llm.GenerateRequest{
		Messages: []llm.Message{llm.NewUserMessage("list my pages")},
		Options: &llm.Options{Tools: []llm.Tool{
			llm.NewFunctionTool(llm.ToolDefinition{Name: "notion_get-pages"}),
		}},
	})

	require.NoError(t, err)
	require.Len(t, response.Choices, 1)
	choice := response.Choices[0]
	assert.Equal(t, llm.FinishReasonToolCalls, choice.FinishReason)
	require.Len(t, choice.Message.ToolCalls, 1)
	assert.Equal(t, "notion_get-pages", choice.Message.ToolCalls[0].Name)
	assert.Equal(t, float64(5), choice.Message.ToolCalls[0].Arguments["limit"])
	assert.Equal(t, 14, response.Usage.TotalTokens)
}

func TestClient_GenerateErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "model overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(Config{APIURL: server.URL, Model: "test-model"})
	_, err := client.Generate(context.Background(), &llm.GenerateRequest{
		Messages: []llm.Message{llm.NewUserMessage("hi")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestClient_StreamAggregatesDeltasAndToolCalls(t *testing.T) {
	chunks := []string{
		`{"choices":[{"delta":{"role":"assistant","content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call-1","function":{"name":"notion_get-pages","arguments":"{\"lim"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"it\": 5}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := New(Config{APIURL: server.URL, Model: "test-model"})
	events, err := client.Stream(context.Background(), &llm.GenerateRequest{
		Messages: []llm.Message{llm.NewUserMessage("list my pages")},
	})
	require.NoError(t, err)

	var text string
	var response *llm.GenerateResponse
	for event := range events {
		require.NoError(t, event.Err)
		text += event.Delta
		if event.Response != nil {
			response = event.Response
		}
	}

	assert.Equal(t, "Hello", text)
	require.NotNil(t, response)
	require.Len(t, response.Choices, 1)
	choice := response.Choices[0]
	assert.Equal(t, "Hello", choice.Message.Content)
	assert.Equal(t, llm.FinishReasonToolCalls, choice.FinishReason)
	require.Len(t, choice.Message.ToolCalls, 1)
	assert.Equal(t, "call-1", choice.Message.ToolCalls[0].ID)
	assert.Equal(t, float64(5), choice.Message.ToolCalls[0].Arguments["limit"])
}

func TestClient_StreamReleasesProducerWhenAbandoned(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		// Far more chunks than the event buffer holds, so an abandoned
		// consumer would otherwise strand the reader goroutine mid-send.
		for i := 0; i < 64; i++ {
			fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"x"}}]}`+"\n\n")
		}
		fmt.Fprint(w, `data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := New(Config{APIURL: server.URL, Model: "test-model"})
	events, err := client.Stream(ctx, &llm.GenerateRequest{
		Messages: []llm.Message{llm.NewUserMessage("hi")},
	})
	require.NoError(t, err)

	// Read one event, then walk away. Cancellation must unblock the
	// producer so the channel still closes.
	<-events
	cancel()
	for range events {
	}
}
