package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/membranehq/ai-agent-example/adapter/resume"
	"github.com/membranehq/ai-agent-example/genai/catalog"
	"github.com/membranehq/ai-agent-example/genai/conversation"
	"github.com/membranehq/ai-agent-example/genai/exposure"
	"github.com/membranehq/ai-agent-example/genai/memory"
	"github.com/membranehq/ai-agent-example/genai/relevance"
	"github.com/membranehq/ai-agent-example/genai/streaming"
	"github.com/membranehq/ai-agent-example/genai/tool"
	"github.com/membranehq/ai-agent-example/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedRunner struct {
	frames []streaming.Frame
	result *conversation.Result
	err    error
}

func (r *scriptedRunner) Run(ctx context.Context, turn *conversation.Turn, sink streaming.Sink) (*conversation.Result, error) {
	for _, frame := range r.frames {
		if err := sink.Write(frame); err != nil {
			return nil, err
		}
	}
	if r.result == nil {
		return &conversation.Result{State: conversation.StatePass1DoneNoNewTools}, r.err
	}
	return r.result, r.err
}

type emptyProvider struct{}

func (emptyProvider) ToolSet(ctx context.Context, userID, app string, keys []string) (*tool.Set, error) {
	return tool.NewSet(), nil
}

type allLive struct{}

func (allLive) State(ctx context.Context, userID, app string) (exposure.ConnectionState, error) {
	return exposure.ConnectionLive, nil
}

type noIndex struct{}

func (noIndex) IndexApp(ctx context.Context, userID, app string) error { return nil }

func newTestHandler(t *testing.T, runner service.TurnRunner, store *memory.HistoryStore) (http.Handler, *resume.MemStore) {
	t.Helper()
	index := catalog.NewMemIndex()
	resumeStore := resume.NewMemStore(time.Hour)
	chat := service.NewChatService(store, runner, emptyProvider{},
		relevance.New(index, index),
		exposure.New(allLive{}, noIndex{}, catalog.NewReader(index, catalog.DefaultRetryPolicy()), store),
		resumeStore, streaming.NewPublisher(),
		service.NewEntitlements(store, nil), service.TrimTitleizer{})
	return NewServer(chat), resumeStore
}

func decodeFrames(t *testing.T, body string) []streaming.Frame {
	t.Helper()
	var frames []streaming.Frame
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame streaming.Frame
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame))
		frames = append(frames, frame)
	}
	return frames
}

func TestServer_ChatStreamsFrames(t *testing.T) {
	runner := &scriptedRunner{frames: []streaming.Frame{
		{Type: streaming.FrameStart, MessageID: "m1"},
		streaming.TextFrame("m1", "Hello!"),
		{Type: streaming.FrameFinish},
	}}
	handler, _ := newTestHandler(t, runner, memory.NewHistoryStore())

	req := httptest.NewRequest(http.MethodPost, "/v1/api/chat",
		strings.NewReader(`{"chatId": "chat-1", "text": "hi"}`))
	req.Header.Set(headerUserID, "user-1")
	req.Header.Set(headerUserType, "regular")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	frames := decodeFrames(t, rec.Body.String())
	require.Len(t, frames, 3)
	assert.Equal(t, streaming.FrameStart, frames[0].Type)
	assert.Equal(t, "Hello!", frames[1].Delta)
	assert.Equal(t, streaming.FrameFinish, frames[2].Type)
}

func TestServer_ChatRequiresIdentity(t *testing.T) {
	handler, _ := newTestHandler(t, &scriptedRunner{}, memory.NewHistoryStore())

	req := httptest.NewRequest(http.MethodPost, "/v1/api/chat", strings.NewReader(`{"text": "hi"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unauthorized:auth", body.Code)
}

func TestServer_ResumeReplaysInFlightStream(t *testing.T) {
	ctx := context.Background()
	store := memory.NewHistoryStore()
	handler, resumeStore := newTestHandler(t, &scriptedRunner{}, store)

	// A stream whose frames are all recorded but whose completion mark has
	// not landed yet; resume replays it up to the finish frame.
	require.NoError(t, store.SaveChat(ctx, memory.Chat{ID: "chat-1", UserID: "user-1"}))
	require.NoError(t, store.CreateStreamID(ctx, "chat-1", "stream-1"))
	require.NoError(t, resumeStore.Append(ctx, "stream-1", streaming.Frame{Type: streaming.FrameStart, MessageID: "m1"}))
	require.NoError(t, resumeStore.Append(ctx, "stream-1", streaming.TextFrame("m1", "done")))
	require.NoError(t, resumeStore.Append(ctx, "stream-1", streaming.Frame{Type: streaming.FrameFinish}))

	req := httptest.NewRequest(http.MethodGet, "/v1/api/chat/chat-1/stream", nil)
	req.Header.Set(headerUserID, "user-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	frames := decodeFrames(t, rec.Body.String())
	require.Len(t, frames, 3)
	assert.Equal(t, "done", frames[1].Delta)
	assert.Equal(t, streaming.FrameFinish, frames[2].Type)
}

func TestServer_ResumeCompletedStreamOmitsFrames(t *testing.T) {
	ctx := context.Background()
	store := memory.NewHistoryStore()
	handler, resumeStore := newTestHandler(t, &scriptedRunner{}, store)

	require.NoError(t, store.SaveChat(ctx, memory.Chat{ID: "chat-1", UserID: "user-1"}))
	require.NoError(t, store.CreateStreamID(ctx, "chat-1", "stream-1"))
	require.NoError(t, resumeStore.Append(ctx, "stream-1", streaming.TextFrame("m1", "done")))
	require.NoError(t, resumeStore.Append(ctx, "stream-1", streaming.Frame{Type: streaming.FrameFinish}))
	require.NoError(t, resumeStore.Complete(ctx, "stream-1"))

	req := httptest.NewRequest(http.MethodGet, "/v1/api/chat/chat-1/stream", nil)
	req.Header.Set(headerUserID, "user-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// No stored assistant message is fresh, so the reply carries no frames.
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeFrames(t, rec.Body.String()))
}

func TestServer_ChatNoErrorFrameAfterFinish(t *testing.T) {
	runner := &scriptedRunner{
		frames: []streaming.Frame{
			{Type: streaming.FrameStart, MessageID: "m1"},
			streaming.ErrorFrame("Oops, an error occurred!"),
			{Type: streaming.FrameFinish},
		},
		err: assert.AnError,
	}
	handler, _ := newTestHandler(t, runner, memory.NewHistoryStore())

	req := httptest.NewRequest(http.MethodPost, "/v1/api/chat",
		strings.NewReader(`{"chatId": "chat-1", "text": "hi"}`))
	req.Header.Set(headerUserID, "user-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	frames := decodeFrames(t, rec.Body.String())
	require.Len(t, frames, 3)
	assert.Equal(t, streaming.FrameFinish, frames[2].Type)
}

func TestServer_ChatErrorMidStreamEmitsErrorFrame(t *testing.T) {
	runner := &scriptedRunner{
		frames: []streaming.Frame{
			{Type: streaming.FrameStart, MessageID: "m1"},
			streaming.TextFrame("m1", "partial"),
		},
		err: assert.AnError,
	}
	handler, _ := newTestHandler(t, runner, memory.NewHistoryStore())

	req := httptest.NewRequest(http.MethodPost, "/v1/api/chat",
		strings.NewReader(`{"chatId": "chat-1", "text": "hi"}`))
	req.Header.Set(headerUserID, "user-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	frames := decodeFrames(t, rec.Body.String())
	require.Len(t, frames, 3)
	assert.Equal(t, streaming.FrameError, frames[2].Type)
}

func TestServer_MessagesAndDelete(t *testing.T) {
	store := memory.NewHistoryStore()
	require.NoError(t, store.SaveChat(context.Background(), memory.Chat{ID: "chat-1", UserID: "owner"}))
	require.NoError(t, store.AddMessage(context.Background(), memory.Message{
		ID: "m1", ConversationID: "chat-1", Role: "user",
		Parts: []memory.Part{{Type: memory.PartText, Text: "hi"}},
	}))
	handler, _ := newTestHandler(t, &scriptedRunner{}, store)

	req := httptest.NewRequest(http.MethodGet, "/v1/api/chat/chat-1/messages", nil)
	req.Header.Set(headerUserID, "owner")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []memory.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)

	// A non-owner cannot delete, the owner can.
	req = httptest.NewRequest(http.MethodDelete, "/v1/api/chat/chat-1", nil)
	req.Header.Set(headerUserID, "intruder")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/v1/api/chat/chat-1", nil)
	req.Header.Set(headerUserID, "owner")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_CORSPreflight(t *testing.T) {
	handler, _ := newTestHandler(t, &scriptedRunner{}, memory.NewHistoryStore())

	req := httptest.NewRequest(http.MethodOptions, "/v1/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}
