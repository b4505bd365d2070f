package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/membranehq/ai-agent-example/genai/exposure"
	"github.com/membranehq/ai-agent-example/genai/llm"
	"github.com/membranehq/ai-agent-example/genai/memory"
	"github.com/membranehq/ai-agent-example/genai/streaming"
	"github.com/membranehq/ai-agent-example/genai/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedModel struct {
	responses []*llm.GenerateResponse
	errs      []error
	calls     []*llm.GenerateRequest
}

func (s *scriptedModel) Generate(ctx context.Context, request *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	i := len(s.calls)
	s.calls = append(s.calls, request)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return &llm.GenerateResponse{Choices: []llm.Choice{{
		Message:      llm.NewAssistantMessage("done"),
		FinishReason: llm.FinishReasonStop,
	}}}, nil
}

type capturingProvider struct {
	calls    int
	app      string
	keys     []string
	provided *tool.Set
	err      error
}

func (p *capturingProvider) ToolSet(ctx context.Context, userID, app string, keys []string) (*tool.Set, error) {
	p.calls++
	p.app = app
	p.keys = keys
	if p.err != nil {
		return nil, p.err
	}
	return p.provided, nil
}

type frameSink struct {
	frames []streaming.Frame
}

func (f *frameSink) Write(frame streaming.Frame) error {
	f.frames = append(f.frames, frame)
	return nil
}

func (f *frameSink) types() []streaming.FrameType {
	types := make([]streaming.FrameType, 0, len(f.frames))
	for _, frame := range f.frames {
		types = append(types, frame.Type)
	}
	return types
}

func decisionJSON(t *testing.T, decision exposure.Decision) string {
	data, err := json.Marshal(decision)
	require.NoError(t, err)
	return string(data)
}

// baselineTools returns a tool set whose exposure tool replies with the
// supplied decision payload.
func baselineTools(payload string) *tool.Set {
	set := tool.NewSet()
	set.Add(llm.ToolDefinition{Name: tool.NameExposeTools},
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			return payload, nil
		})
	return set
}

func toolCallResponse(name string, args map[string]interface{}) *llm.GenerateResponse {
	return &llm.GenerateResponse{Choices: []llm.Choice{{
		Message:      llm.NewAssistantMessageWithToolCalls(llm.ToolCall{ID: "call-1", Name: name, Arguments: args}),
		FinishReason: llm.FinishReasonToolCalls,
	}}}
}

func textResponse(text string) *llm.GenerateResponse {
	return &llm.GenerateResponse{Choices: []llm.Choice{{
		Message:      llm.NewAssistantMessage(text),
		FinishReason: llm.FinishReasonStop,
	}}}
}

func TestDriver_NewExposureTriggersPassTwo(t *testing.T) {
	decision := decisionJSON(t, exposure.Decision{Success: true, Data: &exposure.DecisionData{
		App:               "notion",
		ExposedToolsCount: 2,
		Tools:             []string{"notion_create-page", "notion_get-pages"},
		Text:              "Thanks, I've exposed tools for notion",
	}})

	pass2Tools := tool.NewSet()
	pass2Tools.Add(llm.ToolDefinition{Name: "notion_get-pages"},
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			return `{"pages":[{"id":"123","title":"Page Solar"}]}`, nil
		})
	provider := &capturingProvider{provided: pass2Tools}

	model := &scriptedModel{responses: []*llm.GenerateResponse{
		// Pass 1: expose tools, then stop.
		toolCallResponse(tool.NameExposeTools, map[string]interface{}{"app": "notion", "query": "notion: create a page"}),
		textResponse("I've set up Notion tools for you."),
		// Pass 2: call a newly exposed tool, then stop.
		toolCallResponse("notion_get-pages", map[string]interface{}{}),
		textResponse("You have one page: Page Solar."),
	}}

	store := memory.NewHistoryStore()
	driver := NewDriver(model, store, provider, WithIDGenerator(sequentialIDs()))
	sink := &frameSink{}

	result, err := driver.Run(context.Background(), &Turn{
		ChatID:   "chat-1",
		UserID:   "user-1",
		Messages: []llm.Message{llm.NewUserMessage("create a page on notion")},
		Tools:    baselineTools(decision),
	}, sink)

	require.NoError(t, err)
	assert.Equal(t, StatePass2Done, result.State)
	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, "notion", provider.app)
	assert.Equal(t, []string{"notion_create-page", "notion_get-pages"}, provider.keys)

	// Pass 2 ran with exactly the newly exposed tools, no discovery tools.
	pass2Request := model.calls[2]
	require.Len(t, pass2Request.Options.Tools, 1)
	assert.Equal(t, "notion_get-pages", pass2Request.Options.Tools[0].Definition.Name)
	assert.Equal(t, pass2SystemPrompt, pass2Request.Messages[0].Content)

	// Single start, single finish, finish last.
	types := sink.types()
	assert.Equal(t, streaming.FrameStart, types[0])
	assert.Equal(t, streaming.FrameFinish, types[len(types)-1])
	assert.Equal(t, 1, count(types, streaming.FrameStart))
	assert.Equal(t, 1, count(types, streaming.FrameFinish))

	// Both passes persisted an assistant message.
	msgs, err := store.GetMessages(context.Background(), "chat-1")
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	assert.Len(t, result.AssistantMessageIDs, 2)
}

func TestDriver_NoExposureCallNeverRunsPassTwo(t *testing.T) {
	provider := &capturingProvider{}
	model := &scriptedModel{responses: []*llm.GenerateResponse{
		textResponse("Nothing to expose here."),
	}}
	driver := NewDriver(model, memory.NewHistoryStore(), provider)
	sink := &frameSink{}

	result, err := driver.Run(context.Background(), &Turn{
		ChatID:   "chat-1",
		UserID:   "user-1",
		Messages: []llm.Message{llm.NewUserMessage("hello")},
		Tools:    tool.NewSet(),
	}, sink)

	require.NoError(t, err)
	assert.Equal(t, StatePass1DoneNoNewTools, result.State)
	assert.Equal(t, 0, provider.calls)
	assert.Len(t, model.calls, 1)
}

func TestDriver_AlreadyPinnedAppSkipsPassTwo(t *testing.T) {
	decision := decisionJSON(t, exposure.Decision{Success: true, Data: &exposure.DecisionData{
		App: "notion", ExposedToolsCount: 1, Tools: []string{"notion_get-pages"},
	}})
	provider := &capturingProvider{}
	model := &scriptedModel{responses: []*llm.GenerateResponse{
		toolCallResponse(tool.NameExposeTools, map[string]interface{}{"app": "notion"}),
		textResponse("Notion is already set up."),
	}}
	driver := NewDriver(model, memory.NewHistoryStore(), provider)

	result, err := driver.Run(context.Background(), &Turn{
		ChatID:    "chat-1",
		UserID:    "user-1",
		PinnedApp: "notion",
		Messages:  []llm.Message{llm.NewUserMessage("get my pages")},
		Tools:     baselineTools(decision),
	}, &frameSink{})

	require.NoError(t, err)
	assert.Equal(t, StatePass1DoneNoNewTools, result.State)
	assert.Equal(t, 0, provider.calls)
}

func TestDriver_FailedExposureDecisionSkipsPassTwo(t *testing.T) {
	decision := decisionJSON(t, exposure.Decision{Success: false, Error: &exposure.DecisionError{
		Type: exposure.ReasonNotConnected, App: "notion",
	}})
	provider := &capturingProvider{}
	model := &scriptedModel{responses: []*llm.GenerateResponse{
		toolCallResponse(tool.NameExposeTools, map[string]interface{}{"app": "notion"}),
		textResponse("You need to connect to notion first."),
	}}
	driver := NewDriver(model, memory.NewHistoryStore(), provider)

	result, err := driver.Run(context.Background(), &Turn{
		ChatID:   "chat-1",
		UserID:   "user-1",
		Messages: []llm.Message{llm.NewUserMessage("create a page on notion")},
		Tools:    baselineTools(decision),
	}, &frameSink{})

	require.NoError(t, err)
	assert.Equal(t, StatePass1DoneNoNewTools, result.State)
	assert.Equal(t, 0, provider.calls)
	require.NotNil(t, result.Decision)
	assert.False(t, result.Decision.Success)
}

func TestDriver_GenerationErrorEmitsErrorAndFinish(t *testing.T) {
	model := &scriptedModel{errs: []error{errors.New("provider exploded")}}
	driver := NewDriver(model, memory.NewHistoryStore(), &capturingProvider{})
	sink := &frameSink{}

	_, err := driver.Run(context.Background(), &Turn{
		ChatID:   "chat-1",
		UserID:   "user-1",
		Messages: []llm.Message{llm.NewUserMessage("hello")},
		Tools:    tool.NewSet(),
	}, sink)

	assert.Error(t, err)
	types := sink.types()
	assert.Contains(t, types, streaming.FrameError)
	assert.Equal(t, streaming.FrameFinish, types[len(types)-1])
}

func TestDriver_StepBudgetExhaustionIsNotAnError(t *testing.T) {
	// The model keeps asking for the same tool; the pass must end at the
	// step budget with the partial output treated as final.
	looping := tool.NewSet()
	looping.Add(llm.ToolDefinition{Name: "noop"},
		func(ctx context.Context, args map[string]interface{}) (string, error) { return "ok", nil })

	var responses []*llm.GenerateResponse
	for i := 0; i < 20; i++ {
		responses = append(responses, toolCallResponse("noop", nil))
	}
	model := &scriptedModel{responses: responses}
	driver := NewDriver(model, memory.NewHistoryStore(), &capturingProvider{}, WithStepBudgets(3, 2))

	result, err := driver.Run(context.Background(), &Turn{
		ChatID:   "chat-1",
		UserID:   "user-1",
		Messages: []llm.Message{llm.NewUserMessage("loop forever")},
		Tools:    looping,
	}, &frameSink{})

	require.NoError(t, err)
	assert.Equal(t, StatePass1DoneNoNewTools, result.State)
	assert.Len(t, model.calls, 3)
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return "id-" + string(rune('a'+n-1))
	}
}

func count(types []streaming.FrameType, target streaming.FrameType) int {
	n := 0
	for _, t := range types {
		if t == target {
			n++
		}
	}
	return n
}

// streamingScriptModel streams a fixed delta sequence over an unbuffered
// channel, so a consumer that stops reading blocks it immediately.
type streamingScriptModel struct {
	deltas   []string
	finished chan struct{}
}

func (s *streamingScriptModel) Generate(ctx context.Context, request *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	return textResponse("done"), nil
}

func (s *streamingScriptModel) Stream(ctx context.Context, request *llm.GenerateRequest) (<-chan llm.StreamEvent, error) {
	events := make(chan llm.StreamEvent)
	go func() {
		defer close(events)
		defer close(s.finished)
		for _, delta := range s.deltas {
			select {
			case events <- llm.StreamEvent{Delta: delta}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case events <- llm.StreamEvent{Response: textResponse("done")}:
		case <-ctx.Done():
		}
	}()
	return events, nil
}

type rejectingSink struct{}

func (rejectingSink) Write(frame streaming.Frame) error {
	if frame.Type == streaming.FrameTextDelta {
		return errors.New("client gone")
	}
	return nil
}

func TestDriver_SinkFailureReleasesStreamProducer(t *testing.T) {
	deltas := make([]string, 40)
	for i := range deltas {
		deltas[i] = "x"
	}
	model := &streamingScriptModel{deltas: deltas, finished: make(chan struct{})}
	driver := NewDriver(model, memory.NewHistoryStore(), &capturingProvider{})

	_, err := driver.Run(context.Background(), &Turn{
		ChatID:   "chat-1",
		UserID:   "user-1",
		Messages: []llm.Message{llm.NewUserMessage("hi")},
		Tools:    tool.NewSet(),
	}, rejectingSink{})
	require.Error(t, err)

	select {
	case <-model.finished:
	case <-time.After(2 * time.Second):
		t.Fatal("stream producer still blocked after the turn ended")
	}
}
