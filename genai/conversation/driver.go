package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/membranehq/ai-agent-example/genai/exposure"
	"github.com/membranehq/ai-agent-example/genai/llm"
	"github.com/membranehq/ai-agent-example/genai/memory"
	"github.com/membranehq/ai-agent-example/genai/streaming"
	"github.com/membranehq/ai-agent-example/genai/tool"
	"github.com/sirupsen/logrus"
)

// State of the multi-pass driver.
type State string

const (
	StateIdle                State = "IDLE"
	StatePass1Running        State = "PASS1_RUNNING"
	StatePass1DoneNoNewTools State = "PASS1_DONE_NO_NEW_TOOLS"
	StatePass1DoneNewTools   State = "PASS1_DONE_NEW_TOOLS"
	StatePass2Running        State = "PASS2_RUNNING"
	StatePass2Done           State = "PASS2_DONE"
)

// pass2SystemPrompt directs the narrow second pass: the tool surface has
// just been reshaped to the newly exposed tools, so its only job is to pick
// and call the right one.
const pass2SystemPrompt = "You're a friendly task assistant, based on these messages, call the appropriate tool to perform the task specified by the user"

const genericErrorMessage = "Oops, an error occurred!"

// Turn is one client request processed by the driver.
type Turn struct {
	ChatID string
	UserID string

	// SystemPrompt for pass 1; pass 2 replaces it with a directive prompt.
	SystemPrompt string

	// Messages is the conversation history including the current user
	// message, without the system prompt.
	Messages []llm.Message

	// Tools is the baseline tool set for pass 1: previously pinned exposed
	// tools, if any, plus the discovery tools.
	Tools *tool.Set

	// PinnedApp is the app pinned on the conversation before this turn;
	// pass 2 only runs when a genuinely different app gets exposed.
	PinnedApp string
}

// Result summarises a completed turn.
type Result struct {
	State State

	// Decision is the first successful exposure decision of pass 1, nil
	// when none was produced.
	Decision *exposure.Decision

	// AssistantMessageIDs lists persisted assistant messages, one per pass.
	AssistantMessageIDs []string
}

// Driver runs one or more chained model-generation passes over the same user
// turn and folds their output into a single outward stream. Passes never run
// concurrently: pass 1 fully completes, tool calls included, before pass 2
// starts.
type Driver struct {
	model         llm.Model
	store         memory.Store
	provider      tool.Provider
	pass1MaxSteps int
	pass2MaxSteps int
	toolTimeout   time.Duration
	idGen         func() string
	log           *logrus.Logger
}

// DriverOption customises Driver behaviour.
type DriverOption func(*Driver)

// WithStepBudgets overrides the per-pass step budgets.
func WithStepBudgets(pass1, pass2 int) DriverOption {
	return func(d *Driver) {
		if pass1 > 0 {
			d.pass1MaxSteps = pass1
		}
		if pass2 > 0 {
			d.pass2MaxSteps = pass2
		}
	}
}

// WithToolTimeout bounds a single tool execution.
func WithToolTimeout(timeout time.Duration) DriverOption {
	return func(d *Driver) {
		if timeout > 0 {
			d.toolTimeout = timeout
		}
	}
}

// WithIDGenerator overrides the default message-ID generator.
func WithIDGenerator(f func() string) DriverOption {
	return func(d *Driver) {
		if f != nil {
			d.idGen = f
		}
	}
}

// WithDriverLogger attaches a structured logger.
func WithDriverLogger(log *logrus.Logger) DriverOption {
	return func(d *Driver) {
		if log != nil {
			d.log = log
		}
	}
}

// NewDriver creates a multi-pass driver. The model configuration is passed
// explicitly; there is no global provider registry.
func NewDriver(model llm.Model, store memory.Store, provider tool.Provider, opts ...DriverOption) *Driver {
	d := &Driver{
		model:         model,
		store:         store,
		provider:      provider,
		pass1MaxSteps: 10,
		pass2MaxSteps: 5,
		toolTimeout:   2 * time.Minute,
		idGen:         uuid.NewString,
		log:           logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run processes one turn. All incremental output is written to sink through
// a multiplexer that guarantees exactly one start and one finish frame, the
// finish being emitted even on error paths. A fatal generation error ends
// the turn with a generic error frame; committed exposure writes are not
// rolled back since exposure state is safe to reuse on the next turn.
func (d *Driver) Run(ctx context.Context, turn *Turn, sink streaming.Sink) (*Result, error) {
	mux := streaming.NewMultiplexer(sink)
	defer func() {
		if err := mux.Finish(); err != nil {
			d.log.WithError(err).Warn("failed to emit finish frame")
		}
	}()
	result := &Result{State: StateIdle}

	result.State = StatePass1Running
	pass1, err := d.runPass(ctx, mux, turn.SystemPrompt, turn.Messages, turn.Tools, d.pass1MaxSteps)
	if err != nil {
		_ = mux.Error(genericErrorMessage)
		result.State = StatePass1DoneNoNewTools
		return result, fmt.Errorf("pass 1 failed: %w", err)
	}
	d.persistAssistant(ctx, turn.ChatID, pass1, result)

	decision := firstExposureDecision(pass1.toolCalls)
	result.Decision = decision
	if decision == nil || !decision.Success || decision.Data == nil ||
		decision.Data.App == turn.PinnedApp || decision.Data.ExposedToolsCount == 0 {
		result.State = StatePass1DoneNoNewTools
		return result, nil
	}
	result.State = StatePass1DoneNewTools

	newTools, err := d.provider.ToolSet(ctx, turn.UserID, decision.Data.App, decision.Data.Tools)
	if err != nil {
		_ = mux.Error(genericErrorMessage)
		return result, fmt.Errorf("failed to resolve exposed tools for %v: %w", decision.Data.App, err)
	}

	result.State = StatePass2Running
	pass2, err := d.runPass(ctx, mux, pass2SystemPrompt, turn.Messages, newTools, d.pass2MaxSteps)
	if err != nil {
		_ = mux.Error(genericErrorMessage)
		return result, fmt.Errorf("pass 2 failed: %w", err)
	}
	d.persistAssistant(ctx, turn.ChatID, pass2, result)
	result.State = StatePass2Done
	return result, nil
}

// passOutcome collects what one pass produced.
type passOutcome struct {
	messageID string
	text      string
	toolCalls []llm.ToolCall
	finish    llm.FinishReason
}

// runPass executes up to maxSteps model-generation steps with a fixed tool
// set, streaming incremental output through the multiplexer and resolving
// tool calls synchronously between steps. Step-budget exhaustion is not an
// error; the last partial output is treated as final.
func (d *Driver) runPass(ctx context.Context, mux *streaming.Multiplexer, systemPrompt string, history []llm.Message, tools *tool.Set, maxSteps int) (*passOutcome, error) {
	outcome := &passOutcome{messageID: d.idGen(), finish: llm.FinishReasonUnknown}

	messages := make([]llm.Message, 0, len(history)+1)
	if systemPrompt != "" {
		messages = append(messages, llm.NewSystemMessage(systemPrompt))
	}
	messages = append(messages, history...)

	var text strings.Builder
	for step := 0; step < maxSteps; step++ {
		request := &llm.GenerateRequest{
			Messages: messages,
			Options:  &llm.Options{Tools: tools.Tools()},
		}
		response, streamed, err := d.generate(ctx, mux, outcome.messageID, request)
		if err != nil {
			return nil, err
		}
		if len(response.Choices) == 0 {
			break
		}
		choice := response.Choices[0]
		outcome.finish = choice.FinishReason

		if content := choice.Message.Content; content != "" {
			text.WriteString(content)
			if !streamed {
				if err := mux.Write(streaming.TextFrame(outcome.messageID, content)); err != nil {
					return nil, err
				}
			}
		}

		if len(choice.Message.ToolCalls) == 0 {
			if choice.FinishReason.Terminal() {
				break
			}
			continue
		}

		resolved := make([]llm.ToolCall, 0, len(choice.Message.ToolCalls))
		for _, call := range choice.Message.ToolCalls {
			if call.ID == "" {
				call.ID = d.idGen()
			}
			if err := mux.Write(streaming.Frame{
				Type:       streaming.FrameToolCall,
				MessageID:  outcome.messageID,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Args:       call.Arguments,
			}); err != nil {
				return nil, err
			}
			d.execute(ctx, tools, &call)
			if err := mux.Write(streaming.Frame{
				Type:       streaming.FrameToolResult,
				MessageID:  outcome.messageID,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Result:     toolResultPayload(call),
			}); err != nil {
				return nil, err
			}
			resolved = append(resolved, call)
		}
		outcome.toolCalls = append(outcome.toolCalls, resolved...)

		messages = append(messages, llm.NewAssistantMessageWithToolCalls(resolved...))
		for _, call := range resolved {
			messages = append(messages, llm.NewToolResultMessage(call))
		}
		if choice.FinishReason.Terminal() {
			break
		}
	}
	outcome.text = text.String()
	return outcome, nil
}

// generate invokes the model, streaming deltas when the provider supports
// it. The boolean reports whether text was already streamed.
func (d *Driver) generate(ctx context.Context, mux *streaming.Multiplexer, messageID string, request *llm.GenerateRequest) (*llm.GenerateResponse, bool, error) {
	streamer, ok := d.model.(llm.StreamingModel)
	if !ok {
		response, err := d.model.Generate(ctx, request)
		return response, false, err
	}
	events, err := streamer.Stream(ctx, request)
	if err != nil {
		return nil, false, err
	}
	// The producer keeps sending until the channel is drained or ctx ends;
	// an early return must not strand it behind a full buffer.
	defer func() {
		for range events {
		}
	}()
	var response *llm.GenerateResponse
	for event := range events {
		if event.Err != nil {
			return nil, true, event.Err
		}
		if event.Delta != "" {
			frame := streaming.TextFrame(messageID, event.Delta)
			if event.Reasoning {
				frame = streaming.ReasoningFrame(messageID, event.Delta)
			}
			if err := mux.Write(frame); err != nil {
				return nil, true, err
			}
		}
		if event.Response != nil {
			response = event.Response
		}
	}
	if response == nil {
		return nil, true, fmt.Errorf("stream ended without a final response")
	}
	return response, true, nil
}

// execute runs one tool call with a bounded timeout. A timeout or handler
// failure is a tool-level error reported back to the model, never a
// request-level failure.
func (d *Driver) execute(ctx context.Context, tools *tool.Set, call *llm.ToolCall) {
	callCtx, cancel := context.WithTimeout(ctx, d.toolTimeout)
	defer cancel()
	result, err := tools.Execute(callCtx, call.Name, call.Arguments)
	if err != nil {
		call.Error = fmt.Sprintf("tool %v failed: %v", call.Name, err)
		d.log.WithError(err).WithField("tool", call.Name).Warn("tool execution failed")
		return
	}
	call.Result = result
}

// persistAssistant saves the pass's final assistant message: concatenated
// text plus trailing tool-invocation parts. A failed save degrades
// history-replay fidelity only, so the error is logged and swallowed; the
// user has already seen the content via the stream.
func (d *Driver) persistAssistant(ctx context.Context, chatID string, outcome *passOutcome, result *Result) {
	if outcome.text == "" && len(outcome.toolCalls) == 0 {
		return
	}
	msg := memory.Message{
		ID:             outcome.messageID,
		ConversationID: chatID,
		Role:           string(llm.RoleAssistant),
		CreatedAt:      time.Now(),
	}
	if outcome.text != "" {
		msg.Parts = append(msg.Parts, memory.Part{Type: memory.PartText, Text: outcome.text})
	}
	for _, call := range outcome.toolCalls {
		msg.Parts = append(msg.Parts, memory.Part{
			Type:       memory.PartToolCall,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Args:       call.Arguments,
		})
		payload := call.Result
		if call.Error != "" {
			payload = call.Error
		}
		msg.Parts = append(msg.Parts, memory.Part{
			Type:       memory.PartToolResult,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Result:     payload,
		})
	}
	if err := d.store.AddMessage(ctx, msg); err != nil {
		d.log.WithError(err).WithField("chat", chatID).Error("failed to save assistant message")
		return
	}
	result.AssistantMessageIDs = append(result.AssistantMessageIDs, msg.ID)
}

// firstExposureDecision scans resolved tool calls in order and returns the
// first successfully parsed exposure decision. Later decisions in the same
// pass do not supersede it.
func firstExposureDecision(calls []llm.ToolCall) *exposure.Decision {
	for _, call := range calls {
		if call.Name != tool.NameExposeTools || call.Result == "" {
			continue
		}
		decision, err := tool.ParseDecision(call.Result)
		if err != nil {
			continue
		}
		return decision
	}
	return nil
}

func toolResultPayload(call llm.ToolCall) []byte {
	if call.Error != "" {
		return []byte(fmt.Sprintf("%q", call.Error))
	}
	if call.Result == "" {
		return nil
	}
	// Tool results are JSON for structured tools; wrap plain strings.
	trimmed := strings.TrimSpace(call.Result)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, `"`) {
		return []byte(trimmed)
	}
	return []byte(fmt.Sprintf("%q", call.Result))
}
