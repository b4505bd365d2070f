package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/membranehq/ai-agent-example/adapter/resume"
	"github.com/membranehq/ai-agent-example/genai/conversation"
	"github.com/membranehq/ai-agent-example/genai/exposure"
	"github.com/membranehq/ai-agent-example/genai/llm"
	"github.com/membranehq/ai-agent-example/genai/memory"
	"github.com/membranehq/ai-agent-example/genai/relevance"
	"github.com/membranehq/ai-agent-example/genai/streaming"
	"github.com/membranehq/ai-agent-example/genai/tool"
	"github.com/membranehq/ai-agent-example/internal/chaterr"
	"github.com/sirupsen/logrus"
)

// defaultSystemPrompt steers pass 1: answer directly when possible, discover
// and expose app tools when the user asks for a task.
const defaultSystemPrompt = `You are a task assistant, responsible for helping users perform tasks across multiple apps.

Here are some rules:
- Keep responses concise and helpful.
- When a user requests a task that may involve an app (e.g., "find events" or "create a page named 'Jude' in Notion"), first check if you already have the tool to perform the task. If you don't, call internal_getRelevantApps to find candidate apps.
- If the apps listed don't seem appropriate, call internal_getMoreRelevantApps to search the broader catalog.
- If only one app is found, proceed to call internal_exposeTools without asking the user to choose; otherwise ask the user to choose one first.
- When passing the app name to the tools, make sure the app name is hyphenated e.g google-calendar, not camel case e.g googleCalendar.
- Once tools are exposed, call the appropriate tool to perform the task.`

// resumeFreshnessWindow bounds how old a finished turn may be for its final
// assistant message to be replayed on resume.
const resumeFreshnessWindow = 15 * time.Second

// streamTailInterval is the poll interval while tailing a live stream.
const streamTailInterval = 200 * time.Millisecond

// TurnRunner runs one multi-pass turn; implemented by conversation.Driver.
type TurnRunner interface {
	Run(ctx context.Context, turn *conversation.Turn, sink streaming.Sink) (*conversation.Result, error)
}

// ChatRequest is one inbound user turn.
type ChatRequest struct {
	ChatID     string `json:"chatId,omitempty"`
	UserID     string `json:"userId"`
	UserType   string `json:"userType,omitempty"`
	Text       string `json:"text"`
	Visibility string `json:"visibility,omitempty"`
}

// ChatService orchestrates one user turn end to end: entitlement check,
// chat bootstrap, persistence, tool surface assembly and the multi-pass
// driver, with every outward frame recorded for resume.
type ChatService struct {
	store        memory.Store
	driver       TurnRunner
	provider     tool.Provider
	resolver     *relevance.Resolver
	exposer      *exposure.Manager
	resumeStore  resume.Store
	publisher    *streaming.Publisher
	entitlements *Entitlements
	titles       Titleizer

	systemPrompt string
	resumeWindow time.Duration
	idGen        func() string
	now          func() time.Time
	log          *logrus.Logger
}

// ChatOption customises ChatService behaviour.
type ChatOption func(*ChatService)

// WithSystemPrompt overrides the pass-1 system prompt.
func WithSystemPrompt(prompt string) ChatOption {
	return func(s *ChatService) {
		if prompt != "" {
			s.systemPrompt = prompt
		}
	}
}

// WithResumeWindow overrides the freshness window for finished-stream resume.
func WithResumeWindow(window time.Duration) ChatOption {
	return func(s *ChatService) {
		if window > 0 {
			s.resumeWindow = window
		}
	}
}

// WithChatLogger attaches a structured logger.
func WithChatLogger(log *logrus.Logger) ChatOption {
	return func(s *ChatService) {
		if log != nil {
			s.log = log
		}
	}
}

// WithIDGenerator overrides id generation, for deterministic tests.
func WithIDGenerator(f func() string) ChatOption {
	return func(s *ChatService) {
		if f != nil {
			s.idGen = f
		}
	}
}

// WithClock overrides the clock, for deterministic tests.
func WithClock(now func() time.Time) ChatOption {
	return func(s *ChatService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewChatService wires the chat orchestration service.
func NewChatService(
	store memory.Store,
	driver TurnRunner,
	provider tool.Provider,
	resolver *relevance.Resolver,
	exposer *exposure.Manager,
	resumeStore resume.Store,
	publisher *streaming.Publisher,
	entitlements *Entitlements,
	titles Titleizer,
	opts ...ChatOption,
) *ChatService {
	s := &ChatService{
		store:        store,
		driver:       driver,
		provider:     provider,
		resolver:     resolver,
		exposer:      exposer,
		resumeStore:  resumeStore,
		publisher:    publisher,
		entitlements: entitlements,
		titles:       titles,
		systemPrompt: defaultSystemPrompt,
		resumeWindow: resumeFreshnessWindow,
		idGen:        uuid.NewString,
		now:          time.Now,
		log:          logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Accept processes one user turn, streaming frames to sink.
func (s *ChatService) Accept(ctx context.Context, request *ChatRequest, sink streaming.Sink) (*conversation.Result, error) {
	if request == nil || request.Text == "" || request.UserID == "" {
		return nil, chaterr.New(chaterr.CodeBadRequest, chaterr.SurfaceAPI)
	}
	if err := s.entitlements.Check(ctx, request.UserID, request.UserType); err != nil {
		return nil, err
	}
	chat, err := s.loadOrCreateChat(ctx, request)
	if err != nil {
		return nil, err
	}
	ctx = memory.WithConversationID(ctx, chat.ID)

	userMsg := memory.Message{
		ID:             s.idGen(),
		ConversationID: chat.ID,
		Role:           string(llm.RoleUser),
		Parts:          []memory.Part{{Type: memory.PartText, Text: request.Text}},
		CreatedAt:      s.now(),
	}
	if err := s.store.AddMessage(ctx, userMsg); err != nil {
		return nil, chaterr.Wrap(chaterr.CodeBadRequest, chaterr.SurfaceChat, err)
	}

	streamID := s.idGen()
	if err := s.store.CreateStreamID(ctx, chat.ID, streamID); err != nil {
		return nil, chaterr.Wrap(chaterr.CodeBadRequest, chaterr.SurfaceStream, err)
	}

	history, err := s.history(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	tools, err := s.baselineTools(ctx, chat, request.UserID)
	if err != nil {
		return nil, err
	}

	turn := &conversation.Turn{
		ChatID:       chat.ID,
		UserID:       request.UserID,
		SystemPrompt: s.systemPrompt,
		Messages:     history,
		Tools:        tools,
		PinnedApp:    pinnedApp(chat),
	}
	// Frames are recorded for resume and fanned out to live watchers before
	// reaching the requesting client.
	out := resume.NewRecorder(s.resumeStore, streamID, streaming.SinkFunc(func(frame streaming.Frame) error {
		_ = s.publisher.Publish(ctx, chat.ID, frame)
		return sink.Write(frame)
	}))

	result, err := s.driver.Run(ctx, turn, out)
	if err != nil {
		s.log.WithError(err).WithField("chat", chat.ID).Error("turn failed")
		return result, err
	}
	return result, nil
}

// Resume re-attaches a client to the most recent stream of a chat. An
// in-flight stream is replayed and tailed until it finishes. A completed one
// is never replayed in full; at most the final assistant message comes back
// as an append-message data frame, and only while it is still fresh.
func (s *ChatService) Resume(ctx context.Context, chatID, userID string, sink streaming.Sink) error {
	chat, err := s.authorizedChat(ctx, chatID, userID, true)
	if err != nil {
		return err
	}
	streamIDs, err := s.store.StreamIDs(ctx, chatID)
	if err != nil || len(streamIDs) == 0 {
		return chaterr.New(chaterr.CodeNotFound, chaterr.SurfaceStream)
	}
	streamID := streamIDs[len(streamIDs)-1]

	done, err := s.resumeStore.Completed(ctx, streamID)
	if err != nil {
		return chaterr.Wrap(chaterr.CodeNotFound, chaterr.SurfaceStream, err)
	}
	if done {
		return s.replayRecentMessage(ctx, chat, sink)
	}

	frames, err := s.resumeStore.Replay(ctx, streamID)
	if err != nil {
		return chaterr.Wrap(chaterr.CodeNotFound, chaterr.SurfaceStream, err)
	}
	for _, frame := range frames {
		if err := sink.Write(frame); err != nil {
			return err
		}
		if frame.Type == streaming.FrameFinish {
			return nil
		}
	}
	return s.tail(ctx, streamID, len(frames), sink)
}

// Watch attaches sink to the live frame feed of a chat without replay.
func (s *ChatService) Watch(ctx context.Context, chatID, userID string, sink streaming.Sink) error {
	if _, err := s.authorizedChat(ctx, chatID, userID, true); err != nil {
		return err
	}
	frames, cancel := s.publisher.Subscribe(chatID)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			if err := sink.Write(frame); err != nil {
				return err
			}
			if frame.Type == streaming.FrameFinish {
				return nil
			}
		}
	}
}

// History returns the persisted messages of a chat.
func (s *ChatService) History(ctx context.Context, chatID, userID string) ([]memory.Message, error) {
	if _, err := s.authorizedChat(ctx, chatID, userID, true); err != nil {
		return nil, err
	}
	msgs, err := s.store.GetMessages(ctx, chatID)
	if err != nil {
		return nil, chaterr.Wrap(chaterr.CodeNotFound, chaterr.SurfaceHistory, err)
	}
	return msgs, nil
}

// Delete removes a chat and its messages. Only the owner may delete.
func (s *ChatService) Delete(ctx context.Context, chatID, userID string) error {
	if _, err := s.authorizedChat(ctx, chatID, userID, false); err != nil {
		return err
	}
	if err := s.store.DeleteChat(ctx, chatID); err != nil {
		return chaterr.Wrap(chaterr.CodeBadRequest, chaterr.SurfaceChat, err)
	}
	return nil
}

// tail follows an in-flight stream by polling the resume store from offset
// until a finish frame is observed, the stream completes or ctx ends.
func (s *ChatService) tail(ctx context.Context, streamID string, offset int, sink streaming.Sink) error {
	for {
		frames, err := s.resumeStore.Replay(ctx, streamID)
		if err != nil {
			return chaterr.Wrap(chaterr.CodeNotFound, chaterr.SurfaceStream, err)
		}
		for _, frame := range frames[offset:] {
			if err := sink.Write(frame); err != nil {
				return err
			}
			if frame.Type == streaming.FrameFinish {
				return nil
			}
		}
		offset = len(frames)
		done, err := s.resumeStore.Completed(ctx, streamID)
		if err != nil {
			return chaterr.Wrap(chaterr.CodeNotFound, chaterr.SurfaceStream, err)
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(streamTailInterval):
		}
	}
}

// replayRecentMessage emits the final assistant message as an append-message
// data frame when it falls within the freshness window.
func (s *ChatService) replayRecentMessage(ctx context.Context, chat *memory.Chat, sink streaming.Sink) error {
	msgs, err := s.store.GetMessages(ctx, chat.ID)
	if err != nil {
		return chaterr.Wrap(chaterr.CodeNotFound, chaterr.SurfaceHistory, err)
	}
	var last *memory.Message
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == string(llm.RoleAssistant) {
			last = &msgs[i]
			break
		}
	}
	if last == nil || s.now().Sub(last.CreatedAt) > s.resumeWindow {
		return nil
	}
	frame, err := streaming.DataFrame(map[string]interface{}{
		"type":    "append-message",
		"message": last,
	})
	if err != nil {
		return err
	}
	return sink.Write(frame)
}

func (s *ChatService) loadOrCreateChat(ctx context.Context, request *ChatRequest) (*memory.Chat, error) {
	if request.ChatID == "" {
		request.ChatID = s.idGen()
	}
	chat, err := s.store.GetChat(ctx, request.ChatID)
	if errors.Is(err, memory.ErrNotFound) {
		title, terr := s.titles.Title(ctx, request.Text)
		if terr != nil || title == "" {
			title = trimTitle(request.Text)
		}
		visibility := request.Visibility
		if visibility == "" {
			visibility = memory.VisibilityPrivate
		}
		created := memory.Chat{
			ID:         request.ChatID,
			UserID:     request.UserID,
			Title:      title,
			Visibility: visibility,
			CreatedAt:  s.now(),
		}
		if err := s.store.SaveChat(ctx, created); err != nil {
			return nil, chaterr.Wrap(chaterr.CodeBadRequest, chaterr.SurfaceChat, err)
		}
		return &created, nil
	}
	if err != nil {
		return nil, chaterr.Wrap(chaterr.CodeNotFound, chaterr.SurfaceChat, err)
	}
	if chat.UserID != request.UserID {
		return nil, chaterr.New(chaterr.CodeForbidden, chaterr.SurfaceChat)
	}
	return chat, nil
}

// authorizedChat loads a chat and enforces ownership; public chats are
// readable by anyone when readOnly is set.
func (s *ChatService) authorizedChat(ctx context.Context, chatID, userID string, readOnly bool) (*memory.Chat, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if errors.Is(err, memory.ErrNotFound) {
		return nil, chaterr.New(chaterr.CodeNotFound, chaterr.SurfaceChat)
	}
	if err != nil {
		return nil, chaterr.Wrap(chaterr.CodeNotFound, chaterr.SurfaceChat, err)
	}
	if chat.UserID != userID {
		if !readOnly || chat.Visibility != memory.VisibilityPublic {
			return nil, chaterr.New(chaterr.CodeForbidden, chaterr.SurfaceChat)
		}
	}
	return chat, nil
}

// history converts persisted messages into the LLM transcript: text parts
// only, tool traffic of past turns is not replayed to the model.
func (s *ChatService) history(ctx context.Context, chatID string) ([]llm.Message, error) {
	msgs, err := s.store.GetMessages(ctx, chatID)
	if err != nil {
		return nil, chaterr.Wrap(chaterr.CodeNotFound, chaterr.SurfaceHistory, err)
	}
	var out []llm.Message
	for i := range msgs {
		text := msgs[i].Text()
		if text == "" {
			continue
		}
		switch msgs[i].Role {
		case string(llm.RoleUser):
			out = append(out, llm.NewUserMessage(text))
		case string(llm.RoleAssistant):
			out = append(out, llm.NewAssistantMessage(text))
		}
	}
	return out, nil
}

// baselineTools assembles the pass-1 tool surface: previously pinned app
// tools, if any, plus the discovery tools.
func (s *ChatService) baselineTools(ctx context.Context, chat *memory.Chat, userID string) (*tool.Set, error) {
	set := tool.NewSet()
	if chat.ExposedTools != nil && chat.ExposedTools.App != "" {
		pinned, err := s.provider.ToolSet(ctx, userID, chat.ExposedTools.App, chat.ExposedTools.ToolKeys())
		if err != nil {
			// A stale pin must not block the turn; discovery can re-expose.
			s.log.WithError(err).WithField("app", chat.ExposedTools.App).Warn("failed to load pinned tools")
		} else {
			set.Merge(pinned)
		}
	}
	set.Merge(tool.DiscoverySet(s.resolver, s.exposer, chat.ID, userID))
	s.log.WithFields(logrus.Fields{
		"chat":  chat.ID,
		"tools": set.SortedNames(),
	}).Debug("assembled baseline tool surface")
	return set, nil
}

func pinnedApp(chat *memory.Chat) string {
	if chat.ExposedTools == nil {
		return ""
	}
	return chat.ExposedTools.App
}

// Describe returns a short, log-friendly summary of a turn result.
func Describe(result *conversation.Result) string {
	if result == nil {
		return "no result"
	}
	if result.Decision != nil && result.Decision.Data != nil {
		return fmt.Sprintf("state=%s app=%s tools=%d", result.State,
			result.Decision.Data.App, result.Decision.Data.ExposedToolsCount)
	}
	return fmt.Sprintf("state=%s", result.State)
}
