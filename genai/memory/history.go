package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store defines behaviour for durable conversation state: chats, messages
// and stream identifiers. The orchestration core treats it as the system of
// record; the exposedTools field uses last-write-wins semantics.
type Store interface {
	// SaveChat creates or replaces conversation metadata.
	SaveChat(ctx context.Context, chat Chat) error

	// GetChat returns conversation metadata or ErrNotFound.
	GetChat(ctx context.Context, chatID string) (*Chat, error)

	// UpdateExposedTools atomically replaces the pinned tool set.
	UpdateExposedTools(ctx context.Context, chatID string, exposed *ExposedTools) error

	// DeleteChat removes the conversation and cascades its messages.
	DeleteChat(ctx context.Context, chatID string) error

	// AddMessage appends a message; order is creation-time ordered.
	AddMessage(ctx context.Context, msg Message) error

	// GetMessages returns all messages for the conversation in order.
	GetMessages(ctx context.Context, chatID string) ([]Message, error)

	// MessageCountSince counts user-role messages authored by userID after
	// the supplied instant, for entitlement checks.
	MessageCountSince(ctx context.Context, userID string, since time.Time) (int, error)

	// CreateStreamID records an outward stream bound to a conversation.
	CreateStreamID(ctx context.Context, chatID, streamID string) error

	// StreamIDs returns the stream ids recorded for a conversation, oldest first.
	StreamIDs(ctx context.Context, chatID string) ([]string, error)
}

// ErrNotFound is returned when a chat does not exist.
var ErrNotFound = fmt.Errorf("not found")

// HistoryStore is an in-memory Store implementation suitable for tests and
// local usage.
type HistoryStore struct {
	mux      sync.RWMutex
	chats    map[string]Chat
	messages map[string][]Message
	streams  map[string][]string
}

// NewHistoryStore creates a new in-memory store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{
		chats:    make(map[string]Chat),
		messages: make(map[string][]Message),
		streams:  make(map[string][]string),
	}
}

func (h *HistoryStore) SaveChat(ctx context.Context, chat Chat) error {
	h.mux.Lock()
	defer h.mux.Unlock()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now()
	}
	h.chats[chat.ID] = chat
	return nil
}

func (h *HistoryStore) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	h.mux.RLock()
	defer h.mux.RUnlock()
	chat, ok := h.chats[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := chat
	return &copied, nil
}

func (h *HistoryStore) UpdateExposedTools(ctx context.Context, chatID string, exposed *ExposedTools) error {
	h.mux.Lock()
	defer h.mux.Unlock()
	chat, ok := h.chats[chatID]
	if !ok {
		return ErrNotFound
	}
	chat.ExposedTools = exposed
	h.chats[chatID] = chat
	return nil
}

func (h *HistoryStore) DeleteChat(ctx context.Context, chatID string) error {
	h.mux.Lock()
	defer h.mux.Unlock()
	delete(h.chats, chatID)
	delete(h.messages, chatID)
	delete(h.streams, chatID)
	return nil
}

// AddMessage stores a message under its conversation ID. Duplicate message
// ids within a conversation are ignored to keep the store resilient against
// repeated events.
func (h *HistoryStore) AddMessage(ctx context.Context, msg Message) error {
	h.mux.Lock()
	defer h.mux.Unlock()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	convID := msg.ConversationID
	if msg.ID != "" {
		for _, existing := range h.messages[convID] {
			if existing.ID == msg.ID {
				return nil
			}
		}
	}
	h.messages[convID] = append(h.messages[convID], msg)
	return nil
}

func (h *HistoryStore) GetMessages(ctx context.Context, chatID string) ([]Message, error) {
	h.mux.RLock()
	defer h.mux.RUnlock()
	entries := h.messages[chatID]
	copied := make([]Message, len(entries))
	copy(copied, entries)
	sort.SliceStable(copied, func(i, j int) bool {
		return copied[i].CreatedAt.Before(copied[j].CreatedAt)
	})
	return copied, nil
}

func (h *HistoryStore) MessageCountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	h.mux.RLock()
	defer h.mux.RUnlock()
	count := 0
	for chatID, msgs := range h.messages {
		chat, ok := h.chats[chatID]
		if !ok || chat.UserID != userID {
			continue
		}
		for _, m := range msgs {
			if m.Role == "user" && m.CreatedAt.After(since) {
				count++
			}
		}
	}
	return count, nil
}

func (h *HistoryStore) CreateStreamID(ctx context.Context, chatID, streamID string) error {
	h.mux.Lock()
	defer h.mux.Unlock()
	h.streams[chatID] = append(h.streams[chatID], streamID)
	return nil
}

func (h *HistoryStore) StreamIDs(ctx context.Context, chatID string) ([]string, error) {
	h.mux.RLock()
	defer h.mux.RUnlock()
	ids := make([]string, len(h.streams[chatID]))
	copy(ids, h.streams[chatID])
	return ids, nil
}
