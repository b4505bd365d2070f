// Package exposure pins resolved tool sets against a conversation. The
// manager verifies the user's connection to an app, nudges the per-user tool
// index, performs a retry-aware scoped search and persists the resolved tool
// list so subsequent turns reuse it without re-resolving.
package exposure

import (
	"context"
	"errors"
	"fmt"

	"github.com/membranehq/ai-agent-example/genai/catalog"
	"github.com/membranehq/ai-agent-example/genai/memory"
	"github.com/sirupsen/logrus"
)

// Reason codes carried by failed decisions. They are normal tool-result
// payloads that steer the conversation, not errors.
const (
	ReasonNotConnected   = "not_connected"
	ReasonNeedsReconnect = "needs_reconnect"
	ReasonInternalError  = "internal_error"
)

// ConnectionState describes a user's link to an app.
type ConnectionState int

const (
	ConnectionNone ConnectionState = iota
	ConnectionLive
	ConnectionDisconnected
)

// Connections reports the state of a user's app connections. Backed by the
// external action-execution platform.
type Connections interface {
	State(ctx context.Context, userID, app string) (ConnectionState, error)
}

// Indexer triggers (re-)indexing of an app's tools into the per-user
// catalog namespace. Indexing is idempotent.
type Indexer interface {
	IndexApp(ctx context.Context, userID, app string) error
}

// ChatWriter persists the pinned tool set on a conversation.
type ChatWriter interface {
	UpdateExposedTools(ctx context.Context, chatID string, exposed *memory.ExposedTools) error
}

// DecisionData is the success payload of an exposure decision.
type DecisionData struct {
	Text              string   `json:"text"`
	App               string   `json:"app,omitempty"`
	ExposedToolsCount int      `json:"exposedToolsCount"`
	Tools             []string `json:"tools,omitempty"`
}

// DecisionError is the failure payload of an exposure decision.
type DecisionError struct {
	Type    string `json:"type"`
	App     string `json:"app,omitempty"`
	Message string `json:"message"`
}

// Decision is the outcome of one exposure attempt, consumed immediately by
// the conversation driver to decide whether to run a second pass.
type Decision struct {
	Success bool           `json:"success"`
	Data    *DecisionData  `json:"data,omitempty"`
	Error   *DecisionError `json:"error,omitempty"`
}

// Manager implements the exposure state machine:
// unresolved -> connection-checked -> {not-connected | indexing -> searching -> exposed}.
type Manager struct {
	connections Connections
	indexer     Indexer
	reader      *catalog.Reader
	chats       ChatWriter
	topK        int
	log         *logrus.Logger
}

// Option customises Manager behaviour.
type Option func(*Manager)

// WithTopK overrides the scoped search size.
func WithTopK(topK int) Option {
	return func(m *Manager) {
		if topK > 0 {
			m.topK = topK
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(log *logrus.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// New creates an exposure Manager.
func New(connections Connections, indexer Indexer, reader *catalog.Reader, chats ChatWriter, opts ...Option) *Manager {
	m := &Manager{
		connections: connections,
		indexer:     indexer,
		reader:      reader,
		chats:       chats,
		topK:        5,
		log:         logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ExposeTools resolves and pins the tool set of app for the conversation.
// Exactly one durable write happens per successful exposure with at least
// one tool; failure paths never write.
func (m *Manager) ExposeTools(ctx context.Context, chatID, userID, app, query string) Decision {
	state, err := m.connections.State(ctx, userID, app)
	if err != nil {
		m.log.WithError(err).WithField("app", app).Error("connection check failed")
		return internalError(app)
	}
	switch state {
	case ConnectionNone:
		return Decision{Success: false, Error: &DecisionError{
			Type:    ReasonNotConnected,
			App:     app,
			Message: fmt.Sprintf("You don't have a connection to %s, click the button above to connect to %s", app, app),
		}}
	case ConnectionDisconnected:
		return Decision{Success: false, Error: &DecisionError{
			Type:    ReasonNeedsReconnect,
			App:     app,
			Message: fmt.Sprintf("You need to reconnect to %s to use it, click the button above to reconnect", app),
		}}
	}

	scope := catalog.Scope{Namespace: userID, IntegrationKey: app}
	entries, err := m.reader.SearchWithRetry(ctx, query, m.topK, scope)
	if errors.Is(err, catalog.ErrNoResults) {
		// The webhook-driven refresh may not have fired yet; force one
		// re-index of this app and run the bounded search once more.
		if indexErr := m.indexer.IndexApp(ctx, userID, app); indexErr != nil {
			m.log.WithError(indexErr).WithField("app", app).Error("forced re-index failed")
			return internalError(app)
		}
		entries, err = m.reader.SearchWithRetry(ctx, query, m.topK, scope)
	}
	if errors.Is(err, catalog.ErrNoResults) {
		// Not an error: tell the model to retry the exposure with a
		// refined query.
		return Decision{Success: true, Data: &DecisionData{
			App:               app,
			ExposedToolsCount: 0,
			Text:              fmt.Sprintf("No tools found for %s yet, try again with a refined query", app),
		}}
	}
	if err != nil {
		m.log.WithError(err).WithField("app", app).Error("scoped tool search failed")
		return internalError(app)
	}

	exposed := &memory.ExposedTools{App: app}
	for _, entry := range entries {
		exposed.Tools = append(exposed.Tools, memory.ExposedToolRef{
			ID:             entry.ID,
			IntegrationKey: entry.IntegrationKey,
			ToolKey:        entry.ToolKey,
			Text:           entry.Text,
		})
	}
	if err := m.chats.UpdateExposedTools(ctx, chatID, exposed); err != nil {
		m.log.WithError(err).WithField("chat", chatID).Error("failed to persist exposed tools")
		return internalError(app)
	}

	return Decision{Success: true, Data: &DecisionData{
		App:               app,
		ExposedToolsCount: len(exposed.Tools),
		Tools:             exposed.ToolKeys(),
		Text:              fmt.Sprintf("Thanks, I've exposed tools for %s", app),
	}}
}

func internalError(app string) Decision {
	return Decision{Success: false, Error: &DecisionError{
		Type:    ReasonInternalError,
		App:     app,
		Message: "Failed to expose tools due to an internal error, this is not a connection related error",
	}}
}
