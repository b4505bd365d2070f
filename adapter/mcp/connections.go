package mcp

import (
	"context"
	"strings"
	"sync"

	"github.com/membranehq/ai-agent-example/genai/exposure"
)

// ConnectionRegistry tracks which apps a user is connected to. The webhook
// handler updates it on connection lifecycle events; the exposure manager
// consults it before resolving tools. Implements exposure.Connections.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	state map[string]map[string]exposure.ConnectionState // userID -> app -> state
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{state: map[string]map[string]exposure.ConnectionState{}}
}

// Mark records the connection state of (userID, app).
func (r *ConnectionRegistry) Mark(userID, app string, state exposure.ConnectionState) {
	app = strings.ToLower(app)
	r.mu.Lock()
	if r.state[userID] == nil {
		r.state[userID] = map[string]exposure.ConnectionState{}
	}
	if state == exposure.ConnectionNone {
		delete(r.state[userID], app)
	} else {
		r.state[userID][app] = state
	}
	r.mu.Unlock()
}

// State reports the connection state of (userID, app).
func (r *ConnectionRegistry) State(ctx context.Context, userID, app string) (exposure.ConnectionState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if states, ok := r.state[userID]; ok {
		if state, ok := states[strings.ToLower(app)]; ok {
			return state, nil
		}
	}
	return exposure.ConnectionNone, nil
}

// Apps lists the apps the user currently has a live connection to.
func (r *ConnectionRegistry) Apps(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var apps []string
	for app, state := range r.state[userID] {
		if state == exposure.ConnectionLive {
			apps = append(apps, app)
		}
	}
	return apps
}
