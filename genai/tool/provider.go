package tool

import "context"

// Provider resolves pinned tool keys into an invocable tool set. Backed by
// the external tool-serving platform; descriptors are constructed on demand
// and never persisted, only their identifying keys are.
type Provider interface {
	// ToolSet returns the invocable tools for the given user, app and tool
	// keys. Keys with no live descriptor are skipped.
	ToolSet(ctx context.Context, userID, app string, keys []string) (*Set, error)
}
