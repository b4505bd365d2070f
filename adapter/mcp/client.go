// Package mcp bridges the chat core to the external tool platform over the
// Model Context Protocol. It lists user-scoped tools, feeds them into the
// searchable catalog and materialises executable tool sets for exposure.
package mcp

import (
	"context"
	"fmt"
	"sync"

	mcp "github.com/viant/mcp"
	mcpschema "github.com/viant/mcp-protocol/schema"
	mcpclient "github.com/viant/mcp/client"
)

// Operations is the subset of the MCP client surface the broker needs.
type Operations interface {
	ListTools(ctx context.Context, cursor *string, options ...mcpclient.RequestOption) (*mcpschema.ListToolsResult, error)
	CallTool(ctx context.Context, params *mcpschema.CallToolRequestParams, options ...mcpclient.RequestOption) (*mcpschema.CallToolResult, error)
}

// ClientProvider yields an MCP client bound to a user's credentials.
type ClientProvider interface {
	UserClient(ctx context.Context, userID string) (Operations, error)
}

// TokenSource resolves a bearer token for the given user.
type TokenSource func(ctx context.Context, userID string) (string, error)

// Factory builds and caches one MCP client per user against a streamable
// HTTP endpoint. Tokens are injected per request so a cached client survives
// token rotation.
type Factory struct {
	name    string
	version string
	url     string
	tokens  TokenSource

	mu   sync.Mutex
	pool map[string]Operations
}

// NewFactory creates a per-user client factory for the given endpoint URL.
func NewFactory(name, version, url string, tokens TokenSource) *Factory {
	return &Factory{
		name:    name,
		version: version,
		url:     url,
		tokens:  tokens,
		pool:    map[string]Operations{},
	}
}

// UserClient returns a cached or freshly initialised client for userID.
func (f *Factory) UserClient(ctx context.Context, userID string) (Operations, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cli, ok := f.pool[userID]; ok {
		return cli, nil
	}
	options := &mcp.ClientOptions{
		Name:    f.name,
		Version: f.version,
		Transport: mcp.ClientTransport{
			Type:                "streamable",
			ClientTransportHTTP: mcp.ClientTransportHTTP{URL: f.url},
		},
	}
	cli, err := mcp.NewClient(nil, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp client for user %v: %w", userID, err)
	}
	if _, err := cli.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("mcp init: %w", err)
	}
	scoped := &userClient{client: cli, userID: userID, tokens: f.tokens}
	f.pool[userID] = scoped
	return scoped, nil
}

// Evict drops the cached client for userID, forcing a rebuild on next use.
func (f *Factory) Evict(userID string) {
	f.mu.Lock()
	delete(f.pool, userID)
	f.mu.Unlock()
}

// userClient injects the user's bearer token on every request.
type userClient struct {
	client mcpclient.Interface
	userID string
	tokens TokenSource
}

func (u *userClient) ListTools(ctx context.Context, cursor *string, options ...mcpclient.RequestOption) (*mcpschema.ListToolsResult, error) {
	options, err := u.withAuth(ctx, options)
	if err != nil {
		return nil, err
	}
	return u.client.ListTools(ctx, cursor, options...)
}

func (u *userClient) CallTool(ctx context.Context, params *mcpschema.CallToolRequestParams, options ...mcpclient.RequestOption) (*mcpschema.CallToolResult, error) {
	options, err := u.withAuth(ctx, options)
	if err != nil {
		return nil, err
	}
	return u.client.CallTool(ctx, params, options...)
}

func (u *userClient) withAuth(ctx context.Context, options []mcpclient.RequestOption) ([]mcpclient.RequestOption, error) {
	if u.tokens == nil {
		return options, nil
	}
	token, err := u.tokens(ctx, u.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve token for user %v: %w", u.userID, err)
	}
	if token != "" {
		options = append(options, mcpclient.WithAuthToken(token))
	}
	return options, nil
}
