package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/membranehq/ai-agent-example/adapter/mcp"
	"github.com/membranehq/ai-agent-example/genai/catalog"
	"github.com/membranehq/ai-agent-example/genai/exposure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mcpschema "github.com/viant/mcp-protocol/schema"
	mcpclient "github.com/viant/mcp/client"
)

const webhookSecret = "test-secret"

type webhookClient struct {
	tools []mcpschema.Tool
}

func (c *webhookClient) ListTools(ctx context.Context, cursor *string, options ...mcpclient.RequestOption) (*mcpschema.ListToolsResult, error) {
	return &mcpschema.ListToolsResult{Tools: c.tools}, nil
}

func (c *webhookClient) CallTool(ctx context.Context, params *mcpschema.CallToolRequestParams, options ...mcpclient.RequestOption) (*mcpschema.CallToolResult, error) {
	return &mcpschema.CallToolResult{}, nil
}

type singleClientProvider struct {
	client mcp.Operations
}

func (p *singleClientProvider) UserClient(ctx context.Context, userID string) (mcp.Operations, error) {
	return p.client, nil
}

func signEvent(t *testing.T, eventType, userID, app string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"type":           eventType,
		"userId":         userID,
		"integrationKey": app,
	})
	signed, err := token.SignedString([]byte(webhookSecret))
	require.NoError(t, err)
	return signed
}

type recordingEvictor struct {
	evicted []string
}

func (e *recordingEvictor) Evict(userID string) {
	e.evicted = append(e.evicted, userID)
}

func newWebhookFixture(t *testing.T) (*ConnectionWebhook, *mcp.ConnectionRegistry, catalog.Index, *recordingEvictor) {
	t.Helper()
	description := "List pages"
	client := &webhookClient{tools: []mcpschema.Tool{
		{Name: "notion_get-pages", Description: &description},
	}}
	index := catalog.NewMemIndex()
	broker := mcp.NewBroker(&singleClientProvider{client: client}, index)
	registry := mcp.NewConnectionRegistry()
	evictor := &recordingEvictor{}
	webhook, err := NewConnectionWebhook(webhookSecret, registry, broker, evictor, nil)
	require.NoError(t, err)
	return webhook, registry, index, evictor
}

func postEvent(webhook *ConnectionWebhook, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/api/webhooks/connection", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	webhook.Handle(rec, req)
	return rec
}

func TestWebhook_ConnectionLifecycle(t *testing.T) {
	webhook, registry, index, evictor := newWebhookFixture(t)
	ctx := context.Background()

	rec := postEvent(webhook, signEvent(t, EventConnectionCreated, "user-1", "notion"))
	require.Equal(t, http.StatusOK, rec.Code)

	state, err := registry.State(ctx, "user-1", "notion")
	require.NoError(t, err)
	assert.Equal(t, exposure.ConnectionLive, state)
	entries, err := index.Search(ctx, "list pages", 10, catalog.Scope{Namespace: "user-1"})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "notion_get-pages", entries[0].ID)

	rec = postEvent(webhook, signEvent(t, EventConnectionDisconnected, "user-1", "notion"))
	require.Equal(t, http.StatusOK, rec.Code)
	state, err = registry.State(ctx, "user-1", "notion")
	require.NoError(t, err)
	assert.Equal(t, exposure.ConnectionDisconnected, state)
	assert.Empty(t, evictor.evicted)

	rec = postEvent(webhook, signEvent(t, EventConnectionDeleted, "user-1", "notion"))
	require.Equal(t, http.StatusOK, rec.Code)
	state, err = registry.State(ctx, "user-1", "notion")
	require.NoError(t, err)
	assert.Equal(t, exposure.ConnectionNone, state)
	entries, err = index.Search(ctx, "list pages", 10,
		catalog.Scope{Namespace: "user-1", IntegrationKey: "notion"})
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Deleting the connection drops the user's cached MCP client.
	assert.Equal(t, []string{"user-1"}, evictor.evicted)
}

func TestWebhook_RejectsMissingToken(t *testing.T) {
	webhook, _, _, _ := newWebhookFixture(t)
	rec := postEvent(webhook, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	webhook, _, _, _ := newWebhookFixture(t)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"type": EventConnectionCreated, "userId": "user-1", "integrationKey": "notion",
	})
	signed, err := token.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	rec := postEvent(webhook, signed)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhook_RejectsUnknownEvent(t *testing.T) {
	webhook, _, _, _ := newWebhookFixture(t)
	rec := postEvent(webhook, signEvent(t, "connection.unknown", "user-1", "notion"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook_RequiresSecret(t *testing.T) {
	_, err := NewConnectionWebhook("", mcp.NewConnectionRegistry(), nil, nil, nil)
	require.Error(t, err)
}
