package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/membranehq/ai-agent-example/genai/catalog"
	"github.com/membranehq/ai-agent-example/genai/llm"
	"github.com/membranehq/ai-agent-example/genai/tool"
	"github.com/sirupsen/logrus"
	mcpschema "github.com/viant/mcp-protocol/schema"
)

// upsertBatchSize bounds a single catalog upsert request.
const upsertBatchSize = 90

// Broker turns the user's MCP tool inventory into catalog entries and
// executable tool sets. Tool names follow the <integrationKey>_<toolKey>
// convention; the integration key is everything before the first underscore,
// lowercased.
type Broker struct {
	clients ClientProvider
	index   catalog.Index
	batch   int
	log     *logrus.Logger
}

// BrokerOption customises Broker behaviour.
type BrokerOption func(*Broker)

// WithBatchSize overrides the catalog upsert batch size.
func WithBatchSize(size int) BrokerOption {
	return func(b *Broker) {
		if size > 0 {
			b.batch = size
		}
	}
}

// WithBrokerLogger attaches a structured logger.
func WithBrokerLogger(log *logrus.Logger) BrokerOption {
	return func(b *Broker) {
		if log != nil {
			b.log = log
		}
	}
}

// NewBroker creates a Broker over the given client provider and catalog.
func NewBroker(clients ClientProvider, index catalog.Index, opts ...BrokerOption) *Broker {
	b := &Broker{
		clients: clients,
		index:   index,
		batch:   upsertBatchSize,
		log:     logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// SplitName parses an MCP tool name into its integration and tool keys.
func SplitName(name string) (integrationKey, toolKey string) {
	before, after, found := strings.Cut(name, "_")
	if !found {
		return strings.ToLower(name), name
	}
	return strings.ToLower(before), after
}

// ToolSet materialises an executable tool set for the given app, restricted
// to the supplied tool keys. Every handler routes the call back to the user's
// MCP client. Implements tool.Provider.
func (b *Broker) ToolSet(ctx context.Context, userID, app string, keys []string) (*tool.Set, error) {
	client, err := b.clients.UserClient(ctx, userID)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(keys))
	for _, key := range keys {
		wanted[key] = true
	}
	set := tool.NewSet()
	tools, err := b.listTools(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools for user %v: %w", userID, err)
	}
	for i := range tools {
		t := tools[i]
		integration, toolKey := SplitName(t.Name)
		if integration != strings.ToLower(app) {
			continue
		}
		if len(wanted) > 0 && !wanted[toolKey] && !wanted[t.Name] {
			continue
		}
		def := llm.ToolDefinitionFromMCPTool(&t)
		set.Add(*def, b.callHandler(client, t.Name))
	}
	return set, nil
}

// IndexApp refreshes the catalog entries of a single app in the user's
// namespace. Implements the forced re-index escape hatch of the exposure
// manager. Idempotent: entry ids are derived so re-runs overwrite in place.
func (b *Broker) IndexApp(ctx context.Context, userID, app string) error {
	return b.indexFiltered(ctx, userID, strings.ToLower(app))
}

// IndexAll refreshes the catalog entries of every tool the user has access
// to, used when a connection is created.
func (b *Broker) IndexAll(ctx context.Context, userID string) error {
	return b.indexFiltered(ctx, userID, "")
}

// PurgeIntegration drops all catalog entries of an app from the user's
// namespace, used when a connection is deleted.
func (b *Broker) PurgeIntegration(ctx context.Context, userID, app string) error {
	return b.index.DeleteByIntegration(ctx, userID, strings.ToLower(app))
}

func (b *Broker) indexFiltered(ctx context.Context, userID, integration string) error {
	client, err := b.clients.UserClient(ctx, userID)
	if err != nil {
		return err
	}
	tools, err := b.listTools(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to list tools for user %v: %w", userID, err)
	}
	var entries []catalog.Entry
	for i := range tools {
		entry := entryFromTool(&tools[i], userID)
		if integration != "" && entry.IntegrationKey != integration {
			continue
		}
		entries = append(entries, entry)
	}
	b.log.WithFields(logrus.Fields{"user": userID, "integration": integration, "count": len(entries)}).
		Debug("indexing tools")
	for start := 0; start < len(entries); start += b.batch {
		end := start + b.batch
		if end > len(entries) {
			end = len(entries)
		}
		if err := b.index.Upsert(ctx, userID, entries[start:end]); err != nil {
			return fmt.Errorf("failed to upsert tool entries: %w", err)
		}
	}
	return nil
}

func (b *Broker) listTools(ctx context.Context, client Operations) ([]mcpschema.Tool, error) {
	var tools []mcpschema.Tool
	var cursor *string
	for {
		result, err := client.ListTools(ctx, cursor)
		if err != nil {
			return nil, err
		}
		tools = append(tools, result.Tools...)
		if result.NextCursor == nil || *result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}
	return tools, nil
}

func (b *Broker) callHandler(client Operations, name string) tool.Handler {
	return func(ctx context.Context, args map[string]interface{}) (string, error) {
		if args == nil {
			args = map[string]interface{}{}
		}
		params := &mcpschema.CallToolRequestParams{
			Name:      name,
			Arguments: args,
		}
		result, err := client.CallTool(ctx, params)
		if err != nil {
			return "", err
		}
		return flattenContent(result)
	}
}

// flattenContent collapses a call result into a single string: plain text
// stays as-is, anything else is returned as a JSON content array.
func flattenContent(result *mcpschema.CallToolResult) (string, error) {
	if len(result.Content) == 0 {
		return "", nil
	}
	if len(result.Content) == 1 && result.Content[0].Type == "text" {
		return result.Content[0].Text, nil
	}
	data, err := json.Marshal(result.Content)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// entryFromTool derives the catalog entry for an MCP tool. The id is stable
// per (integration, tool) so upserts overwrite rather than accumulate.
func entryFromTool(t *mcpschema.Tool, userID string) catalog.Entry {
	integration, toolKey := SplitName(t.Name)
	text := t.Name
	if t.Description != nil && *t.Description != "" {
		text = fmt.Sprintf("%s: %s", t.Name, *t.Description)
	}
	return catalog.Entry{
		ID:             fmt.Sprintf("%s_%s", integration, toolKey),
		IntegrationKey: integration,
		ToolKey:        toolKey,
		Text:           text,
		UserID:         userID,
	}
}
