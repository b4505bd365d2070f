package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/membranehq/ai-agent-example/genai/catalog"
	"github.com/membranehq/ai-agent-example/genai/exposure"
	"github.com/membranehq/ai-agent-example/genai/llm"
	"github.com/membranehq/ai-agent-example/genai/relevance"
)

// Discovery tool names. The internal_ prefix keeps them clearly separated
// from app tools in model output.
const (
	NameGetRelevantApps     = "internal_getRelevantApps"
	NameGetMoreRelevantApps = "internal_getMoreRelevantApps"
	NameExposeTools         = "internal_exposeTools"
)

const queryParamDescription = `Summary of action to be taken by the user with app name included if user provided it, the details of the action should not be included in the query.
E.g for "Can you send an email" the query should be "send an email"
E.g for "create a page on notion" the query should be "notion: create a page"
E.g for "What events do I have on google calendar" the query should be "google-calendar: get events"`

// NewRelevantAppsTool builds the discovery tool that ranks candidate apps
// for the user's intent.
func NewRelevantAppsTool(resolver *relevance.Resolver, userID string) (llm.ToolDefinition, Handler) {
	def := llm.ToolDefinition{
		Name: NameGetRelevantApps,
		Description: `See if you can find relevant apps for a user query if they are asking to perform an operation e.g:
- What events do I have for today?
- Can you create a page on notion?`,
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{"type": "string", "description": queryParamDescription},
			},
		},
		Required: []string{"query"},
	}
	handler := func(ctx context.Context, args map[string]interface{}) (string, error) {
		query, _ := args["query"].(string)
		result := resolver.Resolve(ctx, query, catalog.Scope{Namespace: userID})
		return encodeJSON(result)
	}
	return def, handler
}

// NewMoreRelevantAppsTool builds the broader fallback lookup used when the
// scoped resolution found nothing or only irrelevant apps.
func NewMoreRelevantAppsTool(resolver *relevance.Resolver) (llm.ToolDefinition, Handler) {
	def := llm.ToolDefinition{
		Name:        NameGetMoreRelevantApps,
		Description: `When you already tried to get a list of relevant apps for a user query but we didn't find any or they seem irrelevant, use this tool to search the broader catalog.`,
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{"type": "string", "description": "The query that was used to get the list of relevant apps"},
			},
		},
		Required: []string{"query"},
	}
	handler := func(ctx context.Context, args map[string]interface{}) (string, error) {
		query, _ := args["query"].(string)
		result := resolver.ResolveBroader(ctx, query)
		return encodeJSON(result)
	}
	return def, handler
}

// NewExposeTool builds the exposure tool bound to a conversation and user.
// Its result payload is an exposure.Decision.
func NewExposeTool(manager *exposure.Manager, chatID, userID string) (llm.ToolDefinition, Handler) {
	def := llm.ToolDefinition{
		Name: NameExposeTools,
		Description: `Expose tools for the selected app. This tool is called after we have found the relevant apps and the user has selected the app to use or we have found a single relevant app. Run again with a refined query if it returns tool count as 0.`,
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"app":   map[string]interface{}{"type": "string", "description": "The key of the app to expose tools for"},
				"query": map[string]interface{}{"type": "string", "description": queryParamDescription},
			},
		},
		Required: []string{"app", "query"},
	}
	handler := func(ctx context.Context, args map[string]interface{}) (string, error) {
		app, _ := args["app"].(string)
		query, _ := args["query"].(string)
		if app == "" {
			return "", fmt.Errorf("app is required")
		}
		decision := manager.ExposeTools(ctx, chatID, userID, app, query)
		return encodeJSON(decision)
	}
	return def, handler
}

// DiscoverySet bundles the discovery tools into one set.
func DiscoverySet(resolver *relevance.Resolver, manager *exposure.Manager, chatID, userID string) *Set {
	set := NewSet()
	set.Add(NewRelevantAppsTool(resolver, userID))
	set.Add(NewMoreRelevantAppsTool(resolver))
	set.Add(NewExposeTool(manager, chatID, userID))
	return set
}

// ParseDecision decodes an exposure decision from a tool result payload.
func ParseDecision(result string) (*exposure.Decision, error) {
	var decision exposure.Decision
	if err := json.Unmarshal([]byte(result), &decision); err != nil {
		return nil, fmt.Errorf("invalid exposure decision payload: %w", err)
	}
	return &decision, nil
}

func encodeJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
