// Package service wires the orchestration core from configuration: stores,
// catalog, MCP broker, exposure, driver and the chat service consumed by the
// HTTP adapter and the CLI.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/membranehq/ai-agent-example/adapter/mcp"
	"github.com/membranehq/ai-agent-example/adapter/openai"
	"github.com/membranehq/ai-agent-example/adapter/resume"
	"github.com/membranehq/ai-agent-example/genai/catalog"
	"github.com/membranehq/ai-agent-example/genai/conversation"
	"github.com/membranehq/ai-agent-example/genai/exposure"
	"github.com/membranehq/ai-agent-example/genai/llm"
	"github.com/membranehq/ai-agent-example/genai/memory"
	"github.com/membranehq/ai-agent-example/genai/relevance"
	"github.com/membranehq/ai-agent-example/genai/streaming"
	"github.com/sirupsen/logrus"
)

// Core bundles the wired runtime.
type Core struct {
	Config      *Config
	Log         *logrus.Logger
	Store       memory.Store
	Index       catalog.Index
	Broker      *mcp.Broker
	Connections *mcp.ConnectionRegistry
	Clients     mcp.ClientProvider
	Chat        *ChatService

	redis  *resume.RedisStore
	closer []func() error
}

// Options overrides injected dependencies, mainly for tests.
type Options struct {
	// Model overrides the OpenAI-compatible client built from config.
	Model llm.Model

	// Tokens resolves per-user MCP bearer tokens.
	Tokens mcp.TokenSource

	// Clients overrides the MCP client provider built from config.
	Clients mcp.ClientProvider

	// Logger overrides the default JSON logger.
	Logger *logrus.Logger
}

// New builds the runtime from config.
func New(ctx context.Context, cfg *Config, opts Options) (*Core, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.New()
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	}

	core := &Core{Config: cfg, Log: log}

	store, err := core.buildStore(cfg)
	if err != nil {
		return nil, err
	}
	core.Store = store

	model := opts.Model
	if model == nil {
		model = openai.New(openai.Config{
			APIURL: cfg.Model.APIURL,
			APIKey: cfg.Model.APIKey,
			Model:  cfg.Model.Name,
		})
	}

	clients := opts.Clients
	if clients == nil {
		tokens := opts.Tokens
		if tokens == nil && cfg.MCP.Secret != "" {
			tokens = mcp.SignedTokenSource(cfg.MCP.Secret)
		}
		clients = mcp.NewFactory(cfg.MCP.Name, cfg.MCP.Version, cfg.MCP.URL, tokens)
	}

	core.Clients = clients
	core.Index = catalog.NewMemIndex()
	core.Broker = mcp.NewBroker(clients, core.Index, mcp.WithBrokerLogger(log))
	core.Connections = mcp.NewConnectionRegistry()

	reader := catalog.NewReader(core.Index, catalog.DefaultRetryPolicy())
	resolver := relevance.New(core.Index, core.Index, relevance.WithLogger(log))
	exposer := exposure.New(core.Connections, core.Broker, reader, store, exposure.WithLogger(log))
	driver := conversation.NewDriver(model, store, core.Broker, conversation.WithDriverLogger(log))

	resumeStore := core.buildResumeStore(ctx, cfg, log)
	publisher := streaming.NewPublisher()
	entitlements := NewEntitlements(store, cfg.Entitlements)

	core.Chat = NewChatService(store, driver, core.Broker, resolver, exposer,
		resumeStore, publisher, entitlements, NewModelTitleizer(model),
		WithChatLogger(log))
	return core, nil
}

func (c *Core) buildStore(cfg *Config) (memory.Store, error) {
	if cfg.Store.SQLite == "" {
		return memory.NewHistoryStore(), nil
	}
	store, err := memory.OpenSQLite(cfg.Store.SQLite)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	c.closer = append(c.closer, store.Close)
	return store, nil
}

func (c *Core) buildResumeStore(ctx context.Context, cfg *Config, log *logrus.Logger) resume.Store {
	if cfg.Redis.Addr == "" {
		log.Info("no redis address configured, resumable streams kept in memory")
		return resume.NewMemStore(time.Hour)
	}
	store := resume.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, time.Hour)
	if err := store.Ping(ctx); err != nil {
		log.WithError(err).Warn("redis unreachable, falling back to in-memory resume store")
		_ = store.Close()
		return resume.NewMemStore(time.Hour)
	}
	c.redis = store
	c.closer = append(c.closer, store.Close)
	return store
}

// Close releases owned resources.
func (c *Core) Close() error {
	var first error
	for _, close := range c.closer {
		if err := close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
