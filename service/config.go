package service

import (
	"context"
	"fmt"
	"os"

	"github.com/viant/afs"
	"gopkg.in/yaml.v3"
)

// Config is the root service configuration, loaded from a YAML document.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Model  ModelConfig  `yaml:"model"`
	MCP    MCPConfig    `yaml:"mcp"`
	Store  StoreConfig  `yaml:"store"`
	Redis  RedisConfig  `yaml:"redis"`

	// Webhook carries the shared secret used to verify connection events.
	Webhook WebhookConfig `yaml:"webhook"`

	// Entitlements maps user type to the daily message quota.
	Entitlements map[string]int `yaml:"entitlements,omitempty"`
}

type ServerConfig struct {
	Port int `yaml:"port"`

	// AllowedOrigins for CORS; "*" when empty.
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

type ModelConfig struct {
	Name string `yaml:"name"`

	// APIURL of the OpenAI-compatible endpoint; provider default when empty.
	APIURL string `yaml:"apiURL,omitempty"`
	APIKey string `yaml:"apiKey,omitempty"`
}

type MCPConfig struct {
	// URL of the streamable MCP endpoint of the tool platform.
	URL     string `yaml:"url"`
	Name    string `yaml:"name,omitempty"`
	Version string `yaml:"version,omitempty"`

	// Secret signs per-user platform tokens; anonymous access when empty.
	Secret string `yaml:"secret,omitempty"`
}

type StoreConfig struct {
	// SQLite database location; empty keeps conversation state in memory.
	SQLite string `yaml:"sqlite,omitempty"`
}

type RedisConfig struct {
	// Addr enables the distributed resumable-stream store when non-empty.
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

type WebhookConfig struct {
	Secret string `yaml:"secret,omitempty"`
}

// LoadConfig reads and validates a YAML config from the supplied URL
// (file path, s3://, gs:// etc per afs).
func LoadConfig(ctx context.Context, URL string) (*Config, error) {
	fs := afs.New()
	data, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %v: %w", URL, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %v: %w", URL, err)
	}
	cfg.Init()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Init applies defaults and environment overrides for secrets.
func (c *Config) Init() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.MCP.Name == "" {
		c.MCP.Name = "agentchat"
	}
	if c.MCP.Version == "" {
		c.MCP.Version = "1.0"
	}
	if c.Entitlements == nil {
		c.Entitlements = map[string]int{}
	}
	if secret := os.Getenv("AGENTCHAT_WEBHOOK_SECRET"); secret != "" {
		c.Webhook.Secret = secret
	}
	if addr := os.Getenv("AGENTCHAT_REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if key := os.Getenv("AGENTCHAT_MODEL_API_KEY"); key != "" {
		c.Model.APIKey = key
	}
	if secret := os.Getenv("AGENTCHAT_MCP_SECRET"); secret != "" {
		c.MCP.Secret = secret
	}
}

// Validate reports configuration errors that would prevent startup.
func (c *Config) Validate() error {
	if c.MCP.URL == "" {
		return fmt.Errorf("mcp.url is required")
	}
	if c.Model.Name == "" {
		return fmt.Errorf("model.name is required")
	}
	return nil
}
