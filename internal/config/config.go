// Package config resolves runtime configuration from the user config file,
// environment variables, and CLI flags. Precedence: flags over file over
// environment over defaults.
package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/thinksuit/thinksuit/internal/providers"
	"github.com/thinksuit/thinksuit/internal/tools"
	"github.com/thinksuit/thinksuit/pkg/models"
)

// EnvConfig points at an alternate config file.
const EnvConfig = "THINKSUIT_CONFIG"

// Additional environment overrides.
const (
	EnvModule         = "THINKSUIT_MODULE"
	EnvModulesPackage = "THINKSUIT_MODULES_PACKAGE"
)

// Secret is an API key or other credential. It never appears in logs or
// string formatting; access the raw value with Reveal.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[redacted]"
}

func (s Secret) LogValue() slog.Value { return slog.StringValue(s.String()) }

// Reveal returns the raw credential.
func (s Secret) Reveal() string { return string(s) }

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey Secret `json:"apiKey"`
}

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey Secret `json:"apiKey"`
}

// VertexAIConfig configures the Google Vertex AI provider.
type VertexAIConfig struct {
	ProjectID string `json:"projectId"`
	Location  string `json:"location"`
}

// ProviderConfig nests per-backend credentials.
type ProviderConfig struct {
	OpenAI    OpenAIConfig    `json:"openai"`
	Anthropic AnthropicConfig `json:"anthropic"`
	VertexAI  VertexAIConfig  `json:"vertexAi"`
}

// MCPServerConfig declares one user-configured MCP server.
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// LoggingConfig shapes the process logger.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"` // debug|info|warn|error
	Silent bool   `json:"silent,omitempty"`
	Format string `json:"format,omitempty"` // json|pretty
}

// Config is the resolved runtime configuration.
type Config struct {
	Module         string `json:"module,omitempty"`
	ModulesPackage string `json:"modulesPackage,omitempty"`

	Provider       string         `json:"provider,omitempty"`
	Model          string         `json:"model,omitempty"`
	ProviderConfig ProviderConfig `json:"providerConfig,omitempty"`

	Cwd                string                     `json:"cwd,omitempty"`
	AllowedDirectories []string                   `json:"allowedDirectories,omitempty"`
	MCPServers         map[string]MCPServerConfig `json:"mcpServers,omitempty"`
	AllowedTools       []string                   `json:"allowedTools,omitempty"`
	AutoApproveTools   bool                       `json:"autoApproveTools,omitempty"`

	Policy  models.Policy `json:"policy,omitempty"`
	Trace   bool          `json:"trace,omitempty"`
	Logging LoggingConfig `json:"logging,omitempty"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Module:   "thinksuit/mu",
		Provider: "openai",
		Model:    "gpt-4o-mini",
		Policy:   models.DefaultPolicy(),
		Logging:  LoggingConfig{Level: "info", Format: "pretty"},
	}
}

// DefaultPath returns the user config file location, honoring THINKSUIT_CONFIG.
func DefaultPath() string {
	if path := os.Getenv(EnvConfig); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".thinksuit.json")
}

// Load resolves configuration from the given file path (or the default
// location when empty) merged over environment variables and defaults. A
// missing file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()
	applyEnv(cfg)

	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	// Environment references inside the file are expanded before parsing so
	// credentials can live outside it.
	expanded := os.ExpandEnv(string(data))
	if err := json5.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Policy.MaxDepth == 0 && cfg.Policy.MaxFanout == 0 && cfg.Policy.MaxChildren == 0 {
		cfg.Policy = models.DefaultPolicy()
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvModule); v != "" {
		cfg.Module = v
	}
	if v := os.Getenv(EnvModulesPackage); v != "" {
		cfg.ModulesPackage = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.ProviderConfig.OpenAI.APIKey == "" {
		cfg.ProviderConfig.OpenAI.APIKey = Secret(v)
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.ProviderConfig.Anthropic.APIKey == "" {
		cfg.ProviderConfig.Anthropic.APIKey = Secret(v)
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" && cfg.ProviderConfig.VertexAI.ProjectID == "" {
		cfg.ProviderConfig.VertexAI.ProjectID = v
	}
	if v := os.Getenv("GOOGLE_CLOUD_LOCATION"); v != "" && cfg.ProviderConfig.VertexAI.Location == "" {
		cfg.ProviderConfig.VertexAI.Location = v
	}
}

// Validate fails fast on configuration errors before any turn state exists.
func (c *Config) Validate() error {
	switch c.Provider {
	case "openai":
		if c.ProviderConfig.OpenAI.APIKey == "" {
			return models.NewError(models.CodeConfigMissingKey, "providerConfig.openai.apiKey is required for provider openai")
		}
	case "anthropic":
		if c.ProviderConfig.Anthropic.APIKey == "" {
			return models.NewError(models.CodeConfigMissingKey, "providerConfig.anthropic.apiKey is required for provider anthropic")
		}
	case "vertexAi":
		if c.ProviderConfig.VertexAI.ProjectID == "" {
			return models.NewError(models.CodeConfigMissingKey, "providerConfig.vertexAi.projectId is required for provider vertexAi")
		}
	case "mock":
	default:
		return models.NewError(models.CodeConfigMissingKey, "unknown provider %q", c.Provider)
	}
	if c.Model == "" {
		return models.NewError(models.CodeConfigMissingKey, "model is required")
	}
	return nil
}

// BuildProvider constructs the configured LLM backend adapter.
func (c *Config) BuildProvider(ctx context.Context) (providers.Provider, error) {
	switch c.Provider {
	case "openai":
		return providers.NewOpenAIProvider(c.ProviderConfig.OpenAI.APIKey.Reveal()), nil
	case "anthropic":
		return providers.NewAnthropicProvider(c.ProviderConfig.Anthropic.APIKey.Reveal()), nil
	case "vertexAi":
		return providers.NewGoogleProvider(ctx, providers.GoogleConfig{
			ProjectID: c.ProviderConfig.VertexAI.ProjectID,
			Location:  c.ProviderConfig.VertexAI.Location,
		})
	case "mock":
		return providers.NewMockProvider(), nil
	default:
		return nil, models.NewError(models.CodeConfigMissingKey, "unknown provider %q", c.Provider)
	}
}

// ToolsConfig projects the configuration onto the tool mediator.
func (c *Config) ToolsConfig() tools.Config {
	allowed := c.AllowedDirectories
	if len(allowed) == 0 {
		cwd := c.Cwd
		if cwd == "" {
			cwd, _ = os.Getwd()
		}
		if cwd != "" {
			allowed = []string{cwd}
		}
	}
	servers := make(map[string]tools.ServerSpec, len(c.MCPServers))
	for name, s := range c.MCPServers {
		servers[name] = tools.ServerSpec{Command: s.Command, Args: s.Args, Env: s.Env}
	}
	return tools.Config{
		AllowedDirectories: allowed,
		Servers:            servers,
		AllowedTools:       c.AllowedTools,
		AutoApproveTools:   c.AutoApproveTools,
	}
}

// Logger builds the process logger from the logging settings.
func (c *Config) Logger() *slog.Logger {
	var out io.Writer = os.Stderr
	if c.Logging.Silent {
		out = io.Discard
	}
	level := slog.LevelInfo
	switch c.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}
