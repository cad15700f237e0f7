package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/user/modelgate/internal/costtrack"
	"github.com/user/modelgate/pkg/llm"
	"github.com/user/modelgate/pkg/llm/anthropic"
	"github.com/user/modelgate/pkg/llm/ollama"
	"github.com/user/modelgate/pkg/llm/openai"
	"github.com/user/modelgate/pkg/llm/policy"
)

// ProviderConfig describes one named backend configuration.
type ProviderConfig struct {
	Type        string  `mapstructure:"type"`
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// RetryConfig mirrors policy.RetryPolicy in the config file.
type RetryConfig struct {
	MaxAttempts int    `mapstructure:"max_attempts"`
	BaseDelay   string `mapstructure:"base_delay"`
	MaxDelay    string `mapstructure:"max_delay"`
}

// Config is the full modelgate configuration.
type Config struct {
	LogLevel    string                         `mapstructure:"log_level"`
	ListenPort  int                            `mapstructure:"listen_port"`
	MaxInFlight int                            `mapstructure:"max_in_flight"`
	TimeoutSecs int                            `mapstructure:"timeout_seconds"`
	Default     string                         `mapstructure:"default_provider"`
	Providers   map[string]ProviderConfig      `mapstructure:"providers"`
	Fallback    []policy.Target                `mapstructure:"fallback"`
	Pricing     map[string]costtrack.ModelRate `mapstructure:"pricing"`
	Retry       RetryConfig                    `mapstructure:"retry"`
}

// RetryPolicy converts the retry section into a policy.RetryPolicy,
// falling back to defaults for unset or unparsable fields.
func (c *Config) RetryPolicy() *policy.RetryPolicy {
	p := policy.DefaultRetryPolicy()
	if c.Retry.MaxAttempts > 0 {
		p.MaxAttempts = c.Retry.MaxAttempts
	}
	if d, err := time.ParseDuration(c.Retry.BaseDelay); err == nil && d > 0 {
		p.BaseDelay = d
	}
	if d, err := time.ParseDuration(c.Retry.MaxDelay); err == nil && d > 0 {
		p.MaxDelay = d
	}
	return p
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".modelgate", "config.yaml")
}

// Load reads the config file at path, applying defaults and environment
// overrides for credentials (OPENAI_API_KEY, ANTHROPIC_API_KEY). A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("log_level", "info")
	v.SetDefault("listen_port", 8090)
	v.SetDefault("max_in_flight", 32)
	v.SetDefault("timeout_seconds", 120)
	v.SetDefault("default_provider", "openai")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "30s")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Providers == nil {
		cfg.Providers = defaultProviders()
	}

	// Env credentials take precedence over the file.
	applyEnvKey(cfg.Providers, "openai", os.Getenv("OPENAI_API_KEY"))
	applyEnvKey(cfg.Providers, "anthropic", os.Getenv("ANTHROPIC_API_KEY"))

	return &cfg, nil
}

func applyEnvKey(providers map[string]ProviderConfig, typ, key string) {
	if key == "" {
		return
	}
	for name, pc := range providers {
		if pc.Type == typ && pc.APIKey == "" {
			pc.APIKey = key
			providers[name] = pc
		}
	}
}

func defaultProviders() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"openai": {
			Type:    "openai",
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		"anthropic": {
			Type:    "anthropic",
			BaseURL: "https://api.anthropic.com",
			Model:   "claude-3-5-haiku-latest",
		},
		"ollama": {
			Type:    "ollama",
			BaseURL: ollama.DefaultBaseURL,
			Model:   "llama3.2",
		},
	}
}

// BuildRegistry constructs the adapter registry from the configured
// providers. The registry is read-only after this returns.
func BuildRegistry(cfg *Config) (*llm.Registry, error) {
	registry := llm.NewRegistry()
	for name, pc := range cfg.Providers {
		adapter, err := buildAdapter(name, pc)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(adapter); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func buildAdapter(name string, pc ProviderConfig) (llm.Adapter, error) {
	conn := &llm.Config{BaseURL: pc.BaseURL, APIKey: pc.APIKey}
	switch strings.ToLower(pc.Type) {
	case "openai":
		return openai.New(conn, openai.WithName(name)), nil
	case "anthropic":
		return anthropic.New(conn, anthropic.WithName(name)), nil
	case "ollama":
		return ollama.New(conn, ollama.WithName(name)), nil
	default:
		return nil, llm.Errorf(llm.KindInvalidConfig, "provider %q has unknown type %q", name, pc.Type)
	}
}

// ModelFor returns the configured model for a provider name, empty when the
// provider is unknown or has no model set.
func (c *Config) ModelFor(provider string) string {
	if pc, ok := c.Providers[provider]; ok {
		return pc.Model
	}
	return ""
}

// WriteDefaults writes a starter config file at path, creating parent
// directories as needed. Existing files are left alone.
func WriteDefaults(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0600)
}

const defaultConfigYAML = `log_level: info
listen_port: 8090
max_in_flight: 32
timeout_seconds: 120
default_provider: openai

providers:
  openai:
    type: openai
    base_url: https://api.openai.com/v1
    model: gpt-4o-mini
  anthropic:
    type: anthropic
    base_url: https://api.anthropic.com
    model: claude-3-5-haiku-latest
  ollama:
    type: ollama
    base_url: http://localhost:11434
    model: llama3.2

fallback:
  - provider: openai
  - provider: anthropic
  - provider: ollama

retry:
  max_attempts: 3
  base_delay: 1s
  max_delay: 30s

pricing:
  gpt-4o-mini:
    input_per_1m: 0.15
    output_per_1m: 0.6
  claude-3-5-haiku-latest:
    input_per_1m: 0.8
    output_per_1m: 4.0
`
