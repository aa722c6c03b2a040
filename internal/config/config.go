// Package config handles Aza Man configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider names accepted in models.provider.
const (
	ProviderAnthropic  = "anthropic"
	ProviderOllama     = "ollama"
	ProviderOpenRouter = "openrouter"
	ProviderGroq       = "groq"
	ProviderTogether   = "together"
)

// KnownProviders lists every provider the model gateway can route to.
var KnownProviders = []string{
	ProviderAnthropic,
	ProviderOllama,
	ProviderOpenRouter,
	ProviderGroq,
	ProviderTogether,
}

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/azaman/config.yaml, /etc/azaman/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "azaman", "config.yaml"))
	}

	paths = append(paths, "/etc/azaman/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Aza Man configuration.
type Config struct {
	Listen    ListenConfig            `yaml:"listen"`
	Models    ModelsConfig            `yaml:"models"`
	Providers ProvidersConfig         `yaml:"providers"`
	Agent     AgentConfig             `yaml:"agent"`
	Cache     CacheConfig             `yaml:"cache"`
	Store     StoreConfig             `yaml:"store"`
	Pricing   map[string]PricingEntry `yaml:"pricing"`
	MQTT      MQTTConfig              `yaml:"mqtt"`
	DataDir   string                  `yaml:"data_dir"`
	LogLevel  string                  `yaml:"log_level"`
	LogFormat string                  `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig selects the backend used for every turn. Model may
// carry a provider prefix ("groq/llama-3.3-70b-versatile"), in which
// case Provider can be left empty.
type ModelsConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// MaxTokens caps completion length for providers that require it
	// (Anthropic). Default 4096.
	MaxTokens int `yaml:"max_tokens"`
}

// ProvidersConfig holds credentials and endpoints per provider.
// Secrets are normally supplied through ${ENV} expansion.
type ProvidersConfig struct {
	Anthropic  ProviderConfig `yaml:"anthropic"`
	Ollama     ProviderConfig `yaml:"ollama"`
	OpenRouter ProviderConfig `yaml:"openrouter"`
	Groq       ProviderConfig `yaml:"groq"`
	Together   ProviderConfig `yaml:"together"`
}

// ProviderConfig is a single provider's endpoint and key.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Get returns the settings for a named provider.
func (p ProvidersConfig) Get(name string) (ProviderConfig, bool) {
	switch name {
	case ProviderAnthropic:
		return p.Anthropic, true
	case ProviderOllama:
		return p.Ollama, true
	case ProviderOpenRouter:
		return p.OpenRouter, true
	case ProviderGroq:
		return p.Groq, true
	case ProviderTogether:
		return p.Together, true
	}
	return ProviderConfig{}, false
}

// AgentConfig tunes the turn loop.
type AgentConfig struct {
	// SummarizeThreshold is the history length above which a terminal
	// turn triggers summarization. Default 10.
	SummarizeThreshold int `yaml:"summarize_threshold"`
	// MaxIterations bounds model invocations per turn. Default 20.
	MaxIterations int `yaml:"max_iterations"`
}

// CacheConfig controls the in-memory read cache in front of the
// state store.
type CacheConfig struct {
	Disabled bool `yaml:"disabled"`
	// MaxStates is the approximate number of conversation states held.
	// Default 1000.
	MaxStates int64 `yaml:"max_states"`
}

// StoreConfig controls conversation state persistence.
type StoreConfig struct {
	// KeepVersions is how many saved versions of each thread are kept.
	// Zero keeps every version.
	KeepVersions int `yaml:"keep_versions"`
}

// PricingEntry is the USD cost per million tokens for one model.
// Models without an entry are treated as free (local Ollama).
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// MQTTConfig enables publishing budget snapshots to an MQTT broker.
type MQTTConfig struct {
	Broker     string `yaml:"broker"` // e.g. mqtt://localhost:1883 or mqtts://...
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	DeviceName string `yaml:"device_name"`
	// KeepAliveSec is the MQTT keepalive interval. Default 30.
	KeepAliveSec int `yaml:"keepalive_sec"`
	// DiscoveryPrefix is the Home Assistant discovery topic root.
	// Default "homeassistant".
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	// PublishIntervalSec sets how often diagnostic sensors are
	// refreshed. Default 60.
	PublishIntervalSec int `yaml:"publish_interval_sec"`
}

// Configured reports whether a broker has been set.
func (m MQTTConfig) Configured() bool {
	return m.Broker != ""
}

// Load reads configuration from a YAML file, expands ${ENV} references,
// and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a configuration suitable for a local Ollama setup.
func Default() *Config {
	cfg := &Config{
		Models: ModelsConfig{
			Provider: ProviderOllama,
			Model:    "qwen3:4b",
		},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.Models.MaxTokens == 0 {
		c.Models.MaxTokens = 4096
	}
	if c.Agent.SummarizeThreshold == 0 {
		c.Agent.SummarizeThreshold = 10
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 20
	}
	if c.Cache.MaxStates == 0 {
		c.Cache.MaxStates = 1000
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "azaman"
	}
	if c.MQTT.KeepAliveSec == 0 {
		c.MQTT.KeepAliveSec = 30
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.PublishIntervalSec <= 0 {
		c.MQTT.PublishIntervalSec = 60
	}
	if c.Providers.Ollama.BaseURL == "" {
		c.Providers.Ollama.BaseURL = "http://localhost:11434"
	}
}

// Validate checks the configuration for values that would fail at
// runtime. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if c.Models.Model == "" {
		errs = append(errs, errors.New("models.model is required"))
	}
	if c.Models.Provider != "" && !IsKnownProvider(c.Models.Provider) {
		errs = append(errs, fmt.Errorf("models.provider %q is not one of %s",
			c.Models.Provider, strings.Join(KnownProviders, ", ")))
	}
	if c.Agent.SummarizeThreshold < 0 {
		errs = append(errs, fmt.Errorf("agent.summarize_threshold must be >= 0, got %d", c.Agent.SummarizeThreshold))
	}
	if c.Store.KeepVersions < 0 {
		errs = append(errs, fmt.Errorf("store.keep_versions must be >= 0, got %d", c.Store.KeepVersions))
	}
	if c.Agent.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("agent.max_iterations must be >= 1, got %d", c.Agent.MaxIterations))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}

	return errors.Join(errs...)
}

// IsKnownProvider reports whether name is a supported provider id.
func IsKnownProvider(name string) bool {
	for _, p := range KnownProviders {
		if p == name {
			return true
		}
	}
	return false
}
