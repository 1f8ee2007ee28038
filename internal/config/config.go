// Package config provides configuration loading for insightd.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the insightd daemon.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	LLM           LLMConfig           `koanf:"llm"`
	Embedding     EmbeddingConfig     `koanf:"embedding"`
	Cluster       ClusterConfig       `koanf:"cluster"`
	Storage       StorageConfig       `koanf:"storage"`
	VectorIndex   VectorIndexConfig   `koanf:"vector_index"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `koanf:"level"`
	// Format is "json" or "console".
	Format string `koanf:"format"`
}

// LLMConfig holds the primary and optional fallback model providers.
//
// Providers are injected explicitly at construction time rather than read
// from shared mutable settings, so tests can substitute deterministic stubs.
type LLMConfig struct {
	Primary  ProviderConfig `koanf:"primary"`
	Fallback ProviderConfig `koanf:"fallback"`
}

// ProviderConfig describes one chat-model provider.
type ProviderConfig struct {
	// Provider is "anthropic" or "openai". Empty disables the slot.
	Provider string `koanf:"provider"`
	// Model is the provider-specific model name.
	Model string `koanf:"model"`
	// APIKey authenticates against the provider API.
	APIKey Secret `koanf:"api_key"`
	// BaseURL overrides the provider endpoint (useful for proxies and tests).
	BaseURL string `koanf:"base_url"`
	// Timeout bounds a single request. Default 60s.
	Timeout Duration `koanf:"timeout"`
	// MaxTokens caps response length. Default 1024.
	MaxTokens int `koanf:"max_tokens"`
}

// Enabled reports whether this provider slot is configured.
func (p ProviderConfig) Enabled() bool {
	return p.Provider != ""
}

// EmbeddingConfig holds embedding generator settings.
type EmbeddingConfig struct {
	// Provider is "hash" (deterministic local) or "tei" (remote HTTP).
	Provider string `koanf:"provider"`
	// Dimension is the output vector size. All stored vectors must share it.
	Dimension int `koanf:"dimension"`
	// BaseURL is the TEI endpoint (tei provider only).
	BaseURL string `koanf:"base_url"`
	// Model is the embedding model name (tei provider only).
	Model string `koanf:"model"`
}

// ClusterConfig holds clustering defaults.
type ClusterConfig struct {
	// DefaultThreshold is the cosine similarity cutoff used when a request
	// does not supply one. Lower values produce fewer, larger clusters.
	DefaultThreshold float64 `koanf:"default_threshold"`
}

// StorageConfig holds relational storage settings.
type StorageConfig struct {
	// Path is the SQLite database file. Empty means in-memory.
	Path string `koanf:"path"`
}

// VectorIndexConfig holds the embedded vector index settings.
type VectorIndexConfig struct {
	// Path is the directory for persistent index storage. Empty means in-memory.
	Path string `koanf:"path"`
	// Collection is the index collection name.
	Collection string `koanf:"collection"`
}

// ObservabilityConfig holds OpenTelemetry export settings.
type ObservabilityConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
	// Endpoint is the OTLP collector endpoint, e.g. "localhost:4317".
	Endpoint string `koanf:"endpoint"`
	// Protocol is "grpc" or "http/protobuf".
	Protocol string `koanf:"protocol"`
	Insecure bool   `koanf:"insecure"`
}

// Default configuration values.
const (
	DefaultPort             = 9180
	DefaultTimeout          = 60 * time.Second
	DefaultMaxTokens        = 1024
	DefaultDimension        = 384
	DefaultClusterThreshold = 0.75
	DefaultCollection       = "insightd_entries"
)

// ApplyDefaults fills unset fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.LLM.Primary.Timeout == 0 {
		c.LLM.Primary.Timeout = Duration(DefaultTimeout)
	}
	if c.LLM.Primary.MaxTokens == 0 {
		c.LLM.Primary.MaxTokens = DefaultMaxTokens
	}
	if c.LLM.Fallback.Enabled() {
		if c.LLM.Fallback.Timeout == 0 {
			c.LLM.Fallback.Timeout = Duration(DefaultTimeout)
		}
		if c.LLM.Fallback.MaxTokens == 0 {
			c.LLM.Fallback.MaxTokens = DefaultMaxTokens
		}
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "hash"
	}
	if c.Embedding.Dimension == 0 {
		c.Embedding.Dimension = DefaultDimension
	}
	if c.Cluster.DefaultThreshold == 0 {
		c.Cluster.DefaultThreshold = DefaultClusterThreshold
	}
	if c.VectorIndex.Collection == "" {
		c.VectorIndex.Collection = DefaultCollection
	}
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = "insightd"
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1, 65535], got %d", c.Server.Port)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be \"json\" or \"console\", got %q", c.Logging.Format)
	}
	if c.LLM.Primary.Enabled() {
		if err := validateProvider("llm.primary", c.LLM.Primary); err != nil {
			return err
		}
	}
	if c.LLM.Fallback.Enabled() {
		if err := validateProvider("llm.fallback", c.LLM.Fallback); err != nil {
			return err
		}
	}
	switch c.Embedding.Provider {
	case "hash":
	case "tei":
		if c.Embedding.BaseURL == "" {
			return fmt.Errorf("embedding.base_url required for tei provider")
		}
	default:
		return fmt.Errorf("embedding.provider must be \"hash\" or \"tei\", got %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Cluster.DefaultThreshold < 0 || c.Cluster.DefaultThreshold > 1 {
		return fmt.Errorf("cluster.default_threshold must be in [0, 1], got %f", c.Cluster.DefaultThreshold)
	}
	return nil
}

func validateProvider(field string, p ProviderConfig) error {
	switch p.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("%s.provider must be \"anthropic\" or \"openai\", got %q", field, p.Provider)
	}
	if !p.APIKey.IsSet() {
		return fmt.Errorf("%s.api_key required", field)
	}
	return nil
}
