package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// Load loads configuration from a YAML file, then overrides with environment
// variables, then applies defaults and validates.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SERVER_PORT, LLM_PRIMARY_API_KEY, ...)
//  2. YAML config file (~/.config/insightd/config.yaml by default)
//  3. Hardcoded defaults
//
// The config file must be owner-readable only (0600) and smaller than 1MB.
// A missing file is not an error; defaults and environment apply.
//
// Environment variables map to YAML paths by lowercasing and splitting on the
// first underscore run that matches a known section, e.g.
//
//	SERVER_PORT               -> server.port
//	LLM_PRIMARY_API_KEY       -> llm.primary.api_key
//	EMBEDDING_DIMENSION       -> embedding.dimension
//	CLUSTER_DEFAULT_THRESHOLD -> cluster.default_threshold
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "insightd", "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate via the file descriptor to avoid a TOCTOU race.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformer), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// configSections are the top-level keys recognized by the env transformer.
// Nested provider slots are matched before their parent section.
var configSections = []string{
	"server", "logging", "llm_primary", "llm_fallback", "embedding",
	"cluster", "storage", "vector_index", "observability",
}

// envTransformer maps SECTION_FIELD_NAME env vars to section.field_name keys.
// Variables that do not match a known section are ignored so unrelated
// environment noise cannot leak into the config.
func envTransformer(s string) string {
	lower := strings.ToLower(s)
	for _, section := range configSections {
		prefix := section + "_"
		if !strings.HasPrefix(lower, prefix) {
			continue
		}
		field := strings.TrimPrefix(lower, prefix)
		if field == "" {
			return ""
		}
		// llm_primary -> llm.primary, vector_index stays one key
		key := strings.Replace(section, "llm_", "llm.", 1)
		return key + "." + field
	}
	return ""
}

// validateConfigFileProperties rejects world-readable or oversized files.
func validateConfigFileProperties(info os.FileInfo) error {
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	// Permission bits are meaningless on Windows.
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0o077 != 0 {
			return fmt.Errorf("config file has insecure permissions %04o (want 0600)", perm)
		}
	}
	return nil
}
