// Package config loads server configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Token counter selection.
const (
	TokenCounterHeuristic = "heuristic"
	TokenCounterTiktoken  = "tiktoken"
)

// Config is the complete server configuration.
type Config struct {
	// DataDir is the root for all persisted state. Defaults to ~/.rlm-mcp.
	DataDir string `yaml:"data_dir"`

	// DatabasePath is the metadata store file. Defaults to {data_dir}/rlm.db.
	DatabasePath string `yaml:"database_path"`

	// BlobDir holds content-addressed payloads. Defaults to {data_dir}/blobs.
	BlobDir string `yaml:"blob_dir"`

	// IndexDir holds per-session persisted indexes. Defaults to {data_dir}/indexes.
	IndexDir string `yaml:"index_dir"`

	// Default per-session limits; overridable per session at create time.
	DefaultMaxToolCalls        int `yaml:"default_max_tool_calls"`
	DefaultMaxCharsPerResponse int `yaml:"default_max_chars_per_response"`
	DefaultMaxCharsPerPeek     int `yaml:"default_max_chars_per_peek"`

	// MaxFileSizeMB caps individual files accepted by docs.load.
	MaxFileSizeMB int `yaml:"max_file_size_mb"`

	// MaxConcurrentLoads bounds parallel file reads during docs.load.
	MaxConcurrentLoads int `yaml:"max_concurrent_loads"`

	// IndexCacheSize is the LRU capacity for in-memory session indexes.
	IndexCacheSize int `yaml:"index_cache_size"`

	// TokenCounter selects the token estimator: heuristic or tiktoken.
	TokenCounter string `yaml:"token_counter"`

	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig configures the structured log output.
type LoggingConfig struct {
	Level         string `yaml:"level"`
	FilePath      string `yaml:"file_path"`
	MaxSizeMB     int    `yaml:"max_size_mb"`
	MaxFiles      int    `yaml:"max_files"`
	WriteToStderr bool   `yaml:"write_to_stderr"`
}

// DefaultDataDir returns the default data directory (~/.rlm-mcp).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rlm-mcp"
	}
	return filepath.Join(home, ".rlm-mcp")
}

// NewConfig returns a config populated with defaults.
func NewConfig() *Config {
	return &Config{
		DataDir:                    DefaultDataDir(),
		DefaultMaxToolCalls:        500,
		DefaultMaxCharsPerResponse: 50_000,
		DefaultMaxCharsPerPeek:     10_000,
		MaxFileSizeMB:              50,
		MaxConcurrentLoads:         8,
		IndexCacheSize:             32,
		TokenCounter:               TokenCounterHeuristic,
		Logging: LoggingConfig{
			Level:         "info",
			MaxSizeMB:     10,
			MaxFiles:      5,
			WriteToStderr: true,
		},
	}
}

// Load reads configuration from path (or {data_dir}/config.yaml when
// path is empty), applies defaults, env overrides, and validation.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.yaml")
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// No config file: defaults + env.
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from RLM_MCP_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("RLM_MCP_DATA_DIR"); v != "" {
		c.DataDir = v
		// Derived paths follow the new root unless explicitly set.
	}
	if v := os.Getenv("RLM_MCP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RLM_MCP_MAX_TOOL_CALLS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DefaultMaxToolCalls = n
		}
	}
	if v := os.Getenv("RLM_MCP_TOKEN_COUNTER"); v != "" {
		c.TokenCounter = v
	}
}

// applyDerived fills paths derived from DataDir when unset.
func (c *Config) applyDerived() {
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(c.DataDir, "rlm.db")
	}
	if c.BlobDir == "" {
		c.BlobDir = filepath.Join(c.DataDir, "blobs")
	}
	if c.IndexDir == "" {
		c.IndexDir = filepath.Join(c.DataDir, "indexes")
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if c.DefaultMaxToolCalls < 1 {
		return fmt.Errorf("default_max_tool_calls must be >= 1, got %d", c.DefaultMaxToolCalls)
	}
	if c.DefaultMaxCharsPerResponse < 1000 {
		return fmt.Errorf("default_max_chars_per_response must be >= 1000, got %d", c.DefaultMaxCharsPerResponse)
	}
	if c.DefaultMaxCharsPerPeek < 100 {
		return fmt.Errorf("default_max_chars_per_peek must be >= 100, got %d", c.DefaultMaxCharsPerPeek)
	}
	if c.MaxConcurrentLoads < 1 {
		return fmt.Errorf("max_concurrent_loads must be >= 1, got %d", c.MaxConcurrentLoads)
	}
	if c.IndexCacheSize < 1 {
		return fmt.Errorf("index_cache_size must be >= 1, got %d", c.IndexCacheSize)
	}
	switch strings.ToLower(c.TokenCounter) {
	case TokenCounterHeuristic, TokenCounterTiktoken:
	default:
		return fmt.Errorf("token_counter must be %q or %q, got %q",
			TokenCounterHeuristic, TokenCounterTiktoken, c.TokenCounter)
	}
	return nil
}

// EnsureDirectories creates all directories the server needs.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.DataDir, c.BlobDir, c.IndexDir, filepath.Dir(c.DatabasePath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
