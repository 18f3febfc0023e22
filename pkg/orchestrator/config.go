package orchestrator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for an orchestrator instance.
type Config struct {
	DatabasePath string `yaml:"database_path"` // "" or ":memory:" for in-memory

	Embedding EmbeddingConfig `yaml:"embedding"`
	Judge     JudgeConfig     `yaml:"judge"`

	EmbedQueueInflight int `yaml:"embed_queue_inflight"` // default embedqueue.DefaultInflight

	Timeouts TimeoutConfig `yaml:"timeouts"`
}

// EmbeddingConfig configures the optional embedding provider.
type EmbeddingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// JudgeConfig configures the optional judge provider.
type JudgeConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// TimeoutConfig carries the per-operation-class default timeouts.
type TimeoutConfig struct {
	WriteSeconds         int `yaml:"write_seconds"`         // default 5
	SearchSeconds        int `yaml:"search_seconds"`        // default 15
	MergeSeconds         int `yaml:"merge_seconds"`         // default 60
	ConsolidationSeconds int `yaml:"consolidation_seconds"` // default 120
}

// DefaultConfig returns a Config suitable for an in-memory, provider-less
// instance: every heuristic default is active.
func DefaultConfig() Config {
	return Config{
		DatabasePath:       ":memory:",
		EmbedQueueInflight: 16,
		Timeouts: TimeoutConfig{
			WriteSeconds:         5,
			SearchSeconds:        15,
			MergeSeconds:         60,
			ConsolidationSeconds: 120,
		},
	}
}

// LoadConfig reads and parses a YAML config file, filling in defaults for
// any zero-valued timeout.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("orchestrator: read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("orchestrator: parse config %q: %w", path, err)
	}
	if cfg.Timeouts.WriteSeconds == 0 {
		cfg.Timeouts.WriteSeconds = 5
	}
	if cfg.Timeouts.SearchSeconds == 0 {
		cfg.Timeouts.SearchSeconds = 15
	}
	if cfg.Timeouts.MergeSeconds == 0 {
		cfg.Timeouts.MergeSeconds = 60
	}
	if cfg.Timeouts.ConsolidationSeconds == 0 {
		cfg.Timeouts.ConsolidationSeconds = 120
	}
	if cfg.EmbedQueueInflight == 0 {
		cfg.EmbedQueueInflight = 16
	}
	return cfg, nil
}
