package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all dealmem configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Engine    EngineConfig    `yaml:"engine"`
	Log       LogConfig       `yaml:"log"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"` // empty: resolved at runtime via store.DefaultDBPath()
}

type LLMConfig struct {
	Provider     string  `yaml:"provider"` // "anthropic", "openai", "ollama"
	Model        string  `yaml:"model"`
	AnthropicKey string  `yaml:"anthropic_key"`
	OpenAIKey    string  `yaml:"openai_key"`
	OllamaURL    string  `yaml:"ollama_url"`
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
}

type RetrievalConfig struct {
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	CacheSize      int    `yaml:"cache_size"`
}

// EngineConfig holds the pipeline tunables.
type EngineConfig struct {
	ConfidenceThreshold    float64 `yaml:"confidence_threshold"`
	DedupWindowDays        int     `yaml:"dedup_window_days"`
	SnapshotEventThreshold int     `yaml:"snapshot_event_threshold"`
	SnapshotMaxAgeDays     int     `yaml:"snapshot_max_age_days"`
	SnapshotEventLimit     int     `yaml:"snapshot_event_limit"`
	ContextEventLimit      int     `yaml:"context_event_limit"`
	ContextWindowDays      int     `yaml:"context_window_days"`
	ContextTokenBudget     int     `yaml:"context_token_budget"`
	InsertChunkSize        int     `yaml:"insert_chunk_size"`
	DecayBatchSize         int     `yaml:"decay_batch_size"`
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`  // empty: stderr only
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Path: "",
		},
		LLM: LLMConfig{
			Provider:    "anthropic",
			Model:       "claude-haiku-4-5-20251001",
			OllamaURL:   "http://localhost:11434",
			Temperature: 0.3,
			MaxTokens:   4096,
		},
		Retrieval: RetrievalConfig{
			TimeoutSeconds: 10,
			CacheSize:      256,
		},
		Engine: EngineConfig{
			ConfidenceThreshold:    0.7,
			DedupWindowDays:        30,
			SnapshotEventThreshold: 15,
			SnapshotMaxAgeDays:     7,
			SnapshotEventLimit:     500,
			ContextEventLimit:      50,
			ContextWindowDays:      90,
			ContextTokenBudget:     6000,
			InsertChunkSize:        50,
			DecayBatchSize:         100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the default config file path: ~/.dealmem/config.yaml
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".dealmem", "config.yaml"), nil
}

// Load builds the effective config: defaults, then the YAML file at path
// (missing file is fine), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return cfg, err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvironment(&cfg)
	return cfg, nil
}

func applyEnvironment(cfg *Config) {
	if v := os.Getenv("DEALMEM_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("DEALMEM_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("DEALMEM_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.AnthropicKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.OpenAIKey = v
	}
	if v := os.Getenv("DEALMEM_OLLAMA_URL"); v != "" {
		cfg.LLM.OllamaURL = v
	}
	if v := os.Getenv("DEALMEM_RETRIEVAL_ENDPOINT"); v != "" {
		cfg.Retrieval.Endpoint = v
	}
	if v := os.Getenv("DEALMEM_RETRIEVAL_API_KEY"); v != "" {
		cfg.Retrieval.APIKey = v
	}
	if v := os.Getenv("DEALMEM_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Engine.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("DEALMEM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("DEALMEM_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
}
