// Package config provides configuration loading and structs for the kotae server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug        bool               `yaml:"debug"`
	Server       ServerConfig       `yaml:"server"`
	Storage      StorageConfig      `yaml:"storage"`
	Columns      ColumnsConfig      `yaml:"columns"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Index        IndexConfig        `yaml:"index"`
	Generation   GenerationConfig   `yaml:"generation"`
	Upstream     UpstreamConfig     `yaml:"upstream"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	Conversation ConversationConfig `yaml:"conversation"`
	SideTables   []SideTableConfig  `yaml:"side_tables"`
	Watch        WatchConfig        `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	Tracing         bool     `yaml:"tracing"`
	TraceOutput     string   `yaml:"trace_output"` // JSON spans are appended here; empty means stderr
	TraceSampleRate float64  `yaml:"trace_sample_rate"`
	SessionHeader   string   `yaml:"session_header"`
	SessionCookie   string   `yaml:"session_cookie"`
}

// StorageConfig holds paths for the records table, the index snapshot, and the transcript database.
type StorageConfig struct {
	RecordsPath  string `yaml:"records_path"`
	IndexPath    string `yaml:"index_path"`
	DatabasePath string `yaml:"database_path"`
}

// ColumnsConfig maps the records table header to question and answer fields.
type ColumnsConfig struct {
	Question string `yaml:"question"`
	Answer   string `yaml:"answer"`
}

// EmbeddingConfig selects and tunes the embedder.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	ModelPath  string `yaml:"model_path"`
	CacheSize  int    `yaml:"cache_size"`
	APIKeyEnv  string `yaml:"api_key_env"`
}

// APIKey returns the key held by the configured environment variable.
func (e *EmbeddingConfig) APIKey() string {
	return os.Getenv(e.APIKeyEnv)
}

// IndexConfig selects the vector index backend and distance metric.
type IndexConfig struct {
	Backend string       `yaml:"backend"`
	Metric  string       `yaml:"metric"`
	Qdrant  QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig holds the remote vector store address.
type QdrantConfig struct {
	Addr       string `yaml:"addr"`
	Collection string `yaml:"collection"`
}

// GenerationConfig holds the language generation settings.
type GenerationConfig struct {
	Provider     string  `yaml:"provider"`
	Model        string  `yaml:"model"`
	Temperature  float32 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	Language     string  `yaml:"language"`
	SystemPrompt string  `yaml:"system_prompt"`
	APIKeyEnv    string  `yaml:"api_key_env"`
}

// APIKey returns the key held by the configured environment variable.
func (g *GenerationConfig) APIKey() string {
	return os.Getenv(g.APIKeyEnv)
}

// UpstreamConfig bounds calls to the embedding and generation services.
type UpstreamConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// RetrievalConfig holds retrieval defaults.
type RetrievalConfig struct {
	DefaultK        int     `yaml:"default_k"`
	MaxK            int     `yaml:"max_k"`
	MaxDistance     float64 `yaml:"max_distance"`
	LexicalFallback *bool   `yaml:"lexical_fallback"`
}

// LexicalFallbackOrDefault returns whether keyword fallback is enabled; defaults to true when unset.
func (r *RetrievalConfig) LexicalFallbackOrDefault() bool {
	if r.LexicalFallback != nil {
		return *r.LexicalFallback
	}
	return true
}

// ConversationConfig holds the context assembly policy.
type ConversationConfig struct {
	TopK        int           `yaml:"top_k"`
	MaxDistance float64       `yaml:"max_distance"`
	MaxTurns    int           `yaml:"max_turns"`
	SessionTTL  time.Duration `yaml:"session_ttl"`
	Store       string        `yaml:"store"`
}

// SideTableConfig names one auxiliary table.
type SideTableConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// WatchConfig holds records file watch settings.
type WatchConfig struct {
	Enabled  *bool         `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// EnabledOrDefault returns whether to watch the records file; defaults to true when unset.
func (w *WatchConfig) EnabledOrDefault() bool {
	if w.Enabled != nil {
		return *w.Enabled
	}
	return true
}

// Load reads and parses the config file at path, applies defaults, and expands paths.
// Returns an error if the file cannot be read or parsed, or if a value is invalid.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Storage.RecordsPath = expandPath(cfg.Storage.RecordsPath, configDir)
	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.SideTables {
		cfg.SideTables[i].Path = expandPath(cfg.SideTables[i].Path, configDir)
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects enumerated values the components do not know.
func Validate(cfg *Config) error {
	checks := []struct {
		field string
		value string
		allow []string
	}{
		{"embedding.provider", cfg.Embedding.Provider, []string{"openai", "onnx", "hashing"}},
		{"index.backend", cfg.Index.Backend, []string{"memory", "qdrant"}},
		{"index.metric", cfg.Index.Metric, []string{"l2", "cosine"}},
		{"generation.provider", cfg.Generation.Provider, []string{"openai", "extractive"}},
		{"conversation.store", cfg.Conversation.Store, []string{"memory", "sqlite"}},
	}
	for _, c := range checks {
		ok := false
		for _, a := range c.allow {
			if c.value == a {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("invalid %s %q (allowed: %s)", c.field, c.value, strings.Join(c.allow, ", "))
		}
	}
	if cfg.Columns.Question == cfg.Columns.Answer {
		return fmt.Errorf("columns.question and columns.answer must differ (both %q)", cfg.Columns.Question)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
