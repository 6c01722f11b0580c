package config

import "time"

const defaultDataDir = "/usr/local/var/kotae/data"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.AllowedOrigins == nil {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Server.TraceSampleRate == 0 {
		cfg.Server.TraceSampleRate = 1
	}
	if cfg.Server.SessionHeader == "" {
		cfg.Server.SessionHeader = "X-Session-ID"
	}
	if cfg.Server.SessionCookie == "" {
		cfg.Server.SessionCookie = "kotae_session"
	}
	if cfg.Storage.RecordsPath == "" {
		cfg.Storage.RecordsPath = defaultDataDir + "/train.csv"
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = defaultDataDir + "/faiss_index/index.bin"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = defaultDataDir + "/db/sessions.db"
	}
	if cfg.Columns.Question == "" {
		cfg.Columns.Question = "Question"
	}
	if cfg.Columns.Answer == "" {
		cfg.Columns.Answer = "Answer"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-ada-002"
	}
	if cfg.Embedding.Dimensions == 0 {
		if cfg.Embedding.Provider == "openai" {
			cfg.Embedding.Dimensions = 1536
		} else {
			cfg.Embedding.Dimensions = 384
		}
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = "memory"
	}
	if cfg.Index.Metric == "" {
		cfg.Index.Metric = "l2"
	}
	if cfg.Index.Qdrant.Addr == "" {
		cfg.Index.Qdrant.Addr = "localhost:6334"
	}
	if cfg.Index.Qdrant.Collection == "" {
		cfg.Index.Qdrant.Collection = "kotae_questions"
	}
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "openai"
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "gpt-4-turbo"
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 512
	}
	if cfg.Generation.Language == "" {
		cfg.Generation.Language = "Brazilian Portuguese"
	}
	if cfg.Generation.APIKeyEnv == "" {
		cfg.Generation.APIKeyEnv = cfg.Embedding.APIKeyEnv
	}
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = 30 * time.Second
	}
	if cfg.Upstream.RequestsPerSecond == 0 {
		cfg.Upstream.RequestsPerSecond = 5
	}
	if cfg.Upstream.Burst == 0 {
		cfg.Upstream.Burst = 10
	}
	if cfg.Retrieval.DefaultK == 0 {
		cfg.Retrieval.DefaultK = 3
	}
	if cfg.Retrieval.MaxK == 0 {
		cfg.Retrieval.MaxK = 50
	}
	if cfg.Conversation.TopK == 0 {
		cfg.Conversation.TopK = 3
	}
	if cfg.Conversation.MaxTurns == 0 {
		cfg.Conversation.MaxTurns = 20
	}
	if cfg.Conversation.SessionTTL == 0 {
		cfg.Conversation.SessionTTL = 24 * time.Hour
	}
	if cfg.Conversation.Store == "" {
		cfg.Conversation.Store = "memory"
	}
	if cfg.SideTables == nil {
		cfg.SideTables = []SideTableConfig{
			{Name: "products", Path: defaultDataDir + "/products.csv"},
			{Name: "promotions", Path: defaultDataDir + "/promotions.csv"},
		}
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 400 * time.Millisecond
	}
}
