package main

import (
	"context"
	"fmt"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/conversation"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/records"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/sidetable"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/upstream"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/pkg/utils"
	"go.uber.org/zap"
)

// extractiveFallback is the reply of the offline generator when nothing was retrieved.
const extractiveFallback = "Desculpe, não encontrei essa informação. Pode reformular a pergunta?"

// Components holds initialized services.
type Components struct {
	Store       *records.Store
	Index       *vector.SemanticIndex
	Lexical     *keyword.QuestionIndex
	Sync        *indexer.Synchronizer
	Engine      *search.Engine
	Sessions    conversation.SessionStore
	Transcripts storage.TranscriptStore // nil unless sessions are kept in SQLite
	Assembler   *conversation.Assembler
}

func (c *Components) Close() {
	if c.Sessions != nil {
		_ = c.Sessions.Close()
	}
	if c.Lexical != nil {
		_ = c.Lexical.Close()
	}
	if c.Index != nil {
		_ = c.Index.Close()
	}
}

// newEmbedder builds the configured embedder. A provider that cannot start (no API key,
// no model file, no CGO) falls back to the hashing embedder at the same dimension.
func newEmbedder(cfg *config.Config, guard *upstream.Guard, logger *zap.Logger) (embedding.Embedder, error) {
	ec := cfg.Embedding
	var (
		embedder embedding.Embedder
		err      error
	)
	switch ec.Provider {
	case "openai":
		if key := ec.APIKey(); key != "" {
			var e *embedding.OpenAIEmbedder
			if e, err = embedding.NewOpenAIEmbedder(key, ec.Model, ec.Dimensions); err == nil {
				embedder = upstream.WrapEmbedder(e, guard)
			}
		} else {
			err = fmt.Errorf("%s is not set", ec.APIKeyEnv)
		}
	case "onnx":
		var e *embedding.ONNXEmbedder
		if e, err = embedding.NewONNXEmbedder(ec.ModelPath, ec.Dimensions, ec.MaxTokens); err == nil {
			embedder = e
		}
	}
	if embedder == nil {
		if ec.Provider != "hashing" && logger != nil {
			logger.Warn("embedding provider unavailable, using hashing embedder",
				zap.String("provider", ec.Provider), zap.Error(err))
		}
		h, herr := embedding.NewHashingEmbedder(ec.Dimensions)
		if herr != nil {
			return nil, herr
		}
		embedder = h
	}
	return embedding.NewCachedEmbedder(embedder, ec.CacheSize), nil
}

// newGenerator builds the configured generator. Without an API key the extractive
// generator answers with the closest stored answer.
func newGenerator(cfg *config.Config, guard *upstream.Guard, logger *zap.Logger) (conversation.Generator, error) {
	gc := cfg.Generation
	if gc.Provider == "openai" {
		key := gc.APIKey()
		if key != "" {
			g, err := conversation.NewOpenAIGenerator(key, gc.Model, gc.Temperature, gc.MaxTokens)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize generator: %w", err)
			}
			return upstream.WrapGenerator(g, guard), nil
		}
		if logger != nil {
			logger.Warn("generation key not set, using extractive generator", zap.String("env", gc.APIKeyEnv))
		}
	}
	return &conversation.ExtractiveGenerator{Fallback: extractiveFallback}, nil
}

// newSessionStore returns the transcript store; the second value is non-nil when it
// also reports session statistics.
func newSessionStore(cfg *config.Config) (conversation.SessionStore, storage.TranscriptStore, error) {
	if cfg.Conversation.Store == "sqlite" {
		db, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize session storage: %w", err)
		}
		return db, db, nil
	}
	return conversation.NewMemoryStore(), nil, nil
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	guard := upstream.NewGuard(cfg.Upstream.Timeout, cfg.Upstream.RequestsPerSecond, cfg.Upstream.Burst)

	embedder, err := newEmbedder(cfg, guard, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	backend, err := vector.NewVectorIndex(vector.Options{
		Type:       cfg.Index.Backend,
		Dimensions: cfg.Embedding.Dimensions,
		Metric:     cfg.Index.Metric,
		QdrantAddr: cfg.Index.Qdrant.Addr,
		Collection: cfg.Index.Qdrant.Collection,
	})
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	index, err := vector.NewSemanticIndex(embedder, backend)
	if err != nil {
		_ = backend.Close()
		_ = embedder.Close()
		return nil, err
	}
	if logger != nil {
		logger.Info("vector index initialized",
			zap.String("type", backend.Type()),
			zap.String("metric", string(backend.Metric())),
			zap.Int("dimensions", cfg.Embedding.Dimensions))
	}

	c := &Components{Index: index}
	c.Lexical, err = keyword.NewQuestionIndex()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	c.Store = records.NewStore(cfg.Storage.RecordsPath, records.Columns{
		Question: cfg.Columns.Question,
		Answer:   cfg.Columns.Answer,
	})
	c.Sync = indexer.NewSynchronizer(c.Store, index, cfg.Storage.IndexPath,
		indexer.WithLogger(utils.NamedOrNop(logger, "indexer")),
		indexer.WithLexicalIndex(c.Lexical),
	)
	if err := c.Sync.Open(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	c.Engine = search.NewEngine(c.Sync, &cfg.Retrieval, search.WithLogger(utils.NamedOrNop(logger, "search")))

	c.Sessions, c.Transcripts, err = newSessionStore(cfg)
	if err != nil {
		c.Close()
		return nil, err
	}
	generator, err := newGenerator(cfg, guard, logger)
	if err != nil {
		c.Close()
		return nil, err
	}

	systemPrompt := cfg.Generation.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = conversation.DefaultSystemPrompt(cfg.Generation.Language)
	}
	c.Assembler = conversation.NewAssembler(c.Engine, c.Sessions, generator,
		conversation.Options{
			TopK:         cfg.Conversation.TopK,
			MaxDistance:  cfg.Conversation.MaxDistance,
			MaxTurns:     cfg.Conversation.MaxTurns,
			SessionTTL:   cfg.Conversation.SessionTTL,
			SystemPrompt: systemPrompt,
		},
		conversation.WithTables(sidetable.NewLoader(cfg.SideTables, utils.NamedOrNop(logger, "sidetable"))),
		conversation.WithLogger(utils.NamedOrNop(logger, "conversation")),
	)
	return c, nil
}
