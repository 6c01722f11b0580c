// Package search answers a query with the nearest stored questions and their answers.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/hyperjump/kotae/internal/search"

// Engine runs retrieval against the synchronizer's store and indexes.
type Engine struct {
	sync   *indexer.Synchronizer
	config *config.RetrievalConfig
	logger *zap.Logger // optional
	tracer trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a logger for dropped results and upstream failures.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracerProvider sets the provider for retrieval spans. The default is the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer(tracerName) }
}

// NewEngine creates a retrieval engine.
func NewEngine(sync *indexer.Synchronizer, cfg *config.RetrievalConfig, opts ...Option) *Engine {
	e := &Engine{sync: sync, config: cfg, tracer: otel.Tracer(tracerName)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search is Retrieve with the configured max_distance applied when the request sets none.
func (e *Engine) Search(ctx context.Context, req *models.RetrieveRequest) (*models.RetrieveResponse, error) {
	if req.MaxDistance == 0 {
		req.MaxDistance = e.config.MaxDistance
	}
	return e.Retrieve(ctx, req)
}

// Retrieve returns up to req.K records nearest to req.Query, closest first.
// Index hits whose question is no longer in the store are left out and counted in Dropped.
// An empty index yields an empty result. When the embedder is unavailable and lexical
// fallback is enabled, results come from the keyword index instead.
func (e *Engine) Retrieve(ctx context.Context, req *models.RetrieveRequest) (*models.RetrieveResponse, error) {
	start := time.Now()
	if err := req.Validate(e.config.DefaultK, e.config.MaxK); err != nil {
		return nil, err
	}
	ctx, span := e.tracer.Start(ctx, "search.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("k", req.K), attribute.Float64("max_distance", req.MaxDistance))
	resp := &models.RetrieveResponse{
		Query:   req.Query,
		Results: make([]*models.RetrievedRecord, 0, req.K),
		Source:  models.SourceSemantic,
	}
	defer func() {
		resp.QueryTime = time.Since(start).Milliseconds()
		span.SetAttributes(
			attribute.String("source", resp.Source),
			attribute.Int("results", len(resp.Results)),
			attribute.Int("dropped", resp.Dropped),
		)
	}()

	index := e.sync.Index()
	empty := false
	_ = e.sync.Read(func() error {
		empty = index.Size() == 0
		return nil
	})
	if empty {
		return resp, nil
	}

	// Embedding happens outside the lock so a slow upstream does not hold up writers.
	vec, err := index.Embed(ctx, req.Query)
	if err != nil {
		if errors.Is(err, models.ErrUpstreamUnavailable) {
			if e.logger != nil {
				e.logger.Warn("embedding unavailable",
					zap.String("op", "embed"), zap.Bool("retryable", models.IsRetryable(err)), zap.Error(err))
			}
			if e.config.LexicalFallbackOrDefault() && e.sync.Lexical() != nil {
				if err := e.lexical(req, resp); err != nil {
					return nil, err
				}
				return resp, nil
			}
		}
		return nil, err
	}

	err = e.sync.Read(func() error {
		hits, err := index.Search(ctx, vec, req.K)
		if errors.Is(err, models.ErrEmptyIndex) {
			return nil
		}
		if err != nil {
			return err
		}
		e.join(req, hits, resp)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	return resp, nil
}

// join resolves each hit's answer by question text. Callers hold the synchronizer's read lock.
func (e *Engine) join(req *models.RetrieveRequest, hits []*vector.VectorResult, resp *models.RetrieveResponse) {
	store := e.sync.Store()
	for _, h := range hits {
		if req.MaxDistance > 0 && h.Distance > req.MaxDistance {
			continue
		}
		answer, err := store.FindAnswer(h.Payload)
		if err != nil {
			resp.Dropped++
			if e.logger != nil {
				e.logger.Warn("dropping unresolved index entry",
					zap.Int("position", h.Position), zap.String("question", h.Payload), zap.Int("dropped", resp.Dropped))
			}
			continue
		}
		resp.Results = append(resp.Results, &models.RetrievedRecord{
			Question: h.Payload,
			Answer:   answer,
			Distance: h.Distance,
		})
	}
}

// lexical fills resp from the keyword index. Distances are 1/(1+score), so better
// matches are still closer; they are not comparable with embedding distances and
// max_distance does not apply to them.
func (e *Engine) lexical(req *models.RetrieveRequest, resp *models.RetrieveResponse) error {
	resp.Source = models.SourceLexical
	return e.sync.Read(func() error {
		hits, err := e.sync.Lexical().Search(req.Query, req.K, &keyword.SearchOptions{FuzzyEnabled: true})
		if err != nil {
			return fmt.Errorf("lexical search: %w", err)
		}
		store := e.sync.Store()
		for _, h := range hits {
			answer, err := store.FindAnswer(h.Question)
			if err != nil {
				resp.Dropped++
				if e.logger != nil {
					e.logger.Warn("dropping unresolved keyword entry",
						zap.String("question", h.Question), zap.Int("dropped", resp.Dropped))
				}
				continue
			}
			resp.Results = append(resp.Results, &models.RetrievedRecord{
				Question: h.Question,
				Answer:   answer,
				Distance: 1 / (1 + h.Score),
			})
		}
		return nil
	})
}

// FindAnswer returns the stored answer for an exact question.
func (e *Engine) FindAnswer(question string) (string, error) {
	var answer string
	err := e.sync.Read(func() error {
		var err error
		answer, err = e.sync.Store().FindAnswer(question)
		return err
	})
	return answer, err
}
