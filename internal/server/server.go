// Package server provides the HTTP API for kotae.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/conversation"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Server is the HTTP server for the kotae API.
type Server struct {
	engine      *search.Engine
	sync        *indexer.Synchronizer
	assembler   *conversation.Assembler
	transcripts storage.TranscriptStore // optional, for status counts
	config      *config.Config
	logger      *zap.Logger
	tracing     trace.TracerProvider // optional; the global provider otherwise
	server      *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithTranscriptStore reports session and turn counts from store in /api/v1/status.
func WithTranscriptStore(store storage.TranscriptStore) Option {
	return func(s *Server) { s.transcripts = store }
}

// WithTracerProvider sets the provider for request spans when server.tracing is on.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) { s.tracing = tp }
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine *search.Engine,
	sync *indexer.Synchronizer,
	assembler *conversation.Assembler,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		engine:    engine,
		sync:      sync,
		assembler: assembler,
		config:    cfg,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed API with its middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   s.config.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", s.config.Server.SessionHeader},
		ExposedHeaders:   []string{s.config.Server.SessionHeader},
		AllowCredentials: allowCredentials(s.config.Server.AllowedOrigins),
	}).Handler)

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Post("/search", s.handleSearch)
		r.Post("/ask", s.handleAsk)
		r.Post("/suggest", s.handleSuggest)

		r.Post("/chat", s.handleChat)
		r.Get("/chat/history", s.handleChatHistory)
		r.Delete("/chat/history", s.handleClearHistory)

		r.Get("/records", s.handleListRecords)
		r.Post("/records", s.handleAddRecord)
		r.Get("/records/answer", s.handleFindAnswer)
		r.Delete("/records/{position}", s.handleDeleteRecord)

		r.Post("/index/rebuild", s.handleRebuild)
		r.Post("/index/reload", s.handleReload)
	})

	if s.config.Server.Tracing {
		var opts []otelhttp.Option
		if s.tracing != nil {
			opts = append(opts, otelhttp.WithTracerProvider(s.tracing))
		}
		return otelhttp.NewHandler(r, "kotae", opts...)
	}
	return r
}

// allowCredentials reports whether cookies may cross origins: only when every
// allowed origin is listed explicitly.
func allowCredentials(origins []string) bool {
	if len(origins) == 0 {
		return false
	}
	for _, o := range origins {
		if strings.Contains(o, "*") {
			return false
		}
	}
	return true
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr), zap.Bool("tracing", s.config.Server.Tracing))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
