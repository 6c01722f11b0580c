// Package indexer keeps the record store and the question index in step.
//
// Every mutation of either goes through a Synchronizer, which holds one lock across
// the store write and the matching index update. After each mutation returns,
// index entry i carries the question of record i.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/records"
	"github.com/hyperjump/kotae/internal/vector"
	"go.uber.org/zap"
)

// Synchronizer owns the store and the indexes built from it.
type Synchronizer struct {
	store     *records.Store
	index     *vector.SemanticIndex
	lexical   *keyword.QuestionIndex
	indexPath string
	logger    *zap.Logger // optional

	mu    sync.RWMutex
	stale bool
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets a logger for rebuild and recovery events.
func WithLogger(l *zap.Logger) Option {
	return func(s *Synchronizer) { s.logger = l }
}

// WithLexicalIndex keeps a keyword index over the questions alongside the semantic index.
func WithLexicalIndex(k *keyword.QuestionIndex) Option {
	return func(s *Synchronizer) { s.lexical = k }
}

// NewSynchronizer returns a synchronizer persisting the index snapshot at indexPath.
// Call Open before use.
func NewSynchronizer(store *records.Store, index *vector.SemanticIndex, indexPath string, opts ...Option) *Synchronizer {
	s := &Synchronizer{store: store, index: index, indexPath: indexPath}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open loads the store and restores the index snapshot. A missing, mismatched, or
// out-of-date snapshot is replaced by a full build from the store.
func (s *Synchronizer) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.store.Load(); err != nil {
		return fmt.Errorf("load records: %w", err)
	}

	err := s.index.Restore(s.indexPath)
	switch {
	case errors.Is(err, models.ErrIndexMissing):
		return s.rebuildLocked(ctx, "no index snapshot")
	case errors.Is(err, vector.ErrSnapshotMismatch):
		return s.rebuildLocked(ctx, err.Error())
	case err != nil:
		if s.logger != nil {
			s.logger.Warn("index snapshot unreadable", zap.String("path", s.indexPath), zap.Error(err))
		}
		return s.rebuildLocked(ctx, "unreadable index snapshot")
	}

	if reason := s.driftLocked(); reason != "" {
		return s.rebuildLocked(ctx, reason)
	}
	if s.lexical != nil {
		if err := s.lexical.Build(s.store.Questions()); err != nil {
			return fmt.Errorf("build lexical index: %w", err)
		}
	}
	if s.logger != nil {
		s.logger.Info("index restored", zap.String("path", s.indexPath), zap.Int("records", s.index.Size()))
	}
	return nil
}

// driftLocked describes how the index differs from the store, or returns "" if they agree.
func (s *Synchronizer) driftLocked() string {
	questions := s.store.Questions()
	payloads := s.index.Payloads()
	if len(questions) != len(payloads) {
		return fmt.Sprintf("index has %d entries, store has %d records", len(payloads), len(questions))
	}
	for i := range questions {
		if questions[i] != payloads[i] {
			return fmt.Sprintf("index entry %d does not match record", i)
		}
	}
	return ""
}

// rebuildLocked re-embeds every question in store order and persists the result.
// On success the stale flag is cleared.
func (s *Synchronizer) rebuildLocked(ctx context.Context, reason string) error {
	questions := s.store.Questions()
	if err := s.index.Build(ctx, questions); err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	if err := s.index.Persist(s.indexPath); err != nil {
		return fmt.Errorf("persist index: %w", err)
	}
	if s.lexical != nil {
		if err := s.lexical.Build(questions); err != nil {
			return fmt.Errorf("build lexical index: %w", err)
		}
	}
	s.stale = false
	if s.logger != nil {
		s.logger.Info("index rebuilt", zap.String("reason", reason), zap.Int("records", len(questions)))
	}
	return nil
}

// AddQA appends a record and its index entry. If the index update fails after the
// store write, the index is rebuilt from the store at once; only when that rebuild
// also fails is an error returned, and the index is then reported stale.
func (s *Synchronizer) AddQA(ctx context.Context, question, answer string) (models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.store.Append(question, answer)
	if err != nil {
		return models.Record{}, err
	}
	if err := s.addLocked(ctx, rec.Question); err != nil {
		if s.logger != nil {
			s.logger.Warn("index add failed, rebuilding from store",
				zap.Int("position", rec.ID), zap.Error(err))
		}
		if rbErr := s.rebuildLocked(ctx, "recover failed add"); rbErr != nil {
			s.stale = true
			if s.logger != nil {
				s.logger.Error("index recovery failed, index is stale", zap.Error(rbErr))
			}
			return rec, fmt.Errorf("index record %d: %w", rec.ID, err)
		}
	}
	return rec, nil
}

func (s *Synchronizer) addLocked(ctx context.Context, question string) error {
	if s.stale {
		return errors.New("index is stale")
	}
	if err := s.index.Add(ctx, question); err != nil {
		return err
	}
	if err := s.index.Persist(s.indexPath); err != nil {
		return err
	}
	if s.lexical != nil {
		return s.lexical.Add(question)
	}
	return nil
}

// DeleteQA removes the record at position and rebuilds the index from the renumbered store.
func (s *Synchronizer) DeleteQA(ctx context.Context, position int) (models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.store.Delete(position)
	if err != nil {
		return models.Record{}, err
	}
	if err := s.rebuildLocked(ctx, fmt.Sprintf("deleted record %d", position)); err != nil {
		s.stale = true
		return rec, err
	}
	return rec, nil
}

// RebuildFromStore re-embeds every record and persists the index.
func (s *Synchronizer) RebuildFromStore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rebuildLocked(ctx, "requested"); err != nil {
		s.stale = true
		return err
	}
	return nil
}

// Reload re-reads the records file if it was changed by someone else, and rebuilds.
// It reports whether a rebuild happened.
func (s *Synchronizer) Reload(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed, err := s.store.ChangedOnDisk()
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}
	if _, err := s.store.Load(); err != nil {
		return false, fmt.Errorf("reload records: %w", err)
	}
	if err := s.rebuildLocked(ctx, "records changed on disk"); err != nil {
		s.stale = true
		return false, err
	}
	return true, nil
}

// Read runs fn while no mutation can happen.
func (s *Synchronizer) Read(fn func() error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn()
}

// Stale reports whether the index is known to be out of step with the store.
func (s *Synchronizer) Stale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stale
}

// Store returns the record store. Mutate it only through the synchronizer.
func (s *Synchronizer) Store() *records.Store { return s.store }

// Index returns the semantic index. Mutate it only through the synchronizer.
func (s *Synchronizer) Index() *vector.SemanticIndex { return s.index }

// Lexical returns the keyword index, or nil if none is kept.
func (s *Synchronizer) Lexical() *keyword.QuestionIndex { return s.lexical }

// Status is a point-in-time summary for reporting.
type Status struct {
	Records   int    `json:"records"`
	IndexSize int    `json:"index_size"`
	IndexType string `json:"index_type"`
	Metric    string `json:"metric"`
	Stale     bool   `json:"stale"`
}

// Status returns record and index counts under the shared lock.
func (s *Synchronizer) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	backend := s.index.Backend()
	return Status{
		Records:   s.store.Len(),
		IndexSize: s.index.Size(),
		IndexType: backend.Type(),
		Metric:    string(backend.Metric()),
		Stale:     s.stale,
	}
}
