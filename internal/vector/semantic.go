package vector

import (
	"context"
	"fmt"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/models"
)

// SemanticIndex embeds question text and keeps the vectors in a VectorIndex.
// It holds no lock of its own beyond the backend's; callers serialize mutations.
type SemanticIndex struct {
	embedder embedding.Embedder
	index    VectorIndex
}

// NewSemanticIndex pairs an embedder with a backend of the same dimension.
func NewSemanticIndex(embedder embedding.Embedder, index VectorIndex) (*SemanticIndex, error) {
	if embedder.Dimensions() != index.Dimensions() {
		return nil, fmt.Errorf("embedder produces %d dimensions, index expects %d", embedder.Dimensions(), index.Dimensions())
	}
	return &SemanticIndex{embedder: embedder, index: index}, nil
}

// Build replaces the whole index with embeddings of questions, in order.
// Questions are embedded before the backend is touched, so an embedding failure leaves it intact.
func (s *SemanticIndex) Build(ctx context.Context, questions []string) error {
	var vectors [][]float32
	if len(questions) > 0 {
		var err error
		vectors, err = s.embedder.EmbedBatch(ctx, questions)
		if err != nil {
			return fmt.Errorf("embed %d questions: %w", len(questions), err)
		}
		if len(vectors) != len(questions) {
			return fmt.Errorf("embedder returned %d vectors for %d questions", len(vectors), len(questions))
		}
	}
	if err := s.index.Reset(ctx); err != nil {
		return fmt.Errorf("reset index: %w", err)
	}
	if len(questions) == 0 {
		return nil
	}
	if err := s.index.Add(ctx, questions, vectors); err != nil {
		return fmt.Errorf("add to index: %w", err)
	}
	return nil
}

// Add appends one question at position Size().
func (s *SemanticIndex) Add(ctx context.Context, question string) error {
	vec, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return fmt.Errorf("embed question: %w", err)
	}
	if err := s.index.Add(ctx, []string{question}, [][]float32{vec}); err != nil {
		return fmt.Errorf("add to index: %w", err)
	}
	return nil
}

// Query returns up to k entries nearest to text, closest first.
func (s *SemanticIndex) Query(ctx context.Context, text string, k int) ([]*VectorResult, error) {
	if k <= 0 {
		return nil, nil
	}
	if s.index.Size() == 0 {
		return nil, models.ErrEmptyIndex
	}
	vec, err := s.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return s.Search(ctx, vec, k)
}

// Embed returns the query vector for text without touching the index.
func (s *SemanticIndex) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return vec, nil
}

// Search returns up to k entries nearest to an already embedded query.
func (s *SemanticIndex) Search(ctx context.Context, vec []float32, k int) ([]*VectorResult, error) {
	if k <= 0 {
		return nil, nil
	}
	return s.index.Search(ctx, vec, k)
}

// Persist writes the backend snapshot to path.
func (s *SemanticIndex) Persist(path string) error {
	return s.index.Save(path)
}

// Restore loads the backend snapshot from path.
func (s *SemanticIndex) Restore(path string) error {
	return s.index.Load(path)
}

func (s *SemanticIndex) Size() int { return s.index.Size() }

func (s *SemanticIndex) Payloads() []string { return s.index.Payloads() }

// Backend returns the underlying vector index.
func (s *SemanticIndex) Backend() VectorIndex { return s.index }

// Close releases the backend and the embedder.
func (s *SemanticIndex) Close() error {
	err := s.index.Close()
	if cerr := s.embedder.Close(); err == nil {
		err = cerr
	}
	return err
}
