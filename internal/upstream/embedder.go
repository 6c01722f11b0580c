package upstream

import (
	"context"

	"github.com/hyperjump/kotae/internal/embedding"
)

// guardedEmbedder routes every call of the wrapped embedder through a Guard.
type guardedEmbedder struct {
	next  embedding.Embedder
	guard *Guard
}

// WrapEmbedder returns an Embedder whose calls are rate limited, time bounded, and classified.
func WrapEmbedder(next embedding.Embedder, guard *Guard) embedding.Embedder {
	return &guardedEmbedder{next: next, guard: guard}
}

func (g *guardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := g.guard.Do(ctx, "embed", func(ctx context.Context) error {
		v, err := g.next.Embed(ctx, text)
		out = v
		return err
	})
	return out, err
}

func (g *guardedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := g.guard.Do(ctx, "embed", func(ctx context.Context) error {
		v, err := g.next.EmbedBatch(ctx, texts)
		out = v
		return err
	})
	return out, err
}

func (g *guardedEmbedder) Dimensions() int { return g.next.Dimensions() }

func (g *guardedEmbedder) Close() error { return g.next.Close() }
