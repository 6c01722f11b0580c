package upstream

import (
	"context"

	"github.com/hyperjump/kotae/internal/conversation"
)

type guardedGenerator struct {
	next  conversation.Generator
	guard *Guard
}

// WrapGenerator returns a Generator whose calls go through guard.
func WrapGenerator(next conversation.Generator, guard *Guard) conversation.Generator {
	return &guardedGenerator{next: next, guard: guard}
}

func (g *guardedGenerator) Generate(ctx context.Context, p *conversation.Prompt) (string, error) {
	var out string
	err := g.guard.Do(ctx, "generate", func(ctx context.Context) error {
		s, err := g.next.Generate(ctx, p)
		out = s
		return err
	})
	return out, err
}
