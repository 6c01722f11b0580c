// Package vector provides positional nearest-neighbor indexes over question embeddings.
//
// Entry i of an index always corresponds to record i of the store: entries are only ever
// appended or replaced wholesale, never removed individually.
package vector

import (
	"context"
	"errors"
)

// ErrSnapshotMismatch is returned by Load when a snapshot was written with different
// dimensions or metric, or no longer matches its backing collection.
var ErrSnapshotMismatch = errors.New("index snapshot does not match index configuration")

// VectorIndex stores vectors in insertion order and answers k-nearest queries.
type VectorIndex interface {
	// Add appends one entry per payload; positions continue from Size().
	Add(ctx context.Context, payloads []string, vectors [][]float32) error
	// Search returns up to k entries by ascending distance; ties keep insertion order.
	// Returns models.ErrEmptyIndex when the index has no entries.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	// Reset removes every entry.
	Reset(ctx context.Context) error
	Payloads() []string
	Size() int
	Dimensions() int
	Metric() Metric
	Save(path string) error
	// Load replaces the contents from a snapshot. Returns models.ErrIndexMissing when there is none.
	Load(path string) error
	Type() string
	Close() error
}

// VectorResult is a single nearest-neighbor hit.
type VectorResult struct {
	Position int     `json:"position"`
	Payload  string  `json:"payload"`
	Distance float64 `json:"distance"`
}
