package vector

import "fmt"

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeMemory uses in-memory brute-force search persisted to a local snapshot file.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeQdrant keeps vectors in a Qdrant collection; the local snapshot is a manifest.
	IndexTypeQdrant IndexType = "qdrant"
)

// Options selects and configures a vector index.
type Options struct {
	Type       string
	Dimensions int
	Metric     string
	QdrantAddr string
	Collection string
}

// NewVectorIndex creates a vector index of the specified type.
// Supported types: "memory" (default), "qdrant".
func NewVectorIndex(opts Options) (VectorIndex, error) {
	metric, err := ParseMetric(opts.Metric)
	if err != nil {
		return nil, err
	}
	switch IndexType(opts.Type) {
	case IndexTypeMemory, "":
		return NewMemoryIndex(opts.Dimensions, metric)
	case IndexTypeQdrant:
		return NewQdrantIndex(opts.QdrantAddr, opts.Collection, opts.Dimensions, metric)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, qdrant)", opts.Type)
	}
}
