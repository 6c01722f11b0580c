package embedding

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/hyperjump/kotae/pkg/utils"
)

const (
	wordWeight    = 1.0
	trigramWeight = 0.5
)

// HashingEmbedder is a deterministic, offline embedder. Each normalized word and each
// character trigram of a word is hashed into one of Dimensions() buckets with a hashed sign,
// and the result is L2-normalized. Texts that share words or word fragments end up close.
type HashingEmbedder struct {
	dimensions int
}

// NewHashingEmbedder returns a hashing embedder with the given number of buckets.
func NewHashingEmbedder(dimensions int) (*HashingEmbedder, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &HashingEmbedder{dimensions: dimensions}, nil
}

// Embed returns the hashed feature vector for text.
func (e *HashingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, e.dimensions)
	for _, word := range Words(text) {
		e.addFeature(vec, "w:"+word, wordWeight)
		padded := []rune("#" + word + "#")
		for i := 0; i+3 <= len(padded); i++ {
			e.addFeature(vec, "t:"+string(padded[i:i+3]), trigramWeight)
		}
	}
	utils.NormalizeL2(vec)
	return vec, nil
}

func (e *HashingEmbedder) addFeature(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	bucket := int(sum % uint64(e.dimensions))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[bucket] += weight
}

// EmbedBatch calls Embed for each text.
func (e *HashingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the embedding dimension.
func (e *HashingEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for HashingEmbedder.
func (e *HashingEmbedder) Close() error {
	return nil
}
