package benchmark

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/records"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/vector"
)

func BenchmarkMemoryIndexSearch(b *testing.B) {
	idx, _ := vector.NewMemoryIndex(384, vector.MetricL2)
	ctx := context.Background()
	vecs := make([][]float32, 1000)
	payloads := make([]string, 1000)
	for i := 0; i < 1000; i++ {
		vecs[i] = make([]float32, 384)
		vecs[i][0] = float32(i) / 1000
		payloads[i] = fmt.Sprintf("question %d", i)
	}
	_ = idx.Add(ctx, payloads, vecs)
	query := make([]float32, 384)
	query[0] = 1.0
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = idx.Search(ctx, query, 10)
	}
}

func BenchmarkHashingEmbedder_Embed(b *testing.B) {
	e, _ := embedding.NewHashingEmbedder(384)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Embed(ctx, "qual é o prazo de entrega para o interior?")
	}
}

func BenchmarkEngineRetrieve(b *testing.B) {
	dir := b.TempDir()
	var csv strings.Builder
	csv.WriteString("Question,Answer\n")
	for i := 0; i < 1000; i++ {
		fmt.Fprintf(&csv, "Pergunta número %d sobre entrega,Resposta %d\n", i, i)
	}
	path := filepath.Join(dir, "train.csv")
	if err := os.WriteFile(path, []byte(csv.String()), 0644); err != nil {
		b.Fatal(err)
	}
	embedder, _ := embedding.NewHashingEmbedder(128)
	backend, _ := vector.NewMemoryIndex(128, vector.MetricL2)
	index, err := vector.NewSemanticIndex(embedder, backend)
	if err != nil {
		b.Fatal(err)
	}
	sync := indexer.NewSynchronizer(records.NewStore(path, records.Columns{Question: "Question", Answer: "Answer"}),
		index, filepath.Join(dir, "index.bin"))
	ctx := context.Background()
	if err := sync.Open(ctx); err != nil {
		b.Fatal(err)
	}
	engine := search.NewEngine(sync, &config.RetrievalConfig{DefaultK: 3, MaxK: 50})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = engine.Retrieve(ctx, &models.RetrieveRequest{Query: "pergunta sobre entrega 42", K: 5})
	}
}
