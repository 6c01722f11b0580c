package vector

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

const (
	snapshotMagic   = "KOTAEIDX"
	snapshotVersion = uint32(1)
)

// MemoryIndex is an in-memory vector index using brute-force search.
// Exact, and fast enough for knowledge bases of a few tens of thousands of questions.
type MemoryIndex struct {
	dimensions int
	metric     Metric
	payloads   []string
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension and metric.
func NewMemoryIndex(dimensions int, metric Metric) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if _, err := ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	if metric == "" {
		metric = MetricL2
	}
	return &MemoryIndex{
		dimensions: dimensions,
		metric:     metric,
		payloads:   make([]string, 0),
		vectors:    make([][]float32, 0),
	}, nil
}

// Type returns the index type identifier.
func (m *MemoryIndex) Type() string {
	return string(IndexTypeMemory)
}

// Dimensions returns the vector dimension.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Metric returns the distance metric.
func (m *MemoryIndex) Metric() Metric {
	return m.metric
}

// Add appends vectors with the given payloads. Nothing is added if any vector has the wrong dimension.
func (m *MemoryIndex) Add(ctx context.Context, payloads []string, vectors [][]float32) error {
	if len(payloads) != len(vectors) {
		return fmt.Errorf("payloads and vectors length mismatch")
	}
	for _, v := range vectors {
		if len(v) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(v), m.dimensions)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range payloads {
		vec := make([]float32, m.dimensions)
		copy(vec, vectors[i])
		m.payloads = append(m.payloads, p)
		m.vectors = append(m.vectors, vec)
	}
	return nil
}

// Search returns the k nearest entries by ascending distance. Equal distances keep insertion order.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.payloads) == 0 {
		return nil, models.ErrEmptyIndex
	}
	if k <= 0 {
		return nil, nil
	}
	scored := make([]*VectorResult, len(m.vectors))
	for i, vec := range m.vectors {
		scored[i] = &VectorResult{Position: i, Payload: m.payloads[i], Distance: m.metric.Distance(query, vec)}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Distance < scored[j].Distance })
	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}

// Reset removes every entry.
func (m *MemoryIndex) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = make([]string, 0)
	m.vectors = make([][]float32, 0)
	return nil
}

// Payloads returns a copy of the payloads in position order.
func (m *MemoryIndex) Payloads() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.payloads...)
}

// Save atomically writes the index to path. Format: magic, version, metric length and name,
// dimension, count, then per entry: payload length, payload bytes, vector (dimension*4 bytes),
// all little-endian.
func (m *MemoryIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	var buf bytes.Buffer
	buf.WriteString(snapshotMagic)
	writeUint32(&buf, snapshotVersion)
	writeUint32(&buf, uint32(len(m.metric)))
	buf.WriteString(string(m.metric))
	writeUint32(&buf, uint32(m.dimensions))
	writeUint32(&buf, uint32(len(m.payloads)))
	for i, p := range m.payloads {
		writeUint32(&buf, uint32(len(p)))
		buf.WriteString(p)
		buf.Write(float32SliceToBytes(m.vectors[i]))
	}
	m.mu.RUnlock()
	if err := utils.WriteFileAtomic(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("save index: %w", err)
	}
	return nil
}

// Load reads the snapshot at path and replaces the in-memory contents.
// Returns models.ErrIndexMissing if the file does not exist and ErrSnapshotMismatch
// if it was written with a different dimension or metric. On error the index is unchanged.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return models.ErrIndexMissing
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", models.ErrIndexMissing, path)
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat index file: %w", err)
	}

	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(f, magic); err != nil || string(magic) != snapshotMagic {
		return fmt.Errorf("%s is not an index snapshot", path)
	}
	version, err := readUint32(f)
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	if version != snapshotVersion {
		return fmt.Errorf("%w: snapshot version %d, expected %d", ErrSnapshotMismatch, version, snapshotVersion)
	}
	metricLen, err := readUint32(f)
	if err != nil || metricLen > 64 {
		return fmt.Errorf("read metric: invalid snapshot header")
	}
	metricBytes := make([]byte, metricLen)
	if _, err := io.ReadFull(f, metricBytes); err != nil {
		return fmt.Errorf("read metric: %w", err)
	}
	if Metric(metricBytes) != m.metric {
		return fmt.Errorf("%w: file uses metric %s, index expects %s", ErrSnapshotMismatch, metricBytes, m.metric)
	}
	dim, err := readUint32(f)
	if err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != m.dimensions {
		return fmt.Errorf("%w: file has %d dimensions, index expects %d", ErrSnapshotMismatch, dim, m.dimensions)
	}
	n, err := readUint32(f)
	if err != nil {
		return fmt.Errorf("read count: %w", err)
	}

	// Counts come from the file; check them against what is left of it before allocating.
	remaining := info.Size() - int64(len(snapshotMagic)+4+4+int(metricLen)+4+4)
	entrySize := int64(4 + m.dimensions*4)
	if int64(n) > remaining/entrySize {
		return fmt.Errorf("read count: snapshot claims %d entries but holds at most %d", n, remaining/entrySize)
	}

	payloads := make([]string, 0, n)
	vectors := make([][]float32, 0, n)
	buf := make([]byte, m.dimensions*4)
	for i := uint32(0); i < n; i++ {
		pLen, err := readUint32(f)
		if err != nil {
			return fmt.Errorf("read payload len: %w", err)
		}
		remaining -= entrySize
		if int64(pLen) > remaining {
			return fmt.Errorf("read payload: entry %d claims %d bytes but %d remain", i, pLen, remaining)
		}
		remaining -= int64(pLen)
		pBytes := make([]byte, pLen)
		if _, err := io.ReadFull(f, pBytes); err != nil {
			return fmt.Errorf("read payload: %w", err)
		}
		if _, err := io.ReadFull(f, buf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		payloads = append(payloads, string(pBytes))
		vectors = append(vectors, bytesToFloat32Slice(buf))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = payloads
	m.vectors = vectors
	return nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.payloads)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
