package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	qdrantPayloadKey = "question"
	qdrantScrollPage = 256
	qdrantOpTimeout  = 30 * time.Second
)

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// qdrantManifest is what Save writes locally; the vectors themselves live in the collection.
type qdrantManifest struct {
	Collection string `json:"collection"`
	Dimensions int    `json:"dimensions"`
	Metric     Metric `json:"metric"`
	Count      int    `json:"count"`
}

// QdrantIndex keeps vectors in a Qdrant collection. Point ids are record positions
// and each point carries its question under the "question" payload key.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	dimensions  int
	metric      Metric
	payloads    []string
	mu          sync.RWMutex
}

// NewQdrantIndex connects to Qdrant's gRPC endpoint at addr.
func NewQdrantIndex(addr, collection string, dimensions int, metric Metric) (*QdrantIndex, error) {
	if addr == "" || collection == "" {
		return nil, fmt.Errorf("qdrant address and collection are required")
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial qdrant %s: %w", addr, err)
	}
	q, err := newQdrantIndexWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection, dimensions, metric)
	if err != nil {
		conn.Close()
		return nil, err
	}
	q.conn = conn
	return q, nil
}

func newQdrantIndexWithClients(points pointsAPI, collections collectionsAPI, collection string, dimensions int, metric Metric) (*QdrantIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if metric == "" {
		metric = MetricL2
	}
	return &QdrantIndex{
		points:      points,
		collections: collections,
		collection:  collection,
		dimensions:  dimensions,
		metric:      metric,
		payloads:    make([]string, 0),
	}, nil
}

func (q *QdrantIndex) Type() string { return string(IndexTypeQdrant) }

func (q *QdrantIndex) Dimensions() int { return q.dimensions }

func (q *QdrantIndex) Metric() Metric { return q.metric }

// Collection returns the Qdrant collection name.
func (q *QdrantIndex) Collection() string { return q.collection }

func (q *QdrantIndex) distance() pb.Distance {
	if q.metric == MetricCosine {
		return pb.Distance_Cosine
	}
	return pb.Distance_Euclid
}

// toDistance converts a Qdrant score to the index's distance convention.
// Cosine scores are similarities; Euclid scores are plain (not squared) distances.
func (q *QdrantIndex) toDistance(score float32) float64 {
	s := float64(score)
	if q.metric == MetricCosine {
		return 1 - s
	}
	return s * s
}

// Add upserts one point per payload, numbered from the current size.
func (q *QdrantIndex) Add(ctx context.Context, payloads []string, vectors [][]float32) error {
	if len(payloads) != len(vectors) {
		return fmt.Errorf("payloads and vectors length mismatch")
	}
	for _, v := range vectors {
		if len(v) != q.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(v), q.dimensions)
		}
	}
	if len(payloads) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	base := len(q.payloads)
	points := make([]*pb.PointStruct, len(payloads))
	for i, p := range payloads {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: uint64(base + i)}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vectors[i]}},
			},
			Payload: map[string]*pb.Value{
				qdrantPayloadKey: {Kind: &pb.Value_StringValue{StringValue: p}},
			},
		}
	}
	wait := true
	if _, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("qdrant upsert %d points: %w", len(points), err)
	}
	q.payloads = append(q.payloads, payloads...)
	return nil
}

// Search returns up to k points ordered by ascending distance, ties by position.
func (q *QdrantIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != q.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), q.dimensions)
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if len(q.payloads) == 0 {
		return nil, models.ErrEmptyIndex
	}
	if k <= 0 {
		return nil, nil
	}
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         query,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}
	results := make([]*VectorResult, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		results = append(results, &VectorResult{
			Position: int(r.GetId().GetNum()),
			Payload:  r.GetPayload()[qdrantPayloadKey].GetStringValue(),
			Distance: q.toDistance(r.GetScore()),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Position < results[j].Position
	})
	return results, nil
}

// Reset drops and recreates the collection.
func (q *QdrantIndex) Reset(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	exists, err := q.collectionExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		if _, err := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: q.collection}); err != nil {
			return fmt.Errorf("qdrant delete collection %s: %w", q.collection, err)
		}
	}
	if _, err := q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: uint64(q.dimensions), Distance: q.distance()},
			},
		},
	}); err != nil {
		return fmt.Errorf("qdrant create collection %s: %w", q.collection, err)
	}
	q.payloads = make([]string, 0)
	return nil
}

func (q *QdrantIndex) collectionExists(ctx context.Context) (bool, error) {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return false, fmt.Errorf("qdrant list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			return true, nil
		}
	}
	return false, nil
}

func (q *QdrantIndex) Payloads() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]string(nil), q.payloads...)
}

func (q *QdrantIndex) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.payloads)
}

// Save writes a manifest describing the collection. Points are already durable in Qdrant.
func (q *QdrantIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	q.mu.RLock()
	m := qdrantManifest{Collection: q.collection, Dimensions: q.dimensions, Metric: q.metric, Count: len(q.payloads)}
	q.mu.RUnlock()
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := utils.WriteFileAtomic(path, data, 0644); err != nil {
		return fmt.Errorf("save index manifest: %w", err)
	}
	return nil
}

// Load reads the manifest at path and pulls every payload back from the collection.
func (q *QdrantIndex) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", models.ErrIndexMissing, path)
		}
		return fmt.Errorf("read index manifest: %w", err)
	}
	var m qdrantManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse index manifest %s: %w", path, err)
	}
	if m.Collection != q.collection || m.Dimensions != q.dimensions || m.Metric != q.metric {
		return fmt.Errorf("%w: manifest describes %s (%d dims, %s)", ErrSnapshotMismatch, m.Collection, m.Dimensions, m.Metric)
	}

	ctx, cancel := context.WithTimeout(context.Background(), qdrantOpTimeout)
	defer cancel()
	exists, err := q.collectionExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: collection %s not found", models.ErrIndexMissing, q.collection)
	}
	payloads, err := q.scrollPayloads(ctx)
	if err != nil {
		return err
	}
	if len(payloads) != m.Count {
		return fmt.Errorf("%w: manifest count %d, collection holds %d", ErrSnapshotMismatch, m.Count, len(payloads))
	}
	q.mu.Lock()
	q.payloads = payloads
	q.mu.Unlock()
	return nil
}

// scrollPayloads returns payloads in position order. Positions must be dense from zero.
func (q *QdrantIndex) scrollPayloads(ctx context.Context) ([]string, error) {
	byPos := make(map[uint64]string)
	limit := uint32(qdrantScrollPage)
	var offset *pb.PointId
	for {
		resp, err := q.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: q.collection,
			Offset:         offset,
			Limit:          &limit,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant scroll: %w", err)
		}
		for _, p := range resp.GetResult() {
			byPos[p.GetId().GetNum()] = p.GetPayload()[qdrantPayloadKey].GetStringValue()
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			break
		}
	}
	payloads := make([]string, len(byPos))
	for i := range payloads {
		p, ok := byPos[uint64(i)]
		if !ok {
			return nil, fmt.Errorf("%w: collection has no point at position %d", ErrSnapshotMismatch, i)
		}
		payloads[i] = p
	}
	return payloads, nil
}

// Close closes the gRPC connection, if this index owns one.
func (q *QdrantIndex) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}
