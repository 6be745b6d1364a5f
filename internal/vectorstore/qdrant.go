package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// QdrantConfig holds connection settings for the Qdrant gRPC endpoint.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// QdrantStore implements VectorStore using Qdrant. The underlying gRPC
// connection is safe for concurrent use and is shared by all requests.
type QdrantStore struct {
	client *qdrant.Client
}

// NewQdrantStore creates a new Qdrant vector store client
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantStore{client: client}, nil
}

// Close closes the Qdrant client connection
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// Search performs similarity search
func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, limit int) ([]ScoredPoint, error) {
	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search %q: %w", collection, classifyError(err))
	}

	results := make([]ScoredPoint, 0, len(response))
	for _, point := range response {
		payload := make(map[string]any, len(point.Payload))
		for k, v := range point.Payload {
			payload[k] = decodeValue(v)
		}
		results = append(results, ScoredPoint{
			ID:      pointID(point.Id),
			Score:   point.Score,
			Payload: payload,
		})
	}

	return results, nil
}

// CollectionExists checks if a collection exists
func (s *QdrantStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return false, fmt.Errorf("failed to check collection existence: %w", classifyError(err))
	}
	return exists, nil
}

// ListCollections returns the names of all collections.
func (s *QdrantStore) ListCollections(ctx context.Context) ([]string, error) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", classifyError(err))
	}
	return names, nil
}

// CreateCollection creates a new dense-vector collection
func (s *QdrantStore) CreateCollection(ctx context.Context, collection string, dimension int) error {
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", classifyError(err))
	}
	return nil
}

// Upsert inserts or updates points in the vector store
func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		payload := map[string]*qdrant.Value{
			"content": qdrant.NewValueString(p.Content),
		}
		for k, v := range p.Metadata {
			payload[k] = encodeValue(v)
		}

		structs[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", classifyError(err))
	}
	return nil
}

// Ping reports whether Qdrant answers its health check.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check: %w", classifyError(err))
	}
	return nil
}

// classifyError maps gRPC failures onto the package sentinels while keeping
// the original error in the chain.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %w", ErrCollectionNotFound, err)
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	// Some Qdrant versions report a missing collection as a generic failure.
	if msg := strings.ToLower(st.Message()); strings.Contains(msg, "doesn't exist") || strings.Contains(msg, "not found") {
		return fmt.Errorf("%w: %w", ErrCollectionNotFound, err)
	}
	return err
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

// decodeValue converts a payload value into plain Go data.
func decodeValue(v *qdrant.Value) any {
	if v == nil {
		return nil
	}

	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_StructValue:
		fields := kind.StructValue.GetFields()
		out := make(map[string]any, len(fields))
		for k, f := range fields {
			out[k] = decodeValue(f)
		}
		return out
	case *qdrant.Value_ListValue:
		values := kind.ListValue.GetValues()
		out := make([]any, len(values))
		for i, item := range values {
			out[i] = decodeValue(item)
		}
		return out
	default:
		return nil
	}
}

// encodeValue converts a scalar metadata value into a payload value.
// Unsupported types are stored as their string form.
func encodeValue(v any) *qdrant.Value {
	switch val := v.(type) {
	case nil:
		return qdrant.NewValueNull()
	case string:
		return qdrant.NewValueString(val)
	case bool:
		return qdrant.NewValueBool(val)
	case int:
		return qdrant.NewValueInt(int64(val))
	case int32:
		return qdrant.NewValueInt(int64(val))
	case int64:
		return qdrant.NewValueInt(val)
	case float32:
		return qdrant.NewValueDouble(float64(val))
	case float64:
		return qdrant.NewValueDouble(val)
	default:
		return qdrant.NewValueString(fmt.Sprint(val))
	}
}

// Ensure QdrantStore implements VectorStore
var _ VectorStore = (*QdrantStore)(nil)
