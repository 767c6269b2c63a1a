package graph

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// EmbeddingIndex is an optional nearest-neighbor index over entity-name
// embeddings. The cluster engine does not consult it: nearest-cluster
// lookup is always a linear scan over in-memory centroids, and
// cmd/tabgraphd does not construct an index.
type EmbeddingIndex interface {
	Upsert(ctx context.Context, entityID int64, vector []float32) error
	Delete(ctx context.Context, entityID int64) error
	Nearest(ctx context.Context, vector []float32, k int) ([]int64, error)
}

type qdrantIndex struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantEmbeddingIndex dials Qdrant over gRPC (default port 6334) and
// ensures the entity-name collection exists with the given dimension,
// using cosine distance like the rest of this service's similarity math.
func NewQdrantEmbeddingIndex(ctx context.Context, addr, collection string, dimension int) (EmbeddingIndex, error) {
	host, port, err := splitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("embeddingindex: parsing qdrant addr: %w", err)
	}
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("embeddingindex: creating qdrant client: %w", err)
	}
	idx := &qdrantIndex{client: client, collection: collection}
	if err := idx.ensureCollection(ctx, dimension); err != nil {
		client.Close()
		return nil, err
	}
	return idx, nil
}

func splitHostPort(addr string) (string, int, error) {
	u, err := url.Parse(addr)
	if err != nil || u.Hostname() == "" {
		u = &url.URL{Host: addr}
	}
	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := 6334
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", 0, err
		}
		port = n
	}
	return host, port, nil
}

func (q *qdrantIndex) ensureCollection(ctx context.Context, dimension int) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("embeddingindex: checking collection: %w", err)
	}
	if exists {
		return nil
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func entityPointID(entityID int64) *qdrant.PointId {
	u := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("entity:%d", entityID)))
	return qdrant.NewIDUUID(u.String())
}

func (q *qdrantIndex) Upsert(ctx context.Context, entityID int64, vector []float32) error {
	vec := make([]float32, len(vector))
	copy(vec, vector)
	points := []*qdrant.PointStruct{{
		Id:      entityPointID(entityID),
		Vectors: qdrant.NewVectorsDense(vec),
		Payload: qdrant.NewValueMap(map[string]any{"entity_id": entityID}),
	}}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: q.collection, Points: points})
	return err
}

func (q *qdrantIndex) Delete(ctx context.Context, entityID int64) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(entityPointID(entityID)),
	})
	return err
}

func (q *qdrantIndex) Nearest(ctx context.Context, vector []float32, k int) ([]int64, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	limit := uint64(k)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(hits))
	for _, hit := range hits {
		if hit.Payload == nil {
			continue
		}
		if v, ok := hit.Payload["entity_id"]; ok {
			out = append(out, v.GetIntegerValue())
		}
	}
	return out, nil
}
