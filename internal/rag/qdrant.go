package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// scrollPageLimit bounds a single Get read. Documents are chunked at
// ~1000 bytes, so even very large uploads stay well under this.
const scrollPageLimit = 10000

// QdrantConfig holds connection parameters for a Qdrant vector index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this
	// collection. Fixed for the lifetime of the collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantIndex implements VectorIndex backed by a Qdrant instance.
// Chunks persist in the collection and survive process restarts.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this index.
	cfg *QdrantConfig
}

// NewQdrantIndex creates a QdrantIndex, ensuring the target collection
// exists (creating it with cosine distance if necessary), and returns a
// ready-to-use VectorIndex.
func NewQdrantIndex(ctx context.Context, cfg *QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
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
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	idx := &QdrantIndex{client: client, cfg: cfg}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return idx, nil
}

// Client exposes the underlying gRPC client for readiness probes.
func (q *QdrantIndex) Client() *qdrant.Client { return q.client }

// Target describes where this index persists its data.
func (q *QdrantIndex) Target() string {
	return fmt.Sprintf("qdrant://%s:%d/%s", q.cfg.Host, q.cfg.Port, q.cfg.Collection)
}

// ensureCollection creates the collection if it does not already exist.
func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", q.cfg.Collection, err)
	}

	return nil
}

// Upsert stores or replaces a batch of chunks with their embeddings.
// Points with an existing ID are overwritten, so re-ingesting a document
// whose chunk IDs are deterministic replaces its prior chunks in place.
func (q *QdrantIndex) Upsert(ctx context.Context, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("qdrant: %d chunks but %d vectors", len(chunks), len(vectors))
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i, c := range chunks {
		payload := map[string]any{
			"content":     c.Content,
			KeySource:     c.Source,
			KeyDocumentID: c.DocumentID,
			KeyChunkIndex: int64(c.ChunkIndex),
		}
		for k, v := range c.Extra {
			payload[k] = v
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(c.ID),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.Collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}

	return nil
}

// Search performs a cosine similarity search and returns the top-k chunks
// in descending score order, restricted to filter when given.
func (q *QdrantIndex) Search(ctx context.Context, queryEmbedding []float32, k int, filter *Filter) ([]Chunk, error) {
	limit := uint64(k)
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.cfg.Collection,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Limit:          &limit,
		Filter:         qdrantFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	chunks := make([]Chunk, 0, len(results))
	for _, r := range results {
		c := chunkFromPayload(r.Payload)
		c.ID = r.Id.GetUuid()
		c.Score = r.Score
		chunks = append(chunks, c)
	}

	return chunks, nil
}

// Get returns all chunks matching the filter, without scores.
func (q *QdrantIndex) Get(ctx context.Context, filter *Filter) ([]Chunk, error) {
	results, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: q.cfg.Collection,
		Filter:         qdrantFilter(filter),
		Limit:          qdrant.PtrOf(uint32(scrollPageLimit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: get failed: %w", err)
	}

	chunks := make([]Chunk, 0, len(results))
	for _, r := range results {
		c := chunkFromPayload(r.Payload)
		c.ID = r.Id.GetUuid()
		chunks = append(chunks, c)
	}

	return chunks, nil
}

// Delete removes chunks from the collection by their IDs.
func (q *QdrantIndex) Delete(ctx context.Context, ids []string) error {
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(id))
	}

	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.cfg.Collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete failed: %w", err)
	}

	return nil
}

// Count returns the total number of chunks in the collection.
func (q *QdrantIndex) Count(ctx context.Context) (uint64, error) {
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.cfg.Collection,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count failed: %w", err)
	}
	return n, nil
}

// Close closes the underlying Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// qdrantFilter converts an exact-match Filter into the Qdrant wire form.
// Returns nil for an empty filter so unfiltered reads stay unrestricted.
func qdrantFilter(f *Filter) *qdrant.Filter {
	if f.Empty() {
		return nil
	}

	var must []*qdrant.Condition
	if f.DocumentID != "" {
		must = append(must, qdrant.NewMatch(KeyDocumentID, f.DocumentID))
	}
	for k, v := range f.Extra {
		must = append(must, qdrant.NewMatch(k, v))
	}

	return &qdrant.Filter{Must: must}
}

// chunkFromPayload reconstructs a Chunk from a Qdrant point payload,
// splitting reserved keys into typed fields and everything else into Extra.
func chunkFromPayload(payload map[string]*qdrant.Value) Chunk {
	c := Chunk{Extra: make(map[string]string)}
	for k, v := range payload {
		switch k {
		case "content":
			c.Content = v.GetStringValue()
		case KeySource:
			c.Source = v.GetStringValue()
		case KeyDocumentID:
			c.DocumentID = v.GetStringValue()
		case KeyChunkIndex:
			c.ChunkIndex = int(v.GetIntegerValue())
		default:
			c.Extra[k] = v.GetStringValue()
		}
	}
	return c
}
