// Package rag defines the retrieval core: chunk records, vector index
// storage, query embedding, and similarity retrieval. Concrete index
// implementations (Qdrant, in-memory) satisfy the VectorIndex interface so
// the QA and ingestion layers never depend on a specific backend.
package rag

import (
	"context"
)

// Reserved metadata keys attached to every chunk at ingestion time. These
// are the only keys retrieval and deletion filter on; caller-supplied
// extras never override them.
const (
	KeyDocumentID = "document_id"
	KeyChunkIndex = "chunk_index"
	KeySource     = "source"
)

// Chunk is a bounded-length segment of one source document, the atomic
// unit of indexing and retrieval.
type Chunk struct {
	// ID is the unique identifier of this chunk in the vector index.
	ID string

	// Content is the raw text of the chunk.
	Content string

	// DocumentID identifies the owning document.
	DocumentID string

	// ChunkIndex is the 0-based position of the chunk within its
	// document. Indices are dense (0..count-1) at ingestion time.
	ChunkIndex int

	// Source is the origin file path of the document.
	Source string

	// Extra holds caller-supplied metadata tags merged in at ingestion
	// time. Reserved keys are carried in the typed fields above, never here.
	Extra map[string]string

	// Score is the similarity score assigned during retrieval; higher is
	// more relevant. Zero when the chunk was not produced by a search.
	Score float32
}

// Filter is an exact-match metadata predicate applied to index reads.
// Zero-valued fields do not constrain the match.
type Filter struct {
	// DocumentID restricts matches to chunks of one document.
	DocumentID string

	// Extra restricts matches on caller-supplied tags.
	Extra map[string]string
}

// Empty reports whether the filter constrains nothing.
func (f *Filter) Empty() bool {
	return f == nil || (f.DocumentID == "" && len(f.Extra) == 0)
}

// VectorIndex is the interface for persisting and searching chunk
// embeddings. Implementations must be safe to call from multiple
// goroutines; the index is treated as externally synchronized storage.
type VectorIndex interface {
	// Upsert stores or replaces a batch of chunks with their pre-computed
	// embeddings. vectors must be parallel to chunks: vectors[i] is the
	// embedding of chunks[i].
	Upsert(ctx context.Context, chunks []Chunk, vectors [][]float32) error

	// Search returns the top-k chunks most similar to the query embedding,
	// ordered by descending score, restricted to filter when given.
	Search(ctx context.Context, queryEmbedding []float32, k int, filter *Filter) ([]Chunk, error)

	// Get returns all chunks matching the filter, without scores.
	Get(ctx context.Context, filter *Filter) ([]Chunk, error)

	// Delete removes chunks by their IDs.
	Delete(ctx context.Context, ids []string) error

	// Count returns the total number of chunks stored.
	Count(ctx context.Context) (uint64, error)

	// Close releases any resources held by the index.
	Close() error
}

// Embedder converts text into dense vector embeddings. The embedding
// dimension is constant for the lifetime of a given index.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
