package rag

import (
	"context"
	"fmt"
)

// Retriever converts a query into ranked chunks by embedding it once and
// delegating similarity search to the index. Result order is descending
// by score; ties keep the index's insertion order, so identical index
// state always yields identical results.
type Retriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// index performs the vector similarity search.
	index VectorIndex

	// defaultTopK is the number of results to return when the caller
	// passes k <= 0.
	defaultTopK int
}

// NewRetriever constructs a Retriever from the given Embedder and
// VectorIndex. defaultTopK sets the fallback result count when Search is
// called with k <= 0.
func NewRetriever(embedder Embedder, index VectorIndex, defaultTopK int) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("rag: index must not be nil")
	}
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	return &Retriever{
		embedder:    embedder,
		index:       index,
		defaultTopK: defaultTopK,
	}, nil
}

// Search embeds the query and returns at most k chunks with similarity
// scores, restricted to filter when given. Fewer than k chunks are
// returned when the index holds fewer matches.
func (r *Retriever) Search(ctx context.Context, query string, k int, filter *Filter) ([]Chunk, error) {
	if k <= 0 {
		k = r.defaultTopK
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query")
	}

	chunks, err := r.index.Search(ctx, embeddings[0], k, filter)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}

	return chunks, nil
}

// SearchPlain is Search for callers that only need the chunk text.
func (r *Retriever) SearchPlain(ctx context.Context, query string, k int, filter *Filter) ([]string, error) {
	chunks, err := r.Search(ctx, query, k, filter)
	if err != nil {
		return nil, err
	}
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		texts = append(texts, c.Content)
	}
	return texts, nil
}
