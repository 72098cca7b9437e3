package rag

import (
	"context"
	"log/slog"
	"sort"

	"github.com/docqa-ai/docqa-go/internal/logging"
)

// Service bundles the retriever and vector index behind the operations the
// QA engine and HTTP layer consume: fail-open search, scored search for
// diagnostics, whole-document deletion, and statistics. A Service is only
// constructed after its dependencies initialized successfully; callers
// holding a nil *Service are in the "not initialized" state and must
// surface ErrNotInitialized (or report it as a status) themselves.
type Service struct {
	// retriever performs embed-then-search.
	retriever *Retriever

	// index is consulted directly for reads and deletes that bypass
	// query embedding.
	index VectorIndex

	// target describes where the index persists, for statistics.
	target string
}

// Stats is the snapshot returned by Statistics.
type Stats struct {
	// TotalChunks is the number of chunks currently indexed.
	TotalChunks uint64 `json:"total_chunks"`

	// Target describes where the index persists its data.
	Target string `json:"persist_target"`
}

// Targeter is implemented by indexes that can describe their persistence
// target. Both QdrantIndex and MemoryIndex satisfy it.
type Targeter interface {
	Target() string
}

// NewService constructs a Service over an initialized retriever and index.
func NewService(retriever *Retriever, index VectorIndex) (*Service, error) {
	if retriever == nil {
		return nil, ErrNotInitialized
	}
	if index == nil {
		return nil, ErrNotInitialized
	}

	target := "unknown"
	if t, ok := index.(Targeter); ok {
		target = t.Target()
	}

	return &Service{retriever: retriever, index: index, target: target}, nil
}

// Search returns up to k chunks relevant to the query. Retrieval errors
// are swallowed into an empty result with a warning log: retrieval is an
// optimization for the final answer, not a correctness requirement, so a
// transient index hiccup degrades answer quality instead of failing the
// request. Callers that need the error use SearchWithScores.
func (s *Service) Search(ctx context.Context, query string, k int, filter *Filter) []Chunk {
	chunks, err := s.retriever.Search(ctx, query, k, filter)
	if err != nil {
		logging.FromContext(ctx).Warn("search failed, continuing without context",
			slog.Any("error", err),
		)
		return nil
	}
	return chunks
}

// SearchWithScores returns scored results and propagates errors raw.
// Used by administrative and evaluation endpoints that diagnose retrieval.
func (s *Service) SearchWithScores(ctx context.Context, query string, k int, filter *Filter) ([]Chunk, error) {
	return s.retriever.Search(ctx, query, k, filter)
}

// DeleteDocument removes every chunk of the given document from the index.
// Deletion is best-effort cleanup: failures are logged and reported as
// false rather than raised. Returns true only when chunks existed and
// were removed.
func (s *Service) DeleteDocument(ctx context.Context, documentID string) bool {
	log := logging.FromContext(ctx)

	chunks, err := s.index.Get(ctx, &Filter{DocumentID: documentID})
	if err != nil {
		log.Error("delete: failed to look up document chunks",
			slog.String("document_id", documentID),
			slog.Any("error", err),
		)
		return false
	}
	if len(chunks) == 0 {
		return false
	}

	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		ids = append(ids, c.ID)
	}

	if err := s.index.Delete(ctx, ids); err != nil {
		log.Error("delete: failed to remove document chunks",
			slog.String("document_id", documentID),
			slog.Any("error", err),
		)
		return false
	}

	log.Info("deleted document",
		slog.String("document_id", documentID),
		slog.Int("chunks", len(ids)),
	)
	return true
}

// DocumentChunks returns all chunks of a document ordered by chunk index.
// Errors propagate raw; this is a diagnostic read.
func (s *Service) DocumentChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	chunks, err := s.index.Get(ctx, &Filter{DocumentID: documentID})
	if err != nil {
		return nil, err
	}
	sort.Slice(chunks, func(i, j int) bool {
		return chunks[i].ChunkIndex < chunks[j].ChunkIndex
	})
	return chunks, nil
}

// Statistics returns the current index snapshot. A count failure is
// reported inside the snapshot rather than as an error; administrative
// reporting treats degraded state as data, not as a request failure.
func (s *Service) Statistics(ctx context.Context) Stats {
	n, err := s.index.Count(ctx)
	if err != nil {
		logging.FromContext(ctx).Warn("statistics: count failed", slog.Any("error", err))
	}
	return Stats{TotalChunks: n, Target: s.target}
}
