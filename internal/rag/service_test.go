package rag

import (
	"context"
	"errors"
	"testing"
)

// failingIndex wraps a MemoryIndex and fails selected operations.
type failingIndex struct {
	*MemoryIndex
	failSearch bool
	failDelete bool
}

func (f *failingIndex) Search(ctx context.Context, v []float32, k int, filter *Filter) ([]Chunk, error) {
	if f.failSearch {
		return nil, errors.New("index unavailable")
	}
	return f.MemoryIndex.Search(ctx, v, k, filter)
}

func (f *failingIndex) Delete(ctx context.Context, ids []string) error {
	if f.failDelete {
		return errors.New("index unavailable")
	}
	return f.MemoryIndex.Delete(ctx, ids)
}

func newTestService(t *testing.T, idx VectorIndex) *Service {
	t.Helper()
	r, err := NewRetriever(&fakeEmbedder{}, idx, 5)
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}
	svc, err := NewService(r, idx)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestService_SearchFailOpen(t *testing.T) {
	t.Parallel()
	idx := &failingIndex{MemoryIndex: seedIndex(t), failSearch: true}
	svc := newTestService(t, idx)

	got := svc.Search(context.Background(), "alpha", 3, nil)
	if got != nil {
		t.Errorf("search failure must yield empty results, got %+v", got)
	}
}

func TestService_SearchWithScoresPropagatesError(t *testing.T) {
	t.Parallel()
	idx := &failingIndex{MemoryIndex: seedIndex(t), failSearch: true}
	svc := newTestService(t, idx)

	_, err := svc.SearchWithScores(context.Background(), "alpha", 3, nil)
	if err == nil {
		t.Error("scored search must propagate index errors")
	}
}

func TestService_DeleteDocument(t *testing.T) {
	t.Parallel()
	idx := seedIndex(t)
	svc := newTestService(t, idx)
	ctx := context.Background()

	if !svc.DeleteDocument(ctx, "doc-a") {
		t.Fatal("want true when chunks were removed")
	}

	// Post-delete search with the document filter must find nothing.
	got := svc.Search(ctx, "alpha", 5, &Filter{DocumentID: "doc-a"})
	if len(got) != 0 {
		t.Errorf("deleted document still searchable: %+v", got)
	}
}

func TestService_DeleteDocumentMissing(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, seedIndex(t))

	if svc.DeleteDocument(context.Background(), "no-such-doc") {
		t.Error("want false for unknown document")
	}
}

func TestService_DeleteDocumentBestEffort(t *testing.T) {
	t.Parallel()
	idx := &failingIndex{MemoryIndex: seedIndex(t), failDelete: true}
	svc := newTestService(t, idx)

	if svc.DeleteDocument(context.Background(), "doc-a") {
		t.Error("delete failure must report false, not panic or raise")
	}
}

func TestService_DocumentChunksOrdered(t *testing.T) {
	t.Parallel()
	idx := NewMemoryIndex()
	ctx := context.Background()

	// Insert out of index order to prove the read re-sorts.
	err := idx.Upsert(ctx, []Chunk{
		{ID: "d-2", DocumentID: "doc-d", ChunkIndex: 2},
		{ID: "d-0", DocumentID: "doc-d", ChunkIndex: 0},
		{ID: "d-1", DocumentID: "doc-d", ChunkIndex: 1},
	}, [][]float32{vec(1, 0, 0), vec(0, 1, 0), vec(0, 0, 1)})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	svc := newTestService(t, idx)
	chunks, err := svc.DocumentChunks(ctx, "doc-d")
	if err != nil {
		t.Fatalf("document chunks: %v", err)
	}
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Errorf("position %d holds chunk_index %d", i, c.ChunkIndex)
		}
	}
}

func TestService_Statistics(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, seedIndex(t))

	stats := svc.Statistics(context.Background())
	if stats.TotalChunks != 3 {
		t.Errorf("want 3 chunks, got %d", stats.TotalChunks)
	}
	if stats.Target != "memory" {
		t.Errorf("want memory target, got %q", stats.Target)
	}
}

func TestNewService_NilDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewService(nil, NewMemoryIndex()); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("nil retriever: want ErrNotInitialized, got %v", err)
	}

	r, _ := NewRetriever(&fakeEmbedder{}, NewMemoryIndex(), 5)
	if _, err := NewService(r, nil); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("nil index: want ErrNotInitialized, got %v", err)
	}
}
