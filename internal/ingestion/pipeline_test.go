package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/docqa-ai/docqa-go/internal/chunker"
	"github.com/docqa-ai/docqa-go/internal/rag"
)

// unitEmbedder returns a fixed-dimension vector per text, derived from its
// length so distinct chunk counts stay distinguishable.
type unitEmbedder struct {
	err error
}

func (u *unitEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if u.err != nil {
		return nil, u.err
	}
	out := make([][]float32, len(texts))
	for i, tx := range texts {
		out[i] = []float32{float32(len(tx)), 1, 0}
	}
	return out, nil
}

func newTestPipeline(t *testing.T) (*Pipeline, *rag.MemoryIndex) {
	t.Helper()
	idx := rag.NewMemoryIndex()
	p, err := NewPipeline(chunker.New(100, 20), &unitEmbedder{}, idx)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p, idx
}

func TestIngestText_IndexesAllChunks(t *testing.T) {
	t.Parallel()
	p, idx := newTestPipeline(t)
	ctx := context.Background()

	text := strings.Repeat("some sentence about the system. ", 20)
	n, err := p.IngestText(ctx, text, "doc-1", "doc-1.txt", nil)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if n < 2 {
		t.Fatalf("want multiple chunks for long text, got %d", n)
	}

	count, _ := idx.Count(ctx)
	if int(count) != n {
		t.Errorf("index holds %d chunks, ingest reported %d", count, n)
	}

	chunks, err := idx.Get(ctx, &rag.Filter{DocumentID: "doc-1"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for _, c := range chunks {
		if c.Source != "doc-1.txt" {
			t.Errorf("chunk %s missing source: %q", c.ID, c.Source)
		}
		if c.ID != ChunkID("doc-1", c.ChunkIndex) {
			t.Errorf("chunk %d has non-deterministic id %s", c.ChunkIndex, c.ID)
		}
	}
}

func TestIngestText_ReingestReplacesStaleTail(t *testing.T) {
	t.Parallel()
	p, idx := newTestPipeline(t)
	ctx := context.Background()

	long := strings.Repeat("first version of the document text. ", 20)
	if _, err := p.IngestText(ctx, long, "doc-r", "doc-r.txt", nil); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	before, _ := idx.Count(ctx)

	short := "second version, much shorter."
	n, err := p.IngestText(ctx, short, "doc-r", "doc-r.txt", nil)
	if err != nil {
		t.Fatalf("re-ingest: %v", err)
	}
	if n != 1 {
		t.Fatalf("want 1 chunk for short text, got %d", n)
	}

	after, _ := idx.Count(ctx)
	if after >= before {
		t.Errorf("stale tail not removed: %d chunks before, %d after", before, after)
	}
	if after != 1 {
		t.Errorf("want exactly 1 chunk after re-ingest, got %d", after)
	}

	chunks, _ := idx.Get(ctx, &rag.Filter{DocumentID: "doc-r"})
	if len(chunks) != 1 || chunks[0].Content != short {
		t.Errorf("re-ingest content mismatch: %+v", chunks)
	}
}

func TestIngestText_EmptyInputIndexesNothing(t *testing.T) {
	t.Parallel()
	p, idx := newTestPipeline(t)
	ctx := context.Background()

	n, err := p.IngestText(ctx, "   \n\t ", "doc-e", "doc-e.txt", nil)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if n != 0 {
		t.Errorf("want 0 chunks, got %d", n)
	}
	count, _ := idx.Count(ctx)
	if count != 0 {
		t.Errorf("index must stay empty, holds %d", count)
	}
}

func TestIngestText_MissingDocumentID(t *testing.T) {
	t.Parallel()
	p, _ := newTestPipeline(t)

	_, err := p.IngestText(context.Background(), "text", "", "x.txt", nil)
	var ingErr *IngestionError
	if !errors.As(err, &ingErr) {
		t.Fatalf("want IngestionError, got %v", err)
	}
	if ingErr.Stage != "validate" {
		t.Errorf("want validate stage, got %q", ingErr.Stage)
	}
}

func TestIngestText_EmbedderFailureWrapped(t *testing.T) {
	t.Parallel()
	idx := rag.NewMemoryIndex()
	wantErr := errors.New("embedder offline")
	p, err := NewPipeline(chunker.New(100, 20), &unitEmbedder{err: wantErr}, idx)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	_, err = p.IngestText(context.Background(), "some content", "doc-f", "f.txt", nil)
	var ingErr *IngestionError
	if !errors.As(err, &ingErr) {
		t.Fatalf("want IngestionError, got %v", err)
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("underlying error not wrapped: %v", err)
	}
	if ingErr.DocumentID != "doc-f" {
		t.Errorf("error names wrong document: %q", ingErr.DocumentID)
	}
}

func TestIngestText_ReservedMetadataKeysDropped(t *testing.T) {
	t.Parallel()
	p, idx := newTestPipeline(t)
	ctx := context.Background()

	extra := map[string]string{
		"document_id": "spoofed",
		"source":      "spoofed",
		"team":        "platform",
	}
	if _, err := p.IngestText(ctx, "short text", "doc-m", "m.txt", extra); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	chunks, _ := idx.Get(ctx, &rag.Filter{DocumentID: "doc-m"})
	if len(chunks) != 1 {
		t.Fatalf("want 1 chunk, got %d", len(chunks))
	}
	c := chunks[0]
	if c.DocumentID != "doc-m" || c.Source != "m.txt" {
		t.Errorf("reserved keys overridden: %+v", c)
	}
	if c.Extra["team"] != "platform" {
		t.Errorf("custom metadata lost: %+v", c.Extra)
	}
	if _, ok := c.Extra["document_id"]; ok {
		t.Error("reserved key leaked into extra metadata")
	}
}

func TestIngestFile_PlainText(t *testing.T) {
	t.Parallel()
	p, idx := newTestPipeline(t)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	if err := os.WriteFile(path, []byte("# Notes\n\nA short document."), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	n, err := p.IngestFile(ctx, path, "", nil)
	if err != nil {
		t.Fatalf("ingest file: %v", err)
	}
	if n != 1 {
		t.Fatalf("want 1 chunk, got %d", n)
	}

	// Empty document ID defaults to the base name.
	chunks, _ := idx.Get(ctx, &rag.Filter{DocumentID: "notes.md"})
	if len(chunks) != 1 {
		t.Errorf("document not indexed under base name: %+v", chunks)
	}
}

func TestIngestFile_UnsupportedExtension(t *testing.T) {
	t.Parallel()
	p, _ := newTestPipeline(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "image.png")
	if err := os.WriteFile(path, []byte{0x89, 0x50}, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	_, err := p.IngestFile(context.Background(), path, "", nil)
	if !errors.Is(err, ErrUnsupportedFileType) {
		t.Errorf("want ErrUnsupportedFileType, got %v", err)
	}
}

func TestChunkID_Deterministic(t *testing.T) {
	t.Parallel()

	if ChunkID("doc", 0) != ChunkID("doc", 0) {
		t.Error("same position must yield the same id")
	}
	if ChunkID("doc", 0) == ChunkID("doc", 1) {
		t.Error("different positions must yield different ids")
	}
	if ChunkID("doc-a", 0) == ChunkID("doc-b", 0) {
		t.Error("different documents must yield different ids")
	}
}
