package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/docqa-ai/docqa-go/internal/chunker"
	"github.com/docqa-ai/docqa-go/internal/logging"
	"github.com/docqa-ai/docqa-go/internal/rag"
)

// chunkIDNamespace seeds deterministic chunk point IDs. Re-ingesting a
// document produces identical IDs for identical positions, so the index
// overwrites stale points instead of accumulating duplicates.
var chunkIDNamespace = uuid.MustParse("8c2e9d4a-6f1b-4e3c-9a7d-5b0e2f8c1a6d")

// IngestionError wraps a failure with the document that triggered it.
type IngestionError struct {
	// DocumentID identifies the document being ingested.
	DocumentID string
	// Stage names the pipeline stage that failed.
	Stage string
	// Err is the underlying failure.
	Err error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingestion: %s failed for document %q: %v", e.Stage, e.DocumentID, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// Pipeline loads, chunks, embeds, and indexes documents. It is safe for
// concurrent use; ingestions of the same document ID are serialized so a
// re-ingest cannot interleave with itself.
type Pipeline struct {
	splitter *chunker.Splitter
	embedder rag.Embedder
	index    rag.VectorIndex

	// docLocks serializes ingestion per document ID.
	mu       sync.Mutex
	docLocks map[string]*sync.Mutex
}

// NewPipeline constructs an ingestion pipeline. Nil dependencies are
// rejected up front rather than failing on first use.
func NewPipeline(splitter *chunker.Splitter, embedder rag.Embedder, index rag.VectorIndex) (*Pipeline, error) {
	if splitter == nil {
		return nil, fmt.Errorf("ingestion: splitter is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder is required")
	}
	if index == nil {
		return nil, fmt.Errorf("ingestion: index is required")
	}
	return &Pipeline{
		splitter: splitter,
		embedder: embedder,
		index:    index,
		docLocks: map[string]*sync.Mutex{},
	}, nil
}

// lockDocument returns the mutex guarding the given document ID, creating
// it on first use. Locks are never evicted; the set of distinct document
// IDs is small and bounded by the corpus.
func (p *Pipeline) lockDocument(documentID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.docLocks[documentID]
	if !ok {
		l = &sync.Mutex{}
		p.docLocks[documentID] = l
	}
	return l
}

// ChunkID returns the deterministic point ID for a chunk position within a
// document. UUIDv5 over documentID#index keeps IDs stable across re-ingests.
func ChunkID(documentID string, index int) string {
	return uuid.NewSHA1(chunkIDNamespace, []byte(documentID+"#"+strconv.Itoa(index))).String()
}

// IngestFile loads the file at path and ingests its content under the given
// document ID. An empty documentID defaults to the file's base name. Extra
// metadata is attached to every chunk; keys that collide with the reserved
// payload keys (content, document_id, chunk_index, source) are dropped, the
// pipeline's own values win. Returns the number of chunks indexed.
func (p *Pipeline) IngestFile(ctx context.Context, path, documentID string, extra map[string]string) (int, error) {
	if documentID == "" {
		documentID = filepath.Base(path)
	}

	text, err := LoadFile(path)
	if err != nil {
		return 0, &IngestionError{DocumentID: documentID, Stage: "load", Err: err}
	}

	return p.IngestText(ctx, text, documentID, filepath.Base(path), extra)
}

// IngestText chunks, embeds, and indexes raw text under the given document
// ID. Any prior chunks of the document are removed first so a shrinking
// re-ingest leaves no stale tail. Returns the number of chunks indexed.
func (p *Pipeline) IngestText(ctx context.Context, text, documentID, source string, extra map[string]string) (int, error) {
	if documentID == "" {
		return 0, &IngestionError{DocumentID: documentID, Stage: "validate", Err: fmt.Errorf("document id is required")}
	}

	lock := p.lockDocument(documentID)
	lock.Lock()
	defer lock.Unlock()

	log := logging.FromContext(ctx)

	pieces := p.splitter.Split(text)
	if len(pieces) == 0 {
		log.Warn("ingestion: document produced no chunks",
			slog.String("document_id", documentID),
		)
		return 0, nil
	}

	if err := p.removeExisting(ctx, documentID); err != nil {
		return 0, &IngestionError{DocumentID: documentID, Stage: "cleanup", Err: err}
	}

	vectors, err := p.embedder.Embed(ctx, pieces)
	if err != nil {
		return 0, &IngestionError{DocumentID: documentID, Stage: "embed", Err: err}
	}
	if len(vectors) != len(pieces) {
		return 0, &IngestionError{
			DocumentID: documentID,
			Stage:      "embed",
			Err:        fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(pieces)),
		}
	}

	chunks := make([]rag.Chunk, len(pieces))
	for i, content := range pieces {
		chunks[i] = rag.Chunk{
			ID:         ChunkID(documentID, i),
			Content:    content,
			DocumentID: documentID,
			ChunkIndex: i,
			Source:     source,
			Extra:      sanitizeExtra(extra),
		}
	}

	if err := p.index.Upsert(ctx, chunks, vectors); err != nil {
		return 0, &IngestionError{DocumentID: documentID, Stage: "index", Err: err}
	}

	log.Info("ingested document",
		slog.String("document_id", documentID),
		slog.String("source", source),
		slog.Int("chunks", len(chunks)),
	)
	return len(chunks), nil
}

// removeExisting deletes any previously indexed chunks of the document.
// Deterministic IDs already overwrite matching positions; this pass exists
// for the tail chunks a shorter re-ingest would otherwise leave behind.
func (p *Pipeline) removeExisting(ctx context.Context, documentID string) error {
	existing, err := p.index.Get(ctx, &rag.Filter{DocumentID: documentID})
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return nil
	}
	ids := make([]string, 0, len(existing))
	for _, c := range existing {
		ids = append(ids, c.ID)
	}
	return p.index.Delete(ctx, ids)
}

// sanitizeExtra copies user metadata, dropping keys reserved for the
// pipeline's own payload fields.
func sanitizeExtra(extra map[string]string) map[string]string {
	if len(extra) == 0 {
		return nil
	}
	reserved := map[string]bool{
		"content":         true,
		rag.KeyDocumentID: true,
		rag.KeyChunkIndex: true,
		rag.KeySource:     true,
	}
	out := make(map[string]string, len(extra))
	for k, v := range extra {
		if reserved[k] {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
