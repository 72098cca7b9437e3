package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/docqa-ai/docqa-go/internal/ingestion"
	"github.com/docqa-ai/docqa-go/internal/rag"
)

// handleIngest handles POST /api/documents: ingest a server-local file or
// raw text into the index.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ingest == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion not initialized")
		return
	}

	var body ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch {
	case body.Path != "" && body.Text != "":
		writeError(w, http.StatusBadRequest, "path and text are mutually exclusive")
		return
	case body.Path == "" && body.Text == "":
		writeError(w, http.StatusBadRequest, "path or text is required")
		return
	case body.Text != "" && body.DocumentID == "":
		writeError(w, http.StatusBadRequest, "document_id is required with text")
		return
	}

	var (
		n   int
		err error
	)
	documentID := body.DocumentID
	if body.Path != "" {
		n, err = s.deps.Ingest.IngestFile(r.Context(), body.Path, documentID, body.Metadata)
		if documentID == "" {
			documentID = baseName(body.Path)
		}
	} else {
		source := body.Source
		if source == "" {
			source = documentID
		}
		n, err = s.deps.Ingest.IngestText(r.Context(), body.Text, documentID, source, body.Metadata)
	}

	if err != nil {
		if errors.Is(err, ingestion.ErrUnsupportedFileType) {
			writeError(w, http.StatusUnsupportedMediaType, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.metrics.ingestedChunksTotal.Add(float64(n))
	writeJSON(w, http.StatusCreated, ingestResponse{DocumentID: documentID, Chunks: n})
}

// baseName returns the final path element without importing path/filepath
// semantics into the response shape. Backslashes are not handled; ingestion
// runs on the server's own filesystem.
func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

// handleDeleteDocument handles DELETE /api/documents/{id}. Deletion is
// best-effort: a document with no indexed chunks yields 404, everything
// else 204.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rag == nil {
		writeError(w, http.StatusServiceUnavailable, "retrieval service not initialized")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "document id is required")
		return
	}

	if !s.deps.Rag.DeleteDocument(r.Context(), id) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDocumentChunks handles GET /api/documents/{id}/chunks: list a
// document's chunks in index order, for inspecting how it was split.
func (s *Server) handleDocumentChunks(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rag == nil {
		writeError(w, http.StatusServiceUnavailable, "retrieval service not initialized")
		return
	}

	id := r.PathValue("id")
	chunks, err := s.deps.Rag.DocumentChunks(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(chunks) == 0 {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}

	out := make([]chunkInfo, len(chunks))
	for i, c := range chunks {
		out[i] = chunkInfo{ChunkIndex: c.ChunkIndex, Content: c.Content, Source: c.Source}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document_id": id,
		"chunks":      out,
	})
}

// handleSearch handles POST /api/search: scored retrieval without
// generation, for debugging what the index returns.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rag == nil {
		writeError(w, http.StatusServiceUnavailable, "retrieval service not initialized")
		return
	}

	var body searchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	var filter *rag.Filter
	if body.DocumentID != "" {
		filter = &rag.Filter{DocumentID: body.DocumentID}
	}

	chunks, err := s.deps.Rag.SearchWithScores(r.Context(), body.Query, body.TopK, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]searchResult, len(chunks))
	for i, c := range chunks {
		out[i] = searchResult{
			DocumentID: c.DocumentID,
			ChunkIndex: c.ChunkIndex,
			Score:      c.Score,
			Content:    c.Content,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

// handleStats handles GET /api/stats. An uninitialized retrieval service is
// reported as a status, not an error: the endpoint answers "what state is
// the system in", and "not initialized" is a valid state.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rag == nil {
		writeJSON(w, http.StatusOK, statsResponse{Status: "not_initialized"})
		return
	}

	stats := s.deps.Rag.Statistics(r.Context())
	writeJSON(w, http.StatusOK, statsResponse{
		Status:      "ready",
		TotalChunks: stats.TotalChunks,
		Target:      stats.Target,
	})
}

// handleQueryMetrics handles GET /api/metrics/queries: aggregates of the
// recorded ask traffic.
func (s *Server) handleQueryMetrics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Metrics == nil {
		writeError(w, http.StatusServiceUnavailable, "query metrics not initialized")
		return
	}

	stats, err := s.deps.Metrics.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
