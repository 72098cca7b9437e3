package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/docqa-ai/docqa-go/internal/llm"
	"github.com/docqa-ai/docqa-go/internal/qa"
	"github.com/docqa-ai/docqa-go/internal/rag"
	"github.com/docqa-ai/docqa-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
}

// answerer is the interface the ask handlers call. *qa.Engine satisfies it;
// tests inject a fake.
type answerer interface {
	Answer(ctx context.Context, req qa.Request) (*qa.Result, error)
	AnswerStream(ctx context.Context, req qa.Request) (<-chan llm.Fragment, []rag.Chunk, error)
}

// ragService is the document and retrieval surface the administrative
// handlers call. *rag.Service satisfies it.
type ragService interface {
	SearchWithScores(ctx context.Context, query string, k int, filter *rag.Filter) ([]rag.Chunk, error)
	DeleteDocument(ctx context.Context, documentID string) bool
	DocumentChunks(ctx context.Context, documentID string) ([]rag.Chunk, error)
	Statistics(ctx context.Context) rag.Stats
}

// ingester accepts new documents. *ingestion.Pipeline satisfies it.
type ingester interface {
	IngestFile(ctx context.Context, path, documentID string, extra map[string]string) (int, error)
	IngestText(ctx context.Context, text, documentID, source string, extra map[string]string) (int, error)
}

// baselineGenerator runs ungrounded generations for the eval comparison.
// *llm.Client satisfies it.
type baselineGenerator interface {
	Generate(ctx context.Context, prompt, system string, opts llm.Options) (string, error)
}

// Deps bundles the components the server exposes over HTTP. Engine and Rag
// may be nil when initialization failed; the affected endpoints then report
// the uninitialized state instead of panicking.
type Deps struct {
	// Engine answers questions. Nil disables /api/ask.
	Engine answerer
	// Rag serves search, deletion, and statistics. Nil disables those routes.
	Rag ragService
	// Ingest accepts new documents. Nil disables /api/documents.
	Ingest ingester
	// Generator runs baseline generations for /api/eval/baseline.
	Generator baselineGenerator
	// Metrics aggregates recorded queries for /api/metrics/queries.
	Metrics store.MetricsStore
}

// Server is the HTTP server exposing the QA engine and its administrative
// endpoints.
type Server struct {
	// deps holds the wired application components.
	deps Deps
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
}

// askRequest is the JSON body for POST /api/ask and POST /api/ask/stream.
type askRequest struct {
	// Question is the user's natural language question.
	Question string `json:"question"`
	// SessionID keys conversation history. Empty disables history.
	SessionID string `json:"session_id,omitempty"`
	// TopK overrides how many context chunks to retrieve.
	TopK int `json:"top_k,omitempty"`
	// MaxTokens caps the generated answer length.
	MaxTokens int `json:"max_tokens,omitempty"`
	// DocumentID restricts retrieval to one document.
	DocumentID string `json:"document_id,omitempty"`
}

// sourceInfo is one supporting chunk in an answer response.
type sourceInfo struct {
	DocumentID string  `json:"document_id"`
	Source     string  `json:"source"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float32 `json:"score"`
	Preview    string  `json:"preview"`
}

// askResponse is the JSON response for POST /api/ask.
type askResponse struct {
	Answer    string       `json:"answer"`
	Sources   []sourceInfo `json:"sources"`
	LatencyMS int64        `json:"latency_ms"`
}

// ingestRequest is the JSON body for POST /api/documents. Exactly one of
// Path or Text must be set.
type ingestRequest struct {
	// Path is a server-local file to ingest.
	Path string `json:"path,omitempty"`
	// Text is raw document text to ingest.
	Text string `json:"text,omitempty"`
	// DocumentID names the document. Required with Text, optional with Path.
	DocumentID string `json:"document_id,omitempty"`
	// Source labels where the text came from. Only used with Text.
	Source string `json:"source,omitempty"`
	// Metadata is attached to every chunk.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ingestResponse is the JSON response for POST /api/documents.
type ingestResponse struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
}

// searchRequest is the JSON body for POST /api/search.
type searchRequest struct {
	Query      string `json:"query"`
	TopK       int    `json:"top_k,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
}

// searchResult is one scored hit in a search response.
type searchResult struct {
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float32 `json:"score"`
	Content    string  `json:"content"`
}

// chunkInfo is one chunk in GET /api/documents/{id}/chunks.
type chunkInfo struct {
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content"`
	Source     string `json:"source"`
}

// statsResponse is the JSON response for GET /api/stats.
type statsResponse struct {
	Status      string `json:"status"`
	TotalChunks uint64 `json:"total_chunks"`
	Target      string `json:"persist_target,omitempty"`
}

// evalRequest is the JSON body for the /api/eval endpoints.
type evalRequest struct {
	Cases []evalCase `json:"cases"`
	// Questions is used by /api/eval/retrieval instead of full cases.
	Questions []string `json:"questions,omitempty"`
	TopK      int      `json:"top_k,omitempty"`
}

// evalCase mirrors eval.Case for the HTTP surface.
type evalCase struct {
	Question         string   `json:"question"`
	ExpectedKeywords []string `json:"expected_keywords"`
	GroundTruth      string   `json:"ground_truth,omitempty"`
}
