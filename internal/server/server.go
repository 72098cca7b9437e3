// Package server implements the HTTP server that exposes the document QA
// engine via a REST/SSE API. The server is started by the `docqa serve`
// CLI command.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docqa-ai/docqa-go/internal/llm"
	"github.com/docqa-ai/docqa-go/internal/logging"
	"github.com/docqa-ai/docqa-go/internal/qa"
	"github.com/docqa-ai/docqa-go/internal/rag"
)

// previewLen bounds the chunk content preview returned with each source.
const previewLen = 200

// New constructs a Server from the provided components and config. reg is
// the Prometheus registry to register metrics into; nil creates a fresh one.
func New(deps Deps, cfg *Config, reg *prometheus.Registry) (*Server, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for streaming responses.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Server{
		deps:    deps,
		cfg:     cfg,
		log:     log,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(reg),
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stopRL

	if cfg.APIKey == "" {
		log.Warn("server: API key not set, authentication disabled")
	}

	// protect wraps a handler with rate limiting and bearer auth. Liveness,
	// readiness, and the Prometheus scrape endpoint stay public.
	protect := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(cfg.APIKey, rl.middleware(h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/ask", protect(s.handleAsk))
	mux.Handle("POST /api/ask/stream", protect(s.handleAskStream))
	mux.Handle("POST /api/documents", protect(s.handleIngest))
	mux.Handle("DELETE /api/documents/{id}", protect(s.handleDeleteDocument))
	mux.Handle("GET /api/documents/{id}/chunks", protect(s.handleDocumentChunks))
	mux.Handle("POST /api/search", protect(s.handleSearch))
	mux.Handle("GET /api/stats", protect(s.handleStats))
	mux.Handle("GET /api/metrics/queries", protect(s.handleQueryMetrics))
	mux.Handle("POST /api/eval", protect(s.handleEval))
	mux.Handle("POST /api/eval/retrieval", protect(s.handleEvalRetrieval))
	mux.Handle("POST /api/eval/baseline", protect(s.handleEvalBaseline))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, s.metrics, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the server's root handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError sends a JSON error body. Generation failures carry their
// upstream status through; everything else maps to the given status.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeAsk parses and validates the shared ask request body.
func decodeAsk(r *http.Request) (qa.Request, error) {
	var body askRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return qa.Request{}, fmt.Errorf("invalid request body")
	}
	if strings.TrimSpace(body.Question) == "" {
		return qa.Request{}, fmt.Errorf("question is required")
	}

	req := qa.Request{
		Question:  body.Question,
		SessionID: body.SessionID,
		TopK:      body.TopK,
		MaxTokens: body.MaxTokens,
	}
	if body.DocumentID != "" {
		req.Filter = &rag.Filter{DocumentID: body.DocumentID}
	}
	return req, nil
}

// sourcesInfo converts retrieved chunks into their response representation.
func sourcesInfo(chunks []rag.Chunk) []sourceInfo {
	out := make([]sourceInfo, len(chunks))
	for i, c := range chunks {
		preview := c.Content
		if len(preview) > previewLen {
			preview = preview[:previewLen]
		}
		out[i] = sourceInfo{
			DocumentID: c.DocumentID,
			Source:     c.Source,
			ChunkIndex: c.ChunkIndex,
			Score:      c.Score,
			Preview:    preview,
		}
	}
	return out
}

// handleAsk handles POST /api/ask: answer a question in one blocking call.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "qa engine not initialized")
		return
	}

	req, err := decodeAsk(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	res, err := s.deps.Engine.Answer(r.Context(), req)
	elapsed := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
	}
	s.metrics.askRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.askDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())

	if err != nil {
		var genErr *llm.GenerationError
		if errors.As(err, &genErr) {
			writeError(w, http.StatusBadGateway, genErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		Answer:    res.Answer,
		Sources:   sourcesInfo(res.Sources),
		LatencyMS: res.Latency.Milliseconds(),
	})
}

// handleAskStream handles POST /api/ask/stream. The answer is streamed via
// Server-Sent Events: a "sources" event with the supporting chunks, "data"
// frames with answer text, then "done". Errors mid-stream arrive as an
// "error" event.
func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "qa engine not initialized")
		return
	}

	req, err := decodeAsk(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	start := time.Now()
	fragments, sources, err := s.deps.Engine.AnswerStream(r.Context(), req)
	if err != nil {
		s.metrics.askRequestsTotal.WithLabelValues("error").Inc()
		var genErr *llm.GenerationError
		if errors.As(err, &genErr) {
			writeError(w, http.StatusBadGateway, genErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Set SSE headers so the client receives a streaming response.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	s.metrics.askActiveStreams.Inc()
	defer s.metrics.askActiveStreams.Dec()

	// The supporting chunks are known before the first token; send them as
	// their own event so the client can render citations immediately.
	payload, _ := json.Marshal(sourcesInfo(sources))
	fmt.Fprintf(w, "event: sources\ndata: %s\n\n", payload)
	flusher.Flush()

	sw := &sseWriter{w: w, flusher: flusher}
	outcome := "ok"

	for f := range fragments {
		if f.Err != nil {
			outcome = "error"
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", f.Err.Error())
			flusher.Flush()
			break
		}
		if f.Text != "" {
			_, _ = sw.Write([]byte(f.Text))
		}
	}

	if outcome == "ok" {
		// Signal stream completion.
		fmt.Fprintf(w, "event: done\ndata: [DONE]\n\n")
		flusher.Flush()
	}

	s.metrics.askRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.askDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sseWriter wraps an http.ResponseWriter to emit Server-Sent Event data frames.
type sseWriter struct {
	// w is the underlying response writer.
	w http.ResponseWriter

	// flusher flushes buffered data to the client after each write.
	flusher http.Flusher
}

// Write formats p as one or more SSE data lines and flushes to the client.
// Each newline in p is prefixed with "data: " so multi-line chunks never
// break the SSE frame boundary.
func (s *sseWriter) Write(p []byte) (n int, err error) {
	chunk := strings.TrimRight(string(bytes.Clone(p)), "\n")
	lines := strings.Split(chunk, "\n")
	var buf strings.Builder
	for _, line := range lines {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	if _, err = fmt.Fprint(s.w, buf.String()); err != nil {
		return 0, err
	}
	s.flusher.Flush()
	return len(p), nil
}
