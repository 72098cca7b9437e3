// Package qa implements the question answering engine: retrieve context,
// replay conversation history, generate a grounded answer, and record the
// outcome.
package qa

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docqa-ai/docqa-go/internal/llm"
	"github.com/docqa-ai/docqa-go/internal/logging"
	"github.com/docqa-ai/docqa-go/internal/prompt"
	"github.com/docqa-ai/docqa-go/internal/rag"
	"github.com/docqa-ai/docqa-go/internal/store"
)

// historyMessages is how many stored messages are replayed per question.
const historyMessages = 5

// Searcher retrieves context chunks for a query. rag.Service satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, k int, filter *rag.Filter) []rag.Chunk
}

// Generator produces grounded answers. llm.Client satisfies it.
type Generator interface {
	GenerateGrounded(ctx context.Context, question string, contextChunks []string, history []prompt.Turn, maxTokens int) (string, error)
	GenerateGroundedStream(ctx context.Context, question string, contextChunks []string, history []prompt.Turn, maxTokens int) (<-chan llm.Fragment, error)
}

// Request is one question to answer.
type Request struct {
	// Question is the user's question.
	Question string
	// SessionID keys conversation history. Empty disables history.
	SessionID string
	// TopK overrides how many context chunks to retrieve. Zero uses the
	// retriever default.
	TopK int
	// MaxTokens caps the generated answer length. Zero means unlimited.
	MaxTokens int
	// Filter restricts retrieval to matching chunks.
	Filter *rag.Filter
}

// Result is a completed answer with its supporting context.
type Result struct {
	// Answer is the generated text.
	Answer string
	// Sources are the context chunks the answer was grounded on, in
	// retrieval order.
	Sources []rag.Chunk
	// Latency is the end-to-end answer time.
	Latency time.Duration
}

// Engine answers questions over the indexed corpus. History and metrics
// stores are optional; a nil store disables that concern.
type Engine struct {
	searcher  Searcher
	generator Generator
	history   store.ConversationStore
	metrics   store.MetricsStore
}

// NewEngine constructs a QA engine. Searcher and generator are required.
func NewEngine(searcher Searcher, generator Generator, history store.ConversationStore, metrics store.MetricsStore) (*Engine, error) {
	if searcher == nil {
		return nil, fmt.Errorf("qa: searcher is required")
	}
	if generator == nil {
		return nil, fmt.Errorf("qa: generator is required")
	}
	return &Engine{
		searcher:  searcher,
		generator: generator,
		history:   history,
		metrics:   metrics,
	}, nil
}

// prepare retrieves context and history for a question.
func (e *Engine) prepare(ctx context.Context, req Request) ([]rag.Chunk, []prompt.Turn) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, nil
	}

	sources := e.searcher.Search(ctx, req.Question, req.TopK, req.Filter)

	var turns []prompt.Turn
	if e.history != nil && req.SessionID != "" {
		msgs, err := e.history.Recent(ctx, req.SessionID, historyMessages)
		if err != nil {
			logging.FromContext(ctx).Warn("history lookup failed, answering without it",
				slog.String("session_id", req.SessionID),
				slog.Any("error", err),
			)
		}
		for _, m := range msgs {
			turns = append(turns, prompt.Turn{Role: string(m.Role), Content: m.Content})
		}
	}
	return sources, turns
}

// persist records the exchange in history and metrics. Both are best-effort;
// an answered question is never failed over bookkeeping.
func (e *Engine) persist(ctx context.Context, req Request, answer string, numSources int, latency time.Duration, success bool) {
	// Bookkeeping must survive the request being cancelled mid-stream.
	ctx = context.WithoutCancel(ctx)
	log := logging.FromContext(ctx)

	if e.history != nil && req.SessionID != "" && success {
		if err := e.history.Append(ctx, req.SessionID, store.RoleUser, req.Question); err != nil {
			log.Warn("failed to persist question", slog.Any("error", err))
		}
		if err := e.history.Append(ctx, req.SessionID, store.RoleAssistant, answer); err != nil {
			log.Warn("failed to persist answer", slog.Any("error", err))
		}
	}

	if e.metrics != nil {
		rec := store.QueryRecord{
			Question:   req.Question,
			NumSources: numSources,
			LatencyMS:  latency.Milliseconds(),
			Success:    success,
		}
		if err := e.metrics.RecordQuery(ctx, rec); err != nil {
			log.Warn("failed to record query metrics", slog.Any("error", err))
		}
	}
}

func contents(chunks []rag.Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Content
	}
	return out
}

// Answer runs the full blocking pipeline for one question.
func (e *Engine) Answer(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("qa: question is required")
	}

	start := time.Now()
	sources, turns := e.prepare(ctx, req)

	answer, err := e.generator.GenerateGrounded(ctx, req.Question, contents(sources), turns, req.MaxTokens)
	latency := time.Since(start)

	if err != nil {
		e.persist(ctx, req, "", len(sources), latency, false)
		return nil, fmt.Errorf("qa: generate: %w", err)
	}

	e.persist(ctx, req, answer, len(sources), latency, true)
	return &Result{Answer: answer, Sources: sources, Latency: latency}, nil
}

// AnswerStream runs the streaming pipeline. Sources are returned up front;
// the answer arrives as fragments. History and metrics are recorded once the
// stream finishes.
func (e *Engine) AnswerStream(ctx context.Context, req Request) (<-chan llm.Fragment, []rag.Chunk, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, nil, fmt.Errorf("qa: question is required")
	}

	start := time.Now()
	sources, turns := e.prepare(ctx, req)

	upstream, err := e.generator.GenerateGroundedStream(ctx, req.Question, contents(sources), turns, req.MaxTokens)
	if err != nil {
		e.persist(ctx, req, "", len(sources), time.Since(start), false)
		return nil, nil, fmt.Errorf("qa: generate stream: %w", err)
	}

	out := make(chan Fragment)
	go func() {
		defer close(out)
		var sb strings.Builder
		success := false
		for f := range upstream {
			if f.Err == nil {
				sb.WriteString(f.Text)
			}
			if f.Done {
				success = true
			}
			select {
			case out <- f:
			case <-ctx.Done():
				e.persist(ctx, req, sb.String(), len(sources), time.Since(start), false)
				return
			}
		}
		e.persist(ctx, req, sb.String(), len(sources), time.Since(start), success)
	}()
	return out, sources, nil
}

// Fragment aliases the generation fragment type so HTTP handlers only
// depend on this package.
type Fragment = llm.Fragment
