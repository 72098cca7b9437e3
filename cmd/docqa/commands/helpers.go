package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/docqa-ai/docqa-go/internal/chunker"
	"github.com/docqa-ai/docqa-go/internal/embedder"
	"github.com/docqa-ai/docqa-go/internal/ingestion"
	"github.com/docqa-ai/docqa-go/internal/llm"
	"github.com/docqa-ai/docqa-go/internal/rag"
	"github.com/docqa-ai/docqa-go/internal/store"
)

// getEnvOrDefault returns the env var value or fallback when unset.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the env var parsed as int, or fallback when unset or
// unparseable.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// ragComponents bundles everything built on top of the vector index.
type ragComponents struct {
	index     *rag.QdrantIndex
	service   *rag.Service
	retriever *rag.Retriever
	pipeline  *ingestion.Pipeline
}

// close releases the index connection.
func (rc *ragComponents) close() {
	if rc.index != nil {
		_ = rc.index.Close()
	}
}

// buildRAG wires the embedder, Qdrant index, retriever, service, and
// ingestion pipeline from environment configuration.
func buildRAG(ctx context.Context, log *slog.Logger) (*ragComponents, error) {
	emb := embedder.NewOllama(&embedder.Config{
		Host:  getEnvOrDefault("OLLAMA_HOST", ""),
		Model: getEnvOrDefault("EMBEDDING_MODEL", ""),
	})

	qdrantHost := getEnvOrDefault("QDRANT_HOST", "localhost")
	qdrantPort := getEnvInt("QDRANT_PORT", 6334)
	collection := getEnvOrDefault("QDRANT_COLLECTION", "docqa-docs")
	vectorSize := uint64(getEnvInt("EMBEDDING_DIMENSIONS", embedder.DefaultDimensions)) //nolint:gosec // dimensions are bounded

	index, err := rag.NewQdrantIndex(ctx, &rag.QdrantConfig{
		Host:       qdrantHost,
		Port:       qdrantPort,
		Collection: collection,
		VectorSize: vectorSize,
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", qdrantHost, qdrantPort, err)
	}
	log.Info("qdrant index ready",
		slog.String("host", qdrantHost),
		slog.Int("port", qdrantPort),
		slog.String("collection", collection),
	)

	retriever, err := rag.NewRetriever(emb, index, getEnvInt("RETRIEVAL_TOP_K", 5))
	if err != nil {
		_ = index.Close()
		return nil, err
	}

	service, err := rag.NewService(retriever, index)
	if err != nil {
		_ = index.Close()
		return nil, err
	}

	splitter := chunker.New(getEnvInt("CHUNK_SIZE", 1000), getEnvInt("CHUNK_OVERLAP", 200))
	pipeline, err := ingestion.NewPipeline(splitter, emb, index)
	if err != nil {
		_ = index.Close()
		return nil, err
	}

	return &ragComponents{
		index:     index,
		service:   service,
		retriever: retriever,
		pipeline:  pipeline,
	}, nil
}

// buildLLM constructs the generation client from environment configuration.
func buildLLM() *llm.Client {
	return llm.NewClient(&llm.Config{
		Host:  getEnvOrDefault("OLLAMA_HOST", ""),
		Model: getEnvOrDefault("OLLAMA_MODEL", ""),
	})
}

// openHistory opens the conversation history store. DOCQA_HISTORY_DB
// overrides the default path (~/.docqa/history.db); "disabled" turns
// persistence off. A nil return with nil error means history is disabled.
func openHistory(log *slog.Logger) (*store.SQLiteStore, error) {
	dbPath := os.Getenv("DOCQA_HISTORY_DB")
	if dbPath == "disabled" {
		log.Info("history: disabled via DOCQA_HISTORY_DB=disabled")
		return nil, nil
	}
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil, nil
		}
	}
	s, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("history: failed to open store at %s: %w", dbPath, err)
	}
	log.Info("history: store opened", slog.String("path", dbPath))
	return s, nil
}
