// Package embedder implements rag.Embedder over the Ollama /api/embed
// endpoint. Embeddings are deterministic for a fixed model version, so the
// same text always lands on the same point in vector space.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Default embedding settings for a local Ollama instance.
const (
	// DefaultModel is the embedding model used when none is configured.
	DefaultModel = "nomic-embed-text"

	// DefaultDimensions is the output dimension of nomic-embed-text.
	// Other models may differ; override via config.
	DefaultDimensions = 768

	// defaultHost is the local Ollama endpoint.
	defaultHost = "http://localhost:11434"

	// embedTimeout bounds a single batch embed call.
	embedTimeout = 60 * time.Second
)

// Ollama implements rag.Embedder using the Ollama /api/embed endpoint.
// It is safe for concurrent use. No API key is required; Ollama runs
// locally.
type Ollama struct {
	// host is the Ollama server base URL (e.g. "http://localhost:11434").
	host string
	// model is the embedding model name (e.g. "nomic-embed-text").
	model string
	// client is the shared HTTP client with a sensible timeout.
	client *http.Client
}

// Config holds the settings for constructing an Ollama embedder.
type Config struct {
	// Host is the Ollama server base URL. Empty uses localhost:11434.
	Host string
	// Model is the embedding model name. Empty uses DefaultModel.
	Model string
}

// NewOllama constructs an Ollama embedder from the given config.
func NewOllama(cfg *Config) *Ollama {
	if cfg == nil {
		cfg = &Config{}
	}
	host := cfg.Host
	if host == "" {
		host = defaultHost
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Ollama{
		host:   host,
		model:  model,
		client: &http.Client{Timeout: embedTimeout},
	}
}

// embedRequest is the JSON body sent to the Ollama /api/embed endpoint.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the JSON body returned from the Ollama /api/embed endpoint.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed converts a batch of texts into their corresponding embeddings.
// The returned slice is parallel to the input slice.
func (e *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body := embedRequest{
		Model: e.model,
		Input: texts,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("embedder: marshal request: %w", err)
	}

	url := e.host + "/api/embed"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("embedder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedder: request failed: %w", err)
	}
	defer resp.Body.Close()

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embedder: decode response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if result.Error != "" {
			msg = result.Error
		}
		return nil, fmt.Errorf("embedder: %s", msg)
	}

	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedder: expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}

	return result.Embeddings, nil
}
