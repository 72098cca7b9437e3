// Package llm is the client for text generation against a local Ollama
// server. It exposes blocking and streaming generation plus an advisory
// connectivity probe.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/docqa-ai/docqa-go/internal/logging"
	"github.com/docqa-ai/docqa-go/internal/prompt"
)

const (
	// DefaultModel is the generation model used when none is configured.
	DefaultModel = "llama3.2"

	// defaultHost is the local Ollama endpoint.
	defaultHost = "http://localhost:11434"

	// generateTimeout bounds a full blocking generation. Local models on
	// modest hardware can take minutes for long answers.
	generateTimeout = 180 * time.Second

	// probeTimeout bounds the connectivity check.
	probeTimeout = 5 * time.Second

	// groundedTemperature keeps answers close to the retrieved context.
	groundedTemperature = 0.3
)

// GenerationError reports a non-2xx response from the generation endpoint,
// preserving the status and body for diagnosis.
type GenerationError struct {
	// Status is the HTTP status code returned.
	Status int
	// Body is the raw response body, truncated for logging safety.
	Body string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("llm: generation failed with HTTP %d: %s", e.Status, e.Body)
}

// Options tunes a single generation request. Zero values defer to the
// model's own defaults.
type Options struct {
	// Temperature controls sampling randomness. Zero means model default.
	Temperature float64
	// MaxTokens caps the number of generated tokens. Zero means unlimited.
	MaxTokens int
}

// Fragment is one piece of a streaming generation. Either Text carries a
// token batch, or Err carries a mid-stream failure. Done marks the final
// fragment of a successful stream.
type Fragment struct {
	Text string
	Done bool
	Err  error
}

// Config holds the settings for constructing a generation client.
type Config struct {
	// Host is the Ollama server base URL. Empty uses localhost:11434.
	Host string
	// Model is the generation model name. Empty uses DefaultModel.
	Model string
}

// Client talks to the Ollama /api/generate endpoint. It is safe for
// concurrent use.
type Client struct {
	host  string
	model string

	// client serves blocking generations with a hard timeout.
	client *http.Client
	// streamClient serves streaming generations; the context bounds them
	// instead of a client timeout, which would sever long streams.
	streamClient *http.Client

	// connected caches the last probe outcome. Advisory only.
	connected atomic.Bool
}

// NewClient constructs a generation client from the given config.
func NewClient(cfg *Config) *Client {
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
	return &Client{
		host:         host,
		model:        model,
		client:       &http.Client{Timeout: generateTimeout},
		streamClient: &http.Client{},
	}
}

// Model returns the configured generation model name.
func (c *Client) Model() string { return c.model }

// generateRequest is the JSON body sent to the Ollama /api/generate endpoint.
type generateRequest struct {
	Model   string           `json:"model"`
	Prompt  string           `json:"prompt"`
	System  string           `json:"system,omitempty"`
	Stream  bool             `json:"stream"`
	Options *generateOptions `json:"options,omitempty"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// generateResponse is one JSON object from the generation endpoint. In
// blocking mode it is the whole response; in streaming mode one NDJSON line.
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func toOptions(opts Options) *generateOptions {
	if opts.Temperature == 0 && opts.MaxTokens == 0 {
		return nil
	}
	return &generateOptions{
		Temperature: opts.Temperature,
		NumPredict:  opts.MaxTokens,
	}
}

// Generate runs a blocking generation and returns the full answer text.
func (c *Client) Generate(ctx context.Context, promptText, system string, opts Options) (string, error) {
	body := generateRequest{
		Model:   c.model,
		Prompt:  promptText,
		System:  system,
		Stream:  false,
		Options: toOptions(opts),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &GenerationError{Status: resp.StatusCode, Body: string(raw)}
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("llm: %s", result.Error)
	}
	return result.Response, nil
}

// GenerateStream runs a streaming generation and returns a channel of
// fragments. The channel is closed after the final fragment. Malformed
// NDJSON lines are skipped with a warning; a server-reported error arrives
// as a fragment with Err set. Cancel the context to abandon the stream.
func (c *Client) GenerateStream(ctx context.Context, promptText, system string, opts Options) (<-chan Fragment, error) {
	body := generateRequest{
		Model:   c.model,
		Prompt:  promptText,
		System:  system,
		Stream:  true,
		Options: toOptions(opts),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &GenerationError{Status: resp.StatusCode, Body: string(raw)}
	}

	out := make(chan Fragment)
	go c.readStream(ctx, resp.Body, out)
	return out, nil
}

// readStream decodes NDJSON lines from the response body into fragments
// until done, a server error, or context cancellation.
func (c *Client) readStream(ctx context.Context, body io.ReadCloser, out chan<- Fragment) {
	defer close(out)
	defer body.Close()

	log := logging.FromContext(ctx)
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk generateResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			log.Warn("skipping malformed stream fragment", slog.Any("error", err))
			continue
		}

		if chunk.Error != "" {
			c.emit(ctx, out, Fragment{Err: fmt.Errorf("llm: %s", chunk.Error)})
			return
		}
		if chunk.Response != "" {
			if !c.emit(ctx, out, Fragment{Text: chunk.Response}) {
				return
			}
		}
		if chunk.Done {
			c.emit(ctx, out, Fragment{Done: true})
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		c.emit(ctx, out, Fragment{Err: fmt.Errorf("llm: stream read: %w", err)})
	}
}

// emit sends a fragment unless the context is already cancelled. Returns
// false when the consumer is gone.
func (c *Client) emit(ctx context.Context, out chan<- Fragment, f Fragment) bool {
	select {
	case out <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

// GenerateGrounded composes a grounded prompt from the question, context
// chunks, and history, then runs a blocking generation at the grounded
// temperature.
func (c *Client) GenerateGrounded(ctx context.Context, question string, contextChunks []string, history []prompt.Turn, maxTokens int) (string, error) {
	p, system := prompt.Compose(question, contextChunks, history)
	return c.Generate(ctx, p, system, Options{
		Temperature: groundedTemperature,
		MaxTokens:   maxTokens,
	})
}

// GenerateGroundedStream is the streaming variant of GenerateGrounded.
func (c *Client) GenerateGroundedStream(ctx context.Context, question string, contextChunks []string, history []prompt.Turn, maxTokens int) (<-chan Fragment, error) {
	p, system := prompt.Compose(question, contextChunks, history)
	return c.GenerateStream(ctx, p, system, Options{
		Temperature: groundedTemperature,
		MaxTokens:   maxTokens,
	})
}

// CheckConnection probes the Ollama server and caches the outcome. It never
// returns an error: connectivity is advisory, generation calls surface their
// own failures.
func (c *Client) CheckConnection(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.host+"/api/tags", nil)
	if err != nil {
		c.connected.Store(false)
		return false
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		c.connected.Store(false)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	c.connected.Store(ok)
	return ok
}

// IsConnected reports the last cached probe outcome.
func (c *Client) IsConnected() bool { return c.connected.Load() }
