package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docqa-ai/docqa-go/internal/llm"
	"github.com/docqa-ai/docqa-go/internal/logging"
	"github.com/docqa-ai/docqa-go/internal/qa"
	"github.com/docqa-ai/docqa-go/internal/server"
	"github.com/docqa-ai/docqa-go/internal/store"
)

// NewServeCmd constructs the `docqa serve` command, which starts the HTTP
// server exposing the question answering API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docqa HTTP server",
		Long: `Start the docqa HTTP server on localhost.

The server exposes a REST/SSE API for asking questions, managing documents,
inspecting retrieval, and running evaluations. Prometheus metrics are served
on /metrics.

Examples:
  docqa serve
  docqa serve --port 9090
  OLLAMA_MODEL=mistral docqa serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting",
				slog.String("ollama_model", getEnvOrDefault("OLLAMA_MODEL", llm.DefaultModel)),
			)

			client := buildLLM()
			if !client.CheckConnection(ctx) {
				log.Warn("ollama is not reachable, generation will fail until it comes up",
					slog.String("host", getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")),
				)
			}

			// Open conversation history store. DOCQA_HISTORY_DB overrides the
			// default path (~/.docqa/history.db). Set to "disabled" to disable.
			historyStore, err := openHistory(log)
			if err != nil {
				log.Warn("history: failed to open store, disabling", slog.Any("error", err))
				historyStore = nil
			}
			if historyStore != nil {
				defer func() { _ = historyStore.Close() }()
			}

			// The index and QA engine degrade gracefully: when Qdrant is down
			// the server still starts, reports "not_initialized", and serves
			// health and readiness endpoints.
			deps := server.Deps{Generator: client}
			var pingers []server.Pinger
			pingers = append(pingers, server.NewOllamaPinger(getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")))

			components, err := buildRAG(ctx, log)
			if err != nil {
				log.Warn("retrieval unavailable, starting degraded", slog.Any("error", err))
			} else {
				defer components.close()

				var history store.ConversationStore
				var metrics store.MetricsStore
				if historyStore != nil {
					history = historyStore
					metrics = historyStore
				}

				engine, engineErr := qa.NewEngine(components.service, client, history, metrics)
				if engineErr != nil {
					return fmt.Errorf("serve: failed to initialise qa engine: %w", engineErr)
				}

				deps.Engine = engine
				deps.Rag = components.service
				deps.Ingest = components.pipeline
				deps.Metrics = metrics
				pingers = append(pingers, server.NewQdrantPinger(components.index.Client()))
			}

			srv, err := server.New(deps, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: pingers,
				APIKey:  os.Getenv("DOCQA_API_KEY"),
			}, nil)
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
