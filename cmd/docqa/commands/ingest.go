package commands

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docqa-ai/docqa-go/internal/ingestion"
	"github.com/docqa-ai/docqa-go/internal/logging"
)

// NewIngestCmd constructs the `docqa ingest` command, which indexes
// document files into the vector store.
func NewIngestCmd() *cobra.Command {
	var documentID string
	var metadata []string

	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Ingest document files into the vector store",
		Long: `Chunk, embed, and index document files into the Qdrant vector store.

Supported formats: ` + strings.Join(ingestion.SupportedExtensions(), ", ") + `

Each file becomes one document, identified by its base name unless
--document-id is given (only valid with a single file). Re-ingesting a
document replaces its previous chunks entirely.

Required environment variables:
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: docqa-docs)
  OLLAMA_HOST          Ollama endpoint (default: http://localhost:11434)
  EMBEDDING_MODEL      Embedding model (default: nomic-embed-text)

Examples:
  docqa ingest docs/api-guide.md
  docqa ingest --document-id handbook manuals/handbook.pdf
  docqa ingest --meta team=platform --meta version=2 docs/*.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if documentID != "" && len(args) > 1 {
				return fmt.Errorf("ingest: --document-id is only valid with a single file")
			}

			extra, err := parseMetadata(metadata)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			components, err := buildRAG(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer components.close()

			total := 0
			for _, path := range args {
				n, err := components.pipeline.IngestFile(ctx, path, documentID, extra)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				log.Info("file ingested", slog.String("path", path), slog.Int("chunks", n))
				total += n
			}

			log.Info("ingestion complete", slog.Int("files", len(args)), slog.Int("chunks", total))
			return nil
		},
	}

	cmd.Flags().StringVarP(&documentID, "document-id", "d", "", "Document ID override (single file only)")
	cmd.Flags().StringArrayVarP(&metadata, "meta", "m", nil, "Metadata attached to every chunk, as key=value (repeatable)")

	return cmd
}

// parseMetadata converts repeated key=value flags into a map.
func parseMetadata(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata %q, want key=value", p)
		}
		out[k] = v
	}
	return out, nil
}
