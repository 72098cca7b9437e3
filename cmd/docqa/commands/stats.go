package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docqa-ai/docqa-go/internal/logging"
)

// NewStatsCmd constructs the `docqa stats` command, which prints a snapshot
// of the vector index.
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show vector index statistics",
		Long: `Print the number of indexed chunks and where the index persists.

Examples:
  docqa stats`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			components, err := buildRAG(ctx, log)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer components.close()

			stats := components.service.Statistics(ctx)
			fmt.Printf("chunks:  %d\n", stats.TotalChunks)
			fmt.Printf("backend: %s\n", stats.Target)
			return nil
		},
	}
}
