package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docqa-ai/docqa-go/internal/logging"
)

// NewDeleteCmd constructs the `docqa delete` command, which removes a
// document's chunks from the vector store.
func NewDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [document-id...]",
		Short: "Delete documents from the vector store",
		Long: `Remove every indexed chunk of the named documents.

Deletion is best-effort: unknown document IDs are reported but do not abort
the run.

Examples:
  docqa delete api-guide.md
  docqa delete handbook old-notes.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			components, err := buildRAG(ctx, log)
			if err != nil {
				return fmt.Errorf("delete: %w", err)
			}
			defer components.close()

			missing := 0
			for _, id := range args {
				if components.service.DeleteDocument(ctx, id) {
					fmt.Printf("deleted %s\n", id)
				} else {
					fmt.Printf("not found: %s\n", id)
					missing++
				}
			}
			if missing == len(args) {
				return fmt.Errorf("delete: no matching documents")
			}
			return nil
		},
	}
}
