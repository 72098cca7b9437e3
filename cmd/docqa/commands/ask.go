package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/docqa-ai/docqa-go/internal/logging"
	"github.com/docqa-ai/docqa-go/internal/qa"
	"github.com/docqa-ai/docqa-go/internal/rag"
	"github.com/docqa-ai/docqa-go/internal/store"
)

// NewAskCmd constructs the `docqa ask` command, which answers a single
// question and streams the response to stdout.
func NewAskCmd() *cobra.Command {
	var topK int
	var documentID string
	var session string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question over the indexed documents",
		Long: `Ask a natural language question over the indexed document collection.

The answer is generated from the most relevant passages and streamed to
stdout as it is produced. Use --document to restrict retrieval to a single
document, and --session to keep a conversation thread across invocations.

Examples:
  docqa ask "how do I configure the retry policy?"
  docqa ask --document api-guide.md "what does the auth endpoint return?"
  docqa ask --session planning "and what about rate limits?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			components, err := buildRAG(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer components.close()

			client := buildLLM()

			historyStore, err := openHistory(log)
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v (history disabled)\n", err)
				historyStore = nil
			}
			if historyStore != nil {
				defer func() { _ = historyStore.Close() }()
			}

			var history store.ConversationStore
			var metrics store.MetricsStore
			if historyStore != nil {
				history = historyStore
				metrics = historyStore
			}

			engine, err := qa.NewEngine(components.service, client, history, metrics)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise qa engine: %w", err)
			}

			req := qa.Request{
				Question:  args[0],
				SessionID: session,
				TopK:      topK,
				MaxTokens: getEnvInt("OLLAMA_MAX_TOKENS", 0),
			}
			if documentID != "" {
				req.Filter = &rag.Filter{DocumentID: documentID}
			}

			fragments, sources, err := engine.AnswerStream(ctx, req)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			for f := range fragments {
				if f.Err != nil {
					return fmt.Errorf("ask: %w", f.Err)
				}
				fmt.Print(f.Text)
			}
			fmt.Println()

			if len(sources) > 0 {
				fmt.Println("\nSources:")
				seen := map[string]bool{}
				for _, c := range sources {
					if seen[c.DocumentID] {
						continue
					}
					seen[c.DocumentID] = true
					fmt.Printf("  - %s (%s)\n", c.DocumentID, c.Source)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of context chunks to retrieve (default from config)")
	cmd.Flags().StringVarP(&documentID, "document", "d", "", "Restrict retrieval to one document ID")
	cmd.Flags().StringVarP(&session, "session", "s", "", "Conversation session ID for follow-up questions")

	return cmd
}
