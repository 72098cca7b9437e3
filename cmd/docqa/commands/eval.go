package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/docqa-ai/docqa-go/internal/eval"
	"github.com/docqa-ai/docqa-go/internal/logging"
	"github.com/docqa-ai/docqa-go/internal/qa"
)

// NewEvalCmd constructs the `docqa eval` command, which measures answer and
// retrieval quality over a JSON case file.
func NewEvalCmd() *cobra.Command {
	var casesPath string
	var mode string
	var topK int

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate answer quality over a set of test cases",
		Long: `Run the evaluation harness over a JSON file of test cases and print the
report as JSON.

The case file is an array of objects:
  [{"question": "...", "expected_keywords": ["...", "..."], "ground_truth": "..."}]

Modes:
  full       answer every case and score keyword coverage (default)
  retrieval  probe retrieval only, banding best-match scores
  baseline   compare grounded answers against ungrounded generation

Examples:
  docqa eval --cases testdata/cases.json
  docqa eval --cases cases.json --mode retrieval
  docqa eval --cases cases.json --mode baseline`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			data, err := os.ReadFile(casesPath)
			if err != nil {
				return fmt.Errorf("eval: read cases: %w", err)
			}
			var cases []eval.Case
			if err := json.Unmarshal(data, &cases); err != nil {
				return fmt.Errorf("eval: parse cases: %w", err)
			}
			if len(cases) == 0 {
				return fmt.Errorf("eval: %s contains no cases", casesPath)
			}

			components, err := buildRAG(ctx, log)
			if err != nil {
				return fmt.Errorf("eval: %w", err)
			}
			defer components.close()

			client := buildLLM()

			var out any
			switch mode {
			case "retrieval":
				questions := make([]string, len(cases))
				for i, c := range cases {
					questions[i] = c.Question
				}
				out, err = eval.RetrievalQuality(ctx, components.service, questions, topK)
			case "baseline":
				engine, engineErr := qa.NewEngine(components.service, client, nil, nil)
				if engineErr != nil {
					return fmt.Errorf("eval: %w", engineErr)
				}
				out, err = eval.CompareBaseline(ctx, engine, client, cases)
			case "full", "":
				engine, engineErr := qa.NewEngine(components.service, client, nil, nil)
				if engineErr != nil {
					return fmt.Errorf("eval: %w", engineErr)
				}
				out, err = eval.Run(ctx, engine, cases)
			default:
				return fmt.Errorf("eval: unknown mode %q", mode)
			}
			if err != nil {
				return fmt.Errorf("eval: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVarP(&casesPath, "cases", "c", "", "Path to the JSON case file (required)")
	cmd.Flags().StringVarP(&mode, "mode", "m", "full", "Evaluation mode: full, retrieval, baseline")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Chunks retrieved per probe in retrieval mode")
	_ = cmd.MarkFlagRequired("cases")

	return cmd
}
