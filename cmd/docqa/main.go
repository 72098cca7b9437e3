// Command docqa is the entry point for the document QA service.
// It provides a CLI interface (via Cobra) and an HTTP server exposing the
// question answering API.
package main

import (
	"fmt"
	"os"

	"github.com/docqa-ai/docqa-go/cmd/docqa/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
