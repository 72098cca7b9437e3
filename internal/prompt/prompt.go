// Package prompt assembles the grounded prompt sent to the language model.
// Composition is deterministic: the same question, context, and history
// always produce the same prompt text.
package prompt

import (
	"fmt"
	"strings"
)

// maxHistoryTurns bounds how much prior conversation is replayed into the
// prompt. Older turns are dropped, newest kept.
const maxHistoryTurns = 5

// systemPrompt instructs the model to stay grounded in retrieved context.
const systemPrompt = `You are a technical documentation assistant. Answer the question using ONLY the provided context documents.

Rules:
- Base your answer strictly on the context. Do not invent facts.
- Cite which document(s) support your answer, e.g. "According to Document 2".
- Include code examples from the context when they help.
- If the context does not contain enough information to answer, say so explicitly.`

// Turn is one prior exchange message replayed into the prompt.
type Turn struct {
	// Role is "user" or "assistant".
	Role string
	// Content is the message text.
	Content string
}

// Compose builds the user prompt and the system prompt for a question.
// Context chunks are labeled "Document 1".."Document N" in retrieval order
// so the model can cite them. History keeps only the newest
// maxHistoryTurns turns, oldest first; when empty the conversation section
// is omitted entirely.
func Compose(question string, contextChunks []string, history []Turn) (string, string) {
	var sb strings.Builder

	if len(contextChunks) > 0 {
		sb.WriteString("Context Documents:\n\n")
		for i, chunk := range contextChunks {
			fmt.Fprintf(&sb, "Document %d:\n%s\n\n", i+1, chunk)
		}
	}

	if len(history) > 0 {
		turns := history
		if len(turns) > maxHistoryTurns {
			turns = turns[len(turns)-maxHistoryTurns:]
		}
		sb.WriteString("Previous Conversation:\n")
		for _, t := range turns {
			fmt.Fprintf(&sb, "%s: %s\n", strings.ToUpper(t.Role), t.Content)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "Question: %s\n\nAnswer:", question)

	return sb.String(), systemPrompt
}
