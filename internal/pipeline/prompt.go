package pipeline

import (
	"fmt"
	"strings"

	"github.com/a-marczewski/ragline/internal/fusion"
)

const answerSystemPrompt = "You answer questions using only the provided context passages. " +
	"Cite every claim with the bracketed number of its supporting passage, like [1]. " +
	"If the context does not contain the answer, say so instead of guessing."

// buildPrompt assembles the generation prompt from the conversation history,
// the retrieved passages and the question. Passages are numbered so the
// answer's citations can be checked against them.
func buildPrompt(question string, history []Turn, candidates []fusion.Candidate) string {
	var b strings.Builder

	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
		}
		b.WriteString("\n")
	}

	b.WriteString("Context passages:\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, c.Text)
	}

	fmt.Fprintf(&b, "\nQuestion: %s\nAnswer:", question)
	return b.String()
}

// capHistory keeps the most recent turns, preserving order.
func capHistory(history []Turn, max int) []Turn {
	if max <= 0 || len(history) <= max {
		return history
	}
	return history[len(history)-max:]
}
