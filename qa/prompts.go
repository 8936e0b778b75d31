package qa

import (
	"fmt"
	"strings"

	"courseTutor/core"
)

const answerSystem = `You are a course tutor answering questions about lecture videos.
Answer only from the numbered sources provided. Cite every claim with its source number in brackets, like [1].
If the sources do not contain the answer, say so plainly instead of guessing.`

// buildAnswerPrompt numbers the retrieved passages 1..n and appends prior
// conversation turns for follow-up questions.
func buildAnswerPrompt(query string, candidates []core.RetrievalCandidate, history []core.Message) string {
	var sb strings.Builder

	sb.WriteString("Sources:\n\n")
	for i, c := range candidates {
		fmt.Fprintf(&sb, "[%d] %s (%s - %s)\n%s\n\n",
			i+1, c.VideoTitle, core.FormatTime(c.Start), core.FormatTime(c.End), c.Text)
	}

	if len(history) > 0 {
		sb.WriteString("Conversation so far:\n")
		for _, m := range history {
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "Question: %s\n", query)
	return sb.String()
}
