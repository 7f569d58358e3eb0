package rag

import (
	"context"
	"fmt"

	"github.com/valyala/bytebufferpool"

	"github.com/knowledge-agent-core/internal/llm"
	"github.com/knowledge-agent-core/internal/vectorindex"
)

// renderAnswerPrompt builds the final synthesis prompt. Context
// passages are joined with single spaces; an empty context still
// renders so the model can say the information is missing.
func renderAnswerPrompt(query string, passages []Passage) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.WriteString("Given the following context and question, provide a comprehensive answer based solely on the provided context. If the context doesn't contain relevant information, say so.\n\nContext:\n")
	for i, p := range passages {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(p.Text)
	}
	buf.WriteString("\n\nQuestion:\n")
	buf.WriteString(query)
	buf.WriteString("\n\nAnswer:")

	return buf.String()
}

// synthesize makes the single answer-generation call shared by every
// strategy.
func synthesize(ctx context.Context, client llm.Client, query string, passages []Passage) (string, error) {
	answer, err := client.Complete(ctx, llm.Request{
		Prompt: renderAnswerPrompt(query, passages),
	})
	if err != nil {
		return "", fmt.Errorf("failed to synthesize answer: %w", err)
	}
	return answer, nil
}

func toPassages(points []vectorindex.ScoredPoint) []Passage {
	passages := make([]Passage, len(points))
	for i, p := range points {
		passages[i] = Passage{
			Text:       p.Payload.Text,
			Score:      p.Score,
			DocumentID: p.Payload.DocumentID,
		}
	}
	return passages
}
